package bench

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/waveform"
)

// MessageType selects the operation a Message requests.
type MessageType string

// Message types.
const (
	MessageCommands      MessageType = "commands"
	MessageSupplyVoltage MessageType = "supply_voltage"
	MessageGenerator     MessageType = "generator"
	MessageScope         MessageType = "scope"
	MessageIdentify      MessageType = "identify"
)

// ErrInvalidMessage is returned for a message that is missing the fields
// its type needs.
var ErrInvalidMessage = errors.New("bench: invalid message")

// Message is a remote request, as received on the command topic.
//
//	{"id":"...","type":"supply_voltage","voltage":7.5}
//	{"type":"generator","generator":{"shape":"SINE","frequency_hz":2000,...},"output_on":true}
//	{"type":"commands","commands":[{"role":"meter","verb":"read"}]}
type Message struct {
	ID        string               `json:"id,omitempty"`
	Type      MessageType          `json:"type"`
	Commands  []instrument.Command `json:"commands,omitempty"`
	Voltage   *float64             `json:"voltage,omitempty"`
	Generator *waveform.Params     `json:"generator,omitempty"`
	OutputOn  *bool                `json:"output_on,omitempty"`
	Scope     ScopeAction          `json:"scope,omitempty"`
}

// maxTopicID is the longest caller id used as an ack topic level.
const maxTopicID = 64

// Ack reports the outcome of a Message. ID echoes the caller's id;
// RequestID names the ack topic and is the caller's id only when that id
// is a valid single topic level.
type Ack struct {
	ID        string                     `json:"id"`
	RequestID string                     `json:"request_id"`
	OK        bool                       `json:"ok"`
	Completed int                        `json:"completed,omitempty"`
	Replies   []Reply                    `json:"replies,omitempty"`
	Identity  map[instrument.Role]string `json:"identity,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// Handle executes msg and returns its acknowledgement. A message without
// an id is given a new one.
func (c *Controller) Handle(ctx context.Context, msg Message) Ack {
	id, parsed := requestID(msg.ID)
	ack := Ack{ID: msg.ID, RequestID: id.String()}
	if ack.ID == "" {
		ack.ID = ack.RequestID
	} else if topicLevel(msg.ID) {
		ack.RequestID = msg.ID
	}

	var err error
	switch msg.Type {
	case MessageCommands:
		var cmds []instrument.Command
		cmds, err = normaliseCommands(msg.Commands)
		if err == nil {
			var res Result
			if parsed {
				res, err = c.dispatcher.SubmitID(ctx, id, cmds...)
			} else {
				res, err = c.dispatcher.Submit(ctx, cmds...)
			}
			ack.Completed = res.Completed
			ack.Replies = res.Replies
		}
	case MessageSupplyVoltage:
		if msg.Voltage == nil {
			err = fmt.Errorf("%w: voltage is required", ErrInvalidMessage)
			break
		}
		err = c.SetSupplyVoltage(ctx, *msg.Voltage)
	case MessageGenerator:
		if msg.Generator == nil {
			err = fmt.Errorf("%w: generator is required", ErrInvalidMessage)
			break
		}
		on := true
		if msg.OutputOn != nil {
			on = *msg.OutputOn
		}
		_, err = c.ApplyGenerator(ctx, *msg.Generator, on)
	case MessageScope:
		err = c.Scope(ctx, msg.Scope)
	case MessageIdentify:
		ack.Identity, err = c.Identify(ctx)
	default:
		err = fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}

	if err != nil {
		ack.Error = err.Error()
		return ack
	}
	ack.OK = true
	return ack
}

func requestID(s string) (uuid.UUID, bool) {
	if s != "" {
		if id, err := uuid.Parse(s); err == nil {
			return id, true
		}
	}
	return uuid.New(), false
}

// topicLevel reports whether s can stand as one MQTT topic level: no
// separators, no wildcards, no NUL, and short.
func topicLevel(s string) bool {
	return s != "" && len(s) <= maxTopicID && !strings.ContainsAny(s, "/+#\x00")
}

// normaliseCommands resolves role aliases and rejects commands the
// dialect cannot format, before anything is queued.
func normaliseCommands(in []instrument.Command) ([]instrument.Command, error) {
	if len(in) == 0 {
		return nil, ErrEmptyRequest
	}
	out := make([]instrument.Command, len(in))
	for i, c := range in {
		role, err := instrument.ParseRole(string(c.Role))
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		c.Role = role
		if _, _, err := instrument.DefaultDialect.Format(c); err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}
