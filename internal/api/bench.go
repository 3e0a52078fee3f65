package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/benchtop-core/internal/bench"
	"github.com/nerrad567/benchtop-core/internal/instrument"
	"github.com/nerrad567/benchtop-core/internal/waveform"
)

// benchRequestTimeout bounds one bench request, including its time queued
// behind other requests.
const benchRequestTimeout = 30 * time.Second

// commandsRequest is the body of POST /commands.
type commandsRequest struct {
	Commands []instrument.Command `json:"commands"`
}

// commandsResponse reports how far a command request got. Requests are not
// atomic, so a failed request still lists the commands that completed.
type commandsResponse struct {
	ID        string        `json:"id"`
	Completed int           `json:"completed"`
	Replies   []bench.Reply `json:"replies,omitempty"`
	Error     *Error        `json:"error,omitempty"`
}

// generatorRequest is the body of POST /generator. Missing fields keep the
// power-on defaults; output_on defaults to true.
type generatorRequest struct {
	waveform.Params
	OutputOn *bool `json:"output_on"`
}

// supplyVoltageRequest is the body of POST /supply/voltage.
type supplyVoltageRequest struct {
	Voltage *float64 `json:"voltage"`
}

func benchContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), benchRequestTimeout)
}

// decodeBody decodes the JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// handleCommands executes raw role/verb commands as one request.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	var req commandsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := benchContext(r)
	defer cancel()

	res, err := s.controller.Execute(ctx, req.Commands)
	resp := commandsResponse{Completed: res.Completed, Replies: res.Replies}
	if res.ID != uuid.Nil {
		resp.ID = res.ID.String()
	}
	if err != nil {
		status, code := classifyError(err)
		resp.Error = &Error{Status: status, Code: code, Message: err.Error()}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleIdentify returns every instrument's *IDN? string.
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := benchContext(r)
	defer cancel()

	ids, err := s.controller.Identify(ctx)
	if err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": ids})
}

// handleGenerator applies generator settings and returns the new preview.
func (s *Server) handleGenerator(w http.ResponseWriter, r *http.Request) {
	req := generatorRequest{Params: waveform.Default()}
	if !decodeBody(w, r, &req) {
		return
	}
	on := true
	if req.OutputOn != nil {
		on = *req.OutputOn
	}

	ctx, cancel := benchContext(r)
	defer cancel()

	preview, err := s.controller.ApplyGenerator(ctx, req.Params, on)
	if err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleSupplyVoltage writes a new supply setpoint.
func (s *Server) handleSupplyVoltage(w http.ResponseWriter, r *http.Request) {
	var req supplyVoltageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Voltage == nil {
		writeBadRequest(w, "voltage is required")
		return
	}

	ctx, cancel := benchContext(r)
	defer cancel()

	if err := s.controller.SetSupplyVoltage(ctx, *req.Voltage); err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voltage": *req.Voltage})
}

// handleScopeAction runs a one-shot scope action named in the path.
func (s *Server) handleScopeAction(w http.ResponseWriter, r *http.Request) {
	action := bench.ScopeAction(chi.URLParam(r, "action"))

	ctx, cancel := benchContext(r)
	defer cancel()

	if err := s.controller.Scope(ctx, action); err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"action": action})
}

// handleScopeChannel applies the channel 1 vertical settings.
func (s *Server) handleScopeChannel(w http.ResponseWriter, r *http.Request) {
	var req bench.ChannelSettings
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := benchContext(r)
	defer cancel()

	if err := s.controller.ScopeChannel(ctx, req); err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleScopeHorizontal applies the timebase settings.
func (s *Server) handleScopeHorizontal(w http.ResponseWriter, r *http.Request) {
	var req bench.HorizontalSettings
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := benchContext(r)
	defer cancel()

	if err := s.controller.ScopeHorizontal(ctx, req); err != nil {
		writeBenchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}
