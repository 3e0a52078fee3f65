package instrument

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Verb names an operation in an instrument's command set.
type Verb string

// Verbs understood by every role.
const (
	VerbReset    Verb = "reset"
	VerbIdentify Verb = "identify"
)

// Power supply verbs.
const (
	VerbSetVoltage      Verb = "set_voltage"
	VerbSetCurrentLimit Verb = "set_current_limit"
	VerbOutput          Verb = "output"
	VerbReadVoltage     Verb = "read_voltage"
	VerbReadCurrent     Verb = "read_current"
)

// Meter verbs.
const (
	VerbConfigureDCVoltage Verb = "configure_dc_voltage"
	VerbRead               Verb = "read"
	VerbFunction           Verb = "function"
)

// Generator verbs.
const (
	VerbShape       Verb = "shape"
	VerbFrequency   Verb = "frequency"
	VerbVoltageUnit Verb = "voltage_unit"
	VerbHighLevel   Verb = "high_level"
	VerbLowLevel    Verb = "low_level"
	VerbDutyCycle   Verb = "duty_cycle"
	VerbPhase       Verb = "phase"
	// VerbOutput is shared with the power supply.
)

// Scope verbs.
const (
	VerbAutoset            Verb = "autoset"
	VerbAcquire            Verb = "acquire"
	VerbStopAfter          Verb = "stop_after"
	VerbChannelDisplay     Verb = "channel_display"
	VerbChannelScale       Verb = "channel_scale"
	VerbChannelPosition    Verb = "channel_position"
	VerbHorizontalPosition Verb = "horizontal_position"
	VerbHorizontalScale    Verb = "horizontal_scale"
	VerbDataEncoding       Verb = "data_encoding"
	VerbDataWidth          Verb = "data_width"
	VerbImageFormat        Verb = "image_format"
	VerbSaveImage          Verb = "save_image"
	VerbMeasurement        Verb = "measurement"
)

// Command is a transient request addressed to one role.
type Command struct {
	Role Role  `json:"role"`
	Verb Verb  `json:"verb"`
	Args []any `json:"args,omitempty"`
}

// String returns the command in role/verb form for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return fmt.Sprintf("%s/%s", c.Role, c.Verb)
	}
	return fmt.Sprintf("%s/%s%v", c.Role, c.Verb, c.Args)
}

// argKind controls how one argument is validated and rendered.
type argKind int

const (
	argVolts    argKind = iota // 3 decimals
	argHertz                   // 3 decimals
	argDegrees                 // 3 decimals
	argPosition                // 2 decimals (divisions)
	argNumber                  // shortest exact form
	argInt                     // integer
	argOnOff                   // ON / OFF
	argBinary                  // 1 / 0
	argWord                    // bare mnemonic
	argQuoted                  // double-quoted string
)

// verbSpec is one entry of a dialect.
type verbSpec struct {
	format string // fmt layout taking rendered args as strings
	args   []argKind
	query  bool
}

// Dialect maps a role's verbs onto wire commands.
type Dialect map[Role]map[Verb]verbSpec

// DefaultDialect covers the bench models: a TTi/XDL-style supply, a
// Keysight 3446x meter, a Keysight 33500 generator and a Tektronix TBS
// scope.
var DefaultDialect = Dialect{
	PowerSupply: {
		VerbReset:           {format: "*RST"},
		VerbIdentify:        {format: "*IDN?", query: true},
		VerbSetVoltage:      {format: "V1 %s", args: []argKind{argVolts}},
		VerbSetCurrentLimit: {format: "I1 %s", args: []argKind{argNumber}},
		VerbOutput:          {format: "OP1 %s", args: []argKind{argBinary}},
		VerbReadVoltage:     {format: "V1?", query: true},
		VerbReadCurrent:     {format: "I1O?", query: true},
	},
	Meter: {
		VerbReset:              {format: "*RST"},
		VerbIdentify:           {format: "*IDN?", query: true},
		VerbConfigureDCVoltage: {format: "CONF:VOLT:DC %s", args: []argKind{argNumber}},
		VerbRead:               {format: "READ?", query: true},
		VerbFunction:           {format: "FUNC?", query: true},
	},
	Generator: {
		VerbReset:       {format: "*RST"},
		VerbIdentify:    {format: "*IDN?", query: true},
		VerbShape:       {format: "FUNC %s", args: []argKind{argWord}},
		VerbFrequency:   {format: "FREQ %s", args: []argKind{argHertz}},
		VerbVoltageUnit: {format: "UNIT:VOLT %s", args: []argKind{argWord}},
		VerbHighLevel:   {format: "VOLT:HIGH %s", args: []argKind{argVolts}},
		VerbLowLevel:    {format: "VOLT:LOW %s", args: []argKind{argVolts}},
		VerbDutyCycle:   {format: "FUNC:SQU:DCYC %s", args: []argKind{argNumber}},
		VerbPhase:       {format: "PHAS %s", args: []argKind{argDegrees}},
		VerbOutput:      {format: "OUTP1 %s", args: []argKind{argOnOff}},
	},
	Scope: {
		VerbReset:              {format: "*RST"},
		VerbIdentify:           {format: "*IDN?", query: true},
		VerbAutoset:            {format: "AUTOSet EXECute"},
		VerbAcquire:            {format: "ACQuire:STATE %s", args: []argKind{argWord}},
		VerbStopAfter:          {format: "ACQuire:STOPAfter %s", args: []argKind{argWord}},
		VerbChannelDisplay:     {format: "SELect:CH1 %s", args: []argKind{argOnOff}},
		VerbChannelScale:       {format: "CH1:SCAle %s", args: []argKind{argNumber}},
		VerbChannelPosition:    {format: "CH1:POSition %s", args: []argKind{argPosition}},
		VerbHorizontalPosition: {format: "HORizontal:POSition %s", args: []argKind{argPosition}},
		VerbHorizontalScale:    {format: "HORizontal:SCAle %s", args: []argKind{argNumber}},
		VerbDataEncoding:       {format: "DATa:ENCdg %s", args: []argKind{argWord}},
		VerbDataWidth:          {format: "DATa:WIDth %s", args: []argKind{argInt}},
		VerbImageFormat:        {format: "SAVe:IMAGe:FILEFormat %s", args: []argKind{argWord}},
		VerbSaveImage:          {format: "SAVe:IMAGe %s", args: []argKind{argQuoted}},
		VerbMeasurement:        {format: "MEASUrement:MEAS%s:VALue?", args: []argKind{argInt}, query: true},
	},
}

// Format renders cmd in the dialect of its role.
//
// Returns the wire string and whether the command expects a reply, or
// ErrUnknownRole / ErrInvalidCommand.
func (d Dialect) Format(cmd Command) (wire string, query bool, err error) {
	verbs, ok := d[cmd.Role]
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownRole, cmd.Role)
	}
	vs, ok := verbs[cmd.Verb]
	if !ok {
		return "", false, fmt.Errorf("%w: %s has no verb %q", ErrInvalidCommand, cmd.Role, cmd.Verb)
	}
	if len(cmd.Args) != len(vs.args) {
		return "", false, fmt.Errorf("%w: %s/%s takes %d args, got %d",
			ErrInvalidCommand, cmd.Role, cmd.Verb, len(vs.args), len(cmd.Args))
	}

	rendered := make([]any, len(vs.args))
	for i, kind := range vs.args {
		s, err := renderArg(kind, cmd.Args[i])
		if err != nil {
			return "", false, fmt.Errorf("%w: %s/%s arg %d: %v", ErrInvalidCommand, cmd.Role, cmd.Verb, i, err)
		}
		rendered[i] = s
	}
	return fmt.Sprintf(vs.format, rendered...), vs.query, nil
}

// IsQuery reports whether the verb produces a reply. Unknown verbs report
// false.
func (d Dialect) IsQuery(role Role, verb Verb) bool {
	return d[role][verb].query
}

func renderArg(kind argKind, v any) (string, error) {
	switch kind {
	case argVolts, argHertz, argDegrees:
		f, err := toFloat(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', 3, 64), nil
	case argPosition:
		f, err := toFloat(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', 2, 64), nil
	case argNumber:
		f, err := toFloat(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case argInt:
		f, err := toFloat(v)
		if err != nil {
			return "", err
		}
		if f != math.Trunc(f) {
			return "", fmt.Errorf("%v is not an integer", v)
		}
		return strconv.FormatInt(int64(f), 10), nil
	case argOnOff:
		on, err := toBool(v)
		if err != nil {
			return "", err
		}
		if on {
			return "ON", nil
		}
		return "OFF", nil
	case argBinary:
		on, err := toBool(v)
		if err != nil {
			return "", err
		}
		if on {
			return "1", nil
		}
		return "0", nil
	case argWord:
		s, ok := v.(string)
		if !ok || !isWord(s) {
			return "", fmt.Errorf("%v is not a mnemonic", v)
		}
		return s, nil
	case argQuoted:
		s, ok := v.(string)
		if !ok || s == "" || strings.ContainsAny(s, "\"\r\n") {
			return "", fmt.Errorf("%v is not a quotable string", v)
		}
		return `"` + s + `"`, nil
	}
	return "", fmt.Errorf("unsupported argument kind %d", kind)
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%v (%T) is not a number", v, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not finite", v)
	}
	return f, nil
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(b)) {
		case "ON", "1", "TRUE":
			return true, nil
		case "OFF", "0", "FALSE":
			return false, nil
		}
	default:
		if f, err := toFloat(v); err == nil {
			if f == 1 {
				return true, nil
			}
			if f == 0 {
				return false, nil
			}
		}
	}
	return false, fmt.Errorf("%v is not a switch state", v)
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ':', r == '_':
		default:
			return false
		}
	}
	return true
}
