package instrument

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var errEmptyReply = errors.New("empty reply")

// ParseNumber extracts the numeric value from an instrument reply.
//
// Supplies echo the parameter name ("V1 5.000"), meters answer in
// scientific notation ("+5.00120000E+00") and some models append a unit
// ("5.001V"). The last whitespace-separated token is parsed after any
// trailing unit letters are removed. Non-finite values are rejected.
func ParseNumber(raw string) (float64, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, errEmptyReply
	}
	tok := fields[len(fields)-1]

	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		trimmed := strings.TrimRightFunc(tok, func(r rune) bool {
			return unicode.IsLetter(r) || r == '%'
		})
		if trimmed == "" || trimmed == tok {
			return 0, err
		}
		if f, err = strconv.ParseFloat(trimmed, 64); err != nil {
			return 0, err
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, strconv.ErrRange
	}
	return f, nil
}
