package selector

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSelector matches every *ParseError.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrUnsupportedUnit is returned for percent: media fragments.
	ErrUnsupportedUnit = errors.New("unsupported fragment unit")
	// ErrEmptyRegion is returned when a selector covers no area.
	ErrEmptyRegion = errors.New("selector covers an empty region")
)

// ParseError describes a selector that could not be parsed.
type ParseError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	in := e.Input
	if len(in) > 80 {
		in = in[:77] + "..."
	}
	msg := fmt.Sprintf("invalid selector %q: %s", in, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes every ParseError match ErrInvalidSelector.
func (e *ParseError) Is(target error) bool { return target == ErrInvalidSelector }

func parseErr(input, reason string, err error) error {
	return &ParseError{Input: input, Reason: reason, Err: err}
}
