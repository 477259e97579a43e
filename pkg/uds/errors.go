package uds

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyRequest   = errors.New("empty request")
	ErrSessionStarted = errors.New("security access session already used")
	ErrNoResponse     = errors.New("no response received")
)

// NegativeResponseError reports a 7F reply for callers that need the
// service to succeed.
type NegativeResponseError struct {
	SID byte
	NRC byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("%s rejected: %s", TranslateServiceID(e.SID), TranslateNRC(e.NRC))
}

// RangeError is returned when a value does not fit the byte width it is to
// be encoded in.
type RangeError struct {
	Field string
	Value uint64
	Width int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s 0x%X does not fit in %d byte(s)", e.Field, e.Value, e.Width)
}

// InputError is a malformed or out of range caller supplied value.
type InputError struct {
	Input  string
	Reason string
}

func (e *InputError) Error() string {
	if e.Input == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %q: %s", e.Input, e.Reason)
}

// TransportError wraps a failure of the underlying send/receive layer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
