package udsprobe

import (
	"errors"
	"fmt"
)

var (
	ErrDroppedFrame   = errors.New("adapter incoming channel full")
	ErrSendTimeout    = errors.New("timeout sending frame")
	ErrAdapterClosed  = errors.New("adapter closed")
	ErrUnknownCANRate = errors.New("unknown CAN rate")
	ErrNoPort         = errors.New("no serial port selected")
)

// LinkError is a failure of the underlying CAN link (port, socket, driver).
type LinkError struct {
	Adapter string
	Op      string
	Err     error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Adapter, e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
