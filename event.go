package udsprobe

import (
	"errors"
	"fmt"
)

// EventType is the severity of an adapter Event.
type EventType int

const (
	EventTypeError EventType = iota
	EventTypeWarning
	EventTypeInfo
	EventTypeDebug
)

var eventTypeNames = [...]string{"ERROR", "WARN", "INFO", "DEBUG"}

func (et EventType) String() string {
	if et < 0 || int(et) >= len(eventTypeNames) {
		return "UNKNOWN"
	}
	return eventTypeNames[et]
}

// Event is a non-fatal notice from an adapter: a dropped or undecodable
// frame, a command the interface rejected, a failed write. Fatal link
// failures go to the adapter's Err channel instead.
type Event struct {
	Adapter string
	Type    EventType
	Details string
	// Err is set on error events.
	Err error
}

func (e Event) String() string {
	return fmt.Sprintf("%s [%s] %s", e.Adapter, e.Type, e.Details)
}

// Dropped reports whether a received frame was lost because the receive
// buffer was full. Responses in the same window may be incomplete.
func (e Event) Dropped() bool {
	return errors.Is(e.Err, ErrDroppedFrame)
}
