package udsprobe

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// Stats counts frames moved by an adapter since it was created.
type Stats struct {
	Sent     uint64
	Received uint64
	Dropped  uint64
	Errors   uint64
}

func (s Stats) String() string {
	return fmt.Sprintf("tx %d | rx %d | dropped %d | errors %d", s.Sent, s.Received, s.Dropped, s.Errors)
}

// BaseAdapter carries the channels and bookkeeping shared by every adapter.
type BaseAdapter struct {
	name               string
	cfg                *AdapterConfig
	sendChan, recvChan chan *CANFrame

	errOnce sync.Once
	errChan chan error

	evtChan chan Event

	closeOnce sync.Once
	closeChan chan struct{}

	sent, received, dropped, errors atomic.Uint64
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) { log.Println(msg) }
	}
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		sendChan:  make(chan *CANFrame, 40),
		recvChan:  make(chan *CANFrame, 1024),
		errChan:   make(chan error, 1),
		evtChan:   make(chan Event, 100),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Return the send channel for the adapter
func (base *BaseAdapter) Send() chan<- *CANFrame {
	return base.sendChan
}

// Return the receive channel for the adapter
func (base *BaseAdapter) Recv() <-chan *CANFrame {
	return base.recvChan
}

// Return the error channel for the adapter
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) Event() <-chan Event {
	return base.evtChan
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
	})
}

// Fatal sets a fatal adapter error, meaning communication is broken and cannot continue.
func (base *BaseAdapter) Fatal(err error) {
	base.errOnce.Do(func() {
		select {
		case base.errChan <- err:
		default:
			log.Printf("%s: error channel full: %v", base.name, err)
		}
	})
}

// deliver hands an incoming frame to the receiver, reporting a drop when the
// receive buffer is full.
func (base *BaseAdapter) deliver(frame *CANFrame) {
	if !base.cfg.accepts(frame.Identifier) {
		return
	}
	select {
	case base.recvChan <- frame:
		base.received.Add(1)
	default:
		base.dropped.Add(1)
		base.Error(ErrDroppedFrame)
	}
}

// transmitted records the outcome of writing one frame to the bus.
func (base *BaseAdapter) transmitted(err error) {
	if err != nil {
		base.errors.Add(1)
		base.Error(err)
		return
	}
	base.sent.Add(1)
}

// Stats returns a snapshot of the frame counters.
func (base *BaseAdapter) Stats() Stats {
	return Stats{
		Sent:     base.sent.Load(),
		Received: base.received.Load(),
		Dropped:  base.dropped.Load(),
		Errors:   base.errors.Load(),
	}
}

func (base *BaseAdapter) sendEvent(eventType EventType, details string, err error) {
	select {
	case base.evtChan <- Event{Adapter: base.name, Type: eventType, Details: details, Err: err}:
	default:
		base.cfg.OnMessage("event channel full: " + details)
	}
}

// Error sends an error event.
func (base *BaseAdapter) Error(err error) {
	base.sendEvent(EventTypeError, err.Error(), err)
}

// Warn sends a warning event.
func (base *BaseAdapter) Warn(warn string) {
	base.sendEvent(EventTypeWarning, warn, nil)
}

func (base *BaseAdapter) Info(info string) {
	base.sendEvent(EventTypeInfo, info, nil)
}

// Debug sends a debug event when the adapter runs with Debug set.
func (base *BaseAdapter) Debug(debug string) {
	if base.cfg.Debug {
		base.sendEvent(EventTypeDebug, debug, nil)
	}
}
