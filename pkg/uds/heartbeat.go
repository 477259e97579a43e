package uds

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

const DefaultHeartbeatPeriod = time.Second

type HeartbeatConfig struct {
	// Target is the arbitration ID the TesterPresent is sent to. Zero, or a
	// transport that is not an AddressedSender, uses the transport's own target.
	Target uint32
	Period time.Duration
	// SuppressResponse sets the suppressPosRspMsgIndicationBit (3E 80).
	SuppressResponse bool
}

// Heartbeat periodically sends TesterPresent to keep a non-default
// diagnostic session open.
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
	sent   atomic.Uint64
	failed atomic.Uint64
}

// StartHeartbeat sends the first TesterPresent at once and then once per
// period until Stop is called or ctx is cancelled. Send failures are logged
// and the next period is attempted regardless.
func StartHeartbeat(ctx context.Context, t Transport, cfg HeartbeatConfig) *Heartbeat {
	if cfg.Period <= 0 {
		cfg.Period = DefaultHeartbeatPeriod
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	send := t.Send
	if as, ok := t.(AddressedSender); ok && cfg.Target != 0 {
		send = func(payload []byte) error {
			return as.SendTo(cfg.Target, payload)
		}
	}
	go h.run(ctx, send, BuildTesterPresent(cfg.SuppressResponse), cfg.Period)
	return h
}

func (h *Heartbeat) run(ctx context.Context, send func([]byte) error, payload Request, period time.Duration) {
	defer close(h.done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		if err := send(payload); err != nil {
			h.failed.Add(1)
			log.Printf("tester present: %v", err)
		} else {
			h.sent.Add(1)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the heartbeat and waits for the background task to exit.
// A send in progress is completed first.
func (h *Heartbeat) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the heartbeat has stopped.
func (h *Heartbeat) Done() <-chan struct{} {
	return h.done
}

// Sent is the number of successful sends.
func (h *Heartbeat) Sent() uint64 {
	return h.sent.Load()
}

// Failed is the number of failed sends.
func (h *Heartbeat) Failed() uint64 {
	return h.failed.Load()
}
