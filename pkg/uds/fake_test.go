package uds

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

var errLinkDown = errors.New("link down")

type timedFrame struct {
	at   time.Time
	data []byte
}

// fakeECU is a Transport answering requests through respond. Replies are
// released by Poll once their delay has passed.
type fakeECU struct {
	mu sync.Mutex

	respond func(req []byte) [][]byte
	// delay of the i:th reply to a request, zero when nil
	delay func(i int) time.Duration
	// sendErr, when set, can fail a Send
	sendErr func(req []byte) error

	sent    [][]byte
	pending []timedFrame
	queue   [][]byte
	polls   int
}

func (f *fakeECU) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := append([]byte(nil), payload...)
	f.sent = append(f.sent, req)
	if f.sendErr != nil {
		if err := f.sendErr(req); err != nil {
			return err
		}
	}
	if f.respond == nil {
		return nil
	}
	now := time.Now()
	for i, r := range f.respond(req) {
		at := now
		if f.delay != nil {
			at = now.Add(f.delay(i))
		}
		f.pending = append(f.pending, timedFrame{at: at, data: r})
	}
	return nil
}

func (f *fakeECU) Poll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	now := time.Now()
	keep := f.pending[:0]
	for _, p := range f.pending {
		if !p.at.After(now) {
			f.queue = append(f.queue, p.data)
		} else {
			keep = append(keep, p)
		}
	}
	f.pending = keep
}

func (f *fakeECU) HasFrame() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) > 0
}

func (f *fakeECU) Receive() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.queue[0]
	f.queue = f.queue[1:]
	return msg
}

func (f *fakeECU) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

// positiveFor answers req with a positive reply when accept returns true and
// with 7F SID 31 otherwise.
func positiveFor(accept func(req []byte) bool) func([]byte) [][]byte {
	return func(req []byte) [][]byte {
		if accept(req) {
			return [][]byte{append([]byte{req[0] + PositiveResponseOffset}, req[1:]...)}
		}
		return [][]byte{{NegativeResponse, req[0], NRCRequestOutOfRange}}
	}
}

// acceptOnly answers positively to exactly want and stays silent otherwise.
func acceptOnly(want []byte) func([]byte) [][]byte {
	return func(req []byte) [][]byte {
		if bytes.Equal(req, want) {
			return [][]byte{{req[0] + PositiveResponseOffset, req[1]}}
		}
		return nil
	}
}

// fastConfig makes exchanges return as soon as nothing more is queued.
var fastConfig = Config{IdleTimeout: 0, PollInterval: 0}
