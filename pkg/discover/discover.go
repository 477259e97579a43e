// Package discover finds diagnostic addressing on an unknown bus by
// broadcasting a functional TesterPresent and listening for replies.
package discover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roffe/udsprobe"
	"golang.org/x/sync/errgroup"
)

const DefaultGap = time.Second

var ErrNoResponders = errors.New("no ECU answered the functional tester present")

// Candidate is a functional request address to broadcast on.
type Candidate struct {
	ID       uint32
	Extended bool
}

func (c Candidate) String() string {
	if c.Extended {
		return fmt.Sprintf("0x%08X (29-bit)", c.ID)
	}
	return fmt.Sprintf("0x%03X (11-bit)", c.ID)
}

// DefaultCandidates are the OBD functional addresses, 29-bit first.
var DefaultCandidates = []Candidate{
	{ID: 0x18DB33F1, Extended: true},
	{ID: 0x7DF, Extended: false},
}

// testerPresent is 3E 00 as an ISO-TP single frame.
var testerPresent = []byte{0x02, 0x3E, 0x00}

type Config struct {
	Candidates []Candidate
	// Gap is the silence after the last reply that ends listening on a candidate.
	Gap time.Duration
	// OnFrame, when set, sees every frame received while listening.
	OnFrame func(*udsprobe.CANFrame)
}

type Result struct {
	// TesterID is the first candidate that got replies.
	TesterID uint32
	Extended bool
	// Responders are the distinct arbitration IDs that answered, ascending.
	Responders []uint32
}

// Run tries every candidate in order and returns the responders to the
// first one any ECU answered.
func Run(ctx context.Context, a udsprobe.Adapter, cfg Config) (*Result, error) {
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.Gap <= 0 {
		cfg.Gap = DefaultGap
	}
	for _, cand := range cfg.Candidates {
		responders, err := Broadcast(ctx, a, cand, cfg)
		if err != nil {
			return nil, err
		}
		if len(responders) > 0 {
			return &Result{
				TesterID:   cand.ID,
				Extended:   cand.Extended,
				Responders: responders,
			}, nil
		}
	}
	return nil, ErrNoResponders
}

// Broadcast sends one functional TesterPresent on cand and returns the IDs
// of the frames answering it positively.
func Broadcast(ctx context.Context, a udsprobe.Adapter, cand Candidate, cfg Config) ([]uint32, error) {
	if cfg.Gap <= 0 {
		cfg.Gap = DefaultGap
	}
	seen := make(map[uint32]struct{})
	started := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		close(started)
		return listen(gctx, a, cfg, seen)
	})
	g.Go(func() error {
		<-started
		frame := udsprobe.NewFrame(cand.ID, testerPresent, udsprobe.Outgoing)
		frame.Extended = cand.Extended
		select {
		case a.Send() <- frame:
			return nil
		case <-time.After(cfg.Gap):
			return udsprobe.ErrSendTimeout
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]uint32, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func listen(ctx context.Context, a udsprobe.Adapter, cfg Config, seen map[uint32]struct{}) error {
	timer := time.NewTimer(cfg.Gap)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case frame, ok := <-a.Recv():
			if !ok {
				return udsprobe.ErrAdapterClosed
			}
			if frame.FrameType != udsprobe.Incoming {
				continue
			}
			if cfg.OnFrame != nil {
				cfg.OnFrame(frame)
			}
			if len(frame.Data) < 2 || frame.Data[1] != 0x3E+0x40 {
				continue
			}
			seen[frame.Identifier] = struct{}{}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(cfg.Gap)
		}
	}
}

// AutoExtended reports whether id needs 29-bit framing.
func AutoExtended(id uint32) bool {
	return udsprobe.IsExtendedID(id)
}

// PhysicalRequestID guesses the physical request address that pairs with a
// response ID: 0x7E8..0x7EF map to 0x7E0..0x7E7 and normal fixed 29-bit
// addresses (18 DA TA SA) swap target and source. ok is false otherwise.
func PhysicalRequestID(responseID uint32) (uint32, bool) {
	switch {
	case responseID >= 0x7E8 && responseID <= 0x7EF:
		return responseID - 8, true
	case responseID&0xFFFF0000 == 0x18DA0000:
		ta := (responseID >> 8) & 0xFF
		sa := responseID & 0xFF
		return 0x18DA0000 | sa<<8 | ta, true
	default:
		return 0, false
	}
}
