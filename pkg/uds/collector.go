package uds

import (
	"context"
	"time"
)

const (
	DefaultIdleTimeout  = 300 * time.Millisecond
	DefaultPollInterval = 10 * time.Millisecond
	MinPollInterval     = time.Millisecond
)

// Collector gathers the burst of frames following a request.
//
// Collection ends once IdleTimeout has passed since the last received frame,
// or since the start when nothing arrives. A steady trickle of frames keeps
// it going, so callers that need a hard ceiling must put a deadline on ctx.
type Collector struct {
	IdleTimeout time.Duration
	// PollInterval is raised to MinPollInterval when shorter.
	PollInterval time.Duration
}

// Collect polls t until the idle timeout expires and returns every frame
// received, in order. On cancellation the frames gathered so far are
// returned together with ctx.Err().
func (c Collector) Collect(ctx context.Context, t Transport) ([][]byte, error) {
	var frames [][]byte

	ticker := time.NewTicker(max(c.PollInterval, MinPollInterval))
	defer ticker.Stop()

	last := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return frames, err
		}
		t.Poll()
		for t.HasFrame() {
			frames = append(frames, t.Receive())
			last = time.Now()
		}
		if time.Since(last) > c.IdleTimeout {
			return frames, nil
		}
		select {
		case <-ctx.Done():
			return frames, ctx.Err()
		case <-ticker.C:
		}
	}
}
