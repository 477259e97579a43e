package udsprobe

import (
	"context"
	"sync"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "Virtual",
		Description:        "In-memory loopback, no hardware",
		RequiresSerialPort: false,
		New: func(cfg *AdapterConfig) (Adapter, error) {
			return NewVirtual(cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

// Responder is called for every frame written to a Virtual adapter and
// returns the frames the simulated bus answers with.
type Responder func(*CANFrame) []*CANFrame

// Virtual is an adapter without hardware. Sent frames are recorded and
// handed to the Responder, whose replies are delivered on Recv.
type Virtual struct {
	*BaseAdapter
	mu        sync.Mutex
	responder Responder
	sent      []*CANFrame
}

func NewVirtual(cfg *AdapterConfig) *Virtual {
	return &Virtual{
		BaseAdapter: NewBaseAdapter("Virtual", cfg),
	}
}

func (v *Virtual) SetResponder(r Responder) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.responder = r
}

// Sent returns a copy of every frame transmitted so far.
func (v *Virtual) Sent() []*CANFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*CANFrame, len(v.sent))
	copy(out, v.sent)
	return out
}

// Inject delivers frame as if it had been received from the bus.
func (v *Virtual) Inject(frame *CANFrame) {
	frame.FrameType = Incoming
	v.deliver(frame)
}

func (v *Virtual) Open(ctx context.Context) error {
	go v.sendManager(ctx)
	return nil
}

func (v *Virtual) Close() error {
	v.BaseAdapter.Close()
	return nil
}

func (v *Virtual) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.closeChan:
			return
		case frame := <-v.sendChan:
			v.mu.Lock()
			v.sent = append(v.sent, frame)
			responder := v.responder
			v.mu.Unlock()
			v.transmitted(nil)
			if responder == nil {
				continue
			}
			for _, reply := range responder(frame) {
				v.Inject(reply)
			}
		}
	}
}
