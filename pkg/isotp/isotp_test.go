package isotp

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roffe/udsprobe"
)

func newTestLink(t *testing.T, cfg Config) (*udsprobe.Virtual, *Link) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v := udsprobe.NewVirtual(&udsprobe.AdapterConfig{})
	if err := v.Open(ctx); err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v, New(v, cfg)
}

// waitFor polls the link until a message is queued or the deadline passes.
func waitFor(t *testing.T, l *Link) []byte {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		l.Poll()
		if l.HasFrame() {
			return l.Receive()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no message received")
	return nil
}

func waitSent(t *testing.T, v *udsprobe.Virtual, n int) []*udsprobe.CANFrame {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sent := v.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d sent frames, got %d", n, len(v.Sent()))
	return nil
}

func TestLink_Send(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		payload []byte
		want    []byte
		wantID  uint32
		wantExt bool
		wantErr error
	}{
		{
			name:    "padded single frame",
			cfg:     DefaultConfig(0x7E0, 0x7E8),
			payload: []byte{0x22, 0xF1, 0x90},
			want:    []byte{0x03, 0x22, 0xF1, 0x90, 0x00, 0x00, 0x00, 0x00},
			wantID:  0x7E0,
		},
		{
			name:    "unpadded single frame",
			cfg:     Config{TxID: 0x7E0, RxID: 0x7E8},
			payload: []byte{0x3E, 0x00},
			want:    []byte{0x02, 0x3E, 0x00},
			wantID:  0x7E0,
		},
		{
			name:    "extended identifier",
			cfg:     DefaultConfig(0x18DA10F1, 0x18DAF110),
			payload: []byte{0x27, 0x01},
			want:    []byte{0x02, 0x27, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00},
			wantID:  0x18DA10F1,
			wantExt: true,
		},
		{
			name:    "too long",
			cfg:     DefaultConfig(0x7E0, 0x7E8),
			payload: []byte{1, 2, 3, 4, 5, 6, 7, 8},
			wantErr: ErrPayloadTooLong,
		},
		{
			name:    "empty",
			cfg:     DefaultConfig(0x7E0, 0x7E8),
			wantErr: ErrEmptyPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, l := newTestLink(t, tt.cfg)
			err := l.Send(tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Send() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			got := waitSent(t, v, 1)[0]
			if got.Identifier != tt.wantID || got.Extended != tt.wantExt {
				t.Errorf("Send() id = 0x%X ext=%v, want 0x%X ext=%v", got.Identifier, got.Extended, tt.wantID, tt.wantExt)
			}
			if !bytes.Equal(got.Data, tt.want) {
				t.Errorf("Send() data = % X, want % X", got.Data, tt.want)
			}
		})
	}
}

func TestLink_SendTo(t *testing.T) {
	v, l := newTestLink(t, DefaultConfig(0x7E0, 0x7E8))
	if err := l.SendTo(0x7DF, []byte{0x3E, 0x00}); err != nil {
		t.Fatalf("SendTo() error = %v", err)
	}
	if got := waitSent(t, v, 1)[0].Identifier; got != 0x7DF {
		t.Errorf("SendTo() id = 0x%X, want 0x7DF", got)
	}
}

func TestLink_ReceiveSingleFrames(t *testing.T) {
	v, l := newTestLink(t, DefaultConfig(0x7E0, 0x7E8))
	v.Inject(udsprobe.NewFrame(0x7E8, []byte{0x03, 0x7F, 0x22, 0x31, 0, 0, 0, 0}, udsprobe.Incoming))
	v.Inject(udsprobe.NewFrame(0x123, []byte{0x02, 0x50, 0x01}, udsprobe.Incoming))
	v.Inject(udsprobe.NewFrame(0x7E8, []byte{0x04, 0x62, 0xF1, 0x90, 0x41}, udsprobe.Incoming))

	if got := waitFor(t, l); !bytes.Equal(got, []byte{0x7F, 0x22, 0x31}) {
		t.Errorf("first message = % X", got)
	}
	if got := waitFor(t, l); !bytes.Equal(got, []byte{0x62, 0xF1, 0x90, 0x41}) {
		t.Errorf("second message = % X", got)
	}
	l.Poll()
	if l.HasFrame() {
		t.Errorf("frame from foreign id was queued: % X", l.Receive())
	}
	if l.Receive() != nil {
		t.Error("Receive() on empty queue should return nil")
	}
}

func TestLink_ReceiveMultiFrame(t *testing.T) {
	v, l := newTestLink(t, DefaultConfig(0x7E0, 0x7E8))
	v.SetResponder(func(f *udsprobe.CANFrame) []*udsprobe.CANFrame {
		if f.Data[0]>>4 != flowControl {
			return nil
		}
		return []*udsprobe.CANFrame{
			udsprobe.NewFrame(0x7E8, []byte{0x21, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x41}, udsprobe.Incoming),
			udsprobe.NewFrame(0x7E8, []byte{0x22, 0x42, 0x43, 0x00, 0x00, 0x00, 0x00, 0x00}, udsprobe.Incoming),
		}
	})
	// 62 F1 90 + "123456789ABC" = 15 bytes
	v.Inject(udsprobe.NewFrame(0x7E8, []byte{0x10, 0x0F, 0x62, 0xF1, 0x90, 0x31, 0x32, 0x33}, udsprobe.Incoming))

	got := waitFor(t, l)
	want := append([]byte{0x62, 0xF1, 0x90}, []byte("123456789ABC")...)
	if !bytes.Equal(got, want) {
		t.Errorf("multi frame = % X, want % X", got, want)
	}
	fc := waitSent(t, v, 1)[0]
	if fc.Identifier != 0x7E0 || fc.Data[0] != 0x30 {
		t.Errorf("flow control = %s", fc.String())
	}
}

func TestLink_ConsecutiveOutOfOrder(t *testing.T) {
	v, l := newTestLink(t, DefaultConfig(0x7E0, 0x7E8))
	v.Inject(udsprobe.NewFrame(0x7E8, []byte{0x10, 0x0A, 0x62, 0xF1, 0x90, 0x31, 0x32, 0x33}, udsprobe.Incoming))
	v.Inject(udsprobe.NewFrame(0x7E8, []byte{0x22, 0x34, 0x35, 0x36, 0x37}, udsprobe.Incoming))
	v.Inject(udsprobe.NewFrame(0x7E8, []byte{0x02, 0x67, 0x01}, udsprobe.Incoming))

	got := waitFor(t, l)
	if !bytes.Equal(got, []byte{0x67, 0x01}) {
		t.Errorf("message after broken sequence = % X", got)
	}
}
