// Package isotp is a minimal ISO 15765-2 link carrying UDS messages over a
// CAN adapter. Requests go out as single frames; responses are accepted as
// single frames or as first/consecutive frame sequences.
package isotp

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roffe/udsprobe"
)

// Protocol control information, high nibble of the first byte
const (
	singleFrame      = 0x0
	firstFrame       = 0x1
	consecutiveFrame = 0x2
	flowControl      = 0x3

	// largest payload of a classic CAN single frame
	MaxSingleFrame = 7
)

var (
	ErrPayloadTooLong = errors.New("payload does not fit in a single frame")
	ErrEmptyPayload   = errors.New("empty payload")
)

type Config struct {
	TxID, RxID uint32
	// Extended forces 29-bit identifiers; IDs above 0x7FF always use them.
	Extended bool
	// Pad fills frames to 8 bytes with PadByte.
	Pad     bool
	PadByte byte
	// BlockSize and STmin are advertised in the flow control frame.
	BlockSize byte
	STmin     byte
	// SendTimeout bounds the wait for room in the adapter send queue.
	SendTimeout time.Duration
}

func DefaultConfig(txID, rxID uint32) Config {
	return Config{
		TxID:        txID,
		RxID:        rxID,
		Pad:         true,
		PadByte:     0x00,
		SendTimeout: 100 * time.Millisecond,
	}
}

// Link implements uds.Transport. Sends from any goroutine are serialised;
// Poll, HasFrame and Receive belong to a single reader.
type Link struct {
	adapter udsprobe.Adapter
	cfg     Config

	sendMu sync.Mutex

	queue  [][]byte
	closed bool

	// reassembly of a multi-frame message
	rxActive   bool
	rxBuf      []byte
	rxExpected int
	rxSeq      byte
}

func New(adapter udsprobe.Adapter, cfg Config) *Link {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 100 * time.Millisecond
	}
	return &Link{
		adapter: adapter,
		cfg:     cfg,
	}
}

// Send transmits payload to the configured TxID.
func (l *Link) Send(payload []byte) error {
	return l.SendTo(l.cfg.TxID, payload)
}

// SendTo transmits payload as a single frame to id.
func (l *Link) SendTo(id uint32, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > MaxSingleFrame {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(payload))
	}
	data := make([]byte, 0, 8)
	data = append(data, byte(len(payload)))
	data = append(data, payload...)
	return l.write(id, data)
}

func (l *Link) write(id uint32, data []byte) error {
	if l.cfg.Pad {
		for len(data) < 8 {
			data = append(data, l.cfg.PadByte)
		}
	}
	frame := udsprobe.NewFrame(id, data, udsprobe.Outgoing)
	frame.Extended = frame.Extended || l.cfg.Extended

	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	timer := time.NewTimer(l.cfg.SendTimeout)
	defer timer.Stop()
	select {
	case l.adapter.Send() <- frame:
		return nil
	case <-timer.C:
		return udsprobe.ErrSendTimeout
	}
}

// Poll drains the frames the adapter has received so far.
func (l *Link) Poll() {
	if l.closed {
		return
	}
	recv := l.adapter.Recv()
	for {
		select {
		case frame, ok := <-recv:
			if !ok {
				l.closed = true
				return
			}
			if frame.Identifier != l.cfg.RxID {
				continue
			}
			l.handle(frame.Data)
		default:
			return
		}
	}
}

func (l *Link) HasFrame() bool {
	return len(l.queue) > 0
}

// Receive pops the oldest complete message, nil when there is none.
func (l *Link) Receive() []byte {
	if len(l.queue) == 0 {
		return nil
	}
	msg := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return msg
}

func (l *Link) handle(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] >> 4 {
	case singleFrame:
		n := int(data[0] & 0x0F)
		if n == 0 || n > len(data)-1 {
			return
		}
		l.rxActive = false
		l.queue = append(l.queue, append([]byte(nil), data[1:1+n]...))
	case firstFrame:
		if len(data) < 2 {
			return
		}
		n := int(data[0]&0x0F)<<8 | int(data[1])
		if n <= MaxSingleFrame {
			return
		}
		l.rxActive = true
		l.rxExpected = n
		l.rxBuf = append(make([]byte, 0, n), data[2:]...)
		l.rxSeq = 1
		if err := l.write(l.cfg.TxID, []byte{flowControl << 4, l.cfg.BlockSize, l.cfg.STmin}); err != nil {
			log.Printf("isotp flow control: %v", err)
			l.rxActive = false
		}
	case consecutiveFrame:
		if !l.rxActive {
			return
		}
		if data[0]&0x0F != l.rxSeq {
			log.Printf("isotp: consecutive frame out of order, expected %X got %X", l.rxSeq, data[0]&0x0F)
			l.rxActive = false
			return
		}
		l.rxSeq = (l.rxSeq + 1) & 0x0F
		remaining := l.rxExpected - len(l.rxBuf)
		chunk := data[1:]
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		l.rxBuf = append(l.rxBuf, chunk...)
		if len(l.rxBuf) >= l.rxExpected {
			l.queue = append(l.queue, l.rxBuf)
			l.rxBuf = nil
			l.rxActive = false
		}
	case flowControl:
		// we only send single frames
	}
}
