package udsprobe

import (
	"context"
	"log"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SocketCAN",
		Description:        "Linux SocketCAN interface, port is the interface name (can0, vcan0)",
		RequiresSerialPort: false,
		New: func(cfg *AdapterConfig) (Adapter, error) {
			return NewSocketCAN(cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

type SocketCAN struct {
	*BaseAdapter
	conn net.Conn
	tx   *socketcan.Transmitter
	rx   *socketcan.Receiver
}

func NewSocketCAN(cfg *AdapterConfig) *SocketCAN {
	return &SocketCAN{
		BaseAdapter: NewBaseAdapter("SocketCAN", cfg),
	}
}

func (a *SocketCAN) Open(ctx context.Context) error {
	if a.cfg.Port == "" {
		return ErrNoPort
	}
	// virtual interfaces have no bitrate and are usually already up
	if a.cfg.CANRate > 0 && !strings.HasPrefix(a.cfg.Port, "vcan") {
		if err := a.configureDevice(); err != nil {
			a.Warn("could not configure " + a.cfg.Port + ": " + err.Error())
		}
	}
	err := retry.Do(func() error {
		conn, err := socketcan.DialContext(ctx, "can", a.cfg.Port)
		if err != nil {
			return err
		}
		a.conn = conn
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(a.cfg.OpenAttempts),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("Retry #%d: %v", n, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return &LinkError{Adapter: a.name, Op: "dial " + a.cfg.Port, Err: err}
	}
	a.tx = socketcan.NewTransmitter(a.conn)
	a.rx = socketcan.NewReceiver(a.conn)

	go a.recvManager()
	go a.sendManager(ctx)
	return nil
}

func (a *SocketCAN) configureDevice() error {
	d, err := candevice.New(a.cfg.Port)
	if err != nil {
		return err
	}
	if err := d.SetDown(); err != nil {
		return err
	}
	if err := d.SetBitrate(uint32(a.cfg.CANRate * 1000)); err != nil {
		return err
	}
	return d.SetUp()
}

func (a *SocketCAN) Close() error {
	a.BaseAdapter.Close()
	if a.rx != nil {
		return a.rx.Close()
	}
	return nil
}

func (a *SocketCAN) recvManager() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for a.rx.Receive() {
		f := a.rx.Frame()
		if f.IsRemote {
			continue
		}
		frame := NewFrame(f.ID, f.Data[:f.Length], Incoming)
		frame.Extended = f.IsExtended
		a.deliver(frame)
	}
	select {
	case <-a.closeChan:
	default:
		if err := a.rx.Err(); err != nil {
			a.Fatal(&LinkError{Adapter: a.name, Op: "receive", Err: err})
		}
	}
}

func (a *SocketCAN) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closeChan:
			return
		case f := <-a.sendChan:
			frame := can.Frame{
				ID:         f.Identifier,
				IsExtended: f.Extended,
				Length:     uint8(min(len(f.Data), 8)),
			}
			copy(frame.Data[:], f.Data)
			sendCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			err := a.tx.TransmitFrame(sendCtx, frame)
			cancel()
			if err != nil {
				err = &LinkError{Adapter: a.name, Op: "transmit", Err: err}
			}
			a.transmitted(err)
		}
	}
}
