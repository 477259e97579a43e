package udsprobe

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:               "SLCan",
		Description:        "Lawicel / CANable SLCan adapter",
		RequiresSerialPort: true,
		New: func(cfg *AdapterConfig) (Adapter, error) {
			return NewSLCan(cfg)
		},
	}); err != nil {
		panic(err)
	}
}

type SLCan struct {
	*BaseAdapter
	port    serial.Port
	canrate string
	closed  bool
}

func NewSLCan(cfg *AdapterConfig) (*SLCan, error) {
	rate, err := slcanRate(cfg.CANRate)
	if err != nil {
		return nil, err
	}
	return &SLCan{
		BaseAdapter: NewBaseAdapter("SLCan", cfg),
		canrate:     rate,
	}, nil
}

func slcanRate(kbit float64) (string, error) {
	switch kbit {
	case 10:
		return "S0", nil
	case 20:
		return "S1", nil
	case 50:
		return "S2", nil
	case 100:
		return "S3", nil
	case 125:
		return "S4", nil
	case 250:
		return "S5", nil
	case 500:
		return "S6", nil
	case 750:
		return "S7", nil
	case 1000:
		return "S8", nil
	default:
		return "", fmt.Errorf("%w: %g kbit", ErrUnknownCANRate, kbit)
	}
}

func (sl *SLCan) Open(ctx context.Context) error {
	if sl.cfg.Port == "" {
		return ErrNoPort
	}
	mode := &serial.Mode{
		BaudRate: sl.cfg.PortBaudrate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	err := retry.Do(func() error {
		p, err := serial.Open(portName(sl.cfg.Port), mode)
		if err != nil {
			return err
		}
		sl.port = p
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(sl.cfg.OpenAttempts),
		retry.Delay(200*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("Retry #%d: %v", n, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return &LinkError{Adapter: sl.name, Op: "open " + sl.cfg.Port, Err: err}
	}
	if err := sl.port.SetReadTimeout(3 * time.Millisecond); err != nil {
		sl.port.Close()
		return &LinkError{Adapter: sl.name, Op: "set read timeout", Err: err}
	}
	sl.port.ResetOutputBuffer()
	sl.port.ResetInputBuffer()

	for _, cmd := range []string{"C", sl.canrate, "O"} {
		if _, err := sl.port.Write([]byte(cmd + "\r")); err != nil {
			sl.port.Close()
			return &LinkError{Adapter: sl.name, Op: "init " + cmd, Err: err}
		}
		time.Sleep(10 * time.Millisecond)
	}

	go sl.sendManager(ctx)
	go sl.recvManager(ctx)
	sl.Info(fmt.Sprintf("%s open at %d baud, CAN %s", sl.cfg.Port, sl.cfg.PortBaudrate, sl.canrate))
	return nil
}

func (sl *SLCan) Close() error {
	sl.BaseAdapter.Close()
	sl.closed = true
	if sl.port == nil {
		return nil
	}
	time.Sleep(10 * time.Millisecond)
	sl.port.Write([]byte("C\r"))
	time.Sleep(10 * time.Millisecond)
	return sl.port.Close()
}

func (sl *SLCan) recvManager(ctx context.Context) {
	buf := make([]byte, 0, 64)
	readBuf := make([]byte, 32)
	for ctx.Err() == nil {
		n, err := sl.port.Read(readBuf)
		if err != nil {
			if !sl.closed {
				sl.Fatal(&LinkError{Adapter: sl.name, Op: "read", Err: err})
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = sl.parse(buf, readBuf[:n])
	}
}

func (sl *SLCan) sendManager(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sl.closeChan:
			return
		case frame := <-sl.sendChan:
			out := encodeSLCan(frame)
			if sl.cfg.Debug {
				log.Println(">> " + strings.TrimSpace(string(out)))
			}
			_, err := sl.port.Write(out)
			if err != nil {
				err = fmt.Errorf("failed to write to com port: %w", err)
			}
			sl.transmitted(err)
		}
	}
}

// parse processes the read data and returns any remaining partial data.
func (sl *SLCan) parse(buf, readBuf []byte) []byte {
	for _, b := range readBuf {
		switch b {
		case '\r':
			if len(buf) == 0 {
				continue
			}
			switch buf[0] {
			case 't', 'T':
				if sl.cfg.Debug {
					log.Printf("<< %s", string(buf))
				}
				f, err := decodeSLCan(buf)
				if err != nil {
					sl.Warn(fmt.Sprintf("%v: %q", err, buf))
				} else {
					sl.deliver(f)
				}
			case 'z', 'Z':
				// transmit ack
			default:
				sl.Debug("unknown: " + string(buf))
			}
			buf = buf[:0]
		case 0x07:
			sl.Warn("adapter rejected command")
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

// encodeSLCan renders frame in the Lawicel ASCII format, 't' + 3 hex digits
// for standard and 'T' + 8 hex digits for extended identifiers.
func encodeSLCan(frame *CANFrame) []byte {
	var out strings.Builder
	if frame.Extended {
		fmt.Fprintf(&out, "T%08X", frame.Identifier&0x1FFFFFFF)
	} else {
		fmt.Fprintf(&out, "t%03X", frame.Identifier&MaxStandardID)
	}
	dlc := min(len(frame.Data), 8)
	out.WriteString(strconv.Itoa(dlc))
	out.WriteString(strings.ToUpper(hex.EncodeToString(frame.Data[:dlc])))
	out.WriteByte('\r')
	return []byte(out.String())
}

func decodeSLCan(buf []byte) (*CANFrame, error) {
	idLen := 3
	if buf[0] == 'T' {
		idLen = 8
	}
	if len(buf) < 2+idLen {
		return nil, fmt.Errorf("short frame")
	}
	id, err := strconv.ParseUint(string(buf[1:1+idLen]), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to decode identifier: %v", err)
	}
	dataLen, err := strconv.ParseUint(string(buf[1+idLen]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dataLen > 8 {
		return nil, fmt.Errorf("invalid data length: %d", dataLen)
	}
	start := 2 + idLen
	if len(buf) < start+int(dataLen)*2 {
		return nil, fmt.Errorf("frame body shorter than dlc %d", dataLen)
	}
	data, err := hex.DecodeString(string(buf[start : start+int(dataLen)*2]))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame body: %v", err)
	}
	f := NewFrame(uint32(id), data, Incoming)
	f.Extended = buf[0] == 'T'
	return f, nil
}

func portName(name string) string {
	if runtime.GOOS == "windows" {
		return strings.ToUpper(name)
	}
	return name
}

// ListPorts describes the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, port := range ports {
		if port.IsUSB {
			out = append(out, fmt.Sprintf("%s (USB %s:%s serial %s)", port.Name, port.VID, port.PID, port.SerialNumber))
			continue
		}
		out = append(out, port.Name)
	}
	return out, nil
}
