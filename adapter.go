package udsprobe

import (
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
)

// Adapter is a CAN interface. Frames written to Send are transmitted in
// order; received frames are delivered on Recv.
type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	Send() chan<- *CANFrame
	Recv() <-chan *CANFrame
	Err() <-chan error
	Event() <-chan Event
	Stats() Stats
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", a.Name, a.Description, a.RequiresSerialPort)
}

type AdapterConfig struct {
	Debug        bool
	Port         string
	PortBaudrate int
	CANRate      float64 // kbit/s
	CANFilter    []uint32
	OpenAttempts uint
	OnMessage    func(string)
}

var adapterMap = make(map[string]*AdapterInfo)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			log.Println(msg)
		}
	}
	if cfg.OpenAttempts == 0 {
		cfg.OpenAttempts = 3
	}
	for name, adapter := range adapterMap {
		if strings.EqualFold(name, adapterName) {
			return adapter.New(cfg)
		}
	}
	return nil, fmt.Errorf("unknown adapter %q", adapterName)
}

func RegisterAdapter(adapter *AdapterInfo) error {
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	var out []string
	for name := range adapterMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListAdapters() []AdapterInfo {
	var out []AdapterInfo
	for _, name := range ListAdapterNames() {
		out = append(out, *adapterMap[name])
	}
	return out
}

// accepts reports whether identifier passes the software filter. An empty
// filter accepts everything.
func (cfg *AdapterConfig) accepts(identifier uint32) bool {
	if len(cfg.CANFilter) == 0 {
		return true
	}
	for _, id := range cfg.CANFilter {
		if id == identifier {
			return true
		}
	}
	return false
}

// ListCANInterfaces lists network interfaces that look like SocketCAN devices.
func ListCANInterfaces() (dev []string) {
	iFaces, _ := net.Interfaces()
	for _, i := range iFaces {
		if strings.Contains(i.Name, "can") {
			dev = append(dev, i.Name)
		}
	}
	return
}
