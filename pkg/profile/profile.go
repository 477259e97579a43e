// Package profile loads and validates YAML session profiles.
package profile

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roffe/udsprobe"
	"github.com/roffe/udsprobe/pkg/isotp"
	"github.com/roffe/udsprobe/pkg/uds"
)

var ErrNoProfile = errors.New("profile not found")

type Adapter struct {
	Name     string  `yaml:"name"`
	Port     string  `yaml:"port,omitempty"`
	Baudrate int     `yaml:"baudrate,omitempty"`
	CANRate  float64 `yaml:"canrate"` // kbit/s
	Debug    bool    `yaml:"debug,omitempty"`
}

// Addressing holds the physical request and response IDs. IDs above 0x7FF
// switch to 29-bit frames regardless of Extended.
type Addressing struct {
	Tester   uint32 `yaml:"tester"`
	ECU      uint32 `yaml:"ecu"`
	Extended bool   `yaml:"extended,omitempty"`
}

type Timing struct {
	Timeout time.Duration `yaml:"timeout"`
	Poll    time.Duration `yaml:"poll"`
}

type KeepAlive struct {
	Enabled  bool          `yaml:"enabled"`
	Period   time.Duration `yaml:"period,omitempty"`
	Suppress bool          `yaml:"suppress,omitempty"`
}

type Profile struct {
	Adapter    Adapter    `yaml:"adapter"`
	Addressing Addressing `yaml:"addressing"`
	Timing     Timing     `yaml:"timing"`
	KeepAlive  KeepAlive  `yaml:"keepalive"`
}

func Default() *Profile {
	return &Profile{
		Adapter: Adapter{
			Name:     "Virtual",
			Baudrate: 115200,
			CANRate:  500,
		},
		Addressing: Addressing{
			Tester: 0x7E0,
			ECU:    0x7E8,
		},
		Timing: Timing{
			Timeout: uds.DefaultIdleTimeout,
			Poll:    uds.DefaultPollInterval,
		},
		KeepAlive: KeepAlive{
			Period: uds.DefaultHeartbeatPeriod,
		},
	}
}

// Load reads a profile from path. Fields missing from the file keep their
// Default values.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoProfile, path)
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate profile: %w", err)
	}
	return p, nil
}

// Save writes p to path as YAML.
func (p *Profile) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func (p *Profile) Validate() error {
	if p.Adapter.Name == "" {
		return fmt.Errorf("adapter name is required")
	}
	if p.Adapter.CANRate <= 0 {
		return fmt.Errorf("adapter canrate must be positive, got %v", p.Adapter.CANRate)
	}
	if p.Addressing.Tester == 0 || p.Addressing.ECU == 0 {
		return fmt.Errorf("tester and ecu ids are required")
	}
	if p.Addressing.Tester > 0x1FFFFFFF || p.Addressing.ECU > 0x1FFFFFFF {
		return fmt.Errorf("arbitration ids must fit in 29 bits")
	}
	if p.Addressing.Tester == p.Addressing.ECU {
		return fmt.Errorf("tester and ecu ids must differ, both are 0x%X", p.Addressing.Tester)
	}
	if p.Timing.Timeout <= 0 {
		return fmt.Errorf("timing timeout must be positive, got %s", p.Timing.Timeout)
	}
	if p.Timing.Poll <= 0 {
		return fmt.Errorf("timing poll must be positive, got %s", p.Timing.Poll)
	}
	if p.KeepAlive.Enabled && p.KeepAlive.Period <= 0 {
		return fmt.Errorf("keepalive period must be positive, got %s", p.KeepAlive.Period)
	}
	return nil
}

// Extended reports whether the session uses 29-bit identifiers.
func (p *Profile) Extended() bool {
	return p.Addressing.Extended || udsprobe.IsExtendedID(p.Addressing.Tester)
}

func (p *Profile) AdapterConfig() *udsprobe.AdapterConfig {
	return &udsprobe.AdapterConfig{
		Debug:        p.Adapter.Debug,
		Port:         p.Adapter.Port,
		PortBaudrate: p.Adapter.Baudrate,
		CANRate:      p.Adapter.CANRate,
	}
}

func (p *Profile) LinkConfig() isotp.Config {
	cfg := isotp.DefaultConfig(p.Addressing.Tester, p.Addressing.ECU)
	cfg.Extended = p.Extended()
	return cfg
}

func (p *Profile) ClientConfig() uds.Config {
	return uds.Config{
		IdleTimeout:  p.Timing.Timeout,
		PollInterval: p.Timing.Poll,
	}
}

func (p *Profile) HeartbeatConfig() uds.HeartbeatConfig {
	return uds.HeartbeatConfig{
		Period:           p.KeepAlive.Period,
		SuppressResponse: p.KeepAlive.Suppress,
	}
}
