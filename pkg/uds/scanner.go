package uds

import (
	"context"
	"fmt"
)

type ScanKind int

const (
	ScanDID ScanKind = iota
	ScanRID
	ScanMemory
)

func (k ScanKind) String() string {
	switch k {
	case ScanDID:
		return "DID"
	case ScanRID:
		return "RID"
	case ScanMemory:
		return "memory"
	default:
		return "unknown"
	}
}

type ScanConfig struct {
	Kind ScanKind
	// Start and End are inclusive bounds. A scan can be resumed by starting
	// at the value after the last one reported.
	Start, End uint64
	// Step between memory addresses. Identifier scans always step by one.
	Step uint64

	// RoutineSubFunction is sent as 31 <sub> RIDhi RIDlo unless
	// OmitSubFunction selects the bare 31 RIDhi RIDlo framing.
	RoutineSubFunction byte
	OmitSubFunction    bool

	// ReadMemoryByAddress encoding: bytes of address, bytes of size, and
	// the number of bytes read at every address.
	AddressLen int
	SizeLen    int
	Size       uint64

	// MaxRequestLen, when set, is the longest request the transport can
	// send. NewScanner rejects configurations that exceed it.
	MaxRequestLen int

	// PauseOnPositive calls Confirm after every positive outcome; the scan
	// stops when Confirm returns false.
	PauseOnPositive bool
	Confirm         func(ScanResult) bool
}

func DefaultScanConfig(kind ScanKind) ScanConfig {
	cfg := ScanConfig{
		Kind:               kind,
		Step:               1,
		RoutineSubFunction: StartRoutine,
		AddressLen:         4,
		SizeLen:            1,
		Size:               0xFF,
	}
	if kind != ScanMemory {
		cfg.End = 0xFFFF
	}
	return cfg
}

// ScanResult is the outcome for a single scanned value. Err is set when the
// transport failed for this value; the scan itself carries on.
type ScanResult struct {
	Value     uint64
	Request   Request
	Responses [][]byte
	Outcome   Outcome
	Err       error
}

// Scanner walks an identifier or address space issuing one request per value.
type Scanner struct {
	client *Client
	cfg    ScanConfig
}

func NewScanner(c *Client, cfg ScanConfig) (*Scanner, error) {
	if cfg.End < cfg.Start {
		return nil, &InputError{Input: fmt.Sprintf("0x%X-0x%X", cfg.Start, cfg.End), Reason: "end before start"}
	}
	switch cfg.Kind {
	case ScanDID, ScanRID:
		if cfg.End > 0xFFFF {
			return nil, &RangeError{Field: cfg.Kind.String(), Value: cfg.End, Width: 2}
		}
		cfg.Step = 1
	case ScanMemory:
		if cfg.Step == 0 {
			cfg.Step = 1
		}
		// validate the widths and both ends once so per-address encoding cannot fail
		if _, err := BuildReadMemoryByAddress(cfg.End, cfg.Size, cfg.AddressLen, cfg.SizeLen); err != nil {
			return nil, err
		}
	default:
		return nil, &InputError{Input: cfg.Kind.String(), Reason: "unknown scan kind"}
	}
	s := &Scanner{client: c, cfg: cfg}
	if cfg.MaxRequestLen > 0 {
		req, err := s.Request(cfg.End)
		if err != nil {
			return nil, err
		}
		if len(req) > cfg.MaxRequestLen {
			return nil, &InputError{
				Input:  req.String(),
				Reason: fmt.Sprintf("request of %d bytes exceeds the %d byte transport limit", len(req), cfg.MaxRequestLen),
			}
		}
	}
	return s, nil
}

// Count is the number of values the scan visits.
func (s *Scanner) Count() uint64 {
	return (s.cfg.End-s.cfg.Start)/s.cfg.Step + 1
}

// Request builds the request sent for value v.
func (s *Scanner) Request(v uint64) (Request, error) {
	switch s.cfg.Kind {
	case ScanDID:
		return BuildReadDataByIdentifier(uint16(v)), nil
	case ScanRID:
		if s.cfg.OmitSubFunction {
			return BuildRoutineControlNoSubFunction(uint16(v)), nil
		}
		return BuildRoutineControl(uint16(v), s.cfg.RoutineSubFunction), nil
	default:
		return BuildReadMemoryByAddress(v, s.cfg.Size, s.cfg.AddressLen, s.cfg.SizeLen)
	}
}

// Scan visits every value from Start to End in ascending order and hands
// each result to fn. Returning false from fn stops the scan.
//
// Transport failures are recorded on the result and the scan moves on. No
// value is retried. Cancelling ctx abandons the in-flight request and Scan
// returns ctx.Err().
func (s *Scanner) Scan(ctx context.Context, fn func(ScanResult) bool) error {
	v := s.cfg.Start
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := s.Request(v)
		if err != nil {
			return err
		}
		res := ScanResult{Value: v, Request: req, Outcome: noResponse}
		ex, err := s.client.Exchange(ctx, req)
		if ex != nil {
			res.Responses = ex.Responses
			res.Outcome = ex.Outcome
		}
		if err != nil {
			if !IsTransportError(err) {
				return err
			}
			res.Err = err
		}
		if fn != nil && !fn(res) {
			return nil
		}
		if res.Outcome.Kind == Positive && s.cfg.PauseOnPositive && s.cfg.Confirm != nil && !s.cfg.Confirm(res) {
			return nil
		}
		if s.cfg.End-v < s.cfg.Step {
			return nil
		}
		v += s.cfg.Step
	}
}

// Collect runs the scan and keeps the results that got an answer.
func (s *Scanner) Collect(ctx context.Context) ([]ScanResult, error) {
	var out []ScanResult
	err := s.Scan(ctx, func(res ScanResult) bool {
		if res.Outcome.Kind != NoResponse {
			out = append(out, res)
		}
		return true
	})
	return out, err
}
