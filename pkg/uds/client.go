package uds

import (
	"context"
	"fmt"
	"time"
)

// Config holds the timing of a request/response exchange.
type Config struct {
	// IdleTimeout is the inter-frame gap that ends a response window.
	IdleTimeout time.Duration
	// PollInterval is the sleep between transport polls.
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		IdleTimeout:  DefaultIdleTimeout,
		PollInterval: DefaultPollInterval,
	}
}

func (c Config) collector() Collector {
	return Collector{IdleTimeout: c.IdleTimeout, PollInterval: c.PollInterval}
}

// Client performs request/response exchanges over a Transport. Each call
// sends one request and blocks until its response window closes.
type Client struct {
	t   Transport
	cfg Config
}

func New(t Transport, cfg Config) *Client {
	return &Client{t: t, cfg: cfg}
}

func (c *Client) Config() Config {
	return c.cfg
}

// Exchange is one request and the frames that arrived in its window.
type Exchange struct {
	Request   Request
	Responses [][]byte
	// Answer indexes the first frame in Responses that replies to Request,
	// -1 when none does.
	Answer int
	// Outcome classifies the answering frame, NoResponse when there is none.
	Outcome Outcome
}

// First returns the first frame answering the request or nil.
func (e *Exchange) First() []byte {
	if e.Answer < 0 || e.Answer >= len(e.Responses) {
		return nil
	}
	return e.Responses[e.Answer]
}

// Data returns the payload of the answer when it is positive.
func (e *Exchange) Data() []byte {
	if e.Outcome.Kind != Positive {
		return nil
	}
	return ResponseData(e.Request, e.First())
}

// Err converts the outcome into an error for callers that require a
// positive reply: ErrNoResponse, *NegativeResponseError or an *InputError
// describing a malformed or empty frame.
func (e *Exchange) Err() error {
	switch e.Outcome.Kind {
	case Positive:
		return nil
	case NoResponse:
		return ErrNoResponse
	case Negative:
		return &NegativeResponseError{SID: e.Outcome.SID, NRC: e.Outcome.NRC}
	default:
		return &InputError{Input: fmt.Sprintf("% X", e.First()), Reason: e.Outcome.Description}
	}
}

// Exchange sends req and collects the responses. All frames of the window
// are kept, but only one answering req decides the outcome. A send failure
// is returned as a *TransportError, cancellation as ctx.Err() with the
// frames received so far.
func (c *Client) Exchange(ctx context.Context, req Request) (*Exchange, error) {
	if len(req) == 0 {
		return nil, ErrEmptyRequest
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ex := &Exchange{Request: req, Answer: -1, Outcome: noResponse}
	if err := c.t.Send(req); err != nil {
		return ex, &TransportError{Op: fmt.Sprintf("send %s", req), Err: err}
	}
	frames, err := c.cfg.collector().Collect(ctx, c.t)
	ex.Responses = frames
	if ex.Answer = FirstAnswer(req, frames); ex.Answer >= 0 {
		ex.Outcome = Classify(frames[ex.Answer])
	} else if len(frames) > 0 {
		ex.Outcome = Outcome{Kind: NoResponse, Description: fmt.Sprintf("No response received, %d unrelated frame(s)", len(frames))}
	}
	return ex, err
}

// RequestSeed sends a SecurityAccess requestSeed header (27 <odd level>) and,
// on a positive 67 <level> <seed...> reply, returns a session holding the
// seed and the derived sendKey header. The session is nil for any other
// outcome; the exchange is always returned.
func (c *Client) RequestSeed(ctx context.Context, seedHeader Request) (*SecurityAccessSession, *Exchange, error) {
	if len(seedHeader) < 2 || seedHeader[0] != SIDSecurityAccess {
		return nil, nil, &InputError{Input: seedHeader.String(), Reason: "not a SecurityAccess requestSeed header"}
	}
	keyHeader, err := KeyHeader(seedHeader)
	if err != nil {
		return nil, nil, err
	}
	ex, err := c.Exchange(ctx, seedHeader)
	if err != nil {
		return nil, ex, err
	}
	if ex.Outcome.Kind != Positive {
		return nil, ex, nil
	}
	first := ex.First()
	var seed []byte
	if len(first) > 2 {
		seed = append([]byte(nil), first[2:]...)
	}
	return NewSession(seed, keyHeader), ex, nil
}
