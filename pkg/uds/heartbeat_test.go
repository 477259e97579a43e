package uds

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// addressedECU records the target of every SendTo.
type addressedECU struct {
	fakeECU
	mu      sync.Mutex
	targets []uint32
}

func (a *addressedECU) SendTo(id uint32, payload []byte) error {
	a.mu.Lock()
	a.targets = append(a.targets, id)
	a.mu.Unlock()
	return a.Send(payload)
}

func TestHeartbeat_SendsEveryPeriod(t *testing.T) {
	ecu := &fakeECU{}
	hb := StartHeartbeat(context.Background(), ecu, HeartbeatConfig{Period: 20 * time.Millisecond})
	time.Sleep(110 * time.Millisecond)
	hb.Stop()

	sent := ecu.Sent()
	if len(sent) < 3 || len(sent) > 7 {
		t.Errorf("sent %d tester presents in 110ms at 20ms period", len(sent))
	}
	for _, s := range sent {
		if !bytes.Equal(s, []byte{0x3E, 0x00}) {
			t.Fatalf("heartbeat payload = % X, want 3E 00", s)
		}
	}
	if hb.Sent() != uint64(len(sent)) || hb.Failed() != 0 {
		t.Errorf("Sent() = %d Failed() = %d", hb.Sent(), hb.Failed())
	}
}

func TestHeartbeat_FailuresDoNotStop(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	ecu := &fakeECU{
		sendErr: func([]byte) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls <= 2 {
				return errLinkDown
			}
			return nil
		},
	}
	hb := StartHeartbeat(context.Background(), ecu, HeartbeatConfig{Period: 10 * time.Millisecond})
	deadline := time.Now().Add(time.Second)
	for hb.Sent() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hb.Stop()
	if hb.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", hb.Failed())
	}
	if hb.Sent() < 2 {
		t.Errorf("Sent() = %d, heartbeat stopped after failures", hb.Sent())
	}
}

func TestHeartbeat_StopHaltsSends(t *testing.T) {
	ecu := &fakeECU{}
	hb := StartHeartbeat(context.Background(), ecu, HeartbeatConfig{Period: 5 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	hb.Stop()
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("Stop() took %s, longer than a period", time.Since(start))
	}
	select {
	case <-hb.Done():
	default:
		t.Fatal("Done() not closed after Stop()")
	}
	n := len(ecu.Sent())
	time.Sleep(30 * time.Millisecond)
	if len(ecu.Sent()) != n {
		t.Errorf("sends continued after Stop(): %d -> %d", n, len(ecu.Sent()))
	}
}

func TestHeartbeat_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hb := StartHeartbeat(ctx, &fakeECU{}, HeartbeatConfig{Period: time.Hour})
	cancel()
	select {
	case <-hb.Done():
	case <-time.After(time.Second):
		t.Fatal("heartbeat ignored context cancellation")
	}
}

func TestHeartbeat_Target(t *testing.T) {
	tests := []struct {
		name        string
		cfg         HeartbeatConfig
		wantTargets int
		wantPayload []byte
	}{
		{name: "own target", cfg: HeartbeatConfig{Period: time.Hour}, wantTargets: 0, wantPayload: []byte{0x3E, 0x00}},
		{name: "functional", cfg: HeartbeatConfig{Period: time.Hour, Target: 0x7DF}, wantTargets: 1, wantPayload: []byte{0x3E, 0x00}},
		{name: "suppressed", cfg: HeartbeatConfig{Period: time.Hour, SuppressResponse: true}, wantPayload: []byte{0x3E, 0x80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ecu := &addressedECU{}
			hb := StartHeartbeat(context.Background(), ecu, tt.cfg)
			deadline := time.Now().Add(time.Second)
			for hb.Sent() == 0 && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			hb.Stop()
			sent := ecu.Sent()
			if len(sent) != 1 || !bytes.Equal(sent[0], tt.wantPayload) {
				t.Fatalf("sent %X, want one % X", sent, tt.wantPayload)
			}
			ecu.mu.Lock()
			defer ecu.mu.Unlock()
			if len(ecu.targets) != tt.wantTargets {
				t.Fatalf("SendTo used %d times, want %d", len(ecu.targets), tt.wantTargets)
			}
			if tt.wantTargets > 0 && ecu.targets[0] != tt.cfg.Target {
				t.Errorf("target = 0x%X, want 0x%X", ecu.targets[0], tt.cfg.Target)
			}
		})
	}
}

func TestHeartbeat_RunsAlongsideExchange(t *testing.T) {
	ecu := &fakeECU{respond: func(req []byte) [][]byte {
		if req[0] != SIDReadDataByIdentifier {
			return nil
		}
		return [][]byte{{0x62, req[1], req[2], 0x01}}
	}}
	hb := StartHeartbeat(context.Background(), ecu, HeartbeatConfig{Period: 2 * time.Millisecond, SuppressResponse: true})
	defer hb.Stop()

	c := New(ecu, Config{IdleTimeout: 5 * time.Millisecond, PollInterval: time.Millisecond})
	ex, err := c.Exchange(context.Background(), BuildReadDataByIdentifier(0xF190))
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Responses) == 0 {
		t.Fatal("no response to the request")
	}
	if ex.Outcome.Kind != Positive {
		t.Errorf("outcome = %s; the first frame should answer the request", ex.Outcome)
	}
}

// testerPresentOnly answers 3E 00 with 7E 00 and ignores every other request.
func testerPresentOnly(req []byte) [][]byte {
	if bytes.Equal(req, []byte{SIDTesterPresent, 0x00}) {
		return [][]byte{{SIDTesterPresent + PositiveResponseOffset, 0x00}}
	}
	return nil
}

func TestHeartbeat_RepliesDoNotAnswerRequests(t *testing.T) {
	cfg := Config{IdleTimeout: 3 * time.Millisecond, PollInterval: time.Millisecond}
	tests := []struct {
		name string
		run  func(t *testing.T, c *Client)
	}{
		{
			name: "exchange",
			run: func(t *testing.T, c *Client) {
				for i := 0; i < 20; i++ {
					ex, err := c.Exchange(context.Background(), BuildReadDataByIdentifier(0xF190))
					if err != nil {
						t.Fatal(err)
					}
					if ex.Outcome.Kind != NoResponse || ex.First() != nil {
						t.Fatalf("outcome = %s from % X", ex.Outcome, ex.Responses)
					}
				}
			},
		},
		{
			name: "scanner",
			run: func(t *testing.T, c *Client) {
				scanCfg := DefaultScanConfig(ScanDID)
				scanCfg.End = 0x3F
				s, err := NewScanner(c, scanCfg)
				if err != nil {
					t.Fatal(err)
				}
				res, err := s.Collect(context.Background())
				if err != nil {
					t.Fatal(err)
				}
				for _, r := range res {
					t.Errorf("DID 0x%04X reported %s from % X", r.Value, r.Outcome, r.Responses)
				}
			},
		},
		{
			name: "cracker",
			run: func(t *testing.T, c *Client) {
				s, err := NewCracker(c).CrackByXOR(context.Background(), []byte{0x12, 0x34}, []byte{0x27, 0x02})
				if err != nil {
					t.Fatal(err)
				}
				if s.State != Exhausted || s.Key != nil || s.Attempts != 256 {
					t.Errorf("state = %s, key % X, attempts %d, response % X", s.State, s.Key, s.Attempts, s.Response)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ecu := &fakeECU{respond: testerPresentOnly}
			hb := StartHeartbeat(context.Background(), ecu, HeartbeatConfig{Period: 5 * time.Millisecond})
			defer hb.Stop()
			tt.run(t, New(ecu, cfg))
			if hb.Sent() == 0 {
				t.Error("heartbeat never sent")
			}
		})
	}
}
