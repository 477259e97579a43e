package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/roffe/udsprobe/pkg/profile"
	"github.com/roffe/udsprobe/pkg/uds"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"7E0", 0x7E0, false},
		{"0x7e8", 0x7E8, false},
		{" 18DB33F1 ", 0x18DB33F1, false},
		{"20000000", 0, true},
		{"", 0, true},
		{"xyz", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseID(%q) = 0x%X, %v, want 0x%X, wantErr %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestPrintExchange(t *testing.T) {
	color.NoColor = true
	tests := []struct {
		name string
		ex   *uds.Exchange
		want []string
	}{
		{
			name: "positive with data",
			ex: &uds.Exchange{
				Request:   uds.BuildReadDataByIdentifier(0xF190),
				Responses: [][]byte{{0x62, 0xF1, 0x90, 'W', 'B', 0x00}},
			},
			want: []string{"<< 62 F1 90 57 42 00", "Data: 574200", "Decoded data: WB."},
		},
		{
			name: "negative",
			ex: &uds.Exchange{
				Request:   uds.BuildReadDataByIdentifier(0xF190),
				Responses: [][]byte{{0x7F, 0x22, 0x31}},
			},
			want: []string{"<< 7F 22 31", "Request Out Of Range"},
		},
		{
			name: "tester present reply ahead of the answer",
			ex: &uds.Exchange{
				Request:   uds.BuildReadDataByIdentifier(0xF190),
				Responses: [][]byte{{0x7E, 0x00}, {0x62, 0xF1, 0x90, 0x41}},
				Answer:    1,
			},
			want: []string{"   7E 00  unrelated", "<< 62 F1 90 41", "Decoded data: A"},
		},
		{
			name: "silent",
			ex:   &uds.Exchange{Request: uds.Request{0x3E, 0x00}},
			want: []string{"3E 00: no response"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printExchange(&buf, tt.ex)
			for _, w := range tt.want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output %q missing %q", buf.String(), w)
				}
			}
		})
	}
}

func TestWithIDs(t *testing.T) {
	tests := []struct {
		name       string
		tester     string
		ecu        string
		wantTester uint32
		wantECU    uint32
		wantErr    bool
	}{
		{name: "11-bit", tester: "7E1", ecu: "7E9", wantTester: 0x7E1, wantECU: 0x7E9},
		{name: "29-bit", tester: "18DA10F1", ecu: "18DAF110", wantTester: 0x18DA10F1, wantECU: 0x18DAF110},
		{name: "tester wider than 32 bits", tester: "1000007E0", ecu: "7E8", wantErr: true},
		{name: "ecu wider than 29 bits", tester: "7E0", ecu: "200007E8", wantErr: true},
		{name: "same ids", tester: "7E0", ecu: "7E0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := profile.Default()
			next, err := withIDs(p, tt.tester, tt.ecu)
			if (err != nil) != tt.wantErr {
				t.Fatalf("withIDs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if p.Addressing.Tester != 0x7E0 || p.Addressing.ECU != 0x7E8 {
				t.Errorf("withIDs() modified its input: %+v", p.Addressing)
			}
			if tt.wantErr {
				return
			}
			if next.Addressing.Tester != tt.wantTester || next.Addressing.ECU != tt.wantECU {
				t.Errorf("addressing = %+v", next.Addressing)
			}
		})
	}
}

func TestSeedSession(t *testing.T) {
	tests := []struct {
		name       string
		ex         *uds.Exchange
		wantHeader []byte
		wantSeed   []byte
	}{
		{
			name: "plain request",
			ex: &uds.Exchange{
				Request:   uds.Request{0x27, 0x01},
				Responses: [][]byte{{0x67, 0x01, 0xAB, 0xCD}},
				Outcome:   uds.Classify([]byte{0x67, 0x01, 0xAB, 0xCD}),
			},
			wantHeader: []byte{0x27, 0x02},
			wantSeed:   []byte{0xAB, 0xCD},
		},
		{
			name: "request with extra data",
			ex: &uds.Exchange{
				Request:   uds.Request{0x27, 0x03, 0x55},
				Responses: [][]byte{{0x67, 0x03, 0x12}},
				Outcome:   uds.Classify([]byte{0x67, 0x03, 0x12}),
			},
			wantHeader: []byte{0x27, 0x04, 0x55},
			wantSeed:   []byte{0x12},
		},
		{
			name: "sendKey request",
			ex: &uds.Exchange{
				Request:   uds.Request{0x27, 0x02, 0x00},
				Responses: [][]byte{{0x67, 0x02}},
				Outcome:   uds.Classify([]byte{0x67, 0x02}),
			},
		},
		{
			name: "denied",
			ex: &uds.Exchange{
				Request:   uds.Request{0x27, 0x01},
				Responses: [][]byte{{0x7F, 0x27, 0x37}},
				Outcome:   uds.Classify([]byte{0x7F, 0x27, 0x37}),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := seedSession(tt.ex)
			if err != nil {
				t.Fatal(err)
			}
			if tt.wantHeader == nil {
				if sess != nil {
					t.Fatalf("seedSession() = %+v, want nil", sess)
				}
				return
			}
			if sess == nil {
				t.Fatal("seedSession() = nil")
			}
			if !bytes.Equal(sess.Header, tt.wantHeader) || !bytes.Equal(sess.Seed, tt.wantSeed) {
				t.Errorf("header % X seed % X, want % X and % X", sess.Header, sess.Seed, tt.wantHeader, tt.wantSeed)
			}
		})
	}
}
