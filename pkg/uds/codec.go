package uds

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Service identifiers
const (
	SIDDiagnosticSessionControl = 0x10
	SIDECUReset                 = 0x11
	SIDReadDataByIdentifier     = 0x22
	SIDReadMemoryByAddress      = 0x23
	SIDSecurityAccess           = 0x27
	SIDRoutineControl           = 0x31
	SIDTesterPresent            = 0x3E

	NegativeResponse = 0x7F

	// positive response SID = request SID + PositiveResponseOffset
	PositiveResponseOffset = 0x40
)

// RoutineControl sub-functions
const (
	StartRoutine          = 0x01
	StopRoutine           = 0x02
	RequestRoutineResults = 0x03
)

// Request is an encoded UDS request, SID first.
type Request []byte

func (r Request) SID() byte {
	if len(r) == 0 {
		return 0
	}
	return r[0]
}

func (r Request) String() string {
	return fmt.Sprintf("% X", []byte(r))
}

func BuildReadDataByIdentifier(did uint16) Request {
	return Request{SIDReadDataByIdentifier, byte(did >> 8), byte(did)}
}

// BuildRoutineControl encodes 31 <subFunc> RIDhi RIDlo.
func BuildRoutineControl(rid uint16, subFunc byte) Request {
	return Request{SIDRoutineControl, subFunc, byte(rid >> 8), byte(rid)}
}

// BuildRoutineControlNoSubFunction encodes 31 RIDhi RIDlo, the framing some
// ECUs answer to although it lacks the mandatory sub-function byte.
func BuildRoutineControlNoSubFunction(rid uint16) Request {
	return Request{SIDRoutineControl, byte(rid >> 8), byte(rid)}
}

// BuildReadMemoryByAddress encodes 23 <fmt> <address> <size> where the
// addressAndLengthFormatIdentifier is (sizeLen << 4) | addrLen.
func BuildReadMemoryByAddress(address, size uint64, addrLen, sizeLen int) (Request, error) {
	if addrLen < 1 || addrLen > 15 {
		return nil, &InputError{Input: fmt.Sprint(addrLen), Reason: "address length must be 1..15 bytes"}
	}
	if sizeLen < 1 || sizeLen > 15 {
		return nil, &InputError{Input: fmt.Sprint(sizeLen), Reason: "size length must be 1..15 bytes"}
	}
	if !fits(address, addrLen) {
		return nil, &RangeError{Field: "address", Value: address, Width: addrLen}
	}
	if !fits(size, sizeLen) {
		return nil, &RangeError{Field: "size", Value: size, Width: sizeLen}
	}
	req := make(Request, 2, 2+addrLen+sizeLen)
	req[0] = SIDReadMemoryByAddress
	req[1] = byte(sizeLen<<4) | byte(addrLen)
	req = appendBigEndian(req, address, addrLen)
	req = appendBigEndian(req, size, sizeLen)
	return req, nil
}

// BuildSecurityAccessSeed encodes 27 <level>, level being the odd
// requestSeed sub-function.
func BuildSecurityAccessSeed(level byte) Request {
	return Request{SIDSecurityAccess, level}
}

// BuildSecurityAccessKey encodes 27 <level+1> <key...>.
func BuildSecurityAccessKey(level byte, key []byte) Request {
	req := make(Request, 0, 2+len(key))
	req = append(req, SIDSecurityAccess, level+1)
	return append(req, key...)
}

func BuildTesterPresent(suppressResponse bool) Request {
	if suppressResponse {
		return Request{SIDTesterPresent, 0x80}
	}
	return Request{SIDTesterPresent, 0x00}
}

// KeyHeader derives the sendKey header from a requestSeed header by
// incrementing the sub-function byte, modulo 256.
func KeyHeader(seedHeader []byte) ([]byte, error) {
	if len(seedHeader) < 2 {
		return nil, &InputError{Input: fmt.Sprintf("% X", seedHeader), Reason: "security access header needs a sub-function byte"}
	}
	out := make([]byte, len(seedHeader))
	copy(out, seedHeader)
	out[1]++
	return out, nil
}

// ParseHex decodes a hex string such as "27 01" or "2701".
func ParseHex(s string) (Request, error) {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
	}
	clean := strings.Join(fields, "")
	if clean == "" {
		return nil, &InputError{Input: s, Reason: "empty hex string"}
	}
	if len(clean)%2 != 0 {
		return nil, &InputError{Input: s, Reason: "odd number of hex digits"}
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, &InputError{Input: s, Reason: "invalid hex digit"}
	}
	return b, nil
}

func fits(v uint64, width int) bool {
	if width >= 8 {
		return true
	}
	return v>>(8*uint(width)) == 0
}

func appendBigEndian(dst []byte, v uint64, width int) []byte {
	out := make([]byte, width)
	for i := width - 1; i >= 0 && v > 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return append(dst, out...)
}

// Kind classifies a response frame.
type Kind int

const (
	NoResponse Kind = iota
	Empty
	Positive
	Negative
	Malformed
)

func (k Kind) String() string {
	switch k {
	case NoResponse:
		return "NoResponse"
	case Empty:
		return "Empty"
	case Positive:
		return "Positive"
	case Negative:
		return "Negative"
	case Malformed:
		return "Malformed"
	default:
		return "Unknown"
	}
}

// Outcome is the classification of one response frame. Negative, Malformed
// and NoResponse are ordinary outcomes, not errors.
type Outcome struct {
	Kind        Kind
	SID         byte // echoed request SID, negative responses only
	NRC         byte
	Description string
}

func (o Outcome) String() string {
	if o.Kind == Negative {
		return fmt.Sprintf("Negative (0x%02X %s): %s", o.SID, TranslateServiceID(o.SID), o.Description)
	}
	return o.Description
}

// Classify decodes the positive/negative status of a response frame.
func Classify(frame []byte) Outcome {
	switch {
	case len(frame) == 0:
		return Outcome{Kind: Empty, Description: "Empty response"}
	case frame[0] != NegativeResponse:
		return Outcome{Kind: Positive, Description: "Positive Response"}
	case len(frame) < 3:
		return Outcome{Kind: Malformed, Description: "Malformed negative response"}
	}
	return Outcome{
		Kind:        Negative,
		SID:         frame[1],
		NRC:         frame[2],
		Description: TranslateNRC(frame[2]),
	}
}

var noResponse = Outcome{Kind: NoResponse, Description: "No response received"}

// Answers reports whether frame replies to req: a positive response carrying
// req's SID plus 0x40, or a negative response echoing req's SID. A negative
// response too short to echo a SID is taken as a reply.
func Answers(req Request, frame []byte) bool {
	if len(frame) == 0 || len(req) == 0 {
		return false
	}
	if frame[0] == NegativeResponse {
		return len(frame) < 2 || frame[1] == req.SID()
	}
	return frame[0] == req.SID()+PositiveResponseOffset
}

// FirstAnswer returns the index of the first frame answering req, or -1.
// Frames from other traffic on the link, such as tester present replies,
// are skipped.
func FirstAnswer(req Request, frames [][]byte) int {
	for i, f := range frames {
		if Answers(req, f) {
			return i
		}
	}
	return -1
}

// ResponseData strips the echoed header from a positive response to req and
// returns the payload.
func ResponseData(req Request, frame []byte) []byte {
	if len(frame) == 0 || frame[0] == NegativeResponse {
		return nil
	}
	var skip int
	switch req.SID() {
	case SIDReadDataByIdentifier:
		skip = 3 // 62 DIDhi DIDlo
	case SIDRoutineControl:
		skip = len(req) // 71 [subfunc] RIDhi RIDlo
	case SIDReadMemoryByAddress:
		skip = 1
	case SIDSecurityAccess, SIDTesterPresent:
		skip = 2
	default:
		skip = min(len(req), 2)
	}
	if skip >= len(frame) {
		return nil
	}
	return frame[skip:]
}

// Printable renders data as ASCII with '.' for bytes outside the printable range.
func Printable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 0x20 || b > 0x7E {
			out.WriteByte('.')
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
