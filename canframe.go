package udsprobe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Largest identifier that fits in an 11-bit standard frame.
const MaxStandardID = 0x7FF

type CANFrameType int

const (
	Incoming CANFrameType = iota
	Outgoing
)

type CANFrame struct {
	Identifier uint32
	Extended   bool
	Data       []byte
	FrameType  CANFrameType
}

// NewFrame creates a new CANFrame and copies the data slice
func NewFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Extended:   IsExtendedID(identifier),
		Data:       d,
		FrameType:  frameType,
	}
}

// IsExtendedID reports whether identifier needs a 29-bit frame.
func IsExtendedID(identifier uint32) bool {
	return identifier > MaxStandardID
}

// Returns the length of the data (DLC)
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f *CANFrame) String() string {
	return f.format(fmt.Sprintf, fmt.Sprintf, fmt.Sprintf)
}

// ColorString is String with the identifier, hex and ascii columns colourised.
func (f *CANFrame) ColorString() string {
	return f.format(green, red, yellow)
}

func (f *CANFrame) format(idFn, hexFn, asciiFn func(string, ...interface{}) string) string {
	var out strings.Builder
	switch f.FrameType {
	case Incoming:
		out.WriteString("<i> || ")
	case Outgoing:
		out.WriteString("<o> || ")
	}
	if f.Extended {
		out.WriteString(idFn("0x%08X", f.Identifier) + " || ")
	} else {
		out.WriteString(idFn("0x%03X", f.Identifier) + " || ")
	}
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")

	var hexView strings.Builder
	for i, b := range f.Data {
		hexView.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			hexView.WriteString(" ")
		}
	}
	out.WriteString(hexFn("%-23s", hexView.String()))
	out.WriteString(" || ")
	out.WriteString(asciiFn("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteByte('.')
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
