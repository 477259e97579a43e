package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/roffe/udsprobe/pkg/uds"
)

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
	cyan   = color.New(color.FgCyan).SprintfFunc()
)

// printExchange writes every frame of an exchange, the answer marked and
// positive frames with their payload decoded.
func printExchange(w io.Writer, ex *uds.Exchange) {
	if len(ex.Responses) == 0 {
		fmt.Fprintln(w, yellow("%s: no response", ex.Request))
		return
	}
	printFrames(w, ex.Request, ex.Responses, ex.Answer)
}

func printFrames(w io.Writer, req uds.Request, frames [][]byte, answer int) {
	for i, frame := range frames {
		printFrame(w, req, frame, i == answer)
	}
}

func printFrame(w io.Writer, req uds.Request, frame []byte, answer bool) {
	if !uds.Answers(req, frame) {
		fmt.Fprintln(w, "   "+yellow("% X", frame)+"  unrelated")
		return
	}
	out := uds.Classify(frame)
	prefix := "   "
	if answer {
		prefix = "<< "
	}
	switch out.Kind {
	case uds.Positive:
		fmt.Fprintln(w, prefix+green("% X", frame))
		if data := uds.ResponseData(req, frame); len(data) > 0 {
			fmt.Fprintf(w, "    Data: %X\n", data)
			fmt.Fprintf(w, "    Decoded data: %s\n", cyan("%s", uds.Printable(data)))
		}
	case uds.Negative:
		fmt.Fprintln(w, prefix+red("% X", frame)+"  "+red("%s", out.String()))
	default:
		fmt.Fprintln(w, prefix+yellow("% X", frame)+"  "+out.Description)
	}
}

// printResult prints a scan result on one line plus any payload.
func printResult(w io.Writer, kind uds.ScanKind, res uds.ScanResult) {
	label := fmt.Sprintf("%s 0x%04X", kind, res.Value)
	if kind == uds.ScanMemory {
		label = fmt.Sprintf("address 0x%08X", res.Value)
	}
	if res.Err != nil {
		fmt.Fprintln(w, red("%s: %v", label, res.Err))
		return
	}
	switch res.Outcome.Kind {
	case uds.Positive:
		fmt.Fprintln(w, green("%s: %s", label, res.Outcome.Description))
	case uds.Negative:
		fmt.Fprintln(w, red("%s: %s", label, res.Outcome.Description))
	default:
		fmt.Fprintln(w, yellow("%s: %s", label, res.Outcome.Description))
	}
	printFrames(w, res.Request, res.Responses, uds.FirstAnswer(res.Request, res.Responses))
}
