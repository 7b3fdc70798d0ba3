package uplink

import "fmt"

// ResultKind classifies the outcome of a send attempt.
type ResultKind uint8

const (
	TransmissionError ResultKind = iota
	NoDownlink
	DownlinkReceived
)

func (k ResultKind) String() string {
	switch k {
	case TransmissionError:
		return "transmission_error"
	case NoDownlink:
		return "no_downlink"
	case DownlinkReceived:
		return "downlink"
	}
	return fmt.Sprintf("ResultKind(%d)", uint8(k))
}

// Result is the interpreted outcome of Session.SendReceive.
type Result struct {
	Kind   ResultKind
	Code   int // raw session result
	Window int // receive window for DownlinkReceived
}

// Interpret maps a session result code: negative codes are transmission
// errors, zero means no downlink and positive codes give the receive window.
func Interpret(code int) Result {
	switch {
	case code < 0:
		return Result{Kind: TransmissionError, Code: code}
	case code == 0:
		return Result{Kind: NoDownlink}
	}
	return Result{Kind: DownlinkReceived, Code: code, Window: code}
}

func (r Result) String() string {
	switch r.Kind {
	case TransmissionError:
		return fmt.Sprintf("transmission error (%d)", r.Code)
	case DownlinkReceived:
		return fmt.Sprintf("downlink in RX%d", r.Window)
	}
	return r.Kind.String()
}
