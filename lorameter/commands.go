package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/itohio/lorameter/pkg/lorawan/atmodem"
	"github.com/itohio/lorameter/pkg/payload"
)

// decode runs the uplink formatter on hex payloads and prints the fields
// as JSON, one object per line.
func decode(w io.Writer, fPort uint8, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: lorameter [-fport N] decode <hex payload>...")
		return 1
	}

	f := payload.NewFormatter("")
	enc := json.NewEncoder(w)
	for _, arg := range args {
		b, err := hex.DecodeString(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid payload %q: %v\n", arg, err)
			return 1
		}

		fields, err := f.Decode(fPort, b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "can't decode payload %q: %v\n", arg, err)
			return 1
		}

		if err := enc.Encode(fields); err != nil {
			fmt.Fprintf(os.Stderr, "can't encode fields: %v\n", err)
			return 1
		}
	}
	return 0
}

// listPorts prints the serial ports a modem may be attached to.
func listPorts(w io.Writer) int {
	ports, err := atmodem.Ports()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return 0
}
