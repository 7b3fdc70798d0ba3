//go:build !tinygo

package atmodem

import (
	"fmt"

	"go.bug.st/serial"
)

// Open opens the serial port and starts the line reader.
func Open(port string, baudRate int, opts Options) (*Modem, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}

	return New(p, opts), nil
}

// Ports returns the names of the serial ports a modem may be attached to.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
