//go:build !tinygo

package adc

import (
	"fmt"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// OpenADS1115 initializes the host drivers and opens the named I2C bus
// (empty name selects the first bus).
func OpenADS1115(busName string, addr uint16) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}

	d := NewADS1115(bus, addr)
	d.closer = bus.Close
	return d, nil
}
