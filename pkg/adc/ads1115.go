package adc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultAddress is the ADS1115 address with ADDR tied to GND.
	DefaultAddress = 0x48

	regConversion = 0x00
	regConfig     = 0x01

	cfgOS        = 0x8000 // start single conversion / conversion done
	cfgMuxDiff01 = 0x0000 // AIN0 - AIN1
	cfgModeOnce  = 0x0100
	cfgRate860   = 0x00E0
	cfgCompOff   = 0x0003
	cfgPGAShift  = 9

	// a conversion at 860 SPS takes about 1.2 ms
	pollInterval = 200 * time.Microsecond
	pollAttempts = 50
)

// ErrConversionTimeout is returned when the conversion ready bit never sets.
var ErrConversionTimeout = errors.New("ads1115 conversion timeout")

// Bus is the subset of an I2C bus the driver needs. It is satisfied by
// periph.io i2c.Bus on Linux hosts and by machine.I2C under TinyGo.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// ADS1115 drives a TI ADS1115 in single-shot differential mode on AIN0-AIN1.
type ADS1115 struct {
	bus   Bus
	addr  uint16
	gain  Gain
	sleep func(time.Duration)

	mu      sync.Mutex
	started bool
	closer  func() error
}

// NewADS1115 creates a driver on the given bus. Address 0 selects DefaultAddress.
func NewADS1115(bus Bus, addr uint16) *ADS1115 {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &ADS1115{
		bus:   bus,
		addr:  addr,
		gain:  GainTwoThirds, // power-on default
		sleep: time.Sleep,
	}
}

// Begin probes the device by reading its config register.
func (d *ADS1115) Begin(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := d.readRegister(regConfig); err != nil {
		return fmt.Errorf("failed to probe ads1115 at 0x%02x: %w", d.addr, err)
	}
	d.started = true
	return nil
}

// SetGain selects the PGA range used by following conversions.
func (d *ADS1115) SetGain(g Gain) error {
	if g > GainSixteen {
		return fmt.Errorf("%w: %d", ErrUnknownGain, g)
	}
	d.mu.Lock()
	d.gain = g
	d.mu.Unlock()
	return nil
}

// Gain returns the current PGA setting.
func (d *ADS1115) Gain() Gain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// ReadDifferential starts a single conversion and blocks until it completes.
func (d *ADS1115) ReadDifferential(ctx context.Context) (int16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return 0, ErrNotStarted
	}

	cfg := uint16(cfgOS | cfgMuxDiff01 | cfgModeOnce | cfgRate860 | cfgCompOff)
	cfg |= uint16(d.gain) << cfgPGAShift
	if err := d.writeRegister(regConfig, cfg); err != nil {
		return 0, fmt.Errorf("failed to start conversion: %w", err)
	}

	for i := 0; i < pollAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		d.sleep(pollInterval)

		status, err := d.readRegister(regConfig)
		if err != nil {
			return 0, fmt.Errorf("failed to poll conversion: %w", err)
		}
		if status&cfgOS == 0 {
			continue
		}

		raw, err := d.readRegister(regConversion)
		if err != nil {
			return 0, fmt.Errorf("failed to read conversion: %w", err)
		}
		return int16(raw), nil
	}

	return 0, ErrConversionTimeout
}

// Close releases the bus if the driver opened it.
func (d *ADS1115) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.started = false
	if d.closer != nil {
		err := d.closer()
		d.closer = nil
		return err
	}
	return nil
}

func (d *ADS1115) writeRegister(reg byte, v uint16) error {
	w := [3]byte{reg}
	binary.BigEndian.PutUint16(w[1:], v)
	return d.bus.Tx(d.addr, w[:], nil)
}

func (d *ADS1115) readRegister(reg byte) (uint16, error) {
	var r [2]byte
	if err := d.bus.Tx(d.addr, []byte{reg}, r[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r[:]), nil
}
