package adc

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotStarted is returned when reading from a device before Begin.
	ErrNotStarted = errors.New("adc not started")
	// ErrUnknownGain is returned by ParseGain for unknown names.
	ErrUnknownGain = errors.New("unknown adc gain")
)

// Device defines the interface of the differential ADC feeding the sampler
// (real or simulated).
type Device interface {
	Begin(ctx context.Context) error
	SetGain(g Gain) error
	// ReadDifferential performs one blocking conversion and returns the raw code.
	ReadDifferential(ctx context.Context) (int16, error)
	Close() error
}

// Ensure ADS1115 implements Device.
var _ Device = (*ADS1115)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

// Gain is the programmable gain amplifier setting.
type Gain uint8

const (
	GainTwoThirds Gain = iota // +/-6.144V
	GainOne                   // +/-4.096V
	GainTwo                   // +/-2.048V
	GainFour                  // +/-1.024V
	GainEight                 // +/-0.512V
	GainSixteen               // +/-0.256V
)

var gainNames = [...]string{"twothirds", "one", "two", "four", "eight", "sixteen"}

// FullScaleMillivolts returns the input range of the gain setting.
func (g Gain) FullScaleMillivolts() float64 {
	switch g {
	case GainTwoThirds:
		return 6144
	case GainOne:
		return 4096
	case GainTwo:
		return 2048
	case GainFour:
		return 1024
	case GainEight:
		return 512
	case GainSixteen:
		return 256
	}
	return 0
}

// MillivoltsPerBit returns the weight of one LSB of a 16-bit conversion.
func (g Gain) MillivoltsPerBit() float64 {
	return g.FullScaleMillivolts() / 32768
}

func (g Gain) String() string {
	if int(g) < len(gainNames) {
		return gainNames[g]
	}
	return fmt.Sprintf("gain(%d)", uint8(g))
}

// ParseGain parses a gain name as used in the configuration.
func ParseGain(s string) (Gain, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range gainNames {
		if s == name {
			return Gain(i), nil
		}
	}
	switch s {
	case "2/3":
		return GainTwoThirds, nil
	case "1":
		return GainOne, nil
	case "2":
		return GainTwo, nil
	case "4":
		return GainFour, nil
	case "8":
		return GainEight, nil
	case "16":
		return GainSixteen, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownGain, s)
}
