// Package region defines the regional radio parameters used by the sweep.
package region

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRegion is returned by Lookup for unknown region names.
	ErrUnknownRegion = errors.New("unknown region")
	// ErrUnsupportedRegion is returned for regions whose uplink plan cannot
	// carry the SF7..SF12 sweep at 125 kHz.
	ErrUnsupportedRegion = errors.New("region cannot sweep SF7..SF12")
	// ErrSpreadingFactor is returned for spreading factors outside 7..12.
	ErrSpreadingFactor = errors.New("spreading factor out of range")
)

// Spreading factor bounds of the sweep.
const (
	MinSpreadingFactor = 7
	MaxSpreadingFactor = 12
)

// Plan holds the parameters of one frequency plan.
type Plan struct {
	Name string
	// ATBand is the RUI3 AT+BAND index.
	ATBand int
	// Channels are the default uplink frequencies in Hz.
	Channels []uint32
	// RX2Frequency and RX2DataRate are the default second window settings.
	RX2Frequency uint32
	RX2DataRate  int
	// MaxPayload is the largest application payload at each DR index.
	MaxPayload [6]int
}

// EU868 is the European 863-870 MHz plan.
var EU868 = Plan{
	Name:         "EU868",
	ATBand:       4,
	Channels:     []uint32{868100000, 868300000, 868500000},
	RX2Frequency: 869525000,
	RX2DataRate:  0,
	MaxPayload:   [6]int{51, 51, 51, 115, 242, 242},
}

// IN865 is the Indian 865-867 MHz plan.
var IN865 = Plan{
	Name:         "IN865",
	ATBand:       3,
	Channels:     []uint32{865062500, 865402500, 865985000},
	RX2Frequency: 866550000,
	RX2DataRate:  2,
	MaxPayload:   [6]int{51, 51, 51, 115, 242, 242},
}

// AS923 is the AS923-1 plan.
var AS923 = Plan{
	Name:         "AS923",
	ATBand:       8,
	Channels:     []uint32{923200000, 923400000},
	RX2Frequency: 923200000,
	RX2DataRate:  2,
	MaxPayload:   [6]int{51, 51, 51, 115, 242, 242},
}

// Lookup returns the plan for a region name such as "EU868", "eu" or "868".
func Lookup(name string) (Plan, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "EU", "EU868", "868":
		return EU868, nil
	case "IN", "IN865", "865":
		return IN865, nil
	case "AS", "AS923", "AS923-1", "923":
		return AS923, nil
	case "US", "US915", "915", "AU", "AU915":
		// 125 kHz uplinks in these plans stop at SF10
		return Plan{}, fmt.Errorf("%w: %s", ErrUnsupportedRegion, name)
	}
	return Plan{}, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
}

// DataRate returns the region DR index for a 125 kHz spreading factor.
func (p Plan) DataRate(sf int) (int, error) {
	if sf < MinSpreadingFactor || sf > MaxSpreadingFactor {
		return 0, fmt.Errorf("%w: SF%d", ErrSpreadingFactor, sf)
	}
	return MaxSpreadingFactor - sf, nil
}

// SpreadingFactor returns the spreading factor of a region DR index.
func (p Plan) SpreadingFactor(dr int) (int, error) {
	sf := MaxSpreadingFactor - dr
	if sf < MinSpreadingFactor || sf > MaxSpreadingFactor {
		return 0, fmt.Errorf("%w: DR%d", ErrSpreadingFactor, dr)
	}
	return sf, nil
}

// Datr returns the packet forwarder data rate identifier, e.g. "SF7BW125".
func (p Plan) Datr(sf int) (string, error) {
	if sf < MinSpreadingFactor || sf > MaxSpreadingFactor {
		return "", fmt.Errorf("%w: SF%d", ErrSpreadingFactor, sf)
	}
	return fmt.Sprintf("SF%dBW125", sf), nil
}

// Channel picks the uplink frequency for the n-th frame.
func (p Plan) Channel(n uint32) uint32 {
	return p.Channels[int(n%uint32(len(p.Channels)))]
}

// MaxPayloadSize returns the application payload limit at a spreading factor.
func (p Plan) MaxPayloadSize(sf int) (int, error) {
	dr, err := p.DataRate(sf)
	if err != nil {
		return 0, err
	}
	return p.MaxPayload[dr], nil
}
