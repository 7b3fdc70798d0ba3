// Package payload encodes measurements into uplink payloads.
package payload

import (
	"errors"
	"fmt"

	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/meter"
)

// MaxPayloadSize is the largest application payload the radio accepts.
const MaxPayloadSize = 242

// Format names used in the configuration.
const (
	FormatText    = "text"
	FormatCayenne = "cayenne"
)

var (
	// ErrPayloadTooLarge is returned instead of truncating an oversized payload.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrInvalidMeasurement is returned for values that cannot be encoded.
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrValueOutOfRange is returned when a value does not fit the wire type.
	ErrValueOutOfRange = errors.New("value out of range")
	// ErrUnknownFormat is returned by New for unknown format names.
	ErrUnknownFormat = errors.New("unknown payload format")
)

// Encoder converts a measurement into an uplink payload.
type Encoder interface {
	Encode(m meter.Measurement) ([]byte, error)
}

// Ensure Text implements Encoder.
var _ Encoder = Text{}

// Ensure Cayenne implements Encoder.
var _ Encoder = Cayenne{}

// New creates the encoder selected by the uplink configuration.
func New(cfg config.UplinkConfig) (Encoder, error) {
	switch cfg.Format {
	case FormatText, "":
		return Text{Precision: cfg.Precision}, nil
	case FormatCayenne:
		return Cayenne{CurrentChannel: DefaultCurrentChannel, PowerChannel: DefaultPowerChannel}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, cfg.Format)
}

func checkSize(b []byte) ([]byte, error) {
	if len(b) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(b), MaxPayloadSize)
	}
	return b, nil
}
