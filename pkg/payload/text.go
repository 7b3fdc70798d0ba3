package payload

import (
	"fmt"
	"strconv"

	"github.com/chewxy/math32"

	"github.com/itohio/lorameter/pkg/meter"
)

// TextTag prefixes every text payload.
const TextTag = "c|"

// Text encodes the RMS current as "c|<decimal>".
type Text struct {
	Precision int // digits after the decimal point
}

// Encode formats the reported current with a fixed number of decimals.
func (t Text) Encode(m meter.Measurement) ([]byte, error) {
	if t.Precision < 0 {
		return nil, fmt.Errorf("%w: negative precision %d", ErrInvalidMeasurement, t.Precision)
	}
	if math32.IsNaN(m.RMSCurrent) || math32.IsInf(m.RMSCurrent, 0) {
		return nil, fmt.Errorf("%w: current %v", ErrInvalidMeasurement, m.RMSCurrent)
	}

	b := make([]byte, 0, len(TextTag)+16+t.Precision)
	b = append(b, TextTag...)
	b = strconv.AppendFloat(b, float64(m.RMSCurrent), 'f', t.Precision, 32)
	return checkSize(b)
}
