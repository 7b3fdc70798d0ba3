package payload

import (
	"fmt"

	"github.com/akhenakh/cayenne"
	"github.com/chewxy/math32"

	"github.com/itohio/lorameter/pkg/meter"
)

// Default Cayenne LPP channels.
const (
	DefaultCurrentChannel uint8 = 1
	DefaultPowerChannel   uint8 = 2
)

// LPP analog inputs are signed 16-bit values with a 0.01 resolution.
const analogInputLimit float32 = 327.67

// Cayenne encodes current (A) and apparent power (kW) as Cayenne LPP
// analog inputs.
type Cayenne struct {
	CurrentChannel uint8
	PowerChannel   uint8
}

// Encode builds the LPP frame.
func (c Cayenne) Encode(m meter.Measurement) ([]byte, error) {
	kw := m.ApparentPower / 1000
	for _, v := range []float32{m.RMSCurrent, kw} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMeasurement, v)
		}
		if math32.Abs(v) > analogInputLimit {
			return nil, fmt.Errorf("%w: %v exceeds +/-%v", ErrValueOutOfRange, v, analogInputLimit)
		}
	}

	e := cayenne.NewEncoder()
	e.AddAnalogInput(c.CurrentChannel, m.RMSCurrent)
	e.AddAnalogInput(c.PowerChannel, kw)
	return checkSize(e.Bytes())
}
