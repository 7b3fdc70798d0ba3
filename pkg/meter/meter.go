package meter

import (
	"errors"
	"fmt"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/sample"
)

// ErrInvalidSampleCount is returned when a batch holds no samples.
var ErrInvalidSampleCount = sample.ErrInvalidSampleCount

// ErrInvalidCalibration is returned by Calibration.Validate.
var ErrInvalidCalibration = errors.New("invalid calibration")

// Calibration holds the current sensor calibration constants.
type Calibration struct {
	MillivoltsPerBit    float32 // ADC LSB weight
	SensorMaxCurrent    float32 // A at the sensor's rated output
	SensorMaxMillivolts float32 // mV at the sensor's rated current
	Correction          float32 // empirical multiplier applied to RMS current
	LineVoltage         float32 // nominal line voltage for apparent power
}

// CalibrationFromConfig builds calibration constants from the configuration.
func CalibrationFromConfig(cfg config.CalibrationConfig) Calibration {
	return Calibration{
		MillivoltsPerBit:    float32(cfg.MillivoltsPerBit),
		SensorMaxCurrent:    float32(cfg.SensorMaxCurrent),
		SensorMaxMillivolts: float32(cfg.SensorMaxMillivolts),
		Correction:          float32(cfg.Correction),
		LineVoltage:         float32(cfg.LineVoltage),
	}
}

// Validate checks that every constant is positive and finite.
func (c Calibration) Validate() error {
	fields := []struct {
		name string
		v    float32
	}{
		{"millivolts per bit", c.MillivoltsPerBit},
		{"sensor max current", c.SensorMaxCurrent},
		{"sensor max millivolts", c.SensorMaxMillivolts},
		{"correction", c.Correction},
		{"line voltage", c.LineVoltage},
	}
	for _, f := range fields {
		if !(f.v > 0) || math32.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidCalibration, f.name, f.v)
		}
	}
	return nil
}

// Measurement is the result of one RMS estimation.
type Measurement struct {
	RMSCurrent     float32       // corrected RMS current (A)
	ApparentPower  float32       // RMSCurrent * LineVoltage (W)
	SampleDuration time.Duration // time spent sampling
	Samples        int
}

// SampleDurationMillis returns the sampling time in whole milliseconds.
func (m Measurement) SampleDurationMillis() int64 {
	return m.SampleDuration.Milliseconds()
}

// Instantaneous converts a raw code to the instantaneous sensor current (A)
// before the empirical correction.
func Instantaneous(code int16, c Calibration) float32 {
	mv := sample.ToMillivolts(code, c.MillivoltsPerBit)
	return mv * c.SensorMaxCurrent / c.SensorMaxMillivolts
}

// Estimate computes the RMS current and apparent power of a batch.
//
// The sensor output is assumed proportional to current over its whole
// range, so each sample scales linearly from the rated full-scale output.
func Estimate(batch sample.Batch, c Calibration) (Measurement, error) {
	n := batch.Len()
	if n == 0 {
		return Measurement{}, fmt.Errorf("%w: empty batch", ErrInvalidSampleCount)
	}

	var sumSquares float32
	for _, code := range batch.Codes {
		i := Instantaneous(code, c)
		sumSquares += i * i
	}

	rms := math32.Sqrt(sumSquares/float32(n)) * c.Correction
	if rms < 0 {
		rms = 0
	}

	return Measurement{
		RMSCurrent:     rms,
		ApparentPower:  rms * c.LineVoltage,
		SampleDuration: batch.Duration,
		Samples:        n,
	}, nil
}
