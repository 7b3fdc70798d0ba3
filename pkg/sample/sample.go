package sample

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/itohio/lorameter/pkg/adc"
)

// ErrInvalidSampleCount is returned for a non-positive number of samples.
var ErrInvalidSampleCount = errors.New("invalid sample count")

// Batch represents one oversampled measurement window.
type Batch struct {
	Codes    []int16       // Raw signed ADC codes in acquisition order
	Start    time.Time     // Time of the first conversion
	Duration time.Duration // Time spent acquiring the batch
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Codes)
}

// Sampler drives oversampled differential readings from the ADC.
type Sampler struct {
	dev   adc.Device
	clock clock.Clock
}

// New creates a sampler reading from dev. A nil clock uses the wall clock.
func New(dev adc.Device, clk clock.Clock) *Sampler {
	if clk == nil {
		clk = clock.New()
	}
	return &Sampler{
		dev:   dev,
		clock: clk,
	}
}

// Sample performs exactly n sequential blocking conversions.
// Failed conversions are not retried: the first error aborts the batch.
func (s *Sampler) Sample(ctx context.Context, n int) (Batch, error) {
	if n <= 0 {
		return Batch{}, fmt.Errorf("%w: %d", ErrInvalidSampleCount, n)
	}

	batch := Batch{
		Codes: make([]int16, n),
		Start: s.clock.Now(),
	}

	for i := range n {
		code, err := s.dev.ReadDifferential(ctx)
		if err != nil {
			return Batch{}, fmt.Errorf("failed to read sample %d of %d: %w", i+1, n, err)
		}
		batch.Codes[i] = code
	}

	batch.Duration = s.clock.Since(batch.Start)
	return batch, nil
}

// ToMillivolts converts a raw ADC code to millivolts.
func ToMillivolts(code int16, mvPerBit float32) float32 {
	return float32(code) * mvPerBit
}
