package adc

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/itohio/lorameter/pkg/config"
)

// Mock simulates a current transformer on a mains line feeding the ADC.
type Mock struct {
	cfg *config.MockConfig

	mu      sync.Mutex
	started bool
	gain    Gain

	// Simulation state
	elapsed time.Duration // simulated time of the next conversion
}

// NewMock creates a new simulated device instance.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			PeakMillivolts: 256,
			Frequency:      50,
			NoiseLevel:     0.5,
			SampleRate:     time.Millisecond,
		}
	}

	return &Mock{
		cfg:  cfg,
		gain: GainTwo,
	}
}

// Begin simulates powering up the converter.
func (m *Mock) Begin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.started = true
	m.elapsed = 0
	return nil
}

// SetGain sets the simulated PGA range.
func (m *Mock) SetGain(g Gain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gain = g
	return nil
}

// ReadDifferential returns the code of the next simulated conversion.
// Simulated time advances by SampleRate per call; no real waiting happens.
func (m *Mock) ReadDifferential(ctx context.Context) (int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return 0, ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	code := m.generateCode(m.elapsed)
	m.elapsed += m.cfg.SampleRate
	return code, nil
}

// Close stops the simulated device.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

// generateCode generates the conversion result at simulated time t.
func (m *Mock) generateCode(t time.Duration) int16 {
	s := t.Seconds()

	mv := m.cfg.PeakMillivolts * math.Sin(2*math.Pi*m.cfg.Frequency*s)

	// Deterministic pseudo noise
	noise := (math.Sin(float64(t.Nanoseconds())*0.001) +
		math.Cos(float64(t.Nanoseconds())*0.0013)) *
		m.cfg.NoiseLevel * 0.5
	mv += noise

	// Clip to the PGA range
	fs := m.gain.FullScaleMillivolts()
	if mv > fs {
		mv = fs
	} else if mv < -fs {
		mv = -fs
	}

	code := math.Round(mv / m.gain.MillivoltsPerBit())
	if code > math.MaxInt16 {
		code = math.MaxInt16
	} else if code < math.MinInt16 {
		code = math.MinInt16
	}
	return int16(code)
}
