package sample

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/itohio/lorameter/pkg/adc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqDevice returns codes in order and advances the mock clock per conversion.
type seqDevice struct {
	codes   []int16
	failAt  int // 1-based read that fails, 0 = never
	reads   int
	clock   *clock.Mock
	perRead time.Duration
}

func (d *seqDevice) Begin(ctx context.Context) error { return nil }
func (d *seqDevice) SetGain(g adc.Gain) error        { return nil }
func (d *seqDevice) Close() error                    { return nil }

func (d *seqDevice) ReadDifferential(ctx context.Context) (int16, error) {
	d.reads++
	if d.failAt != 0 && d.reads == d.failAt {
		return 0, errors.New("i2c nack")
	}
	if d.clock != nil {
		d.clock.Add(d.perRead)
	}
	return d.codes[(d.reads-1)%len(d.codes)], nil
}

func TestToMillivolts(t *testing.T) {
	tests := []struct {
		name     string
		code     int16
		mvPerBit float32
		want     float32
	}{
		{name: "zero", code: 0, mvPerBit: 0.0625, want: 0},
		{name: "positive", code: 8192, mvPerBit: 0.0625, want: 512},
		{name: "negative", code: -4096, mvPerBit: 0.0625, want: -256},
		{name: "full scale", code: 32767, mvPerBit: 0.0625, want: 2047.9375},
		{name: "other gain", code: 100, mvPerBit: 0.1875, want: 18.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ToMillivolts(tt.code, tt.mvPerBit), 1e-4)
		})
	}
}

func TestSampler_Sample(t *testing.T) {
	clk := clock.NewMock()
	dev := &seqDevice{codes: []int16{1, -2, 3}, clock: clk, perRead: 2 * time.Millisecond}
	s := New(dev, clk)

	batch, err := s.Sample(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 5, batch.Len())
	assert.Equal(t, []int16{1, -2, 3, 1, -2}, batch.Codes)
	assert.Equal(t, 5, dev.reads)
	assert.Equal(t, 10*time.Millisecond, batch.Duration)
}

func TestSampler_InvalidCount(t *testing.T) {
	for _, n := range []int{0, -1} {
		dev := &seqDevice{codes: []int16{1}}
		s := New(dev, clock.NewMock())

		_, err := s.Sample(context.Background(), n)
		assert.ErrorIs(t, err, ErrInvalidSampleCount)
		assert.Equal(t, 0, dev.reads, "no conversion must happen for n=%d", n)
	}
}

func TestSampler_ReadFailureStopsBatch(t *testing.T) {
	dev := &seqDevice{codes: []int16{7}, failAt: 3}
	s := New(dev, clock.NewMock())

	batch, err := s.Sample(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample 3 of 10")
	assert.Equal(t, 0, batch.Len())
	assert.Equal(t, 3, dev.reads)
}
