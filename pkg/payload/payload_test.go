package payload

import (
	"bytes"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/akhenakh/cayenne"
	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/meter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText_Encode(t *testing.T) {
	tests := []struct {
		name      string
		precision int
		current   float32
		want      string
	}{
		{name: "default precision", precision: 6, current: 1.0162022, want: "c|1.016202"},
		{name: "zero", precision: 6, current: 0, want: "c|0.000000"},
		{name: "two decimals", precision: 2, current: 12.345, want: "c|12.35"},
		{name: "no decimals", precision: 0, current: 3.7, want: "c|4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Text{Precision: tt.precision}.Encode(meter.Measurement{RMSCurrent: tt.current})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestText_TooLarge(t *testing.T) {
	m := meter.Measurement{RMSCurrent: 1.5}

	// 2 tag bytes + "1." + 238 decimals = 242 bytes fits exactly
	b, err := Text{Precision: 238}.Encode(m)
	require.NoError(t, err)
	assert.Len(t, b, MaxPayloadSize)

	b, err = Text{Precision: 239}.Encode(m)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Nil(t, b)
}

func TestText_Invalid(t *testing.T) {
	_, err := Text{Precision: -1}.Encode(meter.Measurement{})
	assert.ErrorIs(t, err, ErrInvalidMeasurement)

	_, err = Text{Precision: 6}.Encode(meter.Measurement{RMSCurrent: float32(math.NaN())})
	assert.ErrorIs(t, err, ErrInvalidMeasurement)

	_, err = Text{Precision: 6}.Encode(meter.Measurement{RMSCurrent: float32(math.Inf(1))})
	assert.ErrorIs(t, err, ErrInvalidMeasurement)
}

func TestCayenne_Encode(t *testing.T) {
	m := meter.Measurement{RMSCurrent: 1.0162, ApparentPower: 223.56}

	b, err := Cayenne{CurrentChannel: 1, PowerChannel: 2}.Encode(m)
	require.NoError(t, err)
	require.Len(t, b, 8)

	// channel, analog input type, int16 big endian in 0.01 units
	assert.Equal(t, []byte{0x01, 0x02}, b[0:2])
	assert.Equal(t, []byte{0x02, 0x02}, b[4:6])

	msg, err := cayenne.NewDecoder(bytes.NewReader(b)).DecodeUplink()
	require.NoError(t, err)

	var got []float64
	for _, v := range msg.Values() {
		if f, ok := v.(float32); ok {
			got = append(got, float64(f))
		}
	}
	require.Len(t, got, 2)
	if got[0] > got[1] {
		got[0], got[1] = got[1], got[0]
	}
	assert.InDelta(t, 0.22, got[0], 0.011)
	assert.InDelta(t, 1.01, got[1], 0.011)
}

func TestCayenne_OutOfRange(t *testing.T) {
	_, err := Cayenne{CurrentChannel: 1, PowerChannel: 2}.Encode(meter.Measurement{RMSCurrent: 400})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = Cayenne{CurrentChannel: 1, PowerChannel: 2}.Encode(meter.Measurement{RMSCurrent: 1, ApparentPower: 400000})
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestNew(t *testing.T) {
	cfg := config.Default().Uplink

	enc, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, Text{Precision: 6}, enc)

	cfg.Format = FormatCayenne
	enc, err = New(cfg)
	require.NoError(t, err)
	assert.IsType(t, Cayenne{}, enc)

	cfg.Format = "protobuf"
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestFormatter_DecodeText(t *testing.T) {
	b, err := Text{Precision: 6}.Encode(meter.Measurement{RMSCurrent: 1.0162022})
	require.NoError(t, err)

	fields, err := NewFormatter("").Decode(1, b)
	require.NoError(t, err)

	assert.Equal(t, "text", fields["format"])
	current, ok := Number(fields, "current_a")
	require.True(t, ok)
	assert.InDelta(t, 1.016202, current, 1e-6)
}

func TestFormatter_DecodeCayenne(t *testing.T) {
	b, err := Cayenne{CurrentChannel: 1, PowerChannel: 2}.Encode(meter.Measurement{RMSCurrent: 12.5, ApparentPower: 2750})
	require.NoError(t, err)

	fields, err := NewFormatter("").Decode(1, b)
	require.NoError(t, err)

	assert.Equal(t, "cayenne", fields["format"])
	current, ok := Number(fields, "current_a")
	require.True(t, ok)
	assert.InDelta(t, 12.5, current, 0.011)
	power, ok := Number(fields, "power_kw")
	require.True(t, ok)
	assert.InDelta(t, 2.75, power, 0.011)
}

func TestFormatter_Unknown(t *testing.T) {
	fields, err := NewFormatter("").Decode(7, []byte{0xFF})
	require.NoError(t, err)
	assert.Equal(t, "unknown", fields["format"])
}

func TestFormatter_Errors(t *testing.T) {
	_, err := NewFormatter("function Decode(fPort, bytes) { return 42; }").Decode(1, nil)
	assert.ErrorIs(t, err, errUnexpectedValue)

	_, err = NewFormatter("function Decode(fPort, bytes) { throw new Error('boom'); }").Decode(1, nil)
	require.Error(t, err)

	f := NewFormatter("function Decode(fPort, bytes) { while (true) {} }")
	f.timeout = 10 * time.Millisecond
	_, err = f.Decode(1, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "timeout"))
}

func TestFormatter_Script(t *testing.T) {
	assert.Contains(t, NewFormatter("").Script(), "function Decode(fPort, bytes)")
}
