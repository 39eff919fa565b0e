package douki

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantizerRoundTripWithinHalfStep(t *testing.T) {
	q, err := NewQuantizer(QuantizationSettings{Lower: -125, Upper: 125, Bits: 18})
	require.NoError(t, err)
	step := q.Step()
	for _, v := range []float32{-125, -100.5, -3.25, 0, 0.0001, 1, 42.424242, 99.9, 125} {
		got := q.Unquantize(q.Quantize(v))
		if math.Abs(float64(got-v)) > float64(step)/2+1e-6 {
			t.Errorf("expected %v within %v, got %v", v, step/2, got)
		}
	}
}

func TestQuantizerClampsOutOfRange(t *testing.T) {
	q, err := NewQuantizer(QuantizationSettings{Lower: 0, Upper: 1, Bits: 8})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), q.Quantize(-5))
	assert.Equal(t, uint32(255), q.Quantize(5))
	assert.Equal(t, uint32(0), q.Quantize(float32(math.NaN())))
	assert.InDelta(t, 1, q.Unquantize(1000), 1e-6)
}

func TestNewQuantizerRejectsInvalidSettings(t *testing.T) {
	cases := map[string]QuantizationSettings{
		"zero bits":      {Lower: 0, Upper: 1, Bits: 0},
		"too many bits":  {Lower: 0, Upper: 1, Bits: 33},
		"inverted range": {Lower: 1, Upper: -1, Bits: 8},
		"empty range":    {Lower: 2, Upper: 2, Bits: 8},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewQuantizer(s)
			require.ErrorIs(t, err, ErrInvalidQuantization)
		})
	}
}

func TestQuantizationSettingsStep(t *testing.T) {
	s := QuantizationSettings{Lower: -1, Upper: 1, Bits: 1}
	assert.True(t, s.CanQuantize())
	assert.Equal(t, float32(2), s.Step())
	assert.True(t, s.Signed())

	full := QuantizationSettings{Bits: 0}
	assert.False(t, full.CanQuantize())
	assert.Zero(t, full.Step())
	assert.NoError(t, full.Validate())
}

func BenchmarkQuantize(b *testing.B) {
	q, _ := NewQuantizer(QuantizationSettings{Lower: -125, Upper: 125, Bits: 18})
	b.ReportAllocs()
	var sink uint32
	for i := 0; i < b.N; i++ {
		sink += q.Quantize(float32(i%250) - 125)
	}
	_ = sink
}
