package douki

import (
	"errors"
	"fmt"
	"math"
)

// MaxQuantizedBits is the widest fixed-point encoding a Quantizer supports.
const MaxQuantizedBits = 32

var (
	// ErrInvalidQuantization reports quantization bounds that cannot produce a
	// usable fixed-point encoding.
	ErrInvalidQuantization = errors.New("douki: invalid quantization settings")
)

// QuantizationSettings describes the fixed-point range of a float value. A
// Bits of 0 (or 32) disables quantization and the value travels as a full
// float32.
type QuantizationSettings struct {
	Lower float32 `yaml:"lower" toml:"lower" mapstructure:"lower" cbor:"1,keyasint"`
	Upper float32 `yaml:"upper" toml:"upper" mapstructure:"upper" cbor:"2,keyasint"`
	Bits  uint8   `yaml:"bits" toml:"bits" mapstructure:"bits" cbor:"3,keyasint"`
}

// CanQuantize reports whether the settings describe an actual fixed-point
// encoding rather than a full-width float.
func (s QuantizationSettings) CanQuantize() bool {
	return s.Bits > 0 && s.Bits < MaxQuantizedBits && s.Upper > s.Lower
}

// Signed reports whether the range spans negative values.
func (s QuantizationSettings) Signed() bool {
	return s.Lower < 0
}

// Validate checks the settings without building a quantizer.
func (s QuantizationSettings) Validate() error {
	if s.Bits > MaxQuantizedBits {
		return fmt.Errorf("%w: %d bits exceeds %d", ErrInvalidQuantization, s.Bits, MaxQuantizedBits)
	}
	if s.Bits > 0 && s.Upper <= s.Lower {
		return fmt.Errorf("%w: upper bound %g must exceed lower bound %g", ErrInvalidQuantization, s.Upper, s.Lower)
	}
	return nil
}

// Step is the width of one quantization bucket, or 0 when the settings do
// not quantize.
func (s QuantizationSettings) Step() float32 {
	if !s.CanQuantize() {
		return 0
	}
	return (s.Upper - s.Lower) / float32(maxForBits(s.Bits))
}

// Quantizer maps floats in [lower, upper] onto unsigned integers of a fixed
// bit width and back. It is immutable and safe for concurrent use.
type Quantizer struct {
	lower    float32
	upper    float32
	step     float32
	halfStep float32
	maxQ     uint32
	bits     uint8
}

// NewQuantizer builds a quantizer for the given settings.
//
// Parameters:
//   - s: The range and bit width. Bits must be in 1..32 and Upper > Lower.
//
// Returns:
//   - The quantizer, or an error wrapping ErrInvalidQuantization.
func NewQuantizer(s QuantizationSettings) (*Quantizer, error) {
	if s.Bits == 0 || s.Bits > MaxQuantizedBits {
		return nil, fmt.Errorf("%w: bit count %d not in 1..%d", ErrInvalidQuantization, s.Bits, MaxQuantizedBits)
	}
	if s.Upper <= s.Lower {
		return nil, fmt.Errorf("%w: upper bound %g must exceed lower bound %g", ErrInvalidQuantization, s.Upper, s.Lower)
	}
	maxQ := maxForBits(s.Bits)
	step := float32(float64(s.Upper-s.Lower) / float64(maxQ))
	return &Quantizer{
		lower:    s.Lower,
		upper:    s.Upper,
		step:     step,
		halfStep: step / 2,
		maxQ:     maxQ,
		bits:     s.Bits,
	}, nil
}

// Bits is the encoded width.
func (q *Quantizer) Bits() uint8 { return q.bits }

// Step is the bucket width.
func (q *Quantizer) Step() float32 { return q.step }

// Quantize clamps v into range and returns its rounded bucket.
func (q *Quantizer) Quantize(v float32) uint32 {
	if v != v { // NaN
		v = q.lower
	}
	if v < q.lower {
		v = q.lower
	} else if v > q.upper {
		v = q.upper
	}
	shifted := float64(v-q.lower) + float64(q.halfStep)
	n := math.Floor(shifted / float64(q.step))
	if n >= float64(q.maxQ) {
		return q.maxQ
	}
	return uint32(n)
}

// Unquantize maps a bucket back to the bucket's representative float.
func (q *Quantizer) Unquantize(n uint32) float32 {
	if n > q.maxQ {
		n = q.maxQ
	}
	return float32(float64(n)*float64(q.step) + float64(q.lower))
}

func maxForBits(bits uint8) uint32 {
	if bits >= 32 {
		return math.MaxUint32
	}
	return uint32(1)<<bits - 1
}
