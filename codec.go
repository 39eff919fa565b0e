package douki

import (
	"fmt"
	"math"
)

// Codec encodes values of one kind onto a bit stream. Float kinds are handed
// to Encode already made baseline-relative by the caller; Decode returns the
// same relative form.
type Codec interface {
	// Kind is the value kind this codec accepts.
	Kind() ValueKind
	// Encode writes v.
	Encode(w *BitWriter, v Value)
	// Decode reads one value.
	Decode(r *BitReader) Value
	// AreEqualConsideringQuantization reports whether a and b produce the
	// same encoding.
	AreEqualConsideringQuantization(a, b Value) bool
	// Step is the quantization bucket width, 0 for lossless codecs.
	Step() float32
	// BitSize is the encoded width of one value.
	BitSize() int
}

// DefaultQuaternionBits is the per-component width of the smallest-three
// quaternion encoding when a descriptor leaves it unset.
const DefaultQuaternionBits = 9

// smallestThreeBound is 1/sqrt(2), the largest magnitude any non-dominant
// component of a unit quaternion can have.
const smallestThreeBound = float32(0.70710678118654752440)

// NewCodec builds the codec for kind k with quantization settings s.
func NewCodec(k ValueKind, s QuantizationSettings) (Codec, error) {
	switch {
	case k == KindBool:
		return boolCodec{}, nil
	case k.IsInteger():
		return intCodec{kind: k}, nil
	case k == KindQuaternion:
		bits := s.Bits
		if bits == 0 || bits >= MaxQuantizedBits {
			bits = DefaultQuaternionBits
		}
		q, err := NewQuantizer(QuantizationSettings{Lower: -smallestThreeBound, Upper: smallestThreeBound, Bits: bits})
		if err != nil {
			return nil, fmt.Errorf("quaternion codec: %w", err)
		}
		return &quatCodec{q: q}, nil
	case k.IsFloat():
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%s codec: %w", k, err)
		}
		c := &floatCodec{kind: k, n: k.Components()}
		if s.CanQuantize() {
			q, err := NewQuantizer(s)
			if err != nil {
				return nil, fmt.Errorf("%s codec: %w", k, err)
			}
			c.q = q
		}
		return c, nil
	}
	return nil, fmt.Errorf("douki: no codec for kind %s", k)
}

type boolCodec struct{}

func (boolCodec) Kind() ValueKind              { return KindBool }
func (boolCodec) Encode(w *BitWriter, v Value) { w.WriteBit(v.Bool()) }
func (boolCodec) Decode(r *BitReader) Value    { return NewBool(r.ReadBit()) }
func (boolCodec) Step() float32                { return 0 }
func (boolCodec) BitSize() int                 { return 1 }
func (boolCodec) AreEqualConsideringQuantization(a, b Value) bool {
	return a.Bool() == b.Bool()
}

// intCodec writes integers at their full width; identity and ownership
// style values must never be approximated.
type intCodec struct {
	kind ValueKind
}

func (c intCodec) Kind() ValueKind { return c.kind }

func (c intCodec) Encode(w *BitWriter, v Value) {
	w.WriteBits(v.raw(), c.kind.BitWidth())
}

func (c intCodec) Decode(r *BitReader) Value {
	return fromBits(c.kind, r.ReadBits(c.kind.BitWidth()))
}

func (c intCodec) AreEqualConsideringQuantization(a, b Value) bool {
	return a.raw() == b.raw()
}

func (c intCodec) Step() float32 { return 0 }
func (c intCodec) BitSize() int  { return int(c.kind.BitWidth()) }

// floatCodec handles float32 and vectors. Each component is either a full
// float32 or a fixed-point bucket from q.
type floatCodec struct {
	q    *Quantizer
	kind ValueKind
	n    int
}

func (c *floatCodec) Kind() ValueKind { return c.kind }

func (c *floatCodec) Encode(w *BitWriter, v Value) {
	for i := 0; i < c.n; i++ {
		if c.q == nil {
			w.WriteFloat32(v.c[i])
			continue
		}
		w.WriteBits(uint64(c.q.Quantize(v.c[i])), c.q.bits)
	}
}

func (c *floatCodec) Decode(r *BitReader) Value {
	var out [4]float32
	for i := 0; i < c.n; i++ {
		if c.q == nil {
			out[i] = r.ReadFloat32()
			continue
		}
		out[i] = c.q.Unquantize(uint32(r.ReadBits(c.q.bits)))
	}
	return fromComponents(c.kind, out)
}

func (c *floatCodec) AreEqualConsideringQuantization(a, b Value) bool {
	for i := 0; i < c.n; i++ {
		if c.q == nil {
			if a.c[i] != b.c[i] {
				return false
			}
			continue
		}
		if c.q.Quantize(a.c[i]) != c.q.Quantize(b.c[i]) {
			return false
		}
	}
	return true
}

func (c *floatCodec) Step() float32 {
	if c.q == nil {
		return 0
	}
	return c.q.step
}

func (c *floatCodec) BitSize() int {
	if c.q == nil {
		return 32 * c.n
	}
	return int(c.q.bits) * c.n
}

// inRange reports whether every component of v lies inside the quantized
// range. Unquantized codecs accept everything.
func (c *floatCodec) inRange(v Value) bool {
	if c.q == nil {
		return true
	}
	for i := 0; i < c.n; i++ {
		if v.c[i] < c.q.lower || v.c[i] > c.q.upper {
			return false
		}
	}
	return true
}

// quatCodec is the smallest-three rotation encoding: two bits naming the
// dropped dominant component followed by the other three in fixed point.
type quatCodec struct {
	q *Quantizer
}

func (c *quatCodec) Kind() ValueKind { return KindQuaternion }

func (c *quatCodec) Encode(w *BitWriter, v Value) {
	largest, comps := c.smallestThree(v)
	w.WriteBits(uint64(largest), 2)
	for _, n := range comps {
		w.WriteBits(uint64(n), c.q.bits)
	}
}

func (c *quatCodec) Decode(r *BitReader) Value {
	largest := int(r.ReadBits(2))
	var out [4]float32
	var sum float64
	for i := range 4 {
		if i == largest {
			continue
		}
		f := c.q.Unquantize(uint32(r.ReadBits(c.q.bits)))
		out[i] = f
		sum += float64(f) * float64(f)
	}
	out[largest] = float32(math.Sqrt(math.Max(0, 1-sum)))
	return NewQuat(normalizeQuat(Quat{out[0], out[1], out[2], out[3]}))
}

func (c *quatCodec) AreEqualConsideringQuantization(a, b Value) bool {
	la, ca := c.smallestThree(a)
	lb, cb := c.smallestThree(b)
	return la == lb && ca == cb
}

func (c *quatCodec) Step() float32 { return c.q.step }
func (c *quatCodec) BitSize() int  { return 2 + 3*int(c.q.bits) }

func (c *quatCodec) smallestThree(v Value) (int, [3]uint32) {
	q := normalizeQuat(v.Quat())
	comps := [4]float32{q.X, q.Y, q.Z, q.W}
	largest := 0
	for i := 1; i < 4; i++ {
		if abs32(comps[i]) > abs32(comps[largest]) {
			largest = i
		}
	}
	sign := float32(1)
	if comps[largest] < 0 {
		sign = -1
	}
	var out [3]uint32
	j := 0
	for i := range 4 {
		if i == largest {
			continue
		}
		out[j] = c.q.Quantize(comps[i] * sign)
		j++
	}
	return largest, out
}

func normalizeQuat(q Quat) Quat {
	n := math.Sqrt(float64(q.X)*float64(q.X) + float64(q.Y)*float64(q.Y) + float64(q.Z)*float64(q.Z) + float64(q.W)*float64(q.W))
	if n < 1e-12 {
		return QuatIdentity
	}
	inv := 1 / n
	return Quat{
		X: float32(float64(q.X) * inv),
		Y: float32(float64(q.Y) * inv),
		Z: float32(float64(q.Z) * inv),
		W: float32(float64(q.W) * inv),
	}
}

func abs32(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}
