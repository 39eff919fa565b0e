package douki

import (
	"fmt"
	"math"
)

// ValueKind is the semantic type tag of a synchronized value.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindBool
	KindUint8
	KindInt8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindVector2
	KindVector3
	KindVector4
	KindQuaternion
	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid:    "invalid",
	KindBool:       "bool",
	KindUint8:      "uint8",
	KindInt8:       "int8",
	KindInt16:      "int16",
	KindUint16:     "uint16",
	KindInt32:      "int32",
	KindUint32:     "uint32",
	KindInt64:      "int64",
	KindUint64:     "uint64",
	KindFloat32:    "float32",
	KindVector2:    "vector2",
	KindVector3:    "vector3",
	KindVector4:    "vector4",
	KindQuaternion: "quaternion",
}

func (k ValueKind) String() string {
	if k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("ValueKind(%d)", uint8(k))
}

// ParseValueKind maps a schema-file type name to its kind.
func ParseValueKind(s string) (ValueKind, bool) {
	for k := KindBool; k < kindCount; k++ {
		if kindNames[k] == s {
			return k, true
		}
	}
	switch s {
	case "float", "single":
		return KindFloat32, true
	case "byte":
		return KindUint8, true
	case "short":
		return KindInt16, true
	case "ushort":
		return KindUint16, true
	case "int":
		return KindInt32, true
	case "uint":
		return KindUint32, true
	case "long":
		return KindInt64, true
	}
	return KindInvalid, false
}

// IsFloat reports whether the kind is made of float32 components.
func (k ValueKind) IsFloat() bool {
	return k >= KindFloat32 && k <= KindQuaternion
}

// IsInteger reports whether the kind is a whole-number kind.
func (k ValueKind) IsInteger() bool {
	return k >= KindUint8 && k <= KindUint64
}

// Components returns the number of float32 components of a float kind, 0 otherwise.
func (k ValueKind) Components() int {
	switch k {
	case KindFloat32:
		return 1
	case KindVector2:
		return 2
	case KindVector3:
		return 3
	case KindVector4, KindQuaternion:
		return 4
	}
	return 0
}

// BitWidth is the full unquantized width of the kind on the wire.
func (k ValueKind) BitWidth() uint8 {
	switch k {
	case KindBool:
		return 1
	case KindUint8, KindInt8:
		return 8
	case KindInt16, KindUint16:
		return 16
	case KindInt32, KindUint32, KindFloat32:
		return 32
	case KindInt64, KindUint64:
		return 64
	}
	return 0
}

// baselineRelative reports whether values of the kind travel as deltas
// against the current baseline. Quaternions are always absolute.
func (k ValueKind) baselineRelative() bool {
	return k >= KindFloat32 && k <= KindVector4
}

// Vec2 is a two-component vector.
type Vec2 struct{ X, Y float32 }

// Vec3 is a three-component vector.
type Vec3 struct{ X, Y, Z float32 }

// Vec4 is a four-component vector.
type Vec4 struct{ X, Y, Z, W float32 }

// Quat is a rotation quaternion stored as (x, y, z, w).
type Quat struct{ X, Y, Z, W float32 }

// QuatIdentity is the no-rotation quaternion.
var QuatIdentity = Quat{W: 1}

// Value is a tagged union holding one synchronized value of any supported
// kind. It is a plain value type; copying it copies the payload.
type Value struct {
	c    [4]float32
	bits uint64
	Kind ValueKind
}

func NewBool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.bits = 1
	}
	return v
}

func NewUint8(n uint8) Value   { return Value{Kind: KindUint8, bits: uint64(n)} }
func NewInt8(n int8) Value     { return Value{Kind: KindInt8, bits: uint64(int64(n))} }
func NewInt16(n int16) Value   { return Value{Kind: KindInt16, bits: uint64(int64(n))} }
func NewUint16(n uint16) Value { return Value{Kind: KindUint16, bits: uint64(n)} }
func NewInt32(n int32) Value   { return Value{Kind: KindInt32, bits: uint64(int64(n))} }
func NewUint32(n uint32) Value { return Value{Kind: KindUint32, bits: uint64(n)} }
func NewInt64(n int64) Value   { return Value{Kind: KindInt64, bits: uint64(n)} }
func NewUint64(n uint64) Value { return Value{Kind: KindUint64, bits: n} }

func NewFloat32(f float32) Value { return Value{Kind: KindFloat32, c: [4]float32{f}} }

func NewVec2(v Vec2) Value { return Value{Kind: KindVector2, c: [4]float32{v.X, v.Y}} }
func NewVec3(v Vec3) Value { return Value{Kind: KindVector3, c: [4]float32{v.X, v.Y, v.Z}} }
func NewVec4(v Vec4) Value { return Value{Kind: KindVector4, c: [4]float32{v.X, v.Y, v.Z, v.W}} }
func NewQuat(q Quat) Value { return Value{Kind: KindQuaternion, c: [4]float32{q.X, q.Y, q.Z, q.W}} }

// ZeroValue returns the zero value of kind k. Quaternions default to identity.
func ZeroValue(k ValueKind) Value {
	if k == KindQuaternion {
		return NewQuat(QuatIdentity)
	}
	return Value{Kind: k}
}

// fromComponents builds a float-kind value from raw components.
func fromComponents(k ValueKind, c [4]float32) Value {
	return Value{Kind: k, c: c}
}

// fromBits builds an integer or bool value from its raw payload, applying the
// kind's width so that sign extension round-trips.
func fromBits(k ValueKind, raw uint64) Value {
	switch k {
	case KindBool:
		return NewBool(raw&1 == 1)
	case KindUint8:
		return NewUint8(uint8(raw))
	case KindInt8:
		return NewInt8(int8(raw))
	case KindInt16:
		return NewInt16(int16(raw))
	case KindUint16:
		return NewUint16(uint16(raw))
	case KindInt32:
		return NewInt32(int32(raw))
	case KindUint32:
		return NewUint32(uint32(raw))
	case KindInt64:
		return NewInt64(int64(raw))
	case KindUint64:
		return NewUint64(raw)
	}
	panic("douki: fromBits on non-integer kind " + k.String())
}

func (v Value) Bool() bool     { return v.bits&1 == 1 }
func (v Value) Int() int64     { return int64(v.bits) }
func (v Value) Uint() uint64   { return v.bits }
func (v Value) Float() float32 { return v.c[0] }
func (v Value) Vec2() Vec2     { return Vec2{v.c[0], v.c[1]} }
func (v Value) Vec3() Vec3     { return Vec3{v.c[0], v.c[1], v.c[2]} }
func (v Value) Vec4() Vec4     { return Vec4{v.c[0], v.c[1], v.c[2], v.c[3]} }
func (v Value) Quat() Quat     { return Quat{v.c[0], v.c[1], v.c[2], v.c[3]} }

// Component returns float component i of a float-kind value.
func (v Value) Component(i int) float32 { return v.c[i] }

// raw returns the width-masked wire payload of an integer or bool value.
func (v Value) raw() uint64 {
	w := v.Kind.BitWidth()
	if w >= 64 {
		return v.bits
	}
	return v.bits & (uint64(1)<<w - 1)
}

// Equal reports exact equality of kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind.IsFloat() {
		return v.c == o.c
	}
	return v.bits == o.bits
}

// Sub returns the componentwise difference v-o of two float-kind values.
func (v Value) Sub(o Value) Value {
	mustSameFloatKind(v, o)
	var r [4]float32
	for i := range v.Kind.Components() {
		r[i] = v.c[i] - o.c[i]
	}
	return fromComponents(v.Kind, r)
}

// Add returns the componentwise sum v+o of two float-kind values.
func (v Value) Add(o Value) Value {
	mustSameFloatKind(v, o)
	var r [4]float32
	for i := range v.Kind.Components() {
		r[i] = v.c[i] + o.c[i]
	}
	return fromComponents(v.Kind, r)
}

// Scale multiplies every component of a float-kind value by f.
func (v Value) Scale(f float32) Value {
	var r [4]float32
	for i := range v.Kind.Components() {
		r[i] = v.c[i] * f
	}
	return fromComponents(v.Kind, r)
}

// Magnitude is the euclidean length of a float-kind value, or the absolute
// value for integer kinds.
func (v Value) Magnitude() float64 {
	if v.Kind.IsFloat() {
		var s float64
		for i := range v.Kind.Components() {
			s += float64(v.c[i]) * float64(v.c[i])
		}
		return math.Sqrt(s)
	}
	if v.Kind.IsInteger() {
		return math.Abs(float64(v.Int()))
	}
	return 0
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return fmt.Sprintf("%d", v.Uint())
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return fmt.Sprintf("%d", v.Int())
	case KindFloat32:
		return fmt.Sprintf("%.6f", v.c[0])
	case KindVector2:
		return fmt.Sprintf("(%.4f,%.4f)", v.c[0], v.c[1])
	case KindVector3:
		return fmt.Sprintf("(%.4f,%.4f,%.4f)", v.c[0], v.c[1], v.c[2])
	case KindVector4, KindQuaternion:
		return fmt.Sprintf("(%.4f,%.4f,%.4f,%.4f)", v.c[0], v.c[1], v.c[2], v.c[3])
	}
	return "<invalid>"
}

func mustSameFloatKind(a, b Value) {
	if a.Kind != b.Kind || !a.Kind.IsFloat() {
		panic("douki: arithmetic on mismatched kinds " + a.Kind.String() + " and " + b.Kind.String())
	}
}
