package douki

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// synthesisAngleEpsilon is the smallest rotation, in radians, worth applying
// when synthesizing a quaternion from an angular velocity.
const synthesisAngleEpsilon = 1e-6

// BundleType is the leading bit of a velocity-capable bundle.
type BundleType uint8

const (
	BundleValue BundleType = iota
	BundleVelocity
)

func (b BundleType) String() string {
	if b == BundleVelocity {
		return "velocity"
	}
	return "value"
}

// derivativeResult explains how a derivative was obtained.
type derivativeResult uint8

const (
	derivativeOK derivativeResult = iota
	derivativeInsufficientHistory
	derivativeKindMismatch
	derivativeZeroInterval
)

func (r derivativeResult) String() string {
	switch r {
	case derivativeInsufficientHistory:
		return "insufficient history"
	case derivativeKindMismatch:
		return "snapshot kind mismatch"
	case derivativeZeroInterval:
		return "zero time interval"
	}
	return "ok"
}

// Derivative computes the rate of change per second from the older snapshot
// prev to the newer snapshot cur. Float kinds yield (cur-prev)/dt with the
// same kind; quaternions yield the world-frame angular velocity in radians
// per second as a Vector3. Snapshots of different kinds, or without elapsed
// time between them, yield a zero derivative and ok=false.
func Derivative(cur, prev ValueSnapshot) (d Value, ok bool) {
	d, r := derivative(cur, prev)
	return d, r == derivativeOK
}

func derivative(cur, prev ValueSnapshot) (Value, derivativeResult) {
	k := cur.Value.Kind
	if prev.Value.Kind != k || !k.IsFloat() {
		return ZeroValue(velocityKind(k)), derivativeKindMismatch
	}
	dt := TicksToSeconds(cur.ElapsedTicks - prev.ElapsedTicks)
	if dt <= 0 {
		return ZeroValue(velocityKind(k)), derivativeZeroInterval
	}
	if k == KindQuaternion {
		return NewVec3(AngularVelocity(prev.Value.Quat(), cur.Value.Quat(), dt)), derivativeOK
	}
	return cur.Value.Sub(prev.Value).Scale(float32(1 / dt)), derivativeOK
}

// AngularVelocity returns the world-frame angular velocity taking q0 to q1
// over dt seconds: delta = q1 * inverse(q0) decomposed to axis*angle/dt.
func AngularVelocity(q0, q1 Quat, dt float64) Vec3 {
	delta := quat.Mul(toNumber(q1), quat.Inv(toNumber(q0)))
	if delta.Real < 0 {
		delta = quat.Scale(-1, delta)
	}
	angle, axis := toAngleAxis(delta)
	if angle < synthesisAngleEpsilon || dt <= 0 {
		return Vec3{}
	}
	w := r3.Scale(angle/dt, axis)
	return Vec3{float32(w.X), float32(w.Y), float32(w.Z)}
}

// Synthesize dead-reckons a value from v0 and the derivative d over dt
// seconds. Float kinds integrate linearly. Quaternions rotate v0 by
// |d|*dt around d/|d|, or return v0 when that angle is negligible.
func Synthesize(v0, d Value, dt float64) Value {
	if v0.Kind == KindQuaternion {
		w := r3.Vec{X: float64(d.c[0]), Y: float64(d.c[1]), Z: float64(d.c[2])}
		speed := r3.Norm(w)
		angle := speed * dt
		if angle <= synthesisAngleEpsilon {
			return v0
		}
		rot := axisAngle(angle, r3.Scale(1/speed, w))
		return NewQuat(normalizeQuat(fromNumber(quat.Mul(rot, toNumber(v0.Quat())))))
	}
	return v0.Add(d.Scale(float32(dt)))
}

// AxisAngle builds the rotation of angle radians around a unit axis.
func AxisAngle(angle float64, axis Vec3) Quat {
	a := r3.Unit(r3.Vec{X: float64(axis.X), Y: float64(axis.Y), Z: float64(axis.Z)})
	return fromNumber(axisAngle(angle, a))
}

func axisAngle(angle float64, unitAxis r3.Vec) quat.Number {
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: unitAxis.X * s, Jmag: unitAxis.Y * s, Kmag: unitAxis.Z * s}
}

// toAngleAxis decomposes a unit quaternion with non-negative real part.
func toAngleAxis(q quat.Number) (float64, r3.Vec) {
	w := math.Max(-1, math.Min(1, q.Real))
	angle := 2 * math.Acos(w)
	s := math.Sqrt(1 - w*w)
	if s < 1e-9 {
		return 0, r3.Vec{X: 1}
	}
	return angle, r3.Vec{X: q.Imag / s, Y: q.Jmag / s, Z: q.Kmag / s}
}

func toNumber(q Quat) quat.Number {
	return quat.Number{Real: float64(q.W), Imag: float64(q.X), Jmag: float64(q.Y), Kmag: float64(q.Z)}
}

func fromNumber(n quat.Number) Quat {
	return Quat{X: float32(n.Imag), Y: float32(n.Jmag), Z: float32(n.Kmag), W: float32(n.Real)}
}

// deltaMagnitude is the size used by the sub-quantization diagnostic.
func deltaMagnitude(v Value) float64 {
	switch v.Kind {
	case KindVector3:
		return r3.Norm(r3.Vec{X: float64(v.c[0]), Y: float64(v.c[1]), Z: float64(v.c[2])})
	case KindQuaternion:
		return 0
	}
	return v.Magnitude()
}
