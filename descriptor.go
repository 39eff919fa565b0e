package douki

import (
	"fmt"
	"math"
)

// Reliability selects the delivery channel a value travels on.
type Reliability uint8

const (
	Reliable Reliability = iota
	Unreliable
)

func (r Reliability) String() string {
	if r == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// Reserved processing priorities. Identity is processed before ownership,
// and both before any ordinary value.
const (
	PriorityIdentity  int32 = math.MaxInt32
	PriorityOwnership int32 = math.MaxInt32 - 1
)

// SkipPredicate suppresses a value for the current evaluation when it
// returns true.
type SkipPredicate func(c *Companion) bool

// Named skip predicates usable from schema files.
var skipPredicates = map[string]SkipPredicate{
	"not_owned_locally": func(c *Companion) bool { return !c.IsOwnedLocally() },
	"owned_locally":     func(c *Companion) bool { return c.IsOwnedLocally() },
}

// LookupSkipPredicate returns the predicate registered under name.
func LookupSkipPredicate(name string) (SkipPredicate, bool) {
	p, ok := skipPredicates[name]
	return p, ok
}

// ValueDescriptor is the immutable metadata of one synchronized value of an
// archetype.
type ValueDescriptor struct {
	// Accessor reads and writes the live value. Nil uses EntityTable storage.
	Accessor Accessor `yaml:"-" toml:"-"`
	// Skip, when set, gates the value per evaluation.
	Skip SkipPredicate `yaml:"-" toml:"-"`
	// VelocityQuantization overrides the derived velocity encoding.
	VelocityQuantization *QuantizationSettings `yaml:"velocityQuantization,omitempty" toml:"velocityQuantization"`

	Name string    `yaml:"name" toml:"name"`
	Kind ValueKind `yaml:"-" toml:"-"`
	// TypeName is the schema-file spelling of Kind.
	TypeName string `yaml:"type" toml:"type"`
	// SkipName is the schema-file name of a registered skip predicate.
	SkipName string `yaml:"skip,omitempty" toml:"skip"`
	// Role is the schema-file spelling of the reserved priorities:
	// "identity" or "ownership".
	Role string `yaml:"role,omitempty" toml:"role"`

	Quantization QuantizationSettings `yaml:"quantization" toml:"quantization"`
	// SyncCadenceSeconds is the send interval; 0 sends on every evaluation.
	SyncCadenceSeconds float32 `yaml:"cadence" toml:"cadence"`
	// ProcessingPriority orders value reads: higher first, equal priorities
	// by index. PriorityIdentity and PriorityOwnership are reserved.
	ProcessingPriority int32   `yaml:"priority" toml:"priority"`

	Index       uint8       `yaml:"index" toml:"index"`
	Reliability Reliability `yaml:"-" toml:"-"`
	// PhysicsUpdateInterval limits evaluation to every Nth fixed step. 0
	// means the value is not driven by fixed steps.
	PhysicsUpdateInterval uint8 `yaml:"physicsInterval" toml:"physicsInterval"`

	ShouldBlendOnReceive bool `yaml:"blend" toml:"blend"`
	VelocityEligible     bool `yaml:"velocity" toml:"velocity"`
	// MainThreadOnly marks values whose accessor must run on the primary
	// simulation goroutine.
	MainThreadOnly bool `yaml:"mainThread" toml:"mainThread"`
	// Unreliable is the schema-file spelling of Reliability.
	Unreliable bool `yaml:"unreliable" toml:"unreliable"`
}

// IsIdentity reports whether the value is the entity's identity field.
func (d *ValueDescriptor) IsIdentity() bool { return d.ProcessingPriority == PriorityIdentity }

// IsOwnership reports whether the value carries ownership.
func (d *ValueDescriptor) IsOwnership() bool { return d.ProcessingPriority == PriorityOwnership }

// dueOnStep reports whether the value is evaluated on fixed step n.
func (d *ValueDescriptor) dueOnStep(n uint64) bool {
	return d.PhysicsUpdateInterval <= 1 || n%uint64(d.PhysicsUpdateInterval) == 0
}

// syncInterval is the expected time between two sends of the value.
func (d *ValueDescriptor) syncInterval(cfg Config) float32 {
	var s float32
	if d.PhysicsUpdateInterval > 0 {
		s = cfg.FixedDeltaSeconds * float32(d.PhysicsUpdateInterval)
	} else {
		s = d.SyncCadenceSeconds
	}
	if s <= 0.0001 {
		s = 0.033
	}
	return s
}

// quaternionVelocityPrecisionDegrees is the rotation a 9-bit smallest-three
// component can resolve.
const quaternionVelocityPrecisionDegrees = 0.16

// VelocityQuantization returns the encoding used for d's derivative. An
// explicit override wins; otherwise the range is one value quantization step
// per sync interval, expressed per second, at the value's bit width.
func VelocityQuantization(d ValueDescriptor, cfg Config) QuantizationSettings {
	if d.VelocityQuantization != nil {
		return *d.VelocityQuantization
	}
	interval := d.syncInterval(cfg)
	if d.Kind == KindQuaternion {
		maxRad := float32(quaternionVelocityPrecisionDegrees/float64(interval)) * math.Pi / 180
		return QuantizationSettings{Lower: -maxRad, Upper: maxRad, Bits: DefaultQuaternionBits}
	}
	if !d.Quantization.CanQuantize() {
		return cfg.VelocityFallback
	}
	precision := (d.Quantization.Upper - d.Quantization.Lower) / float32(maxForBits(d.Quantization.Bits))
	v := precision / interval
	return QuantizationSettings{Lower: -v, Upper: v, Bits: d.Quantization.Bits}
}

// velocityKind is the kind a derivative of k travels as.
func velocityKind(k ValueKind) ValueKind {
	if k == KindQuaternion {
		return KindVector3
	}
	return k
}

func (d *ValueDescriptor) validate() error {
	if d.Kind == KindInvalid || d.Kind >= kindCount {
		return fmt.Errorf("value %d (%s): unknown kind %q", d.Index, d.Name, d.TypeName)
	}
	if d.VelocityEligible && !d.Kind.IsFloat() {
		return fmt.Errorf("value %d (%s): %s values cannot be velocity eligible", d.Index, d.Name, d.Kind)
	}
	if d.Kind.IsFloat() && d.Kind != KindQuaternion {
		if err := d.Quantization.Validate(); err != nil {
			return fmt.Errorf("value %d (%s): %w", d.Index, d.Name, err)
		}
	}
	if d.IsIdentity() && !d.Kind.IsInteger() {
		return fmt.Errorf("value %d (%s): identity must be an integer kind", d.Index, d.Name)
	}
	if d.SyncCadenceSeconds < 0 {
		return fmt.Errorf("value %d (%s): negative cadence", d.Index, d.Name)
	}
	return nil
}
