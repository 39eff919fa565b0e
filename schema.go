package douki

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrDuplicateIndex reports two descriptors claiming the same index, or a
	// gap in the index sequence.
	ErrDuplicateIndex = errors.New("douki: duplicate or missing value index")
	// ErrUnknownArchetype reports a lookup for an archetype no schema defines.
	ErrUnknownArchetype = errors.New("douki: unknown archetype")
	// ErrSchemaMismatch reports a peer whose schema fingerprint differs.
	ErrSchemaMismatch = errors.New("douki: schema fingerprint mismatch")
)

// MaxValuesPerArchetype is the number of values one schema can declare.
const MaxValuesPerArchetype = 256

// SchemaDef is the declarative form of an archetype's schema.
type SchemaDef struct {
	Name   string            `yaml:"name" toml:"name"`
	Values []ValueDescriptor `yaml:"values" toml:"values"`
	ID     ArchetypeID       `yaml:"id" toml:"id"`
}

// field is one resolved schema entry: descriptor, accessor and codecs.
type field struct {
	ValueDescriptor
	codec    Codec
	velocity Codec // nil unless velocity eligible
	ringCap  int
}

// Bundle groups values that share a channel and cadence and therefore
// travel together.
type Bundle struct {
	Indices        []uint8
	mask           bitmask256
	CadenceSeconds float32
	Index          int
	Reliability    Reliability
	// HasVelocity is set when at least one member is velocity eligible; only
	// then does the bundle carry a leading type bit.
	HasVelocity bool
}

// Schema is the immutable, resolved descriptor table of one archetype.
type Schema struct {
	Name        string
	fields      []field
	// order lists value indices by descending ProcessingPriority, ties by
	// index. Reads of live values follow it.
	order       []uint8
	bundles     []Bundle
	fingerprint uint64
	ID          ArchetypeID
	identity    int // index of the identity value, -1 if none
}

// NewSchema validates def and resolves every descriptor's codecs.
func NewSchema(def SchemaDef, cfg Config) (*Schema, error) {
	if len(def.Values) > MaxValuesPerArchetype {
		return nil, fmt.Errorf("archetype %q: %d values exceeds %d", def.Name, len(def.Values), MaxValuesPerArchetype)
	}
	descs := make([]ValueDescriptor, len(def.Values))
	copy(descs, def.Values)
	sort.SliceStable(descs, func(i, j int) bool { return descs[i].Index < descs[j].Index })

	s := &Schema{ID: def.ID, Name: def.Name, identity: -1, fields: make([]field, len(descs))}
	var errs []error
	for i := range descs {
		d := descs[i]
		if int(d.Index) != i {
			errs = append(errs, fmt.Errorf("archetype %q: value %q at position %d has index %d: %w", def.Name, d.Name, i, d.Index, ErrDuplicateIndex))
			continue
		}
		if err := resolveDescriptor(&d); err != nil {
			errs = append(errs, fmt.Errorf("archetype %q: %w", def.Name, err))
			continue
		}
		if err := d.validate(); err != nil {
			errs = append(errs, fmt.Errorf("archetype %q: %w", def.Name, err))
			continue
		}
		if d.IsIdentity() {
			if s.identity >= 0 {
				errs = append(errs, fmt.Errorf("archetype %q: more than one identity value", def.Name))
				continue
			}
			s.identity = i
		}
		f := field{ValueDescriptor: d, ringCap: cfg.ringCapacity(d.SyncCadenceSeconds)}
		codec, err := NewCodec(d.Kind, d.Quantization)
		if err != nil {
			errs = append(errs, fmt.Errorf("archetype %q value %q: %w", def.Name, d.Name, err))
			continue
		}
		f.codec = codec
		if d.VelocityEligible {
			vq := VelocityQuantization(d, cfg)
			vc, err := NewCodec(velocityKind(d.Kind), vq)
			if err != nil {
				errs = append(errs, fmt.Errorf("archetype %q value %q velocity: %w", def.Name, d.Name, err))
				continue
			}
			f.velocity = vc
		}
		s.fields[i] = f
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	s.bundles = planBundles(s.fields)
	s.order = processingOrder(s.fields)
	fp, err := fingerprint(s)
	if err != nil {
		return nil, fmt.Errorf("archetype %q: %w", def.Name, err)
	}
	s.fingerprint = fp
	return s, nil
}

// resolveDescriptor fills the typed fields from their schema-file
// spellings where the caller left them empty.
func resolveDescriptor(d *ValueDescriptor) error {
	if d.Kind == KindInvalid && d.TypeName != "" {
		k, ok := ParseValueKind(d.TypeName)
		if !ok {
			return fmt.Errorf("value %d (%s): unknown type %q", d.Index, d.Name, d.TypeName)
		}
		d.Kind = k
	}
	if d.Unreliable {
		d.Reliability = Unreliable
	}
	switch d.Role {
	case "":
	case "identity":
		d.ProcessingPriority = PriorityIdentity
	case "ownership":
		d.ProcessingPriority = PriorityOwnership
	default:
		return fmt.Errorf("value %d (%s): unknown role %q", d.Index, d.Name, d.Role)
	}
	if d.Skip == nil && d.SkipName != "" {
		p, ok := LookupSkipPredicate(d.SkipName)
		if !ok {
			return fmt.Errorf("value %d (%s): unknown skip predicate %q", d.Index, d.Name, d.SkipName)
		}
		d.Skip = p
	}
	return nil
}

// planBundles groups non-identity values by (reliability, cadence) in order
// of first appearance.
func planBundles(fields []field) []Bundle {
	var out []Bundle
	for i := range fields {
		f := &fields[i]
		if f.IsIdentity() {
			continue
		}
		b := -1
		for j := range out {
			if out[j].Reliability == f.Reliability && out[j].CadenceSeconds == f.SyncCadenceSeconds {
				b = j
				break
			}
		}
		if b < 0 {
			out = append(out, Bundle{Index: len(out), Reliability: f.Reliability, CadenceSeconds: f.SyncCadenceSeconds})
			b = len(out) - 1
		}
		out[b].Indices = append(out[b].Indices, f.Index)
		out[b].mask.set(f.Index)
		if f.VelocityEligible {
			out[b].HasVelocity = true
		}
	}
	return out
}

func processingOrder(fields []field) []uint8 {
	order := make([]uint8, len(fields))
	for i := range order {
		order[i] = uint8(i)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return fields[order[i]].ProcessingPriority > fields[order[j]].ProcessingPriority
	})
	return order
}

// ProcessingOrder returns value indices in the order live values are read.
// The slice must not be modified.
func (s *Schema) ProcessingOrder() []uint8 { return s.order }

// Len is the number of values in the schema.
func (s *Schema) Len() int { return len(s.fields) }

// Descriptor returns the descriptor at index. It panics on an unknown index.
func (s *Schema) Descriptor(index uint8) *ValueDescriptor {
	return &s.field(index).ValueDescriptor
}

// Codec returns the value codec at index.
func (s *Schema) Codec(index uint8) Codec { return s.field(index).codec }

// VelocityCodec returns the derivative codec at index, or nil.
func (s *Schema) VelocityCodec(index uint8) Codec { return s.field(index).velocity }

// Bundles returns the transmission plan. The slice must not be modified.
func (s *Schema) Bundles() []Bundle { return s.bundles }

// Identity returns the identity value's index.
func (s *Schema) Identity() (uint8, bool) {
	if s.identity < 0 {
		return 0, false
	}
	return uint8(s.identity), true
}

// Fingerprint is a hash of the wire-relevant schema shape. Peers exchanging
// bundles for an archetype must agree on it.
func (s *Schema) Fingerprint() uint64 { return s.fingerprint }

// CheckFingerprint compares a peer's fingerprint with ours.
func (s *Schema) CheckFingerprint(remote uint64) error {
	if remote != s.fingerprint {
		return fmt.Errorf("archetype %q: local %016x, remote %016x: %w", s.Name, s.fingerprint, remote, ErrSchemaMismatch)
	}
	return nil
}

func (s *Schema) field(index uint8) *field {
	if int(index) >= len(s.fields) {
		panic(fmt.Sprintf("douki: archetype %q has no value index %d", s.Name, index))
	}
	return &s.fields[index]
}

// wireDescriptor is the canonical form hashed into a fingerprint.
type wireDescriptor struct {
	Name         string               `cbor:"1,keyasint"`
	Kind         ValueKind            `cbor:"2,keyasint"`
	Reliability  Reliability          `cbor:"3,keyasint"`
	Cadence      float32              `cbor:"4,keyasint"`
	Physics      uint8                `cbor:"5,keyasint"`
	Velocity     bool                 `cbor:"6,keyasint"`
	Quantization QuantizationSettings `cbor:"7,keyasint"`
	VelocityBits int                  `cbor:"8,keyasint"`
	Priority     int32                `cbor:"9,keyasint"`
	Blend        bool                 `cbor:"10,keyasint"`
}

var fingerprintEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func fingerprint(s *Schema) (uint64, error) {
	wire := struct {
		Name   string           `cbor:"1,keyasint"`
		ID     ArchetypeID      `cbor:"2,keyasint"`
		Values []wireDescriptor `cbor:"3,keyasint"`
	}{Name: s.Name, ID: s.ID, Values: make([]wireDescriptor, len(s.fields))}
	for i := range s.fields {
		f := &s.fields[i]
		w := wireDescriptor{
			Name:         f.Name,
			Kind:         f.Kind,
			Reliability:  f.Reliability,
			Cadence:      f.SyncCadenceSeconds,
			Physics:      f.PhysicsUpdateInterval,
			Velocity:     f.VelocityEligible,
			Quantization: f.Quantization,
			Priority:     f.ProcessingPriority,
			Blend:        f.ShouldBlendOnReceive,
		}
		if f.velocity != nil {
			w.VelocityBits = f.velocity.BitSize()
		}
		wire.Values[i] = w
	}
	b, err := fingerprintEncMode.Marshal(wire)
	if err != nil {
		return 0, fmt.Errorf("encode schema fingerprint: %w", err)
	}
	return xxhash.Sum64(b), nil
}
