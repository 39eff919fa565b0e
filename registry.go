package douki

import (
	"errors"
	"fmt"
	"sort"

	"github.com/edwinsyarief/douki/internal/logging"
	"github.com/go-logr/logr"
)

// Registry is the composition root: it maps archetype ids to their schemas
// and owns the change-event pools. It is built once and read-only afterwards,
// so lookups are safe from any goroutine.
type Registry struct {
	log       logr.Logger
	metrics   *Metrics
	listeners *Listeners
	schemas   map[ArchetypeID]*Schema
	byName    map[string]*Schema
	pools     [kindCount]*Pool[ValueChangeEvent]
	cfg       Config
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logr.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithConfig replaces DefaultConfig.
func WithConfig(c Config) Option {
	return func(r *Registry) { r.cfg = c }
}

// WithListeners sets the dispatcher events are published to.
func WithListeners(l *Listeners) Option {
	return func(r *Registry) { r.listeners = l }
}

// NewRegistry builds and validates every schema in defs.
func NewRegistry(defs []SchemaDef, opts ...Option) (*Registry, error) {
	r := &Registry{
		log:     logr.Discard(),
		cfg:     DefaultConfig(),
		schemas: make(map[ArchetypeID]*Schema, len(defs)),
		byName:  make(map[string]*Schema, len(defs)),
	}
	for _, o := range opts {
		o(r)
	}
	if r.listeners == nil {
		r.listeners = NewListeners()
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("registry config: %w", err)
	}
	var errs []error
	for _, def := range defs {
		if _, dup := r.schemas[def.ID]; dup {
			errs = append(errs, fmt.Errorf("archetype id %d (%q) defined twice", def.ID, def.Name))
			continue
		}
		s, err := NewSchema(def, r.cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.schemas[s.ID] = s
		if s.Name != "" {
			r.byName[s.Name] = s
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	for k := KindBool; k < kindCount; k++ {
		pool := NewPool("change_event_"+k.String(), r.cfg.PoolCapacity, r.cfg.ReturnQueueCapacity, nil, resetChangeEvent, r.metrics)
		pool.newFn = func() *ValueChangeEvent { return &ValueChangeEvent{pool: pool} }
		r.pools[k] = pool
	}
	r.log.V(logging.DEBUG).Info("schema registry built", "archetypes", len(r.schemas))
	return r, nil
}

// Config returns the shared tunables.
func (r *Registry) Config() Config { return r.cfg }

// Listeners returns the event dispatcher.
func (r *Registry) Listeners() *Listeners { return r.listeners }

// Metrics returns the metrics sink, possibly nil.
func (r *Registry) Metrics() *Metrics { return r.metrics }

// Schema looks up an archetype.
func (r *Registry) Schema(id ArchetypeID) (*Schema, error) {
	s, ok := r.schemas[id]
	if !ok {
		return nil, fmt.Errorf("archetype id %d: %w", id, ErrUnknownArchetype)
	}
	return s, nil
}

// SchemaByName looks up an archetype by name.
func (r *Registry) SchemaByName(name string) (*Schema, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("archetype %q: %w", name, ErrUnknownArchetype)
	}
	return s, nil
}

// Schemas returns every schema in ascending id order.
func (r *Registry) Schemas() []*Schema {
	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// mustSchema resolves an archetype that the caller guarantees exists; a
// miss means the schema tables are inconsistent.
func (r *Registry) mustSchema(id ArchetypeID) *Schema {
	s, ok := r.schemas[id]
	if !ok {
		panic(fmt.Sprintf("douki: no schema for archetype id %d", id))
	}
	return s
}

// NewCompanion builds the sync companion for entity e, which must have been
// created in table with a registered archetype. Events the companion emits
// are borrowed with owner.
func (r *Registry) NewCompanion(owner Owner, table *EntityTable, e Entity) *Companion {
	return newCompanion(r, r.mustSchema(table.Archetype(e)), owner, table, e)
}

// BuildChangeEvent borrows and fills the change event for value index of
// c. Outbound events report LastKnownPrevious to LastKnown; inbound events
// report the transition most recently applied from a peer. Unknown
// archetype or index combinations panic.
func (r *Registry) BuildChangeEvent(owner Owner, explanation Explanation, elapsedTicks int64, filterAuthorityID AuthorityID, c *Companion, index uint8) *ValueChangeEvent {
	s := r.mustSchema(c.schema.ID)
	f := s.field(index)
	sup := &c.supports[index]
	e := r.pools[f.Kind].Borrow(owner)
	e.Explanation = explanation
	e.ProcessedAtElapsedTicks = elapsedTicks
	e.RelatedOwnerAuthorityID = filterAuthorityID
	e.Entity = c.entity
	e.Archetype = s.ID
	e.ValueIndex = index
	if explanation == InboundFromOther {
		e.OccurredAtElapsedTicks = elapsedTicks
		e.ValuePrevious = sup.inboundPrevious
		e.ValueNew = sup.inboundNew
	} else {
		e.OccurredAtElapsedTicks = sup.LastChangeElapsedTicks
		e.ValuePrevious = sup.LastKnownPrevious
		e.ValueNew = sup.LastKnown
	}
	return e
}

// CopyChangeEvent borrows a distinct instance from the same pool as
// original and copies every captured field into it.
func (r *Registry) CopyChangeEvent(owner Owner, original *ValueChangeEvent) *ValueChangeEvent {
	pool := original.pool
	if pool == nil {
		pool = r.pools[r.mustSchema(original.Archetype).field(original.ValueIndex).Kind]
	}
	e := pool.Borrow(owner)
	*e = *original
	e.pool = pool
	return e
}

// ReturnChangeEvent releases e to its pool. It is safe from any goroutine;
// owner decides whether the release is local or queued.
func (r *Registry) ReturnChangeEvent(owner Owner, e *ValueChangeEvent) {
	if e == nil || e.pool == nil {
		return
	}
	e.pool.Return(owner, e)
}

// changeEventPool exposes the pool for a kind to tests and tooling.
func (r *Registry) changeEventPool(k ValueKind) *Pool[ValueChangeEvent] {
	return r.pools[k]
}
