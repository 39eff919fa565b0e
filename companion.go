package douki

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/edwinsyarief/douki/internal/logging"
	"github.com/go-logr/logr"
)

// ErrBaselineOutOfOrder reports a baseline update that does not directly
// follow the last one applied for that value.
var ErrBaselineOutOfOrder = errors.New("douki: baseline update out of order")

// rebaseThreshold is the fraction of the quantization range a delta may use
// before the baseline moves.
const rebaseThreshold = 0.8

// Companion tracks and replicates the synchronized values of one entity. It
// reaches the entity only through its handle and the EntityTable.
//
// A companion is driven by one coordinating loop: UpdateLastKnownValues,
// the serialize calls and the deserialize calls must not overlap, and doing
// so panics. UpdateIndependentValues may run on a worker goroutine but is
// held to the same rule.
type Companion struct {
	registry  *Registry
	schema    *Schema
	table     *EntityTable
	log       logr.Logger
	accessors []Accessor
	supports  []ValueChangeSupport
	// nextIsVelocity holds one toggle per bundle of the schema.
	nextIsVelocity []bool
	// pending holds a bundle's decoded units until the whole bundle read
	// cleanly.
	pending        []pendingUnit
	changed        bitmask256
	entity         Entity
	owner          Owner
	busy           atomic.Bool
}

func newCompanion(r *Registry, s *Schema, owner Owner, table *EntityTable, e Entity) *Companion {
	c := &Companion{
		registry:       r,
		schema:         s,
		table:          table,
		entity:         e,
		owner:          owner,
		log:            r.log.WithName("companion").WithValues("archetype", s.Name, "entity", e.ID),
		accessors:      make([]Accessor, len(s.fields)),
		supports:       make([]ValueChangeSupport, len(s.fields)),
		nextIsVelocity: make([]bool, len(s.bundles)),
		pending:        make([]pendingUnit, 0, len(s.fields)),
	}
	for i := range s.fields {
		f := &s.fields[i]
		acc := f.Accessor
		if acc == nil {
			acc = tableAccessor{table: table, index: f.Index}
		}
		c.accessors[i] = acc
		initial := acc.Get(e)
		if initial.Kind != f.Kind {
			panic(fmt.Sprintf("douki: accessor for %s.%s returned %s, want %s", s.Name, f.Name, initial.Kind, f.Kind))
		}
		c.supports[i] = newValueChangeSupport(f, initial)
	}
	return c
}

// Entity returns the handle of the companion's entity.
func (c *Companion) Entity() Entity { return c.entity }

// Schema returns the companion's archetype schema.
func (c *Companion) Schema() *Schema { return c.schema }

// Support returns the tracking record of value index.
func (c *Companion) Support(index uint8) *ValueChangeSupport {
	c.schema.field(index)
	return &c.supports[index]
}

// IsOwnedLocally reports whether this peer owns the entity.
func (c *Companion) IsOwnedLocally() bool {
	return c.table.Owner(c.entity) == c.registry.cfg.LocalAuthorityID
}

// NextBundleIsVelocity reports the type the next serialization of bundle
// will use.
func (c *Companion) NextBundleIsVelocity(bundle int) bool {
	return c.nextIsVelocity[bundle]
}

func (c *Companion) enter() {
	if !c.busy.CompareAndSwap(false, true) {
		panic("douki: companion for entity " + fmt.Sprint(c.entity.ID) + " used concurrently")
	}
}

func (c *Companion) leave() { c.busy.Store(false) }

// UpdateLastKnownValues reads every value the skip predicates allow from
// its accessor, shifting LastKnown into LastKnownPrevious first. Values whose
// new reading differs after quantization are marked changed.
func (c *Companion) UpdateLastKnownValues(elapsedTicks int64) {
	c.enter()
	defer c.leave()
	c.updateValues(elapsedTicks, true)
}

// UpdateIndependentValues is UpdateLastKnownValues restricted to values not
// marked MainThreadOnly.
func (c *Companion) UpdateIndependentValues(elapsedTicks int64) {
	c.enter()
	defer c.leave()
	c.updateValues(elapsedTicks, false)
}

func (c *Companion) updateValues(elapsedTicks int64, mainThread bool) {
	for _, i := range c.schema.order {
		f := &c.schema.fields[i]
		if !mainThread && f.MainThreadOnly {
			continue
		}
		if f.Skip != nil && f.Skip(c) {
			continue
		}
		v := c.accessors[i].Get(c.entity)
		if v.Kind != f.Kind {
			panic(fmt.Sprintf("douki: accessor for %s.%s returned %s, want %s", c.schema.Name, f.Name, v.Kind, f.Kind))
		}
		sup := &c.supports[i]
		sup.observe(v)
		if !c.equalConsideringQuantization(f, sup, sup.LastKnownPrevious, v) {
			sup.LastChangeElapsedTicks = elapsedTicks
			sup.AtRest = false
			c.changed.set(f.Index)
		}
	}
}

func (c *Companion) equalConsideringQuantization(f *field, sup *ValueChangeSupport, a, b Value) bool {
	if f.Kind.baselineRelative() {
		return f.codec.AreEqualConsideringQuantization(a.Sub(sup.Baseline), b.Sub(sup.Baseline))
	}
	return f.codec.AreEqualConsideringQuantization(a, b)
}

// HaveAnyValuesChanged reports whether any value changed since it was last
// serialized.
func (c *Companion) HaveAnyValuesChanged() bool { return !c.changed.isZero() }

// BundleHasChanges reports whether any member of bundle changed since it was
// last serialized.
func (c *Companion) BundleHasChanges(bundle int) bool {
	return c.changed.intersects(c.schema.bundles[bundle].mask)
}

// ChangedIndices appends the indices of changed values to dst.
func (c *Companion) ChangedIndices(dst []uint8) []uint8 { return c.changed.appendIndices(dst) }

// ChangedCount is the number of changed values.
func (c *Companion) ChangedCount() int { return c.changed.count() }

// IsNearOrOutsideQuantizationRange reports whether the delta of value index
// against its baseline has passed 80% of the quantization bounds on any
// component.
func (c *Companion) IsNearOrOutsideQuantizationRange(index uint8) bool {
	f := c.schema.field(index)
	if !f.Kind.baselineRelative() || !f.Quantization.CanQuantize() {
		return false
	}
	sup := &c.supports[index]
	d := sup.LastKnown.Sub(sup.Baseline)
	lo := rebaseThreshold * f.Quantization.Lower
	hi := rebaseThreshold * f.Quantization.Upper
	for i := range f.Kind.Components() {
		if d.c[i] < lo || d.c[i] > hi {
			return true
		}
	}
	return false
}

// RebaseIfNeeded moves the baseline of value index to its last known value
// when the value is near the edge of the quantization range. It publishes a
// BaselineExpiredEvent followed by a NewBaselineEvent; both must reach peers
// reliably and in order.
func (c *Companion) RebaseIfNeeded(index uint8, elapsedTicks int64) bool {
	c.enter()
	defer c.leave()
	return c.rebaseIfNeeded(index, elapsedTicks)
}

// UpdateBaselines runs RebaseIfNeeded over every value and returns how many
// were rebased.
func (c *Companion) UpdateBaselines(elapsedTicks int64) int {
	c.enter()
	defer c.leave()
	n := 0
	for i := range c.schema.fields {
		if c.rebaseIfNeeded(uint8(i), elapsedTicks) {
			n++
		}
	}
	return n
}

func (c *Companion) rebaseIfNeeded(index uint8, elapsedTicks int64) bool {
	if !c.IsNearOrOutsideQuantizationRange(index) {
		return false
	}
	sup := &c.supports[index]
	expired := BaselineExpiredEvent{
		Baseline:      sup.Baseline,
		ElapsedTicks:  elapsedTicks,
		Entity:        c.entity,
		Archetype:     c.schema.ID,
		ExpiredSeqNum: sup.BaselineSequence,
		ValueIndex:    index,
	}
	sup.Baseline = sup.LastKnown
	sup.BaselineSequence++
	c.registry.metrics.rebased(c.schema.Name)
	if c.log.V(logging.DEBUG).Enabled() {
		c.log.V(logging.DEBUG).Info("baseline rebased", "value", c.schema.fields[index].Name, "baseline", sup.Baseline.String(), "sequence", sup.BaselineSequence)
	}
	Publish(c.registry.listeners, expired)
	Publish(c.registry.listeners, NewBaselineEvent{
		Baseline:     sup.Baseline,
		ElapsedTicks: elapsedTicks,
		Entity:       c.entity,
		Archetype:    c.schema.ID,
		Sequence:     sup.BaselineSequence,
		ValueIndex:   index,
	})
	return true
}

// ApplyNewBaseline installs a baseline received from the owning peer.
// Updates must arrive in sequence; anything else returns
// ErrBaselineOutOfOrder and leaves the baseline untouched.
func (c *Companion) ApplyNewBaseline(index uint8, sequence uint32, baseline Value) error {
	c.enter()
	defer c.leave()
	f := c.schema.field(index)
	if baseline.Kind != f.Kind {
		return fmt.Errorf("baseline for %s.%s: got %s, want %s", c.schema.Name, f.Name, baseline.Kind, f.Kind)
	}
	sup := &c.supports[index]
	if sequence != sup.BaselineSequence+1 {
		return fmt.Errorf("baseline for %s.%s: have sequence %d, got %d: %w", c.schema.Name, f.Name, sup.BaselineSequence, sequence, ErrBaselineOutOfOrder)
	}
	sup.Baseline = baseline
	sup.BaselineSequence = sequence
	return nil
}

// encodeValue writes v, relative to the baseline for float kinds.
func (c *Companion) encodeValue(w *BitWriter, f *field, sup *ValueChangeSupport, v Value) {
	if !f.Kind.baselineRelative() {
		f.codec.Encode(w, v)
		return
	}
	d := v.Sub(sup.Baseline)
	c.checkSubQuantization(f, d)
	f.codec.Encode(w, d)
}

func (c *Companion) decodeValue(r *BitReader, f *field, sup *ValueChangeSupport) Value {
	v := f.codec.Decode(r)
	if f.Kind.baselineRelative() {
		v = v.Add(sup.Baseline)
	}
	return v
}

// checkSubQuantization logs deltas that are non-zero but smaller than one
// quantization step and so cannot be told apart from no movement.
func (c *Companion) checkSubQuantization(f *field, delta Value) {
	step := f.codec.Step()
	if step == 0 {
		return
	}
	mag := deltaMagnitude(delta)
	if mag <= 0 || mag >= float64(step) {
		return
	}
	c.registry.metrics.subQuantized(c.schema.Name, f.Name)
	if c.log.V(logging.DEBUG).Enabled() {
		c.log.V(logging.DEBUG).Info("sub-quantization delta", "value", f.Name, "magnitude", mag, "step", step, "ratio", mag/float64(step), "delta", delta.String())
	}
}

// SerializeAll writes every value except the identity for a full sync. It
// always uses value semantics and carries no bundle or presence bits.
func (c *Companion) SerializeAll(w *BitWriter, elapsedTicks int64) {
	c.enter()
	defer c.leave()
	for i := range c.schema.fields {
		f := &c.schema.fields[i]
		if f.IsIdentity() {
			continue
		}
		c.serializeValue(w, f, elapsedTicks)
	}
}

// SerializeSingle writes one value with value semantics.
func (c *Companion) SerializeSingle(w *BitWriter, index uint8, elapsedTicks int64) {
	c.enter()
	defer c.leave()
	c.serializeValue(w, c.schema.field(index), elapsedTicks)
}

func (c *Companion) serializeValue(w *BitWriter, f *field, elapsedTicks int64) {
	sup := &c.supports[f.Index]
	c.encodeValue(w, f, sup, sup.LastKnown)
	sup.recent.push(ValueSnapshot{ElapsedTicks: elapsedTicks, Value: sup.LastKnown})
	c.changed.unset(f.Index)
	c.publishChange(OutboundToOthers, elapsedTicks, f.Index)
}

// DeserializeInitAll reads a full sync written by SerializeAll and applies
// every value directly.
func (c *Companion) DeserializeInitAll(r *BitReader, elapsedTicks int64) error {
	c.enter()
	defer c.leave()
	for i := range c.schema.fields {
		f := &c.schema.fields[i]
		if f.IsIdentity() {
			continue
		}
		v := c.decodeValue(r, f, &c.supports[i])
		if err := r.Err(); err != nil {
			return fmt.Errorf("full sync of %s value %s: %w", c.schema.Name, f.Name, err)
		}
		c.applyInbound(f, ValueSnapshot{ElapsedTicks: elapsedTicks, Value: v}, true)
	}
	return nil
}

// DeserializeInitSingle reads one value written by SerializeSingle.
func (c *Companion) DeserializeInitSingle(r *BitReader, index uint8, elapsedTicks int64) error {
	c.enter()
	defer c.leave()
	f := c.schema.field(index)
	v := c.decodeValue(r, f, &c.supports[index])
	if err := r.Err(); err != nil {
		return fmt.Errorf("single value %s.%s: %w", c.schema.Name, f.Name, err)
	}
	c.applyInbound(f, ValueSnapshot{ElapsedTicks: elapsedTicks, Value: v}, true)
	return nil
}

// SerializeBundle writes bundle for fixed step fixedStep. A velocity-capable
// bundle starts with its type bit; every member then gets a presence bit and,
// when due and not skipped, its unit. The bundle type toggles only when a
// velocity-eligible member was actually written.
func (c *Companion) SerializeBundle(w *BitWriter, bundle int, elapsedTicks int64, fixedStep uint64) BundleType {
	c.enter()
	defer c.leave()
	b := &c.schema.bundles[bundle]
	bt := BundleValue
	if b.HasVelocity {
		if c.nextIsVelocity[bundle] {
			bt = BundleVelocity
		}
		w.WriteBit(bt == BundleVelocity)
	}
	wroteVelocityEligible := false
	for _, idx := range b.Indices {
		f := &c.schema.fields[idx]
		present := f.dueOnStep(fixedStep) && (f.Skip == nil || !f.Skip(c))
		w.WriteBit(present)
		if !present {
			continue
		}
		if f.VelocityEligible {
			wroteVelocityEligible = true
		}
		if bt == BundleVelocity && f.VelocityEligible {
			c.serializeVelocity(w, f, elapsedTicks)
			c.changed.unset(idx)
			c.publishChange(OutboundToOthers, elapsedTicks, idx)
			continue
		}
		c.serializeValue(w, f, elapsedTicks)
	}
	if b.HasVelocity && wroteVelocityEligible {
		c.nextIsVelocity[bundle] = !c.nextIsVelocity[bundle]
	}
	c.registry.metrics.bundle("out", bt)
	return bt
}

// serializeVelocity writes a form bit followed by either the derivative over
// the two newest snapshots or, when that falls outside the velocity codec's
// range, the full value.
func (c *Companion) serializeVelocity(w *BitWriter, f *field, elapsedTicks int64) {
	sup := &c.supports[f.Index]
	sup.recent.push(ValueSnapshot{ElapsedTicks: elapsedTicks, Value: sup.LastKnown})
	d := c.senderDerivative(f, sup)
	if !velocityInRange(f.velocity, d) {
		c.registry.metrics.velocityFellBack("out_of_range")
		if c.log.V(logging.DEBUG).Enabled() {
			c.log.V(logging.DEBUG).Info("velocity outside range, sending value", "value", f.Name, "velocity", d.String())
		}
		w.WriteBit(false)
		c.encodeValue(w, f, sup, sup.LastKnown)
		return
	}
	w.WriteBit(true)
	f.velocity.Encode(w, d)
}

func (c *Companion) senderDerivative(f *field, sup *ValueChangeSupport) Value {
	if sup.recent.len() < 2 {
		c.zeroDerivative(f, derivativeInsufficientHistory)
		return ZeroValue(velocityKind(f.Kind))
	}
	d, res := derivative(sup.recent.at(0), sup.recent.at(1))
	if res != derivativeOK {
		c.zeroDerivative(f, res)
	}
	return d
}

func (c *Companion) zeroDerivative(f *field, reason derivativeResult) {
	c.registry.metrics.velocityFellBack("zero_derivative")
	if c.log.V(logging.DEBUG).Enabled() {
		c.log.V(logging.DEBUG).Info("using zero derivative", "value", f.Name, "reason", reason.String())
	}
}

func velocityInRange(codec Codec, d Value) bool {
	if fc, ok := codec.(*floatCodec); ok {
		return fc.inRange(d)
	}
	return true
}

// pendingUnit is one decoded bundle member awaiting application.
type pendingUnit struct {
	snap  ValueSnapshot
	index uint8
}

// DeserializeBundle reads bundle as written by SerializeBundle. Derivatives
// are turned back into values by dead reckoning from the newest snapshot.
// Values marked ShouldBlendOnReceive are only recorded; Blend applies them.
// A bundle that fails to read leaves every member untouched.
func (c *Companion) DeserializeBundle(r *BitReader, bundle int, elapsedTicks int64) (BundleType, error) {
	c.enter()
	defer c.leave()
	b := &c.schema.bundles[bundle]
	bt := BundleValue
	if b.HasVelocity && r.ReadBit() {
		bt = BundleVelocity
	}
	pending := c.pending[:0]
	for _, idx := range b.Indices {
		f := &c.schema.fields[idx]
		if !r.ReadBit() {
			continue
		}
		sup := &c.supports[idx]
		snap := ValueSnapshot{ElapsedTicks: elapsedTicks}
		if bt == BundleVelocity && f.VelocityEligible && r.ReadBit() {
			d := f.velocity.Decode(r)
			snap.Value = c.synthesize(f, sup, d, elapsedTicks)
			snap.Velocity = d
			snap.SynthesizedFromVelocity = true
		} else {
			snap.Value = c.decodeValue(r, f, sup)
		}
		if err := r.Err(); err != nil {
			return bt, fmt.Errorf("bundle %d of %s value %s: %w", bundle, c.schema.Name, f.Name, err)
		}
		pending = append(pending, pendingUnit{snap: snap, index: idx})
	}
	if err := r.Err(); err != nil {
		return bt, fmt.Errorf("bundle %d of %s: %w", bundle, c.schema.Name, err)
	}
	for _, u := range pending {
		f := &c.schema.fields[u.index]
		c.applyInbound(f, u.snap, !f.ShouldBlendOnReceive)
	}
	c.pending = pending[:0]
	c.registry.metrics.bundle("in", bt)
	return bt, nil
}

// synthesize dead-reckons value f from its newest snapshot. Without one, the
// derivative itself is taken as the value.
func (c *Companion) synthesize(f *field, sup *ValueChangeSupport, d Value, elapsedTicks int64) Value {
	c.registry.metrics.synthesizedValue(c.schema.Name)
	if sup.recent.len() == 0 {
		if c.log.V(logging.DEBUG).Enabled() {
			c.log.V(logging.DEBUG).Info("no snapshot to synthesize from, applying derivative as value", "value", f.Name)
		}
		if f.Kind == KindQuaternion {
			return sup.LastKnown
		}
		return d
	}
	s0 := sup.recent.at(0)
	return Synthesize(s0.Value, d, TicksToSeconds(elapsedTicks-s0.ElapsedTicks))
}

func (c *Companion) applyInbound(f *field, snap ValueSnapshot, apply bool) {
	sup := &c.supports[f.Index]
	sup.inboundPrevious = sup.LastKnown
	sup.inboundNew = snap.Value
	sup.observe(snap.Value)
	sup.LastChangeElapsedTicks = snap.ElapsedTicks
	sup.AtRest = false
	sup.recent.push(snap)
	if apply {
		c.accessors[f.Index].Set(c.entity, snap.Value)
	}
	c.publishChange(InboundFromOther, snap.ElapsedTicks, f.Index)
}

// ValueAt interpolates value index from its snapshot history at
// elapsedTicks, holding the oldest or newest snapshot outside the history.
func (c *Companion) ValueAt(index uint8, elapsedTicks int64) (Value, bool) {
	c.schema.field(index)
	ring := &c.supports[index].recent
	n := ring.len()
	if n == 0 {
		return Value{}, false
	}
	newest := ring.at(0)
	if elapsedTicks >= newest.ElapsedTicks {
		return newest.Value, true
	}
	oldest := ring.at(n - 1)
	if elapsedTicks <= oldest.ElapsedTicks {
		return oldest.Value, true
	}
	for i := 1; i < n; i++ {
		older := ring.at(i)
		if older.ElapsedTicks > elapsedTicks {
			continue
		}
		newer := ring.at(i - 1)
		span := newer.ElapsedTicks - older.ElapsedTicks
		if span <= 0 {
			return newer.Value, true
		}
		t := float32(float64(elapsedTicks-older.ElapsedTicks) / float64(span))
		return interpolate(older.Value, newer.Value, t), true
	}
	return oldest.Value, true
}

// Blend applies interpolated values to every value marked
// ShouldBlendOnReceive, sampling the history bufferLeadSeconds in the past.
func (c *Companion) Blend(elapsedTicks int64) {
	c.enter()
	defer c.leave()
	at := elapsedTicks - SecondsToTicks(float64(c.registry.cfg.BufferLeadSeconds))
	for i := range c.schema.fields {
		f := &c.schema.fields[i]
		if !f.ShouldBlendOnReceive {
			continue
		}
		if v, ok := c.ValueAt(f.Index, at); ok {
			c.accessors[i].Set(c.entity, v)
		}
	}
}

func interpolate(a, b Value, t float32) Value {
	switch {
	case a.Kind == KindQuaternion:
		qa, qb := a.Quat(), b.Quat()
		if qa.X*qb.X+qa.Y*qb.Y+qa.Z*qb.Z+qa.W*qb.W < 0 {
			qb = Quat{-qb.X, -qb.Y, -qb.Z, -qb.W}
		}
		return NewQuat(normalizeQuat(Quat{
			X: qa.X + (qb.X-qa.X)*t,
			Y: qa.Y + (qb.Y-qa.Y)*t,
			Z: qa.Z + (qb.Z-qa.Z)*t,
			W: qa.W + (qb.W-qa.W)*t,
		}))
	case a.Kind.IsFloat():
		return a.Add(b.Sub(a).Scale(t))
	}
	return a
}

// CheckAtRest flags unreliable values that have not changed for
// atRestAfterSeconds, publishes an AtRestEvent for each newly flagged one and
// appends its index to dst. The caller should send those values reliably.
func (c *Companion) CheckAtRest(elapsedTicks int64, dst []uint8) []uint8 {
	c.enter()
	defer c.leave()
	threshold := SecondsToTicks(float64(c.registry.cfg.AtRestAfterSeconds))
	for i := range c.schema.fields {
		f := &c.schema.fields[i]
		sup := &c.supports[i]
		if f.Reliability != Unreliable || sup.AtRest {
			continue
		}
		if elapsedTicks-sup.LastChangeElapsedTicks < threshold {
			continue
		}
		sup.AtRest = true
		dst = append(dst, f.Index)
		Publish(c.registry.listeners, AtRestEvent{
			Value:        sup.LastKnown,
			ElapsedTicks: elapsedTicks,
			Entity:       c.entity,
			Archetype:    c.schema.ID,
			ValueIndex:   f.Index,
		})
	}
	return dst
}

// publishChange hands a pooled change event to listeners and takes it back
// once they return.
func (c *Companion) publishChange(explanation Explanation, elapsedTicks int64, index uint8) {
	l := c.registry.listeners
	if !HasSubscribers[*ValueChangeEvent](l) {
		return
	}
	e := c.registry.BuildChangeEvent(c.owner, explanation, elapsedTicks, c.table.Owner(c.entity), c, index)
	Publish(l, e)
	c.registry.ReturnChangeEvent(c.owner, e)
}
