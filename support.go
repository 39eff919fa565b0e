package douki

// ValueSnapshot is one timestamped observation of a value.
type ValueSnapshot struct {
	Value Value
	// Velocity is the derivative the value was synthesized from, if any.
	Velocity     Value
	ElapsedTicks int64
	// SynthesizedFromVelocity marks snapshots reconstructed from a
	// derivative rather than received as a full value.
	SynthesizedFromVelocity bool
}

// snapshotRing is a fixed-capacity history ordered newest first. When full,
// pushing drops the oldest entry.
type snapshotRing struct {
	buf  []ValueSnapshot
	head int // slot of the newest entry
	n    int
}

func newSnapshotRing(capacity int) snapshotRing {
	return snapshotRing{buf: make([]ValueSnapshot, capacity)}
}

func (r *snapshotRing) len() int { return r.n }

// at returns the i-th newest snapshot.
func (r *snapshotRing) at(i int) ValueSnapshot {
	return r.buf[r.slot(i)]
}

func (r *snapshotRing) slot(i int) int {
	return (r.head - i + len(r.buf)) % len(r.buf)
}

// push inserts s keeping newest-first order by ElapsedTicks. Late arrivals
// older than everything held are dropped once the ring is full.
func (r *snapshotRing) push(s ValueSnapshot) {
	if len(r.buf) == 0 {
		return
	}
	if r.n == len(r.buf) && s.ElapsedTicks < r.at(r.n-1).ElapsedTicks {
		return
	}
	r.head = (r.head + 1) % len(r.buf)
	r.buf[r.head] = s
	if r.n < len(r.buf) {
		r.n++
	}
	for i := 0; i+1 < r.n; i++ {
		a, b := r.slot(i), r.slot(i+1)
		if r.buf[a].ElapsedTicks >= r.buf[b].ElapsedTicks {
			break
		}
		r.buf[a], r.buf[b] = r.buf[b], r.buf[a]
	}
}

func (r *snapshotRing) clear() {
	r.n = 0
	r.head = 0
}

// ValueChangeSupport is the mutable tracking record of one value of one
// entity. It is owned by its Companion.
type ValueChangeSupport struct {
	// Baseline is the reference deltas are computed against.
	Baseline Value
	// LastKnown is the most recent observed value.
	LastKnown Value
	// LastKnownPrevious is the observation before LastKnown.
	LastKnownPrevious Value
	// Min and Max are the per-component extremes ever observed.
	Min Value
	Max Value

	// inbound holds the transition most recently applied from a peer.
	inboundPrevious Value
	inboundNew      Value

	recent snapshotRing

	LastChangeElapsedTicks int64
	// BaselineSequence counts baseline changes of this value.
	BaselineSequence uint32
	// AtRest is set once the value stopped changing and that was reported.
	AtRest bool
}

func newValueChangeSupport(f *field, initial Value) ValueChangeSupport {
	s := ValueChangeSupport{
		Baseline:          ZeroValue(f.Kind),
		LastKnown:         initial,
		LastKnownPrevious: initial,
		Min:               initial,
		Max:               initial,
		inboundPrevious:   initial,
		inboundNew:        initial,
		recent:            newSnapshotRing(f.ringCap),
	}
	return s
}

// Snapshots is the number of history entries held.
func (s *ValueChangeSupport) Snapshots() int { return s.recent.len() }

// Snapshot returns the i-th newest history entry.
func (s *ValueChangeSupport) Snapshot(i int) ValueSnapshot { return s.recent.at(i) }

// SnapshotCapacity is the ring size.
func (s *ValueChangeSupport) SnapshotCapacity() int { return len(s.recent.buf) }

// observe shifts LastKnown into LastKnownPrevious and records v.
func (s *ValueChangeSupport) observe(v Value) {
	s.LastKnownPrevious = s.LastKnown
	s.LastKnown = v
	s.trackLimits(v)
}

func (s *ValueChangeSupport) trackLimits(v Value) {
	switch {
	case v.Kind.IsFloat():
		for i := range v.Kind.Components() {
			s.Min.c[i] = min(s.Min.c[i], v.c[i])
			s.Max.c[i] = max(s.Max.c[i], v.c[i])
		}
	case v.Kind.IsInteger():
		if isSigned(v.Kind) {
			if v.Int() < s.Min.Int() {
				s.Min = v
			}
			if v.Int() > s.Max.Int() {
				s.Max = v
			}
		} else {
			if v.Uint() < s.Min.Uint() {
				s.Min = v
			}
			if v.Uint() > s.Max.Uint() {
				s.Max = v
			}
		}
	}
}

func isSigned(k ValueKind) bool {
	return k == KindInt8 || k == KindInt16 || k == KindInt32 || k == KindInt64
}
