package douki

// Explanation says which side of the wire a change event was observed on.
type Explanation uint8

const (
	// OutboundToOthers marks a value this peer just sent.
	OutboundToOthers Explanation = iota
	// InboundFromOther marks a value this peer just received and applied.
	InboundFromOther
)

func (e Explanation) String() string {
	if e == InboundFromOther {
		return "inbound"
	}
	return "outbound"
}

// ValueChangeEvent describes one value's observed transition. Instances are
// pooled: the borrower owns one until it is returned, and must not retain it
// afterwards. Use Registry.CopyChangeEvent to keep one beyond that scope.
type ValueChangeEvent struct {
	ValuePrevious           Value
	ValueNew                Value
	pool                    *Pool[ValueChangeEvent]
	OccurredAtElapsedTicks  int64
	ProcessedAtElapsedTicks int64
	Entity                  Entity
	Archetype               ArchetypeID
	RelatedOwnerAuthorityID AuthorityID
	Explanation             Explanation
	ValueIndex              uint8
}

func resetChangeEvent(e *ValueChangeEvent) {
	pool := e.pool
	*e = ValueChangeEvent{pool: pool}
}

// BaselineExpiredEvent announces that a value's baseline is being replaced.
// It always precedes the matching NewBaselineEvent.
type BaselineExpiredEvent struct {
	Baseline      Value
	ElapsedTicks  int64
	Entity        Entity
	Archetype     ArchetypeID
	ExpiredSeqNum uint32
	ValueIndex    uint8
}

// NewBaselineEvent carries a replacement baseline. It must be delivered
// reliably and applied in Sequence order before any delta computed against it.
type NewBaselineEvent struct {
	Baseline     Value
	ElapsedTicks int64
	Entity       Entity
	Archetype    ArchetypeID
	Sequence     uint32
	ValueIndex   uint8
}

// AtRestEvent reports that a value stopped changing.
type AtRestEvent struct {
	Value        Value
	ElapsedTicks int64
	Entity       Entity
	Archetype    ArchetypeID
	ValueIndex   uint8
}
