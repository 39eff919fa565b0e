package douki

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const shipID ArchetypeID = 1

// Ship value indices.
const (
	shipIdentity uint8 = iota
	shipOwner
	shipPosition
	shipRotation
	shipThrottle
	shipBoosting
)

// Bundle indices of the ship schema.
const (
	shipReliableBundle   = 0
	shipUnreliableBundle = 1
)

func shipDefs() []SchemaDef {
	return []SchemaDef{{
		ID:   shipID,
		Name: "ship",
		Values: []ValueDescriptor{
			{Index: shipIdentity, Name: "id", Kind: KindUint32, ProcessingPriority: PriorityIdentity},
			{Index: shipOwner, Name: "owner", Kind: KindUint16, ProcessingPriority: PriorityOwnership},
			{
				Index: shipPosition, Name: "position", Kind: KindVector3,
				Reliability: Unreliable, SyncCadenceSeconds: 0.05, PhysicsUpdateInterval: 5,
				Quantization:         QuantizationSettings{Lower: -125, Upper: 125, Bits: 18},
				VelocityEligible:     true,
				VelocityQuantization: &QuantizationSettings{Lower: -20, Upper: 20, Bits: 18},
				MainThreadOnly:       true,
			},
			{
				Index: shipRotation, Name: "rotation", Kind: KindQuaternion,
				Reliability: Unreliable, SyncCadenceSeconds: 0.05, PhysicsUpdateInterval: 5,
				VelocityEligible:     true,
				VelocityQuantization: &QuantizationSettings{Lower: -10, Upper: 10, Bits: 16},
				MainThreadOnly:       true,
			},
			{
				Index: shipThrottle, Name: "throttle", Kind: KindFloat32,
				Reliability: Unreliable, SyncCadenceSeconds: 0.05,
				Quantization:         QuantizationSettings{Lower: -1, Upper: 1, Bits: 10},
				ShouldBlendOnReceive: true,
			},
			{Index: shipBoosting, Name: "boosting", Kind: KindBool},
		},
	}}
}

// peer is one side of a replication session holding a single ship.
type peer struct {
	reg       *Registry
	table     *EntityTable
	schema    *Schema
	listeners *Listeners
	metrics   *Metrics
	c         *Companion
	e         Entity
	owner     Owner
}

func newPeer(t testing.TB, local, entityOwner AuthorityID) *peer {
	t.Helper()
	return newPeerFrom(t, shipDefs(), local, entityOwner)
}

func newPeerFrom(t testing.TB, defs []SchemaDef, local, entityOwner AuthorityID) *peer {
	t.Helper()
	cfg := DefaultConfig()
	cfg.LocalAuthorityID = local
	p := &peer{listeners: NewListeners(), metrics: NewMetrics(nil), owner: NewOwner()}
	reg, err := NewRegistry(defs, WithConfig(cfg), WithListeners(p.listeners), WithMetrics(p.metrics))
	require.NoError(t, err)
	p.reg = reg
	p.schema, err = reg.Schema(shipID)
	require.NoError(t, err)
	p.table = NewEntityTable(4)
	p.e = p.table.Create(p.schema, entityOwner)
	p.c = reg.NewCompanion(p.owner, p.table, p.e)
	return p
}

func (p *peer) set(index uint8, v Value) { p.table.Set(p.e, index, v) }

func (p *peer) get(index uint8) Value { return p.table.Get(p.e, index) }

func seconds(s float64) int64 { return SecondsToTicks(s) }

// sendBundle serializes bundle on from and feeds the bytes to to.
func sendBundle(t testing.TB, from, to *peer, bundle int, elapsed int64, step uint64) BundleType {
	t.Helper()
	w := NewBitWriter()
	sent := from.c.SerializeBundle(w, bundle, elapsed, step)
	data, err := w.Bytes()
	require.NoError(t, err)
	got, err := to.c.DeserializeBundle(NewBitReader(data), bundle, elapsed)
	require.NoError(t, err)
	require.Equal(t, sent, got)
	return got
}
