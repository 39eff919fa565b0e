// Profiling:
// go build ./profile/replication
// go tool pprof -http=":8000" -nodefraction=0.001 ./replication mem.pprof

package main

import (
	"math"

	"github.com/edwinsyarief/douki"
	"github.com/pkg/profile"
)

const (
	position uint8 = iota + 1
	rotation
	throttle
)

func defs() []douki.SchemaDef {
	return []douki.SchemaDef{{
		ID:   1,
		Name: "ship",
		Values: []douki.ValueDescriptor{
			{Index: 0, Name: "id", Kind: douki.KindUint32, ProcessingPriority: douki.PriorityIdentity},
			{
				Index: position, Name: "position", Kind: douki.KindVector3,
				Reliability: douki.Unreliable, SyncCadenceSeconds: 0.05, PhysicsUpdateInterval: 2,
				Quantization:         douki.QuantizationSettings{Lower: -500, Upper: 500, Bits: 20},
				VelocityEligible:     true,
				VelocityQuantization: &douki.QuantizationSettings{Lower: -150, Upper: 150, Bits: 16},
			},
			{
				Index: rotation, Name: "rotation", Kind: douki.KindQuaternion,
				Reliability: douki.Unreliable, SyncCadenceSeconds: 0.05, PhysicsUpdateInterval: 2,
				VelocityEligible:     true,
				VelocityQuantization: &douki.QuantizationSettings{Lower: -4, Upper: 4, Bits: 12},
			},
			{
				Index: throttle, Name: "throttle", Kind: douki.KindFloat32,
				Reliability: douki.Unreliable, SyncCadenceSeconds: 0.05, ShouldBlendOnReceive: true,
				Quantization: douki.QuantizationSettings{Lower: -1, Upper: 1, Bits: 10},
			},
		},
	}}
}

func main() {
	rounds := 20
	ticks := 2000
	entities := 256
	p := profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook)
	run(rounds, ticks, entities)
	p.Stop()
}

type peer struct {
	table      *douki.EntityTable
	entities   []douki.Entity
	companions []*douki.Companion
}

func newPeer(local douki.AuthorityID, n int) *peer {
	cfg := douki.DefaultConfig()
	cfg.LocalAuthorityID = local
	reg, err := douki.NewRegistry(defs(), douki.WithConfig(cfg))
	if err != nil {
		panic(err)
	}
	s, err := reg.Schema(1)
	if err != nil {
		panic(err)
	}
	p := &peer{table: douki.NewEntityTable(n)}
	owner := douki.NewOwner()
	for range n {
		e := p.table.Create(s, 1)
		p.entities = append(p.entities, e)
		p.companions = append(p.companions, reg.NewCompanion(owner, p.table, e))
	}
	return p
}

func run(rounds, ticks, numEntities int) {
	w := douki.NewBitWriter()
	for range rounds {
		sender := newPeer(1, numEntities)
		receiver := newPeer(2, numEntities)
		for step := 1; step <= ticks; step++ {
			t := float64(step) * 0.02
			elapsed := douki.SecondsToTicks(t)
			for i, e := range sender.entities {
				phase := t + float64(i)
				s, c := math.Sincos(phase)
				sender.table.Set(e, position, douki.NewVec3(douki.Vec3{X: float32(100 * c), Y: float32(100 * s)}))
				sender.table.Set(e, rotation, douki.NewQuat(douki.AxisAngle(phase, douki.Vec3{Y: 1})))
				sender.table.Set(e, throttle, douki.NewFloat32(float32(0.7 * s)))

				sc := sender.companions[i]
				sc.UpdateLastKnownValues(elapsed)
				sc.UpdateBaselines(elapsed)
				w.Reset()
				sc.SerializeBundle(w, 0, elapsed, uint64(step))
				data, err := w.Bytes()
				if err != nil {
					panic(err)
				}
				rc := receiver.companions[i]
				if _, err := rc.DeserializeBundle(douki.NewBitReader(data), 0, elapsed); err != nil {
					panic(err)
				}
				rc.Blend(elapsed)
			}
		}
	}
}
