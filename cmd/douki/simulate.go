package main

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/edwinsyarief/douki"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// Authorities of the two simulated peers. The sender owns the entity.
const (
	senderAuthority   douki.AuthorityID = 1
	receiverAuthority douki.AuthorityID = 2
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replicate synthetic motion through a local sender/receiver pair",
		Long: `Drive one entity of an archetype along a circular path on a sender,
replicate it bundle by bundle to a receiver in the same process and report
bandwidth and reconstruction error.

Examples:
  douki simulate --schema ships.yaml
  douki simulate --schema ships.yaml --archetype ship --ticks 2000 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			schemaPath, _ := cmd.Flags().GetString("schema")
			archetype, _ := cmd.Flags().GetString("archetype")
			ticks, _ := cmd.Flags().GetInt("ticks")
			period, _ := cmd.Flags().GetFloat64("period")
			withMetrics, _ := cmd.Flags().GetBool("metrics")
			if ticks <= 0 || period <= 0 {
				return fmt.Errorf("ticks and period must be positive")
			}

			st, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			defs, err := douki.LoadSchemaFile(schemaPath)
			if err != nil {
				return err
			}
			promReg := prometheus.NewRegistry()
			sim, err := newSimulation(defs, archetype, st, douki.NewMetrics(promReg))
			if err != nil {
				return err
			}
			rep, err := sim.run(ticks, period)
			if err != nil {
				return err
			}
			if withMetrics {
				if rep.Metrics, err = gatherCounters(promReg); err != nil {
					return err
				}
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			return rep.print(cmd)
		},
	}
	cmd.Flags().String("schema", "", "Schema file (YAML or TOML)")
	_ = cmd.MarkFlagRequired("schema")
	cmd.Flags().String("archetype", "", "Archetype name (default: lowest id in the file)")
	cmd.Flags().Int("ticks", 500, "Number of fixed steps to simulate")
	cmd.Flags().Float64("period", 4, "Seconds per revolution of the synthetic motion")
	cmd.Flags().Bool("metrics", false, "Include replication counters in the report")
	return cmd
}

// endpoint is one peer's view of the simulated entity.
type endpoint struct {
	reg   *douki.Registry
	table *douki.EntityTable
	c     *douki.Companion
	e     douki.Entity
}

func newEndpoint(defs []douki.SchemaDef, archetype string, cfg douki.Config, local douki.AuthorityID, opts ...douki.Option) (endpoint, error) {
	cfg.LocalAuthorityID = local
	reg, err := douki.NewRegistry(defs, append(opts, douki.WithConfig(cfg))...)
	if err != nil {
		return endpoint{}, err
	}
	var s *douki.Schema
	if archetype == "" {
		s = reg.Schemas()[0]
	} else if s, err = reg.SchemaByName(archetype); err != nil {
		return endpoint{}, err
	}
	table := douki.NewEntityTable(1)
	e := table.Create(s, senderAuthority)
	return endpoint{reg: reg, table: table, e: e, c: reg.NewCompanion(douki.NewOwner(), table, e)}, nil
}

type simulation struct {
	log         logr.Logger
	schema      *douki.Schema
	sender      endpoint
	receiver    endpoint
	baselineErr error
	fixedDelta  float64
	rebases     int
}

func newSimulation(defs []douki.SchemaDef, archetype string, st settings, m *douki.Metrics) (*simulation, error) {
	sender, err := newEndpoint(defs, archetype, st.cfg, senderAuthority,
		douki.WithLogger(st.log.WithName("sender")), douki.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	receiver, err := newEndpoint(defs, archetype, st.cfg, receiverAuthority,
		douki.WithLogger(st.log.WithName("receiver")), douki.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	sim := &simulation{
		log:        st.log,
		schema:     sender.c.Schema(),
		sender:     sender,
		receiver:   receiver,
		fixedDelta: float64(st.cfg.FixedDeltaSeconds),
	}
	// Baselines travel on the reliable ordered channel, here a direct call.
	douki.Subscribe(sender.reg.Listeners(), func(ev douki.NewBaselineEvent) {
		sim.rebases++
		if err := receiver.c.ApplyNewBaseline(ev.ValueIndex, ev.Sequence, ev.Baseline); err != nil && sim.baselineErr == nil {
			sim.baselineErr = err
		}
	})
	return sim, nil
}

type bundleStats struct {
	Index           int     `json:"index"`
	Sent            int     `json:"sent"`
	ValueBundles    int     `json:"valueBundles"`
	VelocityBundles int     `json:"velocityBundles"`
	Bytes           int     `json:"bytes"`
	AvgBytes        float64 `json:"avgBytes"`
}

type valueError struct {
	Name     string  `json:"name"`
	MaxError float64 `json:"maxError"`
	Blended  bool    `json:"blended"`
}

type report struct {
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Archetype string             `json:"archetype"`
	Bundles   []bundleStats      `json:"bundles"`
	Errors    []valueError       `json:"errors"`
	Ticks     int                `json:"ticks"`
	InitBytes int                `json:"initBytes"`
	Rebases   int                `json:"rebases"`
	AtRest    int                `json:"atRest"`
}

func (s *simulation) run(ticks int, period float64) (report, error) {
	bundles := s.schema.Bundles()
	rep := report{Archetype: s.schema.Name, Ticks: ticks, Bundles: make([]bundleStats, len(bundles))}
	for i := range rep.Bundles {
		rep.Bundles[i].Index = i
	}
	maxErr := make(map[uint8]float64)

	w := douki.NewBitWriter()
	s.drive(0, period)
	s.sender.c.UpdateLastKnownValues(0)
	s.sender.c.SerializeAll(w, 0)
	data, err := w.Bytes()
	if err != nil {
		return rep, err
	}
	if err := s.receiver.c.DeserializeInitAll(douki.NewBitReader(data), 0); err != nil {
		return rep, fmt.Errorf("full sync: %w", err)
	}
	rep.InitBytes = len(data)

	lastSent := make([]int64, len(bundles))
	var resting []uint8
	for step := 1; step <= ticks; step++ {
		t := float64(step) * s.fixedDelta
		elapsed := douki.SecondsToTicks(t)
		s.drive(t, period)
		s.sender.c.UpdateLastKnownValues(elapsed)
		s.sender.c.UpdateBaselines(elapsed)

		for i := range bundles {
			b := &bundles[i]
			if elapsed-lastSent[i] < douki.SecondsToTicks(float64(b.CadenceSeconds)) {
				continue
			}
			if !b.HasVelocity && !s.sender.c.BundleHasChanges(i) {
				continue
			}
			lastSent[i] = elapsed
			w.Reset()
			bt := s.sender.c.SerializeBundle(w, i, elapsed, uint64(step))
			if data, err = w.Bytes(); err != nil {
				return rep, err
			}
			if _, err := s.receiver.c.DeserializeBundle(douki.NewBitReader(data), i, elapsed); err != nil {
				return rep, err
			}
			st := &rep.Bundles[i]
			st.Sent++
			st.Bytes += len(data)
			if bt == douki.BundleVelocity {
				st.VelocityBundles++
			} else {
				st.ValueBundles++
			}
		}

		resting = s.sender.c.CheckAtRest(elapsed, resting[:0])
		for _, idx := range resting {
			if err := s.sendReliably(w, idx, elapsed); err != nil {
				return rep, err
			}
			rep.AtRest++
		}

		s.receiver.c.Blend(elapsed)
		if s.baselineErr != nil {
			return rep, s.baselineErr
		}
		s.measure(maxErr)
	}

	for i := range rep.Bundles {
		if st := &rep.Bundles[i]; st.Sent > 0 {
			st.AvgBytes = float64(st.Bytes) / float64(st.Sent)
		}
	}
	for idx, e := range maxErr {
		d := s.schema.Descriptor(idx)
		rep.Errors = append(rep.Errors, valueError{Name: d.Name, MaxError: e, Blended: d.ShouldBlendOnReceive})
	}
	sort.Slice(rep.Errors, func(i, j int) bool { return rep.Errors[i].Name < rep.Errors[j].Name })
	rep.Rebases = s.rebases
	s.log.V(1).Info("simulation finished", "archetype", rep.Archetype, "ticks", ticks, "rebases", rep.Rebases)
	return rep, nil
}

// sendReliably pushes one value that came to rest as a standalone message.
func (s *simulation) sendReliably(w *douki.BitWriter, idx uint8, elapsed int64) error {
	w.Reset()
	s.sender.c.SerializeSingle(w, idx, elapsed)
	data, err := w.Bytes()
	if err != nil {
		return err
	}
	return s.receiver.c.DeserializeInitSingle(douki.NewBitReader(data), idx, elapsed)
}

// drive moves every float value of the sender along a circle and flips
// booleans once per second.
func (s *simulation) drive(t, period float64) {
	phase := 2 * math.Pi * t / period
	for i := range s.schema.Len() {
		d := s.schema.Descriptor(uint8(i))
		if d.IsIdentity() || d.IsOwnership() {
			continue
		}
		if v, ok := motion(d, phase, t); ok {
			s.sender.table.Set(s.sender.e, uint8(i), v)
		}
	}
}

func motion(d *douki.ValueDescriptor, phase, t float64) (douki.Value, bool) {
	center, amp := 0.0, 10.0
	if q := d.Quantization; q.CanQuantize() {
		if q.Lower < 0 && q.Upper > 0 {
			amp = 0.6 * math.Min(float64(-q.Lower), float64(q.Upper))
		} else {
			center = float64(q.Lower+q.Upper) / 2
			amp = 0.3 * float64(q.Upper-q.Lower)
		}
	}
	sin, cos := math.Sincos(phase)
	x, y, c := float32(center+amp*cos), float32(center+amp*sin), float32(center)
	switch d.Kind {
	case douki.KindFloat32:
		return douki.NewFloat32(x), true
	case douki.KindVector2:
		return douki.NewVec2(douki.Vec2{X: x, Y: y}), true
	case douki.KindVector3:
		return douki.NewVec3(douki.Vec3{X: x, Y: y, Z: c}), true
	case douki.KindVector4:
		return douki.NewVec4(douki.Vec4{X: x, Y: y, Z: c, W: c}), true
	case douki.KindQuaternion:
		return douki.NewQuat(douki.AxisAngle(phase, douki.Vec3{Y: 1})), true
	case douki.KindBool:
		return douki.NewBool(int(t)%2 == 1), true
	}
	return douki.Value{}, false
}

// measure records the distance between the sender's and the receiver's copy
// of every float value.
func (s *simulation) measure(maxErr map[uint8]float64) {
	for i := range s.schema.Len() {
		idx := uint8(i)
		d := s.schema.Descriptor(idx)
		if !d.Kind.IsFloat() {
			continue
		}
		want := s.sender.table.Get(s.sender.e, idx)
		got := s.receiver.table.Get(s.receiver.e, idx)
		var e float64
		if d.Kind == douki.KindQuaternion {
			a, b := want.Quat(), got.Quat()
			dot := math.Abs(float64(a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W))
			e = 2 * math.Acos(math.Min(1, dot))
		} else {
			e = want.Sub(got).Magnitude()
		}
		maxErr[idx] = math.Max(maxErr[idx], e)
	}
}

func (r report) print(cmd *cobra.Command) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "archetype\t%s\n", r.Archetype)
	fmt.Fprintf(tw, "ticks\t%d\n", r.Ticks)
	fmt.Fprintf(tw, "full sync\t%d bytes\n", r.InitBytes)
	fmt.Fprintf(tw, "rebases\t%d\n", r.Rebases)
	fmt.Fprintf(tw, "at rest\t%d\n\n", r.AtRest)
	fmt.Fprintln(tw, "BUNDLE\tSENT\tVALUE\tVELOCITY\tAVG BYTES")
	for _, b := range r.Bundles {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%.2f\n", b.Index, b.Sent, b.ValueBundles, b.VelocityBundles, b.AvgBytes)
	}
	fmt.Fprintln(tw, "\nVALUE\tMAX ERROR\tBLENDED")
	for _, e := range r.Errors {
		fmt.Fprintf(tw, "%s\t%.6f\t%t\n", e.Name, e.MaxError, e.Blended)
	}
	if len(r.Metrics) > 0 {
		keys := make([]string, 0, len(r.Metrics))
		for k := range r.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(tw, "\nMETRIC\tVALUE")
		for _, k := range keys {
			fmt.Fprintf(tw, "%s\t%g\n", k, r.Metrics[k])
		}
	}
	return tw.Flush()
}

// gatherCounters flattens counters and histogram sample counts into
// name{label=value,...} keys.
func gatherCounters(reg *prometheus.Registry) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			key := mf.GetName() + "{" + strings.Join(labels, ",") + "}"
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out, nil
}
