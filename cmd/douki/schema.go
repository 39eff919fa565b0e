package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/edwinsyarief/douki"
	"github.com/spf13/cobra"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect replication schema files",
	}
	cmd.AddCommand(newSchemaValidateCmd())
	return cmd
}

type bundleReport struct {
	Values      []string `json:"values"`
	Index       int      `json:"index"`
	Reliability string   `json:"reliability"`
	Cadence     float32  `json:"cadence"`
	Velocity    bool     `json:"velocity"`
}

type archetypeReport struct {
	Name        string         `json:"name"`
	Fingerprint string         `json:"fingerprint"`
	Bundles     []bundleReport `json:"bundles"`
	ID          uint16         `json:"id"`
	Values      int            `json:"values"`
}

func newSchemaValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate schema files and print their transmission plan",
		Long: `Load one or more YAML or TOML schema files, build the registry and
print each archetype's fingerprint and bundle plan.

Examples:
  douki schema validate schemas/ships.yaml
  douki schema validate --json base.toml extra.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			st, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			var defs []douki.SchemaDef
			for _, path := range args {
				d, err := douki.LoadSchemaFile(path)
				if err != nil {
					return err
				}
				defs = append(defs, d...)
			}
			reg, err := douki.NewRegistry(defs, douki.WithConfig(st.cfg), douki.WithLogger(st.log))
			if err != nil {
				return fmt.Errorf("invalid schema: %w", err)
			}

			reports := make([]archetypeReport, 0, len(defs))
			for _, s := range reg.Schemas() {
				reports = append(reports, describeSchema(s))
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"archetypes": reports})
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range reports {
				fmt.Fprintf(tw, "%s (id %d)\t%d values\tfingerprint %s\n", r.Name, r.ID, r.Values, r.Fingerprint)
				for _, b := range r.Bundles {
					fmt.Fprintf(tw, "  bundle %d\t%s every %gs\tvelocity=%t\t%v\n", b.Index, b.Reliability, b.Cadence, b.Velocity, b.Values)
				}
			}
			return tw.Flush()
		},
	}
}

func describeSchema(s *douki.Schema) archetypeReport {
	r := archetypeReport{
		Name:        s.Name,
		ID:          uint16(s.ID),
		Values:      s.Len(),
		Fingerprint: fmt.Sprintf("%016x", s.Fingerprint()),
	}
	for _, b := range s.Bundles() {
		br := bundleReport{
			Index:       b.Index,
			Reliability: b.Reliability.String(),
			Cadence:     b.CadenceSeconds,
			Velocity:    b.HasVelocity,
		}
		for _, idx := range b.Indices {
			br.Values = append(br.Values, s.Descriptor(idx).Name)
		}
		r.Bundles = append(r.Bundles, br)
	}
	return r
}
