package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "douki",
		Short: "Entity state replication toolkit",
		Long: `douki validates replication schemas and exercises the value
replication pipeline in a local sender/receiver loop.`,
		SilenceUsage: true,
	}

	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newVersionCmd(),
		newSchemaCmd(),
		newSimulateCmd(),
	)
	return rootCmd
}

// addGlobalFlags registers the flags every subcommand inherits. Their names
// double as viper keys, so DOUKI_LOG_LEVEL overrides --log-level.
func addGlobalFlags(fs *pflag.FlagSet) {
	fs.Bool("json", false, "Output as JSON")
	fs.String("config", "", "YAML config file (env DOUKI_CONFIG)")
	fs.String("log-level", "info", "Log verbosity: info, debug or trace")
	fs.Bool("dev", false, "Human-readable development logging")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				writeJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "douki version %s\n", version)
			}
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
