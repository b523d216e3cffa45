package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// logger is the package-level logger for CLI operations. It is configured
// once per invocation by the root command's PersistentPreRunE.
var logger zerolog.Logger

// NewRootCmd creates the root Cobra command for the firecode CLI. It wires
// up logging and the subcommands (seed, count, migrate).
func NewRootCmd(ver string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firecode",
		Short: "Traverse and migrate document collections in batches",
		Long: `firecode pages through arbitrarily large document collections in stable
ID order and applies bulk mutations to them, one atomic batch write per
batch, without ever holding the whole collection in memory.`,
		Version:      ver,
		Example:      rootCmdExample,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			return nil
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().Bool("json-log", false, "emit JSON logs instead of console output")
	cmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")
	cmd.AddCommand(newSeedCmd(), newCountCmd(), newMigrateCmd())

	return cmd
}

const rootCmdExample = `  # Count every document in a collection
  firecode count --uri mongodb://localhost:27017 --database shop --collection orders

  # Seed 10000 generated documents
  firecode seed --count 10000 --uri mongodb://localhost:27017 --database shop --collection orders

  # Patch every free-plan user, 500 documents per batch
  firecode migrate update '{"tier":"basic"}' --where plan=free --batch-size 500 \
    --uri mongodb://localhost:27017 --database shop --collection users

  # Rename a field everywhere, overlapping batches for throughput
  firecode migrate rename-field legacyName name --fast \
    --uri mongodb://localhost:27017 --database shop --collection users

  # Point every subcommand at a shared config file instead of flags
  firecode count --config firecode.yaml`
