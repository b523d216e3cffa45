package cli

import (
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// setupLogging configures the package logger from the persistent flags.
// Logs go to stderr so stdout stays script-friendly; the console writer is
// the default, with --json-log switching to raw JSON lines.
func setupLogging(cmd *cobra.Command) {
	debug, _ := cmd.Flags().GetBool("debug")
	jsonLog, _ := cmd.Flags().GetBool("json-log")

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        cmd.ErrOrStderr(),
		TimeFormat: time.RFC3339,
	}
	if jsonLog {
		out = cmd.ErrOrStderr()
	}

	logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	logger.Debug().Str("command", cmd.Name()).Msg("command started")
}
