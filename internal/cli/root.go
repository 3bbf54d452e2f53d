// Package cli implements the callbridge command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/logging"
)

// Process-wide state resolved before any subcommand runs.
var (
	cfgFile  string
	logLevel string

	paths config.Paths
	log   *logging.Logger
)

// setup resolves the state directory and a console logger for commands
// that run before the configured logger exists.
func setup(*cobra.Command, []string) error {
	p, err := config.ResolvePaths()
	if err != nil {
		return err
	}
	if cfgFile != "" {
		p.Config = cfgFile
	}
	paths = p
	log = logging.New(nil, logLevel)
	return nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "callbridge",
		Short: "Realtime call signaling for property conversations",
		Long: "callbridge connects buyers and agents in live voice calls, keeps call\n" +
			"transcripts, and relays agent responses back into the call.",
		PersistentPreRunE: setup,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $CALLBRIDGE_HOME/config.yaml or ~/.callbridge/config.yaml)")
	flags.StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error, fatal, silent")

	cmd.AddCommand(
		newServeCmd(),
		newCallsCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
