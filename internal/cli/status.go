package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soyeahso/callbridge/internal/config"
	"github.com/soyeahso/callbridge/internal/version"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and probe a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "callbridge %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}
			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)

			storePath := "-"
			if cfg.Store.Driver == "sqlite" {
				storePath = paths.DatabasePath(cfg.Store)
			}
			fmt.Fprintf(out, "Store:   driver=%s path=%s\n", cfg.Store.Driver, storePath)

			if cfg.Bridge.Mode == "http" {
				fmt.Fprintf(out, "Bridge:  mode=http endpoint=%s timeout=%dms\n", cfg.Bridge.Endpoint, cfg.Bridge.TimeoutMs)
			} else {
				fmt.Fprintf(out, "Bridge:  mode=local queue=%d\n", cfg.Bridge.QueueSize)
			}
			fmt.Fprintf(out, "Responder: enabled=%v workers=%d provider=%s\n", config.Flag(cfg.Responder.Enabled, true), cfg.Responder.Workers, cfg.Responder.Provider)
			fmt.Fprintf(out, "Sweeper: enabled=%v schedule=%s\n", config.Flag(cfg.Housekeeping.Enabled, true), cfg.Housekeeping.SweepSchedule)

			if len(cfg.Agents) == 0 {
				fmt.Fprintln(out, "Agents:  (none configured)")
			}
			for _, a := range cfg.Agents {
				fmt.Fprintf(out, "Agent:   id=%s name=%s\n", a.ID, a.Name)
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s: %s\n", issue.Path, issue.Message)
				}
			}

			fmt.Fprintln(out)
			health, err := newAPIClient(cfg, "").health(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "Server:  not reachable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Server:  %s\n", health)
			return nil
		},
	}
}
