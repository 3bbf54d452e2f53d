package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soyeahso/callbridge/internal/config"
)

type callsFlags struct {
	server string
	token  string
}

func newCallsCmd() *cobra.Command {
	var f callsFlags
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Inspect and manage calls on a running gateway",
	}
	cmd.PersistentFlags().StringVar(&f.server, "server", "", "gateway base URL (default from config)")
	cmd.PersistentFlags().StringVar(&f.token, "token", "", "bearer token for the admin API")

	cmd.AddCommand(newCallsListCmd(&f))
	cmd.AddCommand(newCallsActiveCmd(&f))
	cmd.AddCommand(newCallsEndCmd(&f))
	cmd.AddCommand(newCallsSweepCmd(&f))
	return cmd
}

func (f *callsFlags) client() (*apiClient, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg, f.server).withToken(f.token), nil
}

func newCallsListCmd(f *callsFlags) *cobra.Command {
	var agentID, buyerID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List call history for an agent or buyer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" && buyerID == "" {
				return fmt.Errorf("one of --agent or --buyer is required")
			}
			c, err := f.client()
			if err != nil {
				return err
			}
			res, err := c.listCalls(cmd.Context(), agentID, buyerID, limit)
			if err != nil {
				return err
			}
			printCalls(cmd.OutOrStdout(), res.Calls)
			if st := res.Stats; st != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d calls (%d completed, %d in progress), average %s, total %s\n",
					st.Total, st.Completed, st.InProgress, st.AverageDurationFormatted, st.TotalTalkTimeFormatted)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent ID")
	cmd.Flags().StringVar(&buyerID, "buyer", "", "filter by buyer ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of calls")
	return cmd
}

func newCallsActiveCmd(f *callsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List calls currently in progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client()
			if err != nil {
				return err
			}
			res, err := c.activeCalls(cmd.Context())
			if err != nil {
				return err
			}
			printCalls(cmd.OutOrStdout(), res.Calls)
			return nil
		},
	}
}

func newCallsEndCmd(f *callsFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "end <call-id>",
		Short: "End a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client()
			if err != nil {
				return err
			}
			call, err := c.endCall(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ended %s (%s)\n", call.ID, formatDuration(call.DurationFormatted))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "end reason recorded on the call")
	return cmd
}

func newCallsSweepCmd(f *callsFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove ended sessions from memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := f.client()
			if err != nil {
				return err
			}
			n, err := c.sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d ended session(s)\n", n)
			return nil
		},
	}
}

func printCalls(w io.Writer, calls []callSummary) {
	if len(calls) == 0 {
		fmt.Fprintln(w, "No calls.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAGENT\tBUYER\tPROPERTY\tSTARTED\tDURATION\tLINES")
	for _, c := range calls {
		agent := c.AgentID
		if c.AgentName != "" {
			agent = c.AgentName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			c.ID, c.Status, agent, c.BuyerID, c.PropertyID, c.StartTime,
			formatDuration(c.DurationFormatted), c.TranscriptCount)
	}
	tw.Flush()
}

func formatDuration(d *string) string {
	if d == nil {
		return "-"
	}
	return *d
}
