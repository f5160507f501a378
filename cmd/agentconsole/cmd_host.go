package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/agentconsole/internal/sandbox"
	"github.com/user/agentconsole/internal/types"
)

var (
	auditUser  string
	auditLimit int
)

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.AddCommand(hostRunCmd, hostAllowListCmd, hostProbeCmd, hostAuditCmd)

	hostAuditCmd.Flags().StringVar(&auditUser, "user", "", "user ID (required)")
	hostAuditCmd.Flags().IntVar(&auditLimit, "limit", 20, "number of newest entries to show")
	hostAuditCmd.MarkFlagRequired("user")
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Inspect and exercise read-only host execution",
}

var hostRunCmd = &cobra.Command{
	Use:   "run <command> [args...]",
	Short: "Run an allow-listed command through the host sandbox",
	Args:  cobra.MinimumNArgs(1),
	// Arguments such as "-h" belong to the host command.
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if !a.cfg.Host.Enabled {
				return fmt.Errorf("host execution is disabled (host.enabled = false)")
			}
			res, err := a.sandbox.Execute(ctx, args[0], args[1:])
			switch {
			case errors.Is(err, types.ErrCommandNotAllowed):
				return err
			case errors.Is(err, types.ErrToolUnavailable):
				return fmt.Errorf("%s is not available: %w", args[0], err)
			case err != nil && !errors.Is(err, types.ErrTimedOut):
				return err
			}
			out := cmd.OutOrStdout()
			scope := ""
			if !res.HostScoped {
				scope = " (not verified to be the host)"
			}
			fmt.Fprintf(out, "[tier: %s%s, exit %d, %s]\n", res.Tier, scope, res.ExitCode, res.Duration.Round(time.Millisecond))
			if errors.Is(err, types.ErrTimedOut) {
				fmt.Fprintln(out, "[timed out]")
			}
			fmt.Fprint(out, res.Output)
			if res.Output != "" && !strings.HasSuffix(res.Output, "\n") {
				fmt.Fprintln(out)
			}
			return nil
		})
	},
}

var hostAllowListCmd = &cobra.Command{
	Use:   "allowlist",
	Short: "Show the commands permitted on the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			cmds := a.sandbox.Policy().Commands()
			cats := make([]sandbox.Category, 0, len(cmds))
			for c := range cmds {
				cats = append(cats, c)
			}
			sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
			for _, c := range cats {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", c, strings.Join(cmds[c], " "))
			}
			return nil
		})
	},
}

var hostProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe which execution tier is available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			fmt.Fprintf(cmd.OutOrStdout(), "tier: %s\n", a.sandbox.Reprobe(ctx))
			return nil
		})
	},
}

var hostAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show a user's host command audit trail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			entries, err := a.journal.Tail(ctx, types.UserID(auditUser), auditLimit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No host commands recorded.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tTIME\tALLOWED\tTIER\tEXIT\tCOMMAND")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%d\t%s\n",
					e.Seq,
					e.At.Format("2006-01-02 15:04:05"),
					e.Allowed,
					e.Tier,
					e.ExitCode,
					strings.TrimSpace(e.Command+" "+strings.Join(e.Args, " ")),
				)
			}
			return w.Flush()
		})
	},
}
