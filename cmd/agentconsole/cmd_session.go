package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/agentconsole/internal/types"
)

var (
	sessionUser    string
	historySession string
	historyLimit   int
)

func init() {
	rootCmd.AddCommand(sessionCmd, historyCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionDeleteCmd)

	sessionCmd.PersistentFlags().StringVar(&sessionUser, "user", "", "user ID (required)")
	sessionCmd.MarkPersistentFlagRequired("user")

	historyCmd.Flags().StringVar(&sessionUser, "user", "", "user ID (required)")
	historyCmd.Flags().StringVar(&historySession, "session", "", "only messages of this session")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "number of newest messages to show")
	historyCmd.MarkFlagRequired("user")
}

// withApp opens the shared components for a one-shot command.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg := loadConfig()
	setupLogging(cfg)
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(context.Background(), a)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage a user's sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			list, err := a.registry.ListSessions(ctx, types.UserID(sessionUser))
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tAGENT\tHANDLE\tCREATED\tUPDATED")
			for _, s := range list {
				handle := s.ResumeHandle
				if handle == "" {
					handle = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.Name,
					s.Agent,
					handle,
					s.CreatedAt.Format("2006-01-02 15:04:05"),
					s.UpdatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a session, keeping its messages as orphaned history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			n, err := a.registry.DeleteSession(ctx, types.UserID(sessionUser), args[0])
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("session not found: %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted (%d messages orphaned).\n", args[0], n)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a user's recorded messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			msgs, err := a.registry.History(ctx, types.UserID(sessionUser), historySession, historyLimit)
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("session not found: %s", historySession)
			}
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
				return nil
			}
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				status := ""
				if m.Failed {
					status = " [failed]"
				}
				session := string(m.SessionID)
				if session == "" {
					session = "(deleted)"
				}
				fmt.Fprintf(out, "--- %s %s %s%s\n", m.CreatedAt.Format("2006-01-02 15:04:05"), m.Kind, session, status)
				if m.FlagsUsed != "" {
					fmt.Fprintf(out, "flags: %s\n", m.FlagsUsed)
				}
				fmt.Fprintf(out, "> %s\n%s\n", m.Query, m.Response)
			}
			return nil
		})
	},
}
