package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"warehouse-service/backend/internal/session/sweeper"
)

func newListCmd(env func() *Env) *cobra.Command {
	var (
		username string
		claimed  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List session rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := env()
			rows, err := e.Sessions.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			out := cmd.OutOrStdout()
			var shown int
			for _, s := range rows {
				if username != "" && !strings.EqualFold(strings.TrimSpace(s.Username), strings.TrimSpace(username)) {
					continue
				}
				r, held := s.Resource()
				if claimed && !held {
					continue
				}
				if shown == 0 {
					fmt.Fprintf(out, "%-8s  %-20s  %-20s  %-20s  %s\n", "ID", "USERNAME", "MANIFEST", "LAST ACTIVITY", "EXPIRES")
				}
				manifest := "-"
				if held {
					manifest = r.String()
				}
				fmt.Fprintf(out, "%-8d  %-20s  %-20s  %-20s  %s\n",
					s.ID, s.Username, manifest,
					s.LastActivity.UTC().Format(time.RFC3339), s.ExpiryTime.UTC().Format(time.RFC3339))
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(out, "No sessions found.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "Only sessions of this driver")
	cmd.Flags().BoolVar(&claimed, "claimed", false, "Only sessions holding a manifest")
	return cmd
}

func newReleaseCmd(env func() *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "release <session-id>",
		Short: "Clear the manifest held by a session without logging it out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			if err := env().coordinator().Release(cmd.Context(), id); err != nil {
				return fmt.Errorf("release session %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released session %d.\n", id)
			return nil
		},
	}
}

func newDeleteCmd(env func() *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session, revoking its tokens",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}
			deleted, err := env().coordinator().Delete(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("delete session %d: %w", id, err)
			}
			if !deleted {
				return fmt.Errorf("session %d not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %d.\n", id)
			return nil
		},
	}
}

func newSweepCmd(env func() *Env) *cobra.Command {
	var idle time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired and idle sessions once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e := env()
			if !cmd.Flags().Changed("idle") {
				idle = e.IdleTimeout
			}
			sw := sweeper.New(e.Sessions, sweeper.Config{IdleTimeout: idle}, e.Logger, sweeper.WithClock(e.Now))
			n, err := sw.SweepOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d session(s).\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&idle, "idle", 0, "Idle timeout; defaults to SESSION_IDLE_TIMEOUT")
	return cmd
}

func parseSessionID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return id, nil
}
