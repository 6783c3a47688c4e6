// Package leasescmd implements "devclean leases": inspecting and reaping
// sessions the ledger never saw released.
package leasescmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"devclean/cmd/devclean/cmdutil"
	"devclean/cmd/devclean/ui"
	"devclean/internal/adapter/sqlite"
	"devclean/internal/session"

	"github.com/spf13/cobra"
)

// ErrNoLedger is returned when the state database could not be opened.
var ErrNoLedger = errors.New("lease ledger unavailable")

// ErrReapFailed is returned when at least one lease could not be deleted.
var ErrReapFailed = errors.New("some leases could not be reaped")

func Cmd(contextName *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leases",
		Short: "Inspect and reap leaked sessions",
	}
	cmd.AddCommand(listCmd(contextName))
	cmd.AddCommand(reapCmd(contextName))
	return cmd
}

func listCmd(contextName *string) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List sessions that were acquired but never released",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(*contextName, cmdutil.Options{})
			if err != nil {
				return err
			}
			defer env.Close()

			scope := env.Name
			if all {
				scope = ""
			}
			return List(cmd.Context(), env, scope, os.Stdout)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "A", false, "Include leases from every context")
	return cmd
}

func reapCmd(contextName *string) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete leaked sessions of the current context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := cmdutil.Load(*contextName, cmdutil.Options{})
			if err != nil {
				return err
			}
			defer env.Close()

			confirm := func(n int) (bool, error) {
				if yes {
					return true, nil
				}
				return ui.Confirm(
					fmt.Sprintf("Delete %d leaked session(s) in context %s?", n, ui.Bold(env.Name)),
					"use --yes to skip",
				)
			}
			return Reap(cmd.Context(), env, confirm, os.Stdout)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")
	return cmd
}

// List prints open leases. An empty contextName lists every context.
func List(ctx context.Context, env *cmdutil.Env, contextName string, out io.Writer) error {
	if env.Store == nil {
		return ErrNoLedger
	}
	leases, err := env.Store.OpenLeases(ctx, contextName)
	if err != nil {
		return err
	}
	if len(leases) == 0 {
		fmt.Fprintln(out, ui.SuccessMsg("No leaked sessions."))
		return nil
	}

	rows := make([][]string, 0, len(leases))
	for _, l := range leases {
		rows = append(rows, []string{
			l.SessionID,
			l.Context,
			l.Provider,
			age(l.AcquiredAt),
			formatLabels(l.Labels),
			lastError(l),
		})
	}
	fmt.Fprintln(out, ui.Table([]string{"SESSION", "CONTEXT", "PROVIDER", "AGE", "LABELS", "LAST ERROR"}, rows))
	return nil
}

// Reap deletes every open lease of env's context and records the outcome.
// confirm is asked once with the number of leases.
func Reap(ctx context.Context, env *cmdutil.Env, confirm func(n int) (bool, error), out io.Writer) error {
	if env.Store == nil {
		return ErrNoLedger
	}
	leases, err := env.Store.OpenLeases(ctx, env.Name)
	if err != nil {
		return err
	}
	if len(leases) == 0 {
		fmt.Fprintln(out, ui.SuccessMsg("No leaked sessions."))
		return nil
	}
	ok, err := confirm(len(leases))
	if err != nil || !ok {
		return err
	}

	failed := 0
	for _, l := range leases {
		deleteErr := env.Provider.DeleteSession(ctx, l.SessionID)
		if err := env.Store.RecordReleased(context.WithoutCancel(ctx), l.SessionID, session.PathReaped, deleteErr); err != nil {
			slog.Warn("record reaped lease", "session", l.SessionID, "err", err)
		}
		if deleteErr != nil {
			failed++
			fmt.Fprintln(out, ui.ErrorMsg("%s: %v", l.SessionID, deleteErr))
			continue
		}
		fmt.Fprintln(out, ui.SuccessMsg("Deleted %s.", l.SessionID))
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrReapFailed, failed, len(leases))
	}
	return nil
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String()
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ui.Muted("-")
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

func lastError(l sqlite.LeaseRecord) string {
	if l.DeleteError == "" {
		return ui.Muted("-")
	}
	return ui.Warn(l.DeleteError)
}
