// Package historycmd implements "devclean history".
package historycmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"devclean/cmd/devclean/ui"
	"devclean/config"
	"devclean/internal/adapter/sqlite"

	"github.com/spf13/cobra"
)

// ErrRunNotFound is returned by Show for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

func Cmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past cleaning runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := sqlite.Open(config.StatePath())
			if err != nil {
				return err
			}
			defer store.Close()
			return List(cmd.Context(), store, limit, os.Stdout)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.AddCommand(showCmd())
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show per-target outcomes of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			store, err := sqlite.Open(config.StatePath())
			if err != nil {
				return err
			}
			defer store.Close()
			return Show(cmd.Context(), store, id, os.Stdout)
		},
	}
}

// List prints the newest runs.
func List(ctx context.Context, store *sqlite.Store, limit int, out io.Writer) error {
	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, ui.InfoMsg("No runs recorded."))
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.StartedAt.Local().Format(time.DateTime),
			r.Context,
			r.SessionID,
			ui.Status(string(r.Status)),
			fmt.Sprintf("%d/%d", r.Converged, r.Converged+r.NotConverged),
			strconv.Itoa(r.Passes),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	fmt.Fprintln(out, ui.Table([]string{"ID", "STARTED", "CONTEXT", "SESSION", "STATUS", "CONVERGED", "PASSES", "DURATION"}, rows))
	return nil
}

// Show prints one run with its outcomes.
func Show(ctx context.Context, store *sqlite.Store, id int64, out io.Writer) error {
	run, ok, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrRunNotFound, id)
	}

	fmt.Fprint(out, ui.KeyValues("",
		ui.KV("run", strconv.FormatInt(run.ID, 10)),
		ui.KV("session", run.SessionID),
		ui.KV("context", run.Context),
		ui.KV("started", run.StartedAt.Local().Format(time.DateTime)),
		ui.KV("status", ui.Status(string(run.Status))),
		ui.KV("passes", strconv.Itoa(run.Passes)),
		ui.KV("duration", run.Duration.Round(time.Millisecond).String()),
	))
	if len(run.Outcomes) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(run.Outcomes))
	for _, o := range run.Outcomes {
		applied := o.Applied
		if applied == "" {
			applied = ui.Muted("-")
		}
		errText := o.Error
		if errText == "" {
			errText = ui.Muted("-")
		}
		rows = append(rows, []string{o.Key, o.Name, ui.Status(string(o.Status)), applied, string(o.Observed), errText})
	}
	fmt.Fprintln(out, ui.Table([]string{"TARGET", "NAME", "STATUS", "APPLIED", "OBSERVED", "ERROR"}, rows))
	return nil
}
