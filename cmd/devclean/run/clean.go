package runcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"devclean/cmd/devclean/cmdutil"
	"devclean/cmd/devclean/ui"
	"devclean/internal/adapter/sqlite"
	"devclean/internal/converge"
	"devclean/internal/device"
	"devclean/internal/session"

	"go.opentelemetry.io/otel/trace"
)

// ErrNotConverged is returned when targets remain after every pass.
var ErrNotConverged = errors.New("not all targets converged")

// Options control one clean run.
type Options struct {
	Passes     int
	Strategies []string
	// Hold keeps the session leased after cleaning until ctx is done.
	Hold   bool
	Tracer trace.Tracer
	// AfterConverge runs once convergence finishes, before the report is
	// printed. The run command stops its progress display here.
	AfterConverge func()
}

// Report is what a clean run did.
type Report struct {
	SessionID string
	Info      session.Info
	Apps      []device.App
	Skipped   []device.App
	Result    converge.RunResult
	Passes    int
	Remaining []device.App
	RunID     int64
}

// Clean leases a session through guard, converges every installed app to
// absent, and releases the session on every exit path.
func Clean(ctx context.Context, env *cmdutil.Env, guard *session.Guard, opts Options, out io.Writer) (Report, error) {
	names := opts.Strategies
	if len(names) == 0 {
		names = env.Context.Strategies
	}
	strategies, err := device.Strategies(names)
	if err != nil {
		return Report{}, err
	}
	passes := opts.Passes
	if passes <= 0 {
		passes = env.Context.PassCount()
	}

	var report Report
	err = guard.Run(ctx, env.CreateParams(), func(ctx context.Context, s *session.Session) error {
		report.SessionID = s.ID()
		fmt.Fprintln(out, ui.SuccessMsg("Session %s acquired.", ui.Bold(s.ID())))
		if info, ok := env.Describe(ctx, s); ok {
			report.Info = info
			fmt.Fprint(out, ui.KeyValues("  ",
				ui.KV("Resource", info.ResourceURL),
				ui.KV("Type", info.ResourceType),
			))
		}

		apps, err := device.Discover(ctx, env.Provider, s)
		if err != nil {
			return err
		}
		report.Apps = apps
		targets, skipped := device.Targets(apps)
		report.Skipped = skipped
		fmt.Fprintln(out, ui.InfoMsg("Found %d installed apps, %d to clean.", len(apps), len(targets)))
		for _, app := range skipped {
			fmt.Fprintln(out, ui.WarnMsg("Skipping %s: no package in start command %q.", app.Name, app.StartCmd))
		}

		started := time.Now()
		report.Result, report.Passes = runPasses(ctx, opts.Tracer, targets, strategies, passes, s)
		if opts.AfterConverge != nil {
			opts.AfterConverge()
		}

		remaining, err := device.ListInstalled(ctx, s)
		if err != nil {
			slog.Warn("verify remaining apps failed", "session", s.ID(), "err", err)
		}
		report.Remaining = remaining

		if env.Store != nil {
			rec := sqlite.NewRunRecord(s.ID(), env.Name, report.Passes, started, report.Result)
			id, err := env.Store.SaveRun(context.WithoutCancel(ctx), rec)
			if err != nil {
				slog.Warn("record run history failed", "err", err)
			}
			report.RunID = id
		}

		printReport(out, report)

		if opts.Hold {
			fmt.Fprintln(out, ui.InfoMsg("Holding session %s. Press Ctrl+C to release.", s.ID()))
			<-ctx.Done()
		}
		return nil
	})
	if err != nil {
		return report, err
	}
	if releaseErr := guard.ReleaseErr(); releaseErr != nil {
		fmt.Fprintln(out, ui.WarnMsg("Session %s may have leaked: %v", report.SessionID, releaseErr))
	} else {
		fmt.Fprintln(out, ui.SuccessMsg("Session %s released.", report.SessionID))
	}
	if report.Result.Status == converge.StatusNotConverged {
		return report, fmt.Errorf("%w: %d of %d", ErrNotConverged, report.Result.NotConverged, report.Result.Total())
	}
	return report, nil
}

// runPasses runs up to passes passes, each over the targets still pending.
func runPasses(ctx context.Context, tracer trace.Tracer, targets []converge.Target, strategies []converge.Strategy, passes int, s *session.Session) (converge.RunResult, int) {
	runner := converge.Runner{Tracer: tracer}
	observe, act := device.Observe(s), device.Act(s)

	result := runner.Run(ctx, targets, strategies, observe, act)
	ran := 1
	for ran < passes {
		pending := converge.Pending(result)
		if len(pending) == 0 || ctx.Err() != nil {
			break
		}
		slog.Info("retrying pending targets", "pass", ran+1, "pending", len(pending))
		result = converge.Merge(result, runner.Run(ctx, pending, strategies, observe, act))
		ran++
	}
	return result, ran
}

func printReport(out io.Writer, r Report) {
	if len(r.Result.Outcomes) > 0 {
		rows := make([][]string, 0, len(r.Result.Outcomes))
		for _, o := range r.Result.Outcomes {
			applied := o.Applied
			if applied == "" {
				applied = "-"
			}
			rows = append(rows, []string{
				o.Target.DisplayName(),
				o.Target.Key,
				ui.Status(string(o.Status)),
				applied,
				string(o.Target.Observed),
			})
		}
		fmt.Fprintln(out, ui.Table([]string{"APP", "PACKAGE", "STATUS", "APPLIED", "OBSERVED"}, rows))
	}

	pairs := []ui.Pair{
		ui.KV("Status", ui.Status(string(r.Result.Status))),
		ui.KV("Converged", strconv.Itoa(r.Result.Converged)),
		ui.KV("Not converged", strconv.Itoa(r.Result.NotConverged)),
		ui.KV("Passes", strconv.Itoa(r.Passes)),
		ui.KV("Duration", r.Result.Duration.Round(time.Millisecond).String()),
		ui.KV("Remaining apps", strconv.Itoa(len(r.Remaining))),
	}
	if r.RunID > 0 {
		pairs = append(pairs, ui.KV("Run", strconv.FormatInt(r.RunID, 10)))
	}
	fmt.Fprint(out, ui.KeyValues("  ", pairs...))
}
