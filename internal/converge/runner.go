// Package converge drives remote targets to absent through ranked strategies
// and confirms each result with an independent observation.
//
// A strategy's textual predicate is advisory: a target also counts as
// converged when the observation reports it absent. One call to Run is one
// pass; callers re-run Pending targets themselves.
package converge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"devclean/internal/check"
	"devclean/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
)

// Decide combines the advisory predicate verdict with the observed state.
func Decide(matched bool, observed State) Status {
	if matched || observed == StateAbsent {
		return StatusConverged
	}
	return StatusNotConverged
}

// Runner evaluates batches of targets. The zero value is ready to use.
type Runner struct {
	// Tracer, when set, records the run as a plan with one step per target.
	Tracer trace.Tracer
	// OnOutcome is called after each target is decided, in input order.
	OnOutcome func(Outcome)
	Now       func() time.Time
}

func (r *Runner) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run makes one pass over targets in input order. Failures are contained
// per target and never abort the batch.
func (r *Runner) Run(ctx context.Context, targets []Target, strategies []Strategy, observe ObserveFunc, act ActFunc) RunResult {
	check.Assert(observe != nil && act != nil, "converge.Run: observe and act are required")
	started := r.now()
	op := r.startOperation(ctx, targets)
	runCtx := ctx
	if op != nil {
		runCtx = op.Context()
	}

	result := RunResult{Outcomes: make([]Outcome, 0, len(targets))}
	for i, target := range targets {
		var out Outcome
		_ = op.RunStep(runCtx, stepID(i, target), func(stepCtx context.Context) error {
			out = evaluate(stepCtx, target, strategies, observe, act)
			if out.Status != StatusConverged {
				return notConvergedError(out)
			}
			return nil
		})

		if out.Status == StatusConverged {
			result.Converged++
		} else {
			result.NotConverged++
		}
		result.Outcomes = append(result.Outcomes, out)
		slog.Debug("target evaluated",
			"target", target.Key,
			"status", string(out.Status),
			"applied", out.Applied,
			"observed", string(out.Target.Observed))
		if r != nil && r.OnOutcome != nil {
			r.OnOutcome(out)
		}
	}

	result.Status = StatusConverged
	if result.NotConverged > 0 {
		result.Status = StatusNotConverged
	}
	result.Duration = r.now().Sub(started)
	op.End(nil)
	return result
}

func evaluate(ctx context.Context, target Target, strategies []Strategy, observe ObserveFunc, act ActFunc) Outcome {
	out := Outcome{Target: target, Status: StatusNotConverged}
	out.Target.Observed = StateUnknown

	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}

	matched := false
	for _, strategy := range strategies {
		res, err := act(ctx, target, strategy)
		attempt := Attempt{Strategy: strategy.Name, Result: res, Err: err}
		if err != nil {
			out.Attempts = append(out.Attempts, attempt)
			out.Err = fmt.Errorf("strategy %s: %w", strategy.Name, err)
			return out
		}
		if strategy.Succeeded != nil && strategy.Succeeded(res) {
			attempt.Matched = true
			matched = true
			out.Applied = strategy.Name
		}
		out.Attempts = append(out.Attempts, attempt)
		if matched {
			break
		}
	}

	observed, err := observe(ctx, target)
	if err != nil {
		out.Err = fmt.Errorf("observe: %w", err)
		return out
	}
	out.Target.Observed = observed
	out.Status = Decide(matched, observed)
	return out
}

// Pending returns the targets of result that did not converge, in order.
func Pending(result RunResult) []Target {
	var out []Target
	for _, o := range result.Outcomes {
		if o.Status == StatusConverged {
			continue
		}
		t := o.Target
		t.Observed = ""
		out = append(out, t)
	}
	return out
}

// Merge overlays a later pass onto an earlier one. Outcomes in next replace
// the earlier outcome for the same key; order and counts follow prev.
func Merge(prev, next RunResult) RunResult {
	latest := make(map[string]Outcome, len(next.Outcomes))
	for _, o := range next.Outcomes {
		latest[o.Target.Key] = o
	}

	merged := RunResult{
		Outcomes: make([]Outcome, 0, len(prev.Outcomes)),
		Duration: prev.Duration + next.Duration,
	}
	for _, o := range prev.Outcomes {
		if o.Status != StatusConverged {
			if replacement, ok := latest[o.Target.Key]; ok {
				o = replacement
			}
		}
		if o.Status == StatusConverged {
			merged.Converged++
		} else {
			merged.NotConverged++
		}
		merged.Outcomes = append(merged.Outcomes, o)
	}
	merged.Status = StatusConverged
	if merged.NotConverged > 0 {
		merged.Status = StatusNotConverged
	}
	return merged
}

func (r *Runner) startOperation(ctx context.Context, targets []Target) *telemetry.Operation {
	if r == nil || r.Tracer == nil {
		return nil
	}
	plan := telemetry.Plan{Steps: make([]telemetry.PlannedStep, len(targets))}
	for i, t := range targets {
		plan.Steps[i] = telemetry.PlannedStep{ID: stepID(i, t), Title: t.DisplayName()}
	}
	op, err := telemetry.EmitPlan(ctx, r.Tracer, "converge", plan)
	if err != nil {
		slog.Debug("converge telemetry disabled", "err", err)
		return nil
	}
	return op
}

func stepID(i int, t Target) string {
	return strconv.Itoa(i+1) + ":" + t.Key
}

func notConvergedError(out Outcome) error {
	if out.Err != nil {
		return out.Err
	}
	return fmt.Errorf("%s still %s", out.Target.Key, out.Target.Observed)
}
