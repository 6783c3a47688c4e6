package converge

import (
	"context"
	"strings"
	"time"
)

// State is the observed presence of a target on the remote side.
type State string

const (
	StatePresent State = "present"
	StateAbsent  State = "absent"
	StateUnknown State = "unknown"
)

// Status is the verdict for one target or a whole run.
type Status string

const (
	StatusConverged    Status = "converged"
	StatusNotConverged Status = "not-converged"
)

// Target is one entity to drive to StateAbsent.
type Target struct {
	Name string
	Key  string
	// Observed is filled in on the copy carried by an Outcome.
	Observed State
}

// DisplayName falls back to the key when the target has no name.
func (t Target) DisplayName() string {
	if strings.TrimSpace(t.Name) != "" {
		return t.Name
	}
	return t.Key
}

// ActResult is the raw result of running one strategy against a target.
type ActResult struct {
	Success bool
	Output  string
}

// Predicate decides whether an ActResult means the strategy took effect.
type Predicate func(ActResult) bool

// Strategy is one ranked remedial action. Command renders the remote command
// for a target key; Succeeded judges its raw result.
type Strategy struct {
	Name      string
	Command   func(key string) string
	Succeeded Predicate
}

// OutputContains matches a successful result whose output contains any of
// needles, case-insensitively.
func OutputContains(needles ...string) Predicate {
	lowered := make([]string, len(needles))
	for i, n := range needles {
		lowered[i] = strings.ToLower(n)
	}
	return func(r ActResult) bool {
		if !r.Success {
			return false
		}
		out := strings.ToLower(r.Output)
		for _, n := range lowered {
			if strings.Contains(out, n) {
				return true
			}
		}
		return false
	}
}

// ActFunc runs strategy against target. A non-nil error means the command
// could not be executed at all.
type ActFunc func(ctx context.Context, target Target, strategy Strategy) (ActResult, error)

// ObserveFunc reads the current state of target independently of any action.
type ObserveFunc func(ctx context.Context, target Target) (State, error)

// Attempt records one strategy execution.
type Attempt struct {
	Strategy string
	Result   ActResult
	Matched  bool
	Err      error
}

// Outcome is the per-target result of one run.
type Outcome struct {
	Target   Target
	Status   Status
	Applied  string
	Attempts []Attempt
	Err      error
}

// RunResult aggregates one pass over a batch of targets.
type RunResult struct {
	Status       Status
	Converged    int
	NotConverged int
	Outcomes     []Outcome
	Duration     time.Duration
}

// Total is the number of targets the run evaluated.
func (r RunResult) Total() int {
	return r.Converged + r.NotConverged
}
