package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"devclean/internal/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Progress renders convergence progress from the runner's spans. Interactive
// terminals get a live checklist; everything else gets one line per change.
type Progress struct {
	provider *sdktrace.TracerProvider
	closeFn  func()
}

// NewProgress returns a Progress. Spans are also exported over OTLP when
// the exporter endpoint is configured.
func NewProgress(ctx context.Context) (*Progress, error) {
	var reporter func(stepSnapshot)
	closeFn := func() {}
	if IsInteractive() {
		checklist := NewChecklist(os.Stderr)
		reporter, closeFn = checklist.OnSnapshot, checklist.Close
	} else {
		reporter = newLineProgress(os.Stderr).OnSnapshot
	}

	provider, err := telemetry.NewTracerProvider(ctx, &stepSpanProcessor{observer: newStepObserver(reporter)})
	if err != nil {
		closeFn()
		return nil, err
	}
	return &Progress{provider: provider, closeFn: closeFn}, nil
}

// TracerProvider exposes the underlying provider so HTTP instrumentation
// can share it.
func (p *Progress) TracerProvider() trace.TracerProvider {
	if p == nil || p.provider == nil {
		return otel.GetTracerProvider()
	}
	return p.provider
}

func (p *Progress) Tracer(name string) trace.Tracer {
	if p == nil || p.provider == nil {
		return otel.Tracer(name)
	}
	return p.provider.Tracer(name)
}

// Close flushes span processors and stops any animation.
func (p *Progress) Close() {
	if p == nil {
		return
	}
	if p.provider != nil {
		_ = p.provider.Shutdown(context.Background())
	}
	if p.closeFn != nil {
		p.closeFn()
	}
}

type lineProgress struct {
	mu     sync.Mutex
	out    io.Writer
	status map[string]stepStatus
}

func newLineProgress(out io.Writer) *lineProgress {
	return &lineProgress{out: out, status: make(map[string]stepStatus)}
}

// OnSnapshot prints finished steps only; running states would double the
// output for fast targets.
func (l *lineProgress) OnSnapshot(snapshot stepSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := len(snapshot.Steps)
	finished, _ := snapshot.counts()
	for _, step := range snapshot.Steps {
		if step.Status != stepDone && step.Status != stepFailed {
			continue
		}
		if l.status[step.ID] == step.Status {
			continue
		}
		l.status[step.ID] = step.Status
		fmt.Fprintln(l.out, formatStepLine(step, finished, total))
	}
}

func formatStepLine(step stepState, finished, total int) string {
	prefix := "[..]"
	switch step.Status {
	case stepRunning:
		prefix = "[->]"
	case stepDone:
		prefix = "[ok]"
	case stepFailed:
		prefix = "[x]"
	}

	title := strings.TrimSpace(step.Title)
	if title == "" {
		title = step.ID
	}
	line := fmt.Sprintf("  %s %s", prefix, title)
	if total > 0 {
		line = fmt.Sprintf("  %d/%d %s %s", finished, total, prefix, title)
	}
	if msg := strings.TrimSpace(step.Message); msg != "" {
		line += " (" + msg + ")"
	}
	return line
}

type stepObserver struct {
	mu       sync.Mutex
	steps    map[string]stepState
	order    []string
	reporter func(stepSnapshot)
}

func newStepObserver(reporter func(stepSnapshot)) *stepObserver {
	return &stepObserver{
		steps:    make(map[string]stepState),
		reporter: reporter,
	}
}

// onPlan replaces the tracked steps; each runner pass emits a fresh plan.
// Spans that are not planned steps, such as HTTP client spans, are ignored.
func (o *stepObserver) onPlan(plan telemetry.Plan) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.steps = make(map[string]stepState, len(plan.Steps))
	o.order = o.order[:0]
	for _, planned := range plan.Steps {
		id := strings.TrimSpace(planned.ID)
		if id == "" {
			continue
		}
		title := strings.TrimSpace(planned.Title)
		if title == "" {
			title = id
		}
		o.order = append(o.order, id)
		o.steps[id] = stepState{ID: id, Title: title, Status: stepPending}
	}
	o.emitLocked()
}

func (o *stepObserver) onStepStart(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	step, ok := o.steps[strings.TrimSpace(id)]
	if !ok {
		return
	}
	step.Status = stepRunning
	step.Message = ""
	o.steps[step.ID] = step
	o.emitLocked()
}

func (o *stepObserver) onStepEnd(id string, failed bool, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	step, ok := o.steps[strings.TrimSpace(id)]
	if !ok {
		return
	}
	if failed {
		step.Status = stepFailed
		step.Message = strings.TrimSpace(message)
	} else {
		step.Status = stepDone
		step.Message = ""
	}
	o.steps[step.ID] = step
	o.emitLocked()
}

func (o *stepObserver) emitLocked() {
	if o.reporter == nil {
		return
	}
	steps := make([]stepState, 0, len(o.order))
	for _, id := range o.order {
		if step, ok := o.steps[id]; ok {
			steps = append(steps, step)
		}
	}
	o.reporter(stepSnapshot{Steps: steps})
}

type stepSpanProcessor struct {
	observer *stepObserver
}

func (p *stepSpanProcessor) OnStart(_ context.Context, span sdktrace.ReadWriteSpan) {
	if p == nil || p.observer == nil {
		return
	}
	if span.Parent().IsValid() {
		p.observer.onStepStart(span.Name())
		return
	}
	if plan, ok := telemetry.DecodePlan(span.Attributes()); ok {
		p.observer.onPlan(plan)
	}
}

func (p *stepSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p == nil || p.observer == nil || !span.Parent().IsValid() {
		return
	}
	status := span.Status()
	p.observer.onStepEnd(span.Name(), status.Code == codes.Error, status.Description)
}

func (p *stepSpanProcessor) Shutdown(context.Context) error   { return nil }
func (p *stepSpanProcessor) ForceFlush(context.Context) error { return nil }
