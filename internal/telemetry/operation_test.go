package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestEmitPlanAndRunStepSuccess(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "converge", Plan{Steps: []PlannedStep{
		{ID: "1:com.example.alpha", Title: "Alpha"},
		{ID: "2:com.example.beta", Title: "Beta"},
	}})
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	if err := op.RunStep(op.Context(), "1:com.example.alpha", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	op.End(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended span count = %d, want 2", len(spans))
	}

	root := findSpanByName(spans, "converge")
	if root == nil {
		t.Fatal("missing root span")
	}
	plan, ok := DecodePlan(root.Attributes())
	if !ok {
		t.Fatal("root span carries no decodable plan")
	}
	if len(plan.Steps) != 2 || plan.Steps[1].Title != "Beta" {
		t.Fatalf("decoded plan = %+v", plan)
	}
	if len(root.Events()) == 0 || root.Events()[0].Name != PlanEventName {
		t.Fatalf("root events = %+v, want %q first", root.Events(), PlanEventName)
	}

	child := findSpanByName(spans, "1:com.example.alpha")
	if child == nil {
		t.Fatal("missing child step span")
	}
	if child.Parent().SpanID() != root.SpanContext().SpanID() {
		t.Fatalf("step parent span id = %s, want %s", child.Parent().SpanID(), root.SpanContext().SpanID())
	}
}

func TestRunStepFailureSetsErrorStatus(t *testing.T) {
	t.Parallel()

	tracer, recorder := newTestTracer()
	op, err := EmitPlan(context.Background(), tracer, "converge", Plan{Steps: []PlannedStep{{ID: "1:pkg.a", Title: "A"}}})
	if err != nil {
		t.Fatalf("EmitPlan() error = %v", err)
	}

	boom := errors.New("pkg.a still present")
	err = op.RunStep(op.Context(), "1:pkg.a", func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("RunStep() error = %v, want boom", err)
	}
	op.End(nil)

	child := findSpanByName(recorder.Ended(), "1:pkg.a")
	if child == nil {
		t.Fatal("missing failed step span")
	}
	if child.Status().Code != codes.Error {
		t.Fatalf("step status = %v, want error", child.Status().Code)
	}
	if child.Status().Description != "pkg.a still present" {
		t.Fatalf("step status description = %q", child.Status().Description)
	}
}

func TestEmitPlanRejectsDuplicateStepIDs(t *testing.T) {
	t.Parallel()

	tracer, _ := newTestTracer()
	_, err := EmitPlan(context.Background(), tracer, "converge", Plan{Steps: []PlannedStep{
		{ID: "x", Title: "one"},
		{ID: "x", Title: "two"},
	}})
	if err == nil {
		t.Fatal("EmitPlan() error = nil, want duplicate step error")
	}
}

func TestNilOperationRunsStepWithoutTracing(t *testing.T) {
	t.Parallel()

	var op *Operation
	called := false
	if err := op.RunStep(context.Background(), "step", func(context.Context) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("RunStep() error = %v", err)
	}
	if !called {
		t.Fatal("step function not called")
	}
	op.End(errors.New("ignored"))
}

func newTestTracer() (trace.Tracer, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return provider.Tracer("devclean-test"), recorder
}

func findSpanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}
