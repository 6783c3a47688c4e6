package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"devclean/internal/adapter/fake"
	"devclean/internal/converge"
	"devclean/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLeaseLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	acquired := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"s-2", "s-1"} {
		err := store.RecordAcquired(ctx, session.Lease{
			SessionID:  id,
			Provider:   "api",
			Context:    "prod",
			Labels:     map[string]string{"project": "demo"},
			AcquiredAt: acquired,
		})
		if err != nil {
			t.Fatalf("RecordAcquired(%s): %v", id, err)
		}
	}
	if err := store.RecordAcquired(ctx, session.Lease{SessionID: "s-3", Provider: "ssh", Context: "lab", AcquiredAt: acquired.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordAcquired(s-3): %v", err)
	}

	open, err := store.OpenLeases(ctx, "prod")
	if err != nil {
		t.Fatalf("OpenLeases: %v", err)
	}
	if len(open) != 2 || open[0].SessionID != "s-1" || open[1].SessionID != "s-2" {
		t.Fatalf("OpenLeases(prod) = %+v, want s-1, s-2", open)
	}
	if open[0].Labels["project"] != "demo" || !open[0].AcquiredAt.Equal(acquired) {
		t.Fatalf("lease round trip = %+v", open[0])
	}

	if err := store.RecordReleased(ctx, "s-1", session.PathNormalReturn, nil); err != nil {
		t.Fatalf("RecordReleased(s-1): %v", err)
	}
	if err := store.RecordReleased(ctx, "s-2", session.PathSignal, errors.New("HTTP 503")); err != nil {
		t.Fatalf("RecordReleased(s-2): %v", err)
	}

	open, err = store.OpenLeases(ctx, "")
	if err != nil {
		t.Fatalf("OpenLeases: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("OpenLeases(all) = %+v, want s-2 and s-3", open)
	}
	leaked := open[0]
	if leaked.SessionID != "s-2" || leaked.ReleasedBy != session.PathSignal || leaked.DeleteError != "HTTP 503" {
		t.Fatalf("leaked lease = %+v", leaked)
	}
	if open[1].SessionID != "s-3" || open[1].Labels == nil {
		t.Fatalf("unlabelled lease = %+v", open[1])
	}

	// A later successful release clears the failure.
	if err := store.RecordReleased(ctx, "s-2", session.PathNormalReturn, nil); err != nil {
		t.Fatalf("RecordReleased(s-2 retry): %v", err)
	}
	open, err = store.OpenLeases(ctx, "prod")
	if err != nil {
		t.Fatalf("OpenLeases: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("OpenLeases(prod) = %+v, want none", open)
	}
}

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	result := converge.RunResult{
		Status:       converge.StatusNotConverged,
		Converged:    1,
		NotConverged: 1,
		Duration:     1500 * time.Millisecond,
		Outcomes: []converge.Outcome{
			{
				Target:  converge.Target{Name: "Alpha", Key: "com.example.alpha", Observed: converge.StatePresent},
				Status:  converge.StatusConverged,
				Applied: "disable",
			},
			{
				Target: converge.Target{Key: "com.example.beta", Observed: converge.StateUnknown},
				Status: converge.StatusNotConverged,
				Err:    errors.New("observe: connection reset"),
			},
		},
	}

	first, err := store.SaveRun(ctx, NewRunRecord("s-1", "prod", 2, started, result))
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	second, err := store.SaveRun(ctx, NewRunRecord("s-2", "prod", 1, started.Add(time.Hour), converge.RunResult{Status: converge.StatusConverged}))
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second || runs[1].ID != first {
		t.Fatalf("ListRuns = %+v, want newest first", runs)
	}
	if runs[1].Duration != 1500*time.Millisecond || runs[1].Passes != 2 || runs[1].NotConverged != 1 {
		t.Fatalf("run summary = %+v", runs[1])
	}

	got, found, err := store.GetRun(ctx, first)
	if err != nil || !found {
		t.Fatalf("GetRun = %v, %v", found, err)
	}
	if len(got.Outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want 2", got.Outcomes)
	}
	if o := got.Outcomes[0]; o.Key != "com.example.alpha" || o.Applied != "disable" || o.Observed != converge.StatePresent {
		t.Fatalf("outcome[0] = %+v", o)
	}
	if o := got.Outcomes[1]; o.Status != converge.StatusNotConverged || o.Error != "observe: connection reset" {
		t.Fatalf("outcome[1] = %+v", o)
	}

	if _, found, err := store.GetRun(ctx, 999); err != nil || found {
		t.Fatalf("GetRun(999) = %v, %v; want not found", found, err)
	}
}

func TestOpenReusesDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordAcquired(ctx, session.Lease{SessionID: "s-1", Provider: "api", Context: "prod"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	open, err := reopened.OpenLeases(ctx, "prod")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("OpenLeases after reopen = %+v, want 1", open)
	}
}

func TestAcquiredAtDefaultsToStoreClock(t *testing.T) {
	ctx := context.Background()
	clock := fake.NewClock(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	store, err := Open(filepath.Join(t.TempDir(), "clock.db"), WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	first := clock.Now()
	if err := store.RecordAcquired(ctx, session.Lease{SessionID: "late", Context: "lab"}); err != nil {
		t.Fatal(err)
	}
	clock.Advance(-time.Minute)
	if err := store.RecordAcquired(ctx, session.Lease{SessionID: "early", Context: "lab"}); err != nil {
		t.Fatal(err)
	}

	open, err := store.OpenLeases(ctx, "lab")
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 || open[0].SessionID != "early" || open[1].SessionID != "late" {
		t.Fatalf("OpenLeases = %+v, want clock order", open)
	}
	if !open[1].AcquiredAt.Equal(first) {
		t.Fatalf("late acquired at %v, want %v", open[1].AcquiredAt, first)
	}
}
