package historycmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"devclean/internal/adapter/sqlite"
	"devclean/internal/converge"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestListAndShow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	id, err := store.SaveRun(ctx, sqlite.NewRunRecord("s-1", "lab", 2, time.Now(), converge.RunResult{
		Status:       converge.StatusNotConverged,
		Converged:    1,
		NotConverged: 1,
		Outcomes: []converge.Outcome{
			{Target: converge.Target{Name: "Alpha", Key: "com.example.alpha", Observed: converge.StateAbsent}, Status: converge.StatusConverged, Applied: "uninstall-user"},
			{Target: converge.Target{Key: "com.example.beta", Observed: converge.StateUnknown}, Status: converge.StatusNotConverged, Err: errors.New("transport closed")},
		},
	}))
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := List(ctx, store, 10, &out); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := out.String(); !strings.Contains(got, "s-1") || !strings.Contains(got, "1/2") {
		t.Fatalf("List() output:\n%s", got)
	}

	out.Reset()
	if err := Show(ctx, store, id, &out); err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	for _, want := range []string{"com.example.alpha", "uninstall-user", "com.example.beta", "transport closed"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("Show() output missing %q:\n%s", want, out.String())
		}
	}

	if err := Show(ctx, store, id+100, &out); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Show(unknown) error = %v, want ErrRunNotFound", err)
	}
}

func TestListEmpty(t *testing.T) {
	var out bytes.Buffer
	if err := List(context.Background(), newStore(t), 0, &out); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !strings.Contains(out.String(), "No runs recorded.") {
		t.Fatalf("List() output = %q", out.String())
	}
}
