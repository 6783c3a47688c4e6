package sessioncmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"devclean/cmd/devclean/cmdutil"
	"devclean/cmd/devclean/ui"
	"devclean/config"
	"devclean/internal/adapter/fake"
	"devclean/internal/exithook"
	"devclean/internal/session"
)

func newTestEnv(provider *fake.Provider) *cmdutil.Env {
	ui.ConfigureInteraction(true)
	return &cmdutil.Env{
		Name:     "test",
		Context:  config.Context{Provider: config.ProviderAPI},
		Provider: provider,
		GuardOptions: []session.Option{
			session.WithExitHooks(exithook.NewRegistry()),
			session.WithSignalNotify(func(chan<- os.Signal, ...os.Signal) {}, func(chan<- os.Signal) {}),
		},
	}
}

func TestListApps(t *testing.T) {
	provider := fake.NewProvider(fake.NewDevice("com.example.alpha", "com.example.beta"))
	env := newTestEnv(provider)

	var out bytes.Buffer
	if err := ListApps(context.Background(), env, env.NewGuard(), &out); err != nil {
		t.Fatalf("ListApps() error = %v", err)
	}
	for _, want := range []string{"com.example.alpha", "com.example.beta", "monkey -p"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
	if provider.Count("DeleteSession") != 1 {
		t.Fatalf("DeleteSession calls = %d, want 1", provider.Count("DeleteSession"))
	}
}

func TestExec(t *testing.T) {
	provider := fake.NewProvider(fake.NewDevice())
	env := newTestEnv(provider)

	var out bytes.Buffer
	if err := Exec(context.Background(), env, env.NewGuard(), "echo hello", &out); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if out.String() != "hello\n" {
		t.Fatalf("output = %q, want hello", out.String())
	}
}

func TestExecFailureStillReleases(t *testing.T) {
	provider := fake.NewProvider(fake.NewDevice())
	env := newTestEnv(provider)
	guard := env.NewGuard()

	var out bytes.Buffer
	err := Exec(context.Background(), env, guard, "reboot", &out)
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("Exec() error = %v, want ErrCommandFailed", err)
	}
	if path, ok := guard.ReleasedBy(); !ok || path != session.PathRaisedError {
		t.Fatalf("ReleasedBy() = %q, %v; want raised-error", path, ok)
	}
	if !strings.Contains(out.String(), "not found") {
		t.Fatalf("output = %q, want shell error", out.String())
	}
}
