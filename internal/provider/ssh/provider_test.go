package ssh

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"devclean/internal/session"
)

type fakeHosts struct {
	mu          sync.Mutex
	owners      map[string]string
	unreachable map[string]bool
	scripts     []string
}

func newFakeHosts() *fakeHosts {
	return &fakeHosts{owners: make(map[string]string), unreachable: make(map[string]bool)}
}

func (f *fakeHosts) run(_ context.Context, target, script string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	if f.unreachable[target] {
		return Result{}, errors.New("ssh: connect to host " + target + ": connection refused")
	}

	switch {
	case strings.Contains(script, "mkdir -p"):
		if f.owners[target] != "" {
			return Result{ExitCode: exitBusy}, nil
		}
		start := strings.Index(script, "printf '%s\\n' '") + len("printf '%s\\n' '")
		end := strings.Index(script[start:], "'")
		f.owners[target] = script[start : start+end]
		return Result{}, nil
	case strings.Contains(script, "rm -rf"):
		owner := f.owners[target]
		if owner == "" || !strings.Contains(script, shellQuote(owner)) {
			return Result{ExitCode: exitNotHeld}, nil
		}
		delete(f.owners, target)
		return Result{}, nil
	case strings.Contains(script, "missing-binary"):
		return Result{Output: "sh: missing-binary: not found", ExitCode: 127}, nil
	default:
		return Result{Output: strings.TrimSpace(script)}, nil
	}
}

func newTestProvider(hosts *fakeHosts, cfg Config) *Provider {
	n := 0
	return NewProvider(cfg, Options{},
		WithRunner(hosts.run),
		WithTokenSource(func() string {
			n++
			return "tok" + string(rune('0'+n))
		}),
	)
}

func TestProviderLeasesFirstFreeHost(t *testing.T) {
	ctx := context.Background()
	hosts := newFakeHosts()
	hosts.unreachable["dev@a"] = true
	hosts.owners["dev@b"] = "someone-else"
	p := newTestProvider(hosts, Config{Hosts: []string{"dev@a", "dev@b", "dev@c"}})

	h, err := p.CreateSession(ctx, session.CreateParams{ImageID: "mobile_latest"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if h.ID != "tok1@dev@c" {
		t.Fatalf("CreateSession() id = %q, want tok1@dev@c", h.ID)
	}

	if _, err := p.CreateSession(ctx, session.CreateParams{}); !errors.Is(err, ErrAllHostsBusy) {
		t.Fatalf("second CreateSession() error = %v, want ErrAllHostsBusy", err)
	}

	if err := p.DeleteSession(ctx, h.ID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := p.DeleteSession(ctx, h.ID); !errors.Is(err, ErrLeaseNotHeld) {
		t.Fatalf("second DeleteSession() error = %v, want ErrLeaseNotHeld", err)
	}
}

func TestProviderExecute(t *testing.T) {
	ctx := context.Background()
	hosts := newFakeHosts()
	p := newTestProvider(hosts, Config{Hosts: []string{"dev@a"}, ExecPrefix: "adb shell"})

	h, err := p.CreateSession(ctx, session.CreateParams{})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	res, err := p.Execute(ctx, h.ID, "pm list packages 'com.x'")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	want := `adb shell 'pm list packages '"'"'com.x'"'"''`
	if !res.Success || res.Output != want {
		t.Fatalf("Execute() = %+v, want output %q", res, want)
	}

	res, err = p.Execute(ctx, h.ID, "missing-binary")
	if err != nil {
		t.Fatalf("Execute(failing) error = %v", err)
	}
	if res.Success {
		t.Fatalf("Execute(failing) = %+v, want Success=false", res)
	}

	hosts.unreachable["dev@a"] = true
	if _, err := p.Execute(ctx, h.ID, "echo hi"); err == nil {
		t.Fatal("Execute() on unreachable host returned nil error")
	}
}

func TestProviderNoHosts(t *testing.T) {
	p := newTestProvider(newFakeHosts(), Config{})
	if _, err := p.CreateSession(context.Background(), session.CreateParams{}); !errors.Is(err, ErrNoHosts) {
		t.Fatalf("CreateSession() error = %v, want ErrNoHosts", err)
	}
}

func TestParseSessionID(t *testing.T) {
	tests := []struct {
		id         string
		wantToken  string
		wantTarget string
		wantErr    bool
	}{
		{id: "abc@host", wantToken: "abc", wantTarget: "host"},
		{id: "abc@user@host", wantToken: "abc", wantTarget: "user@host"},
		{id: "host", wantErr: true},
		{id: "@host", wantErr: true},
		{id: "abc@", wantErr: true},
		{id: "a'b@host", wantErr: true},
	}
	for _, tt := range tests {
		token, target, err := ParseSessionID(tt.id)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidSession) {
				t.Errorf("ParseSessionID(%q) error = %v, want ErrInvalidSession", tt.id, err)
			}
			continue
		}
		if err != nil || token != tt.wantToken || target != tt.wantTarget {
			t.Errorf("ParseSessionID(%q) = %q, %q, %v", tt.id, token, target, err)
		}
	}
}

func TestAcquireScriptRecordsLabels(t *testing.T) {
	script := acquireScript("/var/lock/devclean/", "tok", session.CreateParams{
		ImageID: "mobile_latest",
		Labels:  map[string]string{"project": "demo", "environment": "ci"},
	})
	for _, want := range []string{
		"mkdir '/var/lock/devclean/lease' 2>/dev/null || exit 3",
		"'tok' > '/var/lock/devclean/lease'/owner",
		"'mobile_latest' > '/var/lock/devclean/lease'/image",
		"'environment=ci\nproject=demo' > '/var/lock/devclean/lease'/labels",
		"trap 'rm -rf '\"'\"'/var/lock/devclean/lease'\"'\"'' EXIT",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("acquire script missing %q:\n%s", want, script)
		}
	}
}

func runLocalScript(t *testing.T, script string) error {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	cmd := exec.Command(sh, "-s")
	cmd.Stdin = strings.NewReader(script)
	return cmd.Run()
}

func TestAcquireScriptOnHost(t *testing.T) {
	lockDir := t.TempDir()
	lease := filepath.Join(lockDir, "lease")

	if err := runLocalScript(t, acquireScript(lockDir, "tok", session.CreateParams{ImageID: "mobile_latest"})); err != nil {
		t.Fatalf("acquire script error = %v", err)
	}
	owner, err := os.ReadFile(filepath.Join(lease, "owner"))
	if err != nil || string(owner) != "tok\n" {
		t.Fatalf("owner = %q, %v, want tok", owner, err)
	}

	if err := runLocalScript(t, releaseScript(lockDir, "tok")); err != nil {
		t.Fatalf("release script error = %v", err)
	}
	if _, err := os.Stat(lease); !os.IsNotExist(err) {
		t.Fatalf("lease dir after release: stat error = %v, want not exist", err)
	}
}

func TestAcquireScriptRemovesHalfWrittenLease(t *testing.T) {
	lockDir := t.TempDir()

	// Writing the owner file fails after the lock directory exists.
	failing := "printf() { return 1; }\n" + acquireScript(lockDir, "tok", session.CreateParams{})
	if err := runLocalScript(t, failing); err == nil {
		t.Fatal("acquire script with failing writes error = nil")
	}
	if _, err := os.Stat(filepath.Join(lockDir, "lease")); !os.IsNotExist(err) {
		t.Fatalf("lease dir after failed acquire: stat error = %v, want not exist", err)
	}

	if err := runLocalScript(t, acquireScript(lockDir, "tok2", session.CreateParams{})); err != nil {
		t.Fatalf("acquire after failed attempt error = %v, want host free", err)
	}
}

func TestSessionInfo(t *testing.T) {
	p := newTestProvider(newFakeHosts(), Config{Hosts: []string{"dev@a"}})
	info, err := p.SessionInfo(context.Background(), "tok@dev@a")
	if err != nil {
		t.Fatalf("SessionInfo() error = %v", err)
	}
	if info.ResourceURL != "ssh://dev@a" || info.ResourceType != "ssh" {
		t.Fatalf("SessionInfo() = %+v", info)
	}
}
