package device

import (
	"context"
	"errors"
	"os"
	"testing"

	"devclean/internal/adapter/fake"
	"devclean/internal/converge"
	"devclean/internal/exithook"
	"devclean/internal/session"
)

type deviceExec struct {
	dev *fake.Device
	err error
	cmd []string
}

func (d *deviceExec) Execute(_ context.Context, command string) (session.CommandResult, error) {
	d.cmd = append(d.cmd, command)
	if d.err != nil {
		return session.CommandResult{}, d.err
	}
	return d.dev.Execute(command), nil
}

func TestExtractPackage(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "monkey -p com.example.app -c android.intent.category.LAUNCHER 1", want: "com.example.app", wantOK: true},
		{in: "monkey -p   org.sample_1.app", want: "org.sample_1.app", wantOK: true},
		{in: "am start -n com.example/.Main", wantOK: false},
		{in: "", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ExtractPackage(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ExtractPackage(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestValidatePackage(t *testing.T) {
	valid := []string{"com.example.app", "a", "org.sample_1.App2"}
	invalid := []string{"", "com.example;reboot", "com..example", ".com", "pkg name", "$(id)"}
	for _, name := range valid {
		if err := ValidatePackage(name); err != nil {
			t.Errorf("ValidatePackage(%q) error = %v", name, err)
		}
	}
	for _, name := range invalid {
		if err := ValidatePackage(name); !errors.Is(err, ErrInvalidPackage) {
			t.Errorf("ValidatePackage(%q) error = %v, want ErrInvalidPackage", name, err)
		}
	}
}

func TestObserve(t *testing.T) {
	dev := fake.NewDevice("com.example.app", "com.example.app.helper")
	exec := &deviceExec{dev: dev}
	observe := Observe(exec)
	ctx := context.Background()

	st, err := observe(ctx, converge.Target{Key: "com.example.app"})
	if err != nil || st != converge.StatePresent {
		t.Fatalf("observe(installed) = %s, %v; want present", st, err)
	}
	st, err = observe(ctx, converge.Target{Key: "com.example"})
	if err != nil || st != converge.StateAbsent {
		t.Fatalf("observe(prefix only) = %s, %v; want absent", st, err)
	}

	dev.Execute("pm uninstall com.example.app")
	st, err = observe(ctx, converge.Target{Key: "com.example.app"})
	if err != nil || st != converge.StateAbsent {
		t.Fatalf("observe(uninstalled) = %s, %v; want absent", st, err)
	}

	if _, err := observe(ctx, converge.Target{Key: "x;reboot"}); !errors.Is(err, ErrInvalidPackage) {
		t.Fatalf("observe(invalid) error = %v, want ErrInvalidPackage", err)
	}

	exec.err = errors.New("socket closed")
	if _, err := observe(ctx, converge.Target{Key: "com.example.app"}); err == nil {
		t.Fatal("observe() with transport failure returned nil error")
	}
}

func TestObserveRejectedCommandIsUnknown(t *testing.T) {
	observe := Observe(executorFunc(func(context.Context, string) (session.CommandResult, error) {
		return session.CommandResult{Success: false, Output: "cmd: Can't find service: package"}, nil
	}))

	st, err := observe(context.Background(), converge.Target{Key: "com.example.app"})
	if err != nil {
		t.Fatalf("observe() error = %v", err)
	}
	if st != converge.StateUnknown {
		t.Fatalf("observe() = %s, want unknown", st)
	}
}

type executorFunc func(ctx context.Context, command string) (session.CommandResult, error)

func (f executorFunc) Execute(ctx context.Context, command string) (session.CommandResult, error) {
	return f(ctx, command)
}

func TestStrategies(t *testing.T) {
	got, err := Strategies(nil)
	if err != nil {
		t.Fatalf("Strategies(nil) error = %v", err)
	}
	if len(got) != 1 || got[0].Name != StrategyDisable {
		t.Fatalf("Strategies(nil) = %v, want [disable]", got)
	}

	got, err = Strategies([]string{"uninstall-user", " Disable ", "hide", "uninstall"})
	if err != nil {
		t.Fatalf("Strategies(all) error = %v", err)
	}
	wantCmds := []string{
		"pm uninstall --user 0 com.x",
		"pm disable-user --user 0 com.x",
		"pm hide --user 0 com.x",
		"pm uninstall com.x",
	}
	for i, s := range got {
		if cmd := s.Command("com.x"); cmd != wantCmds[i] {
			t.Errorf("%s command = %q, want %q", s.Name, cmd, wantCmds[i])
		}
	}

	if _, err := Strategies([]string{"format-disk"}); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("Strategies(unknown) error = %v, want ErrUnknownStrategy", err)
	}
	if _, err := Strategies([]string{"hide", "hide"}); err == nil {
		t.Fatal("Strategies(duplicate) error = nil")
	}
}

func TestStrategyPredicatesAgainstDeviceOutput(t *testing.T) {
	strategies, err := Strategies(CatalogNames())
	if err != nil {
		t.Fatalf("Strategies() error = %v", err)
	}
	for _, s := range strategies {
		dev := fake.NewDevice("com.example.app")
		res := dev.Execute(s.Command("com.example.app"))
		if !s.Succeeded(converge.ActResult{Success: res.Success, Output: res.Output}) {
			t.Errorf("%s predicate rejected device output %q", s.Name, res.Output)
		}

		missing := fake.NewDevice()
		res = missing.Execute(s.Command("com.example.app"))
		if s.Succeeded(converge.ActResult{Success: res.Success, Output: res.Output}) {
			t.Errorf("%s predicate accepted failure output %q", s.Name, res.Output)
		}
	}
}

func TestActRejectsInvalidPackage(t *testing.T) {
	exec := &deviceExec{dev: fake.NewDevice()}
	act := Act(exec)
	strategies, _ := Strategies(nil)

	_, err := act(context.Background(), converge.Target{Key: "com.x && reboot"}, strategies[0])
	if !errors.Is(err, ErrInvalidPackage) {
		t.Fatalf("act() error = %v, want ErrInvalidPackage", err)
	}
	if len(exec.cmd) != 0 {
		t.Fatalf("commands sent = %v, want none", exec.cmd)
	}
}

func TestConvergeAgainstDevice(t *testing.T) {
	dev := fake.NewDevice("com.example.alpha", "com.example.beta")
	dev.Mute["com.example.beta"] = true
	exec := &deviceExec{dev: dev}

	strategies, err := Strategies([]string{StrategyDisable, StrategyUninstallUser})
	if err != nil {
		t.Fatal(err)
	}
	targets := []converge.Target{
		{Name: "Alpha", Key: "com.example.alpha"},
		{Name: "Beta", Key: "com.example.beta"},
		{Name: "Ghost", Key: "com.example.ghost"},
	}

	var r converge.Runner
	got := r.Run(context.Background(), targets, strategies, Observe(exec), Act(exec))

	if got.Converged != 3 {
		t.Fatalf("Converged = %d, want 3 (outcomes %+v)", got.Converged, got.Outcomes)
	}
	// Alpha: disable matched, package still listed.
	if got.Outcomes[0].Applied != StrategyDisable || got.Outcomes[0].Target.Observed != converge.StatePresent {
		t.Fatalf("alpha outcome = %+v", got.Outcomes[0])
	}
	// Beta: muted output defeats both predicates, but uninstall removed it.
	if got.Outcomes[1].Applied != "" || got.Outcomes[1].Target.Observed != converge.StateAbsent {
		t.Fatalf("beta outcome = %+v", got.Outcomes[1])
	}
	// Ghost was never installed.
	if got.Outcomes[2].Target.Observed != converge.StateAbsent {
		t.Fatalf("ghost outcome = %+v", got.Outcomes[2])
	}
}

func TestListInstalledAndTargets(t *testing.T) {
	exec := &deviceExec{dev: fake.NewDevice("com.example.beta", "com.example.alpha")}

	apps, err := ListInstalled(context.Background(), exec)
	if err != nil {
		t.Fatalf("ListInstalled() error = %v", err)
	}
	if len(apps) != 2 || apps[0].Package != "com.example.alpha" {
		t.Fatalf("ListInstalled() = %+v", apps)
	}

	apps = append(apps,
		App{Name: "Launcher Entry", StartCmd: "monkey -p com.example.gamma -c android.intent.category.LAUNCHER 1"},
		App{Name: "Web Shortcut", StartCmd: "am start -a android.intent.action.VIEW"},
	)
	targets, skipped := Targets(apps)
	if len(targets) != 3 {
		t.Fatalf("targets = %+v, want 3", targets)
	}
	if targets[2].Key != "com.example.gamma" || targets[2].Name != "Launcher Entry" {
		t.Fatalf("resolved target = %+v", targets[2])
	}
	if len(skipped) != 1 || skipped[0].Name != "Web Shortcut" {
		t.Fatalf("skipped = %+v", skipped)
	}
}

func TestListInstalledRejected(t *testing.T) {
	exec := executorFunc(func(context.Context, string) (session.CommandResult, error) {
		return session.CommandResult{Success: false, Output: "permission denied"}, nil
	})
	if _, err := ListInstalled(context.Background(), exec); err == nil {
		t.Fatal("ListInstalled() error = nil for rejected command")
	}
}

func TestDiscoverPrefersProviderListing(t *testing.T) {
	ctx := context.Background()
	provider := fake.NewProvider(fake.NewDevice("com.example.alpha"))
	guard := session.NewGuard(provider,
		session.WithExitHooks(exithook.NewRegistry()),
		session.WithSignalNotify(func(chan<- os.Signal, ...os.Signal) {}, func(chan<- os.Signal) {}),
	)
	s, err := guard.Acquire(ctx, session.CreateParams{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer guard.Release()

	apps, err := Discover(ctx, provider, s)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if provider.Count("InstalledApps") != 1 || provider.Count("Execute") != 0 {
		t.Fatalf("calls = %v, want provider listing only", provider.Calls(""))
	}
	targets, skipped := Targets(apps)
	if len(targets) != 1 || targets[0].Key != "com.example.alpha" || len(skipped) != 0 {
		t.Fatalf("Targets() = %+v, %+v", targets, skipped)
	}
}
