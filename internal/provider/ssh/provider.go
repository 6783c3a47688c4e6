package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"devclean/internal/session"

	"github.com/google/uuid"
)

// DefaultLockDir holds lease directories on each host.
const DefaultLockDir = "/tmp/devclean"

// Exit codes used by the lease scripts.
const (
	exitBusy    = 3
	exitNotHeld = 4
)

var (
	ErrNoHosts        = errors.New("no ssh hosts configured")
	ErrAllHostsBusy   = errors.New("all ssh hosts are leased")
	ErrLeaseNotHeld   = errors.New("lease is not held by this session")
	ErrInvalidSession = errors.New("invalid ssh session id")
)

var (
	_ session.Provider     = (*Provider)(nil)
	_ session.InfoProvider = (*Provider)(nil)
)

// Config describes the host pool.
type Config struct {
	Hosts []string
	// ExecPrefix is prepended to every session command, for example
	// "adb -s emulator-5554 shell". Empty runs commands on the host itself.
	ExecPrefix string
	LockDir    string
}

// Provider leases one host from the pool per session. Session IDs have the
// form "<token>@<target>".
type Provider struct {
	cfg      Config
	run      Runner
	newToken func() string
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithRunner replaces the ssh script runner.
func WithRunner(r Runner) ProviderOption {
	return func(p *Provider) { p.run = r }
}

// WithTokenSource replaces the lease token generator.
func WithTokenSource(fn func() string) ProviderOption {
	return func(p *Provider) { p.newToken = fn }
}

// NewProvider returns a provider over cfg.Hosts reached with opts.
func NewProvider(cfg Config, opts Options, popts ...ProviderOption) *Provider {
	if strings.TrimSpace(cfg.LockDir) == "" {
		cfg.LockDir = DefaultLockDir
	}
	p := &Provider{
		cfg:      cfg,
		run:      NewRunner(opts),
		newToken: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, o := range popts {
		o(p)
	}
	return p
}

// CreateSession leases the first free host in configuration order.
func (p *Provider) CreateSession(ctx context.Context, params session.CreateParams) (session.Handle, error) {
	if len(p.cfg.Hosts) == 0 {
		return session.Handle{}, ErrNoHosts
	}
	token := p.newToken()
	for _, target := range p.cfg.Hosts {
		res, err := p.run(ctx, target, acquireScript(p.cfg.LockDir, token, params))
		if err != nil {
			slog.Warn("ssh host unreachable", "host", target, "err", err)
			continue
		}
		switch res.ExitCode {
		case 0:
			return session.Handle{ID: token + "@" + target}, nil
		case exitBusy:
			slog.Debug("ssh host already leased", "host", target)
		default:
			slog.Warn("ssh lease script failed", "host", target, "exit", res.ExitCode, "output", res.Output)
		}
	}
	return session.Handle{}, ErrAllHostsBusy
}

// DeleteSession removes the lease if it is still held by this session.
func (p *Provider) DeleteSession(ctx context.Context, sessionID string) error {
	token, target, err := ParseSessionID(sessionID)
	if err != nil {
		return err
	}
	res, err := p.run(ctx, target, releaseScript(p.cfg.LockDir, token))
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
		return nil
	case exitNotHeld:
		return fmt.Errorf("%w: %s", ErrLeaseNotHeld, sessionID)
	default:
		return fmt.Errorf("release lease on %s: exit %d: %s", target, res.ExitCode, res.Output)
	}
}

// Execute runs command on the leased host, through ExecPrefix when set.
func (p *Provider) Execute(ctx context.Context, sessionID, command string) (session.CommandResult, error) {
	_, target, err := ParseSessionID(sessionID)
	if err != nil {
		return session.CommandResult{}, err
	}
	line := command
	if prefix := strings.TrimSpace(p.cfg.ExecPrefix); prefix != "" {
		line = prefix + " " + shellQuote(command)
	}
	res, err := p.run(ctx, target, line+"\n")
	if err != nil {
		return session.CommandResult{}, err
	}
	return session.CommandResult{Success: res.ExitCode == 0, Output: res.Output}, nil
}

// SessionInfo describes the leased host.
func (p *Provider) SessionInfo(_ context.Context, sessionID string) (session.Info, error) {
	_, target, err := ParseSessionID(sessionID)
	if err != nil {
		return session.Info{}, err
	}
	return session.Info{
		SessionID:    sessionID,
		ResourceURL:  "ssh://" + target,
		ResourceType: "ssh",
	}, nil
}

// ParseSessionID splits a session ID into its lease token and ssh target.
func ParseSessionID(id string) (token, target string, err error) {
	token, target, ok := strings.Cut(id, "@")
	if !ok || token == "" || target == "" || strings.ContainsAny(token, " '\"/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSession, id)
	}
	return token, target, nil
}

func leaseDir(lockDir string) string {
	return strings.TrimRight(lockDir, "/") + "/lease"
}

func acquireScript(lockDir, token string, params session.CreateParams) string {
	dir := shellQuote(leaseDir(lockDir))
	var b strings.Builder
	b.WriteString("set -eu\n")
	fmt.Fprintf(&b, "mkdir -p %s\n", shellQuote(lockDir))
	fmt.Fprintf(&b, "mkdir %s 2>/dev/null || exit %d\n", dir, exitBusy)
	// A half-written lease would read as busy forever and never match an owner.
	fmt.Fprintf(&b, "trap %s EXIT\n", shellQuote("rm -rf "+dir))
	fmt.Fprintf(&b, "printf '%%s\\n' %s > %s/owner\n", shellQuote(token), dir)
	if params.ImageID != "" {
		fmt.Fprintf(&b, "printf '%%s\\n' %s > %s/image\n", shellQuote(params.ImageID), dir)
	}
	if len(params.Labels) > 0 {
		keys := make([]string, 0, len(params.Labels))
		for k := range params.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, len(keys))
		for i, k := range keys {
			lines[i] = k + "=" + params.Labels[k]
		}
		fmt.Fprintf(&b, "printf '%%s\\n' %s > %s/labels\n", shellQuote(strings.Join(lines, "\n")), dir)
	}
	b.WriteString("trap - EXIT\n")
	return b.String()
}

func releaseScript(lockDir, token string) string {
	dir := shellQuote(leaseDir(lockDir))
	return fmt.Sprintf(`set -eu
owner="$(cat %[1]s/owner 2>/dev/null || true)"
if [ "$owner" != %[2]s ]; then
  exit %[3]d
fi
rm -rf %[1]s
`, dir, shellQuote(token), exitNotHeld)
}
