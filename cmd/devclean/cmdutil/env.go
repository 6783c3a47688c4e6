// Package cmdutil resolves the selected context into the collaborators
// devclean commands share: a session provider, the lease ledger, and
// guard options.
package cmdutil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"devclean/config"
	"devclean/internal/adapter/sqlite"
	"devclean/internal/provider/api"
	"devclean/internal/provider/ssh"
	"devclean/internal/session"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

const apiRequestTimeout = 2 * time.Minute

// Env is everything a command needs to lease and clean a session.
type Env struct {
	Name     string
	Context  config.Context
	Provider session.Provider
	// Store is nil when the state database could not be opened.
	Store *sqlite.Store
	// GuardOptions are appended to every guard; tests use them to replace
	// signal and exit handling.
	GuardOptions []session.Option
}

// Options tune how Load builds the provider.
type Options struct {
	// TracerProvider instruments the API client when set.
	TracerProvider trace.TracerProvider
	// StatePath overrides config.StatePath.
	StatePath string
}

// Load resolves contextFlag against the config file and builds an Env.
func Load(contextFlag string, opts Options) (*Env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	name, ctx, err := cfg.Resolve(contextFlag)
	if err != nil {
		return nil, err
	}
	if err := ctx.Validate(); err != nil {
		return nil, fmt.Errorf("context %q: %w", name, err)
	}

	provider, err := NewProvider(ctx, opts.TracerProvider)
	if err != nil {
		return nil, fmt.Errorf("context %q: %w", name, err)
	}

	env := &Env{Name: name, Context: ctx, Provider: provider}
	statePath := opts.StatePath
	if statePath == "" {
		statePath = config.StatePath()
	}
	store, err := sqlite.Open(statePath)
	if err != nil {
		slog.Warn("lease ledger unavailable, leaked sessions will not be tracked", "path", statePath, "err", err)
	} else {
		env.Store = store
	}
	return env, nil
}

// NewProvider builds the session provider a context names.
func NewProvider(c config.Context, tp trace.TracerProvider) (session.Provider, error) {
	switch c.Provider {
	case config.ProviderAPI:
		key, err := c.APIKey()
		if err != nil {
			return nil, err
		}
		var clientOpts []api.ClientOption
		if tp != nil {
			clientOpts = append(clientOpts, api.WithHTTPClient(&http.Client{
				Timeout:   apiRequestTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
			}))
		}
		return api.NewClient(c.Endpoint, key, clientOpts...)
	case config.ProviderSSH:
		return ssh.NewProvider(
			ssh.Config{Hosts: c.Hosts, ExecPrefix: c.ExecPrefix, LockDir: c.LockDir},
			ssh.Options{Port: c.SSHPort, KeyPath: c.SSHKey},
		), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", c.Provider)
	}
}

// NewGuard returns a guard over the env's provider that records leases in
// the store when one is open.
func (e *Env) NewGuard() *session.Guard {
	opts := make([]session.Option, 0, len(e.GuardOptions)+1)
	if e.Store != nil {
		opts = append(opts, session.WithLedger(e.Store, e.Context.Provider, e.Name))
	}
	opts = append(opts, e.GuardOptions...)
	return session.NewGuard(e.Provider, opts...)
}

// CreateParams returns the session parameters the context asks for.
func (e *Env) CreateParams() session.CreateParams {
	return session.CreateParams{ImageID: e.Context.ImageID(), Labels: e.Context.Labels}
}

// Describe fetches session metadata when the provider supports it.
func (e *Env) Describe(ctx context.Context, s *session.Session) (session.Info, bool) {
	ip, ok := e.Provider.(session.InfoProvider)
	if !ok {
		return session.Info{}, false
	}
	info, err := ip.SessionInfo(ctx, s.ID())
	if err != nil {
		slog.Debug("session info unavailable", "session", s.ID(), "err", err)
		return session.Info{}, false
	}
	return info, true
}

func (e *Env) Close() error {
	if e == nil || e.Store == nil {
		return nil
	}
	return e.Store.Close()
}
