package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"devclean/internal/check"
	"devclean/internal/exithook"
)

const (
	// defaultDeleteTimeout bounds the single delete call. Teardown must not
	// hang shutdown, and the caller's context is usually already cancelled.
	defaultDeleteTimeout = 30 * time.Second
	// ledgerTimeout bounds the release record, independent of the delete.
	ledgerTimeout = 5 * time.Second
	// ExitCodeSignal is the conventional status for a SIGINT-terminated process.
	ExitCodeSignal = 130
)

// Guard owns one session and releases it exactly once.
type Guard struct {
	provider      Provider
	providerName  string
	contextName   string
	ledger        Ledger
	hooks         *exithook.Registry
	notify        func(c chan<- os.Signal, sig ...os.Signal)
	stopNotify    func(c chan<- os.Signal)
	exit          func(code int)
	deleteTimeout time.Duration
	now           func() time.Time

	acquired atomic.Bool
	// released is closed once the winning release has finished its delete
	// and ledger write.
	released chan struct{}

	mu          sync.Mutex
	session     *Session
	releasedBy  TerminationPath
	releaseErr  error
	stopSignals func()
	removeHook  func()
}

// Option configures a Guard.
type Option func(*Guard)

// WithLedger records acquisitions and releases in l under the given names.
func WithLedger(l Ledger, providerName, contextName string) Option {
	return func(g *Guard) {
		g.ledger = l
		g.providerName = providerName
		g.contextName = contextName
	}
}

// WithExitHooks registers the process-exit hook in r instead of exithook.Default.
func WithExitHooks(r *exithook.Registry) Option {
	return func(g *Guard) { g.hooks = r }
}

// WithSignalNotify replaces signal.Notify and signal.Stop.
func WithSignalNotify(notify func(chan<- os.Signal, ...os.Signal), stop func(chan<- os.Signal)) Option {
	return func(g *Guard) {
		g.notify = notify
		g.stopNotify = stop
	}
}

// WithExit sets what happens after a signal-triggered release.
// The default runs exithook.Exit(ExitCodeSignal).
func WithExit(exit func(code int)) Option {
	return func(g *Guard) { g.exit = exit }
}

// WithDeleteTimeout bounds the remote delete call.
func WithDeleteTimeout(d time.Duration) Option {
	return func(g *Guard) { g.deleteTimeout = d }
}

// WithClock replaces the clock that stamps recorded leases.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// NewGuard returns a guard that leases sessions from provider.
func NewGuard(provider Provider, opts ...Option) *Guard {
	check.Assert(provider != nil, "session.NewGuard: provider is required")
	g := &Guard{
		provider:      provider,
		hooks:         exithook.Default,
		notify:        signal.Notify,
		stopNotify:    signal.Stop,
		exit:          exithook.Exit,
		deleteTimeout: defaultDeleteTimeout,
		now:           time.Now,
		released:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire leases a new session and registers teardown for the signal and
// process-exit paths. Nothing is registered when acquisition fails.
func (g *Guard) Acquire(ctx context.Context, params CreateParams) (*Session, error) {
	if !g.acquired.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAcquired
	}

	h, err := g.provider.CreateSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAcquisitionFailed, err)
	}
	if strings.TrimSpace(h.ID) == "" {
		return nil, fmt.Errorf("%w: provider returned no session id", ErrAcquisitionFailed)
	}

	s := newSession(h.ID, g.provider)
	g.mu.Lock()
	g.session = s
	g.stopSignals = g.watchSignals()
	g.removeHook = g.hooks.Register(func() {
		_ = g.releaseVia(PathProcessExit)
	})
	g.mu.Unlock()

	if g.ledger != nil {
		lease := Lease{
			SessionID:  s.id,
			Provider:   g.providerName,
			Context:    g.contextName,
			Labels:     params.Labels,
			AcquiredAt: g.now().UTC(),
		}
		if err := g.ledger.RecordAcquired(ctx, lease); err != nil {
			slog.Warn("record session lease failed", "session", s.id, "err", err)
		}
	}
	slog.Info("session acquired", "session", s.id)
	return s, nil
}

// Run acquires a session, runs body, and releases the session on the way
// out. A panic in body releases the session and is then re-raised. A failed
// delete is logged and available through ReleaseErr but does not change the
// returned error.
func (g *Guard) Run(ctx context.Context, params CreateParams, body func(context.Context, *Session) error) error {
	s, err := g.Acquire(ctx, params)
	if err != nil {
		return err
	}

	path := PathRaisedError
	defer func() {
		if r := recover(); r != nil {
			_ = g.releaseVia(PathRaisedError)
			panic(r)
		}
		_ = g.releaseVia(path)
	}()

	if err := body(ctx, s); err != nil {
		return err
	}
	path = PathNormalReturn
	return nil
}

// Release deletes the session if no other path has done so yet. Repeated
// calls return nil without contacting the provider; a call that loses to an
// in-flight release waits for it to finish.
func (g *Guard) Release() error {
	return g.releaseVia(PathNormalReturn)
}

// Session returns the guarded session, or nil before Acquire succeeds.
func (g *Guard) Session() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

// ReleasedBy reports which termination path performed the release.
func (g *Guard) ReleasedBy() (TerminationPath, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releasedBy, g.releasedBy != ""
}

// ReleaseErr returns the delete failure from the winning release, if any.
func (g *Guard) ReleaseErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.releaseErr
}

func (g *Guard) releaseVia(path TerminationPath) error {
	g.mu.Lock()
	s := g.session
	g.mu.Unlock()
	if s == nil {
		return nil
	}
	if !s.markReleased() {
		g.awaitRelease()
		return nil
	}
	defer close(g.released)

	g.mu.Lock()
	g.releasedBy = path
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.deleteTimeout)
	var releaseErr error
	deleteErr := g.provider.DeleteSession(ctx, s.id)
	cancel()
	if deleteErr != nil {
		releaseErr = fmt.Errorf("%w: %s: %w", ErrDeleteFailed, s.id, deleteErr)
		slog.Warn("session delete failed", "session", s.id, "path", string(path), "err", deleteErr)
	} else {
		slog.Info("session released", "session", s.id, "path", string(path))
	}

	if g.ledger != nil {
		ledgerCtx, cancelLedger := context.WithTimeout(context.Background(), ledgerTimeout)
		if err := g.ledger.RecordReleased(ledgerCtx, s.id, path, deleteErr); err != nil {
			slog.Warn("record session release failed", "session", s.id, "err", err)
		}
		cancelLedger()
	}

	g.mu.Lock()
	g.releaseErr = releaseErr
	stopSignals, removeHook := g.stopSignals, g.removeHook
	g.mu.Unlock()

	// Signals and the exit hook stay armed until the delete returns; the
	// state CAS turns their late arrival into a wait on released.
	if stopSignals != nil {
		stopSignals()
	}
	if removeHook != nil {
		removeHook()
	}
	return releaseErr
}

// awaitRelease blocks a losing path until the winning release finishes, so
// no path exits the process while a delete is in flight.
func (g *Guard) awaitRelease() {
	timer := time.NewTimer(g.deleteTimeout + ledgerTimeout)
	defer timer.Stop()
	select {
	case <-g.released:
	case <-timer.C:
		slog.Warn("timed out waiting for session release")
	}
}

// watchSignals releases on SIGINT/SIGTERM and then exits. The returned stop
// function is idempotent and does not wait for the watcher goroutine.
func (g *Guard) watchSignals() func() {
	ch := make(chan os.Signal, 1)
	g.notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-ch:
			slog.Warn("received signal, releasing session", "signal", sig.String())
			_ = g.releaseVia(PathSignal)
			g.exit(ExitCodeSignal)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.stopNotify(ch)
			close(done)
		})
	}
}
