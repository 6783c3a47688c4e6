package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devclean/internal/adapter/fake/fault"
	"devclean/internal/session"
)

// Fault points evaluated by Provider.
const (
	PointCreateSession = "provider.create_session"
	PointDeleteSession = "provider.delete_session"
	PointExecute       = "provider.execute"
)

var ErrUnknownSession = errors.New("fake: unknown session")

var (
	_ session.Provider     = (*Provider)(nil)
	_ session.InfoProvider = (*Provider)(nil)
	_ session.AppLister    = (*Provider)(nil)
)

// Provider is an in-memory session.Provider. Commands are answered by Device
// when set, otherwise by ExecuteFunc, otherwise with an empty success.
type Provider struct {
	CallRecorder
	Faults *fault.Injector

	Device      *Device
	ExecuteFunc func(sessionID, command string) (session.CommandResult, error)

	// EmptyID makes CreateSession succeed without an identifier.
	EmptyID bool
	// DeleteDelay stretches DeleteSession to widen race windows in tests.
	DeleteDelay time.Duration

	mu      sync.Mutex
	nextID  int
	live    map[string]bool
	deletes map[string]int
}

// NewProvider returns a Provider backed by device.
func NewProvider(device *Device) *Provider {
	return &Provider{Faults: fault.NewInjector(), Device: device}
}

func (p *Provider) CreateSession(_ context.Context, params session.CreateParams) (session.Handle, error) {
	p.record("CreateSession", params)
	if err := p.Faults.Eval(PointCreateSession, params); err != nil {
		return session.Handle{}, err
	}
	if p.EmptyID {
		return session.Handle{}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("session-%d", p.nextID)
	if p.live == nil {
		p.live = make(map[string]bool)
	}
	p.live[id] = true
	return session.Handle{ID: id}, nil
}

func (p *Provider) DeleteSession(_ context.Context, sessionID string) error {
	p.record("DeleteSession", sessionID)
	if p.DeleteDelay > 0 {
		time.Sleep(p.DeleteDelay)
	}

	p.mu.Lock()
	if p.deletes == nil {
		p.deletes = make(map[string]int)
	}
	p.deletes[sessionID]++
	p.mu.Unlock()

	if err := p.Faults.Eval(PointDeleteSession, sessionID); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.live[sessionID] {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	delete(p.live, sessionID)
	return nil
}

func (p *Provider) Execute(_ context.Context, sessionID, command string) (session.CommandResult, error) {
	p.record("Execute", sessionID, command)
	if err := p.Faults.Eval(PointExecute, sessionID, command); err != nil {
		return session.CommandResult{}, err
	}
	if !p.Live(sessionID) {
		return session.CommandResult{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	switch {
	case p.Device != nil:
		return p.Device.Execute(command), nil
	case p.ExecuteFunc != nil:
		return p.ExecuteFunc(sessionID, command)
	default:
		return session.CommandResult{Success: true}, nil
	}
}

func (p *Provider) SessionInfo(_ context.Context, sessionID string) (session.Info, error) {
	p.record("SessionInfo", sessionID)
	if !p.Live(sessionID) {
		return session.Info{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return session.Info{
		SessionID:    sessionID,
		ResourceURL:  "https://fake.invalid/sessions/" + sessionID,
		ResourceType: "mobile",
	}, nil
}

// InstalledApps lists the device's visible packages as launcher entries.
func (p *Provider) InstalledApps(_ context.Context, sessionID string) ([]session.App, error) {
	p.record("InstalledApps", sessionID)
	if !p.Live(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	if p.Device == nil {
		return nil, nil
	}
	return p.Device.Apps(), nil
}

// Live reports whether sessionID was created and not yet deleted.
func (p *Provider) Live(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live[sessionID]
}

// Deletes returns how many delete calls sessionID received, including failed ones.
func (p *Provider) Deletes(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deletes[sessionID]
}
