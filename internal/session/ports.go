package session

import (
	"context"
	"time"
)

// CreateParams describes the session a Provider should lease.
type CreateParams struct {
	ImageID string
	Labels  map[string]string
}

// Handle is what a Provider returns for a freshly created session.
type Handle struct {
	ID string
}

// CommandResult is the raw outcome of one remote command. Success reflects
// the remote side's verdict; transport failures are returned as errors instead.
type CommandResult struct {
	Success bool
	Output  string
}

// Info is optional descriptive metadata about a live session.
type Info struct {
	SessionID    string
	ResourceURL  string
	ResourceType string
}

// Provider leases sessions and runs commands inside them.
// Production: provider/api.Client, provider/ssh.Provider
// Testing: adapter/fake.Provider
type Provider interface {
	CreateSession(ctx context.Context, params CreateParams) (Handle, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Execute(ctx context.Context, sessionID, command string) (CommandResult, error)
}

// InfoProvider is implemented by providers that can describe a live session.
type InfoProvider interface {
	SessionInfo(ctx context.Context, sessionID string) (Info, error)
}

// Lease is the ledger entry written when a session is acquired.
type Lease struct {
	SessionID  string
	Provider   string
	Context    string
	Labels     map[string]string
	AcquiredAt time.Time
}

// Ledger records session lifetimes so leaked sessions can be found later.
// Production: adapter/sqlite.Store
type Ledger interface {
	RecordAcquired(ctx context.Context, lease Lease) error
	RecordReleased(ctx context.Context, sessionID string, path TerminationPath, deleteErr error) error
}

// App is an application reported by a provider's own app listing.
type App struct {
	Name          string
	StartCmd      string
	StopCmd       string
	WorkDirectory string
}

// AppLister is implemented by providers that can enumerate user-installed
// apps without going through the device shell.
type AppLister interface {
	InstalledApps(ctx context.Context, sessionID string) ([]App, error)
}
