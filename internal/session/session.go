package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"devclean/internal/check"
)

var (
	// ErrAcquisitionFailed means no usable session was obtained.
	ErrAcquisitionFailed = errors.New("session acquisition failed")
	// ErrUseAfterRelease is returned for commands issued after release began.
	ErrUseAfterRelease = errors.New("session used after release")
	// ErrDeleteFailed wraps a failed remote delete. It is never retried.
	ErrDeleteFailed = errors.New("session delete failed")
	// ErrAlreadyAcquired is returned when a guard is asked for a second session.
	ErrAlreadyAcquired = errors.New("guard already holds a session")
)

// State is the liveness of a session.
type State int32

const (
	StateActive State = iota + 1
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateReleased:
		return "released"
	default:
		check.Assertf(false, "unknown session state: %d", s)
		return "unknown"
	}
}

// TerminationPath classifies how control reached teardown.
type TerminationPath string

const (
	PathNormalReturn TerminationPath = "normal-return"
	PathRaisedError  TerminationPath = "raised-error"
	PathSignal       TerminationPath = "external-signal"
	PathProcessExit  TerminationPath = "process-exit"
	// PathReaped marks a lease deleted after the fact from the ledger
	// rather than by its owning guard.
	PathReaped TerminationPath = "reaped"
)

// Session is a leased remote session. Only the owning Guard may release it.
type Session struct {
	id       string
	provider Provider
	state    atomic.Int32
}

func newSession(id string, provider Provider) *Session {
	s := &Session{id: id, provider: provider}
	s.state.Store(int32(StateActive))
	return s
}

// ID returns the provider-assigned session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current liveness of the session.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Execute runs command inside the session. After release it fails with
// ErrUseAfterRelease without contacting the provider.
func (s *Session) Execute(ctx context.Context, command string) (CommandResult, error) {
	if s.State() != StateActive {
		return CommandResult{}, fmt.Errorf("%w: %s", ErrUseAfterRelease, s.id)
	}
	res, err := s.provider.Execute(ctx, s.id, command)
	if err != nil {
		return CommandResult{}, fmt.Errorf("execute in session %s: %w", s.id, err)
	}
	return res, nil
}

// markReleased flips active -> released. Exactly one caller ever sees true.
func (s *Session) markReleased() bool {
	return s.state.CompareAndSwap(int32(StateActive), int32(StateReleased))
}
