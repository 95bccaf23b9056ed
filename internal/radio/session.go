package radio

import (
	"context"
	"fmt"
	"sync"
)

// Provider is the platform scanning capability for one technology.
type Provider interface {
	// Technology returns the technology this provider scans.
	Technology() Technology

	// Start begins scanning and returns the stream of sightings. The stream is
	// closed by the provider when scanning ends. A provider that lacks a grant
	// or hardware returns an error wrapping ErrPermissionDenied or
	// ErrHardwareUnavailable (or a platform error the token tables recognize).
	Start(ctx context.Context) (<-chan RawScanEvent, error)

	// Stop ends scanning. Providers may assume Stop follows a successful Start.
	Stop(ctx context.Context) error
}

// SessionState is the lifecycle state of one radio session.
type SessionState int

// Session states.
const (
	StateIdle SessionState = iota
	StateRunning
	StateStopped
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state name for JSON payloads.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state is Stopped or Failed.
func (s SessionState) Terminal() bool {
	return s == StateStopped || s == StateFailed
}

// Session drives one Provider through Idle → Running → Stopped, or → Failed.
// A Session is single use: restarting a technology requires a new Session.
type Session struct {
	mu       sync.Mutex
	provider Provider
	platform string
	state    SessionState
	err      error
}

// NewSession wraps a provider; platform errors are normalized with the generic table.
func NewSession(provider Provider) *Session {
	return NewSessionFor(provider, "generic")
}

// NewSessionFor wraps a provider whose errors follow the named platform's token table.
func NewSessionFor(provider Provider, platform string) *Session {
	return &Session{
		provider: provider,
		platform: platform,
		state:    StateIdle,
	}
}

// Technology returns the wrapped provider's technology.
func (s *Session) Technology() Technology {
	return s.provider.Technology()
}

// Start starts the provider. On failure the session moves to StateFailed, the
// returned error is a *SessionError and no stream is returned.
func (s *Session) Start(ctx context.Context) (<-chan RawScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return nil, fmt.Errorf("%s: %w (state %s)", s.provider.Technology(), ErrSessionNotIdle, s.state)
	}

	stream, err := s.provider.Start(ctx)
	if err == nil && stream == nil {
		err = fmt.Errorf("%w: provider returned no stream", ErrInternal)
	}
	if err != nil {
		s.state = StateFailed
		s.err = NormalizePlatformErrorFor(s.provider.Technology(), err, s.platform)
		return nil, s.err
	}

	s.state = StateRunning
	return stream, nil
}

// Stop stops a running session. It is a no-op on stopped or failed sessions;
// an idle session becomes stopped without touching the provider.
//
// The session reports Stopped before the provider call and does not hold its
// lock during it, so State stays readable while a provider flushes its stream.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateStopped
		s.mu.Unlock()
		return nil
	case StateStopped, StateFailed:
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopped
	s.mu.Unlock()

	if err := s.provider.Stop(ctx); err != nil {
		return fmt.Errorf("stop %s session: %w", s.provider.Technology(), err)
	}
	return nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the normalized start error of a failed session, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Reason returns why the session failed, ReasonNone when it did not.
func (s *Session) Reason() FailureReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailed {
		return ReasonNone
	}
	return ReasonOf(s.err)
}
