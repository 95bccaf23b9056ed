package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/registry"
	"github.com/unicro/uniscout/internal/telemetry"
)

// ErrAlreadyRunning is returned by Start unless the orchestrator is idle or stopped.
var ErrAlreadyRunning = errors.New("ALREADY_RUNNING")

// ErrInvalidScope is returned by Start for an empty scope.
var ErrInvalidScope = errors.New("INVALID_SCOPE")

// ErrScanFailed is returned by Start when no technology in scope could start.
var ErrScanFailed = errors.New("SCAN_FAILED")

// StartError reports a run in which every technology failed to start.
type StartError struct {
	Statuses []TechnologyStatus
}

func (e *StartError) Error() string {
	parts := make([]string, 0, len(e.Statuses))
	for _, s := range e.Statuses {
		parts = append(parts, fmt.Sprintf("%s: %s", s.Technology, s.Reason))
	}
	return fmt.Sprintf("%v: %s", ErrScanFailed, strings.Join(parts, ", "))
}

func (e *StartError) Unwrap() error {
	return ErrScanFailed
}

// ProviderFactory builds the provider for one technology of a run.
type ProviderFactory func(t radio.Technology) (radio.Provider, error)

// EventPublisher receives run telemetry. *telemetry.Hub implements it.
type EventPublisher interface {
	PublishRun(runID string, event telemetry.Event) error
}

// AuditLogger records lifecycle commands.
type AuditLogger interface {
	LogAction(ctx context.Context, action string, scope string, result string, latency time.Duration)
}

// Controller is what the API needs from the orchestrator.
type Controller interface {
	Start(ctx context.Context, scope radio.Scope) (Run, error)
	Stop(ctx context.Context) error
	Cancel(ctx context.Context) error
	Status() Status
	Snapshot() []registry.Device
	Observe(ctx context.Context) <-chan Update
}

var _ EventPublisher = (*telemetry.Hub)(nil)
var _ Controller = (*Orchestrator)(nil)
