package api

import (
	"context"
	"net/http"

	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/registry"
	"github.com/unicro/uniscout/internal/scan"
	"github.com/unicro/uniscout/internal/telemetry"
)

// ScanPort is what the API needs from the orchestrator.
type ScanPort interface {
	Start(ctx context.Context, scope radio.Scope) (scan.Run, error)
	Stop(ctx context.Context) error
	Cancel(ctx context.Context) error
	Status() scan.Status
	Snapshot() []registry.Device
}

// TelemetryPort serves one SSE client.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

var _ ScanPort = (*scan.Orchestrator)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
