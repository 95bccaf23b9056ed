// Package api serves the scan engine over HTTP.
//
// Routes live under /api/v1: health, capabilities, scan status and control,
// the device snapshot and the SSE telemetry stream. Responses share one JSON
// envelope carrying a correlation id; control routes are rate limited.
package api
