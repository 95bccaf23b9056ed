// Package telemetry streams scan updates to HTTP clients as Server-Sent Events.
//
// The hub fans out events to every SSE client, keeps a bounded buffer per scan
// run, and replays buffered events to clients that reconnect with a
// Last-Event-ID header.
package telemetry
