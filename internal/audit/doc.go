// Package audit records scan lifecycle commands as an append-only JSON Lines log.
//
// Each record names the caller, the action (start, stop, cancel), the scope it
// targeted, its result code and latency. Files rotate by size through lumberjack.
package audit
