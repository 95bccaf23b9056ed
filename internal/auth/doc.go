// Package auth verifies bearer tokens and enforces scopes on the scan API.
//
// Tokens are JWTs signed with HS256 or RS256 and carry "roles" and "scopes"
// claims. Viewers hold read and telemetry; controllers also hold control,
// which gates starting, stopping and cancelling scans.
package auth
