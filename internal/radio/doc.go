// Package radio defines the per-technology radio session contract for the scan engine.
//
// A Provider is the platform capability for one technology (BLE, UWB, NFC, Wi-Fi).
// A Session wraps a Provider with the Idle → Running → Stopped/Failed state machine,
// normalizes platform start failures to PermissionDenied or HardwareUnavailable,
// and makes Stop idempotent.
//
// Providers emit one RawScanEvent per observation, including repeats of devices
// they have already reported; deduplication happens in the registry.
package radio
