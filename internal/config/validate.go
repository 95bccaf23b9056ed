package config

import (
	"fmt"
	"strings"

	"github.com/unicro/uniscout/internal/radio"
	"github.com/unicro/uniscout/internal/radio/sim"
)

// Validate checks a resolved configuration.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateScan(&config.Scan); err != nil {
		return fmt.Errorf("scan validation failed: %w", err)
	}
	if err := validateTelemetry(&config.Telemetry); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := validateAuth(&config.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}
	if err := validateProviders(&config.Providers); err != nil {
		return fmt.Errorf("providers validation failed: %w", err)
	}

	switch strings.ToLower(config.Tracer.Exporter) {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("tracer exporter %q is not supported", config.Tracer.Exporter)
	}

	return nil
}

func validateScan(scan *ScanConfig) error {
	if scan.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", scan.TickInterval)
	}
	if scan.FanInBuffer < 0 || scan.ObserverBuffer < 1 {
		return fmt.Errorf("fan-in buffer must be >= 0 and observer buffer >= 1, got %d and %d",
			scan.FanInBuffer, scan.ObserverBuffer)
	}
	if scan.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive, got %v", scan.StopTimeout)
	}

	for _, t := range radio.AllTechnologies() {
		tc := scan.Technologies.For(t)
		switch tc.Mode {
		case ModeFixed:
			if tc.Duration <= 0 {
				return fmt.Errorf("%s: fixed mode needs a positive duration, got %v", t, tc.Duration)
			}
		case ModeListen:
			if tc.FirstBatchSize < 1 {
				return fmt.Errorf("%s: first batch size must be >= 1, got %d", t, tc.FirstBatchSize)
			}
			if tc.FirstBatchWindow <= 0 {
				return fmt.Errorf("%s: first batch window must be positive, got %v", t, tc.FirstBatchWindow)
			}
		default:
			return fmt.Errorf("%s: unknown scan mode %q", t, tc.Mode)
		}
	}
	return nil
}

func validateTelemetry(telemetry *TelemetryConfig) error {
	if telemetry.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", telemetry.HeartbeatInterval)
	}
	if telemetry.HeartbeatJitter < 0 || telemetry.HeartbeatJitter > telemetry.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v must be within 0 and 50%% of interval %v",
			telemetry.HeartbeatJitter, telemetry.HeartbeatInterval)
	}
	if telemetry.EventBufferSize < 1 {
		return fmt.Errorf("event buffer size must be >= 1, got %d", telemetry.EventBufferSize)
	}
	if telemetry.ClientBuffer < 1 {
		return fmt.Errorf("client buffer must be >= 1, got %d", telemetry.ClientBuffer)
	}
	if telemetry.RetainedRuns < 1 {
		return fmt.Errorf("retained runs must be >= 1, got %d", telemetry.RetainedRuns)
	}
	return nil
}

func validateServer(server *ServerConfig) error {
	if server.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if server.ControlRate <= 0 || server.ControlBurst < 1 {
		return fmt.Errorf("control rate must be positive and burst >= 1, got %v/%d", server.ControlRate, server.ControlBurst)
	}
	if server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %v", server.ShutdownTimeout)
	}
	return nil
}

func validateAuth(auth *AuthConfig) error {
	if !auth.Enabled {
		return nil
	}
	switch auth.Algorithm {
	case "HS256":
		if auth.Secret == "" {
			return fmt.Errorf("HS256 requires a secret")
		}
	case "RS256":
		if auth.PublicKeyFile == "" {
			return fmt.Errorf("RS256 requires a public key file")
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", auth.Algorithm)
	}
	return nil
}

func validateProviders(providers *ProvidersConfig) error {
	switch providers.WiFi {
	case "sim", "mdns":
	default:
		return fmt.Errorf("wifi provider must be sim or mdns, got %q", providers.WiFi)
	}
	if providers.SimInterval <= 0 {
		return fmt.Errorf("sim interval must be positive, got %v", providers.SimInterval)
	}
	for name, state := range providers.Hardware {
		if _, err := radio.ParseTechnology(name); err != nil {
			return fmt.Errorf("hardware: %w", err)
		}
		if _, err := sim.ParseHardwareState(state); err != nil {
			return fmt.Errorf("hardware: %s: %w", name, err)
		}
	}
	return nil
}
