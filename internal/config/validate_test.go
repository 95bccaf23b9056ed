package config

import (
	"testing"
	"time"
)

func TestValidateBaseline(t *testing.T) {
	if err := Validate(Baseline()); err != nil {
		t.Fatalf("Baseline() should be valid: %v", err)
	}
}

func TestValidateNil(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Fatal("Validate(nil) should fail")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero tick", func(c *Config) { c.Scan.TickInterval = 0 }},
		{"no observer buffer", func(c *Config) { c.Scan.ObserverBuffer = 0 }},
		{"zero stop timeout", func(c *Config) { c.Scan.StopTimeout = 0 }},
		{"fixed without duration", func(c *Config) { c.Scan.Technologies.UWB.Duration = 0 }},
		{"listen without batch", func(c *Config) { c.Scan.Technologies.BLE.FirstBatchSize = 0 }},
		{"listen without window", func(c *Config) { c.Scan.Technologies.BLE.FirstBatchWindow = 0 }},
		{"unknown mode", func(c *Config) { c.Scan.Technologies.NFC.Mode = "forever" }},
		{"jitter above half interval", func(c *Config) { c.Telemetry.HeartbeatJitter = 10 * time.Second }},
		{"empty event buffer", func(c *Config) { c.Telemetry.EventBufferSize = 0 }},
		{"no retained runs", func(c *Config) { c.Telemetry.RetainedRuns = 0 }},
		{"empty address", func(c *Config) { c.Server.Address = "" }},
		{"zero control rate", func(c *Config) { c.Server.ControlRate = 0 }},
		{"hs256 without secret", func(c *Config) { c.Auth.Enabled = true }},
		{"rs256 without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "RS256" }},
		{"unknown algorithm", func(c *Config) { c.Auth.Enabled = true; c.Auth.Algorithm = "none" }},
		{"unknown wifi provider", func(c *Config) { c.Providers.WiFi = "lte" }},
		{"unknown hardware technology", func(c *Config) { c.Providers.Hardware["ZIGBEE"] = "denied" }},
		{"unknown hardware state", func(c *Config) { c.Providers.Hardware["BLE"] = "melted" }},
		{"unknown exporter", func(c *Config) { c.Tracer.Exporter = "jaeger" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Baseline()
			tt.mutate(config)
			if err := Validate(config); err == nil {
				t.Errorf("Validate() should fail for %s", tt.name)
			}
		})
	}
}

func TestValidateAcceptsConfiguredAuth(t *testing.T) {
	config := Baseline()
	config.Auth.Enabled = true
	config.Auth.Secret = "secret"
	if err := Validate(config); err != nil {
		t.Errorf("HS256 with secret should be valid: %v", err)
	}
}
