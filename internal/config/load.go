package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unicro/uniscout/internal/radio"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "UNISCOUT_CONFIG"

// Load merges Baseline() + optional YAML file + UNISCOUT_* env overrides.
// An empty path falls back to $UNISCOUT_CONFIG; no file at all is fine.
func Load(path string) (*Config, error) {
	config := Baseline()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := loadFromFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadFromFile decodes a YAML file over config. Keys absent from the file keep their value.
func loadFromFile(filename string, config *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return err
	}
	if config.Providers.Hardware == nil {
		config.Providers.Hardware = map[string]string{}
	}
	return nil
}

// applyEnvOverrides applies UNISCOUT_* environment variables to the config.
func applyEnvOverrides(config *Config) error {
	var errs []string
	record := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Scan
	record(envDuration("UNISCOUT_SCAN_TICK_INTERVAL", &config.Scan.TickInterval))
	record(envInt("UNISCOUT_SCAN_FANIN_BUFFER", &config.Scan.FanInBuffer))
	record(envInt("UNISCOUT_SCAN_OBSERVER_BUFFER", &config.Scan.ObserverBuffer))
	record(envDuration("UNISCOUT_SCAN_STOP_TIMEOUT", &config.Scan.StopTimeout))
	for _, t := range radio.AllTechnologies() {
		tc := config.Scan.Technologies.ref(t)
		prefix := "UNISCOUT_SCAN_" + string(t) + "_"
		if val := os.Getenv(prefix + "MODE"); val != "" {
			tc.Mode = ScanMode(strings.ToLower(val))
		}
		record(envDuration(prefix+"DURATION", &tc.Duration))
		record(envInt(prefix+"FIRST_BATCH_SIZE", &tc.FirstBatchSize))
		record(envDuration(prefix+"FIRST_BATCH_WINDOW", &tc.FirstBatchWindow))
	}

	// Telemetry
	record(envDuration("UNISCOUT_TELEMETRY_HEARTBEAT_INTERVAL", &config.Telemetry.HeartbeatInterval))
	record(envDuration("UNISCOUT_TELEMETRY_HEARTBEAT_JITTER", &config.Telemetry.HeartbeatJitter))
	record(envInt("UNISCOUT_TELEMETRY_EVENT_BUFFER_SIZE", &config.Telemetry.EventBufferSize))
	record(envDuration("UNISCOUT_TELEMETRY_EVENT_BUFFER_RETENTION", &config.Telemetry.EventBufferRetention))
	record(envInt("UNISCOUT_TELEMETRY_RETAINED_RUNS", &config.Telemetry.RetainedRuns))

	// Server
	if val := os.Getenv("UNISCOUT_SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	record(envFloat("UNISCOUT_SERVER_CONTROL_RATE", &config.Server.ControlRate))
	record(envInt("UNISCOUT_SERVER_CONTROL_BURST", &config.Server.ControlBurst))

	// Auth
	record(envBool("UNISCOUT_AUTH_ENABLED", &config.Auth.Enabled))
	if val := os.Getenv("UNISCOUT_AUTH_ALGORITHM"); val != "" {
		config.Auth.Algorithm = strings.ToUpper(val)
	}
	if val := os.Getenv("UNISCOUT_AUTH_SECRET"); val != "" {
		config.Auth.Secret = val
	}
	if val := os.Getenv("UNISCOUT_AUTH_PUBLIC_KEY_FILE"); val != "" {
		config.Auth.PublicKeyFile = val
	}

	// Logger
	if val := os.Getenv("UNISCOUT_LOG_LEVEL"); val != "" {
		config.Logger.Level = val
	}
	if val := os.Getenv("UNISCOUT_LOG_FORMAT"); val != "" {
		config.Logger.Format = val
	}
	if val := os.Getenv("UNISCOUT_LOG_OUTPUT"); val != "" {
		config.Logger.Output = val
	}

	// Audit
	record(envBool("UNISCOUT_AUDIT_ENABLED", &config.Audit.Enabled))
	if val := os.Getenv("UNISCOUT_AUDIT_DIR"); val != "" {
		config.Audit.Dir = val
	}

	// Tracer
	record(envBool("UNISCOUT_TRACER_ENABLED", &config.Tracer.Enabled))
	if val := os.Getenv("UNISCOUT_TRACER_EXPORTER"); val != "" {
		config.Tracer.Exporter = val
	}

	// Providers
	if val := os.Getenv("UNISCOUT_PROVIDERS_PLATFORM"); val != "" {
		config.Providers.Platform = strings.ToLower(val)
	}
	if val := os.Getenv("UNISCOUT_PROVIDERS_WIFI"); val != "" {
		config.Providers.WiFi = strings.ToLower(val)
	}
	if val := os.Getenv("UNISCOUT_PROVIDERS_MDNS_SERVICE"); val != "" {
		config.Providers.MDNSService = val
	}
	if val := os.Getenv("UNISCOUT_PROVIDERS_HARDWARE"); val != "" {
		record(parseHardware(val, config.Providers.Hardware))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// parseHardware reads "BLE=denied,UWB=absent" into dst.
func parseHardware(val string, dst map[string]string) error {
	for _, pair := range strings.Split(val, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, state, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("UNISCOUT_PROVIDERS_HARDWARE: malformed entry %q", pair)
		}
		dst[strings.ToUpper(strings.TrimSpace(name))] = strings.ToLower(strings.TrimSpace(state))
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
