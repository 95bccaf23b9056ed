package config

import (
	"time"

	"github.com/unicro/uniscout/internal/radio"
)

// Config is the complete service configuration.
type Config struct {
	Scan      ScanConfig      `yaml:"scan"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Logger    LoggerConfig    `yaml:"logger"`
	Audit     AuditConfig     `yaml:"audit"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ScanMode selects how a technology's progress and completion are measured.
type ScanMode string

// Scan modes.
const (
	// ModeFixed scans for Duration, then stops the session.
	ModeFixed ScanMode = "fixed"
	// ModeListen scans until stopped; progress reaches 1 at the first batch.
	ModeListen ScanMode = "listen"
)

// ScanConfig tunes the scan orchestrator.
type ScanConfig struct {
	TickInterval   time.Duration      `yaml:"tickInterval"`
	FanInBuffer    int                `yaml:"fanInBuffer"`
	ObserverBuffer int                `yaml:"observerBuffer"`
	StopTimeout    time.Duration      `yaml:"stopTimeout"`
	Technologies   TechnologiesConfig `yaml:"technologies"`
}

// TechnologiesConfig holds per-technology scan settings.
type TechnologiesConfig struct {
	BLE  TechnologyConfig `yaml:"ble"`
	UWB  TechnologyConfig `yaml:"uwb"`
	NFC  TechnologyConfig `yaml:"nfc"`
	WiFi TechnologyConfig `yaml:"wifi"`
}

// For returns the settings of technology t.
func (c *TechnologiesConfig) For(t radio.Technology) TechnologyConfig {
	switch t {
	case radio.BLE:
		return c.BLE
	case radio.UWB:
		return c.UWB
	case radio.NFC:
		return c.NFC
	case radio.WiFi:
		return c.WiFi
	}
	return TechnologyConfig{}
}

func (c *TechnologiesConfig) ref(t radio.Technology) *TechnologyConfig {
	switch t {
	case radio.BLE:
		return &c.BLE
	case radio.UWB:
		return &c.UWB
	case radio.NFC:
		return &c.NFC
	case radio.WiFi:
		return &c.WiFi
	}
	return nil
}

// TechnologyConfig describes how one technology is scanned.
type TechnologyConfig struct {
	Mode     ScanMode      `yaml:"mode"`
	Duration time.Duration `yaml:"duration"`

	// Listen mode: progress reaches 1 after FirstBatchSize distinct devices
	// or FirstBatchWindow, whichever comes first.
	FirstBatchSize   int           `yaml:"firstBatchSize"`
	FirstBatchWindow time.Duration `yaml:"firstBatchWindow"`
}

// TelemetryConfig tunes the SSE hub.
type TelemetryConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	HeartbeatJitter      time.Duration `yaml:"heartbeatJitter"`
	EventBufferSize      int           `yaml:"eventBufferSize"`
	EventBufferRetention time.Duration `yaml:"eventBufferRetention"`
	ClientBuffer         int           `yaml:"clientBuffer"`

	// RetainedRuns is how many runs keep a replay buffer; older runs are evicted.
	RetainedRuns int `yaml:"retainedRuns"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// ControlRate limits start/stop/cancel requests per second.
	ControlRate  float64 `yaml:"controlRate"`
	ControlBurst int     `yaml:"controlBurst"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Algorithm     string `yaml:"algorithm"`
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// AuditConfig configures the JSONL audit trail.
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// TracerConfig configures OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// ProvidersConfig selects the radio providers.
type ProvidersConfig struct {
	// Platform names the error token table used to normalize start failures.
	Platform string `yaml:"platform"`

	// WiFi is "sim" or "mdns".
	WiFi        string        `yaml:"wifi"`
	MDNSService string        `yaml:"mdnsService"`
	SimInterval time.Duration `yaml:"simInterval"`

	// Hardware maps a technology name to a simulated hardware state
	// (granted, denied, absent, disabled).
	Hardware map[string]string `yaml:"hardware"`
}

// Baseline returns the built-in defaults. Fixed technologies scan for a 5s
// window ticked every 50ms; BLE listens until stopped.
func Baseline() *Config {
	return &Config{
		Scan: ScanConfig{
			TickInterval:   50 * time.Millisecond,
			FanInBuffer:    64,
			ObserverBuffer: 16,
			StopTimeout:    5 * time.Second,
			Technologies: TechnologiesConfig{
				BLE: TechnologyConfig{
					Mode:             ModeListen,
					FirstBatchSize:   5,
					FirstBatchWindow: 5 * time.Second,
				},
				UWB:  TechnologyConfig{Mode: ModeFixed, Duration: 5 * time.Second},
				NFC:  TechnologyConfig{Mode: ModeFixed, Duration: 5 * time.Second},
				WiFi: TechnologyConfig{Mode: ModeFixed, Duration: 5 * time.Second},
			},
		},
		Telemetry: TelemetryConfig{
			HeartbeatInterval:    15 * time.Second,
			HeartbeatJitter:      2 * time.Second,
			EventBufferSize:      50,
			EventBufferRetention: time.Hour,
			ClientBuffer:         100,
			RetainedRuns:         8,
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ControlRate:     5,
			ControlBurst:    10,
		},
		Auth: AuthConfig{
			Enabled:   false,
			Algorithm: "HS256",
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Enabled:    true,
			Dir:        "audit",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 90,
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Providers: ProvidersConfig{
			Platform:    "generic",
			WiFi:        "sim",
			MDNSService: "_services._dns-sd._udp",
			SimInterval: time.Second,
			Hardware:    map[string]string{},
		},
	}
}
