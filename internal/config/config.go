package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	TraceExporter  string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type HTTPConfig struct {
	Bind              string  `yaml:"bind"`
	Port              int     `yaml:"port"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Config struct {
	ServiceName string           `yaml:"service_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Engine      EngineConfig     `yaml:"engine"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Artifacts   ArtifactsConfig  `yaml:"artifacts"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EngineConfig struct {
	Mode            string   `yaml:"mode"` // mock, exec
	Command         string   `yaml:"command"`
	DefaultLanguage string   `yaml:"default_language"`
	Languages       []string `yaml:"languages"`
	Concurrent      bool     `yaml:"concurrent"`
	// MockCharMS is the synthesized duration per character in mock mode.
	MockCharMS int `yaml:"mock_char_ms"`
}

type PipelineConfig struct {
	MaxVoiceBytes     int64         `yaml:"max_voice_bytes"`
	SegmentLength     int           `yaml:"segment_length"`
	SegmentWorkers    int           `yaml:"segment_workers"`
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	ReferenceRate     int           `yaml:"reference_sample_rate"`
	TempDir           string        `yaml:"temp_dir"`
}

type ArtifactsConfig struct {
	Dir string `yaml:"dir"`
	// Retention of zero keeps artifacts until removed externally.
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// DefaultLanguages mirrors the codes the hosted model was advertised with.
var DefaultLanguages = []string{"fa", "en", "ar", "fr", "de", "es", "ru", "zh", "hi", "ja", "ko", "tr", "it", "pt"}

func Default() Config {
	return Config{
		ServiceName: "loqa-voiceclone",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:              "0.0.0.0",
			Port:              5000,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			TraceExporter:  "none",
			OTLPInsecure:   true,
			MetricsEnabled: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Engine: EngineConfig{
			Mode:            "mock",
			DefaultLanguage: "fa",
			Languages:       append([]string(nil), DefaultLanguages...),
			MockCharMS:      60,
		},
		Pipeline: PipelineConfig{
			MaxVoiceBytes:     50 << 20,
			SegmentLength:     5000,
			SegmentWorkers:    1,
			MaxConcurrentRuns: 4,
			RunTimeout:        10 * time.Minute,
			ReferenceRate:     16000,
		},
		Artifacts: ArtifactsConfig{
			Dir:           "generated",
			PruneInterval: time.Hour,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voiceclone-runs.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Bind, c.HTTP.Port)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VOICECLONE_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOICECLONE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICECLONE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICECLONE_HTTP_PORT")
	overrideFloat(&cfg.HTTP.RequestsPerSecond, "VOICECLONE_HTTP_REQUESTS_PER_SECOND")
	overrideInt(&cfg.HTTP.Burst, "VOICECLONE_HTTP_BURST")
	overrideString(&cfg.Telemetry.LogLevel, "VOICECLONE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.TraceExporter, "VOICECLONE_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICECLONE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICECLONE_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.MetricsEnabled, "VOICECLONE_TELEMETRY_METRICS_ENABLED")
	overrideBool(&cfg.Bus.Enabled, "VOICECLONE_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICECLONE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICECLONE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOICECLONE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOICECLONE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICECLONE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICECLONE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICECLONE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICECLONE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICECLONE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Engine.Mode, "VOICECLONE_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "VOICECLONE_ENGINE_COMMAND")
	overrideString(&cfg.Engine.DefaultLanguage, "VOICECLONE_ENGINE_DEFAULT_LANGUAGE")
	overrideStringSlice(&cfg.Engine.Languages, "VOICECLONE_ENGINE_LANGUAGES")
	overrideBool(&cfg.Engine.Concurrent, "VOICECLONE_ENGINE_CONCURRENT")
	overrideInt(&cfg.Engine.MockCharMS, "VOICECLONE_ENGINE_MOCK_CHAR_MS")
	overrideInt64(&cfg.Pipeline.MaxVoiceBytes, "VOICECLONE_PIPELINE_MAX_VOICE_BYTES")
	overrideInt(&cfg.Pipeline.SegmentLength, "VOICECLONE_PIPELINE_SEGMENT_LENGTH")
	overrideInt(&cfg.Pipeline.SegmentWorkers, "VOICECLONE_PIPELINE_SEGMENT_WORKERS")
	overrideInt(&cfg.Pipeline.MaxConcurrentRuns, "VOICECLONE_PIPELINE_MAX_CONCURRENT_RUNS")
	overrideDuration(&cfg.Pipeline.RunTimeout, "VOICECLONE_PIPELINE_RUN_TIMEOUT")
	overrideInt(&cfg.Pipeline.ReferenceRate, "VOICECLONE_PIPELINE_REFERENCE_SAMPLE_RATE")
	overrideString(&cfg.Pipeline.TempDir, "VOICECLONE_PIPELINE_TEMP_DIR")
	overrideString(&cfg.Artifacts.Dir, "VOICECLONE_ARTIFACTS_DIR")
	overrideDuration(&cfg.Artifacts.Retention, "VOICECLONE_ARTIFACTS_RETENTION")
	overrideDuration(&cfg.Artifacts.PruneInterval, "VOICECLONE_ARTIFACTS_PRUNE_INTERVAL")
	overrideString(&cfg.EventStore.Path, "VOICECLONE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOICECLONE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOICECLONE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "VOICECLONE_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOICECLONE_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := time.ParseDuration(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.RequestsPerSecond < 0 {
		return errors.New("http.requests_per_second must be >= 0")
	}
	switch cfg.Telemetry.TraceExporter {
	case "none", "stdout", "otlp":
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	if cfg.Telemetry.TraceExporter == "otlp" && strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
		return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && cfg.Engine.Command == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if len(cfg.Engine.Languages) == 0 {
		return errors.New("engine.languages must not be empty")
	}
	if !containsString(cfg.Engine.Languages, cfg.Engine.DefaultLanguage) {
		return fmt.Errorf("engine.default_language %q is not listed in engine.languages", cfg.Engine.DefaultLanguage)
	}
	if cfg.Pipeline.MaxVoiceBytes <= 0 {
		return errors.New("pipeline.max_voice_bytes must be positive")
	}
	if cfg.Pipeline.SegmentLength <= 0 {
		return errors.New("pipeline.segment_length must be positive")
	}
	if cfg.Pipeline.SegmentWorkers <= 0 {
		return errors.New("pipeline.segment_workers must be >= 1")
	}
	if cfg.Pipeline.MaxConcurrentRuns <= 0 {
		return errors.New("pipeline.max_concurrent_runs must be >= 1")
	}
	if cfg.Pipeline.RunTimeout < 0 {
		return errors.New("pipeline.run_timeout must be >= 0")
	}
	if cfg.Pipeline.ReferenceRate <= 0 {
		return errors.New("pipeline.reference_sample_rate must be positive")
	}
	if cfg.Artifacts.Dir == "" {
		return errors.New("artifacts.dir must not be empty")
	}
	if cfg.Artifacts.Retention < 0 {
		return errors.New("artifacts.retention must be >= 0")
	}
	if cfg.Artifacts.Retention > 0 && cfg.Artifacts.PruneInterval <= 0 {
		return errors.New("artifacts.prune_interval must be positive when retention is set")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
