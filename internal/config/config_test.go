package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.MaxVoiceBytes != 50<<20 {
		t.Fatalf("expected 50 MiB voice limit, got %d", cfg.Pipeline.MaxVoiceBytes)
	}
	if cfg.Pipeline.SegmentLength != 5000 {
		t.Fatalf("expected segment length 5000, got %d", cfg.Pipeline.SegmentLength)
	}
	if cfg.Pipeline.ReferenceRate != 16000 {
		t.Fatalf("expected 16 kHz reference rate, got %d", cfg.Pipeline.ReferenceRate)
	}
	if cfg.Engine.DefaultLanguage != "fa" {
		t.Fatalf("expected default language fa, got %q", cfg.Engine.DefaultLanguage)
	}
	if cfg.Artifacts.Retention != 0 {
		t.Fatalf("expected unbounded artifact retention by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voiceclone.yaml")
	data := []byte(`
http:
  port: 9000
engine:
  mode: exec
  command: "python3 xtts_runner.py --device cpu"
  default_language: en
pipeline:
  segment_workers: 3
  run_timeout: 90s
artifacts:
  dir: /var/lib/voiceclone
  retention: 72h
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.DefaultLanguage != "en" {
		t.Fatalf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Pipeline.SegmentWorkers != 3 {
		t.Fatalf("expected 3 segment workers, got %d", cfg.Pipeline.SegmentWorkers)
	}
	if cfg.Pipeline.RunTimeout != 90*time.Second {
		t.Fatalf("expected 90s run timeout, got %s", cfg.Pipeline.RunTimeout)
	}
	if cfg.Artifacts.Retention != 72*time.Hour {
		t.Fatalf("expected 72h retention, got %s", cfg.Artifacts.Retention)
	}
	if cfg.Pipeline.SegmentLength != 5000 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Pipeline.SegmentLength)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICECLONE_HTTP_PORT", "8088")
	t.Setenv("VOICECLONE_ENGINE_MODE", "exec")
	t.Setenv("VOICECLONE_ENGINE_COMMAND", "xtts-runner")
	t.Setenv("VOICECLONE_ENGINE_LANGUAGES", "en, fa , de")
	t.Setenv("VOICECLONE_ENGINE_CONCURRENT", "true")
	t.Setenv("VOICECLONE_PIPELINE_MAX_VOICE_BYTES", "1048576")
	t.Setenv("VOICECLONE_PIPELINE_RUN_TIMEOUT", "2m")
	t.Setenv("VOICECLONE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICECLONE_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("VOICECLONE_EVENT_STORE_MAX_RUNS", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8088 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "xtts-runner" {
		t.Fatalf("expected engine override, got %+v", cfg.Engine)
	}
	if len(cfg.Engine.Languages) != 3 || cfg.Engine.Languages[1] != "fa" {
		t.Fatalf("expected trimmed language list, got %v", cfg.Engine.Languages)
	}
	if !cfg.Engine.Concurrent {
		t.Fatal("expected concurrent engine override")
	}
	if cfg.Pipeline.MaxVoiceBytes != 1<<20 {
		t.Fatalf("expected max voice override, got %d", cfg.Pipeline.MaxVoiceBytes)
	}
	if cfg.Pipeline.RunTimeout != 2*time.Minute {
		t.Fatalf("expected run timeout override, got %s", cfg.Pipeline.RunTimeout)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.MaxRuns != 123 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"exec without command", func(c *Config) { c.Engine.Mode = "exec" }},
		{"unknown engine mode", func(c *Config) { c.Engine.Mode = "remote" }},
		{"default language not listed", func(c *Config) { c.Engine.DefaultLanguage = "xx" }},
		{"zero segment length", func(c *Config) { c.Pipeline.SegmentLength = 0 }},
		{"zero workers", func(c *Config) { c.Pipeline.SegmentWorkers = 0 }},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.TraceExporter = "otlp" }},
		{"bad retention mode", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
		{"empty artifact dir", func(c *Config) { c.Artifacts.Dir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
