package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "listen:\n  port: 9999\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "listen:\n  port: 8080\n")
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.MQTT.Broker != "ws://localhost:9001" {
		t.Errorf("broker = %q, want ws://localhost:9001", cfg.MQTT.Broker)
	}
	if cfg.Liveness.ThresholdMS != 3001 {
		t.Errorf("threshold_ms = %d, want 3001", cfg.Liveness.ThresholdMS)
	}
	if cfg.Liveness.SampleIntervalMS != 100 {
		t.Errorf("sample_interval_ms = %d, want 100", cfg.Liveness.SampleIntervalMS)
	}
	if cfg.MQTT.OutboundBuffer != 32 {
		t.Errorf("outbound_buffer = %d, want 32", cfg.MQTT.OutboundBuffer)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("log_format = %q, want text", cfg.LogFormat)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "mqtt:\n  password: ${GROWSTUDIO_TEST_PASSWORD}\n")
	t.Setenv("GROWSTUDIO_TEST_PASSWORD", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Password != "secret123" {
		t.Errorf("password = %q, want %q", cfg.MQTT.Password, "secret123")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mqtt:\n  username: ${GROWSTUDIO_TEST_DOTENV_USER}\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GROWSTUDIO_TEST_DOTENV_USER=grower\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("GROWSTUDIO_TEST_DOTENV_USER") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Username != "grower" {
		t.Errorf("username = %q, want %q", cfg.MQTT.Username, "grower")
	}
}

func TestLoad_EnvironmentBeatsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "mqtt:\n  username: ${GROWSTUDIO_TEST_PRECEDENCE}\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GROWSTUDIO_TEST_PRECEDENCE=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GROWSTUDIO_TEST_PRECEDENCE", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.MQTT.Username != "from-env" {
		t.Errorf("username = %q, want %q", cfg.MQTT.Username, "from-env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"port too high", func(c *Config) { c.Listen.Port = 70000 }, "listen.port"},
		{"unknown scheme", func(c *Config) { c.MQTT.Broker = "http://broker:80" }, "scheme"},
		{"wss accepted", func(c *Config) { c.MQTT.Broker = "wss://broker:8884/mqtt" }, ""},
		{"negative buffer", func(c *Config) { c.MQTT.OutboundBuffer = -1 }, "outbound_buffer"},
		{"negative rate", func(c *Config) { c.MQTT.MaxMessagesPerSec = -5 }, "max_messages_per_sec"},
		{"zero threshold", func(c *Config) { c.Liveness.ThresholdMS = -1 }, "threshold_ms"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level:       LevelTrace,
		ReplaceAttr: ReplaceLogLevelNames,
	}))
	logger.Log(t.Context(), LevelTrace, "raw payload")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected level=TRACE in output, got: %s", buf.String())
	}
}
