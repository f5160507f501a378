package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestLoadWritesDefaults(t *testing.T) {
	path := tempConfigPath(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults should be written: %v", err)
	}
	if cfg.DefaultAgent != "claude" || cfg.Agents["claude"].Binary != "claude" {
		t.Errorf("unexpected agent defaults %+v", cfg.Agents)
	}
	if cfg.StateTTL() != 30*time.Minute || cfg.ProbeTTL() != 5*time.Minute {
		t.Errorf("unexpected durations %v %v", cfg.StateTTL(), cfg.ProbeTTL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.MaxConcurrent = 8
	original.Console.StateTTL = "1h"
	original.Host.ForceTier = "network"
	original.Host.AllowList = map[string][]string{"system": {"uptime"}}
	original.Telegram.Token = "bot-token-456"
	original.Telegram.AllowedUsers = []int64{42}
	writeTestConfig(t, path, original)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DataDir != original.DataDir || loaded.LogLevel != "debug" || loaded.MaxConcurrent != 8 {
		t.Errorf("top-level mismatch: %+v", loaded)
	}
	if loaded.StateTTL() != time.Hour {
		t.Errorf("expected 1h ttl, got %v", loaded.StateTTL())
	}
	if loaded.Host.ForceTier != "network" || len(loaded.Host.AllowList["system"]) != 1 {
		t.Errorf("host mismatch: %+v", loaded.Host)
	}
	if loaded.Telegram.Token != "bot-token-456" || len(loaded.Telegram.AllowedUsers) != 1 {
		t.Errorf("telegram mismatch: %+v", loaded.Telegram)
	}
	if loaded.Database() != "/tmp/test-data/console.db" {
		t.Errorf("unexpected database path %s", loaded.Database())
	}
}

func TestEnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("AGENTCONSOLE_DB_PATH", "/var/lib/console.db")
	t.Setenv("AGENTCONSOLE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Database() != "/var/lib/console.db" || cfg.LogLevel != "warn" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Console.StateTTL = "soon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected bad state_ttl to fail")
	}

	cfg = Default()
	cfg.DefaultAgent = "gemini"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown default agent to fail")
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestSave_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "config.json")
	if err := Save(path, &Config{LogLevel: "warn"}); err != nil {
		t.Fatalf("Save should create parent directory, got: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should exist: %v", err)
	}
}

func TestListValues(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Token = "bot-token-abcd"
	cfg.HTTP.Token = "api-secret-9999"

	flat, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if flat["telegram.token"] != "bot-token-abcd" || flat["console.flag_marker"] != "#flags" {
		t.Errorf("unexpected unmasked values: %v %v", flat["telegram.token"], flat["console.flag_marker"])
	}

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatal(err)
	}
	if masked["telegram.token"] != "***abcd" || masked["http.token"] != "***9999" {
		t.Errorf("secrets not masked: %v %v", masked["telegram.token"], masked["http.token"])
	}
	if masked["host.enabled"] != true {
		t.Errorf("expected host.enabled=true, got %v", masked["host.enabled"])
	}
}

func TestGetValue(t *testing.T) {
	path := tempConfigPath(t)
	cfg := Default()
	cfg.MaxConcurrent = 8
	writeTestConfig(t, path, cfg)

	v, err := GetValue(path, "max_concurrent")
	if err != nil {
		t.Fatal(err)
	}
	// JSON numbers are float64
	if v != float64(8) {
		t.Errorf("expected max_concurrent=8, got %v (%T)", v, v)
	}
	v, err = GetValue(path, "agents.claude.resume_flag")
	if err != nil {
		t.Fatal(err)
	}
	if v != "--resume" {
		t.Errorf("expected --resume, got %v", v)
	}

	_, err = GetValue(path, "nonexistent.key")
	if err == nil || err.Error() != "unknown config key: nonexistent.key" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestGetValue_NewFileGetsDefaults(t *testing.T) {
	v, err := GetValue(tempConfigPath(t), "log_level")
	if err != nil {
		t.Fatal(err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSetValue(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	cases := []struct {
		key, value string
		want       any
	}{
		{"log_level", "debug", "debug"},
		{"max_concurrent", "16", float64(16)},
		{"http.enabled", "true", true},
		{"console.state_ttl", "45m", "45m"},
		{"custom.setting", "value", "value"},
	}
	for _, c := range cases {
		if err := SetValue(path, c.key, c.value); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", c.key, err)
		}
		got, err := GetValue(path, c.key)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", c.key, c.want, c.want, got, got)
		}
	}

	// Untouched values survive.
	if v, _ := GetValue(path, "console.flag_marker"); v != "#flags" {
		t.Errorf("expected flag marker preserved, got %v", v)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StateTTL() != 45*time.Minute || !cfg.HTTP.Enabled {
		t.Errorf("typed reload mismatch: ttl=%v http=%v", cfg.StateTTL(), cfg.HTTP.Enabled)
	}
}

func TestSetValue_NonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file, got nil")
	}
}
