package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/agentconsole/internal/invoker"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	DefaultAgent  string `json:"default_agent"`

	Agents map[string]invoker.Profile `json:"agents"`

	Console struct {
		FlagMarker     string   `json:"flag_marker"`
		HostPrefixes   []string `json:"host_prefixes"`
		MaxReplyChars  int      `json:"max_reply_chars"`
		RecordFailures bool     `json:"record_failures"`
		StateTTL       string   `json:"state_ttl"`
	} `json:"console"`

	Host struct {
		Enabled        bool                `json:"enabled"`
		NSEnter        string              `json:"nsenter"`
		AnchorPID      int                 `json:"anchor_pid"`
		TimeoutSeconds int                 `json:"timeout_seconds"`
		ProbeTTL       string              `json:"probe_ttl"`
		ForceTier      string              `json:"force_tier"`
		MaxOutputBytes int64               `json:"max_output_bytes"`
		AllowList      map[string][]string `json:"allow_list,omitempty"`
	} `json:"host"`

	Maintenance struct {
		SweepSchedule string `json:"sweep_schedule"`
	} `json:"maintenance"`

	Telegram struct {
		Token        string  `json:"token"`
		AllowedUsers []int64 `json:"allowed_users"`
	} `json:"telegram"`

	HTTP struct {
		Enabled bool   `json:"enabled"`
		Addr    string `json:"addr"`
		Token   string `json:"token"`
	} `json:"http"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".agentconsole"),
		LogLevel:      "info",
		MaxConcurrent: 4,
		DefaultAgent:  "claude",
		Agents:        invoker.DefaultProfiles(),
	}
	cfg.Console.FlagMarker = "#flags"
	cfg.Console.HostPrefixes = []string{"!host", "#host", "!exec", "#exec"}
	cfg.Console.MaxReplyChars = 4000
	cfg.Console.RecordFailures = true
	cfg.Console.StateTTL = "30m"

	cfg.Host.Enabled = true
	cfg.Host.NSEnter = "nsenter"
	cfg.Host.AnchorPID = 1
	cfg.Host.TimeoutSeconds = 30
	cfg.Host.ProbeTTL = "5m"
	cfg.Host.MaxOutputBytes = 1 << 20

	cfg.Maintenance.SweepSchedule = "@every 10m"
	cfg.HTTP.Addr = "127.0.0.1:8484"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if dbPath := os.Getenv("AGENTCONSOLE_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if level := os.Getenv("AGENTCONSOLE_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if token := os.Getenv("AGENTCONSOLE_HTTP_TOKEN"); token != "" {
		cfg.HTTP.Token = token
	}

	return cfg, nil
}

// Database returns the SQLite path, defaulting to data_dir/console.db.
func (c *Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "console.db")
}

// StateTTL returns how long an idle interaction state is kept.
func (c *Config) StateTTL() time.Duration {
	return parseDuration(c.Console.StateTTL, 30*time.Minute)
}

// ProbeTTL returns how long a host tier probe result is cached.
func (c *Config) ProbeTTL() time.Duration {
	return parseDuration(c.Host.ProbeTTL, 5*time.Minute)
}

// Validate reports settings the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Console.StateTTL != "" {
		if _, err := time.ParseDuration(c.Console.StateTTL); err != nil {
			return fmt.Errorf("console.state_ttl: %w", err)
		}
	}
	if c.Host.ProbeTTL != "" {
		if _, err := time.ParseDuration(c.Host.ProbeTTL); err != nil {
			return fmt.Errorf("host.probe_ttl: %w", err)
		}
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("agents: at least one agent profile is required")
	}
	if _, ok := c.Agents[c.DefaultAgent]; !ok {
		return fmt.Errorf("default_agent %q has no profile", c.DefaultAgent)
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a generic nested map through its JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every setting as dot-separated keys, optionally masking secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dot-separated key from the file at path, writing
// defaults first if the file does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(raw)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key in the file at path. Values that parse as
// JSON (numbers, booleans, arrays) are stored typed; anything else as a string.
func SetValue(path, key, value string) error {
	raw, err := readRaw(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	flat := Flatten(raw)
	flat[key] = v
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if raw == nil {
		raw = make(map[string]any)
	}
	return raw, nil
}
