package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// RetryConfig holds delivery retry settings.
type RetryConfig struct {
	Attempts *int   `json:"attempts,omitempty"` // nil = default 3
	Delay    string `json:"delay,omitempty"`    // duration string, default "5s"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL           string      `json:"url"`
	Retry         RetryConfig `json:"retry"`
	ProbeInterval string      `json:"probe_interval,omitempty"` // default "15s"
	Interval      string      `json:"interval,omitempty"`       // watch reconcile interval, default "1m"
	Timeout       string      `json:"timeout,omitempty"`        // per-request timeout, default "10s"
}

// Config is the global till config stored at ~/.config/till/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/till/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
}

const (
	defaultServerURL     = "http://localhost:8080"
	defaultRetryAttempts = 3
	defaultRetryDelay    = 5 * time.Second
	defaultProbeInterval = 15 * time.Second
	defaultSyncInterval  = time.Minute
	defaultTimeout       = 10 * time.Second
)

// ConfigDir returns ~/.config/till, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "till")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config. A missing file yields an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads stored credentials, nil if none.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse auth.json: %w", err)
	}
	return &creds, nil
}

// SaveAuth writes credentials with 0600 permissions.
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes auth.json.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: TILL_SYNC_URL env > config.json > auth.json > default.
func GetServerURL() string {
	if v := os.Getenv("TILL_SYNC_URL"); v != "" {
		return v
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: TILL_AUTH_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("TILL_AUTH_KEY"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// GetUserID returns the signed-in user id used to attribute sales.
// Priority: TILL_USER_ID env > auth.json.
func GetUserID() string {
	if v := os.Getenv("TILL_USER_ID"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.UserID
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetRetryAttempts returns delivery attempts per transaction per pass.
// Priority: TILL_SYNC_RETRY_ATTEMPTS env > config.json sync.retry.attempts > 3
func GetRetryAttempts() int {
	if v := os.Getenv("TILL_SYNC_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.Retry.Attempts != nil && *cfg.Sync.Retry.Attempts > 0 {
		return *cfg.Sync.Retry.Attempts
	}
	return defaultRetryAttempts
}

// GetRetryDelay returns the fixed wait between delivery attempts.
// Priority: TILL_SYNC_RETRY_DELAY env > config.json sync.retry.delay > 5s
func GetRetryDelay() time.Duration {
	return durationSetting("TILL_SYNC_RETRY_DELAY", func(c *Config) string { return c.Sync.Retry.Delay }, defaultRetryDelay)
}

// GetProbeInterval returns how often watch probes connectivity.
// Priority: TILL_SYNC_PROBE_INTERVAL env > config.json sync.probe_interval > 15s
func GetProbeInterval() time.Duration {
	return durationSetting("TILL_SYNC_PROBE_INTERVAL", func(c *Config) string { return c.Sync.ProbeInterval }, defaultProbeInterval)
}

// GetSyncInterval returns how often watch reconciles while online.
// Priority: TILL_SYNC_INTERVAL env > config.json sync.interval > 1m
func GetSyncInterval() time.Duration {
	return durationSetting("TILL_SYNC_INTERVAL", func(c *Config) string { return c.Sync.Interval }, defaultSyncInterval)
}

// GetTimeout returns the per-request HTTP timeout.
// Priority: TILL_SYNC_TIMEOUT env > config.json sync.timeout > 10s
func GetTimeout() time.Duration {
	return durationSetting("TILL_SYNC_TIMEOUT", func(c *Config) string { return c.Sync.Timeout }, defaultTimeout)
}

// durationSetting resolves env > config > default. Unparseable or
// non-positive values fall through to the next source.
func durationSetting(envKey string, fromConfig func(*Config) string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if cfg, err := LoadConfig(); err == nil {
		if v := fromConfig(cfg); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return d
			}
		}
	}
	return def
}
