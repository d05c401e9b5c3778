package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/till/internal/models"
	"github.com/shopspring/decimal"
)

const configFile = ".till/config.json"
const lockFile = ".till/config.json.lock"

// Load reads the terminal config. A missing file yields an empty config.
func Load(baseDir string) (*models.Config, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &models.Config{}, nil
		}
		return nil, err
	}

	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configFile, err)
	}
	return &cfg, nil
}

// Save writes the config to disk using atomic write (temp file + rename)
func Save(baseDir string, cfg *models.Config) error {
	configPath := filepath.Join(baseDir, configFile)
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "config-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, configPath)
}

// Update applies fn to the stored config under the config lock
func Update(baseDir string, fn func(cfg *models.Config) error) error {
	return withConfigLock(baseDir, func() error {
		cfg, err := Load(baseDir)
		if err != nil {
			return err
		}
		if err := fn(cfg); err != nil {
			return err
		}
		return Save(baseDir, cfg)
	})
}

// withConfigLock serializes read-modify-write cycles on config.json
func withConfigLock(baseDir string, fn func() error) error {
	lockPath := filepath.Join(baseDir, lockFile)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := lockFileExclusive(f); err != nil {
		return err
	}
	defer unlockFile(f)

	return fn()
}

// ParseTaxRate validates a tax rate given as a fraction, e.g. "0.05"
func ParseTaxRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		d, err := decimal.NewFromString(strings.TrimSuffix(s, "%"))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid tax rate %q", s)
		}
		s = d.Div(decimal.NewFromInt(100)).String()
	}
	rate, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid tax rate %q", s)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("tax rate %s out of range [0, 1)", rate)
	}
	return rate, nil
}

// GetTaxRate returns the terminal tax rate, zero when unset
func GetTaxRate(baseDir string) (decimal.Decimal, error) {
	cfg, err := Load(baseDir)
	if err != nil {
		return decimal.Zero, err
	}
	if cfg.TaxRate == "" {
		return decimal.Zero, nil
	}
	return ParseTaxRate(cfg.TaxRate)
}

// SetTaxRate stores the terminal tax rate
func SetTaxRate(baseDir, rate string) error {
	r, err := ParseTaxRate(rate)
	if err != nil {
		return err
	}
	return Update(baseDir, func(cfg *models.Config) error {
		cfg.TaxRate = r.String()
		return nil
	})
}

// SetTerminalName stores the display name of this terminal
func SetTerminalName(baseDir, name string) error {
	return Update(baseDir, func(cfg *models.Config) error {
		cfg.TerminalName = name
		return nil
	})
}

// GetWebhookConfig returns the alert webhook settings, nil when no URL is set
func GetWebhookConfig(baseDir string) (*models.WebhookConfig, error) {
	cfg, err := Load(baseDir)
	if err != nil {
		return nil, err
	}
	if cfg.Webhook == nil || cfg.Webhook.URL == "" {
		return nil, nil
	}
	return cfg.Webhook, nil
}

// SetWebhookURL stores the alert webhook URL. An empty URL disables alerts.
func SetWebhookURL(baseDir, url string) error {
	return Update(baseDir, func(cfg *models.Config) error {
		if cfg.Webhook == nil {
			cfg.Webhook = &models.WebhookConfig{}
		}
		cfg.Webhook.URL = url
		return nil
	})
}

// SetWebhookSecret stores the HMAC secret used to sign alerts
func SetWebhookSecret(baseDir, secret string) error {
	return Update(baseDir, func(cfg *models.Config) error {
		if cfg.Webhook == nil {
			cfg.Webhook = &models.WebhookConfig{}
		}
		cfg.Webhook.Secret = secret
		return nil
	})
}
