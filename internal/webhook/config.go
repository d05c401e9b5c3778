// Package webhook handles alert webhook configuration and HTTP dispatch.
package webhook

import (
	"log/slog"
	"os"

	"github.com/marcus/till/internal/config"
)

// GetURL returns the webhook URL for the terminal.
// Priority: TILL_WEBHOOK_URL env > config.json webhook.url.
func GetURL(baseDir string) string {
	if v := os.Getenv("TILL_WEBHOOK_URL"); v != "" {
		return v
	}
	cfg, err := config.Load(baseDir)
	if err != nil {
		return ""
	}
	if cfg.Webhook != nil {
		return cfg.Webhook.URL
	}
	return ""
}

// GetSecret returns the webhook HMAC secret.
// Priority: TILL_WEBHOOK_SECRET env > config.json webhook.secret.
func GetSecret(baseDir string) string {
	if v := os.Getenv("TILL_WEBHOOK_SECRET"); v != "" {
		return v
	}
	cfg, err := config.Load(baseDir)
	if err != nil {
		return ""
	}
	if cfg.Webhook != nil {
		return cfg.Webhook.Secret
	}
	return ""
}

// IsEnabled returns true if a webhook URL is configured.
func IsEnabled(baseDir string) bool {
	return GetURL(baseDir) != ""
}

// NewNotifier builds a notifier from the terminal config, nil when disabled.
func NewNotifier(baseDir string, log *slog.Logger) *Notifier {
	url := GetURL(baseDir)
	if url == "" {
		return nil
	}
	n := &Notifier{URL: url, Secret: GetSecret(baseDir), Log: log}
	if cfg, err := config.Load(baseDir); err == nil {
		n.Terminal = cfg.TerminalName
	}
	return n
}
