package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/marcus/till/internal/sync"
)

// EventTransactionExhausted is sent when a sale ran out of delivery attempts.
const EventTransactionExhausted = "transaction.exhausted"

// Payload is the top-level webhook POST body.
type Payload struct {
	Event     string             `json:"event"`
	Terminal  string             `json:"terminal,omitempty"`
	Timestamp string             `json:"timestamp"`
	Exhausted []ExhaustedPayload `json:"exhausted"`
}

// ExhaustedPayload describes one transaction that could not be delivered.
type ExhaustedPayload struct {
	TransactionID string `json:"transaction_id"`
	Attempts      int    `json:"attempts"`
	Kind          string `json:"kind"`
	Error         string `json:"error"`
	At            string `json:"at"`
}

// BuildPayload converts exhaustion records into a webhook payload.
func BuildPayload(terminal string, now time.Time, exs []sync.Exhaustion) Payload {
	p := Payload{
		Event:     EventTransactionExhausted,
		Terminal:  terminal,
		Timestamp: now.UTC().Format(time.RFC3339),
		Exhausted: make([]ExhaustedPayload, len(exs)),
	}
	for i, ex := range exs {
		msg := ""
		if ex.Err != nil {
			msg = ex.Err.Error()
		}
		p.Exhausted[i] = ExhaustedPayload{
			TransactionID: ex.TransactionID,
			Attempts:      ex.Attempts,
			Kind:          string(ex.Kind),
			Error:         msg,
			At:            ex.At.UTC().Format(time.RFC3339),
		}
	}
	return p
}

// Sign returns the hex HMAC-SHA256 of "timestamp.body".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Dispatch performs a synchronous HTTP POST to the webhook URL.
// Returns nil on success (2xx status).
func Dispatch(ctx context.Context, client *http.Client, url, secret string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "till-webhook/1")

	unixTS := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Till-Timestamp", unixTS)
	if secret != "" {
		req.Header.Set("X-Till-Signature", "sha256="+Sign(secret, unixTS, body))
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Notifier posts an alert for every exhausted transaction. A failed post is
// logged and dropped; alerts never affect the sync pass.
type Notifier struct {
	URL      string
	Secret   string
	Terminal string
	HTTP     *http.Client
	Log      *slog.Logger
}

// Handler adapts the notifier to the engine's exhaustion callback.
func (n *Notifier) Handler() sync.ExhaustedHandler {
	return func(ctx context.Context, ex sync.Exhaustion) {
		n.Notify(ctx, ex)
	}
}

// Notify posts one alert.
func (n *Notifier) Notify(ctx context.Context, exs ...sync.Exhaustion) error {
	if n == nil || n.URL == "" || len(exs) == 0 {
		return nil
	}
	err := Dispatch(ctx, n.HTTP, n.URL, n.Secret, BuildPayload(n.Terminal, time.Now(), exs))
	if err != nil && n.Log != nil {
		n.Log.Warn("webhook dispatch failed", "url", n.URL, "err", err)
	}
	return err
}
