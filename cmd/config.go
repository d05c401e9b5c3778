package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/suggest"
	"github.com/marcus/till/internal/syncconfig"
	"github.com/marcus/till/internal/webhook"
	"github.com/spf13/cobra"
)

var configSetters = map[string]func(baseDir, value string) error{
	"tax-rate":       config.SetTaxRate,
	"terminal-name":  config.SetTerminalName,
	"webhook-url":    config.SetWebhookURL,
	"webhook-secret": config.SetWebhookSecret,
}

func configKeys() []string {
	keys := make([]string, 0, len(configSetters))
	for k := range configSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Show or change terminal settings",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a terminal setting",
	Long: `Sets a value in .till/config.json. Keys: ` + strings.Join(configKeys(), ", ") + `.

An empty value clears webhook-url and webhook-secret.`,
	Example: `  till config set tax-rate 0.08
  till config set tax-rate 8%
  till config set webhook-url https://alerts.example.com/till`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		set, ok := configSetters[key]
		if !ok {
			hint := suggest.Hint(suggest.Closest(key, configKeys(), 1))
			err := fmt.Errorf("unknown key %q%s (valid: %s)", key, hint, strings.Join(configKeys(), ", "))
			output.Error("%v", err)
			return err
		}
		if err := set(getBaseDir(), value); err != nil {
			output.Error("%v", err)
			return err
		}
		if key == "webhook-secret" {
			output.Success("Set %s", key)
		} else {
			output.Success("Set %s = %s", key, value)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		dir := getBaseDir()

		cfg, err := config.Load(dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		rate, err := config.GetTaxRate(dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		settings := struct {
			TerminalName  string `json:"terminal_name"`
			TaxRate       string `json:"tax_rate"`
			WebhookURL    string `json:"webhook_url"`
			WebhookSecret bool   `json:"webhook_secret_set"`
			ServerURL     string `json:"server_url"`
			RetryAttempts int    `json:"retry_attempts"`
			RetryDelay    string `json:"retry_delay"`
			ProbeInterval string `json:"probe_interval"`
			SyncInterval  string `json:"sync_interval"`
			Timeout       string `json:"timeout"`
		}{
			TerminalName:  cfg.TerminalName,
			TaxRate:       rate.String(),
			WebhookURL:    webhook.GetURL(dir),
			WebhookSecret: webhook.GetSecret(dir) != "",
			ServerURL:     syncconfig.GetServerURL(),
			RetryAttempts: syncconfig.GetRetryAttempts(),
			RetryDelay:    syncconfig.GetRetryDelay().String(),
			ProbeInterval: syncconfig.GetProbeInterval().String(),
			SyncInterval:  syncconfig.GetSyncInterval().String(),
			Timeout:       syncconfig.GetTimeout().String(),
		}
		if jsonOut {
			return output.JSON(settings)
		}

		name := settings.TerminalName
		if name == "" {
			name = "(unnamed)"
		}
		hook := settings.WebhookURL
		if hook == "" {
			hook = "(disabled)"
		}
		fmt.Printf("Terminal:       %s\n", name)
		fmt.Printf("Tax rate:       %s\n", settings.TaxRate)
		fmt.Printf("Webhook:        %s\n", hook)
		if settings.WebhookSecret {
			fmt.Println("Webhook secret: set")
		}
		fmt.Print(output.SectionHeader("sync"))
		fmt.Printf("Server:         %s\n", settings.ServerURL)
		fmt.Printf("Retry:          %d attempts, %s apart\n", settings.RetryAttempts, settings.RetryDelay)
		fmt.Printf("Probe interval: %s\n", settings.ProbeInterval)
		fmt.Printf("Sync interval:  %s\n", settings.SyncInterval)
		fmt.Printf("Timeout:        %s\n", settings.Timeout)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().Bool("json", false, "Output as JSON")
}
