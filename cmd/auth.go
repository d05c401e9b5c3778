package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/syncclient"
	"github.com/marcus/till/internal/syncconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Manage sync authentication",
	GroupID: "sync",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the sync server with an API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		if serverURL == "" {
			serverURL = syncconfig.GetServerURL()
		}

		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			var err error
			key, err = readAPIKey()
			if err != nil {
				return err
			}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("API key required")
		}

		client := syncclient.New(serverURL, key, "")
		client.HTTP.Timeout = syncconfig.GetTimeout()
		ctx, cancel := context.WithTimeout(cmd.Context(), syncconfig.GetTimeout())
		defer cancel()

		me, err := client.Me(ctx)
		if err != nil {
			output.Error("verify key: %v", err)
			return err
		}

		if err := syncconfig.SaveAuth(&syncconfig.AuthCredentials{
			APIKey:    key,
			UserID:    me.UserID,
			Email:     me.Email,
			ServerURL: serverURL,
		}); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		output.Success("Logged in as %s", me.Email)
		return nil
	},
}

// readAPIKey prompts without echo on a terminal and reads a line otherwise.
func readAPIKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read key: %w", err)
	}
	return line, nil
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("clear credentials: %v", err)
			return err
		}
		output.Success("Logged out")
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Error("load credentials: %v", err)
			return err
		}
		if creds == nil || creds.APIKey == "" {
			fmt.Println("Not logged in")
			return nil
		}

		fmt.Printf("Logged in as %s\n", creds.Email)
		fmt.Printf("  Server: %s\n", creds.ServerURL)
		fmt.Printf("  User:   %s\n", creds.UserID)
		fmt.Printf("  Key:    %s\n", maskKey(creds.APIKey))
		return nil
	},
}

func maskKey(key string) string {
	if len(key) <= 14 {
		return "****"
	}
	return key[:14] + "..."
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)

	authLoginCmd.Flags().String("key", "", "API key (prompted when omitted)")
	authLoginCmd.Flags().String("server", "", "Sync server URL (default: TILL_SYNC_URL or config)")
}
