package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/output"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize a terminal in the current directory",
	Long:    `Creates .till/ with the local store. Running it again is safe.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := getBaseDir()
		existed := db.Exists(dir)

		database, err := db.Initialize(dir)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		if name, _ := cmd.Flags().GetString("name"); name != "" {
			if err := config.SetTerminalName(dir, name); err != nil {
				output.Error("save terminal name: %v", err)
				return err
			}
		}
		if rate, _ := cmd.Flags().GetString("tax-rate"); rate != "" {
			if err := config.SetTaxRate(dir, rate); err != nil {
				output.Error("%v", err)
				return err
			}
		}

		if existed {
			fmt.Printf("Terminal already initialized in %s\n", filepath.Join(dir, ".till"))
			return nil
		}
		output.Success("Initialized terminal in %s", filepath.Join(dir, ".till"))
		fmt.Println("Next: till auth login, then till sync --products")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("name", "", "Terminal name reported in alerts")
	initCmd.Flags().String("tax-rate", "", "Tax rate applied to sales (e.g. 0.08 or 8%)")
}
