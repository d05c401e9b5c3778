package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/sync"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile with the sync server",
	Long: `Refreshes the product catalog and delivers pending sales.

With no flags a full pass runs: catalog refresh, then every pending sale in
the order it was recorded. A sale that fails is retried a fixed number of
times and then left pending for the next pass.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusOnly, _ := cmd.Flags().GetBool("status")
		history, _ := cmd.Flags().GetBool("history")
		productsOnly, _ := cmd.Flags().GetBool("products")
		txOnly, _ := cmd.Flags().GetBool("transactions")

		switch {
		case statusOnly:
			return runSyncStatus()
		case history:
			limit, _ := cmd.Flags().GetInt("limit")
			return runSyncHistory(limit)
		case productsOnly && txOnly:
			return fmt.Errorf("--products and --transactions are mutually exclusive")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout())
		defer cancel()

		t, err := openTerminal(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer t.close()

		var res sync.ReconcileResult
		switch {
		case productsOnly:
			res, err = t.engine.RefreshProducts(ctx)
		case txOnly:
			res, err = t.engine.DrainPending(ctx)
		default:
			res, err = t.engine.Reconcile(ctx)
		}
		if err != nil {
			output.Error("sync: %v", err)
			return err
		}

		printReconcileResult(res, !txOnly)
		return nil
	},
}

func printReconcileResult(res sync.ReconcileResult, refreshed bool) {
	if res.Skipped {
		output.Warning("sync skipped: %s", res.SkipReason)
		if len(res.Pending) > 0 {
			fmt.Printf("%d sales pending\n", len(res.Pending))
		}
		return
	}

	if refreshed {
		if res.CatalogErr != nil {
			output.Warning("catalog refresh failed, keeping cached catalog: %v", res.CatalogErr)
		} else {
			fmt.Printf("Catalog: %d products\n", res.ProductsRefreshed)
		}
	}
	if len(res.Delivered) > 0 {
		output.Success("Delivered %d sales", len(res.Delivered))
	}
	if len(res.Exhausted) > 0 {
		output.Warning("%d sales failed after all retries: %s", len(res.Exhausted), shortIDs(res.Exhausted))
	}
	if len(res.Missing) > 0 {
		output.Warning("%d pending ids have no local record: %s", len(res.Missing), shortIDs(res.Missing))
	}
	if len(res.Pending) == 0 {
		fmt.Println("Nothing pending")
	} else {
		fmt.Printf("%d sales pending\n", len(res.Pending))
	}
}

func shortIDs(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = output.ShortID(id)
	}
	return strings.Join(out, ", ")
}

func runSyncStatus() error {
	database, err := openLocal()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	state, err := database.GetSyncState()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	products, err := database.CountProducts()
	if err != nil {
		output.Error("%v", err)
		return err
	}

	online := "offline"
	if state.OnlineHint {
		online = "online"
	}
	fmt.Printf("Last sync:  %s\n", output.FormatLastSync(state.LastSyncAt))
	fmt.Printf("Pending:    %d\n", len(state.PendingTransactionIDs))
	fmt.Printf("Catalog:    %d products\n", products)
	fmt.Printf("Last seen:  %s\n", online)
	return nil
}

func runSyncHistory(limit int) error {
	database, err := openLocal()
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer database.Close()

	entries, err := database.GetSyncHistoryTail(limit)
	if err != nil {
		output.Error("%v", err)
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No sync history")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-4s %-12s %-10s %s",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Direction, e.EntityType, e.Outcome, output.ShortID(e.EntityID))
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().Bool("products", false, "Only refresh the product catalog")
	syncCmd.Flags().Bool("transactions", false, "Only deliver pending sales")
	syncCmd.Flags().Bool("status", false, "Show pending count and last sync time")
	syncCmd.Flags().Bool("history", false, "Show recent delivery history")
	syncCmd.Flags().Int("limit", 20, "History entries to show")
}
