package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcus/till/internal/dateparse"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/sync"
	"github.com/spf13/cobra"
)

var txCmd = &cobra.Command{
	Use:     "tx",
	Aliases: []string{"transactions"},
	Short:   "Inspect recorded sales",
	GroupID: "sales",
}

// txView is a sale with its delivery state, as printed by --json
type txView struct {
	*models.Transaction
	SyncStatus models.SyncStatus       `json:"sync_status"`
	Failure    *models.DeliveryFailure `json:"last_failure,omitempty"`
}

// describeTransaction loads a sale and its sync status from the local store.
func describeTransaction(database *db.DB, engine *sync.Engine, id string) (*txView, error) {
	tx, err := database.GetTransaction(id)
	if err != nil {
		return nil, err
	}
	status, err := engine.TransactionStatus(id)
	if err != nil {
		return nil, err
	}
	v := &txView{Transaction: tx, SyncStatus: status}
	if status != models.SyncSynced {
		f, err := database.GetDeliveryFailure(id)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
		v.Failure = f
	}
	return v, nil
}

var txShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a sale as a receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		database, err := openLocal()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()
		engine := sync.NewEngine(database, nil)
		defer engine.Close()

		v, err := describeTransaction(database, engine, args[0])
		if errors.Is(err, db.ErrNotFound) {
			if jsonOut {
				output.JSONError(output.ErrCodeNotFound, "transaction not found: "+args[0])
			} else {
				output.Error("transaction not found: %s", args[0])
			}
			return err
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(v)
		}
		fmt.Print(output.FormatTransactionLong(v.Transaction, v.SyncStatus, v.Failure))
		return nil
	},
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sales, newest first",
	Example: `  till tx list --limit 5
  till tx list --since today
  till tx list --since 7d --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOut, _ := cmd.Flags().GetBool("json")
		sinceStr, _ := cmd.Flags().GetString("since")

		var since time.Time
		if sinceStr != "" {
			var err error
			if since, err = dateparse.ParseSince(sinceStr); err != nil {
				output.Error("%v", err)
				return err
			}
		}

		database, err := openLocal()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()
		engine := sync.NewEngine(database, nil)
		defer engine.Close()

		txs, err := recentSince(database, since, limit)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		return printTransactions(database, engine, txs, jsonOut, "No sales recorded")
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	Short:   "List sales not yet confirmed by the server",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		database, err := openLocal()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()
		engine := sync.NewEngine(database, nil)
		defer engine.Close()

		ids, err := engine.PendingTransactionIDs()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		txs := make([]models.Transaction, 0, len(ids))
		for _, id := range ids {
			tx, err := database.GetTransaction(id)
			if errors.Is(err, db.ErrNotFound) {
				output.Warning("pending id %s has no local record", id)
				continue
			}
			if err != nil {
				output.Error("%v", err)
				return err
			}
			txs = append(txs, *tx)
		}
		return printTransactions(database, engine, txs, jsonOut, "Nothing pending")
	},
}

// recentSince returns sales dated at or after since, newest first. A zero
// since means no lower bound.
func recentSince(database *db.DB, since time.Time, limit int) ([]models.Transaction, error) {
	if since.IsZero() {
		return database.RecentTransactions(limit)
	}
	all, err := database.RecentTransactions(0)
	if err != nil {
		return nil, err
	}
	var txs []models.Transaction
	for _, tx := range all {
		if tx.Date.Before(since) {
			continue
		}
		txs = append(txs, tx)
		if limit > 0 && len(txs) == limit {
			break
		}
	}
	return txs, nil
}

func printTransactions(database *db.DB, engine *sync.Engine, txs []models.Transaction, jsonOut bool, empty string) error {
	views := make([]*txView, 0, len(txs))
	for i := range txs {
		v, err := describeTransaction(database, engine, txs[i].ID)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		views = append(views, v)
	}
	if jsonOut {
		return output.JSON(views)
	}
	if len(views) == 0 {
		fmt.Println(empty)
		return nil
	}
	for _, v := range views {
		fmt.Println(output.FormatTransactionShort(v.Transaction, v.SyncStatus))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(pendingCmd)
	txCmd.AddCommand(txShowCmd)
	txCmd.AddCommand(txListCmd)

	txShowCmd.Flags().Bool("json", false, "Output as JSON")
	txListCmd.Flags().Bool("json", false, "Output as JSON")
	txListCmd.Flags().Int("limit", 20, "Max sales to show")
	txListCmd.Flags().String("since", "", "Only sales since a date (2026-03-01, today, yesterday, 7d, 2h, monday)")
	pendingCmd.Flags().Bool("json", false, "Output as JSON")
}
