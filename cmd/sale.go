package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/marcus/till/internal/config"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/input"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/suggest"
	"github.com/marcus/till/internal/sync"
	"github.com/spf13/cobra"
)

// itemSpec is one --item argument
type itemSpec struct {
	ProductID string
	Quantity  int
}

// parseItemSpec parses "PRODUCT_ID[:QTY]". Quantity defaults to 1.
func parseItemSpec(s string) (itemSpec, error) {
	s = strings.TrimSpace(s)
	id, qtyStr, hasQty := strings.Cut(s, ":")
	id = strings.TrimSpace(id)
	if id == "" {
		return itemSpec{}, fmt.Errorf("invalid item %q: missing product id", s)
	}
	spec := itemSpec{ProductID: id, Quantity: 1}
	if hasQty {
		n, err := strconv.Atoi(strings.TrimSpace(qtyStr))
		if err != nil || n <= 0 {
			return itemSpec{}, fmt.Errorf("invalid item %q: quantity must be a positive integer", s)
		}
		spec.Quantity = n
	}
	return spec, nil
}

// productLookup resolves a product id. *db.DB satisfies it.
type productLookup interface {
	GetProduct(id string) (*models.Product, error)
	ListProducts() ([]models.Product, error)
}

// unknownProduct builds the error for an id missing from the cached catalog.
func unknownProduct(catalog productLookup, id string) error {
	var hint string
	if products, err := catalog.ListProducts(); err == nil {
		ids := make([]string, 0, len(products))
		for _, p := range products {
			ids = append(ids, p.ID)
		}
		hint = suggest.Hint(suggest.Closest(id, ids, 3))
	}
	return fmt.Errorf("unknown product %q%s (run 'till sync --products' to refresh the catalog)", id, hint)
}

// buildItems snapshots name and price from the cached catalog. Repeated
// products are merged into one line in first-seen order.
func buildItems(catalog productLookup, specs []itemSpec) ([]models.TransactionItem, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("a sale needs at least one item")
	}
	var items []models.TransactionItem
	index := make(map[string]int)
	for _, s := range specs {
		if i, ok := index[s.ProductID]; ok {
			items[i].Quantity += s.Quantity
			continue
		}
		p, err := catalog.GetProduct(s.ProductID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, unknownProduct(catalog, s.ProductID)
		}
		if err != nil {
			return nil, err
		}
		index[s.ProductID] = len(items)
		items = append(items, models.TransactionItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  s.Quantity,
		})
	}
	return items, nil
}

var saleCmd = &cobra.Command{
	Use:   "sale",
	Short: "Record a sale",
	Long: `Records a sale from the cached catalog. The sale is committed locally
first and pushed to the server when it is reachable; otherwise it stays
pending until the next sync.`,
	Example: `  till sale --item coffee:2 --item muffin
  till sale --item @order.txt     # one PRODUCT_ID[:QTY] per line
  scan | till sale --item -       # items from stdin
  till sale                       # pick items interactively`,
	GroupID: "sales",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringArray("item")
		jsonOut, _ := cmd.Flags().GetBool("json")

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout())
		defer cancel()

		t, err := openTerminal(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer t.close()

		var specs []itemSpec
		if len(raw) == 0 {
			if !output.IsTerminal() {
				return fmt.Errorf("no items given (use --item PRODUCT_ID:QTY)")
			}
			specs, err = pickItems(t.db)
			if err != nil {
				return err
			}
		}
		raw, err = input.ExpandFlagValues(raw, cmd.InOrStdin())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		for _, r := range raw {
			s, err := parseItemSpec(r)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			specs = append(specs, s)
		}

		items, err := buildItems(t.db, specs)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		rate, err := config.GetTaxRate(getBaseDir())
		if err != nil {
			output.Error("%v", err)
			return err
		}

		tx := sync.NewTransaction(items, rate, time.Now().UTC())
		perr := t.engine.PersistTransaction(ctx, tx)
		if perr != nil && !errors.Is(perr, sync.ErrNotSynced) {
			output.Error("sale not recorded: %v", perr)
			return perr
		}

		status := models.SyncSynced
		if perr != nil {
			status = models.SyncPending
		}
		if jsonOut {
			return output.JSON(struct {
				*models.Transaction
				SyncStatus models.SyncStatus `json:"sync_status"`
			}{tx, status})
		}

		fmt.Print(output.FormatTransactionLong(tx, status, nil))
		if perr != nil {
			output.Warning("saved locally, pending sync (%s)", notSyncedCause(perr))
		} else {
			output.Success("synced")
		}
		return nil
	},
}

// notSyncedCause returns the reason a sale was queued.
func notSyncedCause(err error) string {
	return strings.TrimPrefix(err.Error(), sync.ErrNotSynced.Error()+": ")
}

// pickItems shows a catalog picker and asks for a quantity per product.
func pickItems(catalog *db.DB) ([]itemSpec, error) {
	products, err := catalog.ListProducts()
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("catalog is empty (run 'till sync --products')")
	}

	options := make([]huh.Option[string], 0, len(products))
	for _, p := range products {
		label := fmt.Sprintf("%s  %s", p.Name, output.FormatMoney(p.Price))
		options = append(options, huh.NewOption(label, p.ID))
	}

	var selected []string
	if err := huh.NewForm(huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Items").
			Options(options...).
			Value(&selected).
			Validate(func(v []string) error {
				if len(v) == 0 {
					return fmt.Errorf("pick at least one item")
				}
				return nil
			}),
	)).Run(); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	qty := make([]string, len(selected))
	fields := make([]huh.Field, 0, len(selected)+1)
	for i, id := range selected {
		qty[i] = "1"
		fields = append(fields, huh.NewInput().
			Title("Quantity of "+names[id]).
			Value(&qty[i]).
			Validate(func(s string) error {
				n, err := strconv.Atoi(strings.TrimSpace(s))
				if err != nil || n <= 0 {
					return fmt.Errorf("enter a positive number")
				}
				return nil
			}))
	}
	confirm := true
	fields = append(fields, huh.NewConfirm().Title("Record sale?").Value(&confirm))
	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, err
	}
	if !confirm {
		return nil, fmt.Errorf("sale cancelled")
	}

	specs := make([]itemSpec, 0, len(selected))
	for i, id := range selected {
		n, _ := strconv.Atoi(strings.TrimSpace(qty[i]))
		specs = append(specs, itemSpec{ProductID: id, Quantity: n})
	}
	return specs, nil
}

func init() {
	rootCmd.AddCommand(saleCmd)
	saleCmd.Flags().StringArrayP("item", "i", nil, "Item as PRODUCT_ID[:QTY] (repeatable)")
	saleCmd.Flags().Bool("json", false, "Output the recorded sale as JSON")
}
