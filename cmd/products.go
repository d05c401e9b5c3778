package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/output"
	"github.com/spf13/cobra"
)

var productsCmd = &cobra.Command{
	Use:     "products",
	Aliases: []string{"catalog"},
	Short:   "List the cached product catalog",
	GroupID: "sales",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		database, err := openLocal()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		products, err := database.ListProducts()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(products)
		}
		if len(products) == 0 {
			fmt.Println("Catalog is empty (run 'till sync --products')")
			return nil
		}
		for i := range products {
			fmt.Println(output.FormatProductShort(&products[i]))
		}
		return nil
	},
}

var productsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		database, err := openLocal()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer database.Close()

		p, err := database.GetProduct(args[0])
		if errors.Is(err, db.ErrNotFound) {
			if jsonOut {
				output.JSONError(output.ErrCodeNotFound, "product not found: "+args[0])
			} else {
				output.Error("product not found: %s", args[0])
			}
			return err
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(p)
		}

		fmt.Println(output.FormatProductShort(p))
		if p.Category != "" {
			fmt.Printf("Category: %s\n", p.Category)
		}
		if p.ImageRef != "" {
			fmt.Printf("Image:    %s\n", p.ImageRef)
		}
		if !p.UpdatedAt.IsZero() {
			fmt.Printf("Updated:  %s\n", output.FormatTimeAgo(p.UpdatedAt))
		}
		if p.Description != "" {
			rendered, err := output.RenderMarkdown(p.Description)
			if err != nil {
				rendered = p.Description
			}
			fmt.Print(output.SectionHeader("description"))
			fmt.Println(rendered)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(productsCmd)
	productsCmd.AddCommand(productsShowCmd)
	productsCmd.Flags().Bool("json", false, "Output as JSON")
	productsShowCmd.Flags().Bool("json", false, "Output as JSON")
}
