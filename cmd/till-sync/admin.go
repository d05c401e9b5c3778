package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marcus/till/internal/api"
	"github.com/marcus/till/internal/serverdb"
	"github.com/spf13/pflag"
)

var errUsage = errors.New("usage")

func runAdmin(args []string, out io.Writer) error {
	if len(args) == 0 {
		printAdminUsage()
		return errUsage
	}

	switch args[0] {
	case "create-user":
		return runAdminCreateUser(args[1:], out)
	case "create-key":
		return runAdminCreateKey(args[1:], out)
	case "import-products":
		return runAdminImportProducts(args[1:], out)
	case "list-users":
		return runAdminListUsers(args[1:], out)
	default:
		printAdminUsage()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminUsage() {
	fmt.Fprintln(os.Stderr, `Usage: till-sync admin <command> [flags]

Commands:
  create-user      Register a user by email
  create-key       Create an API key for a user
  import-products  Upsert catalog entries from a JSON file
  list-users       List registered users`)
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	dbPath := fs.String("db", "", "path to the server database (default: TILL_SYNC_DB_PATH or ./data/till-sync.db)")
	return fs, dbPath
}

func openDB(dbPath string) (*serverdb.ServerDB, error) {
	if dbPath == "" {
		dbPath = api.LoadConfig().DBPath
	}
	store, err := serverdb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func runAdminCreateUser(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin create-user")
	email := fs.String("email", "", "user email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	u, err := store.CreateUser(*email)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created user %s (%s)\n", u.Email, u.ID)
	return nil
}

func runAdminCreateKey(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin create-key")
	email := fs.String("email", "", "user email address")
	name := fs.String("name", "terminal", "key name")
	expires := fs.Duration("expires", 0, "key lifetime (0 = never expires)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, err := store.GetUserByEmail(*email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user not found: %s", strings.ToLower(strings.TrimSpace(*email)))
	}

	var expiresAt *time.Time
	if *expires > 0 {
		t := time.Now().UTC().Add(*expires)
		expiresAt = &t
	}

	plaintext, ak, err := store.GenerateAPIKey(user.ID, *name, expiresAt)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "key id:  %s\n", ak.ID)
	fmt.Fprintf(out, "user id: %s\n", user.ID)
	fmt.Fprintf(out, "api key: %s\n", plaintext)
	fmt.Fprintln(out, "store this key now; it cannot be shown again")
	return nil
}

func runAdminImportProducts(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin import-products")
	file := fs.String("file", "", "JSON file with an array of products (or {\"products\": [...]})")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read products: %w", err)
	}
	products, err := parseProducts(data)
	if err != nil {
		return err
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ImportProducts(products)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d products\n", n)
	return nil
}

func parseProducts(data []byte) ([]serverdb.Product, error) {
	var list []serverdb.Product
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Products []serverdb.Product `json:"products"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse products: %w", err)
	}
	return wrapped.Products, nil
}

func runAdminListUsers(args []string, out io.Writer) error {
	fs, dbPath := newFlagSet("admin list-users")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openDB(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Fprintf(out, "%s  %s  %s\n", u.ID, u.Email, u.CreatedAt.Format(time.RFC3339))
	}
	return nil
}
