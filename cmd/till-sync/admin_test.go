package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/till/internal/serverdb"
)

func TestAdminCreateUserAndKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "server.db")
	var out bytes.Buffer

	if err := runAdmin([]string{"create-user", "--db", dbPath, "--email", "Cashier@Shop.test"}, &out); err != nil {
		t.Fatalf("create-user: %v", err)
	}
	if !strings.Contains(out.String(), "cashier@shop.test") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := runAdmin([]string{"create-key", "--db", dbPath, "--email", "cashier@shop.test", "--name", "till 1"}, &out); err != nil {
		t.Fatalf("create-key: %v", err)
	}
	var key string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "api key: ") {
			key = strings.TrimPrefix(line, "api key: ")
		}
	}
	if key == "" {
		t.Fatalf("no key in output %q", out.String())
	}

	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ak, u, err := store.VerifyAPIKey(key)
	if err != nil || ak == nil || u.Email != "cashier@shop.test" || ak.Name != "till 1" {
		t.Fatalf("VerifyAPIKey = %+v %+v %v", ak, u, err)
	}
}

func TestAdminCreateKeyUnknownUser(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "server.db")
	err := runAdmin([]string{"create-key", "--db", dbPath, "--email", "ghost@shop.test"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "user not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestAdminImportProducts(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "server.db")
	file := filepath.Join(dir, "products.json")
	data := `{"products": [
		{"id": "p1", "name": "Coffee", "price": "2.99", "stock": 10},
		{"id": "p2", "name": "Tea", "price": "1.50", "stock": 5, "category": "drinks"}
	]}`
	if err := os.WriteFile(file, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runAdmin([]string{"import-products", "--db", dbPath, "--file", file}, &out); err != nil {
		t.Fatalf("import-products: %v", err)
	}
	if !strings.Contains(out.String(), "imported 2 products") {
		t.Errorf("output = %q", out.String())
	}

	store, _ := serverdb.Open(dbPath)
	defer store.Close()
	p, err := store.GetProduct("p2")
	if err != nil || p.Category != "drinks" || p.Price.String() != "1.5" {
		t.Fatalf("p2 = %+v, %v", p, err)
	}
}

func TestParseProductsBareArray(t *testing.T) {
	got, err := parseProducts([]byte(`[{"id":"a","name":"A","price":"1"}]`))
	if err != nil || len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("parseProducts = %+v, %v", got, err)
	}
}

func TestAdminUnknownCommand(t *testing.T) {
	if err := runAdmin([]string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAdminRequiresEmail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "server.db")
	if err := runAdmin([]string{"create-user", "--db", dbPath}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error")
	}
}
