package cmd

import (
	"bytes"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/marcus/till/internal/api"
	"github.com/marcus/till/internal/serverdb"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		io.Copy(&buf, r)
		done <- buf.String()
	}()

	defer func() {
		w.Close()
		os.Stdout = old
	}()
	fn()
	w.Close()
	os.Stdout = old
	return <-done
}

// resetFlags clears flag values left over from a previous Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// runTill executes the CLI with args and returns its stdout.
func runTill(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetArgs(args)
	var err error
	out := captureStdout(t, func() {
		err = rootCmd.Execute()
	})
	return out, err
}

// setupTerminal points the CLI at a fresh terminal directory and home.
func setupTerminal(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", filepath.Join(dir, "home"))
	t.Setenv("TILL_DIR", filepath.Join(dir, "terminal"))
	t.Setenv("TILL_SYNC_RETRY_DELAY", "1ms")
	t.Setenv("TILL_SYNC_TIMEOUT", "2s")
	t.Setenv("TILL_AUTH_KEY", "")
	t.Setenv("TILL_USER_ID", "")
	t.Setenv("TILL_WEBHOOK_URL", "")
	if err := os.MkdirAll(filepath.Join(dir, "terminal"), 0755); err != nil {
		t.Fatal(err)
	}
	return filepath.Join(dir, "terminal")
}

type testServer struct {
	Store  *serverdb.ServerDB
	Server *api.Server
	HTTP   *httptest.Server
	UserID string
	APIKey string
}

// startServer runs a sync server with one user and key. The store outlives
// the listener so a test can stop and restart the network side.
func startServer(t *testing.T) *testServer {
	t.Helper()
	store, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser("cashier@shop.test")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	key, _, err := store.GenerateAPIKey(user.ID, "till", nil)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	ts := &testServer{Store: store, UserID: user.ID, APIKey: key}
	ts.listen(t)
	return ts
}

func (ts *testServer) listen(t *testing.T) {
	t.Helper()
	srv, err := api.NewServer(api.Config{RateLimitRead: 100000, RateLimitWrite: 100000}, ts.Store, nil)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	ts.Server = srv
	ts.HTTP = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.HTTP.Close)
	t.Setenv("TILL_SYNC_URL", ts.HTTP.URL)
}

func (ts *testServer) stop() {
	ts.HTTP.Close()
}
