// Package syncharness runs several terminals against one sync server over a
// controllable network, and checks that every sale recorded anywhere ends up
// on the server exactly once.
package syncharness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	gosync "sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/till/internal/api"
	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/serverdb"
	"github.com/marcus/till/internal/sync"
	"github.com/marcus/till/internal/syncclient"
	"github.com/shopspring/decimal"
)

// ErrNetworkDown is returned by a terminal's transport while it is offline.
var ErrNetworkDown = errors.New("network down")

// NetMode is the state of one terminal's link to the server.
type NetMode int

const (
	NetUp       NetMode = iota
	NetDown             // requests fail before reaching the server
	NetLoseAcks         // requests reach the server, responses are lost
)

// netSwitch is an http.RoundTripper whose behaviour can be flipped at runtime.
type netSwitch struct {
	mu   gosync.Mutex
	mode NetMode
	next http.RoundTripper
}

func (n *netSwitch) set(m NetMode) {
	n.mu.Lock()
	n.mode = m
	n.mu.Unlock()
}

func (n *netSwitch) get() NetMode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.mode
}

func (n *netSwitch) RoundTrip(req *http.Request) (*http.Response, error) {
	switch n.get() {
	case NetDown:
		return nil, ErrNetworkDown
	case NetLoseAcks:
		// health checks still answer so the terminal believes it is online
		if req.URL.Path == "/healthz" {
			break
		}
		resp, err := n.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("connection reset after %s %s", req.Method, req.URL.Path)
	}
	return n.next.RoundTrip(req)
}

// Terminal is one simulated till with its own local store.
type Terminal struct {
	Name    string
	UserID  string
	DB      *db.DB
	Client  *syncclient.Client
	Monitor *connectivity.Monitor
	Engine  *sync.Engine

	net *netSwitch
}

// Harness owns the server and the terminals.
type Harness struct {
	t          *testing.T
	Store      *serverdb.ServerDB
	ServerPath string
	Server     *api.Server
	URL        string
	Terminals  map[string]*Terminal
	Exhausted  []sync.Exhaustion

	httpSrv *httptest.Server
	mu      gosync.Mutex
}

// NewHarness starts a sync server on a real listener backed by a file store.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.db")
	store, err := serverdb.Open(path)
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}

	srv, err := api.NewServer(api.Config{RateLimitRead: 100000, RateLimitWrite: 100000}, store, quietLogger())
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	httpSrv := httptest.NewServer(srv.Handler())

	h := &Harness{
		t:          t,
		Store:      store,
		ServerPath: path,
		Server:     srv,
		URL:        httpSrv.URL,
		Terminals:  make(map[string]*Terminal),
		httpSrv:    httpSrv,
	}
	t.Cleanup(h.close)
	return h
}

func (h *Harness) close() {
	h.httpSrv.Close()
	h.Store.Close()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedCatalog replaces the server catalog.
func (h *Harness) SeedCatalog(products ...serverdb.Product) {
	h.t.Helper()
	if _, err := h.Store.ImportProducts(products); err != nil {
		h.t.Fatalf("seed catalog: %v", err)
	}
}

// AddTerminal creates a user, an API key and a terminal signed in with it.
// The terminal starts online with retries that do not sleep.
func (h *Harness) AddTerminal(name string) *Terminal {
	h.t.Helper()
	user, err := h.Store.CreateUser(name + "@shop.test")
	if err != nil {
		h.t.Fatalf("create user %s: %v", name, err)
	}
	key, _, err := h.Store.GenerateAPIKey(user.ID, name, nil)
	if err != nil {
		h.t.Fatalf("create key %s: %v", name, err)
	}

	local, err := db.Initialize(h.t.TempDir())
	if err != nil {
		h.t.Fatalf("init local store %s: %v", name, err)
	}

	sw := &netSwitch{next: http.DefaultTransport}
	client := syncclient.New(h.URL, key, user.ID)
	client.HTTP = &http.Client{Transport: sw, Timeout: 5 * time.Second}

	mon := connectivity.New(client.Probe, connectivity.WithLogger(quietLogger()))
	mon.Check(context.Background())

	term := &Terminal{Name: name, UserID: user.ID, DB: local, Client: client, Monitor: mon, net: sw}
	term.Engine = sync.NewEngine(local, client,
		sync.WithMonitor(mon),
		sync.WithRetry(3, 0),
		sync.WithLogger(quietLogger()),
		sync.WithExhaustedHandler(func(ctx context.Context, ex sync.Exhaustion) {
			h.mu.Lock()
			h.Exhausted = append(h.Exhausted, ex)
			h.mu.Unlock()
		}),
	)
	h.t.Cleanup(func() {
		term.Engine.Close()
		term.DB.Close()
	})
	h.Terminals[name] = term
	return term
}

// SetNet changes a terminal's link and reports the observation to its
// monitor, which starts a pass on reconnect.
func (h *Harness) SetNet(name string, mode NetMode) {
	term := h.terminal(name)
	term.net.set(mode)
	term.Monitor.Check(context.Background())
}

func (h *Harness) terminal(name string) *Terminal {
	h.t.Helper()
	term, ok := h.Terminals[name]
	if !ok {
		h.t.Fatalf("unknown terminal %q", name)
	}
	return term
}

// Sell records a sale of qty units of each product on a terminal, using
// its cached catalog. It returns the transaction and the persist error.
func (h *Harness) Sell(name string, lines map[string]int) (*models.Transaction, error) {
	h.t.Helper()
	term := h.terminal(name)

	ids := make([]string, 0, len(lines))
	for id := range lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]models.TransactionItem, 0, len(ids))
	for _, id := range ids {
		p, err := term.DB.GetProduct(id)
		if err != nil {
			h.t.Fatalf("%s: product %s: %v", name, id, err)
		}
		items = append(items, models.TransactionItem{ProductID: p.ID, Name: p.Name, UnitPrice: p.Price, Quantity: lines[id]})
	}
	tx := sync.NewTransaction(items, decimal.RequireFromString("0.05"), time.Now().UTC())
	err := term.Engine.PersistTransaction(context.Background(), tx)
	if err != nil && !errors.Is(err, sync.ErrNotSynced) {
		h.t.Fatalf("%s: persist: %v", name, err)
	}
	return tx, err
}

// Reconcile runs a full pass on one terminal.
func (h *Harness) Reconcile(name string) sync.ReconcileResult {
	h.t.Helper()
	res, err := h.terminal(name).Engine.Reconcile(context.Background())
	if err != nil {
		h.t.Fatalf("%s: reconcile: %v", name, err)
	}
	return res
}

// WaitDrained waits until a terminal has nothing pending.
func (h *Harness) WaitDrained(name string) {
	h.t.Helper()
	term := h.terminal(name)
	deadline := time.Now().Add(5 * time.Second)
	for {
		n, err := term.Engine.PendingCount()
		if err != nil {
			h.t.Fatalf("%s: pending count: %v", name, err)
		}
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("%s: still %d pending", name, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ServerTx is a transaction row read straight from the server database.
type ServerTx struct {
	ID       string
	UserID   string
	Subtotal string
	Tax      string
	Total    string
	Status   string
	Lines    int
	Units    int
}

// ServerTransactions reads the server database file with an independent
// SQLite driver so results do not depend on the server's own queries.
func (h *Harness) ServerTransactions() map[string]ServerTx {
	h.t.Helper()
	conn, err := sql.Open("sqlite3", "file:"+h.ServerPath+"?_busy_timeout=5000")
	if err != nil {
		h.t.Fatalf("open server db: %v", err)
	}
	defer conn.Close()

	rows, err := conn.Query(`
		SELECT t.id, t.user_id, t.subtotal, t.tax, t.total, t.status,
		       COUNT(i.line_no), COALESCE(SUM(i.quantity), 0)
		FROM transactions t
		LEFT JOIN transaction_items i ON i.transaction_id = t.id
		GROUP BY t.id`)
	if err != nil {
		h.t.Fatalf("query server transactions: %v", err)
	}
	defer rows.Close()

	out := make(map[string]ServerTx)
	for rows.Next() {
		var st ServerTx
		if err := rows.Scan(&st.ID, &st.UserID, &st.Subtotal, &st.Tax, &st.Total, &st.Status, &st.Lines, &st.Units); err != nil {
			h.t.Fatalf("scan server transaction: %v", err)
		}
		out[st.ID] = st
	}
	if err := rows.Err(); err != nil {
		h.t.Fatalf("iterate server transactions: %v", err)
	}
	return out
}

// AssertConverged checks that nothing is pending anywhere and every local
// sale exists on the server with the same amounts, owner and items.
func (h *Harness) AssertConverged() {
	h.t.Helper()
	server := h.ServerTransactions()
	total := 0
	for name, term := range h.Terminals {
		pending, err := term.Engine.PendingTransactionIDs()
		if err != nil {
			h.t.Fatalf("%s: pending: %v", name, err)
		}
		if len(pending) > 0 {
			h.t.Errorf("%s: %d still pending: %v", name, len(pending), pending)
		}

		local, err := term.DB.GetAllTransactions()
		if err != nil {
			h.t.Fatalf("%s: list transactions: %v", name, err)
		}
		total += len(local)
		for _, tx := range local {
			st, ok := server[tx.ID]
			if !ok {
				h.t.Errorf("%s: transaction %s missing on server", name, tx.ID)
				continue
			}
			if st.UserID != term.UserID {
				h.t.Errorf("%s: transaction %s owned by %s, want %s", name, tx.ID, st.UserID, term.UserID)
			}
			if !decEq(st.Subtotal, tx.Subtotal) || !decEq(st.Tax, tx.Tax) || !decEq(st.Total, tx.Total) {
				h.t.Errorf("%s: transaction %s amounts %s/%s/%s, want %s/%s/%s", name, tx.ID,
					st.Subtotal, st.Tax, st.Total, tx.Subtotal, tx.Tax, tx.Total)
			}
			units := 0
			for _, it := range tx.Items {
				units += it.Quantity
			}
			if st.Lines != len(tx.Items) || st.Units != units {
				h.t.Errorf("%s: transaction %s has %d lines/%d units on server, want %d/%d",
					name, tx.ID, st.Lines, st.Units, len(tx.Items), units)
			}
		}
	}
	if len(server) != total {
		h.t.Errorf("server holds %d transactions, terminals recorded %d", len(server), total)
	}
}

func decEq(s string, d decimal.Decimal) bool {
	v, err := decimal.NewFromString(s)
	return err == nil && v.Equal(d)
}

// Converge brings a terminal online and reconciles until nothing is pending.
func (h *Harness) Converge(name string) {
	h.t.Helper()
	h.SetNet(name, NetUp)
	term := h.terminal(name)
	for i := 0; i < 50; i++ {
		res := h.Reconcile(name)
		if !res.Skipped && len(res.Pending) == 0 {
			return
		}
		if res.Skipped {
			time.Sleep(5 * time.Millisecond)
		}
	}
	n, _ := term.Engine.PendingCount()
	h.t.Fatalf("%s: did not converge, %d pending", name, n)
}
