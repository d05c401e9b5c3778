package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/db"
	"github.com/marcus/till/internal/sync"
	"github.com/marcus/till/internal/syncclient"
	"github.com/marcus/till/internal/syncconfig"
	"github.com/marcus/till/internal/webhook"
)

// terminal bundles what a sync-aware command needs. close releases all of it.
type terminal struct {
	db      *db.DB
	client  *syncclient.Client
	monitor *connectivity.Monitor
	engine  *sync.Engine
}

func (t *terminal) close() {
	if t.engine != nil {
		t.engine.Close()
	}
	if t.db != nil {
		t.db.Close()
	}
}

// newSyncClient builds a client from the environment and stored credentials.
func newSyncClient() (*syncclient.Client, error) {
	client := syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), syncconfig.GetUserID())
	client.HTTP.Timeout = syncconfig.GetTimeout()
	return client, nil
}

// openTerminal opens the local store and wires the engine to the server.
// The monitor starts in the state of a single probe so a sale made while
// the server is down is queued without waiting on retries.
func openTerminal(ctx context.Context) (*terminal, error) {
	database, err := db.Open(getBaseDir())
	if err != nil {
		return nil, err
	}
	client, err := newSyncClient()
	if err != nil {
		database.Close()
		return nil, err
	}

	log := slog.Default()
	mon := connectivity.New(client.Probe,
		connectivity.WithInterval(syncconfig.GetProbeInterval()),
		connectivity.WithLogger(log),
	)
	probeCtx, cancel := context.WithTimeout(ctx, syncconfig.GetTimeout())
	mon.Check(probeCtx)
	cancel()

	opts := []sync.Option{
		sync.WithMonitor(mon),
		sync.WithRetry(syncconfig.GetRetryAttempts(), syncconfig.GetRetryDelay()),
		sync.WithLogger(log),
	}
	if n := webhook.NewNotifier(getBaseDir(), log); n != nil {
		opts = append(opts, sync.WithExhaustedHandler(n.Handler()))
	}

	t := &terminal{db: database, client: client, monitor: mon}
	t.engine = sync.NewEngine(database, client, opts...)
	return t, nil
}

// openLocal opens only the local store, for read-only commands.
func openLocal() (*db.DB, error) {
	return db.Open(getBaseDir())
}

// commandTimeout bounds one-shot commands that talk to the server.
func commandTimeout() time.Duration {
	attempts := syncconfig.GetRetryAttempts()
	per := syncconfig.GetTimeout() + syncconfig.GetRetryDelay()
	return time.Duration(attempts+1)*per + time.Minute
}
