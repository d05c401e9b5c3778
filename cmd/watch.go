package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/sync"
	"github.com/marcus/till/internal/syncconfig"
	"github.com/marcus/till/pkg/monitor"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the terminal in sync until interrupted",
	Long: `Probes the sync server in the background. Every time it comes back
online a reconciliation pass runs; while it stays online a pass also runs
once per sync interval. Stops on SIGINT or SIGTERM.

With --tui a live dashboard shows pending sales and recent deliveries.

Key bindings (--tui):
  s      Sync now
  r      Refresh
  ↑/↓    Move selection
  ?      More keys
  q      Quit`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		tui, _ := cmd.Flags().GetBool("tui")
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = syncconfig.GetSyncInterval()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// keep log lines off the dashboard
		if tui && !verbose {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1})))
		}

		t, err := openTerminal(ctx)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer t.close()

		go t.monitor.Run(ctx)

		report := func(res sync.ReconcileResult, err error) {}
		if !tui {
			report = printWatchResult
			fmt.Printf("Watching %s (sync every %s, Ctrl+C to stop)\n", syncconfig.GetServerURL(), interval)
		}
		loopDone := make(chan struct{})
		go func() {
			defer close(loopDone)
			periodicReconcile(ctx, t.engine, t.monitor.IsOnline, interval, report)
		}()

		if tui {
			src := &monitor.TerminalSource{DB: t.db, Engine: t.engine, Online: t.monitor.IsOnline}
			model := monitor.NewModel(ctx, src, 2*time.Second, version)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && ctx.Err() == nil {
				return fmt.Errorf("error running dashboard: %w", err)
			}
			stop()
		}

		<-ctx.Done()
		<-loopDone
		if !tui {
			fmt.Println("Stopped")
		}
		return nil
	},
}

// reconciler is the part of the engine the watch loop drives
type reconciler interface {
	Reconcile(ctx context.Context) (sync.ReconcileResult, error)
}

// periodicReconcile runs one pass at start and then once per interval while
// online, until ctx is done. Passes after reconnects are started by the
// engine itself.
func periodicReconcile(ctx context.Context, r reconciler, online func() bool, interval time.Duration, report func(sync.ReconcileResult, error)) {
	run := func() {
		if !online() {
			return
		}
		res, err := r.Reconcile(ctx)
		if ctx.Err() != nil {
			return
		}
		report(res, err)
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func printWatchResult(res sync.ReconcileResult, err error) {
	ts := time.Now().Format("15:04:05")
	if err != nil {
		output.Error("%s sync: %v", ts, err)
		return
	}
	if res.Skipped {
		return
	}
	msg := fmt.Sprintf("%s synced: %d products, %d delivered, %d pending",
		ts, res.ProductsRefreshed, len(res.Delivered), len(res.Pending))
	if len(res.Exhausted) > 0 || res.CatalogErr != nil {
		if res.CatalogErr != nil {
			msg += ", catalog refresh failed"
		}
		if len(res.Exhausted) > 0 {
			msg += fmt.Sprintf(", %d exhausted", len(res.Exhausted))
		}
		output.Warning("%s", msg)
		return
	}
	fmt.Println(msg)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("tui", false, "Show a live dashboard")
	watchCmd.Flags().Duration("interval", 0, "Reconcile interval while online (default: sync.interval config or 1m)")
}
