package sync

import "sync/atomic"

// Metrics counts engine activity using atomic counters.
type Metrics struct {
	passes            atomic.Int64
	skippedPasses     atomic.Int64
	delivered         atomic.Int64
	failedAttempts    atomic.Int64
	exhausted         atomic.Int64
	productsRefreshed atomic.Int64
	catalogFailures   atomic.Int64
}

// MetricsSnapshot is a point-in-time view of engine metrics.
type MetricsSnapshot struct {
	Passes                int64 `json:"passes"`
	SkippedPasses         int64 `json:"skipped_passes"`
	TransactionsDelivered int64 `json:"transactions_delivered"`
	FailedAttempts        int64 `json:"failed_attempts"`
	TransactionsExhausted int64 `json:"transactions_exhausted"`
	ProductsRefreshed     int64 `json:"products_refreshed"`
	CatalogFailures       int64 `json:"catalog_failures"`
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Passes:                m.passes.Load(),
		SkippedPasses:         m.skippedPasses.Load(),
		TransactionsDelivered: m.delivered.Load(),
		FailedAttempts:        m.failedAttempts.Load(),
		TransactionsExhausted: m.exhausted.Load(),
		ProductsRefreshed:     m.productsRefreshed.Load(),
		CatalogFailures:       m.catalogFailures.Load(),
	}
}
