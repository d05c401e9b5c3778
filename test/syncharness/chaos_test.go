package syncharness

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
)

// chaosSeed returns TILL_CHAOS_SEED when set so a failing run can be replayed.
func chaosSeed(t *testing.T) int64 {
	if s := os.Getenv("TILL_CHAOS_SEED"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			t.Fatalf("bad TILL_CHAOS_SEED: %v", err)
		}
		return n
	}
	return 20261014
}

// TestChaosConverges interleaves sales, network changes and passes across
// three terminals, then checks that every sale reached the server once.
func TestChaosConverges(t *testing.T) {
	if testing.Short() {
		t.Skip("chaos run skipped in -short mode")
	}
	seed := chaosSeed(t)
	rng := rand.New(rand.NewSource(seed))
	t.Logf("seed %d", seed)

	h := NewHarness(t)
	h.SeedCatalog(catalog()...)
	names := []string{"front", "patio", "bar"}
	for _, n := range names {
		h.AddTerminal(n)
		h.Reconcile(n)
	}
	products := []string{"coffee", "muffin", "juice"}
	modes := []NetMode{NetUp, NetUp, NetDown, NetLoseAcks}

	sold := 0
	for step := 0; step < 120; step++ {
		name := names[rng.Intn(len(names))]
		switch op := rng.Intn(10); {
		case op < 6:
			lines := map[string]int{}
			for i := 0; i <= rng.Intn(3); i++ {
				lines[products[rng.Intn(len(products))]] += 1 + rng.Intn(3)
			}
			h.Sell(name, lines)
			sold++
		case op < 8:
			h.SetNet(name, modes[rng.Intn(len(modes))])
		default:
			h.Reconcile(name)
		}
	}

	for _, n := range names {
		h.Converge(n)
	}
	h.AssertConverged()
	if got := len(h.ServerTransactions()); got != sold {
		t.Errorf("server holds %d transactions, %d were sold", got, sold)
	}
}
