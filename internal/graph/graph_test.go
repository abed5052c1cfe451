package graph

import (
	"errors"
	"testing"
	"time"
)

func TestAddNeighbor_EmptyNames(t *testing.T) {
	g := New("Kraken")
	if err := g.AddNeighbor("", "USD", 1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty from, got %v", err)
	}
	if err := g.AddNeighbor("BTC", "", 1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty to, got %v", err)
	}
}

func TestGetOrCreateVertex_Idempotent(t *testing.T) {
	g := New("Kraken")
	first := g.GetOrCreateVertex("BTC")
	second := g.GetOrCreateVertex("BTC")
	if first != second {
		t.Error("GetOrCreateVertex should return the registered vertex")
	}
	if len(first.Neighbors()) != 0 {
		t.Error("vertex creation must not add edges")
	}
}

func TestAddNeighbor_UpdatesWeight(t *testing.T) {
	g := New("Kraken")
	if err := g.AddNeighbor("BTC", "USD", 1); err != nil {
		t.Fatalf("AddNeighbor failed: %v", err)
	}
	if err := g.AddNeighbor("BTC", "USD", 3); err != nil {
		t.Fatalf("AddNeighbor update failed: %v", err)
	}
	w, ok := g.Vertex("BTC").Weight("USD")
	if !ok || w != 3 {
		t.Errorf("expected updated weight 3, got %v (exists=%v)", w, ok)
	}
}

func TestCloneWithOptimization_DoesNotMutateSource(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USD", 1)
	mustAdd(t, g, "BTC", "USDT", 2)
	mustAdd(t, g, "ETH", "USD", 1)

	clone, err := g.CloneWithOptimization("BTC", map[string]float64{
		"USD":  5,  // keep at new weight
		"USDT": -1, // drop
		"EUR":  2,  // new edge
	})
	if err != nil {
		t.Fatalf("CloneWithOptimization failed: %v", err)
	}

	// Source unchanged.
	if w, ok := g.Vertex("BTC").Weight("USD"); !ok || w != 1 {
		t.Errorf("source BTC->USD changed: %v (exists=%v)", w, ok)
	}
	if _, ok := g.Vertex("BTC").Weight("USDT"); !ok {
		t.Error("source BTC->USDT dropped")
	}
	if g.Vertex("EUR") != nil {
		t.Error("source gained vertex EUR")
	}
	if g.IsOptimized("BTC") {
		t.Error("source must not be marked optimized")
	}

	// Clone rewritten.
	if w, ok := clone.Vertex("BTC").Weight("USD"); !ok || w != 5 {
		t.Errorf("clone BTC->USD = %v (exists=%v), want 5", w, ok)
	}
	if _, ok := clone.Vertex("BTC").Weight("USDT"); ok {
		t.Error("clone should have dropped BTC->USDT")
	}
	if w, ok := clone.Vertex("BTC").Weight("EUR"); !ok || w != 2 {
		t.Errorf("clone BTC->EUR = %v (exists=%v), want 2", w, ok)
	}
	if !clone.IsOptimized("BTC") {
		t.Error("clone must mark the asset optimized")
	}

	// Vertices are owned by the clone, not aliased.
	if clone.Vertex("ETH") == g.Vertex("ETH") {
		t.Error("clone vertices must not alias source vertices")
	}
	if w, ok := clone.Vertex("ETH").Weight("USD"); !ok || w != 1 {
		t.Errorf("untouched edges must carry over: %v (exists=%v)", w, ok)
	}
}

func TestCloneWithOptimization_AbsentNeighborRemoved(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USD", 1)
	mustAdd(t, g, "BTC", "USDT", 2)

	clone, err := g.CloneWithOptimization("BTC", map[string]float64{"USD": 1})
	if err != nil {
		t.Fatalf("CloneWithOptimization failed: %v", err)
	}
	if _, ok := clone.Vertex("BTC").Weight("USDT"); ok {
		t.Error("neighbor absent from overrides must be removed")
	}
}

func TestCloneWithOptimization_RejectsReoptimization(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USD", 1)

	clone, err := g.CloneWithOptimization("BTC", map[string]float64{"USD": 1})
	if err != nil {
		t.Fatalf("first optimization failed: %v", err)
	}
	if _, err := clone.CloneWithOptimization("BTC", map[string]float64{"USD": 2}); !errors.Is(err, ErrAlreadyOptimized) {
		t.Errorf("expected ErrAlreadyOptimized, got %v", err)
	}

	// A different asset on the same clone is still fine.
	mustAdd(t, clone, "ETH", "USD", 1)
	if _, err := clone.CloneWithOptimization("ETH", map[string]float64{"USD": 1}); err != nil {
		t.Errorf("optimizing a different asset should succeed: %v", err)
	}
}

func TestIsOptimized_UnknownAsset(t *testing.T) {
	g := New("Kraken")
	if g.IsOptimized("DOGE") {
		t.Error("unknown assets must report unoptimized")
	}
}

func TestAliases_PreOptimizedWithBar(t *testing.T) {
	g := New("Kraken")
	if !g.IsAlias("XBT", "BTC") {
		t.Fatal("universal alias XBT->BTC missing")
	}
	if !g.IsOptimized("XBT") {
		t.Error("alias source must be pre-optimized")
	}

	ts := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := g.AliasBar("XBT", "BTC", ts)
	if bar == nil {
		t.Fatal("expected alias bar")
	}
	if !bar.Open.Equal(bar.Close) || !bar.Open.IsPositive() {
		t.Errorf("alias bar should be a constant positive factor, got %+v", bar)
	}
	if g.AliasBar("BTC", "USD", ts) != nil {
		t.Error("non-alias pair should have no alias bar")
	}
}

func TestAliases_ExchangeSpecific(t *testing.T) {
	coinbase := New("Coinbase")
	if !coinbase.IsAlias("ETH2", "ETH") {
		t.Error("Coinbase ETH2->ETH alias missing")
	}
	kraken := New("Kraken")
	if kraken.IsAlias("ETH2", "ETH") {
		t.Error("ETH2 alias must not leak onto other exchanges")
	}
}

func TestReachableFrom(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USDT", 1)
	mustAdd(t, g, "USDT", "USD", 1)
	mustAdd(t, g, "ETH", "USD", 1)

	reached := g.ReachableFrom("BTC")
	for _, want := range []string{"USDT", "USD"} {
		if _, ok := reached[want]; !ok {
			t.Errorf("expected %s reachable from BTC", want)
		}
	}
	if _, ok := reached["ETH"]; ok {
		t.Error("ETH is not reachable from BTC")
	}
}

func mustAdd(t *testing.T, g *Graph, from, to string, weight float64) {
	t.Helper()
	if err := g.AddNeighbor(from, to, weight); err != nil {
		t.Fatalf("AddNeighbor(%s, %s) failed: %v", from, to, err)
	}
}
