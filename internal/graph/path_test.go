package graph

import (
	"reflect"
	"testing"
)

func TestShortestPath_DirectEdge(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USD", 1)

	got := ShortestPath(g, "BTC", "USD")
	if !reflect.DeepEqual(got, []string{"BTC", "USD"}) {
		t.Errorf("got %v, want [BTC USD]", got)
	}
}

func TestShortestPath_RoutesThroughIntermediate(t *testing.T) {
	// No direct BTC->USD market: the two-hop stablecoin route must win
	// over any longer alternative.
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USDC", 2)
	mustAdd(t, g, "BTC", "USDT", 1)
	mustAdd(t, g, "USDT", "USD", 1)
	mustAdd(t, g, "USDC", "EUR", 1)
	mustAdd(t, g, "EUR", "USD", 1)

	got := ShortestPath(g, "BTC", "USD")
	if !reflect.DeepEqual(got, []string{"BTC", "USDT", "USD"}) {
		t.Errorf("got %v, want [BTC USDT USD]", got)
	}
}

func TestShortestPath_TieBreaksOnCumulativeWeight(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USDT", 1)
	mustAdd(t, g, "USDT", "USD", 1)
	mustAdd(t, g, "BTC", "USDC", 3)
	mustAdd(t, g, "USDC", "USD", 3)

	// Both routes are two hops; the USDC route carries more weight.
	got := ShortestPath(g, "BTC", "USD")
	if !reflect.DeepEqual(got, []string{"BTC", "USDC", "USD"}) {
		t.Errorf("got %v, want heavier route [BTC USDC USD]", got)
	}
}

func TestShortestPath_EqualWeightIsDeterministic(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USDT", 1)
	mustAdd(t, g, "USDT", "USD", 1)
	mustAdd(t, g, "BTC", "USDC", 1)
	mustAdd(t, g, "USDC", "USD", 1)

	// Equal hops, equal weight: lexicographically first expansion wins.
	want := []string{"BTC", "USDC", "USD"}
	for i := 0; i < 10; i++ {
		got := ShortestPath(g, "BTC", "USD")
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("iteration %d: got %v, want %v", i, got, want)
		}
	}
}

func TestShortestPath_Unreachable(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USDT", 1)
	mustAdd(t, g, "EUR", "USD", 1)

	if got := ShortestPath(g, "BTC", "USD"); got != nil {
		t.Errorf("disconnected assets should yield nil, got %v", got)
	}
	if got := ShortestPath(g, "BTC", "DOGE"); got != nil {
		t.Errorf("unknown target should yield nil, got %v", got)
	}
}

func TestShortestPath_DirectionMatters(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USD", 1)

	if got := ShortestPath(g, "USD", "BTC"); got != nil {
		t.Errorf("edges are directed; got %v", got)
	}
}

func TestShortestPath_SameAsset(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "BTC", "USD", 1)

	got := ShortestPath(g, "BTC", "BTC")
	if !reflect.DeepEqual(got, []string{"BTC"}) {
		t.Errorf("got %v, want [BTC]", got)
	}
}

func TestShortestPath_SurvivesCycles(t *testing.T) {
	g := New("Kraken")
	mustAdd(t, g, "A", "B", 1)
	mustAdd(t, g, "B", "A", 1)
	mustAdd(t, g, "B", "C", 1)

	got := ShortestPath(g, "A", "C")
	if !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("got %v, want [A B C]", got)
	}
}
