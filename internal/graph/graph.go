// Package graph models per-exchange market graphs: assets are vertices,
// tradable markets are weighted directed edges. Registered graph
// snapshots are treated as immutable; changes happen on clones.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-lab/internal/domain"
)

// Errors reported by graph mutation.
var (
	// ErrInvalidInput is returned for empty asset names.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyOptimized is returned when an asset is optimized twice
	// on the same graph instance. Optimization must go through a fresh
	// clone.
	ErrAlreadyOptimized = errors.New("asset already optimized on this graph")
)

// Alias identifies two names for what is economically the same asset
// (possibly at a fixed factor), e.g. XBT -> BTC at 1.
type Alias struct {
	FromAsset string
	ToAsset   string
}

// Base aliases present on every exchange.
var universalAliases = map[Alias]decimal.Decimal{
	{FromAsset: "LUNA", ToAsset: "LUNC"}: decimal.NewFromInt(1),
	{FromAsset: "XBT", ToAsset: "BTC"}:   decimal.NewFromInt(1),
}

var exchangeAliases = map[string]map[Alias]decimal.Decimal{
	"Coinbase": {
		{FromAsset: "ETH2", ToAsset: "ETH"}: decimal.NewFromInt(1),
	},
	"Coinbase Pro": {
		{FromAsset: "ETH2", ToAsset: "ETH"}: decimal.NewFromInt(1),
	},
	"Pionex": {
		{FromAsset: "MBTC", ToAsset: "BTC"}: decimal.RequireFromString("0.001"),
		{FromAsset: "METH", ToAsset: "ETH"}: decimal.RequireFromString("0.001"),
	},
}

// Vertex is one asset and its outgoing market edges. Edge weights
// measure market quality (volume-derived rank) and only matter for
// path tie-breaking.
type Vertex struct {
	Name      string
	neighbors map[string]float64
}

// Weight returns the edge weight toward neighbor, if the edge exists.
func (v *Vertex) Weight(neighbor string) (float64, bool) {
	w, ok := v.neighbors[neighbor]
	return w, ok
}

// Neighbors returns the neighbor names in deterministic (sorted) order.
func (v *Vertex) Neighbors() []string {
	names := make([]string, 0, len(v.neighbors))
	for name := range v.neighbors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Graph is a mutable weighted directed graph over asset names.
type Graph struct {
	exchange  string
	vertices  map[string]*Vertex
	optimized map[string]struct{}
	aliases   map[Alias]decimal.Decimal
}

// New creates an empty graph for one exchange with the universal and
// exchange-specific aliases installed as zero-weight, pre-optimized
// edges (aliases never need historical data).
func New(exchange string) *Graph {
	g := &Graph{
		exchange:  exchange,
		vertices:  make(map[string]*Vertex),
		optimized: make(map[string]struct{}),
		aliases:   make(map[Alias]decimal.Decimal),
	}
	for alias, factor := range universalAliases {
		g.aliases[alias] = factor
	}
	for alias, factor := range exchangeAliases[exchange] {
		g.aliases[alias] = factor
	}
	for alias := range g.aliases {
		// Errors are impossible here: alias names are non-empty.
		_ = g.AddNeighbor(alias.FromAsset, alias.ToAsset, 0)
		g.optimized[alias.FromAsset] = struct{}{}
	}
	return g
}

// Exchange returns the exchange this graph describes.
func (g *Graph) Exchange() string {
	return g.exchange
}

// GetOrCreateVertex returns the vertex for name, registering a new
// edgeless vertex if none exists.
func (g *Graph) GetOrCreateVertex(name string) *Vertex {
	if v, ok := g.vertices[name]; ok {
		return v
	}
	v := &Vertex{Name: name, neighbors: make(map[string]float64)}
	g.vertices[name] = v
	return v
}

// Vertex returns the vertex for name, or nil if unknown.
func (g *Graph) Vertex(name string) *Vertex {
	return g.vertices[name]
}

// Assets returns all vertex names in sorted order.
func (g *Graph) Assets() []string {
	names := make([]string, 0, len(g.vertices))
	for name := range g.vertices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddNeighbor adds or updates the directed edge from -> to.
func (g *Graph) AddNeighbor(from, to string, weight float64) error {
	if from == "" || to == "" {
		return fmt.Errorf("%w: empty asset name in edge %q -> %q", ErrInvalidInput, from, to)
	}
	fromVertex := g.GetOrCreateVertex(from)
	g.GetOrCreateVertex(to)
	fromVertex.neighbors[to] = weight
	return nil
}

// IsOptimized reports whether asset has had its edges resolved from
// historical data on this graph instance. Unknown assets report false.
func (g *Graph) IsOptimized(asset string) bool {
	_, ok := g.optimized[asset]
	return ok
}

// CloneWithOptimization returns a new graph in which asset's edge set
// is replaced according to overrides: a non-negative weight keeps or
// adds the edge at that weight, a negative or absent weight drops it.
// Every other vertex is deep-copied unchanged; the receiver is never
// mutated. The clone marks asset as optimized; optimizing an asset
// that is already optimized on the receiver fails.
func (g *Graph) CloneWithOptimization(asset string, overrides map[string]float64) (*Graph, error) {
	if g.IsOptimized(asset) {
		return nil, fmt.Errorf("%w: %s on exchange %s", ErrAlreadyOptimized, asset, g.exchange)
	}

	clone := &Graph{
		exchange:  g.exchange,
		vertices:  make(map[string]*Vertex, len(g.vertices)),
		optimized: make(map[string]struct{}, len(g.optimized)+1),
		aliases:   g.aliases,
	}
	for name := range g.optimized {
		clone.optimized[name] = struct{}{}
	}
	clone.optimized[asset] = struct{}{}

	for name, vertex := range g.vertices {
		copied := &Vertex{Name: name, neighbors: make(map[string]float64, len(vertex.neighbors))}
		if name == asset {
			for neighbor, weight := range overrides {
				if weight >= 0 {
					copied.neighbors[neighbor] = weight
				}
			}
		} else {
			for neighbor, weight := range vertex.neighbors {
				copied.neighbors[neighbor] = weight
			}
		}
		clone.vertices[name] = copied
	}

	// Overrides may introduce neighbors the source graph never saw.
	for neighbor, weight := range overrides {
		if weight >= 0 {
			clone.GetOrCreateVertex(neighbor)
		}
	}

	return clone, nil
}

// IsAlias reports whether from -> to is an alias edge.
func (g *Graph) IsAlias(from, to string) bool {
	_, ok := g.aliases[Alias{FromAsset: from, ToAsset: to}]
	return ok
}

// AliasBar returns a synthetic bar pricing an alias hop at its fixed
// factor, or nil if from -> to is not an alias.
func (g *Graph) AliasBar(from, to string, ts time.Time) *domain.HistoricalBar {
	factor, ok := g.aliases[Alias{FromAsset: from, ToAsset: to}]
	if !ok {
		return nil
	}
	bar := domain.HistoricalBar{
		Duration:  time.Minute,
		Timestamp: ts,
		Open:      factor,
		High:      factor,
		Low:       factor,
		Close:     factor,
		Volume:    decimal.NewFromInt(1),
	}
	return &bar
}

// ReachableFrom returns every asset reachable from start by following
// directed edges, excluding start itself.
func (g *Graph) ReachableFrom(start string) map[string]struct{} {
	reached := make(map[string]struct{})
	origin := g.vertices[start]
	if origin == nil {
		return reached
	}
	stack := []string{start}
	visited := map[string]struct{}{start: {}}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for neighbor := range g.vertices[name].neighbors {
			if _, seen := visited[neighbor]; seen {
				continue
			}
			visited[neighbor] = struct{}{}
			reached[neighbor] = struct{}{}
			stack = append(stack, neighbor)
		}
	}
	return reached
}
