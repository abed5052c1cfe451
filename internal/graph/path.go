package graph

// ShortestPath finds the minimum-hop path from one asset to another,
// returning the asset names along the path (inclusive of both ends) or
// nil when the target is unreachable.
//
// Among equal-hop paths the one with the higher cumulative edge weight
// wins (weights rank market volume, so this prefers the most liquid
// route). Remaining ties resolve to the path discovered first when
// neighbors are expanded in lexicographic order, which makes the result
// deterministic across runs.
func ShortestPath(g *Graph, from, to string) []string {
	if g.Vertex(from) == nil || g.Vertex(to) == nil {
		return nil
	}
	if from == to {
		return []string{from}
	}

	type arrival struct {
		hops   int
		weight float64
		path   []string
	}

	best := map[string]*arrival{
		from: {hops: 0, weight: 0, path: []string{from}},
	}
	frontier := []string{from}

	for level := 0; len(frontier) > 0; level++ {
		next := make([]string, 0)
		for _, name := range frontier {
			current := best[name]
			for _, neighbor := range g.Vertex(name).Neighbors() {
				weight, _ := g.Vertex(name).Weight(neighbor)
				cumulative := current.weight + weight

				existing, seen := best[neighbor]
				switch {
				case !seen:
					path := make([]string, len(current.path), len(current.path)+1)
					copy(path, current.path)
					best[neighbor] = &arrival{hops: level + 1, weight: cumulative, path: append(path, neighbor)}
					next = append(next, neighbor)
				case existing.hops == level+1 && cumulative > existing.weight:
					// Same hop count through a heavier route.
					path := make([]string, len(current.path), len(current.path)+1)
					copy(path, current.path)
					existing.weight = cumulative
					existing.path = append(path, neighbor)
				}
			}
		}

		// Finish the whole level before answering so that all equal-hop
		// candidates have been weighed against each other.
		if found, ok := best[to]; ok && found.hops == level+1 {
			return found.path
		}
		frontier = next
	}

	return nil
}
