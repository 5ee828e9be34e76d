package engine

// Layering is the result of topologically ordering a (sub)graph.
type Layering struct {
	// Layers lists the execution waves. Acyclic layers come first; cycle
	// residue follows as singleton layers in insertion order.
	Layers [][]string
	// AcyclicLayers counts how many leading layers came out of Kahn's
	// algorithm proper.
	AcyclicLayers int
	// CycleMembers lists the steps that never reached zero in-degree.
	CycleMembers []string
}

// BuildLayers runs Kahn's algorithm over the steps in order, using the
// given parent sets. Ties inside a layer break by insertion order. Steps
// trapped in a cycle are appended as singleton layers so the workflow can
// still make progress, at the cost of ordering guarantees for those steps.
func BuildLayers(order []string, parents map[string][]string) Layering {
	inGraph := make(map[string]bool, len(order))
	for _, id := range order {
		inGraph[id] = true
	}

	indegree := make(map[string]int, len(order))
	children := make(map[string][]string, len(order))
	for _, id := range order {
		indegree[id] = 0
	}
	for _, id := range order {
		for _, parent := range parents[id] {
			if !inGraph[parent] {
				continue
			}
			indegree[id]++
			children[parent] = append(children[parent], id)
		}
	}

	var layering Layering
	visited := make(map[string]bool, len(order))

	frontier := make([]string, 0, len(order))
	for _, id := range order {
		if indegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	for len(frontier) > 0 {
		layer := frontier
		layering.Layers = append(layering.Layers, layer)
		layering.AcyclicLayers++

		ready := make(map[string]bool)
		for _, id := range layer {
			visited[id] = true
			for _, child := range children[id] {
				indegree[child]--
				if indegree[child] == 0 {
					ready[child] = true
				}
			}
		}

		// Rebuild the next frontier from insertion order so the tie-break
		// stays stable regardless of decrement order.
		frontier = nil
		for _, id := range order {
			if ready[id] && !visited[id] {
				frontier = append(frontier, id)
			}
		}
	}

	for _, id := range order {
		if !visited[id] {
			layering.CycleMembers = append(layering.CycleMembers, id)
			layering.Layers = append(layering.Layers, []string{id})
		}
	}
	return layering
}
