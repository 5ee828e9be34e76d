package diagram

import (
	"sort"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// Model is the renderer-independent view of a workflow graph.
type Model struct {
	Title string
	Nodes []Node
	Edges []Edge
}

// Node is one step of the graph, with its runtime status when known.
type Node struct {
	ID       string
	Label    string
	Status   schema.StepStatus
	Attempts int
}

// Edge is one dependency between two steps.
type Edge struct {
	From string
	To   string
}

// FromSnapshot builds a Model from a workflow snapshot. Steps keep their
// declaration order; edges come from the declared connections.
func FromSnapshot(snap *schema.Snapshot) *Model {
	m := &Model{Title: snap.Name}
	if m.Title == "" {
		m.Title = snap.WorkflowID
	}
	for _, step := range snap.Steps {
		n := Node{ID: step.ID, Label: step.ID, Status: schema.StepStatusPending}
		if step.Name != "" && step.Name != step.ID {
			n.Label = step.Name
		}
		if exec, ok := snap.ExecutedJobs[step.ID]; ok {
			n.Status = exec.Status
			n.Attempts = exec.Attempts
		}
		m.Nodes = append(m.Nodes, n)

		targets := append([]string(nil), step.Connections...)
		sort.Strings(targets)
		for _, to := range targets {
			m.Edges = append(m.Edges, Edge{From: step.ID, To: to})
		}
	}
	return m
}
