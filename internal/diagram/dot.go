package diagram

import (
	"fmt"
	"strings"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// RenderDOT renders the model in Graphviz dot syntax.
func RenderDOT(m *Model) string {
	var b strings.Builder

	b.WriteString("digraph workflow {\n")
	b.WriteString("    rankdir=TB;\n")
	b.WriteString("    node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    label=%q;\n", m.Title))
	}

	for _, n := range m.Nodes {
		b.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q];\n",
			n.ID, n.Label, dotColor(n.Status)))
	}
	for _, e := range m.Edges {
		b.WriteString(fmt.Sprintf("    %q -> %q;\n", e.From, e.To))
	}
	b.WriteString("}\n")
	return b.String()
}

func dotColor(status schema.StepStatus) string {
	switch status {
	case schema.StepStatusSuccess:
		return "palegreen"
	case schema.StepStatusFail:
		return "lightcoral"
	case schema.StepStatusRunning:
		return "lightskyblue"
	case schema.StepStatusSkipped:
		return "lightgray"
	default:
		return "white"
	}
}
