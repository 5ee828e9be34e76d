package diagram

import (
	"fmt"
	"strings"

	"github.com/flowline-dev/flowline/pkg/schema"
)

// RenderMermaid renders the model as a Mermaid flowchart with status colors.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", m.Title))
	}

	for _, n := range m.Nodes {
		label := n.Label
		if n.Attempts > 1 {
			label = fmt.Sprintf("%s (x%d)", label, n.Attempts)
		}
		b.WriteString(fmt.Sprintf("    %s[%q]\n", safeID(n.ID), label))
	}
	for _, e := range m.Edges {
		b.WriteString(fmt.Sprintf("    %s --> %s\n", safeID(e.From), safeID(e.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef fail fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, n := range m.Nodes {
		if cls := statusClass(n.Status); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", safeID(n.ID), cls))
		}
	}
	return b.String()
}

// safeID converts a step id to a Mermaid-safe identifier.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func statusClass(status schema.StepStatus) string {
	switch status {
	case schema.StepStatusSuccess:
		return "success"
	case schema.StepStatusFail:
		return "fail"
	case schema.StepStatusRunning:
		return "running"
	case schema.StepStatusSkipped:
		return "skipped"
	case schema.StepStatusPending:
		return "pending"
	default:
		return ""
	}
}
