package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/graft/internal/lineage"
	"github.com/aretw0/graft/pkg/domain"
)

// GenerateMermaid produces a Mermaid flowchart syntax string from a lineage
// graph. It applies semantic styling:
// - Adopted source: ((Circle))
// - Run: [[Subroutine]]
// - Produced artifact: [Rectangle]
// Produced edges are thick, consumed edges thin, and the root is highlighted.
func GenerateMermaid(g *lineage.Graph) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, node := range g.Nodes {
		// Sanitize ID for Mermaid
		safeID := sanitizeMermaidID(node.ID)

		// Node Shape based on Kind
		opener, closer := "[", "]"
		switch {
		case node.Kind == lineage.NodeRun:
			opener, closer = "[[", "]]" // Subroutine
		case node.Source:
			opener, closer = "((", "))" // Circle
		}

		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, nodeLabel(node), closer))
	}

	for _, e := range g.Edges {
		arrow := "-->"
		if e.Kind == lineage.EdgeProduced {
			arrow = "==>"
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", sanitizeMermaidID(e.From), arrow, sanitizeMermaidID(e.To)))
	}

	// Root and source styles. Force black text (color:#000) for high-contrast
	// on light backgrounds, regardless of theme (Light/Dark).
	sb.WriteString("\n    %% Lineage Styles\n")
	sb.WriteString("    classDef source fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef root fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
	for _, node := range g.Nodes {
		if node.Source && node.ID != g.Root {
			sb.WriteString(fmt.Sprintf("    class %s source;\n", sanitizeMermaidID(node.ID)))
		}
	}
	sb.WriteString(fmt.Sprintf("    class %s root;\n", sanitizeMermaidID(g.Root)))

	return sb.String()
}

// nodeLabel renders the display text inside a node. Run nodes carry the step
// name; everything shows the shortened digest.
func nodeLabel(n lineage.Node) string {
	if n.Kind == lineage.NodeRun && n.Step != "" {
		// Escape double quotes from step names for Mermaid labels
		safeStep := strings.ReplaceAll(n.Step, "\"", "'")
		return fmt.Sprintf("%s<br/>run:%s", safeStep, n.ID.Short())
	}
	return fmt.Sprintf("%s:%s", n.ID.Kind, n.ID.Short())
}

func sanitizeMermaidID(id domain.ID) string {
	return strings.ReplaceAll(id.String(), ":", "_")
}
