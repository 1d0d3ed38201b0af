package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/aretw0/graft/pkg/domain"
)

// NewRenderer returns a function that renders markdown using glamour.
// It uses a dark theme by default, but could be configurable.
func NewRenderer() func(string) (string, error) {
	// Initialize renderer with standard dark style
	// In the future, we can inject style preferences here.
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// ManifestMarkdown builds a human-readable markdown document from a run
// manifest. Callers decide whether to render it with glamour or print it raw.
func ManifestMarkdown(m *domain.Manifest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", m.RunID.Short())
	fmt.Fprintf(&sb, "- **Run ID**: `%s`\n", m.RunID)
	fmt.Fprintf(&sb, "- **Step**: %s (`%s`)\n", m.Step.Name, m.Step.Source)
	fmt.Fprintf(&sb, "- **Code**: `%s`\n", m.Step.CodeHash)
	fmt.Fprintf(&sb, "- **Started**: %s\n", m.StartedUTC)
	fmt.Fprintf(&sb, "- **Ended**: %s\n", m.EndedUTC)
	fmt.Fprintf(&sb, "- **Tool**: %s %s\n", m.Tool.Name, m.Tool.Version)

	if len(m.Inputs) > 0 {
		sb.WriteString("\n## Inputs\n\n| Name | ID | Spec |\n|---|---|---|\n")
		for _, in := range m.Inputs {
			fmt.Fprintf(&sb, "| %s | `%s:%s` | %s |\n", in.Name, in.ID.Kind, in.ID.Short(), in.Spec)
		}
	}

	if len(m.Outputs) > 0 {
		sb.WriteString("\n## Outputs\n\n| Path | ID |\n|---|---|\n")
		for _, out := range m.Outputs {
			fmt.Fprintf(&sb, "| %s | `%s:%s` |\n", out.Path, out.ID.Kind, out.ID.Short())
		}
	}

	if len(m.Parameters.Effective) > 0 {
		sb.WriteString("\n## Parameters\n\n| Key | Value | Source |\n|---|---|---|\n")
		for _, key := range sortedKeys(m.Parameters.Effective) {
			fmt.Fprintf(&sb, "| %s | `%v` | %s |\n", key, m.Parameters.Effective[key], m.Parameters.Provenance[key])
		}
	}

	if len(m.Environment.Summary) > 0 {
		sb.WriteString("\n## Environment\n\n| Key | Value |\n|---|---|\n")
		for _, key := range sortedKeys(m.Environment.Summary) {
			fmt.Fprintf(&sb, "| %s | `%v` |\n", key, m.Environment.Summary[key])
		}
	}

	return sb.String()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
