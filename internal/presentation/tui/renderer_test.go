package tui_test

import (
	"strings"
	"testing"

	"github.com/aretw0/graft/internal/presentation/tui"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
	"github.com/stretchr/testify/assert"
)

func TestManifestMarkdown(t *testing.T) {
	m := ports.ContractManifest(t, "render")
	m.Parameters.Provenance = map[string]string{"seed": "cli"}

	md := tui.ManifestMarkdown(m)

	assert.True(t, strings.HasPrefix(md, "# Run "+m.RunID.Short()), "title must carry the short run id")
	assert.Contains(t, md, "`"+m.RunID.String()+"`")
	assert.Contains(t, md, m.Step.Name)
	assert.Contains(t, md, "## Inputs")
	assert.Contains(t, md, "| data | `blob:"+m.Inputs[0].ID.Short()+"`")
	assert.Contains(t, md, "## Outputs")
	assert.Contains(t, md, "| result.txt |")
	assert.Contains(t, md, "| seed | `render` | cli |")
	assert.Contains(t, md, "## Environment")
	assert.Contains(t, md, "| os | `linux` |")
}

func TestManifestMarkdownOmitsEmptySections(t *testing.T) {
	m := ports.ContractManifest(t, "sparse")
	m.Inputs = nil
	m.Outputs = nil
	m.Environment = domain.EnvironmentInfo{}

	md := tui.ManifestMarkdown(m)

	assert.NotContains(t, md, "## Inputs")
	assert.NotContains(t, md, "## Outputs")
	assert.NotContains(t, md, "## Environment")
	assert.Contains(t, md, "## Parameters")
}
