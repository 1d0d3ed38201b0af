package domain_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeRunID_InputOrderInsensitive(t *testing.T) {
	blobA := domain.IDFor(domain.KindBlob, []byte("a"))
	blobB := domain.IDFor(domain.KindBlob, []byte("b"))

	forward := domain.ComputeRunID("sha256:c0de", []domain.InputBinding{
		{Name: "left", ID: blobA},
		{Name: "right", ID: blobB},
	}, "p", "e")
	reversed := domain.ComputeRunID("sha256:c0de", []domain.InputBinding{
		{Name: "right", ID: blobB},
		{Name: "left", ID: blobA},
	}, "p", "e")

	assert.Equal(t, forward, reversed)
	assert.Equal(t, domain.KindRun, forward.Kind)
}

func TestComputeRunID_SensitiveToEveryComponent(t *testing.T) {
	in := []domain.InputBinding{{Name: "data", ID: domain.IDFor(domain.KindBlob, []byte("a"))}}
	base := domain.ComputeRunID("code", in, "params", "env")

	assert.NotEqual(t, base, domain.ComputeRunID("other", in, "params", "env"), "code hash")
	assert.NotEqual(t, base, domain.ComputeRunID("code", nil, "params", "env"), "inputs")
	assert.NotEqual(t, base, domain.ComputeRunID("code", in, "other", "env"), "param hash")
	assert.NotEqual(t, base, domain.ComputeRunID("code", in, "params", "other"), "env hash")

	renamed := []domain.InputBinding{{Name: "data2", ID: in[0].ID}}
	assert.NotEqual(t, base, domain.ComputeRunID("code", renamed, "params", "env"), "input name")
}

func buildManifest(t *testing.T) *domain.Manifest {
	t.Helper()
	params := map[string]any{"threshold": 0.5}
	paramHash, err := domain.CanonicalHash(params)
	require.NoError(t, err)
	env := map[string]any{"os": "linux"}
	envHash, err := domain.CanonicalHash(env)
	require.NoError(t, err)

	inputs := []domain.InputBinding{{Name: "data", Spec: "@data", ID: domain.IDFor(domain.KindBlob, []byte("payload"))}}
	m := &domain.Manifest{
		ManifestVersion: domain.ManifestVersion,
		StartedUTC:      "2026-01-02T03:04:05Z",
		EndedUTC:        "2026-01-02T03:04:06Z",
		Step:            domain.StepInfo{Name: "clean", Source: "steps/clean.go", CodeHash: "sha256:abc"},
		Parameters:      domain.ParameterSet{Effective: params, Hash: paramHash},
		Environment:     domain.EnvironmentInfo{Summary: env, Hash: envHash},
		Inputs:          inputs,
		Outputs:         []domain.OutputEntry{{Path: "result.txt", ID: domain.IDFor(domain.KindBlob, []byte("out"))}},
		Tool:            domain.ToolInfo{Name: "graft", Version: "dev"},
	}
	m.RunID = m.Identity()
	return m
}

func TestManifest_VerifyAcceptsConsistent(t *testing.T) {
	m := buildManifest(t)
	require.NoError(t, m.Verify())
}

func TestManifest_VerifyDetectsTampering(t *testing.T) {
	t.Run("Parameter Drift", func(t *testing.T) {
		m := buildManifest(t)
		m.Parameters.Effective["threshold"] = 0.9
		err := m.Verify()
		assert.True(t, errors.Is(err, domain.ErrCorrupt), "got %v", err)
	})

	t.Run("Identity Drift", func(t *testing.T) {
		m := buildManifest(t)
		m.Step.CodeHash = "sha256:tampered"
		err := m.Verify()
		assert.True(t, errors.Is(err, domain.ErrCorrupt), "got %v", err)
	})

	t.Run("Timestamps Do Not Affect Identity", func(t *testing.T) {
		m := buildManifest(t)
		m.StartedUTC = "1999-01-01T00:00:00Z"
		m.EndedUTC = "1999-01-01T00:00:01Z"
		require.NoError(t, m.Verify())
	})
}

func TestManifest_OutputLookup(t *testing.T) {
	m := buildManifest(t)

	id, ok := m.Output("result.txt")
	require.True(t, ok)
	assert.True(t, m.Produces(id))

	_, ok = m.Output("missing")
	assert.False(t, ok)
	assert.False(t, m.Produces(domain.IDFor(domain.KindBlob, []byte("unrelated"))))
}

func TestManifest_PrettyEncodingRoundTripsIdentity(t *testing.T) {
	m := buildManifest(t)
	pretty, err := domain.PrettyJSON(m)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(pretty), "\n"))

	// The stored form must re-verify after decoding.
	var decoded domain.Manifest
	require.NoError(t, json.Unmarshal(pretty, &decoded))
	require.NoError(t, decoded.Verify())
	assert.Equal(t, m.RunID, decoded.RunID)
}
