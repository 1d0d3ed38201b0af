package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/graft/pkg/domain"
)

func decls() []Declaration {
	return []Declaration{
		{Name: "threshold", Default: 0.5},
		{Name: "label", Default: "dev"},
		{Name: "seed", Required: true},
	}
}

func TestResolvePrecedence(t *testing.T) {
	cli := map[string]string{"threshold": "0.9"}
	environ := []string{
		"GRAFT_PARAM_THRESHOLD=0.7",
		"GRAFT_PARAM_SEED=42",
		"PATH=/usr/bin",
	}
	config := map[string]any{"label": "prod", "threshold": 0.1}

	res, err := Resolve(decls(), cli, environ, config)
	require.NoError(t, err)

	assert.Equal(t, 0.9, res.Effective["threshold"])
	assert.Equal(t, "prod", res.Effective["label"])
	assert.Equal(t, 42, res.Effective["seed"])

	assert.Equal(t, SourceCLI, res.Provenance["threshold"])
	assert.Equal(t, SourceConfig, res.Provenance["label"])
	assert.Equal(t, SourceEnv, res.Provenance["seed"])
	assert.NotEmpty(t, res.Hash)
}

func TestResolveDefaultsApply(t *testing.T) {
	res, err := Resolve(decls(), nil, []string{"GRAFT_PARAM_SEED=1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.5, res.Effective["threshold"])
	assert.Equal(t, "dev", res.Effective["label"])
	assert.Equal(t, SourceDefault, res.Provenance["threshold"])
	assert.Equal(t, SourceDefault, res.Provenance["label"])
}

func TestResolveMissingRequired(t *testing.T) {
	_, err := Resolve(decls(), nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrParamUnresolved)
	assert.Contains(t, err.Error(), "seed")
}

func TestResolveHashTracksValues(t *testing.T) {
	base, err := Resolve(decls(), nil, []string{"GRAFT_PARAM_SEED=1"}, nil)
	require.NoError(t, err)

	same, err := Resolve(decls(), nil, []string{"GRAFT_PARAM_SEED=1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, base.Hash, same.Hash, "identical values must hash alike")

	// Same value arriving via CLI instead of environment: provenance differs
	// but the hash covers values only.
	viaCLI, err := Resolve(decls(), map[string]string{"seed": "1"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, base.Hash, viaCLI.Hash, "provenance must not leak into the hash")

	changed, err := Resolve(decls(), nil, []string{"GRAFT_PARAM_SEED=2"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, base.Hash, changed.Hash)
}

func TestResolveRejectsUnknownKeys(t *testing.T) {
	t.Run("Unknown CLI Key", func(t *testing.T) {
		_, err := Resolve(decls(), map[string]string{"treshold": "0.9", "seed": "1"}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "treshold")
	})

	t.Run("Unknown Env Variable", func(t *testing.T) {
		_, err := Resolve(decls(), nil, []string{"GRAFT_PARAM_SEED=1", "GRAFT_PARAM_TYPO=x"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GRAFT_PARAM_TYPO")
	})

	t.Run("Unknown Config Key Ignored", func(t *testing.T) {
		res, err := Resolve(decls(), nil, []string{"GRAFT_PARAM_SEED=1"}, map[string]any{"other_step_knob": true})
		require.NoError(t, err)
		assert.NotContains(t, res.Effective, "other_step_knob")
	})
}

func TestResolveDuplicateDeclaration(t *testing.T) {
	_, err := Resolve([]Declaration{{Name: "x"}, {Name: "x"}}, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared twice")
}

func TestParseScalarTyping(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want any
	}{
		{"Int", "3", 3},
		{"Float", "3.5", 3.5},
		{"Bool", "true", true},
		{"String", "hello", "hello"},
		{"Quoted Number Stays String", `"3"`, "3"},
		{"Null", "null", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseScalar(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseKeyValue(t *testing.T) {
	k, v, err := ParseKeyValue("seed=42")
	require.NoError(t, err)
	assert.Equal(t, "seed", k)
	assert.Equal(t, "42", v)

	k, v, err = ParseKeyValue("label=a=b")
	require.NoError(t, err)
	assert.Equal(t, "label", k)
	assert.Equal(t, "a=b", v)

	_, _, err = ParseKeyValue("novalue")
	require.Error(t, err)

	_, _, err = ParseKeyValue("=orphan")
	require.Error(t, err)
}

func TestDecodeIntoStruct(t *testing.T) {
	type knobs struct {
		Threshold float64 `mapstructure:"threshold"`
		Label     string  `mapstructure:"label"`
		Seed      int     `mapstructure:"seed"`
	}

	res, err := Resolve(decls(), map[string]string{"seed": "7"}, nil, nil)
	require.NoError(t, err)

	var k knobs
	require.NoError(t, Decode(res.Effective, &k))
	assert.Equal(t, 0.5, k.Threshold)
	assert.Equal(t, "dev", k.Label)
	assert.Equal(t, 7, k.Seed)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("YAML Flat", func(t *testing.T) {
		path := filepath.Join(dir, "flat.yaml")
		require.NoError(t, os.WriteFile(path, []byte("threshold: 0.25\nlabel: stage\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 0.25, cfg["threshold"])
		assert.Equal(t, "stage", cfg["label"])
	})

	t.Run("YAML Params Section", func(t *testing.T) {
		path := filepath.Join(dir, "scoped.yaml")
		require.NoError(t, os.WriteFile(path, []byte("store: /tmp/elsewhere\nparams:\n  seed: 9\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 9, cfg["seed"])
		assert.NotContains(t, cfg, "store")
	})

	t.Run("JSON", func(t *testing.T) {
		path := filepath.Join(dir, "params.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"seed": 3}`), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Contains(t, cfg, "seed")
	})

	t.Run("Missing File Is Empty", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(dir, "absent.yaml"))
		require.NoError(t, err)
		assert.Empty(t, cfg)
	})

	t.Run("Malformed Params Section", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("params: [1, 2]\n"), 0o644))

		_, err := LoadConfig(path)
		require.Error(t, err)
	})
}
