package step

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/graft/pkg/domain"
)

type nopStep struct{}

func (nopStep) Load(*RunContext) error { return nil }
func (nopStep) Core(*RunContext) error { return nil }
func (nopStep) Save(*RunContext) error { return nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	def := Definition{Name: "tokenize", Source: "steps/tokenize.go"}
	require.NoError(t, r.Register(def, func() Interface { return nopStep{} }))

	t.Run("Lookup Registered", func(t *testing.T) {
		got, factory, err := r.Lookup("tokenize")
		require.NoError(t, err)
		assert.Equal(t, def, got)
		require.NotNil(t, factory)
		assert.Implements(t, (*Interface)(nil), factory())
	})

	t.Run("Lookup Unknown", func(t *testing.T) {
		_, _, err := r.Lookup("absent")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Names Sorted", func(t *testing.T) {
		require.NoError(t, r.Register(Definition{Name: "align", Source: "steps/align.go"},
			func() Interface { return nopStep{} }))
		assert.Equal(t, []string{"align", "tokenize"}, r.Names())
	})

	t.Run("Rejects Incomplete Registrations", func(t *testing.T) {
		assert.Error(t, r.Register(Definition{Source: "x.go"}, func() Interface { return nopStep{} }))
		assert.Error(t, r.Register(Definition{Name: "x"}, func() Interface { return nopStep{} }))
		assert.Error(t, r.Register(Definition{Name: "x", Source: "x.go"}, nil))
	})
}

func newTestContext(t *testing.T, inputs map[string]string) *RunContext {
	t.Helper()
	work := t.TempDir()
	out := filepath.Join(work, "out")
	require.NoError(t, os.MkdirAll(out, 0o755))
	return NewRunContext(context.Background(), ContextConfig{
		Workdir: work,
		OutDir:  out,
		Params:  map[string]any{"seed": 7},
		Inputs:  inputs,
	})
}

func TestRunContextParams(t *testing.T) {
	rc := newTestContext(t, nil)

	assert.Equal(t, 7, rc.Param("seed"))
	assert.Nil(t, rc.Param("absent"))

	// Mutating the copy must not reach the context.
	snap := rc.Params()
	snap["seed"] = 99
	assert.Equal(t, 7, rc.Param("seed"))
}

func TestRunContextInputs(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "corpus.txt")
	require.NoError(t, os.WriteFile(staged, []byte("hello"), 0o644))

	rc := newTestContext(t, map[string]string{"corpus": staged})

	p, err := rc.InputPath("corpus")
	require.NoError(t, err)
	assert.Equal(t, staged, p)

	f, err := rc.OpenInput("corpus")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = rc.InputPath("absent")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunContextInputNames(t *testing.T) {
	rc := newTestContext(t, map[string]string{"beta": "/b", "alpha": "/a"})
	assert.Equal(t, []string{"alpha", "beta"}, rc.InputNames())

	empty := newTestContext(t, nil)
	assert.Empty(t, empty.InputNames())
}

func TestRunContextOutputPath(t *testing.T) {
	rc := newTestContext(t, nil)

	p, err := rc.OutputPath("report/summary.json")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Dir(p))
	require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))

	for _, rel := range []string{"", "..", "../escape", "/abs/path"} {
		_, err := rc.OutputPath(rel)
		assert.Error(t, err, "rel %q must be rejected", rel)
	}
}

func TestRunContextStash(t *testing.T) {
	rc := newTestContext(t, nil)

	_, ok := rc.Fetch("model")
	assert.False(t, ok)

	rc.Stash("model", []int{1, 2, 3})
	v, ok := rc.Fetch("model")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, v)
}
