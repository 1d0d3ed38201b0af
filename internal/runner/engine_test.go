package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/graft/internal/adapters/fs"
	"github.com/aretw0/graft/internal/codehash"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/params"
	"github.com/aretw0/graft/pkg/step"
)

// testStep lets each test express a step as closures.
type testStep struct {
	load func(*step.RunContext) error
	core func(*step.RunContext) error
	save func(*step.RunContext) error
}

func (s testStep) Load(rc *step.RunContext) error {
	if s.load != nil {
		return s.load(rc)
	}
	return nil
}

func (s testStep) Core(rc *step.RunContext) error {
	if s.core != nil {
		return s.core(rc)
	}
	return nil
}

func (s testStep) Save(rc *step.RunContext) error {
	if s.save != nil {
		return s.save(rc)
	}
	return nil
}

// writeStepSource writes a parseable source file for a step definition.
func writeStepSource(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "step.go")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const upcaseSource = `package steps

import "strings"

func upcase(s string) string {
	return strings.ToUpper(s)
}
`

func newEngine(t *testing.T, reg *step.Registry) (*Engine, *fs.Store) {
	t.Helper()
	store, err := fs.New(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	eng, err := New(Config{Store: store, Aliases: store, Registry: reg})
	require.NoError(t, err)
	return eng, store
}

// registerUpcase registers a step that upper-cases the "text" input into
// out/result.txt and counts its executions.
func registerUpcase(t *testing.T, reg *step.Registry, executions *int) {
	t.Helper()
	def := step.Definition{
		Name:   "upcase",
		Source: writeStepSource(t, upcaseSource),
		Params: []params.Declaration{{Name: "suffix", Default: ""}},
	}
	err := reg.Register(def, func() step.Interface {
		return testStep{
			core: func(rc *step.RunContext) error {
				*executions++
				f, err := rc.OpenInput("text")
				if err != nil {
					return err
				}
				defer f.Close()
				buf := make([]byte, 1<<16)
				n, _ := f.Read(buf)
				rc.Stash("result", strings.ToUpper(string(buf[:n]))+fmt.Sprint(rc.Param("suffix")))
				return nil
			},
			save: func(rc *step.RunContext) error {
				v, _ := rc.Fetch("result")
				out, err := rc.OutputPath("result.txt")
				if err != nil {
					return err
				}
				return os.WriteFile(out, []byte(v.(string)), 0o644)
			},
		}
	})
	require.NoError(t, err)
}

func writeInputFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunCommitsManifestAndOutputs(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	var executions int
	registerUpcase(t, reg, &executions)
	eng, store := newEngine(t, reg)

	res, err := eng.Run(ctx, RunRequest{
		Step:   "upcase",
		Inputs: map[string]string{"text": "@" + writeInputFile(t, "hello graft")},
	})
	require.NoError(t, err)
	require.False(t, res.CacheHit)
	assert.Equal(t, 1, executions)

	m := res.Manifest
	require.NoError(t, m.Verify())
	assert.Equal(t, domain.KindRun, m.RunID.Kind)
	assert.Equal(t, "upcase", m.Step.Name)
	assert.NotEmpty(t, m.StartedUTC)
	assert.NotEmpty(t, m.EndedUTC)
	require.Len(t, m.Outputs, 1)
	assert.Equal(t, "result.txt", m.Outputs[0].Path)

	data, err := store.Get(ctx, m.Outputs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "HELLO GRAFT", string(data))

	// The committed manifest is readable by id and lists the input binding.
	stored, err := store.GetManifest(ctx, m.RunID)
	require.NoError(t, err)
	require.Len(t, stored.Inputs, 1)
	assert.Equal(t, "text", stored.Inputs[0].Name)
	assert.Equal(t, domain.KindBlob, stored.Inputs[0].ID.Kind)
}

func TestRunCacheHitSkipsExecution(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	var executions int
	registerUpcase(t, reg, &executions)
	eng, _ := newEngine(t, reg)

	input := writeInputFile(t, "same bytes")
	req := RunRequest{Step: "upcase", Inputs: map[string]string{"text": "@" + input}}

	first, err := eng.Run(ctx, req)
	require.NoError(t, err)
	second, err := eng.Run(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 1, executions, "cache hit must not execute the step")
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Manifest.RunID, second.Manifest.RunID)
	assert.Equal(t, first.Manifest.EndedUTC, second.Manifest.EndedUTC)
}

func TestRunIdentityComponents(t *testing.T) {
	ctx := context.Background()
	t.Setenv("TZ", "UTC")
	reg := step.NewRegistry()
	var executions int
	registerUpcase(t, reg, &executions)
	eng, _ := newEngine(t, reg)

	base, err := eng.Run(ctx, RunRequest{
		Step:   "upcase",
		Inputs: map[string]string{"text": "@" + writeInputFile(t, "payload one")},
	})
	require.NoError(t, err)

	t.Run("Input Change", func(t *testing.T) {
		res, err := eng.Run(ctx, RunRequest{
			Step:   "upcase",
			Inputs: map[string]string{"text": "@" + writeInputFile(t, "payload two")},
		})
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
		assert.NotEqual(t, base.Manifest.RunID, res.Manifest.RunID)
	})

	t.Run("Parameter Change", func(t *testing.T) {
		res, err := eng.Run(ctx, RunRequest{
			Step:   "upcase",
			Inputs: map[string]string{"text": "@" + writeInputFile(t, "payload one")},
			Params: map[string]string{"suffix": "'!'"},
		})
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
		assert.NotEqual(t, base.Manifest.RunID, res.Manifest.RunID)
	})

	t.Run("Environment Change", func(t *testing.T) {
		t.Setenv("TZ", "Pacific/Auckland")
		res, err := eng.Run(ctx, RunRequest{
			Step:   "upcase",
			Inputs: map[string]string{"text": "@" + writeInputFile(t, "payload one")},
		})
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
		assert.NotEqual(t, base.Manifest.RunID, res.Manifest.RunID)
	})

	t.Run("Code Change", func(t *testing.T) {
		var n int
		changed := step.Definition{
			Name:   "upcase2",
			Source: writeStepSource(t, strings.Replace(upcaseSource, "ToUpper", "ToLower", 1)),
			Params: []params.Declaration{{Name: "suffix", Default: ""}},
		}
		require.NoError(t, reg.Register(changed, func() step.Interface {
			n++
			return testStep{}
		}))
		res, err := eng.Run(ctx, RunRequest{
			Step:   "upcase2",
			Inputs: map[string]string{"text": "@" + writeInputFile(t, "payload one")},
		})
		require.NoError(t, err)
		assert.NotEqual(t, base.Manifest.RunID, res.Manifest.RunID)
	})
}

func TestRunFailureCommitsNothing(t *testing.T) {
	ctx := context.Background()
	def := step.Definition{Name: "boom", Source: writeStepSource(t, upcaseSource)}

	t.Run("Stage Error", func(t *testing.T) {
		r := step.NewRegistry()
		require.NoError(t, r.Register(def, func() step.Interface {
			return testStep{core: func(*step.RunContext) error { return fmt.Errorf("no can do") }}
		}))
		eng, store := newEngine(t, r)

		_, err := eng.Run(ctx, RunRequest{Step: "boom"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "core stage")

		ids, err := store.ListManifests(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids, "a failed run must not commit a manifest")
	})

	t.Run("Panic Is Recovered", func(t *testing.T) {
		r := step.NewRegistry()
		require.NoError(t, r.Register(def, func() step.Interface {
			return testStep{save: func(*step.RunContext) error { panic("lost my marbles") }}
		}))
		eng, store := newEngine(t, r)

		_, err := eng.Run(ctx, RunRequest{Step: "boom"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
		assert.Contains(t, err.Error(), "lost my marbles")

		ids, err := store.ListManifests(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestRunUnparseableSource(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	def := step.Definition{
		Name:   "broken",
		Source: writeStepSource(t, "package steps\n\nfunc { nope"),
	}
	require.NoError(t, reg.Register(def, func() step.Interface { return testStep{} }))
	eng, _ := newEngine(t, reg)

	_, err := eng.Run(ctx, RunRequest{Step: "broken"})
	require.ErrorIs(t, err, domain.ErrInvalidSource)
}

func TestRunEmbeddedSource(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	def := step.Definition{
		Name:        "builtin",
		Source:      "builtin/noop.go",
		SourceBytes: []byte("package steps\n\nfunc noop() {}\n"),
	}
	require.NoError(t, reg.Register(def, func() step.Interface {
		return testStep{save: func(rc *step.RunContext) error {
			out, err := rc.OutputPath("done.txt")
			if err != nil {
				return err
			}
			return os.WriteFile(out, []byte("ok"), 0o644)
		}}
	}))
	eng, _ := newEngine(t, reg)

	// No file named builtin/noop.go exists; the embedded bytes are hashed.
	res, err := eng.Run(ctx, RunRequest{Step: "builtin"})
	require.NoError(t, err)

	wantHash, err := codehash.Hash(def.SourceBytes, def.Source)
	require.NoError(t, err)
	assert.Equal(t, wantHash, res.Manifest.Step.CodeHash)
	assert.Equal(t, "builtin/noop.go", res.Manifest.Step.Source)

	hit, err := eng.Run(ctx, RunRequest{Step: "builtin"})
	require.NoError(t, err)
	assert.True(t, hit.CacheHit)
}

func TestRunWorkdirLifecycle(t *testing.T) {
	ctx := context.Background()
	var observed string
	reg := step.NewRegistry()
	require.NoError(t, reg.Register(step.Definition{
		Name:   "probe",
		Source: writeStepSource(t, upcaseSource),
	}, func() step.Interface {
		return testStep{core: func(rc *step.RunContext) error {
			observed = rc.Workdir()
			return nil
		}}
	}))
	eng, store := newEngine(t, reg)

	t.Run("Removed By Default", func(t *testing.T) {
		_, err := eng.Run(ctx, RunRequest{Step: "probe"})
		require.NoError(t, err)
		require.NotEmpty(t, observed)
		assert.NoDirExists(t, observed)
		assert.Contains(t, observed, filepath.Join(store.Root(), "tmp"))
		assert.Contains(t, filepath.Base(observed), "run-")
	})

	t.Run("Kept On Request", func(t *testing.T) {
		res, err := eng.Run(ctx, RunRequest{Step: "probe", Force: true, KeepWorkdir: true})
		require.NoError(t, err)
		require.NotEmpty(t, res.Workdir)
		assert.DirExists(t, filepath.Join(res.Workdir, "out"))
	})
}

func TestRunForceReexecutes(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	var executions int
	registerUpcase(t, reg, &executions)
	eng, _ := newEngine(t, reg)

	input := writeInputFile(t, "force me")
	req := RunRequest{Step: "upcase", Inputs: map[string]string{"text": "@" + input}}

	first, err := eng.Run(ctx, req)
	require.NoError(t, err)

	req.Force = true
	second, err := eng.Run(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, 2, executions, "force must execute again")
	assert.False(t, second.CacheHit)
	assert.Equal(t, first.Manifest.RunID, second.Manifest.RunID)
	// First commit wins: the stored manifest keeps its original timestamps.
	assert.Equal(t, first.Manifest.StartedUTC, second.Manifest.StartedUTC)
	assert.Equal(t, first.Manifest.EndedUTC, second.Manifest.EndedUTC)
}

func TestRunAliasBinding(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	var executions int
	registerUpcase(t, reg, &executions)

	require.NoError(t, reg.Register(step.Definition{
		Name:   "twofer",
		Source: writeStepSource(t, upcaseSource),
	}, func() step.Interface {
		return testStep{save: func(rc *step.RunContext) error {
			for _, name := range []string{"a.txt", "b.txt"} {
				p, err := rc.OutputPath(name)
				if err != nil {
					return err
				}
				if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
					return err
				}
			}
			return nil
		}}
	}))
	eng, store := newEngine(t, reg)

	t.Run("Single Output Aliases The Output", func(t *testing.T) {
		res, err := eng.Run(ctx, RunRequest{
			Step:   "upcase",
			Inputs: map[string]string{"text": "@" + writeInputFile(t, "alias target")},
			Alias:  "exp/result",
		})
		require.NoError(t, err)

		id, err := store.GetAlias(ctx, "exp/result")
		require.NoError(t, err)
		assert.Equal(t, res.Manifest.Outputs[0].ID, id)
	})

	t.Run("Multiple Outputs Alias The Run", func(t *testing.T) {
		res, err := eng.Run(ctx, RunRequest{Step: "twofer", Alias: "exp/twofer"})
		require.NoError(t, err)

		id, err := store.GetAlias(ctx, "exp/twofer")
		require.NoError(t, err)
		assert.Equal(t, res.Manifest.RunID, id)
	})

	t.Run("Cache Hit Still Binds", func(t *testing.T) {
		input := writeInputFile(t, "rebind me")
		req := RunRequest{Step: "upcase", Inputs: map[string]string{"text": "@" + input}}
		_, err := eng.Run(ctx, req)
		require.NoError(t, err)

		req.Alias = "exp/late"
		res, err := eng.Run(ctx, req)
		require.NoError(t, err)
		require.True(t, res.CacheHit)

		_, err = store.GetAlias(ctx, "exp/late")
		require.NoError(t, err)
	})
}

func TestResolveInputGrammar(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	var executions int
	registerUpcase(t, reg, &executions)
	eng, store := newEngine(t, reg)

	blobID, err := eng.Adopt(ctx, writeInputFile(t, "direct"))
	require.NoError(t, err)
	require.NoError(t, store.SetAlias(ctx, "corpus/latest", blobID))

	runManifest, err := eng.Run(ctx, RunRequest{
		Step:   "upcase",
		Inputs: map[string]string{"text": "blob:" + domain.AlgorithmSHA256 + ":" + blobID.Hex},
	})
	require.NoError(t, err)
	require.NoError(t, store.SetAlias(ctx, "runs/latest", runManifest.Manifest.RunID))

	t.Run("Typed Id", func(t *testing.T) {
		id, err := eng.ResolveInput(ctx, blobID.String())
		require.NoError(t, err)
		assert.Equal(t, blobID, id)
	})

	t.Run("Alias Prefix", func(t *testing.T) {
		id, err := eng.ResolveInput(ctx, "alias:corpus/latest")
		require.NoError(t, err)
		assert.Equal(t, blobID, id)
	})

	t.Run("Bare Name Is An Alias", func(t *testing.T) {
		id, err := eng.ResolveInput(ctx, "corpus/latest")
		require.NoError(t, err)
		assert.Equal(t, blobID, id)
	})

	t.Run("Adopt Spec", func(t *testing.T) {
		id, err := eng.ResolveInput(ctx, "@"+writeInputFile(t, "fresh"))
		require.NoError(t, err)
		assert.Equal(t, domain.KindBlob, id.Kind)
	})

	t.Run("Run Id Rejected", func(t *testing.T) {
		_, err := eng.ResolveInput(ctx, runManifest.Manifest.RunID.String())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run ids cannot be used as inputs")
	})

	t.Run("Alias To Run Rejected", func(t *testing.T) {
		_, err := eng.ResolveInput(ctx, "alias:runs/latest")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolves to a run")
	})

	t.Run("Missing Object", func(t *testing.T) {
		missing := domain.IDFor(domain.KindBlob, []byte("nope"))
		_, err := eng.ResolveInput(ctx, missing.String())
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Unbound Alias", func(t *testing.T) {
		_, err := eng.ResolveInput(ctx, "alias:absent")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestAdoptDirectory(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	eng, store := newEngine(t, reg)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644))

	id, err := eng.Adopt(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, domain.KindTree, id.Kind)

	ok, err := store.Has(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunRejectsStrayOutputs(t *testing.T) {
	ctx := context.Background()
	reg := step.NewRegistry()
	require.NoError(t, reg.Register(step.Definition{
		Name:   "linker",
		Source: writeStepSource(t, upcaseSource),
	}, func() step.Interface {
		return testStep{save: func(rc *step.RunContext) error {
			p, err := rc.OutputPath("link")
			if err != nil {
				return err
			}
			return os.Symlink("/etc/passwd", p)
		}}
	}))
	eng, store := newEngine(t, reg)

	_, err := eng.Run(ctx, RunRequest{Step: "linker"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither a regular file nor a directory")

	ids, err := store.ListManifests(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEnvironmentSummary(t *testing.T) {
	base := []string{"TZ=UTC", "LANG=en_US.UTF-8", "HOME=/home/u", "SECRET=hunter2"}

	env, err := environmentSummary(base, false)
	require.NoError(t, err)
	assert.Equal(t, "UTC", env.Summary["tz"])
	assert.Equal(t, "en_US.UTF-8", env.Summary["lang"])
	assert.Equal(t, "", env.Summary["lc_all"])
	assert.NotContains(t, env.Summary, "modules")

	t.Run("Unrelated Variables Do Not Contribute", func(t *testing.T) {
		noisy, err := environmentSummary(append(base, "RANDOM_NOISE=1", "AWS_SECRET_ACCESS_KEY=x"), false)
		require.NoError(t, err)
		assert.Equal(t, env.Hash, noisy.Hash)
	})

	t.Run("Allowlisted Variables Do", func(t *testing.T) {
		shifted, err := environmentSummary(append(base, "TZ=Pacific/Auckland"), false)
		require.NoError(t, err)
		assert.NotEqual(t, env.Hash, shifted.Hash)
		assert.Equal(t, "Pacific/Auckland", shifted.Summary["tz"], "last occurrence wins")
	})

	t.Run("Module Capture", func(t *testing.T) {
		withMods, err := environmentSummary(base, true)
		require.NoError(t, err)
		assert.Contains(t, withMods.Summary, "modules")
		assert.NotEqual(t, env.Hash, withMods.Hash)
	})
}

func TestNewValidatesConfig(t *testing.T) {
	store, err := fs.New(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	reg := step.NewRegistry()

	_, err = New(Config{Aliases: store, Registry: reg})
	assert.Error(t, err)
	_, err = New(Config{Store: store, Registry: reg})
	assert.Error(t, err)
	_, err = New(Config{Store: store, Aliases: store})
	assert.Error(t, err)
}
