// Package runner executes registered steps against a content store and
// commits one immutable manifest per run. Identity comes first: the run id is
// known before anything executes, and a run whose manifest already exists is
// answered from the store without running at all.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/graft/internal/codehash"
	"github.com/aretw0/graft/internal/logging"
	"github.com/aretw0/graft/internal/materialize"
	"github.com/aretw0/graft/internal/snapshot"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/observability"
	"github.com/aretw0/graft/pkg/params"
	"github.com/aretw0/graft/pkg/ports"
	"github.com/aretw0/graft/pkg/step"
)

// Config assembles an Engine.
type Config struct {
	Store   ports.ObjectStore
	Aliases ports.AliasStore
	// Index, when present, receives best-effort updates after each commit.
	Index    ports.LineageIndex
	Registry *step.Registry
	// Logger defaults to a no-op logger.
	Logger *slog.Logger
	// Metrics defaults to the no-op recorder.
	Metrics observability.Recorder
	// Tool names the build recorded in manifests.
	Tool domain.ToolInfo
}

// Engine runs steps and adopts external artifacts.
type Engine struct {
	store    ports.ObjectStore
	aliases  ports.AliasStore
	index    ports.LineageIndex
	registry *step.Registry
	logger   *slog.Logger
	metrics  observability.Recorder
	tool     domain.ToolInfo
}

// New validates the configuration and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner: Store is required")
	}
	if cfg.Aliases == nil {
		return nil, fmt.Errorf("runner: Aliases is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("runner: Registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.Nop()
	}
	tool := cfg.Tool
	if tool.Name == "" {
		tool = domain.ToolInfo{Name: "graft", Version: "dev"}
	}
	return &Engine{
		store:    cfg.Store,
		aliases:  cfg.Aliases,
		index:    cfg.Index,
		registry: cfg.Registry,
		logger:   logger,
		metrics:  metrics,
		tool:     tool,
	}, nil
}

// RunRequest describes one step invocation.
type RunRequest struct {
	// Step is the registered step name.
	Step string
	// Inputs maps logical input names to specs: "@path" adopts a file or
	// directory on the fly, "alias:name" resolves through the alias store,
	// "blob:sha256:<hex>" and "tree:sha256:<hex>" are direct ids, and a bare
	// name is treated as an alias.
	Inputs map[string]string
	// Params are raw key=value overrides from the command line.
	Params map[string]string
	// ConfigPath optionally names a YAML/JSON file with parameter values.
	ConfigPath string
	// Alias, when set, is bound after commit: to the run's only output when
	// there is exactly one, otherwise to the run id.
	Alias string
	// Force executes even when an identical run is already committed. The
	// recommit is idempotent; the stored manifest keeps its original
	// timestamps.
	Force bool
	// KeepWorkdir retains the staging directory for debugging.
	KeepWorkdir bool
	// CaptureModules embeds the binary's module list in the environment
	// summary.
	CaptureModules bool
}

// RunResult reports the outcome of a Run.
type RunResult struct {
	Manifest *domain.Manifest
	// CacheHit is true when the manifest came from a previous identical run
	// and nothing was executed.
	CacheHit bool
	// Workdir is the retained staging directory when KeepWorkdir was set.
	Workdir string
}

// Run resolves the full run identity, answers from the store when an
// identical run is already committed, and otherwise executes the step and
// commits its manifest.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	started := time.Now()
	res, err := e.run(ctx, req)

	status := observability.StatusCompleted
	switch {
	case err != nil:
		status = observability.StatusFailed
	case res.CacheHit:
		status = observability.StatusCacheHit
	}
	e.metrics.RunFinished(req.Step, status, time.Since(started).Seconds())
	return res, err
}

func (e *Engine) run(ctx context.Context, req RunRequest) (*RunResult, error) {
	// 1. Resolve the step and hash its source. A file that does not parse
	// aborts before anything touches the store.
	def, factory, err := e.registry.Lookup(req.Step)
	if err != nil {
		return nil, err
	}
	var codeHash string
	if len(def.SourceBytes) > 0 {
		codeHash, err = codehash.Hash(def.SourceBytes, def.Source)
	} else {
		codeHash, err = codehash.HashFile(def.Source)
	}
	if err != nil {
		return nil, err
	}

	// 2. Resolve inputs to typed ids, sorted by name.
	bindings, err := e.resolveInputs(ctx, req.Inputs)
	if err != nil {
		return nil, err
	}

	// 3. Resolve parameters from CLI, environment, config, and defaults.
	config := map[string]any{}
	if req.ConfigPath != "" {
		if config, err = params.LoadConfig(req.ConfigPath); err != nil {
			return nil, err
		}
	}
	resolved, err := params.Resolve(def.Params, req.Params, os.Environ(), config)
	if err != nil {
		return nil, err
	}

	// 4. Summarize the execution environment.
	env, err := environmentSummary(os.Environ(), req.CaptureModules)
	if err != nil {
		return nil, err
	}

	// 5. The run identity is now fully determined.
	runID := domain.ComputeRunID(codeHash, bindings, resolved.Hash, env.Hash)
	logger := e.logger.With("step", def.Name, "run", runID.Short())

	// 6. Cache check: an already committed identical run short-circuits. A
	// corrupt stored manifest surfaces instead of silently re-running.
	if !req.Force {
		m, err := e.store.GetManifest(ctx, runID)
		if err == nil {
			logger.Info("cache hit, skipping execution")
			if err := e.bindAlias(ctx, req.Alias, m); err != nil {
				return nil, err
			}
			return &RunResult{Manifest: m, CacheHit: true}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	// 7. Stage the private workdir with materialized inputs and an empty
	// output area.
	workdir, err := e.stageWorkdir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if !req.KeepWorkdir {
			os.RemoveAll(workdir)
		}
	}()
	outDir := filepath.Join(workdir, "out")
	inputPaths := make(map[string]string, len(bindings))
	for _, b := range bindings {
		dest := filepath.Join(workdir, "in", b.Name)
		if err := materialize.Place(ctx, e.store, b.ID, dest, materialize.Options{}); err != nil {
			return nil, fmt.Errorf("failed to stage input %q: %w", b.Name, err)
		}
		inputPaths[b.Name] = dest
	}

	// 8. Execute the three stages. Any error or panic aborts with nothing
	// committed; the deferred cleanup removes the workdir.
	startedUTC := utcNow()
	rc := step.NewRunContext(ctx, step.ContextConfig{
		Workdir: workdir,
		OutDir:  outDir,
		Params:  resolved.Effective,
		Inputs:  inputPaths,
		Logger:  logger,
	})
	impl := factory()
	for _, stage := range []struct {
		name string
		fn   func(*step.RunContext) error
	}{
		{"load", impl.Load},
		{"core", impl.Core},
		{"save", impl.Save},
	} {
		if err := execStage(def.Name, stage.name, stage.fn, rc); err != nil {
			logger.Error("stage failed", "stage", stage.name, "error", err)
			return nil, err
		}
	}

	// 9. Commit outputs, then the manifest. The manifest write is the single
	// commitment point: a crash before it leaves only unreferenced objects.
	outputs, err := e.commitOutputs(ctx, outDir)
	if err != nil {
		return nil, err
	}
	m := &domain.Manifest{
		ManifestVersion: domain.ManifestVersion,
		RunID:           runID,
		StartedUTC:      startedUTC,
		EndedUTC:        utcNow(),
		Step: domain.StepInfo{
			Name:     def.Name,
			Source:   def.Source,
			CodeHash: codeHash,
		},
		Parameters: domain.ParameterSet{
			Effective:  resolved.Effective,
			Provenance: resolved.Provenance,
			Hash:       resolved.Hash,
		},
		Environment: env,
		Inputs:      bindings,
		Outputs:     outputs,
		Tool:        e.tool,
	}
	if _, err := e.store.PutManifest(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to commit manifest: %w", err)
	}
	e.metrics.ObjectCommitted("run")

	// The store keeps the first commit of an identity, so read back what a
	// forced re-run actually left in place.
	stored, err := e.store.GetManifest(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back manifest: %w", err)
	}

	// 10. Index update is best-effort: the run already succeeded.
	if e.index != nil {
		if err := e.index.Record(ctx, stored); err != nil {
			logger.Warn("lineage index update failed", "error", err)
		}
	}

	if err := e.bindAlias(ctx, req.Alias, stored); err != nil {
		return nil, err
	}
	logger.Info("run committed", "outputs", len(outputs))

	res := &RunResult{Manifest: stored}
	if req.KeepWorkdir {
		res.Workdir = workdir
	}
	return res, nil
}

// bindAlias points alias at the run's only output, or at the run id when the
// run has zero or several outputs. Single-output aliasing keeps the alias
// usable as a later run's input.
func (e *Engine) bindAlias(ctx context.Context, alias string, m *domain.Manifest) error {
	if alias == "" {
		return nil
	}
	target := m.RunID
	if len(m.Outputs) == 1 {
		target = m.Outputs[0].ID
	}
	if err := e.aliases.SetAlias(ctx, alias, target); err != nil {
		return fmt.Errorf("run %s committed but alias %q failed: %w", m.RunID.Short(), alias, err)
	}
	return nil
}

// execStage runs one stage with panic recovery so a misbehaving step cannot
// take down the engine.
func execStage(stepName, stage string, fn func(*step.RunContext) error, rc *step.RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s: %s stage panicked: %v", stepName, stage, r)
		}
	}()
	if err := fn(rc); err != nil {
		return fmt.Errorf("step %s: %s stage: %w", stepName, stage, err)
	}
	return nil
}

// commitOutputs scans the top level of the output area: each directory
// becomes a tree, each regular file a blob. Anything else is an error.
// os.ReadDir returns entries sorted by name, which fixes the manifest order.
func (e *Engine) commitOutputs(ctx context.Context, outDir string) ([]domain.OutputEntry, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan outputs: %w", err)
	}
	outputs := make([]domain.OutputEntry, 0, len(entries))
	for _, entry := range entries {
		full := filepath.Join(outDir, entry.Name())
		switch {
		case entry.IsDir():
			id, listing, err := snapshot.Tree(ctx, e.store, full)
			if err != nil {
				return nil, fmt.Errorf("failed to commit output %q: %w", entry.Name(), err)
			}
			for _, le := range listing.Entries {
				if le.Kind == snapshot.KindFile {
					e.metrics.ObjectCommitted("blob")
				}
			}
			e.metrics.ObjectCommitted("tree")
			outputs = append(outputs, domain.OutputEntry{Path: entry.Name(), ID: id})
		case entry.Type().IsRegular():
			id, err := snapshot.File(ctx, e.store, full)
			if err != nil {
				return nil, fmt.Errorf("failed to commit output %q: %w", entry.Name(), err)
			}
			e.metrics.ObjectCommitted("blob")
			outputs = append(outputs, domain.OutputEntry{Path: entry.Name(), ID: id})
		default:
			return nil, fmt.Errorf("output %q is neither a regular file nor a directory", entry.Name())
		}
	}
	return outputs, nil
}

// resolveInputs turns name=spec pairs into typed bindings, sorted by name.
func (e *Engine) resolveInputs(ctx context.Context, specs map[string]string) ([]domain.InputBinding, error) {
	bindings := make([]domain.InputBinding, 0, len(specs))
	for name, spec := range specs {
		if name == "" {
			return nil, fmt.Errorf("input binding with empty name")
		}
		id, err := e.ResolveInput(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		bindings = append(bindings, domain.InputBinding{Name: name, Spec: spec, ID: id})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Name < bindings[j].Name })
	return bindings, nil
}

// ResolveInput resolves one input spec to a typed id. Run ids are rejected: a
// manifest is a provenance record, not a materializable artifact.
func (e *Engine) ResolveInput(ctx context.Context, spec string) (domain.ID, error) {
	switch {
	case spec == "":
		return domain.ID{}, fmt.Errorf("empty input spec")
	case strings.HasPrefix(spec, "@"):
		return e.Adopt(ctx, strings.TrimPrefix(spec, "@"))
	case strings.HasPrefix(spec, "alias:"):
		return e.resolveAliasInput(ctx, strings.TrimPrefix(spec, "alias:"))
	case strings.Contains(spec, ":"):
		id, err := domain.ParseID(spec)
		if err != nil {
			return domain.ID{}, err
		}
		if id.Kind == domain.KindRun {
			return domain.ID{}, fmt.Errorf("run ids cannot be used as inputs")
		}
		ok, err := e.store.Has(ctx, id)
		if err != nil {
			return domain.ID{}, err
		}
		if !ok {
			return domain.ID{}, fmt.Errorf("%s: %w", id.Short(), domain.ErrNotFound)
		}
		return id, nil
	default:
		return e.resolveAliasInput(ctx, spec)
	}
}

func (e *Engine) resolveAliasInput(ctx context.Context, name string) (domain.ID, error) {
	id, err := e.aliases.GetAlias(ctx, name)
	if err != nil {
		return domain.ID{}, err
	}
	if id.Kind == domain.KindRun {
		return domain.ID{}, fmt.Errorf("alias %q resolves to a run; run ids cannot be used as inputs", name)
	}
	ok, err := e.store.Has(ctx, id)
	if err != nil {
		return domain.ID{}, err
	}
	if !ok {
		return domain.ID{}, fmt.Errorf("alias %q points at missing object %s: %w", name, id.Short(), domain.ErrNotFound)
	}
	return id, nil
}

// ResolveTarget resolves a user-facing object reference: a typed id, an
// "alias:" prefixed name, or a bare alias name. Unlike inputs, run ids are
// valid targets here.
func (e *Engine) ResolveTarget(ctx context.Context, ref string) (domain.ID, error) {
	if ref == "" {
		return domain.ID{}, fmt.Errorf("empty object reference")
	}
	if name, ok := strings.CutPrefix(ref, "alias:"); ok {
		return e.aliases.GetAlias(ctx, name)
	}
	if strings.Contains(ref, ":") {
		return domain.ParseID(ref)
	}
	return e.aliases.GetAlias(ctx, ref)
}

// Adopt snapshots an external file or directory into the store and returns
// its id. Adopted artifacts are lineage leaves: no manifest produces them.
func (e *Engine) Adopt(ctx context.Context, path string) (domain.ID, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		id, listing, err := snapshot.Tree(ctx, e.store, path)
		if err != nil {
			return domain.ID{}, err
		}
		for _, entry := range listing.Entries {
			if entry.Kind == snapshot.KindFile {
				e.metrics.ObjectCommitted("blob")
			}
		}
		e.metrics.ObjectCommitted("tree")
		return id, nil
	}
	id, err := snapshot.File(ctx, e.store, path)
	if err != nil {
		return domain.ID{}, err
	}
	e.metrics.ObjectCommitted("blob")
	return id, nil
}

// stageWorkdir creates tmp/run-<12 hex>/ with in/ and out/ areas, next to the
// store's objects when the store can host it so links stay on one filesystem.
func (e *Engine) stageWorkdir() (string, error) {
	var base string
	if stager, ok := e.store.(ports.Stager); ok {
		dir, err := stager.StageDir()
		if err != nil {
			return "", err
		}
		base = dir
	} else {
		base = os.TempDir()
	}
	u := uuid.New()
	dir := filepath.Join(base, fmt.Sprintf("run-%x", u[:6]))
	for _, sub := range []string{"in", "out"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("failed to stage workdir: %w", err)
		}
	}
	return dir, nil
}

func utcNow() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}
