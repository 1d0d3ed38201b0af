package graft

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aretw0/graft/internal/adapters/fs"
	"github.com/aretw0/graft/internal/adapters/sqlite"
	"github.com/aretw0/graft/internal/lineage"
	"github.com/aretw0/graft/internal/logging"
	"github.com/aretw0/graft/internal/materialize"
	"github.com/aretw0/graft/internal/runner"
	"github.com/aretw0/graft/internal/views"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/observability"
	"github.com/aretw0/graft/pkg/ports"
	"github.com/aretw0/graft/pkg/step"
)

// DefaultStoreDir is the store location used when none is given.
const DefaultStoreDir = ".graft"

// IndexFileName is the lineage index database inside a file store.
const IndexFileName = "index.db"

// RunRequest describes one step invocation. See the field docs on the
// underlying type for the input spec grammar.
type RunRequest = runner.RunRequest

// RunResult reports the outcome of a run, including cache hits.
type RunResult = runner.RunResult

// Graph is a derivation graph as returned by Trace.
type Graph = lineage.Graph

// MaterializeOptions control how objects are checked out.
type MaterializeOptions = materialize.Options

// ViewRequest describes an aggregate view over several runs.
type ViewRequest = views.Request

// ViewReport lists what an aggregate view placed where.
type ViewReport = views.Report

// Engine is the high-level entry point for the graft library. It wires the
// content store, the runner, and the lineage service behind one API.
type Engine struct {
	store    ports.ObjectStore
	aliases  ports.AliasStore
	index    ports.LineageIndex
	registry *step.Registry
	runner   *runner.Engine
	lineage  *lineage.Service
	viewer   *views.Builder
	metrics  observability.Recorder
	logger   *slog.Logger
	tool     domain.ToolInfo
	storeDir string
	noIndex  bool
	ownIndex bool
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore injects a custom object store, bypassing the default file store.
// The store must also implement ports.AliasStore unless WithAliases is given.
func WithStore(s ports.ObjectStore) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithAliases keeps alias bindings somewhere other than the object store,
// for example in a shared Redis hash.
func WithAliases(a ports.AliasStore) Option {
	return func(e *Engine) {
		e.aliases = a
	}
}

// WithIndex injects a lineage index. The caller keeps ownership: Close will
// not close an injected index.
func WithIndex(idx ports.LineageIndex) Option {
	return func(e *Engine) {
		e.index = idx
	}
}

// WithoutIndex disables the default on-disk lineage index. Provenance queries
// fall back to scanning manifests.
func WithoutIndex() Option {
	return func(e *Engine) {
		e.noIndex = true
	}
}

// WithRegistry uses a caller-owned step registry instead of a fresh one.
func WithRegistry(r *step.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics registers a metrics recorder.
func WithMetrics(m observability.Recorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTool overrides the tool stamp recorded in manifests.
func WithTool(tool domain.ToolInfo) Option {
	return func(e *Engine) {
		e.tool = tool
	}
}

// New initializes a graft Engine.
// By default it opens (creating if needed) a file store at storeDir and a
// lineage index next to its objects. If WithStore is provided, storeDir may
// be empty and no file store is touched.
func New(storeDir string, opts ...Option) (*Engine, error) {
	eng := &Engine{}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.logger == nil {
		eng.logger = logging.NewNop()
	}
	if eng.metrics == nil {
		eng.metrics = observability.Nop()
	}
	if eng.registry == nil {
		eng.registry = step.NewRegistry()
	}
	if eng.tool.Name == "" {
		eng.tool = domain.ToolInfo{Name: "graft", Version: strings.TrimSpace(Version)}
	}

	if eng.store == nil {
		if storeDir == "" {
			storeDir = DefaultStoreDir
		}
		absPath, err := filepath.Abs(storeDir)
		if err != nil {
			return nil, fmt.Errorf("invalid store path: %w", err)
		}
		fstore, err := fs.New(absPath)
		if err != nil {
			return nil, err
		}
		eng.store = fstore
		eng.storeDir = absPath
		if eng.aliases == nil {
			eng.aliases = fstore
		}
		// The index is an accelerator. When it cannot be opened the engine
		// still works, answering lineage queries by scanning.
		if eng.index == nil && !eng.noIndex {
			idx, err := sqlite.Open(filepath.Join(absPath, IndexFileName))
			if err != nil {
				eng.logger.Warn("lineage index unavailable, queries will scan", "error", err)
			} else {
				eng.index = idx
				eng.ownIndex = true
			}
		}
	} else if eng.aliases == nil {
		al, ok := eng.store.(ports.AliasStore)
		if !ok {
			return nil, fmt.Errorf("injected store holds no aliases; provide WithAliases")
		}
		eng.aliases = al
	}

	run, err := runner.New(runner.Config{
		Store:    eng.store,
		Aliases:  eng.aliases,
		Index:    eng.index,
		Registry: eng.registry,
		Logger:   eng.logger,
		Metrics:  eng.metrics,
		Tool:     eng.tool,
	})
	if err != nil {
		return nil, err
	}
	eng.runner = run

	lin, err := lineage.New(lineage.Config{
		Store:   eng.store,
		Index:   eng.index,
		Logger:  eng.logger,
		Metrics: eng.metrics,
	})
	if err != nil {
		return nil, err
	}
	eng.lineage = lin

	viewer, err := views.New(views.Config{
		Store:   eng.store,
		Aliases: eng.aliases,
		Lineage: lin,
		Logger:  eng.logger,
	})
	if err != nil {
		return nil, err
	}
	eng.viewer = viewer

	return eng, nil
}

// Close releases resources the engine opened itself, currently the default
// lineage index. Injected collaborators stay open.
func (e *Engine) Close() error {
	if e.index != nil && e.ownIndex {
		return e.index.Close()
	}
	return nil
}

// Register adds a step definition to the engine's registry.
func (e *Engine) Register(def step.Definition, factory step.Factory) error {
	return e.registry.Register(def, factory)
}

// Run resolves the run identity, answers from the store on a cache hit, and
// otherwise executes the step and commits its manifest.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	return e.runner.Run(ctx, req)
}

// Adopt snapshots an external file or directory into the store and returns
// its id. Adopted artifacts are lineage leaves.
func (e *Engine) Adopt(ctx context.Context, path string) (domain.ID, error) {
	return e.runner.Adopt(ctx, path)
}

// Resolve turns a user-facing reference (typed id, "alias:" name, or bare
// alias) into a typed id.
func (e *Engine) Resolve(ctx context.Context, ref string) (domain.ID, error) {
	return e.runner.ResolveTarget(ctx, ref)
}

// Manifest loads the provenance record behind ref: run ids load directly,
// artifact ids and aliases resolve through who-built.
func (e *Engine) Manifest(ctx context.Context, ref string) (*domain.Manifest, error) {
	id, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if id.Kind == domain.KindRun {
		return e.store.GetManifest(ctx, id)
	}
	return e.lineage.WhoBuilt(ctx, id)
}

// WhoBuilt returns the manifest of the run that produced the referenced
// artifact.
func (e *Engine) WhoBuilt(ctx context.Context, ref string) (*domain.Manifest, error) {
	id, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if id.Kind == domain.KindRun {
		return nil, fmt.Errorf("%s is a run id; runs are not produced, pass an artifact id", id.Short())
	}
	return e.lineage.WhoBuilt(ctx, id)
}

// Trace walks the derivation graph behind ref back to adopted sources.
func (e *Engine) Trace(ctx context.Context, ref string) (*Graph, error) {
	id, err := e.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return e.lineage.Trace(ctx, id)
}

// Materialize checks out the referenced object at dest.
func (e *Engine) Materialize(ctx context.Context, ref, dest string, opts MaterializeOptions) error {
	id, err := e.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return materialize.Place(ctx, e.store, id, dest, opts)
}

// View aggregates outputs of several runs into one directory.
func (e *Engine) View(ctx context.Context, req ViewRequest) (*ViewReport, error) {
	return e.viewer.Aggregate(ctx, req)
}

// SetAlias binds name to the object ref resolves to. The object must exist.
func (e *Engine) SetAlias(ctx context.Context, name, ref string) error {
	id, err := e.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	ok, err := e.store.Has(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("alias target %s: %w", id.Short(), domain.ErrNotFound)
	}
	return e.aliases.SetAlias(ctx, name, id)
}

// Store returns the underlying object store.
func (e *Engine) Store() ports.ObjectStore {
	return e.store
}

// Aliases returns the underlying alias store.
func (e *Engine) Aliases() ports.AliasStore {
	return e.aliases
}

// Lineage returns the lineage service, for wiring servers.
func (e *Engine) Lineage() *lineage.Service {
	return e.lineage
}

// Index returns the lineage index, or nil when disabled.
func (e *Engine) Index() ports.LineageIndex {
	return e.index
}

// Registry returns the step registry the engine runs from.
func (e *Engine) Registry() *step.Registry {
	return e.registry
}

// StoreDir returns the root of the default file store, or "" when a custom
// store was injected.
func (e *Engine) StoreDir() string {
	return e.storeDir
}
