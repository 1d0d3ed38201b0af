// Package step defines the contract between the engine and user-authored
// steps: a three-stage interface, a capability-limited run context, and a
// registry binding step names to their source files and factories.
package step

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aretw0/graft/internal/logging"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/params"
)

// Interface is what a step implements. The engine drives the three stages in
// order: Load reads inputs, Core transforms, Save writes results under the
// output area. A step observes the world only through the RunContext it is
// handed; it never sees the store or other runs.
type Interface interface {
	Load(rc *RunContext) error
	Core(rc *RunContext) error
	Save(rc *RunContext) error
}

// Factory builds a fresh step instance for a single run.
type Factory func() Interface

// Definition binds a step name to the source file whose structural hash
// identifies the code, plus the parameters the step declares.
type Definition struct {
	Name   string
	Source string
	// SourceBytes, when set, is hashed in place of reading Source from disk.
	// Built-in steps embed their source this way; Source stays as the name
	// recorded in manifests.
	SourceBytes []byte
	Params      []params.Declaration
}

// Registry maps step names to their definitions and factories.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]registration
}

type registration struct {
	def     Definition
	factory Factory
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]registration),
	}
}

// Register adds a step to the registry.
// If a step with the same name exists, it is overwritten.
func (r *Registry) Register(def Definition, factory Factory) error {
	if def.Name == "" {
		return fmt.Errorf("step definition has no name")
	}
	if def.Source == "" {
		return fmt.Errorf("step %q has no source file", def.Name)
	}
	if factory == nil {
		return fmt.Errorf("step %q has no factory", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[def.Name] = registration{def: def, factory: factory}
	return nil
}

// Lookup returns the definition and factory for a step name.
func (r *Registry) Lookup(name string) (Definition, Factory, error) {
	r.mu.RLock()
	reg, ok := r.steps[name]
	r.mu.RUnlock()

	if !ok {
		return Definition{}, nil, fmt.Errorf("step %q: %w", name, domain.ErrNotFound)
	}
	return reg.def, reg.factory, nil
}

// Names lists the registered step names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.steps))
	for name := range r.steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ContextConfig carries everything the engine stages for one run.
type ContextConfig struct {
	// Workdir is the private staging directory for this run.
	Workdir string
	// OutDir is where the step writes results; its top-level entries become
	// the run's outputs.
	OutDir string
	// Params is the effective parameter set after resolution.
	Params map[string]any
	// Inputs maps input names to their staged paths under the workdir.
	Inputs map[string]string
	// Logger receives step-side log lines. Nil means discard.
	Logger *slog.Logger
}

// RunContext is the only surface a step sees during execution.
type RunContext struct {
	ctx     context.Context
	logger  *slog.Logger
	workdir string
	outDir  string
	params  map[string]any
	inputs  map[string]string
	stash   map[string]any
}

// NewRunContext builds the context handed to a step's stages.
func NewRunContext(ctx context.Context, cfg ContextConfig) *RunContext {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RunContext{
		ctx:     ctx,
		logger:  logger,
		workdir: cfg.Workdir,
		outDir:  cfg.OutDir,
		params:  cfg.Params,
		inputs:  cfg.Inputs,
		stash:   make(map[string]any),
	}
}

// Context returns the run's cancellation context.
func (rc *RunContext) Context() context.Context {
	return rc.ctx
}

// Logger returns the step-scoped logger.
func (rc *RunContext) Logger() *slog.Logger {
	return rc.logger
}

// Workdir returns the run's private staging directory.
func (rc *RunContext) Workdir() string {
	return rc.workdir
}

// Param returns one effective parameter value, or nil when absent.
func (rc *RunContext) Param(key string) any {
	return rc.params[key]
}

// Params returns a copy of the effective parameter set.
func (rc *RunContext) Params() map[string]any {
	out := make(map[string]any, len(rc.params))
	for k, v := range rc.params {
		out[k] = v
	}
	return out
}

// InputNames returns the run's logical input names, sorted.
func (rc *RunContext) InputNames() []string {
	names := make([]string, 0, len(rc.inputs))
	for name := range rc.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InputPath returns the staged path of a named input.
func (rc *RunContext) InputPath(name string) (string, error) {
	p, ok := rc.inputs[name]
	if !ok {
		return "", fmt.Errorf("input %q: %w", name, domain.ErrNotFound)
	}
	return p, nil
}

// OpenInput opens a named file input read-only.
func (rc *RunContext) OpenInput(name string) (*os.File, error) {
	p, err := rc.InputPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %q: %w", name, err)
	}
	return f, nil
}

// OutputPath returns a path under the run's output area, creating parent
// directories. rel must stay inside the output area.
func (rc *RunContext) OutputPath(rel string) (string, error) {
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("output path %q escapes the output area", rel)
	}
	full := filepath.Join(rc.outDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to prepare output path: %w", err)
	}
	return full, nil
}

// Stash stores a value for a later stage of the same run.
func (rc *RunContext) Stash(key string, value any) {
	rc.stash[key] = value
}

// Fetch retrieves a value stored by an earlier stage.
func (rc *RunContext) Fetch(key string) (any, bool) {
	v, ok := rc.stash[key]
	return v, ok
}
