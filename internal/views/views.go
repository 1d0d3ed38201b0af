// Package views gathers outputs from several runs into one directory, so a
// batch of related runs can be browsed side by side without touching the
// store layout.
package views

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/graft/internal/lineage"
	"github.com/aretw0/graft/internal/logging"
	"github.com/aretw0/graft/internal/materialize"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// View layouts.
const (
	LayoutFlat  = "flat"   // <dest>/<output path>, conflicts suffixed with the run id
	LayoutByRun = "by-run" // <dest>/<run short id>/<output path>
)

// Config assembles a Builder.
type Config struct {
	Store   ports.ObjectStore
	Aliases ports.AliasStore
	Lineage *lineage.Service
	Logger  *slog.Logger
}

// Builder aggregates run outputs into view directories.
type Builder struct {
	store   ports.ObjectStore
	aliases ports.AliasStore
	lineage *lineage.Service
	logger  *slog.Logger
}

// New validates the configuration and builds a Builder.
func New(cfg Config) (*Builder, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("views: Store is required")
	}
	if cfg.Aliases == nil {
		return nil, fmt.Errorf("views: Aliases is required")
	}
	if cfg.Lineage == nil {
		return nil, fmt.Errorf("views: Lineage is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{store: cfg.Store, aliases: cfg.Aliases, lineage: cfg.Lineage, logger: logger}, nil
}

// Request selects the runs and outputs to gather.
type Request struct {
	// Selectors name the runs to draw from: run ids, aliases, or artifact ids.
	// An artifact selector is resolved to the run that produced it.
	Selectors []string
	// Select filters logical output paths with a doublestar glob.
	// Empty selects every output.
	Select string
	// Dest is the view directory root.
	Dest string
	// Layout is LayoutFlat (default) or LayoutByRun.
	Layout string
	// Mode and Overwrite pass through to materialization.
	Mode      string
	Overwrite bool
}

// Placement records one materialized output.
type Placement struct {
	Selector string    `json:"selector"`
	RunID    domain.ID `json:"run_id"`
	Path     string    `json:"path"`
	ID       domain.ID `json:"id"`
	// Dest is the placed path relative to the view root.
	Dest string `json:"dest"`
}

// Report lists everything a view placed.
type Report struct {
	Dest       string      `json:"dest"`
	Placements []Placement `json:"placements"`
}

// Aggregate materializes the selected outputs under req.Dest. Selectors are
// processed in order; a run reached through several selectors contributes
// once. Placement conflicts follow the materializer's rules.
func (b *Builder) Aggregate(ctx context.Context, req Request) (*Report, error) {
	if req.Dest == "" {
		return nil, fmt.Errorf("view destination is required")
	}
	if len(req.Selectors) == 0 {
		return nil, fmt.Errorf("at least one selector is required")
	}
	layout := req.Layout
	if layout == "" {
		layout = LayoutFlat
	}
	if layout != LayoutFlat && layout != LayoutByRun {
		return nil, fmt.Errorf("unknown view layout %q", layout)
	}

	report := &Report{Dest: req.Dest}
	opts := materialize.Options{Mode: req.Mode, Overwrite: req.Overwrite}
	seen := map[domain.ID]bool{}
	claimed := map[string]domain.ID{}

	for _, selector := range req.Selectors {
		m, err := b.resolveSelector(ctx, selector)
		if err != nil {
			return nil, err
		}
		if seen[m.RunID] {
			b.logger.Debug("selector repeats a run, skipping", "selector", selector, "run", m.RunID.Short())
			continue
		}
		seen[m.RunID] = true

		for _, out := range m.Outputs {
			if req.Select != "" {
				ok, err := doublestar.Match(req.Select, out.Path)
				if err != nil {
					return nil, fmt.Errorf("bad select pattern %q: %w", req.Select, err)
				}
				if !ok {
					continue
				}
			}

			rel, err := placementName(layout, m.RunID, out.Path, claimed)
			if err != nil {
				return nil, err
			}
			claimed[rel] = m.RunID

			if err := materialize.Place(ctx, b.store, out.ID, filepath.Join(req.Dest, rel), opts); err != nil {
				return nil, fmt.Errorf("selector %q output %q: %w", selector, out.Path, err)
			}
			b.logger.Debug("placed view entry", "run", m.RunID.Short(), "path", out.Path, "dest", rel)
			report.Placements = append(report.Placements, Placement{
				Selector: selector,
				RunID:    m.RunID,
				Path:     out.Path,
				ID:       out.ID,
				Dest:     rel,
			})
		}
	}

	if len(report.Placements) == 0 {
		b.logger.Warn("view selected no outputs", "select", req.Select)
	}
	return report, nil
}

// resolveSelector turns a selector into the manifest of the run it names.
// Artifact ids and artifact-valued aliases resolve through lineage.
func (b *Builder) resolveSelector(ctx context.Context, selector string) (*domain.Manifest, error) {
	if selector == "" {
		return nil, fmt.Errorf("empty selector")
	}

	raw := strings.TrimPrefix(selector, "alias:")
	id, err := domain.ParseID(raw)
	if err != nil {
		// Not a typed id: treat it as an alias name.
		id, err = b.aliases.GetAlias(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", selector, err)
		}
	}

	if id.Kind == domain.KindRun {
		m, err := b.store.GetManifest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", selector, err)
		}
		return m, nil
	}
	m, err := b.lineage.WhoBuilt(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("selector %q: artifact %s: %w", selector, id.Short(), err)
	}
	return m, nil
}

// placementName computes the view-relative path for one output and resolves
// flat-layout collisions by suffixing the run id.
func placementName(layout string, runID domain.ID, outPath string, claimed map[string]domain.ID) (string, error) {
	if layout == LayoutByRun {
		return filepath.Join(runID.Short(), outPath), nil
	}

	rel := strings.ReplaceAll(outPath, "/", "_")
	owner, taken := claimed[rel]
	if !taken || owner == runID {
		return rel, nil
	}
	ext := filepath.Ext(rel)
	rel = strings.TrimSuffix(rel, ext) + "-" + runID.Short() + ext
	if prev, taken := claimed[rel]; taken && prev != runID {
		return "", fmt.Errorf("view name conflict on %q", rel)
	}
	return rel, nil
}
