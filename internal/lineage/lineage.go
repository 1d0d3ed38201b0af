// Package lineage answers provenance queries: which run produced an artifact,
// and what chain of runs and sources it ultimately derives from. All answers
// come from manifest content; the optional index only shortens the search.
package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aretw0/graft/internal/logging"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/observability"
	"github.com/aretw0/graft/pkg/ports"
)

// Config assembles a Service.
type Config struct {
	Store ports.ObjectStore
	// Index, when present, accelerates producer lookups. Its answers are
	// verified against the store and never change a result.
	Index   ports.LineageIndex
	Logger  *slog.Logger
	Metrics observability.Recorder
}

// Service resolves lineage questions against a store.
type Service struct {
	store   ports.ObjectStore
	index   ports.LineageIndex
	logger  *slog.Logger
	metrics observability.Recorder
}

// New validates the configuration and builds a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("lineage: Store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.Nop()
	}
	return &Service{store: cfg.Store, index: cfg.Index, logger: logger, metrics: metrics}, nil
}

// WhoBuilt returns the manifest of the run that produced id. When several
// runs produced it, the most recently finished wins; exact timestamp ties
// break toward the lexicographically greatest run id, so the answer is a
// total order and deterministic. Returns ErrNotFound when no run did.
func (s *Service) WhoBuilt(ctx context.Context, id domain.ID) (*domain.Manifest, error) {
	s.metrics.LineageQuery("who_built")
	return s.producerOf(ctx, id)
}

func (s *Service) producerOf(ctx context.Context, id domain.ID) (*domain.Manifest, error) {
	if s.index != nil {
		if m, ok := s.producerFromIndex(ctx, id); ok {
			return m, nil
		}
	}

	ids, err := s.store.ListManifests(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list manifests: %w", err)
	}
	var candidates []*domain.Manifest
	for _, runID := range ids {
		m, err := s.store.GetManifest(ctx, runID)
		if err != nil {
			// A damaged manifest must not block queries about healthy runs.
			s.logger.Warn("skipping unreadable manifest", "run", runID.Short(), "error", err)
			continue
		}
		if m.Produces(id) {
			candidates = append(candidates, m)
		}
	}
	best := pickProducer(candidates)
	if best == nil {
		return nil, fmt.Errorf("no run produced %s: %w", id.Short(), domain.ErrNotFound)
	}
	return best, nil
}

// producerFromIndex resolves the producer through the index, verifying every
// candidate against the store. Any inconsistency falls back to the scan.
func (s *Service) producerFromIndex(ctx context.Context, id domain.ID) (*domain.Manifest, bool) {
	runIDs, err := s.index.Producers(ctx, id)
	if err != nil {
		s.logger.Warn("lineage index lookup failed", "error", err)
		return nil, false
	}
	var candidates []*domain.Manifest
	for _, runID := range runIDs {
		m, err := s.store.GetManifest(ctx, runID)
		if err != nil || !m.Produces(id) {
			// Stale index row; the scan path is authoritative.
			return nil, false
		}
		candidates = append(candidates, m)
	}
	if best := pickProducer(candidates); best != nil {
		return best, true
	}
	return nil, false
}

// pickProducer applies the deterministic tie-break over candidate producers.
func pickProducer(candidates []*domain.Manifest) *domain.Manifest {
	var best *domain.Manifest
	for _, m := range candidates {
		if best == nil {
			best = m
			continue
		}
		if m.EndedUTC > best.EndedUTC ||
			(m.EndedUTC == best.EndedUTC && m.RunID.Hex > best.RunID.Hex) {
			best = m
		}
	}
	return best
}

// Node kinds in a lineage graph.
const (
	NodeRun      = "run"
	NodeArtifact = "artifact"
)

// Edge kinds in a lineage graph.
const (
	EdgeProduced = "produced" // run → artifact
	EdgeConsumed = "consumed" // artifact → run
)

// Node is one vertex of a lineage graph.
type Node struct {
	ID   domain.ID `json:"id"`
	Kind string    `json:"kind"`
	// Step is the producing step's name. Run nodes only.
	Step string `json:"step,omitempty"`
	// Source marks artifacts no run produced: adopted leaves.
	Source bool `json:"source,omitempty"`
}

// Edge is one directed edge of a lineage graph.
type Edge struct {
	From domain.ID `json:"from"`
	To   domain.ID `json:"to"`
	Kind string    `json:"kind"`
}

// Graph is the derivation DAG behind one artifact or run. Nodes and edges
// are sorted for stable rendering.
type Graph struct {
	Root  domain.ID `json:"root"`
	Nodes []Node    `json:"nodes"`
	Edges []Edge    `json:"edges"`
}

// Sources returns the adopted leaves of the graph, sorted.
func Sources(g *Graph) []domain.ID {
	var out []domain.ID
	for _, n := range g.Nodes {
		if n.Kind == NodeArtifact && n.Source {
			out = append(out, n.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Trace walks backwards from id (an artifact or a run) to the adopted
// sources, building the full derivation DAG. Shared ancestors are visited
// once. A cycle cannot arise from honestly committed manifests, so finding
// one is reported as corruption.
func (s *Service) Trace(ctx context.Context, id domain.ID) (*Graph, error) {
	s.metrics.LineageQuery("trace")

	tr := &tracer{
		svc:   s,
		nodes: map[domain.ID]*Node{},
		edges: map[Edge]bool{},
		state: map[domain.ID]int{},
	}
	var err error
	if id.Kind == domain.KindRun {
		var m *domain.Manifest
		if m, err = s.store.GetManifest(ctx, id); err == nil {
			err = tr.visitRun(ctx, m)
		}
	} else {
		err = tr.visitArtifact(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	return tr.graph(id), nil
}

// tracer holds the walk state: nodes found so far, deduplicated edges, and
// the visit state used for memoization and cycle detection.
type tracer struct {
	svc   *Service
	nodes map[domain.ID]*Node
	edges map[Edge]bool
	state map[domain.ID]int
}

const (
	stateActive = 1
	stateDone   = 2
)

func (t *tracer) visitArtifact(ctx context.Context, id domain.ID) error {
	switch t.state[id] {
	case stateDone:
		return nil
	case stateActive:
		return fmt.Errorf("lineage of %s cycles back on itself: %w", id.Short(), domain.ErrCorrupt)
	}
	t.state[id] = stateActive
	node := &Node{ID: id, Kind: NodeArtifact}
	t.nodes[id] = node

	m, err := t.svc.producerOf(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		node.Source = true
		t.state[id] = stateDone
		return nil
	}
	if err != nil {
		return err
	}
	t.edges[Edge{From: m.RunID, To: id, Kind: EdgeProduced}] = true
	if err := t.visitRun(ctx, m); err != nil {
		return err
	}
	t.state[id] = stateDone
	return nil
}

func (t *tracer) visitRun(ctx context.Context, m *domain.Manifest) error {
	id := m.RunID
	switch t.state[id] {
	case stateDone:
		return nil
	case stateActive:
		return fmt.Errorf("lineage of %s cycles back on itself: %w", id.Short(), domain.ErrCorrupt)
	}
	t.state[id] = stateActive
	t.nodes[id] = &Node{ID: id, Kind: NodeRun, Step: m.Step.Name}

	for _, in := range m.Inputs {
		t.edges[Edge{From: in.ID, To: id, Kind: EdgeConsumed}] = true
		if err := t.visitArtifact(ctx, in.ID); err != nil {
			return err
		}
	}
	t.state[id] = stateDone
	return nil
}

// graph freezes the walk into a sorted Graph.
func (t *tracer) graph(root domain.ID) *Graph {
	g := &Graph{Root: root}
	for _, n := range t.nodes {
		g.Nodes = append(g.Nodes, *n)
	}
	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID.String() < g.Nodes[j].ID.String() })
	for e := range t.edges {
		g.Edges = append(g.Edges, e)
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From.String() < g.Edges[j].From.String()
		}
		return g.Edges[i].To.String() < g.Edges[j].To.String()
	})
	return g
}
