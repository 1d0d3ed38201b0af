package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// Store implements ports.ObjectStore and ports.AliasStore in memory.
// Safe for concurrent use. Intended for tests and embedding demos; it
// deliberately does not implement ports.Linker, so materialization from it
// always falls back to copying.
type Store struct {
	mu        sync.RWMutex
	objects   map[domain.ID][]byte
	manifests map[domain.ID][]byte
	aliases   map[string]domain.ID
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		objects:   make(map[domain.ID][]byte),
		manifests: make(map[domain.ID][]byte),
		aliases:   make(map[string]domain.ID),
	}
}

// PutBlob reads r fully and stores it under its blob id.
func (s *Store) PutBlob(ctx context.Context, r io.Reader) (domain.ID, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to read blob content: %w", err)
	}
	id := domain.IDFor(domain.KindBlob, data)
	s.put(id, data)
	return id, nil
}

// PutTree stores a canonical tree listing under its tree id.
func (s *Store) PutTree(ctx context.Context, canonical []byte) (domain.ID, error) {
	id := domain.IDFor(domain.KindTree, canonical)
	s.put(id, canonical)
	return id, nil
}

// PutManifest commits a verified manifest under its run id.
func (s *Store) PutManifest(ctx context.Context, m *domain.Manifest) (domain.ID, error) {
	if err := m.Verify(); err != nil {
		return domain.ID{}, err
	}
	data, err := domain.PrettyJSON(m)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to encode manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// First commit wins; identical identity makes the overwrite question moot.
	if _, ok := s.manifests[m.RunID]; !ok {
		s.manifests[m.RunID] = data
	}
	return m.RunID, nil
}

func (s *Store) put(id domain.ID, data []byte) {
	copied := make([]byte, len(data))
	copy(copied, data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[id] = copied
}

// Open returns a reader over the stored bytes.
func (s *Store) Open(ctx context.Context, id domain.ID) (io.ReadCloser, error) {
	data, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Get returns a copy of the stored bytes, verifying blob and tree content
// against the address.
func (s *Store) Get(ctx context.Context, id domain.ID) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.lookup(id)
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, domain.ErrNotFound)
	}
	if id.Kind != domain.KindRun {
		if got := domain.Digest(data); got != id.Hex {
			return nil, fmt.Errorf("object %s: content hashes to %s: %w", id, got[:12], domain.ErrCorrupt)
		}
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// lookup must be called with the read lock held.
func (s *Store) lookup(id domain.ID) ([]byte, bool) {
	if id.Kind == domain.KindRun {
		data, ok := s.manifests[id]
		return data, ok
	}
	data, ok := s.objects[id]
	return data, ok
}

// Has reports whether the object exists.
func (s *Store) Has(ctx context.Context, id domain.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lookup(id)
	return ok, nil
}

// GetManifest reads and verifies a committed manifest.
func (s *Store) GetManifest(ctx context.Context, id domain.ID) (*domain.Manifest, error) {
	if id.Kind != domain.KindRun {
		return nil, fmt.Errorf("id %s is not a run id: %w", id, domain.ErrNotFound)
	}
	data, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := domain.DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: undecodable: %v: %w", id.Short(), err, domain.ErrCorrupt)
	}
	if err := m.Verify(); err != nil {
		return nil, err
	}
	if m.RunID != id {
		return nil, fmt.Errorf("manifest %s: document claims run id %s: %w", id.Short(), m.RunID.Short(), domain.ErrCorrupt)
	}
	return m, nil
}

// ListManifests returns all committed manifest ids in sorted order.
func (s *Store) ListManifests(ctx context.Context) ([]domain.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]domain.ID, 0, len(s.manifests))
	for id := range s.manifests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex < ids[j].Hex })
	return ids, nil
}

// Corrupt overwrites a stored object's bytes in place, leaving its address
// untouched. Test hook for exercising integrity detection.
func (s *Store) Corrupt(id domain.ID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.Kind == domain.KindRun {
		s.manifests[id] = data
		return
	}
	s.objects[id] = data
}

// SetAlias binds name to id, overwriting any previous binding.
func (s *Store) SetAlias(ctx context.Context, name string, id domain.ID) error {
	if err := domain.ValidateAliasName(name); err != nil {
		return err
	}
	if id.IsZero() {
		return fmt.Errorf("alias %q: cannot bind the zero id", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[name] = id
	return nil
}

// GetAlias resolves a name.
func (s *Store) GetAlias(ctx context.Context, name string) (domain.ID, error) {
	if err := domain.ValidateAliasName(name); err != nil {
		return domain.ID{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliases[name]
	if !ok {
		return domain.ID{}, fmt.Errorf("alias %q: %w", name, domain.ErrNotFound)
	}
	return id, nil
}

// ListAliases returns all bindings sorted by name.
func (s *Store) ListAliases(ctx context.Context) ([]ports.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	aliases := make([]ports.Alias, 0, len(s.aliases))
	for name, id := range s.aliases {
		aliases = append(aliases, ports.Alias{Name: name, ID: id})
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Name < aliases[j].Name })
	return aliases, nil
}
