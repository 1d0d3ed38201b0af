package ports

import (
	"context"
	"io"

	"github.com/aretw0/graft/pkg/domain"
)

// ObjectStore defines the interface for content-addressed object storage.
// Objects are immutable: once an id is visible, its content never changes.
type ObjectStore interface {
	// PutBlob streams r into the store and returns its blob id. Storing
	// content that is already present is a no-op returning the same id.
	PutBlob(ctx context.Context, r io.Reader) (domain.ID, error)

	// PutTree stores a canonical tree listing. The id is the hash of exactly
	// the given bytes.
	PutTree(ctx context.Context, canonical []byte) (domain.ID, error)

	// PutManifest commits a run manifest under its RunID. The manifest must
	// pass Verify; committing an identical manifest again is a no-op.
	PutManifest(ctx context.Context, m *domain.Manifest) (domain.ID, error)

	// Open returns a reader over the object's bytes.
	// Returns domain.ErrNotFound if the id is not stored.
	Open(ctx context.Context, id domain.ID) (io.ReadCloser, error)

	// Get reads the object fully and verifies blob and tree content against
	// the address. Returns domain.ErrCorrupt on mismatch.
	Get(ctx context.Context, id domain.ID) ([]byte, error)

	// Has reports whether the object exists, without verification.
	Has(ctx context.Context, id domain.ID) (bool, error)

	// GetManifest reads and decodes a manifest and verifies its identity.
	// Returns domain.ErrNotFound if absent, domain.ErrCorrupt if the stored
	// document does not recompute to its own address.
	GetManifest(ctx context.Context, id domain.ID) (*domain.Manifest, error)

	// ListManifests enumerates all committed manifest ids in sorted order.
	ListManifests(ctx context.Context) ([]domain.ID, error)
}

// Linker is an optional interface for stores whose objects live on a local
// filesystem. The materializer uses it to create links instead of copies;
// stores that cannot provide a stable path simply do not implement it.
type Linker interface {
	// ObjectPath returns the absolute path of a stored object.
	// Returns domain.ErrNotFound if the id is not stored.
	ObjectPath(id domain.ID) (string, error)
}

// Stager is an optional interface for stores that can host run workdirs next
// to their objects, keeping staged files on the same filesystem so links work.
type Stager interface {
	// StageDir returns a writable directory for temporary run state.
	StageDir() (string, error)
}

// Alias is one name → typed-id binding.
type Alias struct {
	Name string
	ID   domain.ID
}

// AliasStore defines the interface for mutable human-readable names.
// Bindings have no history; a rebind simply replaces the previous target.
type AliasStore interface {
	// SetAlias binds name to id, overwriting any previous binding.
	SetAlias(ctx context.Context, name string, id domain.ID) error

	// GetAlias resolves a name. Returns domain.ErrNotFound if unbound.
	GetAlias(ctx context.Context, name string) (domain.ID, error)

	// ListAliases returns all bindings sorted by name.
	ListAliases(ctx context.Context) ([]Alias, error)
}

// LineageIndex is a derived mapping from output id to the runs that produced
// it. It is a pure accelerator: it may be dropped and rebuilt at any time, and
// its answers are always re-verified against manifests before use.
type LineageIndex interface {
	// Record adds the outputs of a committed manifest to the index.
	Record(ctx context.Context, m *domain.Manifest) error

	// Producers returns the run ids recorded for an output id. An empty
	// result is not authoritative; callers fall back to scanning.
	Producers(ctx context.Context, output domain.ID) ([]domain.ID, error)

	// Reset clears the index so it can be rebuilt from scratch.
	Reset(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}
