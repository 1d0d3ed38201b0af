package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/graft/pkg/domain"
)

// Store implements ports.ObjectStore and ports.AliasStore on the local
// filesystem. Objects are laid out content-addressed with a two-level hash
// prefix fan-out:
//
//	<root>/blobs/sha256/ab/cd/<remaining-60-hex>
//	<root>/trees/sha256/ab/cd/<remaining-60-hex>
//	<root>/manifests/sha256/ab/cd/<remaining-60-hex>
//	<root>/aliases/<name>
//	<root>/tmp/
//
// Every write stages to a private file under tmp/ and completes with a single
// atomic rename, so concurrent writers never expose partial objects.
type Store struct {
	root string
}

// New creates a Store rooted at root.
// If root is empty, it defaults to ".graft".
func New(root string) (*Store, error) {
	if root == "" {
		root = ".graft"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute store root directory.
func (s *Store) Root() string {
	return s.root
}

// StageDir returns the staging area for temporary files and run workdirs,
// creating it if needed. It lives inside the store root so renames out of it
// never cross filesystems.
func (s *Store) StageDir() (string, error) {
	dir := filepath.Join(s.root, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to ensure staging directory: %w", err)
	}
	return dir, nil
}

// namespace maps an id kind to its top-level directory.
func namespace(kind domain.Kind) string {
	switch kind {
	case domain.KindBlob:
		return "blobs"
	case domain.KindTree:
		return "trees"
	case domain.KindRun:
		return "manifests"
	}
	return ""
}

// objectPath computes the fan-out path for an id without touching the disk.
func (s *Store) objectPath(id domain.ID) (string, error) {
	ns := namespace(id.Kind)
	if ns == "" {
		return "", fmt.Errorf("id %q: unknown kind: %w", id, domain.ErrNotFound)
	}
	if len(id.Hex) != sha256.Size*2 || id.Algorithm != domain.AlgorithmSHA256 {
		return "", fmt.Errorf("id %q: unsupported address: %w", id, domain.ErrNotFound)
	}
	return filepath.Join(s.root, ns, id.Algorithm, id.Hex[:2], id.Hex[2:4], id.Hex[4:]), nil
}

// PutBlob streams r into the store, hashing while writing, and commits the
// content under its blob id.
func (s *Store) PutBlob(ctx context.Context, r io.Reader) (domain.ID, error) {
	stage, err := s.StageDir()
	if err != nil {
		return domain.ID{}, err
	}

	// 1. Stage to a private temp file, hashing as we copy.
	tmpFile, err := os.CreateTemp(stage, "blob-*")
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmpFile, hasher), r); err != nil {
		return domain.ID{}, fmt.Errorf("failed to write blob content: %w", err)
	}
	id := domain.NewID(domain.KindBlob, hex.EncodeToString(hasher.Sum(nil)))

	// 2. Commit via atomic rename.
	if err := s.commitTemp(tmpFile, id); err != nil {
		return domain.ID{}, err
	}
	return id, nil
}

// PutTree stores a canonical tree listing; the id is the hash of exactly the
// given bytes.
func (s *Store) PutTree(ctx context.Context, canonical []byte) (domain.ID, error) {
	id := domain.IDFor(domain.KindTree, canonical)
	if err := s.putBytes(id, canonical); err != nil {
		return domain.ID{}, err
	}
	return id, nil
}

// PutManifest commits a verified manifest under its run id. The stored
// encoding is pretty JSON; identity lives in the manifest's own fields.
// Committing a run id that is already present is idempotent.
func (s *Store) PutManifest(ctx context.Context, m *domain.Manifest) (domain.ID, error) {
	if err := m.Verify(); err != nil {
		return domain.ID{}, err
	}
	path, err := s.objectPath(m.RunID)
	if err != nil {
		return domain.ID{}, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		// Already committed. The stored record wins; verify it still matches.
		if _, err := s.GetManifest(ctx, m.RunID); err != nil {
			return domain.ID{}, err
		}
		return m.RunID, nil
	}

	data, err := domain.PrettyJSON(m)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := s.putBytes(m.RunID, data); err != nil {
		return domain.ID{}, err
	}
	return m.RunID, nil
}

// putBytes writes data to the object path of id using the stage-then-rename
// discipline.
func (s *Store) putBytes(id domain.ID, data []byte) error {
	stage, err := s.StageDir()
	if err != nil {
		return err
	}

	// 1. Create temp file in the staging area (same filesystem as the target,
	// required for atomic rename).
	tmpFile, err := os.CreateTemp(stage, string(id.Kind)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	// 2. Write data.
	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	return s.commitTemp(tmpFile, id)
}

// commitTemp fsyncs, closes, and renames an already written temp file into
// its final content address. The temp file must live inside the store.
func (s *Store) commitTemp(tmpFile *os.File, id domain.ID) error {
	dest, err := s.objectPath(id)
	if err != nil {
		return err
	}

	// 1. Fsync for durability before the rename publishes the object.
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	// 2. Committed objects are immutable; drop write permission before they
	// become visible so links handed out later cannot modify the store.
	if err := tmpFile.Chmod(0o444); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	// 3. Close before rename (cannot rename an open file on Windows).
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// 4. If the object already exists the content is identical (same
	// address), so the staged copy is redundant.
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to ensure object directory: %w", err)
	}

	// 5. Atomic rename. If a concurrent writer won the race the destination
	// now exists with the same content; that counts as success.
	if err := os.Rename(tmpFile.Name(), dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			return nil
		}
		return fmt.Errorf("failed to rename temp file into store: %w", err)
	}
	return nil
}

// Open returns a reader over the stored object's bytes.
func (s *Store) Open(ctx context.Context, id domain.ID) (io.ReadCloser, error) {
	path, err := s.objectPath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", id, err)
	}
	return f, nil
}

// Get reads an object fully. For blobs and trees the content is re-hashed and
// checked against the address; a mismatch is domain.ErrCorrupt. Manifests are
// addressed by run identity, not content hash, so their verification happens
// in GetManifest.
func (s *Store) Get(ctx context.Context, id domain.ID) ([]byte, error) {
	path, err := s.objectPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", id, err)
	}
	if id.Kind != domain.KindRun {
		if got := domain.Digest(data); got != id.Hex {
			return nil, fmt.Errorf("object %s: content hashes to %s: %w", id, got[:12], domain.ErrCorrupt)
		}
	}
	return data, nil
}

// Has reports whether the object exists. No content verification.
func (s *Store) Has(ctx context.Context, id domain.ID) (bool, error) {
	path, err := s.objectPath(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", id, err)
	}
	return true, nil
}

// ObjectPath implements ports.Linker for link-based materialization.
func (s *Store) ObjectPath(id domain.ID) (string, error) {
	path, err := s.objectPath(id)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("object %s: %w", id, domain.ErrNotFound)
		}
		return "", fmt.Errorf("failed to stat object %s: %w", id, err)
	}
	return path, nil
}

// GetManifest reads, decodes, and verifies a committed manifest. The decoded
// document must recompute to the id it is stored under.
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

// ListManifests enumerates every committed manifest id in sorted order by
// walking the fan-out directories. Files that do not reassemble into a valid
// address (stray temp leftovers) are ignored.
func (s *Store) ListManifests(ctx context.Context) ([]domain.ID, error) {
	base := filepath.Join(s.root, "manifests", domain.AlgorithmSHA256)
	var ids []domain.ID

	walk := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			return relErr
		}
		digest := joinFanout(filepath.ToSlash(rel))
		if digest == "" {
			return nil
		}
		id, parseErr := domain.ParseID("run:" + domain.AlgorithmSHA256 + ":" + digest)
		if parseErr != nil {
			return nil
		}
		ids = append(ids, id)
		return nil
	}
	if err := filepath.WalkDir(base, walk); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to walk manifest namespace: %w", err)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex < ids[j].Hex })
	return ids, nil
}

// joinFanout reassembles "ab/cd/rest" into "abcdrest", returning "" for
// anything that is not a two-level fan-out path.
func joinFanout(rel string) string {
	parts := strings.Split(rel, "/")
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return ""
	}
	return parts[0] + parts[1] + parts[2]
}
