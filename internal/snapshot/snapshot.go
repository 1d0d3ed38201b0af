// Package snapshot builds deterministic content-addressed snapshots of files
// and directory trees. Two directories with identical (path, content, mode)
// sets produce identical tree ids on any machine, independent of filesystem
// enumeration order.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// ListingVersion is the current tree listing schema version.
const ListingVersion = 1

// Entry kinds.
const (
	KindFile    = "file"
	KindDir     = "dir" // only recorded for directories with no entries
	KindSymlink = "symlink"
)

// Entry is one path in a tree listing.
type Entry struct {
	// Path is the forward-slash relative path inside the tree.
	Path string `json:"path"`
	// Kind is file, dir, or symlink.
	Kind string `json:"kind"`
	// ID is the blob id of the file content. File entries only.
	ID *domain.ID `json:"id,omitempty"`
	// Mode is the permission bits (0o777 mask) of the entry. File and dir
	// entries only; part of the tree identity.
	Mode uint32 `json:"mode,omitempty"`
	// Target is the literal link text. Symlink entries only; links are
	// recorded, never followed.
	Target string `json:"target,omitempty"`
}

// TreeListing is the canonical serialization of a directory snapshot. The
// tree id is the hash of exactly its canonical JSON encoding.
type TreeListing struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// Lookup returns the entry at path, if any.
func (l *TreeListing) Lookup(path string) (Entry, bool) {
	for _, e := range l.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// File adopts a single file into the store and returns its blob id.
func File(ctx context.Context, store ports.ObjectStore, path string) (domain.ID, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	id, err := store.PutBlob(ctx, f)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to store %s: %w", path, err)
	}
	return id, nil
}

// Tree snapshots the directory at dir: every regular file is committed as a
// blob, symlinks are recorded literally, and the resulting canonical listing
// is committed as a tree. Hidden entries are included. An unreadable file
// aborts the snapshot.
func Tree(ctx context.Context, store ports.ObjectStore, dir string) (domain.ID, *TreeListing, error) {
	listing, err := Collect(ctx, store, dir)
	if err != nil {
		return domain.ID{}, nil, err
	}
	id, err := Commit(ctx, store, listing)
	if err != nil {
		return domain.ID{}, nil, err
	}
	return id, listing, nil
}

// Collect walks dir and builds its listing, committing file blobs as it goes.
// Directories that end up with no recorded children are kept as explicit dir
// entries so empty directories survive a snapshot/materialize round trip.
func Collect(ctx context.Context, store ports.ObjectStore, dir string) (*TreeListing, error) {
	root := filepath.Clean(dir)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var entries []Entry
	dirs := map[string]uint32{}    // rel path -> mode, pending empty-dir check
	populated := map[string]bool{} // rel paths of dirs that have children

	err = filepath.WalkDir(root, func(fpath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, fpath)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if parent := path.Dir(rel); parent != "." {
			populated[parent] = true
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, linkErr := os.Readlink(fpath)
			if linkErr != nil {
				return fmt.Errorf("failed to read link %s: %w", rel, linkErr)
			}
			entries = append(entries, Entry{Path: rel, Kind: KindSymlink, Target: target})
		case d.IsDir():
			dirInfo, infoErr := d.Info()
			if infoErr != nil {
				return infoErr
			}
			dirs[rel] = uint32(dirInfo.Mode().Perm())
		case d.Type().IsRegular():
			fileInfo, infoErr := d.Info()
			if infoErr != nil {
				return infoErr
			}
			id, blobErr := File(ctx, store, fpath)
			if blobErr != nil {
				return blobErr
			}
			entries = append(entries, Entry{
				Path: rel,
				Kind: KindFile,
				ID:   &id,
				Mode: uint32(fileInfo.Mode().Perm()),
			})
		default:
			return fmt.Errorf("%s: unsupported entry type %s", rel, d.Type())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot %s: %w", dir, err)
	}

	for rel, mode := range dirs {
		if !populated[rel] {
			entries = append(entries, Entry{Path: rel, Kind: KindDir, Mode: mode})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return &TreeListing{Version: ListingVersion, Entries: entries}, nil
}

// Commit stores the canonical encoding of a listing and returns the tree id.
func Commit(ctx context.Context, store ports.ObjectStore, listing *TreeListing) (domain.ID, error) {
	canonical, err := domain.CanonicalJSON(listing)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to encode tree listing: %w", err)
	}
	id, err := store.PutTree(ctx, canonical)
	if err != nil {
		return domain.ID{}, fmt.Errorf("failed to store tree listing: %w", err)
	}
	return id, nil
}

// Load reads and validates a committed tree listing.
func Load(ctx context.Context, store ports.ObjectStore, id domain.ID) (*TreeListing, error) {
	if id.Kind != domain.KindTree {
		return nil, fmt.Errorf("id %s is not a tree id: %w", id, domain.ErrNotFound)
	}
	data, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var listing TreeListing
	if err := json.Unmarshal(data, &listing); err != nil {
		return nil, fmt.Errorf("tree %s: undecodable listing: %v: %w", id.Short(), err, domain.ErrCorrupt)
	}
	if err := validate(&listing); err != nil {
		return nil, fmt.Errorf("tree %s: %v: %w", id.Short(), err, domain.ErrCorrupt)
	}
	return &listing, nil
}

// validate checks the structural rules a committed listing must satisfy.
func validate(l *TreeListing) error {
	if l.Version != ListingVersion {
		return fmt.Errorf("unsupported listing version %d", l.Version)
	}
	prev := ""
	for _, e := range l.Entries {
		if e.Path == "" || e.Path != path.Clean(e.Path) || strings.HasPrefix(e.Path, "/") {
			return fmt.Errorf("entry has unsafe path %q", e.Path)
		}
		for _, seg := range strings.Split(e.Path, "/") {
			if seg == ".." || seg == "." {
				return fmt.Errorf("entry has unsafe path %q", e.Path)
			}
		}
		if prev != "" && e.Path <= prev {
			return fmt.Errorf("entries out of order at %q", e.Path)
		}
		prev = e.Path
		switch e.Kind {
		case KindFile:
			if e.ID == nil || e.ID.Kind != domain.KindBlob {
				return fmt.Errorf("file entry %q has no blob id", e.Path)
			}
		case KindDir:
			if e.ID != nil {
				return fmt.Errorf("dir entry %q carries an id", e.Path)
			}
		case KindSymlink:
			if e.Target == "" {
				return fmt.Errorf("symlink entry %q has no target", e.Path)
			}
		default:
			return fmt.Errorf("entry %q has unknown kind %q", e.Path, e.Kind)
		}
	}
	return nil
}
