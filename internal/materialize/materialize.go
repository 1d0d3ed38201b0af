// Package materialize checks stored objects out of the content store into
// ordinary filesystem paths. Blobs become files, trees become directory
// contents, and run ids place each manifest output under the destination.
package materialize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aretw0/graft/internal/snapshot"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// Placement mechanisms, in default preference order.
const (
	ModeSymlink  = "symlink"
	ModeHardlink = "hardlink"
	ModeCopy     = "copy"
)

// Options control how objects are placed.
type Options struct {
	// Mode forces one mechanism with no fallback. Empty tries symlink, then
	// hardlink, then copy.
	Mode string
	// Overwrite replaces a destination whose content differs instead of
	// failing with ErrWriteConflict.
	Overwrite bool
}

// Place materializes id at dest. An existing destination with identical
// content is left untouched and reported as success; differing content is a
// conflict unless Overwrite is set. Parent directories are created as needed.
func Place(ctx context.Context, store ports.ObjectStore, id domain.ID, dest string, opts Options) error {
	if opts.Mode != "" && opts.Mode != ModeSymlink && opts.Mode != ModeHardlink && opts.Mode != ModeCopy {
		return fmt.Errorf("unknown materialize mode %q", opts.Mode)
	}
	if opts.Mode == ModeSymlink || opts.Mode == ModeHardlink {
		if _, ok := store.(ports.Linker); !ok {
			return fmt.Errorf("%s mode requires a store with filesystem paths", opts.Mode)
		}
	}
	switch id.Kind {
	case domain.KindBlob:
		return placeBlob(ctx, store, id, dest, 0o644, opts)
	case domain.KindTree:
		return placeTree(ctx, store, id, dest, opts)
	case domain.KindRun:
		return placeRun(ctx, store, id, dest, opts)
	default:
		return fmt.Errorf("cannot materialize id of kind %q", id.Kind)
	}
}

// placeRun checks out every output of a committed run under dest, one entry
// per logical output path.
func placeRun(ctx context.Context, store ports.ObjectStore, id domain.ID, dest string, opts Options) error {
	m, err := store.GetManifest(ctx, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	for _, out := range m.Outputs {
		if err := Place(ctx, store, out.ID, filepath.Join(dest, out.Path), opts); err != nil {
			return fmt.Errorf("output %q: %w", out.Path, err)
		}
	}
	return nil
}

// placeTree recreates a tree listing under dest: directories, files with
// their recorded modes, and symlinks with their literal targets. Entries
// already present with matching content are skipped; paths in dest that the
// listing does not mention are left alone.
func placeTree(ctx context.Context, store ports.ObjectStore, id domain.ID, dest string, opts Options) error {
	listing, err := snapshot.Load(ctx, store, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	for _, e := range listing.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.FromSlash(e.Path))
		switch e.Kind {
		case snapshot.KindDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			if err := os.Chmod(target, os.FileMode(e.Mode)); err != nil {
				return fmt.Errorf("failed to set mode on %s: %w", target, err)
			}
		case snapshot.KindFile:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent of %s: %w", target, err)
			}
			if err := placeBlob(ctx, store, *e.ID, target, os.FileMode(e.Mode), opts); err != nil {
				return err
			}
		case snapshot.KindSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent of %s: %w", target, err)
			}
			if err := placeSymlink(e.Target, target, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// placeBlob writes one stored blob to dest using the first mechanism that
// works. mode applies to copies only; links share the store object's own
// permissions.
func placeBlob(ctx context.Context, store ports.ObjectStore, id domain.ID, dest string, mode os.FileMode, opts Options) error {
	if fi, err := os.Stat(dest); err == nil {
		if fi.Mode().IsRegular() {
			same, hashErr := contentMatches(dest, id)
			if hashErr == nil && same {
				return nil
			}
		}
		if !opts.Overwrite {
			return fmt.Errorf("%s exists with different content: %w", dest, domain.ErrWriteConflict)
		}
		if fi.IsDir() {
			if err := os.RemoveAll(dest); err != nil {
				return fmt.Errorf("failed to replace %s: %w", dest, err)
			}
		}
	} else if lfi, lerr := os.Lstat(dest); lerr == nil && lfi.Mode()&os.ModeSymlink != 0 {
		// A dangling symlink: stat failed but something occupies the path.
		if !opts.Overwrite {
			return fmt.Errorf("%s exists with different content: %w", dest, domain.ErrWriteConflict)
		}
	}

	linker, _ := store.(ports.Linker)
	var lastErr error
	for _, mechanism := range mechanisms(opts, linker) {
		switch mechanism {
		case ModeSymlink, ModeHardlink:
			src, err := linker.ObjectPath(id)
			if err != nil {
				return err
			}
			lastErr = linkInto(src, dest, mechanism)
		case ModeCopy:
			lastErr = copyBlob(ctx, store, id, dest, mode)
		}
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to materialize %s at %s: %w", id.Short(), dest, lastErr)
}

// mechanisms resolves the placement order for the given options. Forced link
// modes were already checked against the store in Place; auto mode without a
// path-exposing store quietly skips to copy.
func mechanisms(opts Options, linker ports.Linker) []string {
	if opts.Mode != "" {
		return []string{opts.Mode}
	}
	if linker == nil {
		return []string{ModeCopy}
	}
	return []string{ModeSymlink, ModeHardlink, ModeCopy}
}

// linkInto creates a link to src at dest through a temp name so replacing an
// existing file is atomic.
func linkInto(src, dest, mechanism string) error {
	tmp := dest + ".graft-tmp"
	_ = os.Remove(tmp)
	var err error
	if mechanism == ModeSymlink {
		err = os.Symlink(src, tmp)
	} else {
		err = os.Link(src, tmp)
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// copyBlob streams the object into a temp file next to dest, sets mode, and
// renames into place.
func copyBlob(ctx context.Context, store ports.ObjectStore, id domain.ID, dest string, mode os.FileMode) error {
	r, err := store.Open(ctx, id)
	if err != nil {
		return err
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".graft-copy-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy object: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move into place: %w", err)
	}
	return nil
}

// placeSymlink recreates one symlink entry. An existing link with the same
// target is a no-op.
func placeSymlink(target, dest string, opts Options) error {
	if existing, err := os.Readlink(dest); err == nil {
		if existing == target {
			return nil
		}
		if !opts.Overwrite {
			return fmt.Errorf("%s exists with different content: %w", dest, domain.ErrWriteConflict)
		}
	} else if _, serr := os.Lstat(dest); serr == nil {
		// Occupied by a non-symlink.
		if !opts.Overwrite {
			return fmt.Errorf("%s exists with different content: %w", dest, domain.ErrWriteConflict)
		}
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("failed to replace %s: %w", dest, err)
		}
	}
	tmp := dest + ".graft-tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("failed to create symlink %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move symlink into place: %w", err)
	}
	return nil
}

// contentMatches reports whether the file at path hashes to the blob id.
func contentMatches(path string, id domain.ID) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == id.Hex, nil
}
