package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// aliasDir is the namespace for mutable name bindings.
const aliasDir = "aliases"

// SetAlias binds name to id. The binding is a single small file containing the
// rendered id; the write is staged in tmp/ and published by atomic rename, so
// concurrent writers race safely with last-rename-wins.
func (s *Store) SetAlias(ctx context.Context, name string, id domain.ID) error {
	if err := domain.ValidateAliasName(name); err != nil {
		return err
	}
	if id.IsZero() {
		return fmt.Errorf("alias %q: cannot bind the zero id", name)
	}

	dest := filepath.Join(s.root, aliasDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to ensure alias directory: %w", err)
	}

	stage, err := s.StageDir()
	if err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(stage, "alias-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.WriteString(id.String() + "\n"); err != nil {
		return fmt.Errorf("failed to write alias binding: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync alias binding: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close alias binding: %w", err)
	}

	// Rename replaces any existing binding in one step: last write wins.
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to publish alias %q: %w", name, err)
	}
	return nil
}

// GetAlias resolves name to its bound id.
func (s *Store) GetAlias(ctx context.Context, name string) (domain.ID, error) {
	if err := domain.ValidateAliasName(name); err != nil {
		return domain.ID{}, err
	}
	path := filepath.Join(s.root, aliasDir, filepath.FromSlash(name))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ID{}, fmt.Errorf("alias %q: %w", name, domain.ErrNotFound)
		}
		return domain.ID{}, fmt.Errorf("failed to read alias %q: %w", name, err)
	}
	id, err := domain.ParseID(strings.TrimSpace(string(data)))
	if err != nil {
		return domain.ID{}, fmt.Errorf("alias %q: unreadable binding: %v: %w", name, err, domain.ErrCorrupt)
	}
	return id, nil
}

// ListAliases returns every binding sorted by name. An unparseable binding
// aborts the listing with domain.ErrCorrupt rather than being skipped.
func (s *Store) ListAliases(ctx context.Context) ([]ports.Alias, error) {
	base := filepath.Join(s.root, aliasDir)
	var aliases []ports.Alias

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
		name := filepath.ToSlash(rel)
		id, getErr := s.GetAlias(ctx, name)
		if getErr != nil {
			return getErr
		}
		aliases = append(aliases, ports.Alias{Name: name, ID: id})
		return nil
	}
	if err := filepath.WalkDir(base, walk); err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}

	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Name < aliases[j].Name })
	return aliases, nil
}
