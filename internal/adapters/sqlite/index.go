// Package sqlite provides the derived lineage index: a small database mapping
// output ids to the runs that produced them. The index only accelerates
// queries; deleting index.db loses nothing a scan over manifests cannot
// recover, and every answer is re-verified against the store before use.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// schemaVersion identifies the index layout. A mismatch on open wipes the
// rows; the index is derived data and a rebuild is always safe.
const schemaVersion = "1"

// Index is a SQLite-backed ports.LineageIndex.
type Index struct {
	db   *sql.DB
	path string
}

var _ ports.LineageIndex = (*Index)(nil)

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite index: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	idx := &Index{db: db, path: path}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	if _, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}
	if _, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS outputs (
		output_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		PRIMARY KEY (output_id, run_id)
	)`); err != nil {
		return fmt.Errorf("create outputs table: %w", err)
	}

	var stored string
	err := idx.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh database; stamp it below.
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case stored == schemaVersion:
		return nil
	default:
		if _, err := idx.db.Exec(`DELETE FROM outputs`); err != nil {
			return fmt.Errorf("reset outdated index: %w", err)
		}
	}
	if _, err := idx.db.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, schemaVersion); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return nil
}

// Record adds every output of a committed manifest. Re-recording is a no-op.
func (idx *Index) Record(ctx context.Context, m *domain.Manifest) error {
	if len(m.Outputs) == 0 {
		return nil
	}
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, out := range m.Outputs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO outputs(output_id,run_id) VALUES(?,?) ON CONFLICT DO NOTHING`,
			out.ID.String(), m.RunID.String()); err != nil {
			return fmt.Errorf("record output %s: %w", out.ID.Short(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Producers returns the recorded run ids for an output, sorted.
func (idx *Index) Producers(ctx context.Context, output domain.ID) ([]domain.ID, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT run_id FROM outputs WHERE output_id = ? ORDER BY run_id`, output.String())
	if err != nil {
		return nil, fmt.Errorf("select producers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.ID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		id, err := domain.ParseID(raw)
		if err != nil {
			return nil, fmt.Errorf("index row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Reset clears all rows.
func (idx *Index) Reset(ctx context.Context) error {
	if _, err := idx.db.ExecContext(ctx, `DELETE FROM outputs`); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (idx *Index) DB() *sql.DB { return idx.db }

// Path returns the configured database path.
func (idx *Index) Path() string { return idx.path }

// RebuildStats summarizes a Rebuild pass.
type RebuildStats struct {
	Runs    int // manifests indexed
	Outputs int // output rows written
	Skipped int // manifests that could not be loaded
}

// Rebuild drops the index and repopulates it from every committed manifest.
// Unreadable manifests are skipped and counted; their outputs cannot be known.
func (idx *Index) Rebuild(ctx context.Context, store ports.ObjectStore) (RebuildStats, error) {
	var stats RebuildStats
	if err := idx.Reset(ctx); err != nil {
		return stats, err
	}
	ids, err := store.ListManifests(ctx)
	if err != nil {
		return stats, fmt.Errorf("list manifests: %w", err)
	}
	for _, runID := range ids {
		m, err := store.GetManifest(ctx, runID)
		if err != nil {
			stats.Skipped++
			continue
		}
		if err := idx.Record(ctx, m); err != nil {
			return stats, err
		}
		stats.Runs++
		stats.Outputs += len(m.Outputs)
	}
	return stats, nil
}

// VerifyStats summarizes a Verify pass. The index is consistent when both
// Stale and Missing are zero.
type VerifyStats struct {
	Rows    int // index rows checked
	Stale   int // rows whose run is gone or no longer lists the output
	Missing int // committed outputs absent from the index
}

// Verify cross-checks every index row against the store and every committed
// output against the index. It reports; Rebuild repairs.
func (idx *Index) Verify(ctx context.Context, store ports.ObjectStore) (VerifyStats, error) {
	var stats VerifyStats

	type pair struct{ output, run domain.ID }
	rows, err := idx.db.QueryContext(ctx, `SELECT output_id, run_id FROM outputs`)
	if err != nil {
		return stats, fmt.Errorf("select rows: %w", err)
	}
	defer func() { _ = rows.Close() }()
	indexed := map[pair]bool{}
	for rows.Next() {
		var rawOut, rawRun string
		if err := rows.Scan(&rawOut, &rawRun); err != nil {
			return stats, fmt.Errorf("scan: %w", err)
		}
		outID, err := domain.ParseID(rawOut)
		if err != nil {
			return stats, fmt.Errorf("index row: %w", err)
		}
		runID, err := domain.ParseID(rawRun)
		if err != nil {
			return stats, fmt.Errorf("index row: %w", err)
		}
		indexed[pair{outID, runID}] = true
		stats.Rows++
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	// 1. Every row must be backed by a manifest that still lists the output.
	for p := range indexed {
		m, err := store.GetManifest(ctx, p.run)
		if err != nil || !m.Produces(p.output) {
			stats.Stale++
		}
	}

	// 2. Every committed output must have a row.
	ids, err := store.ListManifests(ctx)
	if err != nil {
		return stats, fmt.Errorf("list manifests: %w", err)
	}
	for _, runID := range ids {
		m, err := store.GetManifest(ctx, runID)
		if err != nil {
			continue
		}
		for _, out := range m.Outputs {
			if !indexed[pair{out.ID, m.RunID}] {
				stats.Missing++
			}
		}
	}
	return stats, nil
}
