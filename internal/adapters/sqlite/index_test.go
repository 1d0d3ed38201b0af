package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/graft/internal/adapters/fs"
	"github.com/aretw0/graft/internal/adapters/sqlite"
	"github.com/aretw0/graft/pkg/adapters/memory"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openIndex(t *testing.T, dir string) *sqlite.Index {
	t.Helper()
	idx, err := sqlite.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexRecordAndProducers(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t, t.TempDir())
	m := ports.ContractManifest(t, "round-trip")

	require.NoError(t, idx.Record(ctx, m))
	got, err := idx.Producers(ctx, m.Outputs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ID{m.RunID}, got)

	// Re-recording must not duplicate rows.
	require.NoError(t, idx.Record(ctx, m))
	got, err = idx.Producers(ctx, m.Outputs[0].ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestIndexUnknownOutputIsEmpty(t *testing.T) {
	idx := openIndex(t, t.TempDir())
	got, err := idx.Producers(context.Background(), domain.IDFor(domain.KindBlob, []byte("unseen")))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexRecordWithoutOutputsIsNoOp(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t, t.TempDir())
	m := ports.ContractManifest(t, "outputless")
	m.Outputs = nil

	require.NoError(t, idx.Record(ctx, m))
}

func TestIndexReset(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t, t.TempDir())
	m := ports.ContractManifest(t, "reset")
	require.NoError(t, idx.Record(ctx, m))

	require.NoError(t, idx.Reset(ctx))
	got, err := idx.Producers(ctx, m.Outputs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := ports.ContractManifest(t, "durable")

	idx, err := sqlite.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	require.NoError(t, idx.Record(ctx, m))
	require.NoError(t, idx.Close())

	reopened := openIndex(t, dir)
	got, err := reopened.Producers(ctx, m.Outputs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ID{m.RunID}, got)
}

func TestIndexSchemaMismatchDropsRows(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := ports.ContractManifest(t, "versioned")

	idx, err := sqlite.Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	require.NoError(t, idx.Record(ctx, m))
	_, err = idx.DB().Exec(`UPDATE meta SET value = '0' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened := openIndex(t, dir)
	got, err := reopened.Producers(ctx, m.Outputs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, got, "an outdated index must start empty")
}

// damage overwrites a committed manifest's file so it no longer loads.
func damage(t *testing.T, store *fs.Store, runID domain.ID) {
	t.Helper()
	path, err := store.ObjectPath(runID)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(path, 0o644))
	require.NoError(t, os.WriteFile(path, []byte("not a manifest"), 0o644))
}

func TestIndexRebuild(t *testing.T) {
	ctx := context.Background()
	store, err := fs.New(t.TempDir())
	require.NoError(t, err)
	a := ports.ContractManifest(t, "rebuild-a")
	b := ports.ContractManifest(t, "rebuild-b")
	broken := ports.ContractManifest(t, "rebuild-broken")
	for _, m := range []*domain.Manifest{a, b, broken} {
		_, err := store.PutManifest(ctx, m)
		require.NoError(t, err)
	}
	damage(t, store, broken.RunID)

	idx := openIndex(t, t.TempDir())
	stats, err := idx.Rebuild(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, sqlite.RebuildStats{Runs: 2, Outputs: 2, Skipped: 1}, stats)

	got, err := idx.Producers(ctx, a.Outputs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.ID{a.RunID}, got)
}

func TestIndexVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("Consistent", func(t *testing.T) {
		store := memory.NewStore()
		m := ports.ContractManifest(t, "verify-ok")
		_, err := store.PutManifest(ctx, m)
		require.NoError(t, err)

		idx := openIndex(t, t.TempDir())
		_, err = idx.Rebuild(ctx, store)
		require.NoError(t, err)

		stats, err := idx.Verify(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, sqlite.VerifyStats{Rows: 1}, stats)
	})

	t.Run("Stale Row", func(t *testing.T) {
		store, err := fs.New(t.TempDir())
		require.NoError(t, err)
		m := ports.ContractManifest(t, "verify-stale")
		_, err = store.PutManifest(ctx, m)
		require.NoError(t, err)

		idx := openIndex(t, t.TempDir())
		require.NoError(t, idx.Record(ctx, m))
		damage(t, store, m.RunID)

		stats, err := idx.Verify(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Stale)
		assert.Zero(t, stats.Missing)
	})

	t.Run("Missing Row", func(t *testing.T) {
		store := memory.NewStore()
		recorded := ports.ContractManifest(t, "verify-recorded")
		unrecorded := ports.ContractManifest(t, "verify-unrecorded")
		for _, m := range []*domain.Manifest{recorded, unrecorded} {
			_, err := store.PutManifest(ctx, m)
			require.NoError(t, err)
		}

		idx := openIndex(t, t.TempDir())
		require.NoError(t, idx.Record(ctx, recorded))

		stats, err := idx.Verify(ctx, store)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Missing)
		assert.Zero(t, stats.Stale)
	})
}
