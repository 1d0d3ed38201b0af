package ports

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunObjectStoreContract runs a suite of tests to verify that an ObjectStore
// implementation adheres to the defined interface contract.
func RunObjectStoreContract(t *testing.T, store ObjectStore) {
	ctx := context.Background()

	t.Run("Blob Round Trip", func(t *testing.T) {
		content := []byte("contract blob content")

		// 1. Put
		id, err := store.PutBlob(ctx, strings.NewReader(string(content)))
		require.NoError(t, err, "PutBlob should not return error")
		assert.Equal(t, domain.KindBlob, id.Kind)
		assert.Equal(t, domain.Digest(content), id.Hex)

		// 2. Get returns the exact bytes
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, content, got)

		// 3. Putting identical content yields the same id
		again, err := store.PutBlob(ctx, strings.NewReader(string(content)))
		require.NoError(t, err)
		assert.Equal(t, id, again)
	})

	t.Run("Open Streams Content", func(t *testing.T) {
		id, err := store.PutBlob(ctx, strings.NewReader("streamed"))
		require.NoError(t, err)

		rc, err := store.Open(ctx, id)
		require.NoError(t, err)
		defer rc.Close()
		buf := make([]byte, 8)
		n, _ := rc.Read(buf)
		assert.Equal(t, "streamed", string(buf[:n]))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		missing := domain.IDFor(domain.KindBlob, []byte("never stored"))
		_, err := store.Get(ctx, missing)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = store.Open(ctx, missing)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Has", func(t *testing.T) {
		content := []byte("existence probe")
		ok, err := store.Has(ctx, domain.IDFor(domain.KindBlob, content))
		require.NoError(t, err)
		assert.False(t, ok)

		id, err := store.PutBlob(ctx, strings.NewReader(string(content)))
		require.NoError(t, err)
		ok, err = store.Has(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Tree Round Trip", func(t *testing.T) {
		canonical := []byte(`{"entries":[{"kind":"file","path":"a.txt"}],"version":1}`)
		id, err := store.PutTree(ctx, canonical)
		require.NoError(t, err)
		assert.Equal(t, domain.KindTree, id.Kind)
		assert.Equal(t, domain.Digest(canonical), id.Hex)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, canonical, got)
	})

	t.Run("Namespaces Are Distinct", func(t *testing.T) {
		// Same bytes stored as blob and tree must not collide.
		content := []byte(`{"shared":"bytes"}`)
		blobID, err := store.PutBlob(ctx, strings.NewReader(string(content)))
		require.NoError(t, err)
		treeID, err := store.PutTree(ctx, content)
		require.NoError(t, err)

		assert.Equal(t, blobID.Hex, treeID.Hex)
		assert.NotEqual(t, blobID, treeID)
		for _, id := range []domain.ID{blobID, treeID} {
			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, content, got)
		}
	})

	t.Run("Manifest Commit and Read Back", func(t *testing.T) {
		m := ContractManifest(t, "commit-read")

		id, err := store.PutManifest(ctx, m)
		require.NoError(t, err, "PutManifest should not return error")
		assert.Equal(t, m.RunID, id)

		loaded, err := store.GetManifest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, m.RunID, loaded.RunID)
		assert.Equal(t, m.Step.Name, loaded.Step.Name)
		require.NoError(t, loaded.Verify())

		// Committing the same manifest again is idempotent.
		again, err := store.PutManifest(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, id, again)
	})

	t.Run("Manifest Non-Existent", func(t *testing.T) {
		missing := domain.NewID(domain.KindRun, domain.Digest([]byte("no such run")))
		_, err := store.GetManifest(ctx, missing)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("List Manifests Sorted", func(t *testing.T) {
		a := ContractManifest(t, "list-a")
		b := ContractManifest(t, "list-b")
		_, err := store.PutManifest(ctx, a)
		require.NoError(t, err)
		_, err = store.PutManifest(ctx, b)
		require.NoError(t, err)

		ids, err := store.ListManifests(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, a.RunID)
		assert.Contains(t, ids, b.RunID)
		for i := 1; i < len(ids); i++ {
			assert.True(t, ids[i-1].Hex < ids[i].Hex, "ListManifests must be sorted")
		}
	})
}

// RunAliasStoreContract runs a suite of tests to verify that an AliasStore
// implementation adheres to the defined interface contract.
func RunAliasStoreContract(t *testing.T, store AliasStore) {
	ctx := context.Background()
	target := domain.IDFor(domain.KindBlob, []byte("alias target"))

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, store.SetAlias(ctx, "contract/set-get", target))
		got, err := store.GetAlias(ctx, "contract/set-get")
		require.NoError(t, err)
		assert.Equal(t, target, got)
	})

	t.Run("Overwrite Wins", func(t *testing.T) {
		first := domain.IDFor(domain.KindBlob, []byte("first"))
		second := domain.IDFor(domain.KindTree, []byte("second"))
		require.NoError(t, store.SetAlias(ctx, "contract/overwrite", first))
		require.NoError(t, store.SetAlias(ctx, "contract/overwrite", second))

		got, err := store.GetAlias(ctx, "contract/overwrite")
		require.NoError(t, err)
		assert.Equal(t, second, got, "last write must win")
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.GetAlias(ctx, "contract/unbound")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Rejects Unsafe Names", func(t *testing.T) {
		for _, name := range []string{"", "../escape", "a/../../b", "/rooted"} {
			err := store.SetAlias(ctx, name, target)
			assert.Error(t, err, "name %q should be rejected", name)
		}
	})

	t.Run("List Sorted", func(t *testing.T) {
		require.NoError(t, store.SetAlias(ctx, "contract/zz", target))
		require.NoError(t, store.SetAlias(ctx, "contract/aa", target))

		aliases, err := store.ListAliases(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(aliases))
		for _, a := range aliases {
			names = append(names, a.Name)
		}
		assert.Contains(t, names, "contract/aa")
		assert.Contains(t, names, "contract/zz")
		for i := 1; i < len(names); i++ {
			assert.True(t, names[i-1] < names[i], "ListAliases must be sorted by name")
		}
	})
}

// ContractManifest builds a minimal self-consistent manifest whose identity
// varies with seed. Shared by the store contracts and adapter tests.
func ContractManifest(t *testing.T, seed string) *domain.Manifest {
	t.Helper()
	params := map[string]any{"seed": seed}
	paramHash, err := domain.CanonicalHash(params)
	require.NoError(t, err)
	env := map[string]any{"os": "linux"}
	envHash, err := domain.CanonicalHash(env)
	require.NoError(t, err)

	m := &domain.Manifest{
		ManifestVersion: domain.ManifestVersion,
		StartedUTC:      "2026-01-02T03:04:05Z",
		EndedUTC:        "2026-01-02T03:04:06Z",
		Step: domain.StepInfo{
			Name:     "contract-" + seed,
			Source:   "steps/contract.go",
			CodeHash: "sha256:" + domain.Digest([]byte("code "+seed)),
		},
		Parameters:  domain.ParameterSet{Effective: params, Hash: paramHash},
		Environment: domain.EnvironmentInfo{Summary: env, Hash: envHash},
		Inputs: []domain.InputBinding{
			{Name: "data", Spec: "@data", ID: domain.IDFor(domain.KindBlob, []byte("input "+seed))},
		},
		Outputs: []domain.OutputEntry{
			{Path: "result.txt", ID: domain.IDFor(domain.KindBlob, []byte(fmt.Sprintf("output %s", seed)))},
		},
		Tool: domain.ToolInfo{Name: "graft", Version: "test"},
	}
	m.RunID = m.Identity()
	return m
}
