package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/aretw0/graft/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID_RoundTrip(t *testing.T) {
	hex := strings.Repeat("ab", 32)
	for _, kind := range []domain.Kind{domain.KindBlob, domain.KindTree, domain.KindRun} {
		id := domain.NewID(kind, hex)
		parsed, err := domain.ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestParseID_Rejects(t *testing.T) {
	hex := strings.Repeat("ab", 32)
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separators", "blobsha256" + hex},
		{"too many segments", "blob:sha256:" + hex + ":extra"},
		{"unknown kind", "branch:sha256:" + hex},
		{"unknown algorithm", "blob:md5:" + hex},
		{"short digest", "blob:sha256:abcd"},
		{"non hex digest", "blob:sha256:" + strings.Repeat("zz", 32)},
		{"uppercase digest", "blob:sha256:" + strings.Repeat("AB", 32)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.ParseID(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestID_JSONEmbedding(t *testing.T) {
	id := domain.IDFor(domain.KindBlob, []byte("hello"))

	data, err := json.Marshal(map[string]domain.ID{"artifact": id})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"artifact":"blob:sha256:`)

	var decoded map[string]domain.ID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, id, decoded["artifact"])
}

func TestDigest_KnownVector(t *testing.T) {
	// sha256 of the empty string.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", domain.Digest(nil))
}

func TestID_Short(t *testing.T) {
	id := domain.IDFor(domain.KindTree, []byte("x"))
	assert.Len(t, id.Short(), 12)
	assert.True(t, strings.HasPrefix(id.Hex, id.Short()))
}
