package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Kind classifies the namespace an object id belongs to.
type Kind string

const (
	KindBlob Kind = "blob" // file content
	KindTree Kind = "tree" // canonical directory listing
	KindRun  Kind = "run"  // committed run manifest
)

// AlgorithmSHA256 is the only digest algorithm currently produced or accepted.
const AlgorithmSHA256 = "sha256"

// ID is a typed content address: kind, algorithm, and hex digest.
// Its rendered form is "blob:sha256:<64 hex>", "tree:sha256:...", or "run:sha256:...".
type ID struct {
	Kind      Kind
	Algorithm string
	Hex       string
}

// NewID builds an ID for the given kind over an already computed hex digest.
func NewID(kind Kind, hexDigest string) ID {
	return ID{Kind: kind, Algorithm: AlgorithmSHA256, Hex: hexDigest}
}

// IDFor hashes data and returns its typed id under the given kind.
func IDFor(kind Kind, data []byte) ID {
	return NewID(kind, Digest(data))
}

// Digest returns the lowercase hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsZero reports whether the id is the zero value.
func (id ID) IsZero() bool {
	return id.Kind == "" && id.Algorithm == "" && id.Hex == ""
}

// String renders the id in its canonical "<kind>:<algorithm>:<hex>" form.
func (id ID) String() string {
	return string(id.Kind) + ":" + id.Algorithm + ":" + id.Hex
}

// Short returns the first 12 hex characters, for display.
func (id ID) Short() string {
	if len(id.Hex) < 12 {
		return id.Hex
	}
	return id.Hex[:12]
}

// MarshalText implements encoding.TextMarshaler so ids embed naturally in
// JSON and YAML documents.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, nil
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses the canonical "<kind>:<algorithm>:<hex>" form. It rejects
// unknown kinds, unknown algorithms, and malformed digests.
func ParseID(s string) (ID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("malformed id %q: want <kind>:<algorithm>:<hex>", s)
	}
	kind := Kind(parts[0])
	switch kind {
	case KindBlob, KindTree, KindRun:
	default:
		return ID{}, fmt.Errorf("malformed id %q: unknown kind %q", s, parts[0])
	}
	if parts[1] != AlgorithmSHA256 {
		return ID{}, fmt.Errorf("malformed id %q: unsupported algorithm %q", s, parts[1])
	}
	if err := validHex(parts[2]); err != nil {
		return ID{}, fmt.Errorf("malformed id %q: %w", s, err)
	}
	return ID{Kind: kind, Algorithm: parts[1], Hex: parts[2]}, nil
}

// MustParseID is ParseID for trusted literals; it panics on error.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func validHex(s string) error {
	if len(s) != sha256.Size*2 {
		return fmt.Errorf("digest length %d, want %d", len(s), sha256.Size*2)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return fmt.Errorf("digest contains non-hex character %q", r)
		}
	}
	return nil
}
