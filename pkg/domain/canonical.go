package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes v in the byte form used for identity hashing: object
// keys sorted, no insignificant whitespace, no HTML escaping, UTF-8. The same
// logical value always yields the same bytes regardless of map iteration
// order or struct field order.
func CanonicalJSON(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalHash returns the hex sha256 of the canonical encoding of v.
func CanonicalHash(v any) (string, error) {
	data, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return Digest(data), nil
}

// PrettyJSON encodes v for storage and human inspection: two-space indent,
// sorted keys, trailing newline. Identity is never computed over this form.
func PrettyJSON(v any) ([]byte, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("pretty encode: %w", err)
	}
	return buf.Bytes(), nil
}

// toGeneric round-trips v through JSON into maps and slices so that every
// object marshals with sorted keys. Numbers stay as their literal form.
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return generic, nil
}
