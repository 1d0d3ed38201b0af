package domain

import "errors"

// ErrNotFound is returned when a referenced object, manifest, or alias does not exist.
var ErrNotFound = errors.New("not found")

// ErrCorrupt is returned when stored content does not match its address, or
// committed data is structurally unreadable. It is always fatal for the
// operation that encountered it and is never repaired automatically.
var ErrCorrupt = errors.New("store corrupt")

// ErrInvalidSource is returned when step source code cannot be parsed, making
// structural hashing impossible.
var ErrInvalidSource = errors.New("invalid source")

// ErrWriteConflict is returned when a materialization target already exists
// with different content.
var ErrWriteConflict = errors.New("write conflict")

// ErrParamUnresolved is returned when a declared parameter has no value from
// any source (CLI, environment, config file, or defaults).
var ErrParamUnresolved = errors.New("parameter unresolved")

// ErrAmbiguousLineage is reserved for lineage queries that cannot pick a single
// producer. The deterministic who-built tie-break currently makes this
// unreachable; it exists so callers can rely on a stable sentinel.
var ErrAmbiguousLineage = errors.New("ambiguous lineage")
