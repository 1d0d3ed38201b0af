/*
Package domain contains the core domain models for the graft engine.

It defines the value types every other package speaks in: typed content ids,
run manifests, and the canonical JSON encoding their hashes are computed
over. This package is kept pure and free of external dependencies like I/O
or persistence, following Hexagonal Architecture principles.

# Key Entities

  - ID: A typed content address, "<kind>:<algorithm>:<hex>".
  - Manifest: The immutable record of one run: code, inputs, parameters,
    environment, outputs, and timestamps.
  - Alias: A mutable human-readable name bound to an id.
  - Sentinel errors: ErrNotFound, ErrCorrupt, and friends, matched with
    errors.Is throughout the module.
*/
package domain
