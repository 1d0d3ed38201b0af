/*
Package ports defines the driven ports (interfaces) for the graft engine.

These interfaces decouple the run and lineage core from concrete storage,
allowing the engine to work with different object store backends and an
optional lineage index.

# Key Interfaces

  - ObjectStore: Content-addressed storage for blobs, trees, and manifests.
  - AliasStore: Mutable name → typed-id bindings.
  - LineageIndex: Derived output → run mapping that accelerates lineage
    queries without changing their results.
*/
package ports
