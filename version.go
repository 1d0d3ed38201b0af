package graft

import _ "embed"

// Version is the graft release version, embedded from the VERSION file at the
// repository root. The embedded string keeps the file's trailing newline;
// display code trims it.
//
//go:embed VERSION
var Version string
