package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// StepInfo identifies the step definition a run executed.
type StepInfo struct {
	// Name is the registered step name.
	Name string `json:"name"`
	// Source is the path of the step's source file, as given at run time.
	Source string `json:"source"`
	// CodeHash is the structural hash of the source ("sha256:<hex>").
	CodeHash string `json:"code_hash"`
}

// ParameterSet records the fully resolved parameters of a run.
type ParameterSet struct {
	// Effective is the merged key → value mapping the step observed.
	Effective map[string]any `json:"effective"`
	// Provenance records which source supplied each key: cli, env, config, or default.
	Provenance map[string]string `json:"provenance"`
	// Hash is the hex sha256 of the canonical encoding of Effective.
	Hash string `json:"hash"`
}

// EnvironmentInfo records the execution environment summary of a run.
type EnvironmentInfo struct {
	Summary map[string]any `json:"summary"`
	// Hash is the hex sha256 of the canonical encoding of Summary.
	Hash string `json:"hash"`
}

// InputBinding binds a logical input name to the typed id it resolved to.
type InputBinding struct {
	Name string `json:"name"`
	// Spec is the user-facing form the binding was resolved from ("@path",
	// "alias:name", or a typed id). Informational; identity uses only Name and ID.
	Spec string `json:"spec,omitempty"`
	ID   ID     `json:"id"`
}

// OutputEntry binds a logical output name (its top-level path in the output
// area) to the typed id it was committed under.
type OutputEntry struct {
	Path string `json:"path"`
	ID   ID     `json:"id"`
}

// ToolInfo names the tool build that committed a manifest.
type ToolInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Manifest is the immutable provenance record of one executed run. It is
// stored in the manifest namespace under its RunID and never mutated.
type Manifest struct {
	ManifestVersion int             `json:"manifest_version"`
	RunID           ID              `json:"run_id"`
	StartedUTC      string          `json:"started_utc"`
	EndedUTC        string          `json:"ended_utc"`
	Step            StepInfo        `json:"step"`
	Parameters      ParameterSet    `json:"parameters"`
	Environment     EnvironmentInfo `json:"environment"`
	Inputs          []InputBinding  `json:"inputs"`
	Outputs         []OutputEntry   `json:"outputs"`
	Tool            ToolInfo        `json:"tool"`
}

// ComputeRunID derives the run identity from its four components: the code
// hash, the input bindings (sorted by name), the parameter hash, and the
// environment hash. Timestamps, output ids, and store locations never
// contribute. The digest is a sha256 over the components joined with "|".
func ComputeRunID(codeHash string, inputs []InputBinding, paramHash, envHash string) ID {
	parts := make([]string, 0, len(inputs)+3)
	parts = append(parts, codeHash)
	sorted := make([]InputBinding, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, in := range sorted {
		parts = append(parts, in.Name+"="+in.ID.String())
	}
	parts = append(parts, paramHash, envHash)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return NewID(KindRun, hex.EncodeToString(sum[:]))
}

// Identity recomputes the run id from the manifest's own recorded components.
func (m *Manifest) Identity() ID {
	return ComputeRunID(m.Step.CodeHash, m.Inputs, m.Parameters.Hash, m.Environment.Hash)
}

// Verify checks that the manifest is internally consistent: the recorded
// parameter and environment hashes match their canonical content, and the
// recomputed identity matches RunID. Any mismatch is reported as ErrCorrupt.
func (m *Manifest) Verify() error {
	paramHash, err := CanonicalHash(m.Parameters.Effective)
	if err != nil {
		return fmt.Errorf("manifest %s: hashing parameters: %w", m.RunID.Short(), err)
	}
	if paramHash != m.Parameters.Hash {
		return fmt.Errorf("manifest %s: parameter hash mismatch: %w", m.RunID.Short(), ErrCorrupt)
	}
	envHash, err := CanonicalHash(m.Environment.Summary)
	if err != nil {
		return fmt.Errorf("manifest %s: hashing environment: %w", m.RunID.Short(), err)
	}
	if envHash != m.Environment.Hash {
		return fmt.Errorf("manifest %s: environment hash mismatch: %w", m.RunID.Short(), ErrCorrupt)
	}
	if got := m.Identity(); got != m.RunID {
		return fmt.Errorf("manifest %s: identity recomputes to %s: %w", m.RunID.Short(), got.Short(), ErrCorrupt)
	}
	return nil
}

// DecodeManifest parses a stored manifest document. Numbers keep their
// literal form so re-encoding reproduces the canonical bytes. The decoded
// manifest is not verified; callers decide how to treat inconsistency.
func DecodeManifest(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Output returns the id committed under the given logical output path.
func (m *Manifest) Output(path string) (ID, bool) {
	for _, out := range m.Outputs {
		if out.Path == path {
			return out.ID, true
		}
	}
	return ID{}, false
}

// Produces reports whether the manifest lists id among its outputs.
func (m *Manifest) Produces(id ID) bool {
	for _, out := range m.Outputs {
		if out.ID == id {
			return true
		}
	}
	return false
}
