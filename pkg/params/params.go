// Package params merges run parameters from four ranked sources into one
// canonical, hashable mapping: command line over environment over config file
// over step defaults.
package params

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/graft/pkg/domain"
)

// EnvPrefix marks environment variables that carry parameter values:
// GRAFT_PARAM_<NAME> with the parameter name uppercased.
const EnvPrefix = "GRAFT_PARAM_"

// Provenance source labels, strongest first.
const (
	SourceCLI     = "cli"
	SourceEnv     = "env"
	SourceConfig  = "config"
	SourceDefault = "default"
)

// Declaration announces one parameter a step consumes. A declaration with
// Required set and no Default must receive a value from CLI, environment, or
// config, or resolution fails.
type Declaration struct {
	Name     string
	Default  any
	Required bool
}

// Resolved is the outcome of parameter resolution.
type Resolved struct {
	// Effective is the merged key → value mapping the step observes.
	Effective map[string]any
	// Provenance records which source supplied each key.
	Provenance map[string]string
	// Hash is the hex sha256 of the canonical encoding of Effective.
	Hash string
}

// envKey computes the environment variable name for a parameter.
func envKey(name string) string {
	return EnvPrefix + strings.ToUpper(name)
}

// Resolve merges the four sources for the declared parameters. cli holds raw
// --param key=value strings, environ is the os.Environ() slice, and config is
// an already loaded config mapping. Undeclared keys on the explicit surfaces
// (CLI, environment) are errors; undeclared config keys are ignored because
// one config file may serve several steps.
func Resolve(decls []Declaration, cli map[string]string, environ []string, config map[string]any) (*Resolved, error) {
	declared := make(map[string]Declaration, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("parameter declaration with empty name")
		}
		if _, dup := declared[d.Name]; dup {
			return nil, fmt.Errorf("parameter %q declared twice", d.Name)
		}
		declared[d.Name] = d
	}

	if err := checkUnknown(declared, cli, environ); err != nil {
		return nil, err
	}

	env := make(map[string]string)
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}

	effective := make(map[string]any, len(decls))
	provenance := make(map[string]string, len(decls))
	var missing []string

	for _, d := range decls {
		switch {
		case hasKey(cli, d.Name):
			v, err := ParseScalar(cli[d.Name])
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", d.Name, err)
			}
			effective[d.Name] = v
			provenance[d.Name] = SourceCLI
		case hasKey(env, envKey(d.Name)):
			v, err := ParseScalar(env[envKey(d.Name)])
			if err != nil {
				return nil, fmt.Errorf("parameter %q (from %s): %w", d.Name, envKey(d.Name), err)
			}
			effective[d.Name] = v
			provenance[d.Name] = SourceEnv
		case hasKey(config, d.Name):
			effective[d.Name] = config[d.Name]
			provenance[d.Name] = SourceConfig
		case !d.Required:
			effective[d.Name] = d.Default
			provenance[d.Name] = SourceDefault
		default:
			missing = append(missing, d.Name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("no value for required parameter(s) %s: %w",
			strings.Join(missing, ", "), domain.ErrParamUnresolved)
	}

	hash, err := domain.CanonicalHash(effective)
	if err != nil {
		return nil, fmt.Errorf("failed to hash parameters: %w", err)
	}
	return &Resolved{Effective: effective, Provenance: provenance, Hash: hash}, nil
}

// checkUnknown rejects CLI keys and GRAFT_PARAM_ variables that no
// declaration claims. Typos on the explicit surfaces should fail loudly.
func checkUnknown(declared map[string]Declaration, cli map[string]string, environ []string) error {
	var unknown []string
	for k := range cli {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown parameter(s) on command line: %s", strings.Join(unknown, ", "))
	}

	claimed := make(map[string]bool, len(declared))
	for name := range declared {
		claimed[envKey(name)] = true
	}
	var unknownEnv []string
	for _, kv := range environ {
		k, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) && !claimed[k] {
			unknownEnv = append(unknownEnv, k)
		}
	}
	if len(unknownEnv) > 0 {
		sort.Strings(unknownEnv)
		return fmt.Errorf("unknown parameter variable(s) in environment: %s", strings.Join(unknownEnv, ", "))
	}
	return nil
}

func hasKey[V any](m map[string]V, k string) bool {
	_, ok := m[k]
	return ok
}

// ParseScalar types a raw string value the way a YAML document would: "3" is
// an int, "true" a bool, "3.5" a float, anything else a string. Quoting the
// value forces a string, and flow collections ("[1, 2]") parse as such.
func ParseScalar(raw string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("unparseable value %q: %w", raw, err)
	}
	return v, nil
}

// ParseKeyValue splits a --param argument into key and raw value.
func ParseKeyValue(arg string) (string, string, error) {
	k, v, ok := strings.Cut(arg, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("malformed parameter %q: want key=value", arg)
	}
	return k, v, nil
}

// Decode maps an effective parameter set onto a tagged struct, for step
// authors who prefer typed access over map lookups.
func Decode(effective map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to build parameter decoder: %w", err)
	}
	if err := dec.Decode(effective); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	return nil
}
