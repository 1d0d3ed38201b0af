package runner

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/aretw0/graft/pkg/domain"
)

// environmentSummary builds the deterministic execution environment summary.
// Only an allowlisted set of variables contributes, so unrelated environment
// noise (and secrets) never reach the run identity.
func environmentSummary(environ []string, captureModules bool) (domain.EnvironmentInfo, error) {
	summary := map[string]any{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"tz":         envValue(environ, "TZ"),
		"lang":       envValue(environ, "LANG"),
		"lc_all":     envValue(environ, "LC_ALL"),
	}
	if captureModules {
		summary["modules"] = moduleVersions()
	}
	hash, err := domain.CanonicalHash(summary)
	if err != nil {
		return domain.EnvironmentInfo{}, fmt.Errorf("failed to hash environment summary: %w", err)
	}
	return domain.EnvironmentInfo{Summary: summary, Hash: hash}, nil
}

// envValue returns the value of key in an os.Environ() style slice, with the
// last occurrence winning. Unset keys yield the empty string.
func envValue(environ []string, key string) string {
	value := ""
	prefix := key + "="
	for _, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			value = kv[len(prefix):]
		}
	}
	return value
}

// moduleVersions lists the main module and its dependencies from the binary's
// build info. Binaries built without module data yield an empty map, which is
// still deterministic.
func moduleVersions() map[string]any {
	mods := map[string]any{}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return mods
	}
	if info.Main.Path != "" {
		mods[info.Main.Path] = info.Main.Version
	}
	for _, dep := range info.Deps {
		if dep.Replace != nil {
			dep = dep.Replace
		}
		mods[dep.Path] = dep.Version
	}
	return mods
}
