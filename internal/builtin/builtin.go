// Package builtin ships utility steps inside the graft binary so a bare
// install can exercise the full run pipeline. Each step's identity source is
// its own file, embedded at build time: the hashed bytes and the compiled
// behavior cannot drift apart.
package builtin

import (
	_ "embed"

	"github.com/aretw0/graft/pkg/params"
	"github.com/aretw0/graft/pkg/step"
)

//go:embed concat.go
var concatSource []byte

//go:embed checksum.go
var checksumSource []byte

// Register adds the built-in steps to reg.
func Register(reg *step.Registry) error {
	err := reg.Register(step.Definition{
		Name:        "concat",
		Source:      "builtin/concat.go",
		SourceBytes: concatSource,
		Params:      []params.Declaration{{Name: "separator", Default: ""}},
	}, func() step.Interface { return &Concat{} })
	if err != nil {
		return err
	}
	return reg.Register(step.Definition{
		Name:        "checksum",
		Source:      "builtin/checksum.go",
		SourceBytes: checksumSource,
	}, func() step.Interface { return &Checksum{} })
}
