package builtin

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/graft/pkg/step"
)

// Concat joins every file input into out/result.txt, ordered by input name.
type Concat struct {
	parts []string
}

// Load verifies that every input is a plain file.
func (c *Concat) Load(rc *step.RunContext) error {
	if len(rc.InputNames()) == 0 {
		return fmt.Errorf("concat needs at least one input")
	}
	for _, name := range rc.InputNames() {
		p, err := rc.InputPath(name)
		if err != nil {
			return err
		}
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("input %q is a directory; concat joins files", name)
		}
	}
	return nil
}

// Core reads the inputs in name order.
func (c *Concat) Core(rc *step.RunContext) error {
	for _, name := range rc.InputNames() {
		f, err := rc.OpenInput(name)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read input %q: %w", name, err)
		}
		c.parts = append(c.parts, string(data))
	}
	return nil
}

// Save writes the joined result.
func (c *Concat) Save(rc *step.RunContext) error {
	sep, _ := rc.Param("separator").(string)
	out, err := rc.OutputPath("result.txt")
	if err != nil {
		return err
	}
	return os.WriteFile(out, []byte(strings.Join(c.parts, sep)), 0o644)
}
