package builtin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/graft/pkg/step"
)

// Checksum writes a sha256 table of its file inputs to out/checksums.txt,
// one "<hex>  <name>" line per input, ordered by input name.
type Checksum struct {
	lines []string
}

// Load verifies that every input is a plain file.
func (c *Checksum) Load(rc *step.RunContext) error {
	if len(rc.InputNames()) == 0 {
		return fmt.Errorf("checksum needs at least one input")
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
			return fmt.Errorf("input %q is a directory; checksum hashes files", name)
		}
	}
	return nil
}

// Core hashes each input.
func (c *Checksum) Core(rc *step.RunContext) error {
	for _, name := range rc.InputNames() {
		f, err := rc.OpenInput(name)
		if err != nil {
			return err
		}
		h := sha256.New()
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to hash input %q: %w", name, err)
		}
		c.lines = append(c.lines, hex.EncodeToString(h.Sum(nil))+"  "+name)
	}
	return nil
}

// Save writes the table.
func (c *Checksum) Save(rc *step.RunContext) error {
	out, err := rc.OutputPath("checksums.txt")
	if err != nil {
		return err
	}
	return os.WriteFile(out, []byte(strings.Join(c.lines, "\n")+"\n"), 0o644)
}
