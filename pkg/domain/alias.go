package domain

import (
	"fmt"
	"path"
	"strings"
)

// ValidateAliasName checks that an alias name is safe to use as a store path
// segment. Names may be hierarchical ("runs/demo") using forward slashes but
// must stay inside the alias namespace.
func ValidateAliasName(name string) error {
	if name == "" {
		return fmt.Errorf("alias name cannot be empty")
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("alias name %q cannot begin or end with a separator", name)
	}
	if strings.Contains(name, "\\") || path.Clean(name) != name {
		return fmt.Errorf("alias name %q contains unsafe path elements", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("alias name %q contains unsafe path elements", name)
		}
	}
	return nil
}
