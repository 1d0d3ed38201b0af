package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a parameter config file (YAML or JSON) into a flat
// mapping. A top-level "params" key, when present, scopes the values; the
// rest of the document is ignored so the file can double as wider project
// config. A missing file is not an error and yields an empty mapping.
func LoadConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read param config: %w", err)
	}

	var doc map[string]any
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	} else {
		// Default to YAML
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
	}

	if nested, ok := doc["params"]; ok {
		scoped, ok := nested.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("params section in %s is not a mapping", filepath.Base(path))
		}
		return scoped, nil
	}
	return doc, nil
}
