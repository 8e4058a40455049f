package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlCatalogFile is the top-level YAML structure for catalog files.
type yamlCatalogFile struct {
	Characters []Character `yaml:"characters"`
}

// LoadFromBytes parses and validates catalog characters from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the catalog schema.
// Postcondition: Returns validated characters or a non-nil error.
func LoadFromBytes(data []byte) ([]Character, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog YAML: %w", err)
	}
	for _, c := range file.Characters {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("validating character %q: %w", c.ID, err)
		}
	}
	return file.Characters, nil
}

// LoadFromFile reads and validates a single catalog YAML file.
//
// Precondition: path must point to a valid YAML catalog file.
// Postcondition: Returns validated characters or a non-nil error.
func LoadFromFile(path string) ([]Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromDir loads all YAML files in a directory into a single Registry.
//
// Precondition: dir must be a valid directory path containing at least one
// catalog file.
// Postcondition: Returns a Registry over all characters, or the first error.
func LoadFromDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading catalog directory %s: %w", dir, err)
	}

	var chars []Character
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		loaded, err := LoadFromFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("loading catalog from %s: %w", name, err)
		}
		chars = append(chars, loaded...)
	}

	if len(chars) == 0 {
		return nil, fmt.Errorf("no catalog files found in %s", dir)
	}

	return NewRegistry(chars)
}
