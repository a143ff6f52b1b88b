// Package schema loads structured-output descriptors from a directory and
// validates provider responses against them.
package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Descriptor is a named JSON Schema forwarded opaquely to providers.
type Descriptor struct {
	// Name is the schema's stable identity, unique within a run.
	Name        string
	Description string
	// Schema is the parsed JSON Schema document.
	Schema map[string]any
	// Raw is the original file contents.
	Raw json.RawMessage
	// Path is where the schema was loaded from.
	Path string
}

// Registry is an immutable name -> descriptor mapping built by an eager
// directory scan at startup. Unknown names fail fast.
type Registry struct {
	schemas map[string]*Descriptor
}

// LoadDir scans dir for *.json files and builds the registry. The schema name
// is the "title" property when present, otherwise the file stem.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading schemas directory: %w", err)
	}

	schemas := map[string]*Descriptor{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		desc, err := loadFile(path)
		if err != nil {
			return nil, err
		}

		if existing, ok := schemas[desc.Name]; ok {
			return nil, fmt.Errorf("duplicate schema name %q (%s and %s)", desc.Name, existing.Path, path)
		}
		schemas[desc.Name] = desc
	}

	slog.Debug("Loaded schema registry", "dir", dir, "schemas", len(schemas))

	return &Registry{schemas: schemas}, nil
}

func loadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing schema %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".json")
	if title, ok := doc["title"].(string); ok && title != "" {
		name = title
	}

	description, _ := doc["description"].(string)

	return &Descriptor{
		Name:        name,
		Description: description,
		Schema:      doc,
		Raw:         json.RawMessage(data),
		Path:        path,
	}, nil
}

// Get returns the named schema or an error listing what is available.
func (r *Registry) Get(name string) (*Descriptor, error) {
	desc, ok := r.schemas[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return desc, nil
}

// Names lists registered schema names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}
