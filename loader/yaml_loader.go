// Package loader reads collection definition files and record payload files.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/schema"
	"github.com/cbnsndwch/struktura/validator"
)

// ErrNoFiles is returned when no path or pattern matches a file.
var ErrNoFiles = errors.New("no definition files found")

type yamlFile struct {
	Collections []yamlCollection `yaml:"collections"`
}

type yamlCollection struct {
	ID          string                  `yaml:"id,omitempty"`
	Name        string                  `yaml:"name"`
	Slug        string                  `yaml:"slug,omitempty"`
	Description string                  `yaml:"description,omitempty"`
	Active      *bool                   `yaml:"active,omitempty"`
	Fields      []schema.FieldInput     `yaml:"fields"`
	Views       []schema.ViewDefinition `yaml:"views,omitempty"`
}

// Definition is one collection read from a definition file.
type Definition struct {
	Source string
	Input  registry.CollectionInput
}

// Expand resolves paths and doublestar patterns to a sorted list of
// distinct files. A plain path naming a directory expands to the YAML files
// below it.
func Expand(patterns ...string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, pattern := range patterns {
		if !containsGlob(pattern) {
			info, err := os.Stat(pattern)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", pattern, err)
			}
			if !info.IsDir() {
				add(filepath.Clean(pattern))
				continue
			}
			pattern = filepath.Join(pattern, "**", "*.{yaml,yml}")
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob error: %w", err)
		}
		for _, m := range matches {
			add(m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, strings.Join(patterns, ", "))
	}
	sort.Strings(files)
	return files, nil
}

func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// LoadCollections reads every collection of the files matched by patterns,
// in file order.
func LoadCollections(patterns ...string) ([]Definition, error) {
	files, err := Expand(patterns...)
	if err != nil {
		return nil, err
	}
	var out []Definition
	slugs := map[string]string{}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reading schema file: %w", err)
		}
		defs, err := ParseCollections(f, data)
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			if prev, ok := slugs[d.Input.Slug]; ok {
				return nil, fmt.Errorf("%s: collection %s is already defined in %s", f, d.Input.Slug, prev)
			}
			slugs[d.Input.Slug] = f
		}
		out = append(out, defs...)
	}
	return out, nil
}

// ParseCollections decodes a definition file. Keys the format does not know
// are rejected, and every field goes through definition validation, so a
// misspelt type or option fails loudly instead of defaulting.
func ParseCollections(source string, data []byte) ([]Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var yf yamlFile
	if err := dec.Decode(&yf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: unmarshalling YAML: %w", source, err)
	}

	out := make([]Definition, 0, len(yf.Collections))
	for i, c := range yf.Collections {
		in, err := c.input()
		if err != nil {
			name := c.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("%s: collection %s: %w", source, name, err)
		}
		out = append(out, Definition{Source: source, Input: in})
	}
	return out, nil
}

func (c yamlCollection) input() (registry.CollectionInput, error) {
	in := registry.CollectionInput{
		ID:          c.ID,
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
		Views:       c.Views,
		Inactive:    c.Active != nil && !*c.Active,
	}
	if in.Slug == "" {
		in.Slug = registry.Slugify(c.Name)
	}
	names := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		def, err := validator.ValidateInput(f, names)
		if err != nil {
			return registry.CollectionInput{}, err
		}
		in.Fields = append(in.Fields, def)
		names = append(names, def.Name)
	}
	return in, nil
}

// Marshal renders schemas in the definition file format, so that a stored
// registry can be exported and loaded again.
func Marshal(schemas []schema.CollectionSchema) ([]byte, error) {
	yf := yamlFile{Collections: make([]yamlCollection, 0, len(schemas))}
	for _, s := range schemas {
		c := yamlCollection{
			Name:        s.Name,
			Slug:        s.Slug,
			Description: s.Description,
			Views:       s.Views,
		}
		if !s.IsActive {
			inactive := false
			c.Active = &inactive
		}
		for _, f := range s.Fields {
			c.Fields = append(c.Fields, f.Input())
		}
		yf.Collections = append(yf.Collections, c)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(yf); err != nil {
		return nil, fmt.Errorf("marshalling YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
