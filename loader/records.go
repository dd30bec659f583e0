package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cbnsndwch/struktura/schema"
)

// LoadRecords reads record payloads from a JSON or YAML file. The file holds
// either one object or a list of objects.
func LoadRecords(path string) ([]schema.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseRecordsJSON(data)
	case ".yaml", ".yml":
		return ParseRecordsYAML(data)
	}
	return nil, fmt.Errorf("record file %s must be .json, .yaml or .yml", path)
}

// ParseRecordsJSON decodes one JSON object or a JSON array of objects.
func ParseRecordsJSON(data []byte) ([]schema.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []schema.Record
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("unmarshalling JSON records: %w", err)
		}
		return list, nil
	}
	var one schema.Record
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("unmarshalling JSON record: %w", err)
	}
	return []schema.Record{one}, nil
}

// ParseRecordsYAML decodes one YAML mapping or a YAML sequence of mappings.
func ParseRecordsYAML(data []byte) ([]schema.Record, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("unmarshalling YAML records: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	doc := node.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		var list []schema.Record
		if err := doc.Decode(&list); err != nil {
			return nil, fmt.Errorf("unmarshalling YAML records: %w", err)
		}
		return list, nil
	case yaml.MappingNode:
		var one schema.Record
		if err := doc.Decode(&one); err != nil {
			return nil, fmt.Errorf("unmarshalling YAML record: %w", err)
		}
		return []schema.Record{one}, nil
	}
	return nil, fmt.Errorf("YAML records must be a mapping or a list of mappings")
}
