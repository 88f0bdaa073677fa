package normalizer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTables reads a YAML rules file. Each non-empty section replaces the
// matching built-in table; empty sections keep the defaults.
//
//	typos:
//	  - {from: "vanila", to: "Vanilla"}
//	keywords:
//	  - {keyword: "gelato", category: "Ice Cream"}
//	prefix_families: ["eggless", "vegan"]
func LoadTables(path string) (Tables, error) {
	t := DefaultTables()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read normalizer rules: %w", err)
	}
	return ParseTables(data)
}

func ParseTables(data []byte) (Tables, error) {
	t := DefaultTables()
	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return t, fmt.Errorf("parse normalizer rules: %w", err)
	}
	if len(override.Typos) > 0 {
		t.Typos = override.Typos
	}
	if len(override.Keywords) > 0 {
		t.Keywords = override.Keywords
	}
	if len(override.PrefixFamilies) > 0 {
		t.PrefixFamilies = override.PrefixFamilies
	}
	return t, nil
}

// NewFromFile builds a normalizer from an optional rules file.
func NewFromFile(path string) (*Normalizer, error) {
	t, err := LoadTables(path)
	if err != nil {
		return nil, err
	}
	return New(t)
}
