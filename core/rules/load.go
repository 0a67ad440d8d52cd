package rules

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed data/rules.yaml
var defaultTable []byte

// Table is the external rule-authoring document.
type Table struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// Load parses a rule table and builds a RuleSet from it.
func Load(r io.Reader) (*RuleSet, error) {
	var table Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&table); err != nil {
		if err == io.EOF {
			return newRuleSet(0, nil)
		}
		return nil, fmt.Errorf("decode rule table: %w", err)
	}
	return newRuleSet(table.Version, table.Rules)
}

// LoadFile loads a rule table from path.
func LoadFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rule table: %w", err)
	}
	defer f.Close()

	rs, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Default builds the RuleSet from the embedded rule table.
func Default() (*RuleSet, error) {
	return Load(bytes.NewReader(defaultTable))
}

// LoadOrDefault loads path, or the embedded table when path is empty.
func LoadOrDefault(path string) (*RuleSet, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}
