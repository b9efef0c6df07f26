// Package gridengine turns a declarative column configuration and a user's
// grid state (search, sort, filter, date range, paging, visible columns)
// into a safe SQL plan, runs it, and renders the resulting rows.
package gridengine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gnemet/gridengine/internal/column"
	"github.com/gnemet/gridengine/internal/query"
)

// ColumnConfig is one raw column entry: key, function, relation ("a.b:c"),
// json path, raw template, label, hide, sortable, searchable, type and class.
type ColumnConfig = column.Config

// ClassSpec is a static class or a map of class -> condition.
type ClassSpec = column.ClassSpec

type ClassRule = column.ClassRule

// Constraint is a caller-supplied predicate applied before anything else.
type Constraint = query.Constraint

// SortConfig is the sort applied when the requested one cannot be.
type SortConfig struct {
	Column    string `yaml:"column" json:"column"`
	Direction string `yaml:"direction" json:"direction,omitempty"`
}

// TableConfig describes one table instance.
type TableConfig struct {
	ID                    string         `yaml:"id" json:"id,omitempty"`
	Entity                string         `yaml:"entity" json:"entity"`
	PerPage               int            `yaml:"per_page" json:"per_page,omitempty"`
	DefaultSort           *SortConfig    `yaml:"default_sort" json:"default_sort,omitempty"`
	SearchCaseInsensitive bool           `yaml:"search_case_insensitive" json:"search_case_insensitive,omitempty"`
	MaxDistinctValues     int            `yaml:"max_distinct_values" json:"max_distinct_values,omitempty"`
	Columns               []ColumnConfig `yaml:"columns" json:"columns"`
	Actions               []string       `yaml:"actions" json:"actions,omitempty"`
	// Constraints mixes the written forms [col, value], [col, op, value]
	// and {col: value}.
	Constraints []any `yaml:"constraints" json:"constraints,omitempty"`
}

// LoadTableConfig reads a YAML or JSON table config and validates it.
func LoadTableConfig(path string) (TableConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TableConfig{}, err
	}
	cfg, err := ParseTableConfig(data)
	if err != nil {
		return TableConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseTableConfig validates data against the table config schema and
// decodes it. JSON documents are accepted as YAML.
func ParseTableConfig(data []byte) (TableConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return TableConfig{}, err
	}
	if err := column.Validate(doc); err != nil {
		return TableConfig{}, err
	}
	var cfg TableConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TableConfig{}, err
	}
	return cfg, nil
}

// ValidateTableConfig checks a document without decoding it.
func ValidateTableConfig(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	return column.Validate(doc)
}
