// Package column normalizes raw column configuration into descriptors with a
// stable identifier, a value-source kind and derived sort/search eligibility.
package column

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config is one raw column entry as written by the caller.
type Config struct {
	Key        string    `yaml:"key" json:"key,omitempty"`
	Function   string    `yaml:"function" json:"function,omitempty"`
	Relation   string    `yaml:"relation" json:"relation,omitempty"`
	JSON       string    `yaml:"json" json:"json,omitempty"`
	Raw        string    `yaml:"raw" json:"raw,omitempty"`
	Label      string    `yaml:"label" json:"label,omitempty"`
	Hide       bool      `yaml:"hide" json:"hide,omitempty"`
	Sortable   *bool     `yaml:"sortable" json:"sortable,omitempty"`
	Searchable *bool     `yaml:"searchable" json:"searchable,omitempty"`
	Type       string    `yaml:"type" json:"type,omitempty"`
	Class      ClassSpec `yaml:"class" json:"class,omitempty"`
}

// ClassRule applies Class when the condition When holds for the row.
type ClassRule struct {
	Class string
	When  string
}

// ClassSpec is either a static class string or an ordered list of
// conditional classes, written as a map class -> condition.
type ClassSpec struct {
	Static string
	Rules  []ClassRule
}

// Empty reports whether no class is configured.
func (c ClassSpec) Empty() bool {
	return c.Static == "" && len(c.Rules) == 0
}

func (c *ClassSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		c.Static = node.Value
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			c.Rules = append(c.Rules, ClassRule{Class: node.Content[i].Value, When: node.Content[i+1].Value})
		}
		return nil
	default:
		return fmt.Errorf("class: expected string or map, got %v", node.Tag)
	}
}

func (c *ClassSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Static = s
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("class: expected string or object: %w", err)
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		c.Rules = append(c.Rules, ClassRule{Class: k, When: m[k]})
	}
	return nil
}

func (c ClassSpec) MarshalJSON() ([]byte, error) {
	if len(c.Rules) == 0 {
		return json.Marshal(c.Static)
	}
	m := make(map[string]string, len(c.Rules))
	for _, r := range c.Rules {
		m[r.Class] = r.When
	}
	return json.Marshal(m)
}
