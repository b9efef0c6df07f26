// Package relation parses "relation[.relation...]:attribute[.attribute...]"
// column sources and resolves them against the entity catalog.
package relation

import (
	"regexp"
	"strings"

	"github.com/gnemet/gridengine/griderr"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved words are refused as path segments even though values are always
// bound as parameters.
var reserved = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true, "drop": true,
	"union": true, "alter": true, "create": true, "truncate": true, "exec": true,
	"execute": true, "grant": true, "revoke": true, "where": true, "from": true,
	"table": true, "into": true, "or": true, "and": true, "not": true, "null": true,
}

// Path is a parsed relation string.
type Path struct {
	Raw       string
	Relations []string
	Attribute []string
}

// NestingLevel counts segments beyond one relation and one attribute. Any
// value above zero makes the column ineligible for sorting.
func (p Path) NestingLevel() int {
	return len(p.Relations) + len(p.Attribute) - 2
}

// Sortable reports whether the path may be sorted on.
func (p Path) Sortable() bool {
	return p.NestingLevel() <= 0
}

// Chain is the dotted relation chain, e.g. "department.company".
func (p Path) Chain() string {
	return strings.Join(p.Relations, ".")
}

// Root is the first relation of the chain.
func (p Path) Root() string {
	return p.Relations[0]
}

// Column is the attribute's column on the terminal entity.
func (p Path) Column() string {
	return p.Attribute[0]
}

// JSONPath is the remainder of the attribute inside Column, if any.
func (p Path) JSONPath() []string {
	return p.Attribute[1:]
}

// AttributePath is the dotted attribute, e.g. "settings.theme".
func (p Path) AttributePath() string {
	return strings.Join(p.Attribute, ".")
}

func (p Path) String() string {
	return p.Chain() + ":" + p.AttributePath()
}

// Parse validates the syntax of a relation string.
func Parse(s string) (Path, error) {
	raw := strings.TrimSpace(s)
	if strings.Count(raw, ":") != 1 {
		return Path{}, griderr.New(griderr.ErrInvalidRelationString, s, "expected exactly one ':' separator")
	}
	left, right, _ := strings.Cut(raw, ":")
	rels, err := splitSegments(left)
	if err != nil {
		return Path{}, griderr.New(griderr.ErrInvalidRelationString, s, "relation: "+err.Error())
	}
	attrs, err := splitSegments(right)
	if err != nil {
		return Path{}, griderr.New(griderr.ErrInvalidRelationString, s, "attribute: "+err.Error())
	}
	return Path{Raw: raw, Relations: rels, Attribute: attrs}, nil
}

type segmentError string

func (e segmentError) Error() string { return string(e) }

func splitSegments(s string) ([]string, error) {
	if s == "" {
		return nil, segmentError("empty")
	}
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if !ValidIdent(p) {
			return nil, segmentError("invalid segment " + quoteSegment(p))
		}
	}
	return parts, nil
}

// ValidIdent reports whether s is a safe, non-reserved identifier.
func ValidIdent(s string) bool {
	return identPattern.MatchString(s) && !reserved[strings.ToLower(s)]
}

func quoteSegment(s string) string {
	return "\"" + strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return '?'
		}
		return r
	}, s) + "\""
}

// Prefixes expands "a.b.c" into "a", "a.b", "a.b.c".
func Prefixes(chain string) []string {
	if chain == "" {
		return nil
	}
	parts := strings.Split(chain, ".")
	out := make([]string, 0, len(parts))
	for i := range parts {
		out = append(out, strings.Join(parts[:i+1], "."))
	}
	return out
}
