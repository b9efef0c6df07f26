// Package render scans row templates for the fields they need and renders
// them against materialized rows, sanitizing the result.
package render

import (
	"regexp"
	"sort"
	"strings"
)

// rowRef matches row.attr[.attr...] optionally followed by a call "(".
var rowRef = regexp.MustCompile(`\brow\.([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)(\s*\()?`)

// Chainer returns the longest prefix of segs that is a relation chain.
type Chainer func(segs []string) []string

// Refs are the row references found in a set of templates.
type Refs struct {
	// Fields are root attribute names, relation roots excluded.
	Fields []string
	// Relations are relation chains that must be loaded to render.
	Relations []string
}

// Scanner finds row attribute references in templates.
type Scanner struct {
	chain Chainer
}

// NewScanner returns a scanner; a nil chainer treats nothing as a relation.
func NewScanner(chain Chainer) *Scanner {
	if chain == nil {
		chain = func([]string) []string { return nil }
	}
	return &Scanner{chain: chain}
}

// Scan collects references from every template. Method-call markers
// (row.name()) are not attribute references and are skipped.
func (s *Scanner) Scan(templates ...string) Refs {
	fields := map[string]struct{}{}
	rels := map[string]struct{}{}
	for _, tpl := range templates {
		for _, m := range rowRef.FindAllStringSubmatch(tpl, -1) {
			if m[2] != "" {
				continue
			}
			segs := strings.Split(m[1], ".")
			head := segs
			if len(segs) > 1 {
				head = segs[:len(segs)-1]
			}
			if chain := s.chain(head); len(chain) > 0 {
				rels[strings.Join(chain, ".")] = struct{}{}
				continue
			}
			fields[segs[0]] = struct{}{}
		}
	}
	return Refs{Fields: sortedKeys(fields), Relations: sortedKeys(rels)}
}

// FieldsReferencedIn returns the attribute names a template reads directly
// from the row.
func (s *Scanner) FieldsReferencedIn(tpl string) []string {
	return s.Scan(tpl).Fields
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
