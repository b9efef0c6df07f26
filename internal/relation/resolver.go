package relation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/schema"
)

// Hop is one relation step of a resolved chain.
type Hop struct {
	Relation *schema.Relation
	From     *schema.Entity
	To       *schema.Entity
}

// Resolved is a Path checked against the catalog.
type Resolved struct {
	Path
	Hops   []Hop
	Target *schema.Entity
}

// ColumnType is the declared type of the terminal column, or json when the
// attribute descends into it.
func (r Resolved) ColumnType() schema.ColumnType {
	if len(r.JSONPath()) > 0 {
		return schema.TypeJSON
	}
	return r.Target.ColumnType(r.Column())
}

// Resolver resolves relation strings against a catalog.
type Resolver struct {
	catalog *schema.Catalog
}

func NewResolver(c *schema.Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Resolve parses s and checks every relation exists and the attribute is a
// declared column of the terminal entity.
func (r *Resolver) Resolve(from *schema.Entity, s string) (Resolved, error) {
	p, err := Parse(s)
	if err != nil {
		return Resolved{}, err
	}
	hops, err := r.Walk(from, p.Relations)
	if err != nil {
		return Resolved{}, griderr.Wrap(griderr.ErrInvalidRelationString, s, err)
	}
	target := hops[len(hops)-1].To
	if !target.HasColumn(p.Column()) {
		return Resolved{}, griderr.New(griderr.ErrInvalidRelationString, s,
			fmt.Sprintf("column %q not declared on %q", p.Column(), target.Name))
	}
	if len(p.JSONPath()) > 0 && target.ColumnType(p.Column()) != schema.TypeJSON {
		return Resolved{}, griderr.New(griderr.ErrInvalidRelationString, s,
			fmt.Sprintf("column %q is not json", p.Column()))
	}
	return Resolved{Path: p, Hops: hops, Target: target}, nil
}

// Walk follows a relation chain from an entity.
func (r *Resolver) Walk(from *schema.Entity, chain []string) ([]Hop, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty relation chain")
	}
	hops := make([]Hop, 0, len(chain))
	cur := from
	for _, name := range chain {
		rel, next, err := r.catalog.Related(cur, name)
		if err != nil {
			return nil, err
		}
		hops = append(hops, Hop{Relation: rel, From: cur, To: next})
		cur = next
	}
	return hops, nil
}

// IsRelation reports whether name is a relation of the entity.
func (r *Resolver) IsRelation(from *schema.Entity, name string) bool {
	_, ok := from.Relation(name)
	return ok
}

// LongestChain returns the longest prefix of segs that is a valid relation
// chain from the entity. Segments after it are attributes.
func (r *Resolver) LongestChain(from *schema.Entity, segs []string) []string {
	cur := from
	n := 0
	for _, s := range segs {
		rel, ok := cur.Relation(s)
		if !ok {
			break
		}
		next, ok := r.catalog.Entity(rel.Entity)
		if !ok {
			break
		}
		cur = next
		n++
	}
	return segs[:n]
}

// EagerLoadPaths expands every valid chain into all of its prefixes, so the
// store can batch-load each level once. Invalid chains are dropped. The
// result is sorted, which puts every prefix before its extensions.
func (r *Resolver) EagerLoadPaths(from *schema.Entity, chains ...string) []string {
	set := make(map[string]struct{})
	for _, chain := range chains {
		if chain == "" {
			continue
		}
		segs := strings.Split(chain, ".")
		if _, err := r.Walk(from, segs); err != nil {
			continue
		}
		for _, p := range Prefixes(chain) {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
