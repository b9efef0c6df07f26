// Package schema describes the entities a grid can list: their table, typed
// columns and relations. The query planner never lets an identifier reach SQL
// unless it is declared here.
package schema

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ColumnType is the declared storage type of an entity column.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeNumber  ColumnType = "number"
	TypeInteger ColumnType = "integer"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
	TypeJSON    ColumnType = "json"
)

// Numeric reports whether values of this type compare as numbers.
func (t ColumnType) Numeric() bool {
	return t == TypeNumber || t == TypeInteger
}

// RelationKind is the cardinality of a relation.
type RelationKind string

const (
	BelongsTo     RelationKind = "belongs_to"
	HasOne        RelationKind = "has_one"
	HasMany       RelationKind = "has_many"
	BelongsToMany RelationKind = "belongs_to_many"
)

// Relation links an entity to a related one.
//
//	belongs_to:      parent.foreign_key = related.owner_key
//	has_one/has_many: related.foreign_key = parent.local_key
//	belongs_to_many: pivot.pivot_foreign_key = parent.local_key
//	                 pivot.pivot_related_key = related.owner_key
type Relation struct {
	Name            string       `yaml:"-" json:"-"`
	Kind            RelationKind `yaml:"kind" json:"kind"`
	Entity          string       `yaml:"entity" json:"entity"`
	ForeignKey      string       `yaml:"foreign_key" json:"foreign_key"`
	OwnerKey        string       `yaml:"owner_key" json:"owner_key"`
	LocalKey        string       `yaml:"local_key" json:"local_key"`
	Pivot           string       `yaml:"pivot" json:"pivot"`
	PivotForeignKey string       `yaml:"pivot_foreign_key" json:"pivot_foreign_key"`
	PivotRelatedKey string       `yaml:"pivot_related_key" json:"pivot_related_key"`
}

// ParentKey is the column on the owning entity the relation is keyed by.
func (r *Relation) ParentKey() string {
	if r.Kind == BelongsTo {
		return r.ForeignKey
	}
	return r.LocalKey
}

// RelatedKey is the column on the related entity matched against ParentKey,
// or against the pivot for belongs_to_many.
func (r *Relation) RelatedKey() string {
	switch r.Kind {
	case HasOne, HasMany:
		return r.ForeignKey
	default:
		return r.OwnerKey
	}
}

// Many reports whether the relation yields a collection.
func (r *Relation) Many() bool {
	return r.Kind == HasMany || r.Kind == BelongsToMany
}

// Entity is a listable table.
type Entity struct {
	Name       string                `yaml:"-" json:"-"`
	Table      string                `yaml:"table" json:"table"`
	PrimaryKey string                `yaml:"primary_key" json:"primary_key"`
	Columns    map[string]ColumnType `yaml:"columns" json:"columns"`
	Relations  map[string]*Relation  `yaml:"relations" json:"relations"`
}

// HasColumn reports whether name is a declared column.
func (e *Entity) HasColumn(name string) bool {
	_, ok := e.Columns[name]
	return ok
}

// ColumnType returns the declared type, defaulting to text.
func (e *Entity) ColumnType(name string) ColumnType {
	if t, ok := e.Columns[name]; ok && t != "" {
		return t
	}
	return TypeText
}

// Relation returns the named relation.
func (e *Entity) Relation(name string) (*Relation, bool) {
	r, ok := e.Relations[name]
	return r, ok
}

// ColumnNames returns the declared columns in a stable order.
func (e *Entity) ColumnNames() []string {
	names := make([]string, 0, len(e.Columns))
	for n := range e.Columns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Catalog is the set of entities relations may point to.
type Catalog struct {
	Entities map[string]*Entity `yaml:"entities" json:"entities"`
}

// LoadCatalog reads a YAML (or JSON) entity catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and resolves a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Resolve(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Entity returns the named entity.
func (c *Catalog) Entity(name string) (*Entity, bool) {
	e, ok := c.Entities[name]
	return e, ok
}

// Related returns the relation and its target entity.
func (c *Catalog) Related(from *Entity, name string) (*Relation, *Entity, error) {
	rel, ok := from.Relation(name)
	if !ok {
		return nil, nil, fmt.Errorf("entity %q has no relation %q", from.Name, name)
	}
	target, ok := c.Entity(rel.Entity)
	if !ok {
		return nil, nil, fmt.Errorf("relation %s.%s targets unknown entity %q", from.Name, name, rel.Entity)
	}
	return rel, target, nil
}

// Resolve fills names and default keys and checks every relation points to
// declared columns.
func (c *Catalog) Resolve() error {
	if len(c.Entities) == 0 {
		return fmt.Errorf("catalog declares no entities")
	}
	for name, e := range c.Entities {
		e.Name = name
		if e.Table == "" {
			e.Table = name
		}
		if e.PrimaryKey == "" {
			e.PrimaryKey = "id"
		}
		if e.Columns == nil {
			e.Columns = map[string]ColumnType{}
		}
		if _, ok := e.Columns[e.PrimaryKey]; !ok {
			e.Columns[e.PrimaryKey] = TypeInteger
		}
	}
	for _, e := range c.Entities {
		for rname, rel := range e.Relations {
			rel.Name = rname
			target, ok := c.Entities[rel.Entity]
			if !ok {
				return fmt.Errorf("relation %s.%s targets unknown entity %q", e.Name, rname, rel.Entity)
			}
			if err := rel.resolve(e, target); err != nil {
				return fmt.Errorf("relation %s.%s: %w", e.Name, rname, err)
			}
		}
	}
	return nil
}

func (r *Relation) resolve(parent, related *Entity) error {
	switch r.Kind {
	case BelongsTo:
		if r.ForeignKey == "" {
			r.ForeignKey = r.Name + "_id"
		}
		if r.OwnerKey == "" {
			r.OwnerKey = related.PrimaryKey
		}
		return requireColumns(parent, r.ForeignKey, related, r.OwnerKey)
	case HasOne, HasMany:
		if r.ForeignKey == "" {
			return fmt.Errorf("%s requires foreign_key", r.Kind)
		}
		if r.LocalKey == "" {
			r.LocalKey = parent.PrimaryKey
		}
		return requireColumns(parent, r.LocalKey, related, r.ForeignKey)
	case BelongsToMany:
		if r.Pivot == "" || r.PivotForeignKey == "" || r.PivotRelatedKey == "" {
			return fmt.Errorf("%s requires pivot, pivot_foreign_key and pivot_related_key", r.Kind)
		}
		if r.LocalKey == "" {
			r.LocalKey = parent.PrimaryKey
		}
		if r.OwnerKey == "" {
			r.OwnerKey = related.PrimaryKey
		}
		return requireColumns(parent, r.LocalKey, related, r.OwnerKey)
	default:
		return fmt.Errorf("unknown relation kind %q", r.Kind)
	}
}

func requireColumns(parent *Entity, parentCol string, related *Entity, relatedCol string) error {
	if !parent.HasColumn(parentCol) {
		return fmt.Errorf("column %q not declared on %q", parentCol, parent.Name)
	}
	if !related.HasColumn(relatedCol) {
		return fmt.Errorf("column %q not declared on %q", relatedCol, related.Name)
	}
	return nil
}
