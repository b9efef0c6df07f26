package column

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ettle/strcase"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gnemet/gridengine/griderr"
	"github.com/gnemet/gridengine/internal/relation"
	"github.com/gnemet/gridengine/schema"
)

// Kind is where a column's value comes from.
type Kind string

const (
	KindDirect   Kind = "direct"
	KindRelation Kind = "relation"
	KindJSON     Kind = "json"
	KindFunction Kind = "function"
	KindRaw      Kind = "raw"
	// KindNone marks render-only columns with no usable source; they render "N/A".
	KindNone Kind = "n/a"
)

// Filter types beyond the schema column types.
const (
	TypeSelect   = "select"
	TypeDistinct = "distinct"
)

// Descriptor is the normalized form of one column.
type Descriptor struct {
	Index       int
	Identifier  string
	Kind        Kind
	Key         string
	DBKey       string
	Relation    *relation.Resolved
	JSONPath    string
	Function    string
	RawTemplate string
	Label       string
	Type        string
	Sortable    bool
	Searchable  bool
	Visible     bool
	Class       ClassSpec
}

// Numeric reports whether the column compares as a number.
func (d *Descriptor) Numeric() bool {
	return schema.ColumnType(d.Type).Numeric()
}

// Registry holds the descriptors of one table instance, in config order.
type Registry struct {
	entity  *schema.Entity
	columns []*Descriptor
	byID    map[string]*Descriptor
}

// Build normalizes configs. It never fails: unusable entries become KindNone
// columns and are logged.
func Build(entity *schema.Entity, resolver *relation.Resolver, configs []Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{entity: entity, byID: make(map[string]*Descriptor, len(configs))}
	for i, cfg := range configs {
		d := r.describe(i, cfg, resolver, logger)
		if _, dup := r.byID[d.Identifier]; dup {
			d.Identifier = fmt.Sprintf("%s_%d", d.Identifier, i)
		}
		r.columns = append(r.columns, d)
		r.byID[d.Identifier] = d
	}
	return r
}

// Identifier applies the precedence function > key+json > key > col_<index>.
func Identifier(i int, cfg Config) string {
	switch {
	case cfg.Function != "":
		return cfg.Function
	case cfg.Key != "" && cfg.JSON != "":
		return cfg.Key + "." + cfg.JSON
	case cfg.Key != "":
		return cfg.Key
	default:
		return fmt.Sprintf("col_%d", i)
	}
}

func (r *Registry) describe(i int, cfg Config, resolver *relation.Resolver, logger *slog.Logger) *Descriptor {
	d := &Descriptor{
		Index:       i,
		Identifier:  Identifier(i, cfg),
		Key:         cfg.Key,
		Function:    cfg.Function,
		RawTemplate: cfg.Raw,
		Visible:     !cfg.Hide,
		Class:       cfg.Class,
	}

	switch {
	case cfg.Function != "":
		d.Kind = KindFunction
	case cfg.Relation != "" && cfg.Key != "":
		res, err := resolver.Resolve(r.entity, cfg.Relation)
		if err != nil {
			logger.Warn("column relation unusable, rendering as N/A", "column", d.Identifier, "error", err)
			d.Kind = KindNone
			break
		}
		d.Kind = KindRelation
		d.Relation = &res
		d.Type = string(res.ColumnType())
		d.Sortable = res.Sortable()
		d.Searchable = true
	case cfg.Key != "" && cfg.JSON != "":
		if !r.entity.HasColumn(cfg.Key) || !validJSONPath(cfg.JSON) {
			logger.Warn("json column unusable, rendering as N/A", "column", d.Identifier,
				"error", griderr.New(griderr.ErrInvalidColumn, cfg.Key, "unknown column or malformed json path"))
			d.Kind = KindNone
			break
		}
		d.Kind = KindJSON
		d.DBKey = cfg.Key
		d.JSONPath = cfg.JSON
		d.Type = string(schema.TypeText)
	case cfg.Key != "" && r.entity.HasColumn(cfg.Key):
		d.Kind = KindDirect
		d.DBKey = cfg.Key
		d.Type = string(r.entity.ColumnType(cfg.Key))
		d.Sortable = true
		d.Searchable = true
	case cfg.Raw != "":
		d.Kind = KindRaw
	default:
		if cfg.Key != "" || cfg.Relation != "" {
			logger.Debug("column has no usable source", "column", d.Identifier, "entity", r.entity.Name)
		}
		d.Kind = KindNone
	}

	if cfg.Type != "" {
		d.Type = cfg.Type
	}
	if d.Type == "" {
		d.Type = string(schema.TypeText)
	}
	if cfg.Sortable != nil && !*cfg.Sortable {
		d.Sortable = false
	}
	if cfg.Searchable != nil && !*cfg.Searchable {
		d.Searchable = false
	}

	d.Label = cfg.Label
	if d.Label == "" {
		d.Label = deriveLabel(cfg, d.Identifier)
	}
	return d
}

func validJSONPath(p string) bool {
	for _, seg := range strings.Split(p, ".") {
		if !relation.ValidIdent(seg) && !isIndex(seg) {
			return false
		}
	}
	return true
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func deriveLabel(cfg Config, id string) string {
	name := id
	switch {
	case cfg.JSON != "":
		segs := strings.Split(cfg.JSON, ".")
		name = segs[len(segs)-1]
	case cfg.Key != "":
		name = cfg.Key
	case cfg.Function != "":
		name = cfg.Function
	}
	return cases.Title(language.English).String(strcase.ToCase(name, strcase.LowerCase, ' '))
}

// Entity is the entity the registry was built for.
func (r *Registry) Entity() *schema.Entity {
	return r.entity
}

// Columns returns all descriptors in config order.
func (r *Registry) Columns() []*Descriptor {
	return r.columns
}

// Lookup returns the descriptor with the given identifier.
func (r *Registry) Lookup(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// DefaultVisibility maps every identifier to its configured visibility.
func (r *Registry) DefaultVisibility() map[string]bool {
	m := make(map[string]bool, len(r.columns))
	for _, d := range r.columns {
		m[d.Identifier] = d.Visible
	}
	return m
}

// IsVisible applies per-session overrides on top of the defaults.
func (r *Registry) IsVisible(d *Descriptor, overrides map[string]bool) bool {
	if v, ok := overrides[d.Identifier]; ok {
		return v
	}
	return d.Visible
}

// Visible returns the visible descriptors in config order.
func (r *Registry) Visible(overrides map[string]bool) []*Descriptor {
	out := make([]*Descriptor, 0, len(r.columns))
	for _, d := range r.columns {
		if r.IsVisible(d, overrides) {
			out = append(out, d)
		}
	}
	return out
}

// RelationChains returns the relation chains of the given descriptors.
func RelationChains(cols []*Descriptor) []string {
	var out []string
	for _, d := range cols {
		if d.Kind == KindRelation {
			out = append(out, d.Relation.Chain())
		}
	}
	return out
}
