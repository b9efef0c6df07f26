// Package record holds materialized grid rows and the accessor capability
// templates and function columns call through.
package record

import (
	"fmt"
	"strings"
)

// Row is one materialized record. Loaded relations are nested under their
// relation name: a Row for single relations, a []Row for collections.
type Row map[string]any

// Walk follows a dot-separated path through nested rows. It stops at the first
// value that is not a row or a row collection and returns the segments left
// unconsumed, so callers can continue into embedded JSON.
func (r Row) Walk(path string) (any, []string, bool) {
	if path == "" {
		return nil, nil, false
	}
	segs := strings.Split(path, ".")
	var cur any = r
	for i, seg := range segs {
		switch v := cur.(type) {
		case Row:
			next, ok := v[seg]
			if !ok {
				return nil, nil, false
			}
			cur = next
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, nil, false
			}
			cur = next
		case []Row:
			vals := make([]any, 0, len(v))
			for _, child := range v {
				if val, rest, ok := child.Walk(strings.Join(segs[i:], ".")); ok && len(rest) == 0 {
					vals = append(vals, val)
				}
			}
			return vals, nil, true
		default:
			return cur, segs[i:], true
		}
	}
	return cur, nil, true
}

// Lookup returns the value at path when the path is fully consumed.
func (r Row) Lookup(path string) (any, bool) {
	v, rest, ok := r.Walk(path)
	if !ok || len(rest) > 0 {
		return nil, false
	}
	return v, true
}

// Accessor computes a value from a row. It is the only way a template or a
// function column reaches code.
type Accessor func(Row) (any, error)

// Accessors maps accessor names, as written in column configs and
// templates, to their implementation.
type Accessors map[string]Accessor

// Source is the capability a renderer needs from a row.
type Source interface {
	Attrs() Row
	HasAccessor(name string) bool
	Invoke(name string) (any, error)
}

// Record binds a row to the accessors registered for its table.
type Record struct {
	Row       Row
	Accessors Accessors
}

func (r Record) Attrs() Row {
	return r.Row
}

func (r Record) HasAccessor(name string) bool {
	_, ok := r.Accessors[name]
	return ok
}

// Invoke calls the named accessor. A panicking accessor is reported as an
// error so a single bad cell cannot take the page down.
func (r Record) Invoke(name string) (v any, err error) {
	fn, ok := r.Accessors[name]
	if !ok {
		return nil, fmt.Errorf("accessor %q not defined", name)
	}
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, fmt.Errorf("accessor %q panicked: %v", name, p)
		}
	}()
	return fn(r.Row)
}
