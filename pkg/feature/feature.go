// Package feature defines the spatial record model shared by every stage:
// typed attribute schemas, geometry-bearing records and named collections.
package feature

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"
)

// FieldType is the declared storage type of an attribute.
type FieldType uint8

const (
	FieldString FieldType = iota
	FieldInteger
	FieldDouble
	FieldBoolean
	FieldDate
)

// String returns the field type name.
func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "integer"
	case FieldDouble:
		return "double"
	case FieldBoolean:
		return "boolean"
	case FieldDate:
		return "date"
	default:
		return "string"
	}
}

// ParseFieldType parses a field type name. Unknown names map to FieldString.
func ParseFieldType(s string) FieldType {
	switch s {
	case "integer":
		return FieldInteger
	case "double":
		return FieldDouble
	case "boolean":
		return FieldBoolean
	case "date":
		return FieldDate
	default:
		return FieldString
	}
}

// Field is a named, typed attribute.
type Field struct {
	Name string
	Type FieldType
}

// Schema is the ordered attribute schema shared by every record of a collection.
type Schema struct {
	Fields []Field
}

// Index returns the position of a field, or -1. Matching is case-sensitive.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the schema declares a field.
func (s Schema) Has(name string) bool {
	return s.Index(name) >= 0
}

// Names returns the field names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Record is a single spatial feature.
type Record struct {
	ID         int64
	Geometry   orb.Geometry
	Attributes map[string]any
}

// Clone returns a deep copy of the attribute map. Geometries are immutable values
// everywhere in this module and are shared.
func (r Record) Clone() Record {
	attrs := make(map[string]any, len(r.Attributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	return Record{ID: r.ID, Geometry: r.Geometry, Attributes: attrs}
}

// Collection is an ordered set of records with a shared schema and spatial reference.
type Collection struct {
	Name    string
	SRID    int
	Schema  Schema
	Records []Record
}

// Len returns the number of records.
func (c *Collection) Len() int {
	return len(c.Records)
}

// Validate checks the collection invariants: every record has a geometry and
// only carries attributes declared in the schema.
func (c *Collection) Validate() error {
	for i, r := range c.Records {
		if r.Geometry == nil {
			return fmt.Errorf("collection %q: record %d (fid %d) has no geometry", c.Name, i, r.ID)
		}
		for name := range r.Attributes {
			if !c.Schema.Has(name) {
				return fmt.Errorf("collection %q: record %d carries undeclared attribute %q", c.Name, i, name)
			}
		}
	}
	return nil
}

// Bound returns the combined extent of every record.
// ok is false for an empty collection.
func (c *Collection) Bound() (b orb.Bound, ok bool) {
	for _, r := range c.Records {
		if r.Geometry == nil {
			continue
		}
		if !ok {
			b = r.Geometry.Bound()
			ok = true
			continue
		}
		b = b.Union(r.Geometry.Bound())
	}
	return b, ok
}

// Clone copies the collection under a new name.
func (c *Collection) Clone(name string) *Collection {
	fields := make([]Field, len(c.Schema.Fields))
	copy(fields, c.Schema.Fields)

	records := make([]Record, len(c.Records))
	for i, r := range c.Records {
		records[i] = r.Clone()
	}
	return &Collection{Name: name, SRID: c.SRID, Schema: Schema{Fields: fields}, Records: records}
}

// Coerce converts v to the Go type used for a field type:
// string, int64, float64, bool or time.Time. nil stays nil.
func Coerce(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case FieldString:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.Format(time.RFC3339), nil
		default:
			return fmt.Sprint(x), nil
		}
	case FieldInteger:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("value %v is not integral", x)
			}
			return int64(x), nil
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case FieldDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case FieldBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(x)
		}
	case FieldDate:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339, x)
			if err != nil {
				return nil, err
			}
			return ts.UTC(), nil
		}
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, t)
}
