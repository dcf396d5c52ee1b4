package feature

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
)

// DefaultSRID is assumed for GeoJSON input that does not declare a crs member.
const DefaultSRID = 4326

// MarshalGeoJSON encodes a collection as a compact GeoJSON FeatureCollection.
//
// Coordinates are written in the collection's own spatial reference, which is
// declared through a named crs member. Properties use schema field names verbatim.
// orb geometries are two-dimensional, so no Z or M values are ever emitted.
func MarshalGeoJSON(c *Collection) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	if c.SRID > 0 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]any{
				"type":       "name",
				"properties": map[string]any{"name": fmt.Sprintf("EPSG:%d", c.SRID)},
			},
		}
	}

	for _, r := range c.Records {
		f := geojson.NewFeature(r.Geometry)
		f.ID = r.ID
		for _, field := range c.Schema.Fields {
			v := r.Attributes[field.Name]
			if ts, ok := v.(time.Time); ok {
				v = ts.UTC().Format(time.RFC3339)
			}
			f.Properties[field.Name] = v
		}
		fc.Append(f)
	}

	return fc.MarshalJSON()
}

// UnmarshalGeoJSON decodes a GeoJSON FeatureCollection into a named collection.
// Field types are inferred from the property values: booleans, integral numbers,
// other numbers and strings. A property holding mixed kinds becomes a string field.
func UnmarshalGeoJSON(data []byte, name string) (*Collection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode geojson: %w", err)
	}

	c := &Collection{Name: name, SRID: DefaultSRID}
	if srid, ok := sridFromMembers(fc.ExtraMembers); ok {
		c.SRID = srid
	}

	types := make(map[string]FieldType)
	conflicted := make(map[string]bool)
	for _, f := range fc.Features {
		for k, v := range f.Properties {
			t, ok := inferType(v)
			if !ok {
				continue
			}
			if prev, seen := types[k]; seen && prev != t {
				// integers widen to doubles; anything else degrades to string
				if (prev == FieldInteger && t == FieldDouble) || (prev == FieldDouble && t == FieldInteger) {
					types[k] = FieldDouble
					continue
				}
				conflicted[k] = true
				continue
			}
			types[k] = t
		}
	}

	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		t := types[k]
		if conflicted[k] {
			t = FieldString
		}
		c.Schema.Fields = append(c.Schema.Fields, Field{Name: k, Type: t})
	}

	for i, f := range fc.Features {
		if f.Geometry == nil {
			return nil, fmt.Errorf("feature %d has no geometry", i)
		}
		rec := Record{
			ID:         featureID(f.ID, int64(i+1)),
			Geometry:   f.Geometry,
			Attributes: make(map[string]any, len(c.Schema.Fields)),
		}
		for _, field := range c.Schema.Fields {
			v, err := Coerce(field.Type, f.Properties[field.Name])
			if err != nil {
				return nil, fmt.Errorf("feature %d, property %q: %w", i, field.Name, err)
			}
			rec.Attributes[field.Name] = v
		}
		c.Records = append(c.Records, rec)
	}

	return c, nil
}

func inferType(v any) (FieldType, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case bool:
		return FieldBoolean, true
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return FieldInteger, true
		}
		return FieldDouble, true
	case string:
		return FieldString, true
	default:
		return FieldString, true
	}
}

func featureID(id any, fallback int64) int64 {
	switch x := id.(type) {
	case float64:
		return int64(x)
	case string:
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// sridFromMembers reads a named crs member such as "EPSG:2927" or
// "urn:ogc:def:crs:EPSG::2927".
func sridFromMembers(members geojson.Properties) (int, bool) {
	crs, ok := members["crs"].(map[string]any)
	if !ok {
		return 0, false
	}
	props, ok := crs["properties"].(map[string]any)
	if !ok {
		return 0, false
	}
	name, ok := props["name"].(string)
	if !ok {
		return 0, false
	}
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return 0, false
	}
	srid, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return 0, false
	}
	return srid, true
}
