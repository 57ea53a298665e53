// Package mapper turns Pelias responses into flat point records with a fixed
// attribute schema.
package mapper

import (
	"fmt"
	"iter"
	"strings"

	"pelias_geocoder/internal/geocode/client"
)

// Point is a WGS84 position.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Feature is one output record. Geometry is nil when the result carried no
// usable coordinates.
type Feature struct {
	Geometry   *Point         `json:"geometry"`
	Attributes map[string]any `json:"attributes"`
}

// Layer bundles a schema with its records for single-request callers.
type Layer struct {
	Name     string    `json:"name"`
	Schema   Schema    `json:"schema"`
	Features []Feature `json:"features"`
}

// Mapper owns an output schema. It is safe for concurrent use.
type Mapper struct {
	idField Field
	schema  Schema
	byKey   map[string]Field
}

// New builds the schema: the identifier field, the standard fields and, when
// debug is set, the hierarchy *_gid fields.
func New(idField Field, debug bool) *Mapper {
	if idField.Key == "" {
		idField.Key = idField.Name
	}
	if idField.Kind == "" {
		idField.Kind = KindText
	}

	schema := make(Schema, 0, 1+len(standardFields)+len(gidLevels))
	schema = append(schema, idField)
	schema = append(schema, standardFields...)
	if debug {
		schema = append(schema, debugFields()...)
	}

	byKey := make(map[string]Field, len(schema))
	for _, f := range schema[1:] {
		byKey[f.Key] = f
	}

	return &Mapper{idField: idField, schema: schema, byKey: byKey}
}

// Fields returns a copy of the output schema.
func (m *Mapper) Fields() Schema {
	out := make(Schema, len(m.schema))
	copy(out, m.schema)
	return out
}

// IDField returns the identifier field.
func (m *Mapper) IDField() Field {
	return m.idField
}

// Features yields one record per result in API order. Ranging over the
// sequence again starts from the first result; resp is never modified.
func (m *Mapper) Features(resp *client.Response, idValue any) iter.Seq[Feature] {
	return func(yield func(Feature) bool) {
		if resp == nil {
			return
		}
		for _, result := range resp.Features {
			if !yield(m.feature(result, idValue)) {
				return
			}
		}
	}
}

// Layer maps every result of resp into a named layer. Manual requests carry
// no input item, so the identifier attribute stays unset.
func (m *Mapper) Layer(name string, resp *client.Response) Layer {
	layer := Layer{
		Name:     LayerName(name),
		Schema:   m.Fields(),
		Features: []Feature{},
	}
	for f := range m.Features(resp, nil) {
		layer.Features = append(layer.Features, f)
	}
	return layer
}

// LayerName formats the display name of a manual request layer, e.g.
// "Pelias Search Geocoding".
func LayerName(operation string) string {
	if operation == "" {
		return "Pelias Geocoding"
	}
	return fmt.Sprintf("Pelias %s%s Geocoding", strings.ToUpper(operation[:1]), strings.ToLower(operation[1:]))
}

func (m *Mapper) feature(result client.Feature, idValue any) Feature {
	attrs := make(map[string]any, len(result.Properties)+1)
	if idValue != nil {
		attrs[m.idField.Name] = idValue
	}

	for key, value := range result.Properties {
		field, ok := m.lookup(key)
		if !ok {
			continue
		}
		attrs[field.Name] = value
	}

	var geom *Point
	if coords := result.Geometry.Coordinates; len(coords) >= 2 {
		geom = &Point{Lon: coords[0], Lat: coords[1]}
	}

	return Feature{Geometry: geom, Attributes: attrs}
}

func (m *Mapper) lookup(key string) (Field, bool) {
	if field, ok := m.byKey[key]; ok {
		return field, true
	}
	if canonical, ok := keyAliases[key]; ok {
		field, ok := m.byKey[canonical]
		return field, ok
	}
	return Field{}, false
}
