// Package export renders geocoding records as GeoJSON and publishes finished
// runs to object storage.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"pelias_geocoder/internal/geocode/mapper"
)

const ContentType = "application/geo+json"

type geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   *geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// GeoJSONWriter streams records as a FeatureCollection. It implements
// batch.Sink; call Close to terminate the document.
type GeoJSONWriter struct {
	w       *bufio.Writer
	name    string
	started bool
	count   int
}

// NewGeoJSONWriter writes a collection called name to w.
func NewGeoJSONWriter(w io.Writer, name string) *GeoJSONWriter {
	return &GeoJSONWriter{w: bufio.NewWriter(w), name: name}
}

// Begin writes the collection header including the field list.
func (g *GeoJSONWriter) Begin(_ context.Context, schema mapper.Schema) error {
	if g.started {
		return fmt.Errorf("geojson: collection already started")
	}
	g.started = true

	fields := make([]field, len(schema))
	for i, f := range schema {
		fields[i] = field{Name: f.Name, Type: string(f.Kind)}
	}

	name, err := json.Marshal(g.name)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(g.w, `{"type":"FeatureCollection","name":%s,"fields":%s,"features":[`, name, meta)
	return err
}

// Write appends one feature.
func (g *GeoJSONWriter) Write(_ context.Context, f mapper.Feature) error {
	if !g.started {
		return fmt.Errorf("geojson: Begin not called")
	}

	data, err := json.Marshal(toGeoJSON(f))
	if err != nil {
		return fmt.Errorf("encode feature: %w", err)
	}
	if g.count > 0 {
		if err := g.w.WriteByte(','); err != nil {
			return err
		}
	}
	if _, err := g.w.Write(data); err != nil {
		return err
	}
	g.count++
	return nil
}

// Close terminates the collection and flushes.
func (g *GeoJSONWriter) Close() error {
	if !g.started {
		if err := g.Begin(context.Background(), nil); err != nil {
			return err
		}
	}
	if _, err := g.w.WriteString("]}\n"); err != nil {
		return err
	}
	return g.w.Flush()
}

// Count returns the number of features written.
func (g *GeoJSONWriter) Count() int {
	return g.count
}

// WriteCollection writes a complete collection in one call.
func WriteCollection(w io.Writer, name string, schema mapper.Schema, features []mapper.Feature) error {
	gw := NewGeoJSONWriter(w, name)
	ctx := context.Background()
	if err := gw.Begin(ctx, schema); err != nil {
		return err
	}
	for _, f := range features {
		if err := gw.Write(ctx, f); err != nil {
			return err
		}
	}
	return gw.Close()
}

func toGeoJSON(f mapper.Feature) feature {
	out := feature{Type: "Feature", Properties: f.Attributes}
	if out.Properties == nil {
		out.Properties = map[string]any{}
	}
	if f.Geometry != nil {
		out.Geometry = &geometry{Type: "Point", Coordinates: [2]float64{f.Geometry.Lon, f.Geometry.Lat}}
	}
	return out
}
