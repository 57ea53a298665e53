package client

import "encoding/json"

// Response is the GeoJSON FeatureCollection returned by Pelias endpoints.
type Response struct {
	Type      string     `json:"type"`
	Features  []Feature  `json:"features"`
	BBox      []float64  `json:"bbox,omitempty"`
	Geocoding *Geocoding `json:"geocoding,omitempty"`
}

// Feature is one geocoding result.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry holds a point as [lon, lat].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Geocoding is the metadata block Pelias attaches to every response.
type Geocoding struct {
	Version  string          `json:"version,omitempty"`
	Query    json.RawMessage `json:"query,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
}

// Result is what a successful Request returns.
type Result struct {
	Body     *Response
	Raw      []byte
	URL      string
	Warnings []string
	Cached   bool
}

// errorMessages pulls geocoding.errors out of an error body. Bodies that are
// empty or not JSON yield no messages.
func errorMessages(body []byte) []string {
	var payload struct {
		Geocoding *Geocoding `json:"geocoding"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Geocoding == nil {
		return nil
	}
	return payload.Geocoding.Errors
}
