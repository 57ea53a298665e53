package batch

import (
	"fmt"
	"maps"

	"pelias_geocoder/internal/geocode/convert"
	"pelias_geocoder/internal/geocode/mapper"
	"pelias_geocoder/internal/geocode/provider"
)

// Structured holds the address components of a structured search. Empty
// components are not sent.
type Structured struct {
	Address       string `json:"address,omitempty"`
	Neighbourhood string `json:"neighbourhood,omitempty"`
	Borough       string `json:"borough,omitempty"`
	Locality      string `json:"locality,omitempty"`
	County        string `json:"county,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalcode,omitempty"`
	Country       string `json:"country,omitempty"`
}

func (s Structured) params() map[string]string {
	params := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			params[key] = value
		}
	}
	set("address", s.Address)
	set("neighbourhood", s.Neighbourhood)
	set("borough", s.Borough)
	set("locality", s.Locality)
	set("county", s.County)
	set("region", s.Region)
	set("postalcode", s.PostalCode)
	set("country", s.Country)
	return params
}

// Item is one input row. Which fields are read depends on the operation.
type Item struct {
	ID         any        `json:"id"`
	Text       string     `json:"text,omitempty"`
	Structured Structured `json:"structured,omitempty"`
	Point      *Point     `json:"point,omitempty"`
}

// Transformer reprojects a point into WGS84.
type Transformer func(Point) (Point, error)

// Identity is the Transformer for input that is already WGS84.
func Identity(p Point) (Point, error) {
	return p, nil
}

// Job describes one run against one provider.
type Job struct {
	Provider  string       `json:"provider" validate:"required"`
	Operation string       `json:"operation" validate:"oneof=search structured reverse"`
	Filters   Filters      `json:"filters"`
	IDField   mapper.Field `json:"idField"`
	Debug     bool         `json:"debug"`
	Transform Transformer  `json:"-"`
}

// Validate checks the operation, the id field and the shared filters.
func (j Job) Validate() error {
	return validateStruct(j)
}

func (j Job) transformer() Transformer {
	if j.Transform == nil {
		return Identity
	}
	return j.Transform
}

// sharedParams reprojects the spatial filters and renders them.
func (j Job) sharedParams() (map[string]string, error) {
	xf := j.transformer()
	f := j.Filters

	if f.Focus != nil {
		p, err := xf(*f.Focus)
		if err != nil {
			return nil, fmt.Errorf("transform focus: %w", err)
		}
		f.Focus = &p
	}
	if f.Circle != nil {
		p, err := xf(f.Circle.Center)
		if err != nil {
			return nil, fmt.Errorf("transform circle: %w", err)
		}
		f.Circle = &Circle{Center: p, RadiusKm: f.Circle.RadiusKm}
	}
	if f.Rect != nil {
		lo, err := xf(Point{Lon: f.Rect.MinLon, Lat: f.Rect.MinLat})
		if err != nil {
			return nil, fmt.Errorf("transform rect: %w", err)
		}
		hi, err := xf(Point{Lon: f.Rect.MaxLon, Lat: f.Rect.MaxLat})
		if err != nil {
			return nil, fmt.Errorf("transform rect: %w", err)
		}
		f.Rect = &Rect{MinLon: lo.Lon, MinLat: lo.Lat, MaxLon: hi.Lon, MaxLat: hi.Lat}
	}

	params := f.params()
	if j.Operation == provider.OpReverse {
		// reverse searches around the item point, focus and boundaries do not apply
		for key := range params {
			if key != "size" && key != "layers" && key != "sources" && key != "boundary.country" {
				delete(params, key)
			}
		}
	}
	return params, nil
}

// itemParams renders the operation-specific fields of one item.
func (j Job) itemParams(item Item) (map[string]string, error) {
	switch j.Operation {
	case provider.OpSearch:
		params := make(map[string]string, 1)
		if item.Text != "" {
			params["text"] = item.Text
		}
		return params, nil
	case provider.OpStructured:
		return item.Structured.params(), nil
	case provider.OpReverse:
		if item.Point == nil {
			return nil, fmt.Errorf("item %v has no point", item.ID)
		}
		p, err := j.transformer()(*item.Point)
		if err != nil {
			return nil, fmt.Errorf("transform item %v: %w", item.ID, err)
		}
		return map[string]string{
			"point.lon": convert.FormatFloat(p.Lon),
			"point.lat": convert.FormatFloat(p.Lat),
		}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", j.Operation)
	}
}

func merge(shared, item map[string]string) map[string]string {
	out := make(map[string]string, len(shared)+len(item))
	maps.Copy(out, shared)
	maps.Copy(out, item)
	return out
}
