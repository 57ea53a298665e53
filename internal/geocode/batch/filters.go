package batch

import (
	"slices"
	"strconv"

	"pelias_geocoder/internal/geocode/convert"
)

// Layer is a Pelias administrative or place layer token.
type Layer string

// Layers is the layer vocabulary in canonical order.
var Layers = []Layer{
	"venue", "address", "street", "neighbourhood", "borough", "localadmin", "locality",
	"county", "macrocounty", "region", "macroregion", "country", "coarse",
}

// Source is a Pelias data source token.
type Source string

// Sources is the data source vocabulary in canonical order.
var Sources = []Source{"osm", "oa", "wof", "gn"}

// DefaultSize is sent when no result count is requested.
const DefaultSize = 5

// Point is a position in the caller's reference system.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Rect is a bounding rectangle.
type Rect struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon" validate:"gtefield=MinLon"`
	MaxLat float64 `json:"maxLat" validate:"gtefield=MinLat"`
}

// Circle restricts results to RadiusKm around Center.
type Circle struct {
	Center   Point `json:"center"`
	RadiusKm int   `json:"radiusKm" validate:"min=1,max=1000"`
}

// Filters are the options shared by every item of a run. Nil and empty
// values are left out of the request.
type Filters struct {
	Size    int      `json:"size,omitempty" validate:"omitempty,min=1,max=40"`
	Focus   *Point   `json:"focus,omitempty"`
	Rect    *Rect    `json:"rect,omitempty"`
	Circle  *Circle  `json:"circle,omitempty"`
	Country string   `json:"country,omitempty"`
	Layers  []Layer  `json:"layers,omitempty" validate:"omitempty,dive,pelias_layer"`
	Sources []Source `json:"sources,omitempty" validate:"omitempty,dive,pelias_source"`
}

// Validate checks ranges and vocabulary membership.
func (f Filters) Validate() error {
	return validateStruct(f)
}

// params renders the shared filters. Coordinates are expected in WGS84.
func (f Filters) params() map[string]string {
	params := make(map[string]string)

	size := f.Size
	if size == 0 {
		size = DefaultSize
	}
	params["size"] = strconv.Itoa(size)

	if f.Focus != nil {
		params["focus.point.lon"] = convert.FormatFloat(f.Focus.Lon)
		params["focus.point.lat"] = convert.FormatFloat(f.Focus.Lat)
	}
	if f.Rect != nil {
		params["boundary.rect.min_lon"] = convert.FormatFloat(f.Rect.MinLon)
		params["boundary.rect.min_lat"] = convert.FormatFloat(f.Rect.MinLat)
		params["boundary.rect.max_lon"] = convert.FormatFloat(f.Rect.MaxLon)
		params["boundary.rect.max_lat"] = convert.FormatFloat(f.Rect.MaxLat)
	}
	if f.Circle != nil {
		params["boundary.circle.lon"] = convert.FormatFloat(f.Circle.Center.Lon)
		params["boundary.circle.lat"] = convert.FormatFloat(f.Circle.Center.Lat)
		params["boundary.circle.radius"] = strconv.Itoa(f.Circle.RadiusKm)
	}
	if f.Country != "" {
		params["boundary.country"] = f.Country
	}
	if len(f.Layers) > 0 {
		params["layers"] = convert.CommaList(canonical(Layers, f.Layers))
	}
	if len(f.Sources) > 0 {
		params["sources"] = convert.CommaList(canonical(Sources, f.Sources))
	}

	return params
}

// canonical returns the selected tokens deduplicated in vocabulary order.
func canonical[T comparable](vocabulary, selected []T) []T {
	out := make([]T, 0, len(selected))
	for _, token := range vocabulary {
		if slices.Contains(selected, token) {
			out = append(out, token)
		}
	}
	return out
}
