package geocoding

import (
	"strings"

	"pelias_geocoder/internal/geocode/batch"
	"pelias_geocoder/internal/geocode/mapper"
	"pelias_geocoder/internal/geocode/provider"
	"pelias_geocoder/internal/geocode/repository"
)

const defaultIDField = "id"

// FilterQuery holds the shared search options of a manual request.
type FilterQuery struct {
	Size            int      `form:"size" binding:"omitempty,min=1,max=40"`
	FocusLon        *float64 `form:"focusLon" binding:"required_with=FocusLat"`
	FocusLat        *float64 `form:"focusLat" binding:"required_with=FocusLon"`
	MinLon          *float64 `form:"minLon" binding:"required_with=MinLat MaxLon MaxLat"`
	MinLat          *float64 `form:"minLat" binding:"required_with=MinLon MaxLon MaxLat"`
	MaxLon          *float64 `form:"maxLon" binding:"required_with=MinLon MinLat MaxLat"`
	MaxLat          *float64 `form:"maxLat" binding:"required_with=MinLon MinLat MaxLon"`
	CircleLon       *float64 `form:"circleLon" binding:"required_with=CircleLat Radius"`
	CircleLat       *float64 `form:"circleLat" binding:"required_with=CircleLon Radius"`
	Radius          int      `form:"radius" binding:"omitempty,min=1,max=1000"`
	BoundaryCountry string   `form:"boundaryCountry" binding:"omitempty,max=3"`
	Layers          string   `form:"layers"`
	Sources         string   `form:"sources"`
	IDField         string   `form:"idField" binding:"omitempty,max=64"`
	Debug           bool     `form:"debug"`
}

// Filters converts the query into batch filters.
func (q FilterQuery) Filters() batch.Filters {
	f := batch.Filters{
		Size:    q.Size,
		Country: q.BoundaryCountry,
		Layers:  splitTokens[batch.Layer](q.Layers),
		Sources: splitTokens[batch.Source](q.Sources),
	}
	if q.FocusLon != nil && q.FocusLat != nil {
		f.Focus = &batch.Point{Lon: *q.FocusLon, Lat: *q.FocusLat}
	}
	if q.MinLon != nil && q.MinLat != nil && q.MaxLon != nil && q.MaxLat != nil {
		f.Rect = &batch.Rect{MinLon: *q.MinLon, MinLat: *q.MinLat, MaxLon: *q.MaxLon, MaxLat: *q.MaxLat}
	}
	if q.CircleLon != nil && q.CircleLat != nil {
		f.Circle = &batch.Circle{Center: batch.Point{Lon: *q.CircleLon, Lat: *q.CircleLat}, RadiusKm: q.Radius}
	}
	return f
}

// Job builds a single-request job for op against providerName.
func (q FilterQuery) Job(providerName, op string) batch.Job {
	return batch.Job{
		Provider:  providerName,
		Operation: op,
		Filters:   q.Filters(),
		IDField:   idField(q.IDField),
		Debug:     q.Debug,
	}
}

// SearchQuery is the query of a manual free-text search.
type SearchQuery struct {
	FilterQuery
	Text string `form:"text" binding:"required,min=1,max=500"`
}

// StructuredQuery is the query of a manual structured search.
type StructuredQuery struct {
	FilterQuery
	Address       string `form:"address" binding:"max=200"`
	Neighbourhood string `form:"neighbourhood" binding:"max=100"`
	Borough       string `form:"borough" binding:"max=100"`
	Locality      string `form:"locality" binding:"max=100"`
	County        string `form:"county" binding:"max=100"`
	Region        string `form:"region" binding:"max=100"`
	PostalCode    string `form:"postalcode" binding:"max=20"`
	Country       string `form:"country" binding:"max=100"`
}

// Structured returns the address components.
func (q StructuredQuery) Structured() batch.Structured {
	return batch.Structured{
		Address:       q.Address,
		Neighbourhood: q.Neighbourhood,
		Borough:       q.Borough,
		Locality:      q.Locality,
		County:        q.County,
		Region:        q.Region,
		PostalCode:    q.PostalCode,
		Country:       q.Country,
	}
}

// Empty reports whether no component was given.
func (q StructuredQuery) Empty() bool {
	return q.Structured() == batch.Structured{}
}

// ReverseQuery is the query of a manual reverse lookup.
type ReverseQuery struct {
	FilterQuery
	Lon *float64 `form:"lon" binding:"required,longitude"`
	Lat *float64 `form:"lat" binding:"required,latitude"`
}

// FieldsQuery selects the schema preview.
type FieldsQuery struct {
	IDField string `form:"idField" binding:"omitempty,max=64"`
	Debug   bool   `form:"debug"`
}

// SubmitBatchRequest is the body of POST /batches.
type SubmitBatchRequest struct {
	Provider  string        `json:"provider" binding:"required"`
	Operation string        `json:"operation" binding:"required,oneof=search structured reverse"`
	Filters   batch.Filters `json:"filters"`
	IDField   mapper.Field  `json:"idField"`
	Debug     bool          `json:"debug"`
	Items     []batch.Item  `json:"items" binding:"required,min=1,max=10000"`
}

// Job converts the request into a batch job.
func (r SubmitBatchRequest) Job() batch.Job {
	field := r.IDField
	if field.Name == "" {
		field = idField("")
	}
	return batch.Job{
		Provider:  r.Provider,
		Operation: r.Operation,
		Filters:   r.Filters,
		IDField:   field,
		Debug:     r.Debug,
	}
}

// ProviderResponse describes a provider without its key.
type ProviderResponse struct {
	Name      string            `json:"name"`
	BaseURL   string            `json:"baseUrl"`
	Limit     int               `json:"limit"`
	Unit      provider.Unit     `json:"unit"`
	Endpoints map[string]string `json:"endpoints"`
	HasKey    bool              `json:"hasKey"`
}

// FieldsResponse is the schema preview.
type FieldsResponse struct {
	Fields mapper.Schema `json:"fields"`
}

// BatchResponse is a run together with its skipped items.
type BatchResponse struct {
	repository.Run
	Errors []batch.ItemError `json:"errors"`
}

func idField(name string) mapper.Field {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultIDField
	}
	return mapper.Field{Name: name}
}

func splitTokens[T ~string](value string) []T {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]T, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, T(trimmed))
		}
	}
	return out
}
