// Package geocoding exposes manual geocoding requests and batch runs over HTTP.
package geocoding

import (
	apphttp "pelias_geocoder/internal/http"
)

// Module wires the geocoding HTTP routes.
type Module struct {
	handler *Handler
	service *Service
}

func NewModule(svc *Service) *Module {
	return &Module{handler: NewHandler(svc), service: svc}
}

func (m *Module) Name() string {
	return "geocoding"
}

// Service returns the module's service, which also executes queued runs.
func (m *Module) Service() *Service {
	return m.service
}

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/providers", m.handler.ListProviders)

	geocode := ctx.Protected.Group("/geocode")
	geocode.GET("/fields", m.handler.Fields)
	geocode.GET("/:provider/search", m.handler.Search)
	geocode.GET("/:provider/structured", m.handler.Structured)
	geocode.GET("/:provider/reverse", m.handler.Reverse)

	batches := ctx.Protected.Group("/batches")
	batches.POST("", m.handler.SubmitBatch)
	batches.GET("/:id", m.handler.GetBatch)
	batches.GET("/:id/export", m.handler.ExportBatch)
	batches.GET("/:id/export/file", m.handler.DownloadExport)
}

var _ apphttp.Module = (*Module)(nil)
