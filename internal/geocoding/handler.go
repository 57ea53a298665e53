package geocoding

import (
	"io"
	"net/http"

	"pelias_geocoder/internal/geocode/batch"
	"pelias_geocoder/internal/geocode/export"
	"pelias_geocoder/internal/geocode/provider"
	"pelias_geocoder/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest = "invalid request"
	msgInvalidRunID   = "invalid run id"
)

// Handler exposes the geocoding endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// ListProviders handles GET /api/v1/providers
func (h *Handler) ListProviders(c *gin.Context) {
	providers, err := h.svc.Providers(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, providers)
}

// Fields handles GET /api/v1/geocode/fields?idField=&debug=
func (h *Handler) Fields(c *gin.Context) {
	var req FieldsQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	httpkit.OK(c, h.svc.Fields(req.IDField, req.Debug))
}

// Search handles GET /api/v1/geocode/:provider/search?text=...
func (h *Handler) Search(c *gin.Context) {
	var req SearchQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "query 'text' is required", err.Error())
		return
	}

	job := req.Job(c.Param("provider"), provider.OpSearch)
	h.geocode(c, job, batch.Item{Text: req.Text})
}

// Structured handles GET /api/v1/geocode/:provider/structured?address=...
func (h *Handler) Structured(c *gin.Context) {
	var req StructuredQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}
	if req.Empty() {
		httpkit.Error(c, http.StatusBadRequest, "at least one address component is required", nil)
		return
	}

	job := req.Job(c.Param("provider"), provider.OpStructured)
	h.geocode(c, job, batch.Item{Structured: req.Structured()})
}

// Reverse handles GET /api/v1/geocode/:provider/reverse?lon=&lat=
func (h *Handler) Reverse(c *gin.Context) {
	var req ReverseQuery
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "query 'lon' and 'lat' are required", err.Error())
		return
	}

	job := req.Job(c.Param("provider"), provider.OpReverse)
	h.geocode(c, job, batch.Item{Point: &batch.Point{Lon: *req.Lon, Lat: *req.Lat}})
}

func (h *Handler) geocode(c *gin.Context, job batch.Job, item batch.Item) {
	res, err := h.svc.Geocode(c.Request.Context(), job, item)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

// SubmitBatch handles POST /api/v1/batches
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	run, err := h.svc.SubmitBatch(c.Request.Context(), req, httpkit.Actor(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, run)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRunID, nil)
		return
	}

	res, err := h.svc.GetBatch(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, res)
}

// ExportBatch handles GET /api/v1/batches/:id/export
func (h *Handler) ExportBatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRunID, nil)
		return
	}

	url, err := h.svc.ExportURL(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, url)
}

// DownloadExport handles GET /api/v1/batches/:id/export/file
func (h *Handler) DownloadExport(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRunID, nil)
		return
	}

	rc, err := h.svc.OpenExport(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	defer func() {
		_ = rc.Close()
	}()

	c.Header("Content-Disposition", `attachment; filename="`+id.String()+`.geojson"`)
	c.Header("Content-Type", export.ContentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}
