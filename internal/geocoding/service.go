package geocoding

import (
	"context"
	"errors"
	"fmt"
	"io"

	"pelias_geocoder/internal/adapters/storage"
	"pelias_geocoder/internal/events"
	"pelias_geocoder/internal/geocode/batch"
	"pelias_geocoder/internal/geocode/client"
	"pelias_geocoder/internal/geocode/mapper"
	"pelias_geocoder/internal/geocode/provider"
	"pelias_geocoder/internal/geocode/repository"
	"pelias_geocoder/internal/scheduler"
	"pelias_geocoder/platform/apperr"
	"pelias_geocoder/platform/logger"

	"github.com/google/uuid"
)

// RunStore persists batch runs.
type RunStore interface {
	CreateRun(ctx context.Context, job batch.Job, items []batch.Item, createdBy *uuid.UUID) (repository.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (repository.Run, error)
	MarkRunning(ctx context.Context, id uuid.UUID) error
	UpdateProgress(ctx context.Context, id uuid.UUID, processed int) error
	AddRunError(ctx context.Context, id uuid.UUID, itemErr batch.ItemError) error
	ListRunErrors(ctx context.Context, id uuid.UUID) ([]batch.ItemError, error)
	Finish(ctx context.Context, id uuid.UUID, report *batch.Report, exportKey string, runErr error) error
	InsertRecord(ctx context.Context, runID uuid.UUID, seq int, f mapper.Feature) error
	ListRecords(ctx context.Context, runID uuid.UUID) ([]mapper.Feature, error)
}

// Exporter publishes finished runs.
type Exporter interface {
	Publish(ctx context.Context, runID uuid.UUID, name string, schema mapper.Schema, features []mapper.Feature) (string, error)
	DownloadURL(ctx context.Context, key string) (*storage.PresignedURL, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Service implements manual geocoding and batch run management.
type Service struct {
	providers provider.Source
	runner    *batch.Runner
	store     RunStore
	enqueuer  scheduler.BatchEnqueuer
	exporter  Exporter
	bus       events.Bus
	log       *logger.Logger
}

// Option configures optional dependencies of the Service.
type Option func(*Service)

// WithRunStore enables batch runs.
func WithRunStore(store RunStore) Option {
	return func(s *Service) { s.store = store }
}

// WithEnqueuer enables POST /batches.
func WithEnqueuer(enqueuer scheduler.BatchEnqueuer) Option {
	return func(s *Service) { s.enqueuer = enqueuer }
}

// WithExporter enables GeoJSON exports of finished runs.
func WithExporter(exporter Exporter) Option {
	return func(s *Service) { s.exporter = exporter }
}

// WithEventBus publishes batch lifecycle events.
func WithEventBus(bus events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func NewService(providers provider.Source, runner *batch.Runner, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Discard()
	}
	s := &Service{providers: providers, runner: runner, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Providers lists the configured providers without their keys.
func (s *Service) Providers(ctx context.Context) ([]ProviderResponse, error) {
	providers, err := s.providers.Providers(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "provider configuration could not be loaded", err)
	}

	out := make([]ProviderResponse, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderResponse{
			Name:      p.Name,
			BaseURL:   p.BaseURL,
			Limit:     p.Limit,
			Unit:      p.Unit,
			Endpoints: p.Endpoints,
			HasKey:    p.Key != "",
		})
	}
	return out, nil
}

// Fields returns the schema a run with these settings produces.
func (s *Service) Fields(idFieldName string, debug bool) FieldsResponse {
	return FieldsResponse{Fields: mapper.New(idField(idFieldName), debug).Fields()}
}

// Geocode performs one manual request.
func (s *Service) Geocode(ctx context.Context, job batch.Job, item batch.Item) (*batch.SingleResult, error) {
	res, err := s.runner.Single(ctx, job, item)
	if err != nil {
		return nil, mapGeocodeError(err)
	}
	return res, nil
}

// SubmitBatch stores a run and hands it to the worker queue.
func (s *Service) SubmitBatch(ctx context.Context, req SubmitBatchRequest, createdBy *uuid.UUID) (repository.Run, error) {
	if s.store == nil || s.enqueuer == nil {
		return repository.Run{}, apperr.Unavailable("batch processing is not configured")
	}

	job := req.Job()
	if err := job.Validate(); err != nil {
		return repository.Run{}, err
	}
	if _, err := provider.Find(ctx, s.providers, job.Provider); err != nil {
		return repository.Run{}, mapGeocodeError(err)
	}

	run, err := s.store.CreateRun(ctx, job, req.Items, createdBy)
	if err != nil {
		s.log.DatabaseError("create geocode run", err)
		return repository.Run{}, apperr.Wrap(apperr.KindInternal, "run could not be stored", err)
	}

	if err := s.enqueuer.EnqueueGeocodeBatch(ctx, run.ID); err != nil {
		s.log.Error("failed to enqueue geocode run", "runId", run.ID, "error", err)
		if ferr := s.store.Finish(context.WithoutCancel(ctx), run.ID, nil, "", err); ferr != nil {
			s.log.DatabaseError("fail unqueued geocode run", ferr)
		}
		return repository.Run{}, apperr.Wrap(apperr.KindUnavailable, "run could not be queued", err)
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.BatchQueued{
			BaseEvent: events.NewBaseEvent(),
			RunID:     run.ID,
			Provider:  run.Provider,
			Operation: run.Operation,
			Items:     run.TotalItems,
			CreatedBy: createdBy,
		})
	}
	return run, nil
}

// GetBatch returns a run and its skipped items.
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (BatchResponse, error) {
	if s.store == nil {
		return BatchResponse{}, apperr.Unavailable("batch processing is not configured")
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return BatchResponse{}, mapStoreError(err)
	}
	itemErrors, err := s.store.ListRunErrors(ctx, id)
	if err != nil {
		return BatchResponse{}, mapStoreError(err)
	}
	return BatchResponse{Run: run, Errors: itemErrors}, nil
}

// ExportURL returns a download link for the GeoJSON export of a run.
func (s *Service) ExportURL(ctx context.Context, id uuid.UUID) (*storage.PresignedURL, error) {
	key, err := s.exportKey(ctx, id)
	if err != nil {
		return nil, err
	}

	url, err := s.exporter.DownloadURL(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "export link could not be created", err)
	}
	return url, nil
}

// OpenExport streams the GeoJSON export of a run. The caller closes it.
func (s *Service) OpenExport(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	key, err := s.exportKey(ctx, id)
	if err != nil {
		return nil, err
	}

	rc, err := s.exporter.Open(ctx, key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "export could not be read", err)
	}
	return rc, nil
}

func (s *Service) exportKey(ctx context.Context, id uuid.UUID) (string, error) {
	if s.store == nil || s.exporter == nil {
		return "", apperr.Unavailable("exports are not configured")
	}

	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return "", mapStoreError(err)
	}
	if run.ExportKey == nil {
		return "", apperr.NotFound("run has no export")
	}
	return *run.ExportKey, nil
}

// ExecuteRun processes a queued run. It is called by the worker.
func (s *Service) ExecuteRun(ctx context.Context, runID uuid.UUID) error {
	if s.store == nil {
		return fmt.Errorf("%w: run store not configured", scheduler.ErrPermanent)
	}

	run, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, repository.ErrRunNotFound) {
		return fmt.Errorf("%w: %w", scheduler.ErrPermanent, err)
	}
	if err != nil {
		return err
	}
	if err := s.store.MarkRunning(ctx, runID); err != nil {
		return err
	}

	log := s.log.WithContext(ctx)
	sink := &recordSink{store: s.store, runID: runID}
	progress := &runProgress{ctx: ctx, store: s.store, runID: runID, log: log}

	report, runErr := s.runner.Run(ctx, run.Job, run.Items, sink, progress)

	// the context may be gone, the outcome is still recorded
	finishCtx := context.WithoutCancel(ctx)
	if report != nil {
		for _, itemErr := range report.Failed {
			if err := s.store.AddRunError(finishCtx, runID, itemErr); err != nil {
				log.DatabaseError("add geocode run error", err)
			}
		}
	}

	exportKey := ""
	if runErr == nil && s.exporter != nil {
		exportKey, runErr = s.export(finishCtx, run)
	}

	if err := s.store.Finish(finishCtx, runID, report, exportKey, runErr); err != nil {
		log.DatabaseError("finish geocode run", err)
		if runErr == nil {
			return err
		}
	}

	s.publishFinished(finishCtx, run, report, exportKey, runErr)

	if runErr != nil && permanent(runErr) {
		return fmt.Errorf("%w: %w", scheduler.ErrPermanent, runErr)
	}
	return runErr
}

func (s *Service) export(ctx context.Context, run repository.Run) (string, error) {
	features, err := s.store.ListRecords(ctx, run.ID)
	if err != nil {
		return "", fmt.Errorf("load records: %w", err)
	}
	schema := mapper.New(run.Job.IDField, run.Job.Debug).Fields()
	key, err := s.exporter.Publish(ctx, run.ID, mapper.LayerName(run.Operation), schema, features)
	if err != nil {
		return "", fmt.Errorf("publish export: %w", err)
	}
	return key, nil
}

func (s *Service) publishFinished(ctx context.Context, run repository.Run, report *batch.Report, exportKey string, runErr error) {
	if s.bus == nil {
		return
	}
	evt := events.BatchFinished{
		BaseEvent: events.NewBaseEvent(),
		RunID:     run.ID,
		Provider:  run.Provider,
		Operation: run.Operation,
		Status:    string(repository.StatusSucceeded),
		ExportKey: exportKey,
	}
	if report != nil {
		evt.Written = report.Written
		evt.Failed = len(report.Failed)
	}
	if runErr != nil {
		evt.Status = string(repository.StatusFailed)
		evt.Error = runErr.Error()
	}
	s.bus.Publish(ctx, evt)
}

type recordSink struct {
	store RunStore
	runID uuid.UUID
	seq   int
}

func (s *recordSink) Begin(context.Context, mapper.Schema) error {
	return nil
}

func (s *recordSink) Write(ctx context.Context, f mapper.Feature) error {
	s.seq++
	return s.store.InsertRecord(ctx, s.runID, s.seq, f)
}

type runProgress struct {
	ctx   context.Context
	store RunStore
	runID uuid.UUID
	log   *logger.Logger
}

func (p *runProgress) SetProgress(done, _ int) {
	if err := p.store.UpdateProgress(p.ctx, p.runID, done); err != nil {
		p.log.DatabaseError("update geocode run progress", err)
	}
}

func (p *runProgress) ReportError(message string) {
	p.log.Warn("geocode run reported an error", "message", message)
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	var notFound *provider.NotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var misconfigured *provider.ConfigError
	if errors.As(err, &misconfigured) {
		return true
	}
	return apperr.Is(err, apperr.KindValidation)
}

func mapStoreError(err error) error {
	if errors.Is(err, repository.ErrRunNotFound) {
		return apperr.NotFound("run not found")
	}
	return apperr.Wrap(apperr.KindInternal, "run could not be loaded", err)
}

func mapGeocodeError(err error) error {
	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		return err
	}

	var notFound *provider.NotFoundError
	if errors.As(err, &notFound) {
		return apperr.Wrap(apperr.KindNotFound, notFound.Error(), err)
	}

	var clientErr *client.Error
	if !errors.As(err, &clientErr) {
		return apperr.Wrap(apperr.KindUpstream, "geocoding request failed", err)
	}

	message := clientErr.Message()
	if message == "" {
		message = "geocoding provider returned " + clientErr.Kind.String()
	}
	details := map[string]any{"kind": clientErr.Kind.String()}
	if len(clientErr.Messages) > 0 {
		details["messages"] = clientErr.Messages
	}
	switch clientErr.Kind {
	case client.KindTimeout:
		return apperr.Wrap(apperr.KindTimeout, "geocoding provider did not answer in time", err).WithDetails(details)
	case client.KindOverQueryLimit:
		return apperr.Wrap(apperr.KindRateLimited, "geocoding provider quota exhausted", err).WithDetails(details)
	case client.KindAPIError:
		return apperr.Wrap(apperr.KindBadRequest, message, err).WithDetails(details)
	default:
		details["status"] = clientErr.Status
		return apperr.Wrap(apperr.KindUpstream, message, err).WithDetails(details)
	}
}
