// Package batch drives free-text, structured and reverse geocoding runs over a
// list of input items.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pelias_geocoder/internal/geocode/client"
	"pelias_geocoder/internal/geocode/convert"
	"pelias_geocoder/internal/geocode/mapper"
	"pelias_geocoder/internal/geocode/provider"
	"pelias_geocoder/platform/logger"
)

// Sink receives the schema once, then every produced record.
type Sink interface {
	Begin(ctx context.Context, schema mapper.Schema) error
	Write(ctx context.Context, feature mapper.Feature) error
}

// Progress observes a running batch.
type Progress interface {
	SetProgress(done, total int)
	ReportError(message string)
}

// NopProgress discards progress updates.
type NopProgress struct{}

func (NopProgress) SetProgress(int, int) {}
func (NopProgress) ReportError(string)   {}

// ItemError records an input item that was skipped.
type ItemError struct {
	ItemID  any    `json:"itemId"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Report summarizes a finished run.
type Report struct {
	Items   int         `json:"items"`
	Written int         `json:"written"`
	Failed  []ItemError `json:"failed"`
	Trail   []string    `json:"trail"`
}

// Runner executes jobs. Providers are looked up again for every run.
// Clients are shared per credential, so concurrent runs and manual requests
// against the same key draw from one send window.
type Runner struct {
	providers  provider.Source
	log        *logger.Logger
	clientOpts []client.Option

	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewRunner creates a Runner. opts are applied to every client it builds.
func NewRunner(providers provider.Source, log *logger.Logger, opts ...client.Option) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{
		providers:  providers,
		log:        log,
		clientOpts: opts,
		clients:    make(map[string]*client.Client),
	}
}

// Run geocodes every item and writes the results to sink. Provider-side
// failures of a single item are reported and skipped; a spent retry budget,
// transport failures and sink errors stop the run.
func (r *Runner) Run(ctx context.Context, job Job, items []Item, sink Sink, progress Progress) (*Report, error) {
	if progress == nil {
		progress = NopProgress{}
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	p, path, err := r.resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	report := &Report{Items: len(items), Failed: []ItemError{}, Trail: []string{}}
	log := r.log.WithContext(ctx).WithProvider(p.Name)

	overLimit := client.WithOverLimitNotify(func(wait time.Duration) {
		msg := overLimitMessage(wait)
		progress.ReportError(msg)
		report.Trail = append(report.Trail, msg)
	})
	clnt, err := r.client(p)
	if err != nil {
		return nil, err
	}

	shared, err := job.sharedParams()
	if err != nil {
		return nil, err
	}

	m := mapper.New(job.IDField, job.Debug)
	if err := sink.Begin(ctx, m.Fields()); err != nil {
		return report, fmt.Errorf("begin sink: %w", err)
	}

	total := len(items)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		own, err := job.itemParams(item)
		if err != nil {
			r.skip(log, progress, report, item.ID, "InvalidInput", err.Error())
			progress.SetProgress(i+1, total)
			continue
		}

		res, err := clnt.Request(ctx, path, client.ParamsFromMap(merge(shared, own)), overLimit)
		if err != nil {
			var apiErr *client.Error
			if errors.As(err, &apiErr) && skippable(apiErr.Kind) {
				r.skip(log, progress, report, item.ID, apiErr.Kind.String(), detail(apiErr))
				progress.SetProgress(i+1, total)
				continue
			}
			return report, err
		}
		report.Trail = append(report.Trail, trail(res)...)

		for f := range m.Features(res.Body, item.ID) {
			if err := sink.Write(ctx, f); err != nil {
				return report, fmt.Errorf("write feature for item %v: %w", item.ID, err)
			}
			report.Written++
		}
		progress.SetProgress(i+1, total)
	}

	log.Info("batch finished", "operation", job.Operation, "items", total, "written", report.Written, "failed", len(report.Failed))
	return report, nil
}

// SingleResult is the outcome of a manual request.
type SingleResult struct {
	Layer    mapper.Layer `json:"layer"`
	URL      string       `json:"url"`
	Warnings []string     `json:"warnings"`
	Cached   bool         `json:"cached"`
}

// Single performs one manual request. Every failure is returned.
func (r *Runner) Single(ctx context.Context, job Job, item Item) (*SingleResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	p, path, err := r.resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	clnt, err := r.client(p)
	if err != nil {
		return nil, err
	}

	shared, err := job.sharedParams()
	if err != nil {
		return nil, err
	}
	own, err := job.itemParams(item)
	if err != nil {
		return nil, err
	}

	res, err := clnt.Request(ctx, path, client.ParamsFromMap(merge(shared, own)))
	if err != nil {
		return nil, err
	}

	m := mapper.New(job.IDField, job.Debug)
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return &SingleResult{
		Layer:    m.Layer(job.Operation, res.Body),
		URL:      client.RedactKey(res.URL),
		Warnings: warnings,
		Cached:   res.Cached,
	}, nil
}

func (r *Runner) resolve(ctx context.Context, job Job) (provider.Provider, string, error) {
	p, err := provider.Find(ctx, r.providers, job.Provider)
	if err != nil {
		return provider.Provider{}, "", err
	}
	path, err := p.Endpoint(job.Operation)
	if err != nil {
		return provider.Provider{}, "", err
	}
	return p, path, nil
}

// client returns the shared client for p's credential. A changed limit or
// unit in the provider file replaces it with a fresh window.
func (r *Runner) client(p provider.Provider) (*client.Client, error) {
	key := p.BaseURL + "\x00" + p.Key

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		cur := c.Provider()
		if cur.Name == p.Name && cur.Limit == p.Limit && cur.Unit == p.Unit {
			return c, nil
		}
		_ = c.Close()
	}

	opts := make([]client.Option, 0, len(r.clientOpts)+1)
	opts = append(opts, client.WithLogger(r.log))
	opts = append(opts, r.clientOpts...)
	c, err := client.New(p, opts...)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}

// Close releases the idle connections of every client.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.clients {
		_ = c.Close()
		delete(r.clients, key)
	}
	return nil
}

func (r *Runner) skip(log *logger.Logger, progress Progress, report *Report, id any, kind, message string) {
	msg := fmt.Sprintf("Feature ID %v caused a %s:\n%s", id, kind, message)
	progress.ReportError(msg)
	log.BatchItemFailed(id, kind, errors.New(message))
	report.Failed = append(report.Failed, ItemError{ItemID: id, Kind: kind, Message: message})
	report.Trail = append(report.Trail, msg)
}

func skippable(kind client.Kind) bool {
	switch kind {
	case client.KindAPIError, client.KindInvalidKey, client.KindGenericServer:
		return true
	default:
		return false
	}
}

func detail(err *client.Error) string {
	if err.Kind == client.KindGenericServer {
		return fmt.Sprintf("%d\n%s", err.Status, strings.TrimSpace(string(err.Body)))
	}
	return err.Message()
}

func trail(res *client.Result) []string {
	lines := make([]string, 0, len(res.Warnings)+1)
	lines = append(lines, res.Warnings...)
	return append(lines, "URL: "+client.RedactKey(res.URL))
}

func overLimitMessage(wait time.Duration) string {
	return fmt.Sprintf("OverQueryLimit: Wait for %s seconds", convert.FormatFloat(wait.Seconds()))
}
