package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"pelias_geocoder/internal/geocode/batch"
	"pelias_geocoder/internal/geocode/client"
	"pelias_geocoder/internal/geocode/export"
	"pelias_geocoder/internal/geocode/mapper"
	"pelias_geocoder/internal/geocode/provider"
	"pelias_geocoder/platform/config"
	"pelias_geocoder/platform/logger"
	"pelias_geocoder/platform/validator"
)

// logProgress reports batch progress through the logger.
type logProgress struct {
	log   *logger.Logger
	every int
}

func (p logProgress) SetProgress(done, total int) {
	if done == total || done%p.every == 0 {
		p.log.Info("geocode progress", "done", done, "total", total)
	}
}

func (p logProgress) ReportError(message string) {
	p.log.Warn(message)
}

var errUsage = errors.New("-provider and -in are required")

type options struct {
	provider string
	op       string
	in       string
	out      string
	cols     columns
	size     int
	layers   string
	sources  string
	country  string
	debug    bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	var opts options
	flag.StringVar(&opts.provider, "provider", "", "provider name from the providers file")
	flag.StringVar(&opts.op, "operation", provider.OpSearch, "search, structured or reverse")
	flag.StringVar(&opts.in, "in", "", "input CSV with a header row")
	flag.StringVar(&opts.out, "out", "", "output GeoJSON file (default stdout)")
	flag.StringVar(&opts.cols.id, "id-column", "id", "column holding the item id")
	flag.StringVar(&opts.cols.text, "text-column", "text", "column holding the search text")
	flag.StringVar(&opts.cols.lon, "lon-column", "lon", "column holding the longitude for reverse")
	flag.StringVar(&opts.cols.lat, "lat-column", "lat", "column holding the latitude for reverse")
	flag.IntVar(&opts.size, "size", batch.DefaultSize, "results per item")
	flag.StringVar(&opts.layers, "layers", "", "comma separated layers")
	flag.StringVar(&opts.sources, "sources", "", "comma separated sources")
	flag.StringVar(&opts.country, "country", "", "boundary country code")
	flag.BoolVar(&opts.debug, "debug", cfg.GetDebugFields(), "add the gid debug fields")
	flag.Parse()

	log := logger.New(cfg.Env)

	if err := run(cfg, log, opts); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		log.Error("geocode batch failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger, opts options) error {
	if opts.provider == "" || opts.in == "" {
		return errUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := os.Open(opts.in)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	items, err := readItems(in, opts.op, opts.cols)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("read input %s: %w", opts.in, err)
	}

	out := os.Stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	job := batch.Job{
		Provider:  opts.provider,
		Operation: opts.op,
		Filters: batch.Filters{
			Size:    opts.size,
			Country: opts.country,
			Layers:  tokens[batch.Layer](opts.layers),
			Sources: tokens[batch.Source](opts.sources),
		},
		IDField: mapper.Field{Name: opts.cols.id},
		Debug:   opts.debug,
	}

	runner := batch.NewRunner(
		provider.NewFileSource(cfg.GetProvidersFile(), validator.New()),
		log,
		client.WithRetryTimeout(cfg.GetRetryTimeout()),
		client.WithHTTPClient(&http.Client{Timeout: cfg.GetHTTPTimeout()}),
	)
	defer func() { _ = runner.Close() }()

	sink := export.NewGeoJSONWriter(out, mapper.LayerName(opts.op))
	progress := logProgress{log: log, every: max(1, len(items)/20)}

	report, runErr := runner.Run(ctx, job, items, sink, progress)
	if err := sink.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close output: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	log.Info("geocode batch complete", "items", report.Items, "written", report.Written, "features", sink.Count(), "failed", len(report.Failed))
	return nil
}

func tokens[T ~string](value string) []T {
	var out []T
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, T(trimmed))
		}
	}
	return out
}
