// Package repository persists batch runs, their skipped items and the
// records they produce.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pelias_geocoder/internal/geocode/batch"
	"pelias_geocoder/internal/geocode/mapper"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrRunNotFound = errors.New("geocode run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is a persisted batch run.
type Run struct {
	ID             uuid.UUID    `json:"id"`
	Provider       string       `json:"provider"`
	Operation      string       `json:"operation"`
	Job            batch.Job    `json:"job"`
	Items          []batch.Item `json:"-"`
	Status         Status       `json:"status"`
	TotalItems     int          `json:"totalItems"`
	ProcessedItems int          `json:"processedItems"`
	WrittenRecords int          `json:"writtenRecords"`
	Trail          []string     `json:"trail"`
	ErrorMessage   *string      `json:"errorMessage,omitempty"`
	ExportKey      *string      `json:"exportKey,omitempty"`
	CreatedBy      *uuid.UUID   `json:"createdBy,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	StartedAt      *time.Time   `json:"startedAt,omitempty"`
	FinishedAt     *time.Time   `json:"finishedAt,omitempty"`
}

// Repository provides data access for geocode runs.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const runColumns = `id, provider, operation, job, items, status, total_items, processed_items,
	written_records, trail, error_message, export_key, created_by, created_at, started_at, finished_at`

// CreateRun stores a queued run. createdBy may be nil for anonymous callers.
func (r *Repository) CreateRun(ctx context.Context, job batch.Job, items []batch.Item, createdBy *uuid.UUID) (Run, error) {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return Run{}, fmt.Errorf("encode job: %w", err)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return Run{}, fmt.Errorf("encode items: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO geocode_runs (id, provider, operation, job, items, status, total_items, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+runColumns,
		uuid.New(), job.Provider, job.Operation, jobJSON, itemsJSON, StatusQueued, len(items), createdBy,
	)
	return scanRun(row)
}

// GetRun loads a run by ID.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM geocode_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// MarkRunning moves a run to running and clears output from earlier attempts.
func (r *Repository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE geocode_runs
		SET status = $2, started_at = now(), finished_at = NULL, processed_items = 0,
			written_records = 0, trail = '{}', error_message = NULL, export_key = NULL
		WHERE id = $1
	`, id, StatusRunning)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM geocode_records WHERE run_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM geocode_run_errors WHERE run_id = $1`, id); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UpdateProgress records how many items have been processed.
func (r *Repository) UpdateProgress(ctx context.Context, id uuid.UUID, processed int) error {
	_, err := r.pool.Exec(ctx, `UPDATE geocode_runs SET processed_items = $2 WHERE id = $1`, id, processed)
	return err
}

// AddRunError stores one skipped item.
func (r *Repository) AddRunError(ctx context.Context, id uuid.UUID, itemErr batch.ItemError) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO geocode_run_errors (run_id, item_id, kind, message)
		VALUES ($1, $2, $3, $4)
	`, id, fmt.Sprint(itemErr.ItemID), itemErr.Kind, itemErr.Message)
	return err
}

// ListRunErrors returns the skipped items of a run in insertion order.
func (r *Repository) ListRunErrors(ctx context.Context, id uuid.UUID) ([]batch.ItemError, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT item_id, kind, message
		FROM geocode_run_errors
		WHERE run_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]batch.ItemError, 0)
	for rows.Next() {
		var itemID string
		var e batch.ItemError
		if err := rows.Scan(&itemID, &e.Kind, &e.Message); err != nil {
			return nil, err
		}
		e.ItemID = itemID
		items = append(items, e)
	}
	return items, rows.Err()
}

// Finish closes a run. A non-nil runErr marks it failed.
func (r *Repository) Finish(ctx context.Context, id uuid.UUID, report *batch.Report, exportKey string, runErr error) error {
	status := StatusSucceeded
	var errMsg *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}

	written := 0
	trail := []string{}
	if report != nil {
		written = report.Written
		trail = report.Trail
	}

	var key *string
	if exportKey != "" {
		key = &exportKey
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE geocode_runs
		SET status = $2, written_records = $3, trail = $4, error_message = $5, export_key = $6, finished_at = now()
		WHERE id = $1
	`, id, status, written, trail, errMsg, key)
	return err
}

// DeleteFinishedRunsBefore removes succeeded and failed runs that finished
// before the respective cutoffs. Errors and records go with them. The export
// keys of the removed runs are returned so their objects can be deleted too.
func (r *Repository) DeleteFinishedRunsBefore(ctx context.Context, succeededBefore, failedBefore time.Time) (int64, []string, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM geocode_runs
		WHERE (status = $1 AND finished_at < $2)
		   OR (status = $3 AND finished_at < $4)
		RETURNING export_key
	`, StatusSucceeded, succeededBefore, StatusFailed, failedBefore)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var deleted int64
	keys := make([]string, 0)
	for rows.Next() {
		var key *string
		if err := rows.Scan(&key); err != nil {
			return deleted, keys, err
		}
		deleted++
		if key != nil {
			keys = append(keys, *key)
		}
	}
	return deleted, keys, rows.Err()
}

// InsertRecord stores one produced record.
func (r *Repository) InsertRecord(ctx context.Context, runID uuid.UUID, seq int, f mapper.Feature) error {
	attrs, err := json.Marshal(f.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	var lon, lat *float64
	if f.Geometry != nil {
		lon, lat = &f.Geometry.Lon, &f.Geometry.Lat
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO geocode_records (run_id, seq, lon, lat, attributes)
		VALUES ($1, $2, $3, $4, $5)
	`, runID, seq, lon, lat, attrs)
	return err
}

// ListRecords returns the records of a run in write order.
func (r *Repository) ListRecords(ctx context.Context, runID uuid.UUID) ([]mapper.Feature, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT lon, lat, attributes
		FROM geocode_records
		WHERE run_id = $1
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	features := make([]mapper.Feature, 0)
	for rows.Next() {
		var lon, lat *float64
		var attrs []byte
		if err := rows.Scan(&lon, &lat, &attrs); err != nil {
			return nil, err
		}

		f := mapper.Feature{Attributes: map[string]any{}}
		if lon != nil && lat != nil {
			f.Geometry = &mapper.Point{Lon: *lon, Lat: *lat}
		}
		if err := json.Unmarshal(attrs, &f.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	var jobJSON, itemsJSON []byte
	var status string
	err := row.Scan(
		&run.ID, &run.Provider, &run.Operation, &jobJSON, &itemsJSON, &status, &run.TotalItems,
		&run.ProcessedItems, &run.WrittenRecords, &run.Trail, &run.ErrorMessage, &run.ExportKey,
		&run.CreatedBy, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return Run{}, err
	}
	run.Status = Status(status)

	if err := json.Unmarshal(jobJSON, &run.Job); err != nil {
		return Run{}, fmt.Errorf("decode job: %w", err)
	}
	if err := json.Unmarshal(itemsJSON, &run.Items); err != nil {
		return Run{}, fmt.Errorf("decode items: %w", err)
	}
	return run, nil
}
