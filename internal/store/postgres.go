package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"videogen/internal/models"
	"videogen/internal/provider"
)

// Store wraps pgxpool for Postgres persistence of job records. It is the
// single source of truth for job state; the orchestrator re-reads before
// every write.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, owner_id, provider, provider_job_id, prompt, model, size, duration,
	negative_prompt, reference_images, generate_audio, status, progress, error_message,
	file_path, thumbnail_path, parent_id, provider_metadata, cost, created_at, completed_at, updated_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, job models.Job) error {
	refs, err := json.Marshal(job.ReferenceImages)
	if err != nil {
		return fmt.Errorf("marshal reference images: %w", err)
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, job.ID, job.OwnerID, job.Provider, job.ProviderJobID, job.Prompt, job.Model, job.Size, job.Duration,
		emptyToNil(job.NegativePrompt), refs, job.GenerateAudio, job.Status, job.Progress, job.ErrorMessage,
		job.FilePath, job.ThumbnailPath, job.ParentID, nilIfEmptyJSON(job.ProviderMetadata), job.Cost,
		job.CreatedAt, job.CompletedAt, now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob applies a field-level partial update. An empty update is a no-op.
func (s *Store) UpdateJob(ctx context.Context, id string, upd models.JobUpdate) error {
	if upd.Empty() {
		return nil
	}

	sets := make([]string, 0, 8)
	args := make([]any, 0, 9)
	args = append(args, id)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Progress != nil {
		add("progress", *upd.Progress)
	}
	if upd.ErrorMessage != nil {
		add("error_message", *upd.ErrorMessage)
	}
	if upd.FilePath != nil {
		add("file_path", *upd.FilePath)
	}
	if upd.ThumbnailPath != nil {
		add("thumbnail_path", *upd.ThumbnailPath)
	}
	if upd.ProviderJobID != nil {
		add("provider_job_id", *upd.ProviderJobID)
	}
	if upd.ProviderMetadata != nil {
		add("provider_metadata", []byte(upd.ProviderMetadata))
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}
	sets = append(sets, "updated_at = NOW()")

	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return provider.ErrNotFound
	}
	return nil
}

// GetJob fetches a job by local id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetJobByProviderID looks up a job by its provider-native id.
func (s *Store) GetJobByProviderID(ctx context.Context, providerName, nativeID string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE provider = $1 AND provider_job_id = $2
	`, providerName, nativeID)
	return scanJob(row)
}

// GetJobsByOwner lists an owner's jobs, newest first.
func (s *Store) GetJobsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ListActiveJobs returns every job whose status is non-terminal. Resume uses
// this at startup to re-arm polling.
func (s *Store) ListActiveJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = ANY($1) ORDER BY created_at
	`, []string{models.StatusQueued, models.StatusInProgress})
	if err != nil {
		return nil, fmt.Errorf("query active jobs: %w", err)
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// DeleteJob removes a job record. Artifact files on disk are left alone.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return provider.ErrNotFound
	}
	return nil
}

// AggregateCost sums recorded spend over completed jobs for the owner and the
// whole platform.
func (s *Store) AggregateCost(ctx context.Context, ownerID string) (models.CostStats, error) {
	var stats models.CostStats
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost), 0), COUNT(*) FROM jobs WHERE owner_id = $1 AND status = $2
	`, ownerID, models.StatusCompleted).Scan(&stats.OwnerTotal, &stats.OwnerCount)
	if err != nil {
		return stats, fmt.Errorf("aggregate owner cost: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost), 0), COUNT(*) FROM jobs WHERE status = $1
	`, models.StatusCompleted).Scan(&stats.PlatformTotal, &stats.PlatformCount)
	if err != nil {
		return stats, fmt.Errorf("aggregate platform cost: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var job models.Job
	var negative pgtype.Text
	var refs []byte
	var metadata []byte

	err := row.Scan(&job.ID, &job.OwnerID, &job.Provider, &job.ProviderJobID, &job.Prompt, &job.Model,
		&job.Size, &job.Duration, &negative, &refs, &job.GenerateAudio, &job.Status, &job.Progress,
		&job.ErrorMessage, &job.FilePath, &job.ThumbnailPath, &job.ParentID, &metadata, &job.Cost,
		&job.CreatedAt, &job.CompletedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, provider.ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if negative.Valid {
		job.NegativePrompt = negative.String
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &job.ReferenceImages); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal reference images: %w", err)
		}
	}
	if len(metadata) > 0 {
		job.ProviderMetadata = json.RawMessage(metadata)
	}
	return job, nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func nilIfEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
