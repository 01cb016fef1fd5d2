package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

const jobColumns = `id, filename, status, total_rows, processed_rows, error_message, created_at, started_at, finished_at`

func scanJob(row pgx.Row) (*core.ImportJob, error) {
	var (
		job    core.ImportJob
		status string
	)
	err := row.Scan(&job.ID, &job.Filename, &status, &job.TotalRows, &job.ProcessedRows,
		&job.ErrorMessage, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	job.Status = core.JobStatus(status)
	return &job, nil
}

func (s *Store) CreateJob(ctx context.Context, filename string) (*core.ImportJob, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO import_jobs (id, filename, status) VALUES ($1, $2, $3) RETURNING `+jobColumns,
		uuid.New(), filename, string(core.JobPending))
	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("insert import job: %w", err)
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id))
}

// UpdateJob writes every mutable field in its own statement, so the change
// is visible to readers as soon as it returns.
func (s *Store) UpdateJob(ctx context.Context, job *core.ImportJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_jobs
		SET status = $2, total_rows = $3, processed_rows = $4,
		    error_message = $5, started_at = $6, finished_at = $7
		WHERE id = $1`,
		job.ID, string(job.Status), job.TotalRows, job.ProcessedRows,
		job.ErrorMessage, job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("update import job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
