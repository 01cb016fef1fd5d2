package core

// ingest.go runs an import job: a counting pass that fixes total_rows, then
// an ingest pass that upserts products by normalized SKU and commits every
// batchSize applied rows together with the progress counter.
//
// Rows without a SKU are skipped and do not advance processed_rows, so a
// completed job may report processed_rows < total_rows. Already-committed
// batches stay in place when a later batch fails.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalog-importer/internal/logging"
)

// DefaultBatchSize is the number of applied rows per commit.
const DefaultBatchSize = 500

// Pipeline drives import jobs through their lifecycle.
type Pipeline struct {
	jobs      JobStore
	batches   BatchCommitter
	files     FileStore
	queue     Enqueuer
	machine   *jobMachine
	batchSize int
}

// NewPipeline wires a pipeline. batchSize <= 0 selects DefaultBatchSize.
func NewPipeline(jobs JobStore, batches BatchCommitter, files FileStore, queue Enqueuer, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		jobs:      jobs,
		batches:   batches,
		files:     files,
		queue:     queue,
		machine:   &jobMachine{jobs: jobs, now: time.Now},
		batchSize: batchSize,
	}
}

// Run processes the file behind ref for the given job. The file is removed
// on every exit path. Ingestion failures are recorded on the job and are not
// returned; an error is returned only when the job itself cannot be loaded
// or written.
func (p *Pipeline) Run(ctx context.Context, jobID uuid.UUID, ref string) error {
	ctx, log := logging.WithFields(ctx, "job_id", jobID)
	defer p.release(ctx, ref)

	job, err := p.jobs.GetJob(ctx, jobID)
	if errors.Is(err, ErrNotFound) {
		log.Warn("import job not found, discarding upload", "file_ref", ref)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load import job %s: %w", jobID, err)
	}

	if job.Status.Terminal() {
		log.Info("import job already finished, skipping", "status", job.Status)
		return nil
	}
	if job.Status != JobPending {
		log.Warn("restarting interrupted import job", "status", job.Status)
	}

	if err := p.machine.Begin(ctx, job); err != nil {
		return err
	}
	log.Info("import started", "filename", job.Filename)
	start := time.Now()

	if err := p.ingest(ctx, job, ref); err != nil {
		log.Error("import failed",
			"error", err,
			"processed_rows", job.ProcessedRows,
		)
		if ferr := p.machine.Fail(ctx, job, err); ferr != nil {
			return errors.Join(err, ferr)
		}
		return nil
	}

	log.Info("import completed",
		"total_rows", *job.TotalRows,
		"processed_rows", job.ProcessedRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	// Fire and forget: delivery outcomes never touch the job.
	if err := p.queue.Enqueue(ctx, TaskDispatchEvent, DispatchEventArgs{EventType: EventImportCompleted}); err != nil {
		log.Error("enqueue completion event failed", "error", err)
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, job *ImportJob, ref string) error {
	total, err := p.count(ref)
	if err != nil {
		return err
	}
	if err := p.machine.Counted(ctx, job, total); err != nil {
		return err
	}

	if err := p.importRows(ctx, job, ref); err != nil {
		return err
	}

	return p.machine.Complete(ctx, job)
}

func (p *Pipeline) count(ref string) (int, error) {
	f, err := p.files.Open(ref)
	if err != nil {
		return 0, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	n, err := CountRows(f)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// importRows streams the file a second time. processed_rows on the job only
// advances once the batch carrying those rows has been committed.
func (p *Pipeline) importRows(ctx context.Context, job *ImportJob, ref string) error {
	f, err := p.files.Open(ref)
	if err != nil {
		return fmt.Errorf("reopen upload: %w", err)
	}
	defer f.Close()

	cr := NewCSVReader(f)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return p.commit(ctx, job, nil, 0)
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	idx := MakeHeaderIndex(header)
	if !idx.Has(ColumnSKU) {
		logging.FromContext(ctx).Warn("header has no sku column, every row will be skipped",
			"header", header)
	}

	batch := make([]ProductUpsert, 0, p.batchSize)
	processed := 0
	row := 0

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return fmt.Errorf("read row %d: %w", row, err)
		}

		u, ok := idx.Upsert(record)
		if !ok {
			continue
		}

		batch = append(batch, u)
		processed++

		if processed%p.batchSize == 0 {
			if err := p.commit(ctx, job, batch, processed); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}

	return p.commit(ctx, job, batch, processed)
}

func (p *Pipeline) commit(ctx context.Context, job *ImportJob, batch []ProductUpsert, processed int) error {
	if err := p.batches.CommitBatch(ctx, job.ID, batch, processed); err != nil {
		return fmt.Errorf("commit batch at row %d: %w", processed, err)
	}
	job.ProcessedRows = processed

	logging.FromContext(ctx).Debug("batch committed",
		"rows", len(batch),
		"processed_rows", processed,
	)
	return nil
}

func (p *Pipeline) release(ctx context.Context, ref string) {
	if err := p.files.Remove(ref); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.FromContext(ctx).Warn("failed to remove upload", "file_ref", ref, "error", err)
	}
}
