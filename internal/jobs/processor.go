package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/ingest"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/types"
)

// chunkOutcome accumulates one chunk attempt's counters and row errors
// before anything is written back.
type chunkOutcome struct {
	success    int64
	failed     int64
	duplicate  int64
	procErrors []*types.ProcessingError
	systemic   bool
}

// processChunk runs one claimed chunk end to end. It uses a detached context
// for persistence so pool shutdown or job cancellation drains in-flight work
// instead of aborting a transaction mid-flight.
func (p *Pool) processChunk(ctx context.Context, log *logger.Logger, chunk *types.UploadChunk) {
	base := context.Background()
	log = log.With("chunk_id", chunk.ID, "job_id", chunk.JobID, "seq", chunk.SequenceNumber)

	job, err := p.jobs.GetByID(base, nil, chunk.JobID)
	if err != nil {
		log.Warn("Failed to load job for chunk, requeueing", "error", err)
		_ = p.chunks.Requeue(base, nil, chunk.ID, fmt.Sprintf("load job: %v", err))
		return
	}
	if job == nil {
		log.Warn("Chunk references missing job, cancelling chunk")
		_ = p.chunks.Cancel(base, nil, chunk.ID)
		return
	}
	if job.Terminal() || job.Status == types.JobStatusCancelling {
		// Claimed in the window between cancellation and discard.
		_ = p.chunks.Cancel(base, nil, chunk.ID)
		p.releaseReservations(base, log, chunk.ID)
		p.finalizeJob(base, log, job.ID)
		return
	}

	if chunk.Attempts > p.cfg.Policy.MaxAttempts {
		p.abandonChunk(base, log, job, chunk, "retry budget exhausted")
		return
	}

	// First dequeue of any chunk moves the job out of queued.
	if job.Status == types.JobStatusQueued {
		if _, err := p.jobs.TransitionStatus(base, nil, job.ID, []string{types.JobStatusQueued}, types.JobStatusProcessing); err != nil {
			log.Warn("Failed to transition job to processing", "error", err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(base, p.cfg.ChunkTimeout)
	defer cancel()

	outcome, runErr := p.runChunk(attemptCtx, log, job, chunk)
	if runErr != nil {
		var malformed *ingest.MalformedFileError
		var schemaErr *ingest.SchemaError
		switch {
		case errors.As(runErr, &malformed), errors.As(runErr, &schemaErr):
			// Structural break discovered mid-stream: the file itself is bad,
			// so the whole job fails, not just this chunk.
			p.failJob(base, log, job, chunk, runErr)
		case errors.Is(runErr, context.DeadlineExceeded) && chunk.Attempts >= p.cfg.Policy.MaxAttempts:
			p.abandonChunk(base, log, job, chunk, fmt.Sprintf("deadline exceeded on final attempt: %v", runErr))
		case chunk.Attempts >= p.cfg.Policy.MaxAttempts:
			p.abandonChunk(base, log, job, chunk, fmt.Sprintf("transient failure on final attempt: %v", runErr))
		default:
			log.Warn("Chunk attempt failed, requeueing", "attempt", chunk.Attempts, "error", runErr)
			_ = p.chunks.Requeue(base, nil, chunk.ID, runErr.Error())
		}
		return
	}

	if outcome.systemic {
		// Error rate over threshold signals the wrong file, not row noise.
		p.failJob(base, log, job, chunk, fmt.Errorf(
			"chunk %d error rate %.0f%% exceeds circuit breaker threshold",
			chunk.SequenceNumber, float64(outcome.failed)*100/float64(chunk.RowCount())))
		return
	}

	// Errors, chunk status and job counters land in one transaction so a
	// chunk can never be done while the job totals are short of its rows,
	// and a requeued finish never double-appends its errors.
	err = p.db.WithContext(base).Transaction(func(tx *gorm.DB) error {
		if err := p.procErrors.Append(base, tx, outcome.procErrors); err != nil {
			return fmt.Errorf("append errors: %w", err)
		}
		if err := p.chunks.Complete(base, tx, chunk.ID, outcome.success, outcome.failed, outcome.duplicate); err != nil {
			return fmt.Errorf("complete chunk: %w", err)
		}
		if err := p.jobs.ApplyChunkCounters(base, tx, job.ID, outcome.success, outcome.failed, outcome.duplicate); err != nil {
			return fmt.Errorf("apply counters: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Warn("Failed to finish chunk, requeueing", "error", err)
		_ = p.chunks.Requeue(base, nil, chunk.ID, err.Error())
		return
	}
	log.Debug("Chunk done", "success", outcome.success, "failed", outcome.failed, "duplicate", outcome.duplicate)

	p.finalizeJob(base, log, job.ID)
}

// runChunk reads, normalizes, dedups and loads one chunk's rows. A returned
// error rolls the attempt back; row-level problems land in the outcome.
func (p *Pool) runChunk(ctx context.Context, log *logger.Logger, job *types.UploadJob, chunk *types.UploadChunk) (*chunkOutcome, error) {
	out := &chunkOutcome{}

	reader, err := ingest.OpenFile(job.StoragePath, job.Format)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	columns, err := ingest.ResolveColumns(reader.Header())
	if err != nil {
		return nil, err
	}
	if err := ingest.Skip(reader, chunk.StartRow); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("chunk start %d beyond end of file", chunk.StartRow)
		}
		return nil, err
	}

	normalizer := ingest.NewNormalizer(p.cfg.ReconcileTolerance)
	chunkID := chunk.ID
	var drafts []*ingest.DraftRow
	// Reservations in the shared index are owned by this chunk so a retried
	// attempt can re-reserve its own hashes; repeats inside one attempt are
	// caught here instead.
	seen := make(map[string]bool)

	for rowNumber := chunk.StartRow; rowNumber < chunk.EndRow; rowNumber++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fields, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("file ended at row %d, expected %d rows", rowNumber, chunk.EndRow)
		}
		if err != nil {
			return nil, err
		}

		mapped, ragged := columns.MapRow(fields)
		if ragged {
			log.Warn("Ragged row width padded/truncated", "row", rowNumber, "fields", len(fields))
		}

		draft, verr := normalizer.Normalize(rowNumber, mapped)
		if verr != nil {
			out.failed++
			out.procErrors = append(out.procErrors, p.rowError(job.ID, chunkID, rowNumber, types.ErrorKindValidation, verr.Error(), mapped))
			continue
		}

		if seen[draft.Hash] {
			out.duplicate++
			if derr := p.index.RecordRepeat(ctx, draft.Hash); derr != nil {
				return nil, fmt.Errorf("dedup repeat row %d: %w", rowNumber, derr)
			}
			continue
		}
		res, derr := p.index.CheckAndReserve(ctx, draft.Hash, job.ID, chunkID)
		if derr != nil {
			return nil, fmt.Errorf("dedup check row %d: %w", rowNumber, derr)
		}
		if !res.IsNew {
			out.duplicate++
			continue
		}
		seen[draft.Hash] = true
		drafts = append(drafts, draft)

		if (rowNumber-chunk.StartRow)%200 == 199 {
			_ = p.chunks.Heartbeat(ctx, nil, chunkID)
		}
	}

	if chunk.RowCount() >= p.cfg.CircuitBreakerMinRows {
		rate := float64(out.failed) / float64(chunk.RowCount())
		if rate > p.cfg.ErrorRateThreshold {
			out.systemic = true
			return out, nil
		}
	}

	loaded, err := p.loader.LoadChunk(ctx, job.ID, drafts)
	if err != nil {
		return nil, err
	}
	out.success = loaded.LoadedRows
	for _, f := range loaded.Failures {
		out.failed++
		out.procErrors = append(out.procErrors, p.rowError(job.ID, chunkID, f.RowNumber, f.Kind, f.Message, nil))
	}
	return out, nil
}

func (p *Pool) rowError(jobID, chunkID uuid.UUID, rowNumber int64, kind, message string, raw map[string]string) *types.ProcessingError {
	pe := &types.ProcessingError{
		JobID:     jobID,
		ChunkID:   &chunkID,
		RowNumber: rowNumber,
		Kind:      kind,
		Message:   message,
		Retryable: kind == types.ErrorKindTransient,
	}
	if raw != nil {
		if snapshot, err := json.Marshal(raw); err == nil {
			pe.RawRow = datatypes.JSON(snapshot)
		}
	}
	return pe
}

// releaseReservations drops the dedup reservations of a chunk that will
// never commit. Without this a later upload of the same rows would be
// counted duplicate against rows that were never written.
func (p *Pool) releaseReservations(ctx context.Context, log *logger.Logger, chunkID uuid.UUID) {
	if err := p.index.ReleaseChunk(ctx, chunkID); err != nil {
		log.Error("Failed to release dedup reservations", "chunk_id", chunkID, "error", err)
	}
}

// abandonChunk terminally fails a chunk whose retry budget ran out. Its
// unprocessed rows count as failed so the job's totals still add up, and the
// job proceeds with its remaining chunks.
func (p *Pool) abandonChunk(ctx context.Context, log *logger.Logger, job *types.UploadJob, chunk *types.UploadChunk, reason string) {
	log.Error("Abandoning chunk", "attempts", chunk.Attempts, "reason", reason)
	if err := p.chunks.Fail(ctx, nil, chunk.ID, reason); err != nil {
		log.Error("Failed to mark chunk failed", "error", err)
		return
	}
	p.releaseReservations(ctx, log, chunk.ID)
	chunkID := chunk.ID
	_ = p.procErrors.Append(ctx, nil, []*types.ProcessingError{{
		JobID:     job.ID,
		ChunkID:   &chunkID,
		RowNumber: -1,
		Kind:      types.ErrorKindFatal,
		Message:   fmt.Sprintf("chunk %d abandoned after %d attempts: %s", chunk.SequenceNumber, chunk.Attempts, reason),
	}})
	if err := p.jobs.ApplyChunkCounters(ctx, nil, job.ID, 0, chunk.RowCount(), 0); err != nil {
		log.Error("Failed to apply abandoned chunk counters", "error", err)
	}
	p.finalizeJob(ctx, log, job.ID)
}

// failJob fails the whole job fast: the current chunk, every queued chunk,
// and the job record itself.
func (p *Pool) failJob(ctx context.Context, log *logger.Logger, job *types.UploadJob, chunk *types.UploadChunk, cause error) {
	log.Error("Failing job", "cause", cause)
	if err := p.chunks.Fail(ctx, nil, chunk.ID, cause.Error()); err != nil {
		log.Error("Failed to mark chunk failed", "error", err)
	}
	p.releaseReservations(ctx, log, chunk.ID)
	chunkID := chunk.ID
	_ = p.procErrors.Append(ctx, nil, []*types.ProcessingError{{
		JobID:     job.ID,
		ChunkID:   &chunkID,
		RowNumber: -1,
		Kind:      types.ErrorKindFatal,
		Message:   cause.Error(),
	}})
	if discarded, err := p.chunks.DiscardPending(ctx, nil, job.ID); err != nil {
		log.Error("Failed to discard pending chunks", "error", err)
	} else if discarded > 0 {
		log.Info("Discarded pending chunks", "count", discarded)
	}
	if _, err := p.jobs.TransitionStatus(ctx, nil, job.ID,
		[]string{types.JobStatusQueued, types.JobStatusProcessing, types.JobStatusCancelling},
		types.JobStatusFailed); err != nil {
		log.Error("Failed to transition job to failed", "error", err)
	}
	if err := p.jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{"error": cause.Error()}); err != nil {
		log.Error("Failed to record job error", "error", err)
	}
}

// finalizeJob closes the job once no chunk is pending or running. Guarded
// transitions keep concurrent workers from double-finalizing.
func (p *Pool) finalizeJob(ctx context.Context, log *logger.Logger, jobID uuid.UUID) {
	remaining, err := p.chunks.CountUnfinished(ctx, nil, jobID)
	if err != nil {
		log.Warn("Failed to count unfinished chunks", "error", err)
		return
	}
	if remaining > 0 {
		return
	}
	job, err := p.jobs.GetByID(ctx, nil, jobID)
	if err != nil || job == nil || job.Terminal() {
		return
	}

	if job.Status == types.JobStatusCancelling {
		if _, err := p.jobs.TransitionStatus(ctx, nil, jobID,
			[]string{types.JobStatusCancelling}, types.JobStatusCancelled); err != nil {
			log.Warn("Failed to transition job to cancelled", "error", err)
		}
		return
	}

	final := types.JobStatusCompleted
	if job.FailedRows > 0 {
		// Success is never overstated.
		final = types.JobStatusCompletedWithErrors
	}
	moved, err := p.jobs.TransitionStatus(ctx, nil, jobID,
		[]string{types.JobStatusQueued, types.JobStatusProcessing}, final)
	if err != nil {
		log.Warn("Failed to finalize job", "error", err)
		return
	}
	if moved {
		log.Info("Job finalized", "status", final,
			"processed", job.ProcessedRows, "success", job.SuccessRows,
			"failed", job.FailedRows, "duplicate", job.DuplicateRows)
	}
}
