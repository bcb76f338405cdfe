package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/ingest"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/repos"
	"github.com/mangalm/sales-backend/internal/types"
)

var (
	ErrJobNotFound    = errors.New("upload job not found")
	ErrNotOwner       = errors.New("upload job belongs to another caller")
	ErrNotCancellable = errors.New("upload job is already finished")
)

// UploadService owns the job lifecycle from submission to polling. Chunk
// execution itself belongs to the worker pool; this service only plans it.
type UploadService interface {
	// Submit persists the file, pre-scans it for the header and row count,
	// and queues the job's chunks. An unresolvable header fails the job
	// before any chunk exists and returns the SchemaError.
	Submit(ctx context.Context, callerID uuid.UUID, fileName string, src io.Reader) (*types.UploadJob, error)
	Progress(ctx context.Context, callerID, jobID uuid.UUID) (*types.UploadJob, error)
	Errors(ctx context.Context, callerID, jobID uuid.UUID, limit, offset int) ([]*types.ProcessingError, int64, error)
	Cancel(ctx context.Context, callerID, jobID uuid.UUID) (*types.UploadJob, error)
	List(ctx context.Context, callerID uuid.UUID, limit, offset int) ([]*types.UploadJob, error)
}

type uploadService struct {
	db        *gorm.DB
	log       *logger.Logger
	jobs      repos.UploadJobRepo
	chunks    repos.UploadChunkRepo
	procErrs  repos.ProcessingErrorRepo
	uploadDir string
	chunkSize int64
}

func NewUploadService(db *gorm.DB, baseLog *logger.Logger, jobRepo repos.UploadJobRepo, chunkRepo repos.UploadChunkRepo, errRepo repos.ProcessingErrorRepo, uploadDir string, chunkSize int64) (UploadService, error) {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &uploadService{
		db:        db,
		log:       baseLog.With("service", "UploadService"),
		jobs:      jobRepo,
		chunks:    chunkRepo,
		procErrs:  errRepo,
		uploadDir: uploadDir,
		chunkSize: chunkSize,
	}, nil
}

func (s *uploadService) Submit(ctx context.Context, callerID uuid.UUID, fileName string, src io.Reader) (*types.UploadJob, error) {
	jobID := uuid.New()

	path, written, err := s.persistFile(jobID, fileName, src)
	if err != nil {
		return nil, fmt.Errorf("persist upload: %w", err)
	}
	s.log.Debug("Upload persisted", "job_id", jobID, "path", path, "bytes", written)

	format := ingest.SniffFormat(fileName, nil)

	job := &types.UploadJob{
		ID:             jobID,
		CallerID:       callerID,
		SourceFileName: filepath.Base(fileName),
		Format:         format,
		StoragePath:    path,
		Status:         types.JobStatusQueued,
	}

	header, totalRows, scanErr := ingest.PreScan(path, format)
	if scanErr == nil {
		_, scanErr = ingest.ResolveColumns(header)
	}
	if scanErr != nil {
		// The file cannot be trusted at all. Keep the job row for the audit
		// trail, but nothing is ever queued for it.
		job.Status = types.JobStatusFailed
		job.Error = scanErr.Error()
		if _, cerr := s.jobs.Create(ctx, nil, job); cerr != nil {
			return nil, fmt.Errorf("record failed job: %w", cerr)
		}
		_ = s.procErrs.Append(ctx, nil, []*types.ProcessingError{{
			JobID:     jobID,
			RowNumber: -1,
			Kind:      types.ErrorKindFatal,
			Message:   scanErr.Error(),
		}})
		return job, scanErr
	}

	job.TotalRows = totalRows
	ranges := ingest.SplitRows(totalRows, s.chunkSize)
	job.ChunkCount = len(ranges)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		chunks := make([]*types.UploadChunk, 0, len(ranges))
		for _, cr := range ranges {
			chunks = append(chunks, &types.UploadChunk{
				JobID:          jobID,
				SequenceNumber: cr.SequenceNumber,
				StartRow:       cr.StartRow,
				EndRow:         cr.EndRow,
				Status:         types.ChunkStatusPending,
			})
		}
		_, err := s.chunks.CreateBatch(ctx, tx, chunks)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("queue job: %w", err)
	}

	if totalRows == 0 {
		// Nothing to process; close it out immediately.
		if _, err := s.jobs.TransitionStatus(ctx, nil, jobID,
			[]string{types.JobStatusQueued}, types.JobStatusCompleted); err != nil {
			s.log.Warn("Failed to complete empty job", "job_id", jobID, "error", err)
		}
		job.Status = types.JobStatusCompleted
	}

	s.log.Info("Upload queued", "job_id", jobID, "file", job.SourceFileName, "format", format, "total_rows", totalRows, "chunks", job.ChunkCount)
	return job, nil
}

func (s *uploadService) persistFile(jobID uuid.UUID, fileName string, src io.Reader) (string, int64, error) {
	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = ".csv"
	}
	path := filepath.Join(s.uploadDir, jobID.String()+ext)
	dst, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, err
	}
	return path, written, nil
}

func (s *uploadService) Progress(ctx context.Context, callerID, jobID uuid.UUID) (*types.UploadJob, error) {
	return s.ownedJob(ctx, callerID, jobID)
}

func (s *uploadService) Errors(ctx context.Context, callerID, jobID uuid.UUID, limit, offset int) ([]*types.ProcessingError, int64, error) {
	if _, err := s.ownedJob(ctx, callerID, jobID); err != nil {
		return nil, 0, err
	}
	return s.procErrs.ListByJob(ctx, nil, jobID, limit, offset)
}

func (s *uploadService) Cancel(ctx context.Context, callerID, jobID uuid.UUID) (*types.UploadJob, error) {
	if _, err := s.ownedJob(ctx, callerID, jobID); err != nil {
		return nil, err
	}
	moved, err := s.jobs.TransitionStatus(ctx, nil, jobID,
		[]string{types.JobStatusQueued, types.JobStatusProcessing}, types.JobStatusCancelling)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrNotCancellable
	}
	// Queued chunks are dropped; in-flight chunks drain to completion and the
	// worker that finishes the last one moves the job to cancelled.
	discarded, err := s.chunks.DiscardPending(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("Upload cancelling", "job_id", jobID, "discarded_chunks", discarded)

	remaining, err := s.chunks.CountUnfinished(ctx, nil, jobID)
	if err == nil && remaining == 0 {
		if _, err := s.jobs.TransitionStatus(ctx, nil, jobID,
			[]string{types.JobStatusCancelling}, types.JobStatusCancelled); err != nil {
			s.log.Warn("Failed to finalize cancelled job", "job_id", jobID, "error", err)
		}
	}
	return s.jobs.GetByID(ctx, nil, jobID)
}

func (s *uploadService) List(ctx context.Context, callerID uuid.UUID, limit, offset int) ([]*types.UploadJob, error) {
	return s.jobs.ListByCaller(ctx, nil, callerID, limit, offset)
}

func (s *uploadService) ownedJob(ctx context.Context, callerID, jobID uuid.UUID) (*types.UploadJob, error) {
	job, err := s.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if callerID != uuid.Nil && job.CallerID != callerID {
		return nil, ErrNotOwner
	}
	return job, nil
}
