package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/types"
)

// ClaimPolicy bounds how chunks are retried and reclaimed: requeued chunks
// wait RetryDelay before the next claim, running chunks whose heartbeat is
// older than StaleRunning are presumed orphaned by a crashed worker and
// reclaimed, and a chunk claimed more than MaxAttempts times is abandoned by
// the worker.
type ClaimPolicy struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	StaleRunning time.Duration
}

type UploadChunkRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, chunks []*types.UploadChunk) ([]*types.UploadChunk, error)
	GetByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.UploadChunk, error)
	// ClaimNextRunnable picks one claimable chunk of a live job and marks it
	// running with attempts+1. Returns nil when nothing is claimable.
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, policy ClaimPolicy, skipLocked bool) (*types.UploadChunk, error)
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Complete(ctx context.Context, tx *gorm.DB, id uuid.UUID, success, failure, duplicate int64) error
	// Requeue returns a transiently failed chunk to the queue.
	Requeue(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	// Fail terminally fails a chunk; its rows will never be processed.
	Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error
	// Cancel marks one chunk cancelled (claimed after its job went terminal).
	Cancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// DiscardPending cancels every still-pending chunk of a job, returning
	// how many were discarded. In-flight chunks are left to drain.
	DiscardPending(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error)
	// CountUnfinished reports chunks still pending or running for a job.
	CountUnfinished(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error)
}

type uploadChunkRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadChunkRepo(db *gorm.DB, baseLog *logger.Logger) UploadChunkRepo {
	return &uploadChunkRepo{
		db:  db,
		log: baseLog.With("repo", "UploadChunkRepo"),
	}
}

func (r *uploadChunkRepo) CreateBatch(ctx context.Context, tx *gorm.DB, chunks []*types.UploadChunk) ([]*types.UploadChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chunks) == 0 {
		return []*types.UploadChunk{}, nil
	}
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
	}
	if err := transaction.WithContext(ctx).CreateInBatches(&chunks, 200).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

func (r *uploadChunkRepo) GetByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) ([]*types.UploadChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.UploadChunk
	err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("sequence_number ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *uploadChunkRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, policy ClaimPolicy, skipLocked bool) (*types.UploadChunk, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	retryCutoff := now.Add(-policy.RetryDelay)
	staleCutoff := now.Add(-policy.StaleRunning)
	var claimed *types.UploadChunk
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		q := txx.Model(&types.UploadChunk{})
		if skipLocked {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var chunk types.UploadChunk
		qErr := q.
			Where(`
				(
					(
						status = ?
						AND (last_error_at IS NULL OR last_error_at < ?)
					)
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
				AND job_id IN (?)
			`,
				types.ChunkStatusPending, retryCutoff,
				types.ChunkStatusRunning, staleCutoff,
				txx.Model(&types.UploadJob{}).
					Select("id").
					Where("status IN ?", []string{types.JobStatusQueued, types.JobStatusProcessing}),
			).
			Order("created_at ASC, sequence_number ASC").
			First(&chunk).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.UploadChunk{}).
			Where("id = ?", chunk.ID).
			Updates(map[string]interface{}{
				"status":       types.ChunkStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		chunk.Status = types.ChunkStatusRunning
		chunk.Attempts++
		claimed = &chunk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *uploadChunkRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.UploadChunk{}).
		Where("id = ? AND status = ?", id, types.ChunkStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

func (r *uploadChunkRepo) Complete(ctx context.Context, tx *gorm.DB, id uuid.UUID, success, failure, duplicate int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.UploadChunk{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          types.ChunkStatusDone,
			"success_count":   success,
			"failure_count":   failure,
			"duplicate_count": duplicate,
			"error":           "",
			"updated_at":      now,
		}).Error
}

func (r *uploadChunkRepo) Requeue(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.UploadChunk{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.ChunkStatusPending,
			"error":         errMsg,
			"last_error_at": now,
			"updated_at":    now,
		}).Error
}

func (r *uploadChunkRepo) Fail(ctx context.Context, tx *gorm.DB, id uuid.UUID, errMsg string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.UploadChunk{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        types.ChunkStatusFailed,
			"error":         errMsg,
			"last_error_at": now,
			"updated_at":    now,
		}).Error
}

func (r *uploadChunkRepo) Cancel(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.UploadChunk{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     types.ChunkStatusCancelled,
			"updated_at": time.Now(),
		}).Error
}

func (r *uploadChunkRepo) DiscardPending(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(ctx).
		Model(&types.UploadChunk{}).
		Where("job_id = ? AND status = ?", jobID, types.ChunkStatusPending).
		Updates(map[string]interface{}{
			"status":     types.ChunkStatusCancelled,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *uploadChunkRepo) CountUnfinished(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&types.UploadChunk{}).
		Where("job_id = ? AND status IN ?", jobID, []string{types.ChunkStatusPending, types.ChunkStatusRunning}).
		Count(&n).Error
	return n, err
}
