package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/types"
)

// ProcessingErrorRepo is append-only: errors are recorded and paged out, never
// updated or deleted, so writes stay off the chunk critical path.
type ProcessingErrorRepo interface {
	Append(ctx context.Context, tx *gorm.DB, errs []*types.ProcessingError) error
	ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, limit, offset int) ([]*types.ProcessingError, int64, error)
}

type processingErrorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessingErrorRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingErrorRepo {
	return &processingErrorRepo{
		db:  db,
		log: baseLog.With("repo", "ProcessingErrorRepo"),
	}
}

func (r *processingErrorRepo) Append(ctx context.Context, tx *gorm.DB, errs []*types.ProcessingError) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(errs) == 0 {
		return nil
	}
	now := time.Now()
	for _, e := range errs {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
	}
	return transaction.WithContext(ctx).CreateInBatches(&errs, 200).Error
}

func (r *processingErrorRepo) ListByJob(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, limit, offset int) ([]*types.ProcessingError, int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var total int64
	if err := transaction.WithContext(ctx).
		Model(&types.ProcessingError{}).
		Where("job_id = ?", jobID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []*types.ProcessingError
	err := transaction.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, row_number ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
