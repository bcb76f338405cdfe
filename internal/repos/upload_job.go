package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/types"
)

type UploadJobRepo interface {
	Create(ctx context.Context, tx *gorm.DB, job *types.UploadJob) (*types.UploadJob, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.UploadJob, error)
	ListByCaller(ctx context.Context, tx *gorm.DB, callerID uuid.UUID, limit, offset int) ([]*types.UploadJob, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// ApplyChunkCounters atomically folds one finished chunk's counters into
	// the job totals. processed = success + failed + duplicate.
	ApplyChunkCounters(ctx context.Context, tx *gorm.DB, id uuid.UUID, success, failed, duplicate int64) error
	// TransitionStatus moves the job from any of the given statuses to the
	// target, reporting whether the guard matched. Concurrent workers race on
	// transitions, so every state change is a guarded compare-and-set.
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string) (bool, error)
}

type uploadJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadJobRepo(db *gorm.DB, baseLog *logger.Logger) UploadJobRepo {
	return &uploadJobRepo{
		db:  db,
		log: baseLog.With("repo", "UploadJobRepo"),
	}
}

func (r *uploadJobRepo) Create(ctx context.Context, tx *gorm.DB, job *types.UploadJob) (*types.UploadJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *uploadJobRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.UploadJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.UploadJob
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *uploadJobRepo) ListByCaller(ctx context.Context, tx *gorm.DB, callerID uuid.UUID, limit, offset int) ([]*types.UploadJob, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var out []*types.UploadJob
	err := transaction.WithContext(ctx).
		Where("caller_id = ?", callerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *uploadJobRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.UploadJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *uploadJobRepo) ApplyChunkCounters(ctx context.Context, tx *gorm.DB, id uuid.UUID, success, failed, duplicate int64) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	processed := success + failed + duplicate
	return transaction.WithContext(ctx).
		Model(&types.UploadJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_rows": gorm.Expr("processed_rows + ?", processed),
			"success_rows":   gorm.Expr("success_rows + ?", success),
			"failed_rows":    gorm.Expr("failed_rows + ?", failed),
			"duplicate_rows": gorm.Expr("duplicate_rows + ?", duplicate),
			"updated_at":     time.Now(),
		}).Error
}

func (r *uploadJobRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(from) == 0 || to == "" {
		return false, nil
	}
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	switch to {
	case types.JobStatusCompleted, types.JobStatusCompletedWithErrors, types.JobStatusFailed, types.JobStatusCancelled:
		now := time.Now()
		updates["completed_at"] = &now
	}
	res := transaction.WithContext(ctx).
		Model(&types.UploadJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
