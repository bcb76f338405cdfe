package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/types"
)

type OrderLineRepo interface {
	// UpsertByHash inserts the line or refreshes the existing row keyed by the
	// line's business-key hash, which makes a retried chunk commit idempotent.
	UpsertByHash(ctx context.Context, tx *gorm.DB, line *types.OrderLine) (*types.OrderLine, error)
	CountByInvoice(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (int64, error)
}

type orderLineRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewOrderLineRepo(db *gorm.DB, baseLog *logger.Logger) OrderLineRepo {
	return &orderLineRepo{
		db:  db,
		log: baseLog.With("repo", "OrderLineRepo"),
	}
}

func (r *orderLineRepo) UpsertByHash(ctx context.Context, tx *gorm.DB, line *types.OrderLine) (*types.OrderLine, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	now := time.Now()
	line.CreatedAt = now
	line.UpdatedAt = now
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "line_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"quantity", "unit_price", "total_price", "updated_at"}),
		}).
		Create(line).Error
	if err != nil {
		return nil, err
	}
	var out types.OrderLine
	if err := transaction.WithContext(ctx).Where("line_hash = ?", line.LineHash).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *orderLineRepo) CountByInvoice(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(ctx).
		Model(&types.OrderLine{}).
		Where("invoice_id = ?", invoiceID).
		Count(&n).Error
	return n, err
}
