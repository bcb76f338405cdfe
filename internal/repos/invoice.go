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

type InvoiceRepo interface {
	// UpsertByNumber inserts the invoice or refreshes the existing row keyed
	// by invoice number, returning the resolved row with its id.
	UpsertByNumber(ctx context.Context, tx *gorm.DB, invoice *types.Invoice) (*types.Invoice, error)
	GetByNumber(ctx context.Context, tx *gorm.DB, invoiceNumber string) (*types.Invoice, error)
	// RecalculateTotal rewrites total_amount as the sum of the invoice's
	// committed lines. Recomputing instead of incrementing keeps retried
	// chunk commits idempotent.
	RecalculateTotal(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type invoiceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInvoiceRepo(db *gorm.DB, baseLog *logger.Logger) InvoiceRepo {
	return &invoiceRepo{
		db:  db,
		log: baseLog.With("repo", "InvoiceRepo"),
	}
}

func (r *invoiceRepo) UpsertByNumber(ctx context.Context, tx *gorm.DB, invoice *types.Invoice) (*types.Invoice, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if invoice.ID == uuid.Nil {
		invoice.ID = uuid.New()
	}
	now := time.Now()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "invoice_number"}},
			DoUpdates: clause.AssignmentColumns([]string{"invoice_date", "updated_at"}),
		}).
		Create(invoice).Error
	if err != nil {
		return nil, err
	}
	return r.GetByNumber(ctx, transaction, invoice.InvoiceNumber)
}

func (r *invoiceRepo) GetByNumber(ctx context.Context, tx *gorm.DB, invoiceNumber string) (*types.Invoice, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var invoice types.Invoice
	err := transaction.WithContext(ctx).Where("invoice_number = ?", invoiceNumber).First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *invoiceRepo) RecalculateTotal(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.Invoice{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_amount": gorm.Expr("(SELECT COALESCE(SUM(total_price), 0) FROM order_line WHERE order_line.invoice_id = ?)", id),
			"updated_at":   time.Now(),
		}).Error
}
