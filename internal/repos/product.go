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

type ProductRepo interface {
	// UpsertByName inserts the product or refreshes the mutable fields of the
	// existing row (last committed price wins; commits are idempotent for an
	// identical input row).
	UpsertByName(ctx context.Context, tx *gorm.DB, product *types.Product) (*types.Product, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Product, error)
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

func (r *productRepo) UpsertByName(ctx context.Context, tx *gorm.DB, product *types.Product) (*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now()
	product.CreatedAt = now
	product.UpdatedAt = now
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"price", "category", "brand", "updated_at"}),
		}).
		Create(product).Error
	if err != nil {
		return nil, err
	}
	return r.GetByName(ctx, transaction, product.Name)
}

func (r *productRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var product types.Product
	err := transaction.WithContext(ctx).Where("name = ?", name).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}
