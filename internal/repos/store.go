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

type StoreRepo interface {
	// UpsertByName inserts the store or returns the existing row for its
	// natural key. A unique-constraint race with a concurrent chunk resolves
	// by re-reading the winner, never by failing the row.
	UpsertByName(ctx context.Context, tx *gorm.DB, store *types.Store) (*types.Store, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Store, error)
}

type storeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStoreRepo(db *gorm.DB, baseLog *logger.Logger) StoreRepo {
	return &storeRepo{
		db:  db,
		log: baseLog.With("repo", "StoreRepo"),
	}
}

func (r *storeRepo) UpsertByName(ctx context.Context, tx *gorm.DB, store *types.Store) (*types.Store, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if store.ID == uuid.Nil {
		store.ID = uuid.New()
	}
	now := time.Now()
	store.CreatedAt = now
	store.UpdatedAt = now
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).
		Create(store).Error
	if err != nil {
		return nil, err
	}
	return r.GetByName(ctx, transaction, store.Name)
}

func (r *storeRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Store, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var store types.Store
	err := transaction.WithContext(ctx).Where("name = ?", name).First(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}
