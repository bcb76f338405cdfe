package types

import (
	"time"

	"github.com/google/uuid"
)

// Store is a customer storefront, keyed naturally by name.
type Store struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:uq_store_name" json:"name"`
	Address   string    `gorm:"column:address" json:"address"`
	City      string    `gorm:"column:city" json:"city"`
	State     string    `gorm:"column:state" json:"state"`
	Region    string    `gorm:"column:region" json:"region"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Store) TableName() string { return "store" }
