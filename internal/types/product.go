package types

import (
	"time"

	"github.com/google/uuid"
)

// Product is keyed naturally by item name. Category and brand are derived
// from the name at normalization time when the source file carries neither.
type Product struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:uq_product_name" json:"name"`
	Category  string    `gorm:"column:category" json:"category"`
	Brand     string    `gorm:"column:brand" json:"brand"`
	Price     float64   `gorm:"column:price;not null;default:0" json:"price"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Product) TableName() string { return "product" }
