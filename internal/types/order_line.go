package types

import (
	"time"

	"github.com/google/uuid"
)

// OrderLine is one invoice line item. LineHash is the same business-key hash
// the dedup index uses, which makes re-committing an identical row a no-op.
type OrderLine struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceID       uuid.UUID `gorm:"type:uuid;not null;index" json:"invoice_id"`
	Invoice         *Invoice  `gorm:"constraint:OnDelete:CASCADE;foreignKey:InvoiceID;references:ID" json:"-"`
	ProductID       uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	Product         *Product  `gorm:"foreignKey:ProductID;references:ID" json:"-"`
	ProductName     string    `gorm:"column:product_name;not null" json:"product_name"`
	Quantity        float64   `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice       float64   `gorm:"column:unit_price;not null;default:0" json:"unit_price"`
	TotalPrice      float64   `gorm:"column:total_price;not null;default:0" json:"total_price"`
	Discount        float64   `gorm:"column:discount;not null;default:0" json:"discount"`
	LineHash        string    `gorm:"column:line_hash;not null;uniqueIndex:uq_order_line_hash;size:32" json:"line_hash"`
	SourceJobID     uuid.UUID `gorm:"type:uuid;not null;index" json:"source_job_id"`
	SourceRowNumber int64     `gorm:"column:source_row_number;not null;default:-1" json:"source_row_number"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (OrderLine) TableName() string { return "order_line" }
