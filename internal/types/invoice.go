package types

import (
	"time"

	"github.com/google/uuid"
)

// Invoice is keyed naturally by the external invoice number.
type Invoice struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	InvoiceNumber string     `gorm:"column:invoice_number;not null;uniqueIndex:uq_invoice_number" json:"invoice_number"`
	StoreID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"store_id"`
	Store         *Store     `gorm:"foreignKey:StoreID;references:ID" json:"store,omitempty"`
	InvoiceDate   *time.Time `gorm:"column:invoice_date" json:"invoice_date,omitempty"`
	TotalAmount   float64    `gorm:"column:total_amount;not null;default:0" json:"total_amount"`
	SourceJobID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"source_job_id"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoice" }
