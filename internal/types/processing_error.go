package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ErrorKindValidation          = "validation"
	ErrorKindUnresolvedReference = "unresolved_reference"
	ErrorKindTransient           = "transient"
	ErrorKindFatal               = "fatal"
)

// ProcessingError is an append-only record of one failed row (or one failed
// chunk, when RowNumber is negative and ChunkID is set).
type ProcessingError struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	ChunkID   *uuid.UUID     `gorm:"type:uuid;index" json:"chunk_id,omitempty"`
	RowNumber int64          `gorm:"column:row_number;not null;default:-1" json:"row_number"`
	Kind      string         `gorm:"column:kind;not null;index" json:"kind"`
	Message   string         `gorm:"column:message;not null" json:"message"`
	RawRow    datatypes.JSON `gorm:"column:raw_row" json:"raw_row,omitempty"`
	Retryable bool           `gorm:"column:retryable;not null;default:false" json:"retryable"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (ProcessingError) TableName() string { return "processing_error" }
