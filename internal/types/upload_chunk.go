package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChunkStatusPending   = "pending"
	ChunkStatusRunning   = "running"
	ChunkStatusDone      = "done"
	ChunkStatusFailed    = "failed"
	ChunkStatusCancelled = "cancelled"
)

// UploadChunk is a fixed-size slice of a job's rows, claimed and processed
// independently by the worker pool. Rows [StartRow, EndRow) are 0-based data
// row offsets, header excluded.
type UploadChunk struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobID          uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:uq_chunk_job_seq,priority:1" json:"job_id"`
	Job            *UploadJob `gorm:"constraint:OnDelete:CASCADE;foreignKey:JobID;references:ID" json:"-"`
	SequenceNumber int        `gorm:"column:sequence_number;not null;uniqueIndex:uq_chunk_job_seq,priority:2" json:"sequence_number"`
	StartRow       int64      `gorm:"column:start_row;not null" json:"start_row"`
	EndRow         int64      `gorm:"column:end_row;not null" json:"end_row"`
	Status         string     `gorm:"column:status;not null;index" json:"status"`
	Attempts       int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	SuccessCount   int64      `gorm:"column:success_count;not null;default:0" json:"success_count"`
	FailureCount   int64      `gorm:"column:failure_count;not null;default:0" json:"failure_count"`
	DuplicateCount int64      `gorm:"column:duplicate_count;not null;default:0" json:"duplicate_count"`
	Error          string     `gorm:"column:error" json:"error,omitempty"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt       *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt    *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (UploadChunk) TableName() string { return "upload_chunk" }

func (c *UploadChunk) RowCount() int64 { return c.EndRow - c.StartRow }
