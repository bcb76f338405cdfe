package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	JobStatusQueued              = "queued"
	JobStatusProcessing          = "processing"
	JobStatusCompleted           = "completed"
	JobStatusCompletedWithErrors = "completed_with_errors"
	JobStatusFailed              = "failed"
	JobStatusCancelling          = "cancelling"
	JobStatusCancelled           = "cancelled"
)

const (
	FileFormatCSV  = "csv"
	FileFormatXLSX = "xlsx"
)

type UploadJob struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CallerID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"caller_id"`
	SourceFileName string         `gorm:"column:source_file_name;not null" json:"source_file_name"`
	Format         string         `gorm:"column:format;not null" json:"format"` // csv|xlsx
	StoragePath    string         `gorm:"column:storage_path;not null" json:"-"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	TotalRows      int64          `gorm:"column:total_rows;not null;default:0" json:"total_rows"`
	ChunkCount     int            `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	ProcessedRows  int64          `gorm:"column:processed_rows;not null;default:0" json:"processed_rows"`
	SuccessRows    int64          `gorm:"column:success_rows;not null;default:0" json:"success_rows"`
	FailedRows     int64          `gorm:"column:failed_rows;not null;default:0" json:"failed_rows"`
	DuplicateRows  int64          `gorm:"column:duplicate_rows;not null;default:0" json:"duplicate_rows"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UploadJob) TableName() string { return "upload_job" }

// Terminal reports whether no further chunk work can change the job.
func (j *UploadJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
