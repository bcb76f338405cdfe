package types

import (
	"time"

	"github.com/google/uuid"
)

// DedupRecord persists one previously committed row's business-key hash.
// Unlike every other table it has no per-job lifecycle: it accumulates across
// all jobs so a re-uploaded file is detected as duplicates.
type DedupRecord struct {
	ContentHash     string    `gorm:"column:content_hash;primaryKey;size:32" json:"content_hash"`
	FirstSeenJobID  uuid.UUID `gorm:"type:uuid;not null" json:"first_seen_job_id"`
	ReservedByChunk string    `gorm:"column:reserved_by_chunk;not null;size:36" json:"-"`
	OccurrenceCount int64     `gorm:"column:occurrence_count;not null;default:1" json:"occurrence_count"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (DedupRecord) TableName() string { return "dedup_record" }
