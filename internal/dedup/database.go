package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/logger"
)

// databaseIndex backs the dedup index with the dedup_record table. The
// reserve is a single upsert-returning statement, atomic at datastore
// granularity, which is the same store all workers (and replicas pointed at
// the same database) share.
type databaseIndex struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDatabaseIndex(db *gorm.DB, log *logger.Logger) Index {
	return &databaseIndex{
		db:  db,
		log: log.With("service", "DatabaseDedupIndex"),
	}
}

type reserveRow struct {
	OccurrenceCount int64
	ReservedByChunk string
}

func (i *databaseIndex) CheckAndReserve(ctx context.Context, contentHash string, jobID, chunkID uuid.UUID) (Result, error) {
	now := time.Now()
	var row reserveRow
	// The occurrence count only advances for callers other than the owning
	// chunk, so a retried chunk attempt keeps its reservations.
	err := i.db.WithContext(ctx).Raw(`
		INSERT INTO dedup_record (content_hash, first_seen_job_id, reserved_by_chunk, occurrence_count, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT (content_hash)
		DO UPDATE SET
			occurrence_count = dedup_record.occurrence_count
				+ (CASE WHEN dedup_record.reserved_by_chunk = excluded.reserved_by_chunk THEN 0 ELSE 1 END),
			updated_at = excluded.updated_at
		RETURNING occurrence_count, reserved_by_chunk
	`, contentHash, jobID, chunkID.String(), now, now).Scan(&row).Error
	if err != nil {
		return Result{}, fmt.Errorf("dedup upsert: %w", err)
	}
	isNew := row.ReservedByChunk == chunkID.String() && row.OccurrenceCount == 1
	return Result{IsNew: isNew, OccurrenceCount: row.OccurrenceCount}, nil
}

func (i *databaseIndex) RecordRepeat(ctx context.Context, contentHash string) error {
	err := i.db.WithContext(ctx).Exec(`
		UPDATE dedup_record
		SET occurrence_count = occurrence_count + 1, updated_at = ?
		WHERE content_hash = ?
	`, time.Now(), contentHash).Error
	if err != nil {
		return fmt.Errorf("dedup repeat: %w", err)
	}
	return nil
}

func (i *databaseIndex) ReleaseChunk(ctx context.Context, chunkID uuid.UUID) error {
	res := i.db.WithContext(ctx).Exec(`
		DELETE FROM dedup_record WHERE reserved_by_chunk = ?
	`, chunkID.String())
	if res.Error != nil {
		return fmt.Errorf("dedup release: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		i.log.Info("Released dedup reservations", "chunk_id", chunkID, "count", res.RowsAffected)
	}
	return nil
}
