package dedup

import (
	"context"

	"github.com/google/uuid"
)

// Result of one check-and-reserve. The first caller for a hash gets
// IsNew=true and owns loading that row; every later caller, from any job,
// gets IsNew=false and must not touch the relational model.
type Result struct {
	IsNew           bool
	OccurrenceCount int64
}

// Index is the process-wide (and, with the redis backend, fleet-wide)
// dedup store. CheckAndReserve must be a single atomic operation, never a
// check followed by an insert, so two chunks hashing the same row
// concurrently cannot both win. Reservations are keyed by chunk: when a
// chunk attempt rolls back and is retried, the retry re-reserves its own
// hashes as new instead of seeing its previous attempt as a duplicate.
//
// A reservation only becomes permanent once the owning chunk commits. When
// a chunk is terminally failed or cancelled its rows were never written, so
// ReleaseChunk must drop everything the chunk reserved; otherwise a later
// upload of the same rows would be counted duplicate against data that does
// not exist.
type Index interface {
	CheckAndReserve(ctx context.Context, contentHash string, jobID, chunkID uuid.UUID) (Result, error)
	// RecordRepeat advances the occurrence count for a hash the owning chunk
	// saw again within one attempt, where CheckAndReserve would report the
	// chunk's own reservation as new.
	RecordRepeat(ctx context.Context, contentHash string) error
	// ReleaseChunk drops every reservation still owned by the chunk.
	ReleaseChunk(ctx context.Context, chunkID uuid.UUID) error
}
