package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mangalm/sales-backend/internal/logger"
)

const (
	hashKeyPrefix  = "dedup:"
	chunkSetPrefix = "dedupchunk:"
)

// redisIndex backs the dedup index with a shared Redis, so horizontally
// replicated ingest instances see one index. SETNX of the owning chunk id is
// the atomic reserve: exactly one chunk attempt wins each hash.
type redisIndex struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisIndex(log *logger.Logger, addr string) (Index, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisIndex{
		log: log.With("service", "RedisDedupIndex"),
		rdb: rdb,
	}, nil
}

func (i *redisIndex) CheckAndReserve(ctx context.Context, contentHash string, jobID, chunkID uuid.UUID) (Result, error) {
	key := hashKeyPrefix + contentHash
	won, err := i.rdb.SetNX(ctx, key, chunkID.String(), 0).Result()
	if err != nil {
		return Result{}, fmt.Errorf("dedup setnx: %w", err)
	}
	if won {
		if err := i.rdb.Set(ctx, key+":count", 1, 0).Err(); err != nil {
			i.log.Warn("Failed to seed occurrence count", "hash", contentHash, "error", err)
		}
		if err := i.rdb.SetNX(ctx, key+":job", jobID.String(), 0).Err(); err != nil {
			i.log.Warn("Failed to record first-seen job for hash", "hash", contentHash, "error", err)
		}
		// Track which hashes the chunk owns so a terminal failure can
		// release them.
		if err := i.rdb.SAdd(ctx, chunkSetPrefix+chunkID.String(), contentHash).Err(); err != nil {
			i.log.Warn("Failed to track reservation for chunk", "chunk_id", chunkID, "error", err)
		}
		return Result{IsNew: true, OccurrenceCount: 1}, nil
	}

	owner, err := i.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return Result{}, fmt.Errorf("dedup get owner: %w", err)
	}
	if owner == chunkID.String() {
		// Same chunk retrying after a rolled-back attempt still owns it.
		return Result{IsNew: true, OccurrenceCount: 1}, nil
	}
	count, err := i.rdb.Incr(ctx, key+":count").Result()
	if err != nil {
		return Result{}, fmt.Errorf("dedup incr: %w", err)
	}
	return Result{IsNew: false, OccurrenceCount: count}, nil
}

func (i *redisIndex) RecordRepeat(ctx context.Context, contentHash string) error {
	if err := i.rdb.Incr(ctx, hashKeyPrefix+contentHash+":count").Err(); err != nil {
		return fmt.Errorf("dedup repeat incr: %w", err)
	}
	return nil
}

func (i *redisIndex) ReleaseChunk(ctx context.Context, chunkID uuid.UUID) error {
	setKey := chunkSetPrefix + chunkID.String()
	hashes, err := i.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("dedup release smembers: %w", err)
	}
	for _, hash := range hashes {
		key := hashKeyPrefix + hash
		owner, err := i.rdb.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("dedup release get owner: %w", err)
		}
		if owner != chunkID.String() {
			continue
		}
		if err := i.rdb.Del(ctx, key, key+":count", key+":job").Err(); err != nil {
			return fmt.Errorf("dedup release del: %w", err)
		}
	}
	if err := i.rdb.Del(ctx, setKey).Err(); err != nil {
		return fmt.Errorf("dedup release del set: %w", err)
	}
	if len(hashes) > 0 {
		i.log.Info("Released dedup reservations", "chunk_id", chunkID, "count", len(hashes))
	}
	return nil
}
