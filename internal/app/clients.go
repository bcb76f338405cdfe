package app

import (
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/dedup"
	"github.com/mangalm/sales-backend/internal/logger"
)

// wireDedupIndex prefers redis when an address is configured and falls back
// to the database-backed index otherwise.
func wireDedupIndex(db *gorm.DB, log *logger.Logger, cfg Config) dedup.Index {
	if cfg.RedisAddr != "" {
		index, err := dedup.NewRedisIndex(log, cfg.RedisAddr)
		if err == nil {
			log.Info("Using redis dedup index", "addr", cfg.RedisAddr)
			return index
		}
		log.Warn("Redis dedup index unavailable, falling back to database", "error", err)
	}
	return dedup.NewDatabaseIndex(db, log)
}
