package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/dedup"
	"github.com/mangalm/sales-backend/internal/jobs"
	"github.com/mangalm/sales-backend/internal/loader"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/repos"
	"github.com/mangalm/sales-backend/internal/services"
)

type Services struct {
	Upload     services.UploadService
	ChunkPool  *jobs.Pool
	DedupIndex dedup.Index
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, skipLocked bool) (Services, error) {
	log.Info("Wiring services...")

	uploadService, err := services.NewUploadService(db, log, reposet.UploadJob, reposet.UploadChunk, reposet.ProcessingError, cfg.UploadDir, cfg.ChunkSize)
	if err != nil {
		return Services{}, fmt.Errorf("init upload service: %w", err)
	}

	index := wireDedupIndex(db, log, cfg)
	chunkLoader := loader.New(db, log, reposet.Store, reposet.Product, reposet.Invoice, reposet.OrderLine)

	pool := jobs.NewPool(db, log, jobs.PoolConfig{
		WorkerCount:   cfg.WorkerCount,
		ClaimInterval: cfg.ClaimInterval,
		ChunkTimeout:  cfg.ChunkTimeout,
		Policy: repos.ClaimPolicy{
			MaxAttempts:  cfg.MaxAttempts,
			RetryDelay:   cfg.RetryDelay,
			StaleRunning: cfg.StaleRunning,
		},
		ErrorRateThreshold:    cfg.ErrorRateThreshold,
		CircuitBreakerMinRows: cfg.CircuitBreakerMinRows,
		ReconcileTolerance:    cfg.ReconcileTolerance,
	}, reposet.UploadJob, reposet.UploadChunk, reposet.ProcessingError, index, chunkLoader, skipLocked)

	return Services{
		Upload:     uploadService,
		ChunkPool:  pool,
		DedupIndex: index,
	}, nil
}
