package jobs

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/dedup"
	"github.com/mangalm/sales-backend/internal/loader"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/repos"
)

// PoolConfig bounds the worker pool and its retry/abort behavior.
type PoolConfig struct {
	// WorkerCount is the number of concurrent chunk processors.
	WorkerCount int
	// ClaimInterval is how often an idle worker polls for a claimable chunk.
	ClaimInterval time.Duration
	// ChunkTimeout is the per-attempt processing deadline for one chunk.
	ChunkTimeout time.Duration
	// Policy governs chunk retry and stale-claim reclamation.
	Policy repos.ClaimPolicy
	// ErrorRateThreshold is the in-chunk row failure rate beyond which the
	// whole job is treated as systemically corrupt and failed fast.
	ErrorRateThreshold float64
	// CircuitBreakerMinRows is the minimum chunk size the threshold applies
	// to, so tiny chunks cannot trip the breaker on one bad row.
	CircuitBreakerMinRows int64
	// ReconcileTolerance is handed to the row normalizer.
	ReconcileTolerance float64
}

func (c *PoolConfig) withDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 5
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 500 * time.Millisecond
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 2 * time.Minute
	}
	if c.Policy.MaxAttempts <= 0 {
		c.Policy.MaxAttempts = 3
	}
	if c.Policy.RetryDelay <= 0 {
		c.Policy.RetryDelay = 10 * time.Second
	}
	if c.Policy.StaleRunning <= 0 {
		c.Policy.StaleRunning = 2 * time.Minute
	}
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 1 {
		c.ErrorRateThreshold = 0.5
	}
	if c.CircuitBreakerMinRows <= 0 {
		c.CircuitBreakerMinRows = 20
	}
}

// Pool is the bounded worker pool. Each worker claims one chunk at a time
// from the shared queue and runs it through normalize -> dedup -> load.
type Pool struct {
	db         *gorm.DB
	log        *logger.Logger
	cfg        PoolConfig
	jobs       repos.UploadJobRepo
	chunks     repos.UploadChunkRepo
	procErrors repos.ProcessingErrorRepo
	index      dedup.Index
	loader     *loader.Loader
	skipLocked bool
}

func NewPool(db *gorm.DB, baseLog *logger.Logger, cfg PoolConfig, jobRepo repos.UploadJobRepo, chunkRepo repos.UploadChunkRepo, errRepo repos.ProcessingErrorRepo, index dedup.Index, chunkLoader *loader.Loader, skipLocked bool) *Pool {
	cfg.withDefaults()
	return &Pool{
		db:         db,
		log:        baseLog.With("component", "ChunkWorkerPool"),
		cfg:        cfg,
		jobs:       jobRepo,
		chunks:     chunkRepo,
		procErrors: errRepo,
		index:      index,
		loader:     chunkLoader,
		skipLocked: skipLocked,
	}
}

// Start launches the workers. They stop when ctx is cancelled; a chunk in
// flight drains to completion because its transaction runs on a detached
// context.
func (p *Pool) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := i
		g.Go(func() error {
			p.runWorker(gctx, workerID)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		p.log.Info("Worker pool stopped")
	}()
}

func (p *Pool) runWorker(ctx context.Context, workerID int) {
	log := p.log.With("worker", workerID)
	ticker := time.NewTicker(p.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			chunk, err := p.chunks.ClaimNextRunnable(ctx, nil, p.cfg.Policy, p.skipLocked)
			if err != nil {
				log.Warn("ClaimNextRunnable failed", "error", err)
				break
			}
			if chunk == nil {
				break
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error("Chunk processing panic", "chunk_id", chunk.ID, "job_id", chunk.JobID, "panic", r)
						_ = p.chunks.Fail(context.Background(), nil, chunk.ID, "panic during chunk processing")
						_ = p.index.ReleaseChunk(context.Background(), chunk.ID)
					}
				}()
				p.processChunk(ctx, log, chunk)
			}()
			if ctx.Err() != nil {
				return
			}
		}
	}
}
