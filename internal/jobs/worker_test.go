package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mangalm/sales-backend/internal/dedup"
	"github.com/mangalm/sales-backend/internal/ingest"
	"github.com/mangalm/sales-backend/internal/loader"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/repos"
	"github.com/mangalm/sales-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	// Multi-worker tests need writers to wait for the lock instead of
	// erroring out.
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&types.UploadJob{}, &types.UploadChunk{}, &types.ProcessingError{}, &types.DedupRecord{},
		&types.Store{}, &types.Product{}, &types.Invoice{}, &types.OrderLine{},
	)
	if err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

type testHarness struct {
	db      *gorm.DB
	log     *logger.Logger
	jobs    repos.UploadJobRepo
	chunks  repos.UploadChunkRepo
	errRepo repos.ProcessingErrorRepo
	pool    *Pool
}

func newTestHarness(t *testing.T, cfg PoolConfig) *testHarness {
	t.Helper()
	db := newTestDB(t)
	log := mustTestLogger(t)

	jobRepo := repos.NewUploadJobRepo(db, log)
	chunkRepo := repos.NewUploadChunkRepo(db, log)
	errRepo := repos.NewProcessingErrorRepo(db, log)
	index := dedup.NewDatabaseIndex(db, log)
	chunkLoader := loader.New(db, log,
		repos.NewStoreRepo(db, log),
		repos.NewProductRepo(db, log),
		repos.NewInvoiceRepo(db, log),
		repos.NewOrderLineRepo(db, log),
	)

	if cfg.WorkerCount == 0 {
		// sqlite tolerates little write concurrency; one worker keeps the
		// claim loop deterministic.
		cfg.WorkerCount = 1
	}
	if cfg.ClaimInterval == 0 {
		cfg.ClaimInterval = 10 * time.Millisecond
	}
	pool := NewPool(db, log, cfg, jobRepo, chunkRepo, errRepo, index, chunkLoader, false)
	return &testHarness{db: db, log: log, jobs: jobRepo, chunks: chunkRepo, errRepo: errRepo, pool: pool}
}

// seedJob writes csv to disk and creates the job plus its planned chunks,
// the same shape Submit leaves behind.
func (h *testHarness) seedJob(t *testing.T, csv string, chunkSize int64) *types.UploadJob {
	t.Helper()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "upload.csv")
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	totalRows := int64(strings.Count(csv, "\n") - 1)

	job, err := h.jobs.Create(ctx, nil, &types.UploadJob{
		CallerID:       uuid.New(),
		SourceFileName: "upload.csv",
		Format:         types.FileFormatCSV,
		StoragePath:    path,
		Status:         types.JobStatusQueued,
		TotalRows:      totalRows,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	ranges := ingest.SplitRows(totalRows, chunkSize)
	chunks := make([]*types.UploadChunk, 0, len(ranges))
	for _, cr := range ranges {
		chunks = append(chunks, &types.UploadChunk{
			JobID:          job.ID,
			SequenceNumber: cr.SequenceNumber,
			StartRow:       cr.StartRow,
			EndRow:         cr.EndRow,
			Status:         types.ChunkStatusPending,
		})
	}
	if _, err := h.chunks.CreateBatch(ctx, nil, chunks); err != nil {
		t.Fatalf("create chunks: %v", err)
	}
	if err := h.jobs.UpdateFields(ctx, nil, job.ID, map[string]interface{}{"chunk_count": len(chunks)}); err != nil {
		t.Fatalf("set chunk count: %v", err)
	}
	return job
}

func (h *testHarness) waitTerminal(t *testing.T, jobID uuid.UUID) *types.UploadJob {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("job %s never reached a terminal status", jobID)
		case <-time.After(20 * time.Millisecond):
		}
		job, err := h.jobs.GetByID(context.Background(), nil, jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job != nil && job.Terminal() {
			return job
		}
	}
}

const mixedCSV = "Invoice ID,Customer Name,Item Name,Quantity,Item Price,Total\n" +
	"INV-1,Shah Bros,Basmati Rice,2,12.50,25.00\n" +
	"INV-1,Shah Bros,Toor Dal,1,4.00,4.00\n" +
	"INV-1,Shah Bros,Toor Dal,1,4.00,4.00\n" + // exact repeat of the line above
	"INV-2,Patel Stores,Sunflower Oil,3,10.00,30.00\n" +
	"INV-2,Patel Stores,,2,5.00,10.00\n" + // missing item name
	"INV-2,Patel Stores,Wheat Flour,abc,5.00,10.00\n" + // non-numeric quantity
	"INV-3,Patel Stores,Wheat Flour 5kg,2,20.00,40.00\n" +
	"INV-3,Patel Stores,Spice Mix,1,3.00,3.00\n"

func TestPoolProcessesJobWithRowErrorsAndDuplicates(t *testing.T) {
	h := newTestHarness(t, PoolConfig{})
	job := h.seedJob(t, mixedCSV, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	final := h.waitTerminal(t, job.ID)
	if final.Status != types.JobStatusCompletedWithErrors {
		t.Fatalf("status: want=%q got=%q", types.JobStatusCompletedWithErrors, final.Status)
	}
	if final.ProcessedRows != 8 {
		t.Fatalf("processed: want=8 got=%d", final.ProcessedRows)
	}
	if final.SuccessRows != 5 || final.FailedRows != 2 || final.DuplicateRows != 1 {
		t.Fatalf("counters: success=%d failed=%d duplicate=%d", final.SuccessRows, final.FailedRows, final.DuplicateRows)
	}
	if final.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}

	errs, total, err := h.errRepo.ListByJob(context.Background(), nil, job.ID, 10, 0)
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if total != 2 {
		t.Fatalf("error count: want=2 got=%d", total)
	}
	for _, pe := range errs {
		if pe.Kind != types.ErrorKindValidation {
			t.Fatalf("error kind: want=%q got=%q", types.ErrorKindValidation, pe.Kind)
		}
		if len(pe.RawRow) == 0 {
			t.Fatalf("validation error missing raw row snapshot")
		}
	}

	var lines int64
	h.db.Model(&types.OrderLine{}).Count(&lines)
	if lines != 5 {
		t.Fatalf("order lines: want=5 got=%d", lines)
	}
}

func TestPoolThreeRowMixedFile(t *testing.T) {
	h := newTestHarness(t, PoolConfig{})
	csv := "Invoice ID,Customer Name,Item Name,Quantity,Item Price\n" +
		"INV-1,Shah Bros,Basmati Rice,2,12.50\n" +
		"INV-1,,Toor Dal,1,4.00\n" + // missing customer name
		"INV-1,Shah Bros,Basmati Rice,2,12.50\n" // exact repeat of row one
	job := h.seedJob(t, csv, 500)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	final := h.waitTerminal(t, job.ID)
	if final.Status != types.JobStatusCompletedWithErrors {
		t.Fatalf("status: want=%q got=%q", types.JobStatusCompletedWithErrors, final.Status)
	}
	if final.SuccessRows != 1 || final.FailedRows != 1 || final.DuplicateRows != 1 {
		t.Fatalf("counters: success=%d failed=%d duplicate=%d", final.SuccessRows, final.FailedRows, final.DuplicateRows)
	}
	if final.ProcessedRows != final.TotalRows {
		t.Fatalf("processed %d != total %d", final.ProcessedRows, final.TotalRows)
	}
}

func TestPoolResubmittedFileIsAllDuplicates(t *testing.T) {
	h := newTestHarness(t, PoolConfig{})
	csv := "Invoice ID,Customer Name,Item Name,Quantity,Item Price\n" +
		"INV-1,Shah Bros,Basmati Rice,2,12.50\n" +
		"INV-2,Patel Stores,Toor Dal,1,4.00\n"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	first := h.waitTerminal(t, h.seedJob(t, csv, 500).ID)
	if first.SuccessRows != 2 {
		t.Fatalf("first run success: want=2 got=%d", first.SuccessRows)
	}

	second := h.waitTerminal(t, h.seedJob(t, csv, 500).ID)
	if second.DuplicateRows != 2 || second.SuccessRows != 0 {
		t.Fatalf("second run: success=%d duplicate=%d", second.SuccessRows, second.DuplicateRows)
	}
	if second.Status != types.JobStatusCompleted {
		t.Fatalf("second run status: want=%q got=%q", types.JobStatusCompleted, second.Status)
	}

	var lines int64
	h.db.Model(&types.OrderLine{}).Count(&lines)
	if lines != 2 {
		t.Fatalf("entities after re-upload: want=2 lines got=%d", lines)
	}
}

func TestPoolCleanFileCompletes(t *testing.T) {
	h := newTestHarness(t, PoolConfig{})
	csv := "Invoice ID,Customer Name,Item Name,Quantity,Item Price\n" +
		"INV-1,Shah Bros,Basmati Rice,2,12.50\n" +
		"INV-1,Shah Bros,Toor Dal,1,4.00\n"
	job := h.seedJob(t, csv, 500)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	final := h.waitTerminal(t, job.ID)
	if final.Status != types.JobStatusCompleted {
		t.Fatalf("status: want=%q got=%q", types.JobStatusCompleted, final.Status)
	}
	if final.SuccessRows != 2 || final.FailedRows != 0 || final.DuplicateRows != 0 {
		t.Fatalf("counters: success=%d failed=%d duplicate=%d", final.SuccessRows, final.FailedRows, final.DuplicateRows)
	}
}

func TestPoolMalformedFileFailsWholeJob(t *testing.T) {
	h := newTestHarness(t, PoolConfig{})
	csv := "Invoice ID,Customer Name,Item Name,Quantity\n" +
		"INV-1,Shah Bros,Basmati Rice,2\n" +
		"INV-1,Shah Bros,\"unterminated,1\n" +
		"INV-2,Patel Stores,Toor Dal,1\n" +
		"INV-2,Patel Stores,Oil,1\n"
	job := h.seedJob(t, csv, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	final := h.waitTerminal(t, job.ID)
	if final.Status != types.JobStatusFailed {
		t.Fatalf("status: want=%q got=%q", types.JobStatusFailed, final.Status)
	}
	if final.Error == "" {
		t.Fatalf("failed job missing error")
	}

	// The chunk after the break must be discarded, not processed.
	chunks, err := h.chunks.GetByJob(context.Background(), nil, job.ID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	var sawCancelled bool
	for _, c := range chunks {
		if c.Status == types.ChunkStatusCancelled {
			sawCancelled = true
		}
		if c.Status == types.ChunkStatusPending || c.Status == types.ChunkStatusRunning {
			t.Fatalf("chunk %d left %s after job failure", c.SequenceNumber, c.Status)
		}
	}
	if !sawCancelled {
		t.Fatalf("no pending chunk was discarded")
	}
}

func TestPoolCircuitBreakerFailsSystemicallyBadJob(t *testing.T) {
	h := newTestHarness(t, PoolConfig{ErrorRateThreshold: 0.5, CircuitBreakerMinRows: 20})

	var b strings.Builder
	b.WriteString("Invoice ID,Customer Name,Item Name,Quantity\n")
	for i := 0; i < 8; i++ {
		b.WriteString("INV-1,Shah Bros,Basmati Rice,2\n")
	}
	for i := 0; i < 12; i++ {
		b.WriteString("INV-1,Shah Bros,,2\n") // missing item name
	}
	job := h.seedJob(t, b.String(), 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	final := h.waitTerminal(t, job.ID)
	if final.Status != types.JobStatusFailed {
		t.Fatalf("status: want=%q got=%q", types.JobStatusFailed, final.Status)
	}
	if !strings.Contains(final.Error, "circuit breaker") {
		t.Fatalf("error should name the circuit breaker, got %q", final.Error)
	}
}

func TestPoolFailedJobReleasesReservations(t *testing.T) {
	h := newTestHarness(t, PoolConfig{ErrorRateThreshold: 0.5, CircuitBreakerMinRows: 20})

	var bad strings.Builder
	bad.WriteString("Invoice ID,Customer Name,Item Name,Quantity,Item Price\n")
	for i := 0; i < 8; i++ {
		bad.WriteString(fmt.Sprintf("INV-%d,Shah Bros,Item %d,1,2.00\n", i, i))
	}
	for i := 0; i < 12; i++ {
		bad.WriteString(fmt.Sprintf("INV-%d,Shah Bros,,1,2.00\n", 100+i)) // missing item name
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	first := h.waitTerminal(t, h.seedJob(t, bad.String(), 20).ID)
	if first.Status != types.JobStatusFailed {
		t.Fatalf("first run status: want=%q got=%q", types.JobStatusFailed, first.Status)
	}
	var lines int64
	h.db.Model(&types.OrderLine{}).Count(&lines)
	if lines != 0 {
		t.Fatalf("failed job committed %d lines", lines)
	}

	// The corrected re-export carries the same eight good rows. Nothing from
	// the failed run was ever committed, so nothing may count as duplicate.
	var good strings.Builder
	good.WriteString("Invoice ID,Customer Name,Item Name,Quantity,Item Price\n")
	for i := 0; i < 8; i++ {
		good.WriteString(fmt.Sprintf("INV-%d,Shah Bros,Item %d,1,2.00\n", i, i))
	}
	for i := 0; i < 12; i++ {
		good.WriteString(fmt.Sprintf("INV-%d,Shah Bros,Item %d,1,2.00\n", 100+i, 100+i))
	}

	second := h.waitTerminal(t, h.seedJob(t, good.String(), 20).ID)
	if second.Status != types.JobStatusCompleted {
		t.Fatalf("second run status: want=%q got=%q", types.JobStatusCompleted, second.Status)
	}
	if second.SuccessRows != 20 || second.DuplicateRows != 0 {
		t.Fatalf("second run: success=%d duplicate=%d", second.SuccessRows, second.DuplicateRows)
	}
	h.db.Model(&types.OrderLine{}).Count(&lines)
	if lines != 20 {
		t.Fatalf("order lines after corrected upload: want=20 got=%d", lines)
	}
}

func TestPoolBoundsRunningChunksToWorkerCount(t *testing.T) {
	h := newTestHarness(t, PoolConfig{
		WorkerCount:   2,
		ClaimInterval: 5 * time.Millisecond,
		Policy:        repos.ClaimPolicy{MaxAttempts: 10, RetryDelay: time.Millisecond, StaleRunning: time.Minute},
	})

	var b strings.Builder
	b.WriteString("Invoice ID,Customer Name,Item Name,Quantity,Item Price\n")
	for i := 0; i < 300; i++ {
		b.WriteString(fmt.Sprintf("INV-%d,Store %d,Item %d,1,2.00\n", i/5, i/5%7, i))
	}
	job := h.seedJob(t, b.String(), 25)

	chunks, err := h.chunks.GetByJob(context.Background(), nil, job.ID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 12 {
		t.Fatalf("chunk count: want=12 got=%d", len(chunks))
	}

	// Sample the running set while the pool works; it must never exceed the
	// worker count.
	stop := make(chan struct{})
	overdrive := make(chan int64, 1)
	go func() {
		defer close(overdrive)
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
			}
			var running int64
			h.db.Model(&types.UploadChunk{}).
				Where("job_id = ? AND status = ?", job.ID, types.ChunkStatusRunning).
				Count(&running)
			if running > 2 {
				overdrive <- running
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.pool.Start(ctx)

	final := h.waitTerminal(t, job.ID)
	close(stop)
	if n, ok := <-overdrive; ok {
		t.Fatalf("observed %d running chunks with 2 workers", n)
	}

	if final.Status != types.JobStatusCompleted {
		t.Fatalf("status: want=%q got=%q", types.JobStatusCompleted, final.Status)
	}
	if final.SuccessRows != 300 || final.ProcessedRows != 300 {
		t.Fatalf("counters: success=%d processed=%d", final.SuccessRows, final.ProcessedRows)
	}
}

func TestFinalizeCancellingJob(t *testing.T) {
	h := newTestHarness(t, PoolConfig{})
	ctx := context.Background()

	job, err := h.jobs.Create(ctx, nil, &types.UploadJob{
		CallerID:       uuid.New(),
		SourceFileName: "upload.csv",
		Format:         types.FileFormatCSV,
		StoragePath:    "/nonexistent",
		Status:         types.JobStatusCancelling,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// All chunks already drained or discarded; the last finisher closes the job.
	h.pool.finalizeJob(ctx, h.log, job.ID)

	got, err := h.jobs.GetByID(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != types.JobStatusCancelled {
		t.Fatalf("status: want=%q got=%q", types.JobStatusCancelled, got.Status)
	}
}
