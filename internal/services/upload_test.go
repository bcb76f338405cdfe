package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mangalm/sales-backend/internal/ingest"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/repos"
	"github.com/mangalm/sales-backend/internal/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(&types.UploadJob{}, &types.UploadChunk{}, &types.ProcessingError{})
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

func newTestService(t *testing.T, chunkSize int64) (UploadService, *testRepos) {
	t.Helper()
	db := newTestDB(t)
	log := mustTestLogger(t)
	tr := &testRepos{
		jobs:   repos.NewUploadJobRepo(db, log),
		chunks: repos.NewUploadChunkRepo(db, log),
		errs:   repos.NewProcessingErrorRepo(db, log),
	}
	svc, err := NewUploadService(db, log, tr.jobs, tr.chunks, tr.errs, t.TempDir(), chunkSize)
	if err != nil {
		t.Fatalf("NewUploadService: %v", err)
	}
	return svc, tr
}

type testRepos struct {
	jobs   repos.UploadJobRepo
	chunks repos.UploadChunkRepo
	errs   repos.ProcessingErrorRepo
}

const validCSV = "Invoice ID,Customer Name,Item Name,Quantity\n" +
	"INV-1,Shah Bros,Basmati Rice,2\n" +
	"INV-1,Shah Bros,Toor Dal,1\n" +
	"INV-2,Patel Stores,Oil,3\n"

func TestSubmitQueuesJobAndChunks(t *testing.T) {
	svc, tr := newTestService(t, 2)
	ctx := context.Background()
	callerID := uuid.New()

	job, err := svc.Submit(ctx, callerID, "invoices.csv", strings.NewReader(validCSV))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != types.JobStatusQueued {
		t.Fatalf("status: want=%q got=%q", types.JobStatusQueued, job.Status)
	}
	if job.TotalRows != 3 {
		t.Fatalf("total rows: want=3 got=%d", job.TotalRows)
	}
	if job.ChunkCount != 2 {
		t.Fatalf("chunk count: want=2 got=%d", job.ChunkCount)
	}
	if job.Format != types.FileFormatCSV {
		t.Fatalf("format: want=%q got=%q", types.FileFormatCSV, job.Format)
	}

	chunks, err := tr.chunks.GetByJob(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("chunk rows: want=2 got=%d", len(chunks))
	}
	for _, c := range chunks {
		if c.Status != types.ChunkStatusPending {
			t.Fatalf("chunk %d status: want=%q got=%q", c.SequenceNumber, types.ChunkStatusPending, c.Status)
		}
	}
	if chunks[1].StartRow != 2 || chunks[1].EndRow != 3 {
		t.Fatalf("second chunk range: want=[2,3) got=[%d,%d)", chunks[1].StartRow, chunks[1].EndRow)
	}
}

func TestSubmitUnresolvableHeaderFailsJob(t *testing.T) {
	svc, tr := newTestService(t, 500)
	ctx := context.Background()

	csv := "Zone,Warehouse,Pallet\nA,B,C\n"
	job, err := svc.Submit(ctx, uuid.New(), "invoices.csv", strings.NewReader(csv))

	var serr *ingest.SchemaError
	if !errors.As(err, &serr) {
		t.Fatalf("want SchemaError got %v", err)
	}
	if job == nil || job.Status != types.JobStatusFailed {
		t.Fatalf("failed job row not recorded: %+v", job)
	}

	// The audit record survives, nothing is queued.
	chunks, err := tr.chunks.GetByJob(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("failed job should have no chunks, got %d", len(chunks))
	}
	errs, total, err := tr.errs.ListByJob(ctx, nil, job.ID, 10, 0)
	if err != nil {
		t.Fatalf("list errors: %v", err)
	}
	if total != 1 || errs[0].Kind != types.ErrorKindFatal {
		t.Fatalf("want one fatal error, got total=%d", total)
	}
}

func TestSubmitEmptyFileCompletesImmediately(t *testing.T) {
	svc, _ := newTestService(t, 500)

	csv := "Invoice ID,Customer Name,Item Name,Quantity\n"
	job, err := svc.Submit(context.Background(), uuid.New(), "invoices.csv", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != types.JobStatusCompleted {
		t.Fatalf("status: want=%q got=%q", types.JobStatusCompleted, job.Status)
	}
	if job.TotalRows != 0 || job.ChunkCount != 0 {
		t.Fatalf("empty job: rows=%d chunks=%d", job.TotalRows, job.ChunkCount)
	}
}

func TestProgressEnforcesOwnership(t *testing.T) {
	svc, _ := newTestService(t, 500)
	ctx := context.Background()
	owner := uuid.New()

	job, err := svc.Submit(ctx, owner, "invoices.csv", strings.NewReader(validCSV))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := svc.Progress(ctx, owner, job.ID); err != nil {
		t.Fatalf("owner progress: %v", err)
	}
	if _, err := svc.Progress(ctx, uuid.New(), job.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("want ErrNotOwner got %v", err)
	}
	if _, err := svc.Progress(ctx, owner, uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("want ErrJobNotFound got %v", err)
	}
}

func TestCancelQueuedJobDiscardsChunks(t *testing.T) {
	svc, tr := newTestService(t, 1)
	ctx := context.Background()
	owner := uuid.New()

	job, err := svc.Submit(ctx, owner, "invoices.csv", strings.NewReader(validCSV))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cancelled, err := svc.Cancel(ctx, owner, job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// No chunk was in flight, so the job lands in cancelled directly.
	if cancelled.Status != types.JobStatusCancelled {
		t.Fatalf("status: want=%q got=%q", types.JobStatusCancelled, cancelled.Status)
	}

	chunks, err := tr.chunks.GetByJob(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("get chunks: %v", err)
	}
	for _, c := range chunks {
		if c.Status != types.ChunkStatusCancelled {
			t.Fatalf("chunk %d status: want=%q got=%q", c.SequenceNumber, types.ChunkStatusCancelled, c.Status)
		}
	}

	// Cancelling twice is rejected.
	if _, err := svc.Cancel(ctx, owner, job.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("want ErrNotCancellable got %v", err)
	}
}

func TestListReturnsCallerJobsOnly(t *testing.T) {
	svc, _ := newTestService(t, 500)
	ctx := context.Background()
	owner := uuid.New()

	if _, err := svc.Submit(ctx, owner, "a.csv", strings.NewReader(validCSV)); err != nil {
		t.Fatalf("Submit a: %v", err)
	}
	if _, err := svc.Submit(ctx, owner, "b.csv", strings.NewReader(validCSV)); err != nil {
		t.Fatalf("Submit b: %v", err)
	}
	if _, err := svc.Submit(ctx, uuid.New(), "c.csv", strings.NewReader(validCSV)); err != nil {
		t.Fatalf("Submit c: %v", err)
	}

	jobs, err := svc.List(ctx, owner, 50, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("caller jobs: want=2 got=%d", len(jobs))
	}
}
