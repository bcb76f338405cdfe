package app

import (
	"time"

	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/utils"
)

type Config struct {
	JWTSecretKey string

	UploadDir string
	ChunkSize int64

	WorkerCount           int
	ClaimInterval         time.Duration
	ChunkTimeout          time.Duration
	MaxAttempts           int
	RetryDelay            time.Duration
	StaleRunning          time.Duration
	ErrorRateThreshold    float64
	CircuitBreakerMinRows int64
	ReconcileTolerance    float64

	RedisAddr string
}

func LoadConfig(log *logger.Logger) Config {
	return Config{
		JWTSecretKey:          utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log),
		UploadDir:             utils.GetEnv("UPLOAD_DIR", "/tmp/sales-uploads", log),
		ChunkSize:             int64(utils.GetEnvAsInt("UPLOAD_CHUNK_SIZE", 500, log)),
		WorkerCount:           utils.GetEnvAsInt("WORKER_COUNT", 5, log),
		ClaimInterval:         time.Duration(utils.GetEnvAsInt("WORKER_CLAIM_INTERVAL_MS", 500, log)) * time.Millisecond,
		ChunkTimeout:          time.Duration(utils.GetEnvAsInt("CHUNK_TIMEOUT_SECONDS", 120, log)) * time.Second,
		MaxAttempts:           utils.GetEnvAsInt("CHUNK_MAX_ATTEMPTS", 3, log),
		RetryDelay:            time.Duration(utils.GetEnvAsInt("CHUNK_RETRY_DELAY_SECONDS", 10, log)) * time.Second,
		StaleRunning:          time.Duration(utils.GetEnvAsInt("CHUNK_STALE_RUNNING_SECONDS", 120, log)) * time.Second,
		ErrorRateThreshold:    utils.GetEnvAsFloat("ERROR_RATE_THRESHOLD", 0.5, log),
		CircuitBreakerMinRows: int64(utils.GetEnvAsInt("CIRCUIT_BREAKER_MIN_ROWS", 20, log)),
		ReconcileTolerance:    utils.GetEnvAsFloat("RECONCILE_TOLERANCE", 0.01, log),
		RedisAddr:             utils.GetEnv("REDIS_ADDR", "", log),
	}
}
