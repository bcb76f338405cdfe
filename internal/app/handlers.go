package app

import (
	"github.com/mangalm/sales-backend/internal/handlers"
	"github.com/mangalm/sales-backend/internal/logger"
)

type Handlers struct {
	Upload *handlers.UploadHandler
}

func wireHandlers(log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Upload: handlers.NewUploadHandler(log, serviceset.Upload),
	}
}
