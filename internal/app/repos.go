package app

import (
	"gorm.io/gorm"

	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/repos"
)

type Repos struct {
	UploadJob       repos.UploadJobRepo
	UploadChunk     repos.UploadChunkRepo
	ProcessingError repos.ProcessingErrorRepo
	Store           repos.StoreRepo
	Product         repos.ProductRepo
	Invoice         repos.InvoiceRepo
	OrderLine       repos.OrderLineRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		UploadJob:       repos.NewUploadJobRepo(db, log),
		UploadChunk:     repos.NewUploadChunkRepo(db, log),
		ProcessingError: repos.NewProcessingErrorRepo(db, log),
		Store:           repos.NewStoreRepo(db, log),
		Product:         repos.NewProductRepo(db, log),
		Invoice:         repos.NewInvoiceRepo(db, log),
		OrderLine:       repos.NewOrderLineRepo(db, log),
	}
}
