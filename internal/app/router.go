package app

import (
	"github.com/gin-gonic/gin"

	"github.com/mangalm/sales-backend/internal/server"
)

func wireRouter(handlerset Handlers, mw Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		AuthMiddleware: mw.Auth,
		UploadHandler:  handlerset.Upload,
	})
}
