package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mangalm/sales-backend/internal/ingest"
	"github.com/mangalm/sales-backend/internal/logger"
	"github.com/mangalm/sales-backend/internal/requestdata"
	"github.com/mangalm/sales-backend/internal/services"
	"github.com/mangalm/sales-backend/internal/types"
)

type UploadHandler struct {
	log           *logger.Logger
	uploadService services.UploadService
}

func NewUploadHandler(log *logger.Logger, usvc services.UploadService) *UploadHandler {
	return &UploadHandler{
		log:           log.With("handler", "UploadHandler"),
		uploadService: usvc,
	}
}

// POST /api/uploads
// Multipart file body; queues a bulk ingestion job.
func (h *UploadHandler) Submit(c *gin.Context) {
	callerID := callerFromContext(c)
	if callerID == uuid.Nil {
		RespondError(c, http.StatusForbidden, "forbidden", errors.New("missing caller identity"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer src.Close()

	job, err := h.uploadService.Submit(c.Request.Context(), callerID, fileHeader.Filename, src)
	if err != nil {
		var schemaErr *ingest.SchemaError
		var malformed *ingest.MalformedFileError
		switch {
		case errors.As(err, &schemaErr):
			RespondError(c, http.StatusUnprocessableEntity, "schema_error", err)
		case errors.As(err, &malformed):
			RespondError(c, http.StatusUnprocessableEntity, "malformed_file", err)
		default:
			h.log.Error("Submit failed", "error", err)
			RespondError(c, http.StatusInternalServerError, "submit_failed", err)
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"uploadId":  job.ID,
		"status":    job.Status,
		"totalRows": job.TotalRows,
	})
}

// GET /api/uploads
func (h *UploadHandler) List(c *gin.Context) {
	callerID := callerFromContext(c)
	limit, offset := pagination(c)
	jobs, err := h.uploadService.List(c.Request.Context(), callerID, limit, offset)
	if err != nil {
		h.log.Error("List failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"uploads": jobs})
}

// GET /api/uploads/:id/progress
// Safe to poll; counters are monotonic.
func (h *UploadHandler) Progress(c *gin.Context) {
	callerID := callerFromContext(c)
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	job, err := h.uploadService.Progress(c.Request.Context(), callerID, jobID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"status":        job.Status,
		"processedRows": job.ProcessedRows,
		"totalRows":     job.TotalRows,
		"successRows":   job.SuccessRows,
		"failedRows":    job.FailedRows,
		"duplicateRows": job.DuplicateRows,
	})
}

// GET /api/uploads/:id/errors?limit=&offset=
func (h *UploadHandler) Errors(c *gin.Context) {
	callerID := callerFromContext(c)
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	errs, total, err := h.uploadService.Errors(c.Request.Context(), callerID, jobID, limit, offset)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if errs == nil {
		errs = []*types.ProcessingError{}
	}
	RespondOK(c, gin.H{
		"errors": errs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// POST /api/uploads/:id/cancel
func (h *UploadHandler) Cancel(c *gin.Context) {
	callerID := callerFromContext(c)
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	job, err := h.uploadService.Cancel(c.Request.Context(), callerID, jobID)
	if err != nil {
		if errors.Is(err, services.ErrNotCancellable) {
			RespondError(c, http.StatusConflict, "not_cancellable", err)
			return
		}
		respondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"uploadId": job.ID, "status": job.Status})
}

func callerFromContext(c *gin.Context) uuid.UUID {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		return uuid.Nil
	}
	return rd.CallerID
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_upload_id", err)
		return uuid.Nil, false
	}
	return jobID, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, services.ErrNotOwner):
		RespondError(c, http.StatusForbidden, "forbidden", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
