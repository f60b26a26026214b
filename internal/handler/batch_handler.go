package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"piaoju/internal/domain"
	"piaoju/internal/export"
	"piaoju/internal/port"
	"piaoju/internal/service"
)

// BatchHandler handles asynchronous batch extraction endpoints.
type BatchHandler struct {
	store       *service.JobStore
	maxFileSize int64

	archive       port.ObjectStorage
	archiveBucket string
}

// NewBatchHandler creates a new BatchHandler.
func NewBatchHandler(store *service.JobStore, maxFileSize int64) *BatchHandler {
	return &BatchHandler{store: store, maxFileSize: maxFileSize}
}

// WithArchiveStore enables the retained-archive endpoints, backed by the
// same object store the orchestrator retains bundles in.
func (h *BatchHandler) WithArchiveStore(store port.ObjectStorage, bucket string) *BatchHandler {
	h.archive = store
	h.archiveBucket = bucket
	return h
}

// Submit handles POST /api/v1/batches. It accepts a multipart form with
// one or more "files" parts, queues the batch, and returns 202 with the
// job id; the batch worker drives the provider pipeline.
func (h *BatchHandler) Submit(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", "multipart form with files is required")
		return
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		HandleError(c, domain.ErrNoDocuments)
		return
	}

	docs := make([]*domain.RawDocument, 0, len(parts))
	for _, header := range parts {
		file, err := header.Open()
		if err != nil {
			HandleError(c, domain.ErrEmptyDocument)
			return
		}
		doc, err := documentFromPart(file, header, h.maxFileSize)
		_ = file.Close()
		if err != nil {
			// Reject the whole submission up front: queued batches must
			// contain only payloads the provider can accept.
			HandleError(c, err)
			return
		}
		docs = append(docs, doc)
	}

	rec := h.store.Enqueue(docs)
	RespondAccepted(c, rec)
}

// Get handles GET /api/v1/batches/:id.
func (h *BatchHandler) Get(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	RespondOK(c, rec)
}

// Export handles GET /api/v1/batches/:id/export?format=csv|xlsx.
func (h *BatchHandler) Export(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	if !rec.State.Terminal() {
		HandleError(c, domain.ErrJobNotTerminal)
		return
	}

	switch c.DefaultQuery("format", "csv") {
	case "xlsx":
		data, err := export.ResultsXLSX(rec.Results)
		if err != nil {
			HandleError(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="results.xlsx"`)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	case "csv":
		c.Header("Content-Disposition", `attachment; filename="results.csv"`)
		c.Writer.Header().Set("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		_, _ = c.Writer.Write(export.BOM)
		w := export.NewWriter(c.Writer)
		if err := w.WriteHeader(); err == nil {
			_ = w.WriteResults(rec.Results)
		}
		w.Flush()
	default:
		RespondError(c, http.StatusBadRequest, "INVALID_FORMAT", "format must be csv or xlsx")
	}
}

// Archive handles GET /api/v1/batches/:id/archive. It streams the
// retained provider result bundle for a batch.
func (h *BatchHandler) Archive(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.archive == nil || rec.ArchiveKey == "" {
		HandleError(c, domain.ErrArchiveNotFound)
		return
	}
	data, err := h.archive.Download(c.Request.Context(), h.archiveBucket, rec.ArchiveKey)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="archive.zip"`)
	c.Data(http.StatusOK, "application/zip", data)
}

// DeleteArchive handles DELETE /api/v1/batches/:id/archive. It removes
// the retained bundle from object storage and clears the record's pointer.
func (h *BatchHandler) DeleteArchive(c *gin.Context) {
	rec, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.archive == nil || rec.ArchiveKey == "" {
		HandleError(c, domain.ErrArchiveNotFound)
		return
	}
	if err := h.archive.Delete(c.Request.Context(), h.archiveBucket, rec.ArchiveKey); err != nil {
		HandleError(c, err)
		return
	}
	h.store.DropArchiveKey(rec.ID)
	c.Status(http.StatusNoContent)
}

func (h *BatchHandler) lookup(c *gin.Context) (*service.BatchRecord, bool) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", "invalid batch job ID")
		return nil, false
	}
	rec, err := h.store.Get(jobID)
	if err != nil {
		HandleError(c, err)
		return nil, false
	}
	return rec, true
}
