package handler

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"piaoju/internal/domain"
	"piaoju/internal/service"
)

// ExtractHandler handles synchronous single-document extraction.
type ExtractHandler struct {
	orch        *service.Orchestrator
	maxFileSize int64
}

// NewExtractHandler creates a new ExtractHandler.
func NewExtractHandler(orch *service.Orchestrator, maxFileSize int64) *ExtractHandler {
	return &ExtractHandler{orch: orch, maxFileSize: maxFileSize}
}

// Extract handles POST /api/v1/extract. The uploaded payload must carry a
// text layer; image formats go through the batch path instead.
func (h *ExtractHandler) Extract(c *gin.Context) {
	doc, err := readDocument(c, "file", h.maxFileSize)
	if err != nil {
		HandleError(c, err)
		return
	}

	result := h.orch.ExtractSingle(c.Request.Context(), doc)
	RespondOK(c, result)
}

// readDocument pulls one multipart file field into a RawDocument.
func readDocument(c *gin.Context, field string, maxSize int64) (*domain.RawDocument, error) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		return nil, domain.ErrEmptyDocument
	}
	defer func() { _ = file.Close() }()
	return documentFromPart(file, header, maxSize)
}

func documentFromPart(file multipart.File, header *multipart.FileHeader, maxSize int64) (*domain.RawDocument, error) {
	if maxSize > 0 && header.Size > maxSize {
		return nil, domain.ErrFileTooLarge
	}
	payload, err := io.ReadAll(file)
	if err != nil {
		return nil, domain.ErrEmptyDocument
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(payload)
	}

	doc := domain.NewRawDocument(header.Filename, contentType, payload)
	if err := service.ValidateDocument(doc, maxSize); err != nil {
		return nil, err
	}
	return doc, nil
}
