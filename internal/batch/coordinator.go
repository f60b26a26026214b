// Package batch drives the provider-side lifecycle of a document batch:
// slot allocation, byte transfer, and completion polling.
package batch

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"piaoju/internal/domain"
	"piaoju/internal/port"
)

// Coordinator submits document batches to the OCR provider.
type Coordinator struct {
	provider  port.OCRProvider
	uploadFan int
}

// NewCoordinator creates a Coordinator. uploadFan bounds how many byte
// transfers run concurrently against the provider.
func NewCoordinator(provider port.OCRProvider, uploadFan int) *Coordinator {
	if uploadFan <= 0 {
		uploadFan = 4
	}
	return &Coordinator{provider: provider, uploadFan: uploadFan}
}

// Submit requests one upload slot per document in a single batched call,
// then transfers each document's bytes. A failed transfer is recorded in
// that document's outcome slot and never aborts the siblings. The returned
// job is in the Submitted state once every transfer has been attempted.
func (c *Coordinator) Submit(ctx context.Context, docs []*domain.RawDocument) (*domain.BatchJob, error) {
	if len(docs) == 0 {
		return nil, domain.ErrNoDocuments
	}

	job := domain.NewBatchJob(docs)

	files := make([]port.SlotRequest, len(docs))
	for i, d := range docs {
		files[i] = port.SlotRequest{Filename: d.Filename, Size: int64(len(d.Bytes))}
	}

	// One batched call; the provider's unit of work is the batch.
	alloc, err := c.provider.RequestUploadSlots(ctx, files)
	if err != nil {
		job.State = domain.BatchStateFailed
		return job, fmt.Errorf("allocating upload slots: %w", err)
	}
	job.ID = alloc.BatchID
	for i, d := range docs {
		job.ProviderIDs[d.ID] = alloc.Slots[i].DocumentID
	}

	zap.L().Info("batch slots allocated",
		zap.String("batch_id", job.ID),
		zap.Int("documents", len(docs)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.uploadFan)
	for i := range docs {
		doc, slot := docs[i], alloc.Slots[i]
		g.Go(func() error {
			if err := c.provider.UploadDocument(gctx, slot, doc.Bytes, doc.ContentType); err != nil {
				uploadErr := &domain.UploadError{
					DocumentID: slot.DocumentID,
					Filename:   doc.Filename,
					Err:        err,
				}
				zap.L().Warn("document upload failed",
					zap.String("batch_id", job.ID),
					zap.String("document_id", slot.DocumentID),
					zap.Error(err),
				)
				_ = job.SetOutcome(doc.ID, domain.DocumentOutcome{
					State: domain.DocumentStateFailed,
					Error: uploadErr.Error(),
				})
			}
			// Upload failures are per-document outcomes, not group errors.
			return nil
		})
	}
	_ = g.Wait()

	job.State = domain.BatchStateSubmitted
	return job, nil
}
