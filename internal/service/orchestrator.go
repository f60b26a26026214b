package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"piaoju/internal/batch"
	"piaoju/internal/domain"
	"piaoju/internal/extract"
	"piaoju/internal/port"
	"piaoju/internal/provider"
	"piaoju/internal/template"
	"piaoju/internal/textnorm"
)

const defaultExtractFan = 8

// Orchestrator sequences the extraction pipeline: validate, normalize,
// select, extract for single documents, plus submit, poll, download, and
// parse for provider batches. Failure of one document at any stage only
// degrades that document's result; the siblings always proceed.
type Orchestrator struct {
	repo        *template.Repository
	coordinator *batch.Coordinator
	poller      *batch.Poller
	ocr         port.OCRProvider
	extractFan  int

	// Optional archive retention for debugging provider results.
	archiveStore  port.ObjectStorage
	archiveBucket string
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(repo *template.Repository, ocr port.OCRProvider, pollCfg batch.PollConfig, uploadFan, extractFan int) *Orchestrator {
	if extractFan <= 0 {
		extractFan = defaultExtractFan
	}
	return &Orchestrator{
		repo:        repo,
		coordinator: batch.NewCoordinator(ocr, uploadFan),
		poller:      batch.NewPoller(ocr, pollCfg),
		ocr:         ocr,
		extractFan:  extractFan,
	}
}

// WithArchiveRetention stores downloaded result bundles in object storage.
func (o *Orchestrator) WithArchiveRetention(store port.ObjectStorage, bucket string) *Orchestrator {
	o.archiveStore = store
	o.archiveBucket = bucket
	return o
}

// ValidateDocument rejects payloads the pipeline cannot process.
func ValidateDocument(doc *domain.RawDocument, maxSize int64) error {
	if len(doc.Bytes) == 0 {
		return domain.ErrEmptyDocument
	}
	if maxSize > 0 && int64(len(doc.Bytes)) > maxSize {
		return domain.ErrFileTooLarge
	}
	if doc.ContentType == "text/plain" {
		return nil
	}
	if _, ok := domain.AllowedContentTypes[doc.ContentType]; !ok {
		return domain.ErrUnsupportedFileType
	}
	return nil
}

// ExtractSingle runs the local pipeline over a document whose payload is
// already text: normalize, select a template, extract fields.
func (o *Orchestrator) ExtractSingle(ctx context.Context, doc *domain.RawDocument) *domain.ExtractionResult {
	if err := ValidateDocument(doc, 0); err != nil {
		return failedResult(doc, fmt.Sprintf("validating document: %v", err))
	}
	return o.extractFromText(doc, string(doc.Bytes))
}

// ExtractBatch submits documents to the OCR provider, awaits completion,
// unpacks the result archive, and extracts fields from every recognized
// text. Every submitted document yields exactly one terminal result.
func (o *Orchestrator) ExtractBatch(ctx context.Context, docs []*domain.RawDocument) ([]*domain.ExtractionResult, *domain.BatchJob, error) {
	if len(docs) == 0 {
		return nil, nil, domain.ErrNoDocuments
	}

	job, err := o.coordinator.Submit(ctx, docs)
	if err != nil {
		// Slot allocation failed before any per-document work started;
		// every document still gets a terminal result.
		results := make([]*domain.ExtractionResult, len(docs))
		for i, d := range docs {
			results[i] = failedResult(d, fmt.Sprintf("submitting batch: %v", err))
		}
		return results, job, nil
	}

	status, pollErr := o.poller.AwaitCompletion(ctx, job)
	if pollErr != nil {
		zap.L().Warn("batch did not complete in time",
			zap.String("batch_id", job.ID),
			zap.Error(pollErr),
		)
	}

	entries, archiveFailures := o.fetchArchive(ctx, job, status)
	results := o.assembleResults(ctx, job, entries, archiveFailures)
	return results, job, nil
}

// fetchArchive downloads and unpacks the result bundle, if one is ready.
func (o *Orchestrator) fetchArchive(ctx context.Context, job *domain.BatchJob, status *port.BatchStatus) (map[string]provider.ArchiveEntry, map[string]*domain.ArchiveParseError) {
	if status == nil || status.ArchiveURL == "" {
		return nil, nil
	}

	data, err := o.ocr.DownloadArchive(ctx, status.ArchiveURL)
	if err != nil {
		zap.L().Error("archive download failed",
			zap.String("batch_id", job.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	o.retainArchive(ctx, job, data)

	entries, failures, err := provider.ParseArchive(data)
	if err != nil {
		zap.L().Error("archive unreadable",
			zap.String("batch_id", job.ID),
			zap.Error(err),
		)
		return nil, nil
	}
	return entries, failures
}

func (o *Orchestrator) retainArchive(ctx context.Context, job *domain.BatchJob, data []byte) {
	if o.archiveStore == nil {
		return
	}
	key := fmt.Sprintf("archives/%s/%s.zip", time.Now().UTC().Format("2006-01-02"), job.ID)
	if err := o.archiveStore.Upload(ctx, o.archiveBucket, key, data, "application/zip"); err != nil {
		zap.L().Warn("archive retention failed",
			zap.String("batch_id", job.ID),
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	job.ArchiveKey = key
}

// assembleResults produces exactly one terminal result per submitted
// document, fanning the CPU-bound extraction work out across a bounded
// worker group. Templates are immutable and each document's state is
// independent, so the fan-out needs no locking.
func (o *Orchestrator) assembleResults(ctx context.Context, job *domain.BatchJob, entries map[string]provider.ArchiveEntry, archiveFailures map[string]*domain.ArchiveParseError) []*domain.ExtractionResult {
	results := make([]*domain.ExtractionResult, len(job.Documents))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(o.extractFan)
	for i := range job.Documents {
		i, doc := i, job.Documents[i]
		g.Go(func() error {
			results[i] = o.resolveDocument(job, doc, entries, archiveFailures)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) resolveDocument(job *domain.BatchJob, doc *domain.RawDocument, entries map[string]provider.ArchiveEntry, archiveFailures map[string]*domain.ArchiveParseError) *domain.ExtractionResult {
	outcome, ok := job.Outcome(doc.ID)
	if !ok {
		// No terminal provider sub-state: the batch timed out under this
		// document.
		return failedResult(doc, fmt.Sprintf("batch %s timed out before recognition finished", job.ID))
	}
	if outcome.State == domain.DocumentStateFailed {
		return failedResult(doc, outcome.Error)
	}

	providerID := job.ProviderIDs[doc.ID]
	if archiveErr, found := archiveFailures[providerID]; found {
		return failedResult(doc, archiveErr.Error())
	}
	entry, found := entries[providerID]
	if !found {
		missing := &domain.ArchiveParseError{
			DocumentID: providerID,
			Err:        domain.ErrNotFound,
		}
		return failedResult(doc, missing.Error())
	}

	return o.extractFromText(doc, entry.Text)
}

// extractFromText is the shared local pipeline: normalize for selection,
// select a template, re-normalize under the template's own options, then
// extract typed fields.
func (o *Orchestrator) extractFromText(doc *domain.RawDocument, text string) *domain.ExtractionResult {
	selectionText := textnorm.Normalize(text, template.ExtractionOptions{})
	tpl := template.Select(selectionText, o.repo.All())

	extractionText := textnorm.Normalize(text, tpl.Options)
	fields, missing := extract.Extract(extractionText, tpl)

	status := domain.ResultStatusSuccess
	if tpl.ID == template.FallbackID || len(missing) > 0 {
		status = domain.ResultStatusPartial
	}

	return &domain.ExtractionResult{
		DocumentID:     doc.ID,
		Filename:       doc.Filename,
		TemplateID:     tpl.ID,
		Issuer:         tpl.Issuer,
		Fields:         fields,
		MissingFields:  missing,
		NormalizedText: extractionText,
		Status:         status,
		ExtractedAt:    time.Now().UTC(),
	}
}

func failedResult(doc *domain.RawDocument, msg string) *domain.ExtractionResult {
	return &domain.ExtractionResult{
		DocumentID:  doc.ID,
		Filename:    doc.Filename,
		Fields:      map[string]any{},
		Status:      domain.ResultStatusFailed,
		Error:       msg,
		ExtractedAt: time.Now().UTC(),
	}
}
