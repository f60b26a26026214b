package port

import (
	"context"

	"piaoju/internal/domain"
)

// SlotRequest describes one document in a batched upload-slot request.
type SlotRequest struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// UploadSlot is one presigned upload target returned by the provider.
type UploadSlot struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	UploadURL  string `json:"upload_url"`
}

// SlotAllocation is the provider's answer to a batched slot request.
type SlotAllocation struct {
	BatchID string       `json:"batch_id"`
	Slots   []UploadSlot `json:"uploads"`
}

// DocumentStatus is the per-document state in a poll response.
type DocumentStatus struct {
	DocumentID string               `json:"document_id"`
	State      domain.DocumentState `json:"state"`
	Error      string               `json:"error,omitempty"`
}

// BatchStatus is one poll response. ArchiveURL is set once every document
// has reached a terminal sub-state and the result bundle is ready.
type BatchStatus struct {
	BatchID    string           `json:"batch_id"`
	Documents  []DocumentStatus `json:"documents"`
	ArchiveURL string           `json:"archive_url,omitempty"`
}

// OCRProvider abstracts the external recognition service: allocate upload
// slots in one batched call, transfer bytes, poll for completion, download
// the result archive.
type OCRProvider interface {
	RequestUploadSlots(ctx context.Context, files []SlotRequest) (*SlotAllocation, error)
	UploadDocument(ctx context.Context, slot UploadSlot, payload []byte, contentType string) error
	PollBatch(ctx context.Context, batchID string) (*BatchStatus, error)
	DownloadArchive(ctx context.Context, archiveURL string) ([]byte, error)
}
