package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RawDocument is an opaque document payload handed into the pipeline.
// It is owned by the caller and never mutated.
type RawDocument struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Bytes       []byte    `json:"-"`
}

// NewRawDocument wraps payload bytes with a fresh local identifier.
func NewRawDocument(filename, contentType string, payload []byte) *RawDocument {
	return &RawDocument{
		ID:          uuid.New(),
		Filename:    filename,
		ContentType: contentType,
		Bytes:       payload,
	}
}

// DocumentOutcome is the provider-side terminal sub-state recorded for one
// document. Recognized text travels separately in the result archive.
type DocumentOutcome struct {
	State DocumentState `json:"state"`
	Error string        `json:"error,omitempty"`
}

// BatchJob is a provider-side unit of work covering multiple documents.
// Outcome slots are write-once per document: the first recorded outcome
// sticks, so concurrent writers targeting different documents need no
// coordination beyond the slot map lock.
type BatchJob struct {
	ID        string         `json:"id"`
	State     BatchState     `json:"state"`
	Documents []*RawDocument `json:"documents"`
	CreatedAt time.Time      `json:"created_at"`

	// ProviderIDs maps each local document ID to the identifier the
	// provider assigned at slot allocation time.
	ProviderIDs map[uuid.UUID]string `json:"provider_ids"`

	// ArchiveKey points at the retained result bundle in object storage,
	// when retention is enabled and the upload succeeded.
	ArchiveKey string `json:"archive_key,omitempty"`

	mu       sync.Mutex
	outcomes map[uuid.UUID]*DocumentOutcome
}

// NewBatchJob creates a job in the Uploading state.
func NewBatchJob(docs []*RawDocument) *BatchJob {
	return &BatchJob{
		State:       BatchStateUploading,
		Documents:   docs,
		CreatedAt:   time.Now().UTC(),
		ProviderIDs: make(map[uuid.UUID]string, len(docs)),
		outcomes:    make(map[uuid.UUID]*DocumentOutcome, len(docs)),
	}
}

// SetOutcome records the terminal outcome for one document. Slots are
// write-once: a second write for the same document returns
// ErrOutcomeAlreadySet and leaves the first outcome intact.
func (j *BatchJob) SetOutcome(docID uuid.UUID, outcome DocumentOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.outcomes[docID]; ok {
		return ErrOutcomeAlreadySet
	}
	j.outcomes[docID] = &outcome
	return nil
}

// Outcome returns the recorded outcome for a document, if any.
func (j *BatchJob) Outcome(docID uuid.UUID) (*DocumentOutcome, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	o, ok := j.outcomes[docID]
	return o, ok
}

// OutcomeCount returns how many documents have a recorded outcome.
func (j *BatchJob) OutcomeCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.outcomes)
}

// Unresolved returns the documents that have no recorded outcome yet,
// in submission order.
func (j *BatchJob) Unresolved() []*RawDocument {
	j.mu.Lock()
	defer j.mu.Unlock()
	var pending []*RawDocument
	for _, d := range j.Documents {
		if _, ok := j.outcomes[d.ID]; !ok {
			pending = append(pending, d)
		}
	}
	return pending
}

// DocumentByProviderID resolves a provider-assigned identifier back to
// the submitted document.
func (j *BatchJob) DocumentByProviderID(providerID string) (*RawDocument, bool) {
	for _, d := range j.Documents {
		if j.ProviderIDs[d.ID] == providerID {
			return d, true
		}
	}
	return nil, false
}

// ExtractionResult is the terminal per-document output of the pipeline.
type ExtractionResult struct {
	DocumentID     uuid.UUID      `json:"document_id"`
	Filename       string         `json:"filename"`
	TemplateID     string         `json:"template_id"`
	Issuer         string         `json:"issuer,omitempty"`
	Fields         map[string]any `json:"fields"`
	MissingFields  []string       `json:"missing_fields,omitempty"`
	NormalizedText string         `json:"normalized_text,omitempty"`
	Status         ResultStatus   `json:"status"`
	Error          string         `json:"error,omitempty"`
	ExtractedAt    time.Time      `json:"extracted_at"`
}
