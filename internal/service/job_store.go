package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"piaoju/internal/domain"
)

// BatchRecord tracks one submitted batch through the async pipeline.
// Results are attached once the batch reaches a terminal state.
type BatchRecord struct {
	ID        uuid.UUID                  `json:"id"`
	State     domain.BatchState          `json:"state"`
	CreatedAt time.Time                  `json:"created_at"`
	Filenames []string                   `json:"filenames"`
	Results   []*domain.ExtractionResult `json:"results,omitempty"`
	Error     string                     `json:"error,omitempty"`

	// ArchiveKey is set when the retained provider result bundle was
	// stored in object storage.
	ArchiveKey string `json:"archive_key,omitempty"`

	documents []*domain.RawDocument
}

// snapshot copies the exported fields while the caller holds the store
// lock. The worker keeps mutating the live record, so handlers must only
// ever see detached copies. Results are terminal once attached; sharing
// the element pointers is safe.
func (r *BatchRecord) snapshot() *BatchRecord {
	cp := &BatchRecord{
		ID:         r.ID,
		State:      r.State,
		CreatedAt:  r.CreatedAt,
		Filenames:  append([]string(nil), r.Filenames...),
		Error:      r.Error,
		ArchiveKey: r.ArchiveKey,
	}
	if r.Results != nil {
		cp.Results = append([]*domain.ExtractionResult(nil), r.Results...)
	}
	return cp
}

// JobStore is the in-memory registry of batch jobs. Invoices are never
// persisted here; records live for the lifetime of the process.
type JobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*BatchRecord
	// order preserves submission order for claim fairness.
	order []uuid.UUID
}

// NewJobStore creates an empty store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[uuid.UUID]*BatchRecord)}
}

// Enqueue registers a new batch in the Queued state and returns a
// detached view of it. The worker may claim the batch immediately, so the
// live record must never leave the store.
func (s *JobStore) Enqueue(docs []*domain.RawDocument) *BatchRecord {
	filenames := make([]string, len(docs))
	for i, d := range docs {
		filenames[i] = d.Filename
	}
	rec := &BatchRecord{
		ID:        uuid.New(),
		State:     domain.BatchStateQueued,
		CreatedAt: time.Now().UTC(),
		Filenames: filenames,
		documents: docs,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec.snapshot()
}

// ClaimQueued atomically claims up to limit queued batches for processing,
// oldest first, moving them to the Uploading state.
func (s *JobStore) ClaimQueued(limit int) []*BatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []*BatchRecord
	for _, id := range s.order {
		if len(claimed) >= limit {
			break
		}
		rec := s.jobs[id]
		if rec.State != domain.BatchStateQueued {
			continue
		}
		rec.State = domain.BatchStateUploading
		claimed = append(claimed, rec.snapshot())
	}
	return claimed
}

// Get returns a detached snapshot of a batch record. Callers may read and
// serialize it without holding the store lock.
func (s *JobStore) Get(id uuid.UUID) (*BatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return rec.snapshot(), nil
}

// Documents returns the raw documents held for a claimed batch.
func (s *JobStore) Documents(id uuid.UUID) []*domain.RawDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		return rec.documents
	}
	return nil
}

// SetArchiveKey records where the retained provider archive was stored.
func (s *JobStore) SetArchiveKey(id uuid.UUID, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		rec.ArchiveKey = key
	}
}

// DropArchiveKey clears the archive pointer after the object is deleted.
func (s *JobStore) DropArchiveKey(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.jobs[id]; ok {
		rec.ArchiveKey = ""
	}
}

// Complete attaches terminal results to a batch and releases the held
// document payloads.
func (s *JobStore) Complete(id uuid.UUID, state domain.BatchState, results []*domain.ExtractionResult, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}
	rec.State = state
	rec.Results = results
	rec.Error = errMsg
	rec.documents = nil
}
