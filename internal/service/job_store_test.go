package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piaoju/internal/domain"
)

func storeDocs(names ...string) []*domain.RawDocument {
	var docs []*domain.RawDocument
	for _, n := range names {
		docs = append(docs, domain.NewRawDocument(n, "application/pdf", []byte("%PDF")))
	}
	return docs
}

func TestJobStore_EnqueueAndGet(t *testing.T) {
	store := NewJobStore()
	rec := store.Enqueue(storeDocs("a.pdf", "b.pdf"))

	assert.Equal(t, domain.BatchStateQueued, rec.State)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, rec.Filenames)

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = store.Get(uuid.New())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobStore_ClaimQueuedOldestFirst(t *testing.T) {
	store := NewJobStore()
	first := store.Enqueue(storeDocs("1.pdf"))
	second := store.Enqueue(storeDocs("2.pdf"))
	third := store.Enqueue(storeDocs("3.pdf"))

	claimed := store.ClaimQueued(2)
	require.Len(t, claimed, 2)
	assert.Equal(t, first.ID, claimed[0].ID)
	assert.Equal(t, second.ID, claimed[1].ID)
	assert.Equal(t, domain.BatchStateUploading, claimed[0].State)

	// A second claim only sees what is still queued.
	claimed = store.ClaimQueued(5)
	require.Len(t, claimed, 1)
	assert.Equal(t, third.ID, claimed[0].ID)

	assert.Empty(t, store.ClaimQueued(5))
}

func TestJobStore_ClaimIsAtomicUnderConcurrency(t *testing.T) {
	store := NewJobStore()
	for i := 0; i < 20; i++ {
		store.Enqueue(storeDocs("doc.pdf"))
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, rec := range store.ClaimQueued(5) {
				mu.Lock()
				seen[rec.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for id, n := range seen {
		assert.Equalf(t, 1, n, "batch %s claimed %d times", id, n)
	}
}

func TestJobStore_CompleteReleasesDocuments(t *testing.T) {
	store := NewJobStore()
	rec := store.Enqueue(storeDocs("a.pdf"))
	require.NotEmpty(t, store.Documents(rec.ID))

	results := []*domain.ExtractionResult{{Filename: "a.pdf", Status: domain.ResultStatusSuccess}}
	store.Complete(rec.ID, domain.BatchStateCompleted, results, "")

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStateCompleted, got.State)
	assert.Len(t, got.Results, 1)
	assert.Nil(t, store.Documents(rec.ID))
}

func TestJobStore_GetReturnsDetachedSnapshot(t *testing.T) {
	store := NewJobStore()
	rec := store.Enqueue(storeDocs("a.pdf"))

	before, err := store.Get(rec.ID)
	require.NoError(t, err)

	results := []*domain.ExtractionResult{{Filename: "a.pdf", Status: domain.ResultStatusSuccess}}
	store.SetArchiveKey(rec.ID, "archives/2026-08-31/x.zip")
	store.Complete(rec.ID, domain.BatchStateCompleted, results, "")

	// The view handed out earlier must not see the later mutation.
	assert.Equal(t, domain.BatchStateQueued, before.State)
	assert.Empty(t, before.Results)
	assert.Empty(t, before.ArchiveKey)

	after, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStateCompleted, after.State)
	assert.Equal(t, "archives/2026-08-31/x.zip", after.ArchiveKey)
}

func TestJobStore_GetSafeToSerializeDuringComplete(t *testing.T) {
	store := NewJobStore()
	rec := store.Enqueue(storeDocs("a.pdf"))
	store.ClaimQueued(1)

	results := []*domain.ExtractionResult{{Filename: "a.pdf", Status: domain.ResultStatusSuccess}}

	// A handler marshaling the record while the worker completes the
	// batch must never observe a partial write.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			got, err := store.Get(rec.ID)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := json.Marshal(got); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		store.Complete(rec.ID, domain.BatchStateCompleted, results, "")
	}()
	wg.Wait()
}

func TestBatchWorker_DrainsQueue(t *testing.T) {
	p := &scriptedProvider{
		texts: map[string]string{
			"a.pdf": "增值税电子普通发票 发票号码：88000123",
		},
	}
	orch := newTestOrchestrator(t, p)
	store := NewJobStore()
	worker := NewBatchWorker(store, orch, BatchWorkerConfig{
		PollInterval: 5 * time.Millisecond,
		Concurrency:  2,
		JobTimeout:   time.Second,
	})

	rec := store.Enqueue(storeDocs("a.pdf"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := store.Get(rec.ID)
		return err == nil && got.State.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	got, err := store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStateCompleted, got.State)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "88000123", got.Results[0].Fields["invoice_number"])
}
