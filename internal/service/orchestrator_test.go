package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piaoju/internal/batch"
	"piaoju/internal/domain"
	"piaoju/internal/port"
	"piaoju/internal/template"
)

type mapSource map[string]json.RawMessage

func (s mapSource) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	return s, nil
}

func testRepo(t *testing.T) *template.Repository {
	t.Helper()
	repo, err := template.Load(context.Background(), mapSource{
		"cn_vat_special_electronic": json.RawMessage(`{
			"issuer": "增值税电子专用发票", "priority": 185,
			"keywords": ["电子专用发票"],
			"options": {"date_formats": ["2006年01月02日"], "remove_whitespace": true},
			"fields": {
				"invoice_number": {"parser": "regex", "regex": "发票号码[：:]*(\\d{8,20})", "type": "string"},
				"invoice_date": {"parser": "regex", "regex": "开票日期[：:]*(\\d{4}年\\d{2}月\\d{2}日)", "type": "date"},
				"total_amount": {"parser": "regex", "regex": "\\(小写\\)[¥￥]?([0-9,]+\\.\\d{2})", "type": "float"}
			}
		}`),
		"cn_vat_general_electronic": json.RawMessage(`{
			"issuer": "增值税电子普通发票", "priority": 120,
			"keywords": ["增值税电子"],
			"options": {"remove_whitespace": true},
			"fields": {
				"invoice_number": {"parser": "regex", "regex": "发票号码[：:]*(\\d{8,20})", "type": "string"}
			}
		}`),
	})
	require.NoError(t, err)
	return repo
}

// scriptedProvider runs the full provider cycle in memory. Document text
// is served from the archive by provider-assigned identifier.
type scriptedProvider struct {
	texts       map[string]string // filename -> recognized text
	failUploads map[string]bool   // filename -> refuse bytes
	failDocs    map[string]string // filename -> provider-side failure message
	brokenJSON  map[string]bool   // filename -> corrupt archive entry
	allocErr    error
}

func (p *scriptedProvider) RequestUploadSlots(ctx context.Context, files []port.SlotRequest) (*port.SlotAllocation, error) {
	if p.allocErr != nil {
		return nil, p.allocErr
	}
	alloc := &port.SlotAllocation{BatchID: "batch-x"}
	for _, f := range files {
		alloc.Slots = append(alloc.Slots, port.UploadSlot{
			DocumentID: "remote-" + f.Filename,
			Filename:   f.Filename,
			UploadURL:  "https://up/" + f.Filename,
		})
	}
	return alloc, nil
}

func (p *scriptedProvider) UploadDocument(ctx context.Context, slot port.UploadSlot, payload []byte, contentType string) error {
	if p.failUploads[slot.Filename] {
		return errors.New("connection reset by peer")
	}
	return nil
}

func (p *scriptedProvider) PollBatch(ctx context.Context, batchID string) (*port.BatchStatus, error) {
	status := &port.BatchStatus{BatchID: batchID, ArchiveURL: "https://dl/" + batchID + ".zip"}
	for name := range p.texts {
		ds := port.DocumentStatus{DocumentID: "remote-" + name, State: domain.DocumentStateDone}
		if msg, failed := p.failDocs[name]; failed {
			ds.State = domain.DocumentStateFailed
			ds.Error = msg
		}
		if p.failUploads[name] {
			continue
		}
		status.Documents = append(status.Documents, ds)
	}
	return status, nil
}

func (p *scriptedProvider) DownloadArchive(ctx context.Context, archiveURL string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, text := range p.texts {
		if p.failUploads[name] {
			continue
		}
		if _, failed := p.failDocs[name]; failed {
			continue
		}
		f, err := w.Create("remote-" + name + ".json")
		if err != nil {
			return nil, err
		}
		if p.brokenJSON[name] {
			_, _ = f.Write([]byte("{broken"))
			continue
		}
		entry, _ := json.Marshal(map[string]string{"text": text})
		_, _ = f.Write(entry)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fastPoll() batch.PollConfig {
	return batch.PollConfig{
		InitialInterval: time.Millisecond,
		BackoffFactor:   2,
		MaxInterval:     5 * time.Millisecond,
		Timeout:         time.Second,
	}
}

func newTestOrchestrator(t *testing.T, p port.OCRProvider) *Orchestrator {
	t.Helper()
	return NewOrchestrator(testRepo(t), p, fastPoll(), 2, 2)
}

func TestValidateDocument(t *testing.T) {
	pdf := domain.NewRawDocument("a.pdf", "application/pdf", []byte("%PDF"))
	assert.NoError(t, ValidateDocument(pdf, 0))

	empty := domain.NewRawDocument("a.pdf", "application/pdf", nil)
	assert.ErrorIs(t, ValidateDocument(empty, 0), domain.ErrEmptyDocument)

	big := domain.NewRawDocument("a.pdf", "application/pdf", bytes.Repeat([]byte("x"), 100))
	assert.ErrorIs(t, ValidateDocument(big, 50), domain.ErrFileTooLarge)

	exe := domain.NewRawDocument("a.exe", "application/octet-stream", []byte("MZ"))
	assert.ErrorIs(t, ValidateDocument(exe, 0), domain.ErrUnsupportedFileType)

	txt := domain.NewRawDocument("a.txt", "text/plain", []byte("text"))
	assert.NoError(t, ValidateDocument(txt, 0))
}

func TestExtractSingle_SelectsHigherPriorityTemplate(t *testing.T) {
	orch := newTestOrchestrator(t, &scriptedProvider{})

	text := "增值税电子专用发票 发票号码：25339087 开票日期：2023年08月15日 价税合计（小写）￥1,234.50"
	doc := domain.NewRawDocument("invoice.txt", "text/plain", []byte(text))

	res := orch.ExtractSingle(context.Background(), doc)
	assert.Equal(t, "cn_vat_special_electronic", res.TemplateID)
	assert.Equal(t, domain.ResultStatusSuccess, res.Status)
	assert.Equal(t, "25339087", res.Fields["invoice_number"])
	assert.Equal(t, 1234.50, res.Fields["total_amount"])
	assert.Equal(t, time.Date(2023, 8, 15, 0, 0, 0, 0, time.UTC), res.Fields["invoice_date"])
}

func TestExtractSingle_VerticalLabelsRepairedBeforeSelection(t *testing.T) {
	orch := newTestOrchestrator(t, &scriptedProvider{})

	text := "增值税电子专用发票\n发\n票\n号\n码：25339087\n开\n票\n日\n期：2023年08月15日"
	doc := domain.NewRawDocument("invoice.txt", "text/plain", []byte(text))

	res := orch.ExtractSingle(context.Background(), doc)
	assert.Equal(t, "cn_vat_special_electronic", res.TemplateID)
	assert.Equal(t, "25339087", res.Fields["invoice_number"])
}

func TestExtractSingle_UnmatchedDocumentIsPartialNotError(t *testing.T) {
	orch := newTestOrchestrator(t, &scriptedProvider{})

	doc := domain.NewRawDocument("memo.txt", "text/plain", []byte("an unrelated memo"))
	res := orch.ExtractSingle(context.Background(), doc)

	assert.Equal(t, template.FallbackID, res.TemplateID)
	assert.Equal(t, domain.ResultStatusPartial, res.Status)
	assert.Empty(t, res.Fields)
	assert.Empty(t, res.Error)
}

func TestExtractBatch_EndToEnd(t *testing.T) {
	p := &scriptedProvider{
		texts: map[string]string{
			"special.pdf": "增值税电子专用发票 发票号码：25339087 开票日期：2023年08月15日 价税合计（小写）￥1,234.50",
			"general.pdf": "增值税电子普通发票 发票号码：88000123",
		},
	}
	orch := newTestOrchestrator(t, p)

	docs := []*domain.RawDocument{
		domain.NewRawDocument("special.pdf", "application/pdf", []byte("%PDF-1")),
		domain.NewRawDocument("general.pdf", "application/pdf", []byte("%PDF-2")),
	}

	results, job, err := orch.ExtractBatch(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, domain.BatchStateCompleted, job.State)

	assert.Equal(t, "cn_vat_special_electronic", results[0].TemplateID)
	assert.Equal(t, "25339087", results[0].Fields["invoice_number"])
	assert.Equal(t, "cn_vat_general_electronic", results[1].TemplateID)
	assert.Equal(t, "88000123", results[1].Fields["invoice_number"])
}

// recordingStorage is an in-memory object store for retention tests.
type recordingStorage struct {
	objects   map[string][]byte
	uploadErr error
}

func (r *recordingStorage) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if r.uploadErr != nil {
		return r.uploadErr
	}
	r.objects[bucket+"/"+key] = data
	return nil
}

func (r *recordingStorage) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	data, ok := r.objects[bucket+"/"+key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (r *recordingStorage) Delete(ctx context.Context, bucket, key string) error {
	delete(r.objects, bucket+"/"+key)
	return nil
}

func TestExtractBatch_RetainsArchive(t *testing.T) {
	p := &scriptedProvider{
		texts: map[string]string{"general.pdf": "增值税电子普通发票 发票号码：88000123"},
	}
	store := &recordingStorage{objects: make(map[string][]byte)}
	orch := newTestOrchestrator(t, p).WithArchiveRetention(store, "retained")

	docs := []*domain.RawDocument{
		domain.NewRawDocument("general.pdf", "application/pdf", []byte("%PDF")),
	}
	_, job, err := orch.ExtractBatch(context.Background(), docs)
	require.NoError(t, err)
	require.NotEmpty(t, job.ArchiveKey)

	data, err := store.Download(context.Background(), "retained", job.ArchiveKey)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestExtractBatch_RetentionFailureKeepsResults(t *testing.T) {
	p := &scriptedProvider{
		texts: map[string]string{"general.pdf": "增值税电子普通发票 发票号码：88000123"},
	}
	store := &recordingStorage{objects: make(map[string][]byte), uploadErr: errors.New("bucket gone")}
	orch := newTestOrchestrator(t, p).WithArchiveRetention(store, "retained")

	docs := []*domain.RawDocument{
		domain.NewRawDocument("general.pdf", "application/pdf", []byte("%PDF")),
	}
	results, job, err := orch.ExtractBatch(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.ResultStatusSuccess, results[0].Status)
	assert.Empty(t, job.ArchiveKey)
}

func TestExtractBatch_EmptyBatch(t *testing.T) {
	orch := newTestOrchestrator(t, &scriptedProvider{})
	_, _, err := orch.ExtractBatch(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrNoDocuments)
}

func TestExtractBatch_SlotAllocationFailureStillYieldsAllResults(t *testing.T) {
	p := &scriptedProvider{allocErr: errors.New("provider down")}
	orch := newTestOrchestrator(t, p)

	docs := []*domain.RawDocument{
		domain.NewRawDocument("a.pdf", "application/pdf", []byte("%PDF")),
		domain.NewRawDocument("b.pdf", "application/pdf", []byte("%PDF")),
	}
	results, job, err := orch.ExtractBatch(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, domain.BatchStateFailed, job.State)
	for _, r := range results {
		assert.Equal(t, domain.ResultStatusFailed, r.Status)
		assert.Contains(t, r.Error, "provider down")
	}
}

func TestExtractBatch_PerDocumentFaultIsolation(t *testing.T) {
	p := &scriptedProvider{
		texts: map[string]string{
			"good.pdf":     "增值税电子专用发票 发票号码：25339087 开票日期：2023年08月15日 价税合计（小写）￥1,234.50",
			"noupload.pdf": "never uploaded",
			"rejected.pdf": "provider rejects this",
			"broken.pdf":   "archive entry corrupt",
		},
		failUploads: map[string]bool{"noupload.pdf": true},
		failDocs:    map[string]string{"rejected.pdf": "unreadable scan"},
		brokenJSON:  map[string]bool{"broken.pdf": true},
	}
	orch := newTestOrchestrator(t, p)

	docs := []*domain.RawDocument{
		domain.NewRawDocument("good.pdf", "application/pdf", []byte("%PDF")),
		domain.NewRawDocument("noupload.pdf", "application/pdf", []byte("%PDF")),
		domain.NewRawDocument("rejected.pdf", "application/pdf", []byte("%PDF")),
		domain.NewRawDocument("broken.pdf", "application/pdf", []byte("%PDF")),
	}

	results, job, err := orch.ExtractBatch(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, domain.BatchStatePartiallyCompleted, job.State)

	assert.Equal(t, domain.ResultStatusSuccess, results[0].Status)

	assert.Equal(t, domain.ResultStatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "noupload.pdf")

	assert.Equal(t, domain.ResultStatusFailed, results[2].Status)
	assert.Contains(t, results[2].Error, "unreadable scan")

	assert.Equal(t, domain.ResultStatusFailed, results[3].Status)
	assert.Contains(t, results[3].Error, "remote-broken.pdf")
}

func TestExtractBatch_TimeoutYieldsFailedResults(t *testing.T) {
	// A provider that never finishes: every poll reports pending.
	p := &pendingProvider{}
	cfg := batch.PollConfig{
		InitialInterval: time.Millisecond,
		BackoffFactor:   2,
		MaxInterval:     2 * time.Millisecond,
		Timeout:         10 * time.Millisecond,
	}
	orch := NewOrchestrator(testRepo(t), p, cfg, 2, 2)

	docs := []*domain.RawDocument{
		domain.NewRawDocument("slow.pdf", "application/pdf", []byte("%PDF")),
	}
	results, job, err := orch.ExtractBatch(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, domain.BatchStateTimedOut, job.State)
	assert.Equal(t, domain.ResultStatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "timed out")
}

type pendingProvider struct{}

func (p *pendingProvider) RequestUploadSlots(ctx context.Context, files []port.SlotRequest) (*port.SlotAllocation, error) {
	alloc := &port.SlotAllocation{BatchID: "batch-slow"}
	for _, f := range files {
		alloc.Slots = append(alloc.Slots, port.UploadSlot{DocumentID: "remote-" + f.Filename})
	}
	return alloc, nil
}

func (p *pendingProvider) UploadDocument(ctx context.Context, slot port.UploadSlot, payload []byte, contentType string) error {
	return nil
}

func (p *pendingProvider) PollBatch(ctx context.Context, batchID string) (*port.BatchStatus, error) {
	return &port.BatchStatus{BatchID: batchID, Documents: []port.DocumentStatus{
		{DocumentID: "remote-slow.pdf", State: domain.DocumentStatePending},
	}}, nil
}

func (p *pendingProvider) DownloadArchive(ctx context.Context, archiveURL string) ([]byte, error) {
	return nil, errors.New("not ready")
}
