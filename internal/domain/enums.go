package domain

// FileType represents the allowed document file types.
type FileType string

const (
	FileTypePDF FileType = "pdf"
	FileTypeJPG FileType = "jpg"
	FileTypePNG FileType = "png"
)

// AllowedContentTypes maps MIME content types to their FileType. Plain
// text is handled separately: it skips the provider entirely.
var AllowedContentTypes = map[string]FileType{
	"application/pdf": FileTypePDF,
	"image/jpeg":      FileTypeJPG,
	"image/png":       FileTypePNG,
}

// BatchState represents the lifecycle of a provider batch job.
type BatchState string

const (
	BatchStateQueued             BatchState = "queued"
	BatchStateUploading          BatchState = "uploading"
	BatchStateSubmitted          BatchState = "submitted"
	BatchStatePolling            BatchState = "polling"
	BatchStateCompleted          BatchState = "completed"
	BatchStatePartiallyCompleted BatchState = "partially_completed"
	BatchStateTimedOut           BatchState = "timed_out"
	BatchStateFailed             BatchState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s BatchState) Terminal() bool {
	switch s {
	case BatchStateCompleted, BatchStatePartiallyCompleted, BatchStateTimedOut, BatchStateFailed:
		return true
	}
	return false
}

// DocumentState is the provider-reported sub-state of one document in a batch.
type DocumentState string

const (
	DocumentStatePending DocumentState = "pending"
	DocumentStateDone    DocumentState = "done"
	DocumentStateFailed  DocumentState = "failed"
)

// ResultStatus is the terminal status of a single document's extraction.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusPartial ResultStatus = "partial"
	ResultStatusFailed  ResultStatus = "failed"
)
