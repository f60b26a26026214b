package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("resource not found")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrEmptyDocument       = errors.New("document payload is empty")
	ErrNoDocuments         = errors.New("batch contains no documents")
	ErrJobNotFound         = errors.New("batch job not found")
	ErrJobNotTerminal      = errors.New("batch job has not reached a terminal state")
	ErrArchiveNotFound     = errors.New("no retained archive for batch job")
	ErrOutcomeAlreadySet   = errors.New("document outcome already recorded")
)

// UploadError records a failed byte transfer for a single document.
type UploadError struct {
	DocumentID string
	Filename   string
	Err        error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("uploading %s (%s): %v", e.Filename, e.DocumentID, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// PollTimeoutError indicates the batch poll deadline elapsed before every
// document reached a terminal sub-state.
type PollTimeoutError struct {
	BatchID string
	Timeout time.Duration
	Pending int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("batch %s: poll timeout after %s with %d document(s) pending", e.BatchID, e.Timeout, e.Pending)
}

// ArchiveParseError is scoped to a single document inside a result bundle.
type ArchiveParseError struct {
	DocumentID string
	Entry      string
	Err        error
}

func (e *ArchiveParseError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("archive entry %s (document %s): %v", e.Entry, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("archive result for document %s: %v", e.DocumentID, e.Err)
}

func (e *ArchiveParseError) Unwrap() error {
	return e.Err
}
