package provider

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"piaoju/internal/domain"
)

// ArchiveEntry is the recognized content for one document in a result
// bundle.
type ArchiveEntry struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ParseArchive unpacks the provider's zip bundle. Entries are JSON files
// named after the provider-assigned document identifier. Malformed entries
// are reported per document, so one broken result never poisons the rest
// of the batch. The returned error is non-nil only when the archive itself
// is unreadable.
func ParseArchive(data []byte) (map[string]ArchiveEntry, map[string]*domain.ArchiveParseError, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("opening result archive: %w", err)
	}

	entries := make(map[string]ArchiveEntry)
	failures := make(map[string]*domain.ArchiveParseError)

	for _, f := range reader.File {
		name := path.Base(f.Name)
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		docID := strings.TrimSuffix(name, ".json")

		entry, parseErr := readEntry(f)
		if parseErr != nil {
			failures[docID] = &domain.ArchiveParseError{
				DocumentID: docID,
				Entry:      f.Name,
				Err:        parseErr,
			}
			continue
		}
		entries[docID] = *entry
	}
	return entries, failures, nil
}

func readEntry(f *zip.File) (*ArchiveEntry, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening entry: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}

	var entry ArchiveEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding entry: %w", err)
	}
	if entry.Text == "" {
		return nil, fmt.Errorf("entry has no recognized text")
	}
	return &entry, nil
}
