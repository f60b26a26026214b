// Package export renders extraction results as CSV and XLSX files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"piaoju/internal/domain"
)

// UTF-8 BOM bytes for Excel compatibility on Windows.
var BOM = []byte{0xEF, 0xBB, 0xBF}

// columns defines the CSV header row.
var columns = []string{
	"Filename",
	"Document ID",
	"Status",
	"Template",
	"Issuer",
	"Invoice Number",
	"Invoice Date",
	"Amount",
	"Tax",
	"Currency",
	"Missing Fields",
	"Other Fields",
	"Error",
	"Extracted At",
}

// wellKnownFields are extracted fields promoted to their own columns; the
// rest land in the Other Fields JSON column.
var wellKnownFields = map[string]int{
	"invoice_number": 5,
	"invoice_date":   6,
	"date":           6,
	"total_amount":   7,
	"amount":         7,
	"tax_amount":     8,
	"tax":            8,
	"currency":       9,
}

// Writer wraps csv.Writer for exporting extraction results as CSV.
type Writer struct {
	csv *csv.Writer
}

// NewWriter creates a Writer that writes CSV to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (w *Writer) WriteHeader() error {
	return w.csv.Write(columns)
}

// WriteResults converts extraction results to CSV rows and writes them.
func (w *Writer) WriteResults(results []*domain.ExtractionResult) error {
	for _, r := range results {
		if err := w.csv.Write(resultToRow(r)); err != nil {
			return err
		}
	}
	return nil
}

// Flush flushes the underlying csv.Writer buffer.
func (w *Writer) Flush() {
	w.csv.Flush()
}

// Error returns any error from the underlying csv.Writer.
func (w *Writer) Error() error {
	return w.csv.Error()
}

// resultToRow converts a single result to a row. Failed results carry
// their metadata and error with the value columns left empty.
func resultToRow(r *domain.ExtractionResult) []string {
	row := make([]string, len(columns))
	row[0] = r.Filename
	row[1] = r.DocumentID.String()
	row[2] = string(r.Status)
	row[3] = r.TemplateID
	row[4] = r.Issuer
	row[10] = strings.Join(r.MissingFields, ";")
	row[12] = r.Error
	row[13] = r.ExtractedAt.Format(time.RFC3339)

	other := make(map[string]any)
	for name, value := range r.Fields {
		if idx, ok := wellKnownFields[name]; ok {
			row[idx] = formatValue(value)
			continue
		}
		other[name] = value
	}
	if len(other) > 0 {
		if data, err := json.Marshal(other); err == nil {
			row[11] = string(data)
		}
	}
	return row
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.2f", t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprint(v)
	}
}
