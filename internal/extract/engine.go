// Package extract applies a template's field extractors to normalized text.
package extract

import (
	"strconv"
	"strings"
	"time"

	"piaoju/internal/template"
	"piaoju/internal/textnorm"
)

// Extract runs every field extractor of the template against text and
// returns the typed values plus the names of fields that produced no
// value. Fields are independent: a miss or a malformed value in one field
// never prevents extraction of the others, which is what keeps noisy OCR
// text partially useful.
func Extract(text string, tpl *template.ExtractionTemplate) (map[string]any, []string) {
	fields := make(map[string]any, len(tpl.Fields))
	var missing []string

	for i := range tpl.Fields {
		fe := &tpl.Fields[i]
		value, ok := extractField(text, fe, &tpl.Options)
		if !ok {
			missing = append(missing, fe.Name)
			continue
		}
		fields[fe.Name] = value
	}
	return fields, missing
}

func extractField(text string, fe *template.FieldExtractor, opts *template.ExtractionOptions) (any, bool) {
	if fe.Repeating {
		return extractRepeating(text, fe, opts)
	}

	for _, re := range fe.Patterns {
		m := re.FindStringSubmatch(text)
		if m == nil || fe.Group >= len(m) {
			continue
		}
		value, ok := coerce(applyTransforms(m[fe.Group], fe.Transforms), fe.Type, opts)
		if !ok {
			// Malformed value counts as a miss, never an error.
			continue
		}
		return value, true
	}
	return nil, false
}

// extractRepeating applies patterns in find-all mode. The first pattern
// that yields at least one well-formed value wins and produces the ordered
// sequence of all its matches.
func extractRepeating(text string, fe *template.FieldExtractor, opts *template.ExtractionOptions) (any, bool) {
	for _, re := range fe.Patterns {
		matches := re.FindAllStringSubmatch(text, -1)
		if matches == nil {
			continue
		}
		values := make([]any, 0, len(matches))
		for _, m := range matches {
			if fe.Group >= len(m) {
				continue
			}
			value, ok := coerce(applyTransforms(m[fe.Group], fe.Transforms), fe.Type, opts)
			if !ok {
				continue
			}
			values = append(values, value)
		}
		if len(values) > 0 {
			return values, true
		}
	}
	return nil, false
}

func applyTransforms(raw string, transforms []string) string {
	for _, tr := range transforms {
		switch tr {
		case template.TransformLowercase:
			raw = strings.ToLower(raw)
		case template.TransformStripAccents:
			raw = textnorm.StripAccents(raw)
		case template.TransformTrim:
			raw = strings.TrimSpace(raw)
		}
	}
	return raw
}

func coerce(raw string, ftype template.FieldType, opts *template.ExtractionOptions) (any, bool) {
	switch ftype {
	case template.FieldTypeFloat:
		return parseAmount(raw, opts.DecimalSeparator)
	case template.FieldTypeDate:
		return parseDate(raw, opts.DateFormats)
	default:
		return raw, true
	}
}

// parseAmount strips the thousands separator implied by the declared
// decimal separator, normalizes the decimal separator to '.', and parses.
func parseAmount(raw, decimalSep string) (any, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}

	switch decimalSep {
	case ",":
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

func parseDate(raw string, layouts []string) (any, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return nil, false
}
