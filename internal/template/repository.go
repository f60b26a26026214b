package template

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"piaoju/internal/port"
)

// FallbackID is the sentinel identifier of the built-in fallback template.
const FallbackID = "generic"

// Fallback is the keyword-less, lowest-priority template selected when no
// declared template matches. It carries no field extractors, so an
// unmatched document yields a partial result instead of an error.
var Fallback = &ExtractionTemplate{
	ID:       FallbackID,
	Issuer:   "Generic document",
	Priority: math.MinInt32,
	Options:  ExtractionOptions{DecimalSeparator: "."},
}

// Repository holds all compiled templates. It is populated once by Load
// and read-only afterwards, so it is safe to share across goroutines.
type Repository struct {
	byID    map[string]*ExtractionTemplate
	ordered []*ExtractionTemplate
}

// Load reads every definition out of the source, validates it against the
// embedded schema, and compiles it. Any invalid definition fails the whole
// load: templates fail at startup, never mid-extraction.
func Load(ctx context.Context, source port.TemplateSource) (*Repository, error) {
	raw, err := source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading template definitions: %w", err)
	}

	byID := make(map[string]*ExtractionTemplate, len(raw))
	for id, data := range raw {
		if err := ValidateDefinition(data); err != nil {
			return nil, fmt.Errorf("template %s: %w", id, err)
		}
		var def Definition
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("template %s: decoding definition: %w", id, err)
		}
		tpl, err := Compile(id, &def)
		if err != nil {
			return nil, err
		}
		byID[id] = tpl
	}

	ordered := make([]*ExtractionTemplate, 0, len(byID))
	for _, tpl := range byID {
		ordered = append(ordered, tpl)
	}
	// Descending priority, ascending identifier on ties. This ordering is
	// what makes template selection deterministic.
	sort.Slice(ordered, func(i, k int) bool {
		if ordered[i].Priority != ordered[k].Priority {
			return ordered[i].Priority > ordered[k].Priority
		}
		return ordered[i].ID < ordered[k].ID
	})

	return &Repository{byID: byID, ordered: ordered}, nil
}

// All returns every template ordered by descending priority with a stable
// lexicographic tie-break on identifier.
func (r *Repository) All() []*ExtractionTemplate {
	return r.ordered
}

// Get returns a template by identifier.
func (r *Repository) Get(id string) (*ExtractionTemplate, bool) {
	tpl, ok := r.byID[id]
	return tpl, ok
}

// Len returns the number of loaded templates.
func (r *Repository) Len() int {
	return len(r.ordered)
}
