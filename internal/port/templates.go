package port

import (
	"context"
	"encoding/json"
)

// TemplateSource yields raw template definitions keyed by template
// identifier. Sources normalize their storage format (YAML files, table
// rows) to JSON before handing definitions to the repository.
type TemplateSource interface {
	Load(ctx context.Context) (map[string]json.RawMessage, error)
}
