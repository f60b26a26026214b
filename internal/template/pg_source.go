package template

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresSource loads template definitions from the templates table.
// Definitions live in a JSONB column, one row per template, so template
// curation can happen without redeploying the service.
type PostgresSource struct {
	db *sqlx.DB
}

// NewPostgresSource creates a PostgresSource over an open connection pool.
func NewPostgresSource(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

type templateRow struct {
	ID         string          `db:"id"`
	Definition json.RawMessage `db:"definition"`
}

// Load fetches every active template row.
func (s *PostgresSource) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	var rows []templateRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, definition FROM templates WHERE is_active = true ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("templateSource.Load: %w", err)
	}

	defs := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		defs[row.ID] = row.Definition
	}
	return defs, nil
}
