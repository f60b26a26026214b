// Command seedtemplates converts the on-disk template definitions into a SQL
// seed file for the templates table. Every definition is schema-validated and
// compiled before it is written, so a bad regex never reaches the database.
// Usage: go run ./cmd/seedtemplates [-dir templates] [-out db/seeds/templates.sql]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"piaoju/internal/template"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dir := flag.String("dir", "templates", "directory holding template definitions")
	out := flag.String("out", "db/seeds/templates.sql", "output SQL file")
	flag.Parse()

	source := template.NewFileSource(*dir)
	raw, err := source.Load(context.Background())
	if err != nil {
		return fmt.Errorf("load template definitions: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("no template definitions found in %s", *dir)
	}

	// Run the full load path so compile errors surface here, not at startup.
	if _, err := template.Load(context.Background(), source); err != nil {
		return fmt.Errorf("validate templates: %w", err)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(*out)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	fmt.Fprintf(&b, "-- Template seed data generated from %s.\n", *dir)
	fmt.Fprintf(&b, "-- %d definitions. Run: make seed-templates\n", len(ids))
	b.WriteString("BEGIN;\n\n")

	for _, id := range ids {
		fmt.Fprintf(&b,
			"INSERT INTO templates (id, definition, is_active) VALUES\n  ('%s', '%s'::jsonb, TRUE)\nON CONFLICT (id) DO UPDATE SET definition = EXCLUDED.definition, updated_at = now();\n\n",
			escapeSQL(id), escapeSQL(string(raw[id])))
	}

	b.WriteString("COMMIT;\n")

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("write seed file: %w", err)
	}

	log.Printf("Generated %d template seeds in %s", len(ids), *out)
	return nil
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
