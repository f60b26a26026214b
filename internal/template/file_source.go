package template

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileSource loads template definitions from a directory of .json, .yaml,
// or .yml files. The file name without extension becomes the template
// identifier.
type FileSource struct {
	dir string
}

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Load walks the directory and returns each definition as JSON. YAML files
// are converted so the repository can validate everything against one
// schema.
func (s *FileSource) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	defs := make(map[string]json.RawMessage)

	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		if ext != ".json" {
			data, err = yamlToJSON(data)
			if err != nil {
				return fmt.Errorf("converting %s: %w", path, err)
			}
		}

		id := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		if _, exists := defs[id]; exists {
			return fmt.Errorf("duplicate template identifier %q at %s", id, path)
		}
		defs[id] = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding yaml: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("re-encoding as json: %w", err)
	}
	return out, nil
}
