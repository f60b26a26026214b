package template

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileSource_LoadsJSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.json", `{
		"issuer": "Acme", "priority": 5, "keywords": ["acme"],
		"fields": {"total": {"parser": "regex", "regex": "(\\d+)", "type": "float"}}
	}`)
	writeFile(t, dir, "beta.yaml", `
issuer: Beta
priority: 7
keywords:
  - beta
fields:
  number:
    parser: regex
    regex: no\.(\d+)
    type: string
`)
	writeFile(t, dir, "notes.txt", "ignored")

	defs, err := NewFileSource(dir).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Contains(t, defs, "acme")
	assert.Contains(t, defs, "beta")

	// The whole pipeline accepts both codecs.
	repo, err := Load(context.Background(), NewFileSource(dir))
	require.NoError(t, err)
	assert.Equal(t, 2, repo.Len())

	beta, ok := repo.Get("beta")
	require.True(t, ok)
	assert.Equal(t, 7, beta.Priority)
}

func TestFileSource_DuplicateIdentifier(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dup.json", `{"issuer":"A","priority":1,"keywords":["a"],"fields":{}}`)
	writeFile(t, dir, "dup.yaml", "issuer: B\npriority: 2\nkeywords: [b]\nfields: {}\n")

	_, err := NewFileSource(dir).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestFileSource_MissingDirectory(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "absent")).Load(context.Background())
	assert.Error(t, err)
}

func TestBundledTemplates_Load(t *testing.T) {
	repo, err := Load(context.Background(), NewFileSource("../../templates"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, repo.Len(), 4)

	special, ok := repo.Get("cn_vat_special_electronic")
	require.True(t, ok)
	assert.Equal(t, 185, special.Priority)

	general, ok := repo.Get("cn_vat_general_electronic")
	require.True(t, ok)
	assert.Equal(t, 120, general.Priority)

	// The special invoice outranks the general one on shared text.
	got := Select("增值税电子专用发票", repo.All())
	assert.Equal(t, "cn_vat_special_electronic", got.ID)
}
