package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/concordance/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
}

func setupLibrary(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, root, "hegel/logic.txt", "Being, pure being.")
	writeFile(t, root, "hegel/logic.toml", `
title = "Science of Logic"
authors = ["G. W. F. Hegel"]
published = "1812-03-01"
language = "de"
`)
	writeFile(t, root, "heidegger/being-and-time.md", "The question of the meaning of Being.")
	writeFile(t, root, "heidegger/being-and-time.toml", "title = \"Being and Time\"\npublished = \"1927\"\n")
	writeFile(t, root, "fragments.txt", "An undated fragment.")
	writeFile(t, root, "notes.pdf", "ignored")
	writeFile(t, root, ".drafts/secret.txt", "hidden")
	writeFile(t, root, "broken.txt", "text")
	writeFile(t, root, "broken.toml", "title = [unterminated")
	writeFile(t, root, "baddate.txt", "text")
	writeFile(t, root, "baddate.toml", "published = \"spring 1800\"")
	return root
}

func TestDirectory_List(t *testing.T) {
	dir, err := NewDirectory(setupLibrary(t))
	require.NoError(t, err)

	ids, err := dir.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"baddate", "broken", "fragments", "hegel/logic", "heidegger/being-and-time"}, ids)
}

func TestDirectory_GetDocument(t *testing.T) {
	dir, err := NewDirectory(setupLibrary(t))
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := dir.GetDocument(ctx, "hegel/logic")
	require.NoError(t, err)
	assert.Equal(t, "hegel/logic", doc.ID)
	assert.Equal(t, "Science of Logic", doc.Title)
	assert.Equal(t, []string{"G. W. F. Hegel"}, doc.Authors)
	assert.Equal(t, "de", doc.Language)
	require.NotNil(t, doc.PublishedAt)
	assert.Equal(t, time.Date(1812, time.March, 1, 0, 0, 0, 0, time.UTC), *doc.PublishedAt)

	doc, err = dir.GetDocument(ctx, "heidegger/being-and-time")
	require.NoError(t, err)
	assert.Equal(t, 1927, doc.Year())

	// No sidecar: title from the file name, undated
	doc, err = dir.GetDocument(ctx, "fragments")
	require.NoError(t, err)
	assert.Equal(t, "fragments", doc.Title)
	assert.Nil(t, doc.PublishedAt)

	_, err = dir.GetDocument(ctx, "broken")
	assert.ErrorContains(t, err, "failed to parse metadata")
	_, err = dir.GetDocument(ctx, "baddate")
	assert.ErrorContains(t, err, "invalid published date")
}

func TestDirectory_GetText(t *testing.T) {
	dir, err := NewDirectory(setupLibrary(t))
	require.NoError(t, err)
	ctx := context.Background()

	text, err := dir.GetText(ctx, "heidegger/being-and-time")
	require.NoError(t, err)
	assert.Equal(t, "The question of the meaning of Being.", text)

	tests := []struct {
		name string
		id   string
	}{
		{"empty", ""},
		{"missing", "kant/critique"},
		{"parent escape", "../outside"},
		{"absolute", "/etc/passwd"},
		{"unclean", "hegel/../hegel/logic"},
		{"wrong extension", "notes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dir.GetText(ctx, tt.id)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDirectory_CancelledContext(t *testing.T) {
	dir, err := NewDirectory(setupLibrary(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = dir.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = dir.GetText(ctx, "fragments")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDirectory_Errors(t *testing.T) {
	_, err := NewDirectory(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	root := t.TempDir()
	writeFile(t, root, "file.txt", "x")
	_, err = NewDirectory(filepath.Join(root, "file.txt"))
	assert.ErrorContains(t, err, "not a directory")
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	published := time.Date(1807, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := &types.Document{ID: "phenomenology", Title: "Phenomenology of Spirit", Authors: []string{"Hegel"}, PublishedAt: &published}
	require.NoError(t, m.Add(doc, "The owl of Minerva."))
	require.NoError(t, m.Add(&types.Document{ID: "anon"}, ""))
	assert.ErrorIs(t, m.Add(&types.Document{}, "x"), types.ErrMissingDocumentID)
	assert.ErrorIs(t, m.Add(nil, "x"), types.ErrMissingDocumentID)

	// Stored copies are isolated from the caller
	doc.Authors[0] = "mutated"
	got, err := m.GetDocument(ctx, "phenomenology")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hegel"}, got.Authors)
	got.Authors[0] = "mutated again"
	again, err := m.GetDocument(ctx, "phenomenology")
	require.NoError(t, err)
	assert.Equal(t, []string{"Hegel"}, again.Authors)

	text, err := m.GetText(ctx, "phenomenology")
	require.NoError(t, err)
	assert.Equal(t, "The owl of Minerva.", text)

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"anon", "phenomenology"}, ids)

	m.Remove("anon")
	_, err = m.GetDocument(ctx, "anon")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetText(ctx, "anon")
	assert.ErrorIs(t, err, ErrNotFound)
}
