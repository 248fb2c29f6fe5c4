package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/concordance/pkg/types"
)

// TextExtensions are the file extensions a Directory serves, in lookup order
var TextExtensions = []string{".txt", ".md"}

// SidecarExtension marks the metadata file next to a text file
const SidecarExtension = ".toml"

// sidecar is the TOML metadata layout:
//
//	title = "Science of Logic"
//	authors = ["G. W. F. Hegel"]
//	published = "1812"   # or "1812-03-01"
//	language = "de"
type sidecar struct {
	Title     string   `toml:"title"`
	Authors   []string `toml:"authors"`
	Published string   `toml:"published"`
	Language  string   `toml:"language"`
}

// Directory serves the text files under a root directory. A document's id is
// its slash-separated path relative to the root without extension, so
// "hegel/logic.txt" is "hegel/logic".
type Directory struct {
	root string
}

// NewDirectory creates a source rooted at dir
func NewDirectory(dir string) (*Directory, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to open source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", abs)
	}
	return &Directory{root: abs}, nil
}

// Root returns the absolute root directory
func (d *Directory) Root() string {
	return d.root
}

// List returns the ids of every text file under the root, skipping hidden
// directories and files
func (d *Directory) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string

	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		if p != d.root && strings.HasPrefix(name, ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !isTextFile(name) {
			return nil
		}

		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

func (d *Directory) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	textPath, err := d.textPath(id)
	if err != nil {
		return nil, err
	}

	doc := &types.Document{ID: id, Title: path.Base(id)}

	sidecarPath := strings.TrimSuffix(textPath, filepath.Ext(textPath)) + SidecarExtension
	data, err := os.ReadFile(sidecarPath)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata for %s: %w", id, err)
	}

	var meta sidecar
	if err := toml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata for %s: %w", id, err)
	}

	if meta.Title != "" {
		doc.Title = meta.Title
	}
	doc.Authors = meta.Authors
	doc.Language = meta.Language
	if meta.Published != "" {
		published, err := parsePublished(meta.Published)
		if err != nil {
			return nil, fmt.Errorf("invalid published date for %s: %w", id, err)
		}
		doc.PublishedAt = &published
	}
	return doc, nil
}

func (d *Directory) GetText(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	textPath, err := d.textPath(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(textPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", id, err)
	}
	return string(data), nil
}

// textPath resolves id to an existing text file inside the root
func (d *Directory) textPath(id string) (string, error) {
	if id == "" || path.IsAbs(id) || strings.Contains(id, "\\") {
		return "", fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	clean := path.Clean(id)
	if clean != id || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}

	base := filepath.Join(d.root, filepath.FromSlash(clean))
	for _, ext := range TextExtensions {
		p := base + ext
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

func isTextFile(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range TextExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// parsePublished accepts a full date or a bare year
func parsePublished(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is neither YYYY-MM-DD nor YYYY", s)
}
