package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/concordance/pkg/types"
)

// Memory is a concurrency-safe in-memory document source
type Memory struct {
	mu    sync.RWMutex
	docs  map[string]*types.Document
	texts map[string]string
}

// NewMemory creates an empty source
func NewMemory() *Memory {
	return &Memory{
		docs:  make(map[string]*types.Document),
		texts: make(map[string]string),
	}
}

// Add stores or replaces a document and its text
func (m *Memory) Add(doc *types.Document, text string) error {
	if doc == nil {
		return types.ErrMissingDocumentID
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = cloneDocument(doc)
	m.texts[doc.ID] = text
	return nil
}

// Remove deletes a document; removing an unknown id is a no-op
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, id)
	delete(m.texts, id)
}

// List returns every document id in order
func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneDocument(doc), nil
}

func (m *Memory) GetText(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	text, ok := m.texts[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return text, nil
}
