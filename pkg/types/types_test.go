package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexConfigSignature(t *testing.T) {
	base := IndexConfig{Provider: "jina", Model: "jina-embeddings-v3", Dimensions: 1024, ChunkSize: 512, ChunkOverlap: 64}

	assert.Equal(t, base.Signature(), base.Signature())
	assert.Len(t, base.Signature(), 64)

	variants := []IndexConfig{
		{Provider: "openai", Model: base.Model, Dimensions: 1024, ChunkSize: 512, ChunkOverlap: 64},
		{Provider: "jina", Model: "other", Dimensions: 1024, ChunkSize: 512, ChunkOverlap: 64},
		{Provider: "jina", Model: base.Model, Dimensions: 768, ChunkSize: 512, ChunkOverlap: 64},
		{Provider: "jina", Model: base.Model, Dimensions: 1024, ChunkSize: 256, ChunkOverlap: 64},
		{Provider: "jina", Model: base.Model, Dimensions: 1024, ChunkSize: 512, ChunkOverlap: 32},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.Signature(), v.Signature(), "%+v", v)
	}
}

func TestIndexConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     IndexConfig
		wantErr bool
	}{
		{"valid", IndexConfig{"local", "hash", 384, 200, 20}, false},
		{"missing provider", IndexConfig{"", "hash", 384, 200, 20}, true},
		{"missing model", IndexConfig{"local", "", 384, 200, 20}, true},
		{"zero dimensions", IndexConfig{"local", "hash", 0, 200, 20}, true},
		{"zero chunk size", IndexConfig{"local", "hash", 384, 0, 0}, true},
		{"overlap too large", IndexConfig{"local", "hash", 384, 200, 200}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSpanValidate(t *testing.T) {
	good := Span{DocumentID: "d", Ordinal: 0, Text: "hello", Start: 0, End: 5, Overlap: 0, Tag: TagBody}
	require.NoError(t, good.Validate())
	assert.Equal(t, "hello", good.NewText())

	bad := good
	bad.End = 4
	assert.ErrorIs(t, bad.Validate(), ErrInvalidOffsets)

	bad = good
	bad.DocumentID = ""
	assert.ErrorIs(t, bad.Validate(), ErrMissingDocumentID)

	bad = good
	bad.Tag = "poem"
	assert.Error(t, bad.Validate())
}

func TestDocumentYear(t *testing.T) {
	d := Document{ID: "x"}
	assert.Equal(t, 0, d.Year())

	ts := time.Date(1807, time.January, 1, 0, 0, 0, 0, time.UTC)
	d.PublishedAt = &ts
	assert.Equal(t, 1807, d.Year())
}

func TestFingerprintClone(t *testing.T) {
	f := &Fingerprint{Vector: []float32{1, 2}, Dimension: 2, Fallbacks: []FallbackEvent{{Provider: "a"}}}
	c := f.Clone()
	c.Vector[0] = 9
	c.Fallbacks[0].Provider = "b"
	assert.Equal(t, float32(1), f.Vector[0])
	assert.Equal(t, "a", f.Fallbacks[0].Provider)
}

func TestSearchResultValidate(t *testing.T) {
	r := SearchResult{DocumentID: "d", Rank: 1, Score: 0.9, Excerpt: "x"}
	assert.NoError(t, r.Validate())

	r.Score = 1.5
	assert.ErrorIs(t, r.Validate(), ErrInvalidScore)
	r.Score = -0.5
	assert.NoError(t, r.Validate())
	r.Rank = 0
	assert.ErrorIs(t, r.Validate(), ErrInvalidRank)
}
