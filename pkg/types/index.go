package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// IndexConfig describes how a document's index was produced
type IndexConfig struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Dimensions   int    `json:"dimensions"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// Signature returns the sha256 hex digest identifying this configuration
func (c IndexConfig) Signature() string {
	var b strings.Builder
	b.WriteString(c.Provider)
	b.WriteByte(0)
	b.WriteString(c.Model)
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(c.Dimensions))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(c.ChunkSize))
	b.WriteByte(0)
	b.WriteString(strconv.Itoa(c.ChunkOverlap))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Validate checks that every field is populated
func (c IndexConfig) Validate() error {
	switch {
	case c.Provider == "":
		return fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	case c.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidConfig)
	case c.Dimensions <= 0:
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	case c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("%w: chunk overlap must be in [0, chunk size)", ErrInvalidConfig)
	}
	return nil
}

// IndexEntry is a persisted span together with its fingerprint
type IndexEntry struct {
	ID          int64
	IndexID     int64
	Span        Span
	Fingerprint Fingerprint
}
