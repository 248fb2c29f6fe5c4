package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/concordance/internal/searcher"
	"github.com/dshills/concordance/internal/storage"
	"github.com/dshills/concordance/pkg/types"
)

func TestSearchFlagsRequest(t *testing.T) {
	f := searchFlags{
		mode:    "genealogical",
		limit:   5,
		authors: []string{"Hegel"},
		tags:    []string{"argument"},
		from:    1800,
		to:      1831,
		noCache: true,
	}

	req, err := f.request("the owl of Minerva")
	require.NoError(t, err)
	assert.Equal(t, searcher.ModeGenealogical, req.Mode)
	assert.Equal(t, 5, req.Options.ResultLimit)
	assert.False(t, req.Options.UseCache)
	assert.Equal(t, []types.SpanTag{types.TagArgument}, req.Scope.Tags)
	require.NotNil(t, req.Scope.PublishedFrom)
	require.NotNil(t, req.Scope.PublishedTo)
	assert.Equal(t, time.Date(1831, 12, 31, 0, 0, 0, 0, time.UTC), *req.Scope.PublishedTo)

	f.tags = []string{"footnote"}
	_, err = f.request("q")
	assert.Error(t, err)
}

func TestPrintStatus(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.UpsertDocument(ctx, &types.Document{ID: "hegel-logic", Title: "Science of Logic"}))

	var out bytes.Buffer
	require.NoError(t, printLibraryStatus(ctx, &out, store))
	assert.Contains(t, out.String(), "Documents:  1")

	out.Reset()
	require.NoError(t, printDocumentStatus(ctx, &out, store, "hegel-logic"))
	assert.Contains(t, out.String(), "not indexed")

	assert.Error(t, printDocumentStatus(ctx, &out, store, "missing"))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Build Mode: "+storage.BuildMode)
}
