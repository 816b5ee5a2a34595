//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-ingest/internal/model"
)

func TestParseTrigger(t *testing.T) {
	for _, valid := range []string{"manual", "scheduler", "file_drop"} {
		trigger, err := parseTrigger(valid)
		require.NoError(t, err)
		assert.Equal(t, model.TriggerKind(valid), trigger)
	}

	_, err := parseTrigger("cron")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown trigger "cron"`)
}

func TestReadRawDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companies-00217.xml")
	require.NoError(t, os.WriteFile(path, []byte("<Document/>"), 0o644))

	doc, err := readRawDocument(path)
	require.NoError(t, err)

	assert.Equal(t, "companies-00217.xml", doc.SourceRef)
	assert.Equal(t, []byte("<Document/>"), doc.Payload)
	assert.Equal(t, ".xml", doc.FormatHint)
	assert.False(t, doc.ReceivedAt.IsZero())
}

func TestReadRawDocument_Missing(t *testing.T) {
	_, err := readRawDocument(filepath.Join(t.TempDir(), "nope.xml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read")
}

func TestCollectDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.xml"), []byte("<B/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "archive", "c.xml"), []byte("<C/>"), 0o644))

	docs, err := collectDocuments(dir)
	require.NoError(t, err)

	// Dot files and subdirectories are skipped; entries come back sorted.
	require.Len(t, docs, 2)
	assert.Equal(t, "a.json", docs[0].SourceRef)
	assert.Equal(t, "b.xml", docs[1].SourceRef)
}

func TestCollectDocuments_EmptyDir(t *testing.T) {
	docs, err := collectDocuments(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCollectDocuments_MissingDir(t *testing.T) {
	_, err := collectDocuments(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read dir")
}
