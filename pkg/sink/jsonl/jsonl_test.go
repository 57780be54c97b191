package jsonl

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ideagen/harvester/pkg/models"
)

func TestUpsertAppendsLines(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir, false, zaptest.NewLogger(t))
	require.NoError(t, err)

	rows := []map[string]interface{}{
		{"id": "a", "title": "first"},
		{"id": "b", "title": "second"},
	}
	require.NoError(t, sink.Upsert(context.Background(), "reddit_posts", rows))
	require.NoError(t, sink.Upsert(context.Background(), "reddit_posts",
		[]map[string]interface{}{{"id": "c", "title": "third"}}))
	require.NoError(t, sink.Close(context.Background()))

	f, err := os.Open(filepath.Join(dir, "reddit_posts.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var row map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		ids = append(ids, row["id"].(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestCompressedOutput(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir, true, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, sink.Upsert(context.Background(), "tweets",
		[]map[string]interface{}{{"id": "t1", "text": "hello"}}))
	require.NoError(t, sink.Close(context.Background()))

	f, err := os.Open(filepath.Join(dir, "tweets.jsonl.gz"))
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var row map[string]interface{}
	require.NoError(t, json.NewDecoder(gz).Decode(&row))
	assert.Equal(t, "hello", row["text"])
}

func TestSeparateFilePerEntity(t *testing.T) {
	dir := t.TempDir()
	sink, err := New(dir, false, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, sink.DeclareSchema(context.Background(), models.Schema{Entity: "a"}))
	require.NoError(t, sink.Upsert(context.Background(), "a", []map[string]interface{}{{"id": "1"}}))
	require.NoError(t, sink.Upsert(context.Background(), "b", []map[string]interface{}{{"id": "2"}}))
	require.NoError(t, sink.Close(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
