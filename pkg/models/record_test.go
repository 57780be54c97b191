package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenScalarsPassThrough(t *testing.T) {
	rec := NewRecord("p1", "reddit_posts", "reddit")
	rec.ObservedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.Set("title", "launch feedback").
		Set("score", 42).
		Set("ratio", 0.93).
		Set("archived", false)

	row, err := rec.Flatten()
	require.NoError(t, err)

	assert.Equal(t, "p1", row["id"])
	assert.Equal(t, "reddit", row["source"])
	assert.Equal(t, "2026-03-01T12:00:00Z", row["observed_at"])
	assert.Equal(t, "launch feedback", row["title"])
	assert.Equal(t, 42, row["score"])
	assert.Equal(t, 0.93, row["ratio"])
	assert.Equal(t, false, row["archived"])
}

func TestFlattenEncodesNestedValues(t *testing.T) {
	rec := NewRecord("r1", "github_trending_repos", "github")
	rec.Set("topics", []string{"ai", "devtools"})
	rec.Set("owner", map[string]interface{}{"login": "acme", "type": "Organization"})

	row, err := rec.Flatten()
	require.NoError(t, err)

	topics, ok := row["topics"].(string)
	require.True(t, ok, "list fields must flatten to JSON strings")
	assert.JSONEq(t, `["ai","devtools"]`, topics)

	owner, ok := row["owner"].(string)
	require.True(t, ok, "map fields must flatten to JSON strings")
	assert.JSONEq(t, `{"login":"acme","type":"Organization"}`, owner)
}

func TestFlattenMetadataDoesNotShadowPayload(t *testing.T) {
	rec := NewRecord("x", "tweets", "twitter")
	rec.Set("lang", "en")
	rec.Metadata = map[string]string{"lang": "override", "region": "us"}

	row, err := rec.Flatten()
	require.NoError(t, err)

	assert.Equal(t, "en", row["lang"])
	assert.Equal(t, "us", row["region"])
}

func TestNormalizeTimestamp(t *testing.T) {
	epoch := time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input interface{}
		want  time.Time
	}{
		{"time value", epoch, epoch},
		{"unix float", float64(epoch.Unix()), epoch},
		{"unix int", epoch.Unix(), epoch},
		{"rfc3339", "2026-01-15T08:30:00Z", epoch},
		{"bare datetime", "2026-01-15T08:30:00", epoch},
		{"date only", "2026-01-15", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTimestamp(tt.input))
		})
	}
}

func TestNormalizeTimestampFallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	got := NormalizeTimestamp("not a timestamp")
	after := time.Now().UTC()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	_, err := ParseTimestamp("yesterday-ish")
	assert.Error(t, err)
}

func TestGetFloatConversions(t *testing.T) {
	rec := NewRecord("n", "metrics", "trends")
	rec.Set("a", 3)
	rec.Set("b", int64(4))
	rec.Set("c", 5.5)
	rec.Set("d", "nope")

	for key, want := range map[string]float64{"a": 3, "b": 4, "c": 5.5} {
		got, ok := rec.GetFloat(key)
		require.True(t, ok, key)
		assert.Equal(t, want, got)
	}

	_, ok := rec.GetFloat("d")
	assert.False(t, ok)
}

func TestSchemaPrimaryKeyDefaultsToID(t *testing.T) {
	s := Schema{Entity: "reddit_posts", Fields: []Field{{Name: "title", Type: FieldTypeString}}}
	assert.Equal(t, []string{"id"}, s.PrimaryKey())

	s.Fields = append(s.Fields, Field{Name: "permalink", Type: FieldTypeString, PrimaryKey: true})
	assert.Equal(t, []string{"permalink"}, s.PrimaryKey())
}
