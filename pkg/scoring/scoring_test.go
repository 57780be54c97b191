package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideagen/harvester/pkg/models"
)

func TestPainPointDensity(t *testing.T) {
	assert.Equal(t, 0.0, PainPoint("a pleasant afternoon"))
	assert.InDelta(t, 0.2, PainPoint("this is a problem"), 0.001)
	assert.InDelta(t, 0.6,
		PainPoint("frustrating problem, such a struggle"), 0.001)

	saturated := PainPoint("problem issue frustrating annoying difficult struggle pain")
	assert.Equal(t, 1.0, saturated)
}

func TestSentimentPolarity(t *testing.T) {
	assert.Positive(t, Sentiment("I love it, works well"))
	assert.Negative(t, Sentiment("terrible and buggy, it would crash daily"))
	assert.Zero(t, Sentiment("it exists"))
	assert.Equal(t, 0.0, Sentiment("love it but so buggy"))
}

func TestHasPainPointTerms(t *testing.T) {
	assert.True(t, HasPainPointTerms("The onboarding is BROKEN"))
	assert.False(t, HasPainPointTerms("smooth sailing"))
}

func TestTextScorerMergesSignals(t *testing.T) {
	scorer := NewTextScorer([]string{"title", "body"}, []string{"invoicing"})

	rec := models.NewRecord("p1", "reddit_posts", "reddit")
	rec.Set("title", "Frustrating problem with invoicing tools")
	rec.Set("body", "I wish someone would build a new startup idea around this")

	signals := scorer.Score(rec)

	pain, ok := signals[FieldPainPointScore].(float64)
	require.True(t, ok)
	assert.Greater(t, pain, 0.0)

	innovation, ok := signals[FieldInnovationPotential].(float64)
	require.True(t, ok)
	assert.Greater(t, innovation, 0.0)

	relevance, ok := signals[FieldRelevanceScore].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, relevance, innovation)

	matched, ok := signals[FieldMatchedKeywords].([]string)
	require.True(t, ok)
	assert.Contains(t, matched, "invoicing")
}

func TestTextScorerMissingFields(t *testing.T) {
	scorer := NewTextScorer([]string{"title"}, nil)
	rec := models.NewRecord("x", "tweets", "twitter")

	signals := scorer.Score(rec)
	assert.Equal(t, 0.0, signals[FieldRelevanceScore])
	assert.NotContains(t, signals, FieldMatchedKeywords)
}
