package scoring

import (
	"strings"

	"github.com/ideagen/harvester/pkg/models"
)

// Signal field names merged into scored record payloads.
const (
	FieldInnovationPotential = "innovation_potential"
	FieldPainPointScore      = "pain_point_score"
	FieldFeatureRequestScore = "feature_request_score"
	FieldSentimentScore      = "sentiment_score"
	FieldRelevanceScore      = "relevance_score"
	FieldMatchedKeywords     = "matched_keywords"
)

// TextScorer scores records by inspecting named payload text fields.
// Extra keywords from connector configuration count toward relevance.
type TextScorer struct {
	// Fields are the payload fields concatenated into the scored text.
	Fields []string
	// Keywords are domain terms that boost relevance when present.
	Keywords []string
}

// NewTextScorer creates a scorer over the given payload fields.
func NewTextScorer(fields []string, keywords []string) *TextScorer {
	return &TextScorer{Fields: fields, Keywords: keywords}
}

// Score implements core.Scorer.
func (s *TextScorer) Score(rec *models.Record) map[string]interface{} {
	var parts []string
	for _, field := range s.Fields {
		if v, ok := rec.GetString(field); ok && v != "" {
			parts = append(parts, v)
		}
	}
	text := strings.ToLower(strings.Join(parts, " "))

	pain := density(len(matchTerms(text, painPointTerms)))
	feature := density(len(matchTerms(text, featureRequestTerms)))
	innovation := density(len(matchTerms(text, innovationTerms)))

	matched := matchTerms(text, s.Keywords)
	relevance := innovation
	if pain > relevance {
		relevance = pain
	}
	if feature > relevance {
		relevance = feature
	}
	// Configured keywords lift relevance so niche communities are not
	// drowned out by generic scoring terms.
	if len(matched) > 0 && relevance < 1.0 {
		relevance += 0.2
		if relevance > 1.0 {
			relevance = 1.0
		}
	}

	signals := map[string]interface{}{
		FieldInnovationPotential: innovation,
		FieldPainPointScore:      pain,
		FieldFeatureRequestScore: feature,
		FieldSentimentScore:      Sentiment(text),
		FieldRelevanceScore:      relevance,
	}
	if len(matched) > 0 {
		signals[FieldMatchedKeywords] = matched
	}
	return signals
}
