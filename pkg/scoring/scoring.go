// Package scoring derives idea signals from extracted text: pain points,
// feature requests, innovation markers, and coarse sentiment. Scores are
// term-density heuristics in [0, 1]; sentiment is in [-1, 1].
package scoring

import (
	"strings"
)

var painPointTerms = []string{
	"problem", "issue", "frustrating", "annoying", "difficult",
	"struggle", "pain", "hate", "broken", "wish", "missing",
	"workaround", "tedious", "time-consuming",
}

var featureRequestTerms = []string{
	"feature", "request", "would be great", "should have", "add support",
	"improve", "integrate", "wish it could", "please add", "enhancement",
}

var innovationTerms = []string{
	"new", "innovative", "revolutionary", "disrupt", "startup", "idea",
	"launch", "built", "building", "prototype", "mvp", "automate",
	"ai-powered", "open source",
}

var positiveTerms = []string{
	"love", "great", "awesome", "amazing", "excellent", "helpful",
	"fantastic", "works well", "perfect", "recommend",
}

var negativeTerms = []string{
	"bad", "terrible", "awful", "useless", "worst", "disappointing",
	"slow", "buggy", "crash", "unusable",
}

// matchTerms returns the matched terms from the list, in list order.
func matchTerms(text string, terms []string) []string {
	var matched []string
	for _, term := range terms {
		if strings.Contains(text, term) {
			matched = append(matched, term)
		}
	}
	return matched
}

// density converts a match count to a score, saturating at 1.0.
func density(matches int) float64 {
	score := float64(matches) * 0.2
	if score > 1.0 {
		return 1.0
	}
	return score
}

// PainPoint scores how strongly the text expresses a pain point.
func PainPoint(text string) float64 {
	return density(len(matchTerms(strings.ToLower(text), painPointTerms)))
}

// FeatureRequest scores how strongly the text asks for a capability.
func FeatureRequest(text string) float64 {
	return density(len(matchTerms(strings.ToLower(text), featureRequestTerms)))
}

// Innovation scores how strongly the text signals new product activity.
func Innovation(text string) float64 {
	return density(len(matchTerms(strings.ToLower(text), innovationTerms)))
}

// Sentiment returns a coarse polarity in [-1, 1], zero when the text
// carries no recognized sentiment terms.
func Sentiment(text string) float64 {
	lower := strings.ToLower(text)
	pos := len(matchTerms(lower, positiveTerms))
	neg := len(matchTerms(lower, negativeTerms))
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// HasPainPointTerms reports whether the text mentions any pain point term.
func HasPainPointTerms(text string) bool {
	return len(matchTerms(strings.ToLower(text), painPointTerms)) > 0
}
