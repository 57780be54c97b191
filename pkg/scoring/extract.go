package scoring

import (
	"regexp"
	"strings"
)

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"']+`)
	mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_]{2,30})`)
	hashtagPattern = regexp.MustCompile(`#([A-Za-z0-9_]{2,50})`)
)

// TextEntities are the references extracted from free-form text.
type TextEntities struct {
	URLs     []string
	Mentions []string
	Hashtags []string
}

// ExtractEntities pulls urls, @mentions, and #hashtags out of text.
// Mentions and hashtags are lowercased and deduplicated in first-seen
// order; urls are kept as written.
func ExtractEntities(text string) TextEntities {
	var out TextEntities
	out.URLs = urlPattern.FindAllString(text, -1)

	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		handle := strings.ToLower(m[1])
		if !seen["@"+handle] {
			seen["@"+handle] = true
			out.Mentions = append(out.Mentions, handle)
		}
	}
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		if !seen["#"+tag] {
			seen["#"+tag] = true
			out.Hashtags = append(out.Hashtags, tag)
		}
	}
	return out
}
