// Package twitter extracts recent tweets matching the configured
// search queries, plus author profiles for high-engagement tweets.
package twitter

import (
	"context"
	"net/url"

	"github.com/ideagen/harvester/pkg/clients"
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/base"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
	"github.com/ideagen/harvester/pkg/scoring"
)

const (
	// EntityTweets is the primary entity table.
	EntityTweets models.EntityType = "twitter_tweets"
	// EntityUsers holds author profiles for gated tweets.
	EntityUsers models.EntityType = "twitter_users"

	// KindAuthors gates author lookups per tweet.
	KindAuthors core.SecondaryKind = "authors"

	defaultAPIURL = "https://api.twitter.com"
	userAgent     = "harvester/1.0 (idea signal extraction)"
)

// Adapter drives the v2 recent search API with bearer auth.
type Adapter struct {
	base.Adapter
	client *clients.APIClient
	scorer *scoring.TextScorer
}

// New creates the twitter adapter.
func New(cfg *config.ConnectorConfig) (*Adapter, error) {
	bearer, err := cfg.Credential("bearer_token")
	if err != nil {
		return nil, err
	}
	if len(cfg.Dimensions) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no search queries configured")
	}

	apiURL := cfg.BaseURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	a := &Adapter{
		Adapter: base.NewAdapter("twitter", cfg),
		scorer:  scoring.NewTextScorer([]string{"text"}, cfg.Keywords),
	}
	a.client = clients.NewAPIClient(clients.APIClientConfig{
		BaseURL:   apiURL,
		UserAgent: userAgent,
		Headers:   map[string]string{"Authorization": "Bearer " + bearer},
	}, a.Logger())
	return a, nil
}

// Schemas implements core.SourceAdapter.
func (a *Adapter) Schemas() []models.Schema {
	id := models.Field{Name: "id", Type: models.FieldTypeString, PrimaryKey: true}
	return []models.Schema{
		{Entity: EntityTweets, Fields: []models.Field{
			id,
			{Name: "text", Type: models.FieldTypeString},
			{Name: "author_id", Type: models.FieldTypeString},
			{Name: "likes", Type: models.FieldTypeInt},
			{Name: "retweets", Type: models.FieldTypeInt},
			{Name: "replies", Type: models.FieldTypeInt},
			{Name: "hashtags", Type: models.FieldTypeJSON},
			{Name: "mentions", Type: models.FieldTypeJSON},
		}},
		{Entity: EntityUsers, Fields: []models.Field{
			id,
			{Name: "username", Type: models.FieldTypeString},
			{Name: "name", Type: models.FieldTypeString},
			{Name: "followers", Type: models.FieldTypeInt},
			{Name: "verified", Type: models.FieldTypeBool},
		}},
	}
}

// Scorer implements core.SourceAdapter.
func (a *Adapter) Scorer() core.Scorer { return a.scorer }

// Gates implements core.SourceAdapter. Tweets whose engagement clears
// the threshold queue their authors for profile lookup.
func (a *Adapter) Gates() []core.Gate {
	minEngagement := a.GateThreshold("engagement", 10)
	return []core.Gate{{
		Kind: KindAuthors,
		Cap:  a.GateCap("authors", 20),
		Pass: func(rec *models.Record) bool {
			engagement, _ := rec.GetFloat("engagement_score")
			return engagement >= minEngagement
		},
	}}
}

type tweetEnvelope struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		AuthorID      string `json:"author_id"`
		CreatedAt     string `json:"created_at"`
		PublicMetrics struct {
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			LikeCount    int `json:"like_count"`
			QuoteCount   int `json:"quote_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Meta struct {
		NextToken   string `json:"next_token"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

type userEnvelope struct {
	Data struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		Name          string `json:"name"`
		Description   string `json:"description"`
		Verified      bool   `json:"verified"`
		PublicMetrics struct {
			FollowersCount int `json:"followers_count"`
			FollowingCount int `json:"following_count"`
			TweetCount     int `json:"tweet_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// FetchPrimary implements core.SourceAdapter for one search query.
// Page tokens come straight from the API's meta.next_token.
func (a *Adapter) FetchPrimary(ctx context.Context, query, pageToken string) (*core.Page, error) {
	params := url.Values{
		"query":        []string{query + " -is:retweet lang:en"},
		"max_results":  []string{"100"},
		"tweet.fields": []string{"public_metrics,created_at,author_id"},
	}
	if pageToken != "" {
		params.Set("next_token", pageToken)
	}

	var resp tweetEnvelope
	if err := a.client.GetJSON(ctx, "/2/tweets/search/recent", params, &resp); err != nil {
		return nil, err
	}

	page := &core.Page{NextToken: resp.Meta.NextToken}
	for _, tweet := range resp.Data {
		if tweet.ID == "" {
			continue
		}
		metrics := tweet.PublicMetrics
		engagement := float64(metrics.LikeCount + 2*metrics.RetweetCount + metrics.ReplyCount)
		entities := scoring.ExtractEntities(tweet.Text)

		rec := models.NewRecord(tweet.ID, EntityTweets, "twitter")
		rec.ObservedAt = models.NormalizeTimestamp(tweet.CreatedAt)
		rec.Set("text", tweet.Text).
			Set("author_id", tweet.AuthorID).
			Set("likes", metrics.LikeCount).
			Set("retweets", metrics.RetweetCount).
			Set("replies", metrics.ReplyCount).
			Set("quotes", metrics.QuoteCount).
			Set("hashtags", entities.Hashtags).
			Set("mentions", entities.Mentions).
			Set("urls", entities.URLs).
			Set("engagement_score", engagement)
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// FetchSecondary implements core.SourceAdapter by resolving one gated
// tweet's author profile.
func (a *Adapter) FetchSecondary(ctx context.Context, kind core.SecondaryKind, candidate *models.Record) ([]*models.Record, error) {
	if kind != KindAuthors {
		return nil, errors.New(errors.ErrorTypeInternal, "unsupported secondary kind").
			WithDetail("kind", string(kind))
	}

	authorID, _ := candidate.GetString("author_id")
	if authorID == "" {
		return nil, nil
	}

	params := url.Values{"user.fields": []string{"public_metrics,description,verified"}}
	var resp userEnvelope
	if err := a.client.GetJSON(ctx, "/2/users/"+authorID, params, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, nil
	}

	user := resp.Data
	rec := models.NewRecord(user.ID, EntityUsers, "twitter")
	rec.Set("username", user.Username).
		Set("name", user.Name).
		Set("description", user.Description).
		Set("verified", user.Verified).
		Set("followers", user.PublicMetrics.FollowersCount).
		Set("following", user.PublicMetrics.FollowingCount).
		Set("tweet_count", user.PublicMetrics.TweetCount).
		Set("influence_score", influence(user.PublicMetrics.FollowersCount, user.Verified))
	return []*models.Record{rec}, nil
}

// influence maps follower counts onto [0,1] with a bonus for verified
// accounts.
func influence(followers int, verified bool) float64 {
	score := float64(followers) / 100000.0
	if score > 0.8 {
		score = 0.8
	}
	if verified {
		score += 0.2
	}
	return score
}

// HealthCheck implements core.SourceAdapter with a minimal one-result
// search.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	params := url.Values{
		"query":       []string{"hello"},
		"max_results": []string{"10"},
	}
	return a.client.GetJSON(ctx, "/2/tweets/search/recent", params, nil)
}
