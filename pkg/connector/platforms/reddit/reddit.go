// Package reddit extracts posts and comments from configured
// subreddits, scoring them for pain points and product ideas.
package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/ideagen/harvester/pkg/clients"
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/base"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
	"github.com/ideagen/harvester/pkg/scoring"
)

const (
	// EntityPosts is the primary entity table.
	EntityPosts models.EntityType = "reddit_posts"
	// EntityComments is the secondary entity table.
	EntityComments models.EntityType = "reddit_comments"

	// KindComments gates comment extraction per post.
	KindComments core.SecondaryKind = "comments"

	defaultAPIURL   = "https://oauth.reddit.com"
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	userAgent       = "harvester/1.0 (idea signal extraction)"
)

// Adapter fetches new posts per subreddit and comments for posts that
// pass the relevance gate.
type Adapter struct {
	base.Adapter
	client *clients.APIClient
	scorer *scoring.TextScorer
}

// New creates the reddit adapter using client-credentials OAuth.
func New(cfg *config.ConnectorConfig) (*Adapter, error) {
	clientID, err := cfg.Credential("client_id")
	if err != nil {
		return nil, err
	}
	clientSecret, err := cfg.Credential("client_secret")
	if err != nil {
		return nil, err
	}
	if len(cfg.Dimensions) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no subreddits configured")
	}

	apiURL := cfg.BaseURL
	tokenURL := defaultTokenURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	} else {
		// Test servers host both API and token endpoints.
		tokenURL = apiURL + "/api/v1/access_token"
	}

	a := &Adapter{
		Adapter: base.NewAdapter("reddit", cfg),
		scorer:  scoring.NewTextScorer([]string{"title", "selftext"}, cfg.Keywords),
	}
	a.client = clients.NewAPIClient(clients.APIClientConfig{
		BaseURL:   apiURL,
		UserAgent: userAgent,
	}, a.Logger())

	oauth := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	a.client.SetHTTPClient(oauth.Client(context.Background()))
	return a, nil
}

// Schemas implements core.SourceAdapter.
func (a *Adapter) Schemas() []models.Schema {
	return []models.Schema{
		{
			Entity: EntityPosts,
			Fields: []models.Field{
				{Name: "id", Type: models.FieldTypeString, PrimaryKey: true},
				{Name: "subreddit", Type: models.FieldTypeString},
				{Name: "title", Type: models.FieldTypeString},
				{Name: "selftext", Type: models.FieldTypeString},
				{Name: "author", Type: models.FieldTypeString},
				{Name: "score", Type: models.FieldTypeInt},
				{Name: "num_comments", Type: models.FieldTypeInt},
				{Name: "permalink", Type: models.FieldTypeString},
			},
		},
		{
			Entity: EntityComments,
			Fields: []models.Field{
				{Name: "id", Type: models.FieldTypeString, PrimaryKey: true},
				{Name: "post_id", Type: models.FieldTypeString},
				{Name: "body", Type: models.FieldTypeString},
				{Name: "author", Type: models.FieldTypeString},
				{Name: "score", Type: models.FieldTypeInt},
			},
		},
	}
}

// Scorer implements core.SourceAdapter.
func (a *Adapter) Scorer() core.Scorer { return a.scorer }

// Gates implements core.SourceAdapter. Posts above the relevance
// threshold queue for comment extraction; comments survive only when
// they carry sentiment or name a pain point.
func (a *Adapter) Gates() []core.Gate {
	threshold := a.GateThreshold("comments", 0.5)
	return []core.Gate{{
		Kind: KindComments,
		Cap:  a.GateCap("comments", 10),
		Pass: func(rec *models.Record) bool {
			relevance, _ := rec.GetFloat(scoring.FieldRelevanceScore)
			return relevance >= threshold
		},
		Filter: func(rec *models.Record) bool {
			sentiment, _ := rec.GetFloat(scoring.FieldSentimentScore)
			if sentiment != 0 {
				return true
			}
			body, _ := rec.GetString("body")
			return scoring.HasPainPointTerms(body)
		},
	}}
}

type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data map[string]interface{} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// FetchPrimary implements core.SourceAdapter for one subreddit page.
func (a *Adapter) FetchPrimary(ctx context.Context, subreddit, pageToken string) (*core.Page, error) {
	params := url.Values{"limit": []string{"100"}, "raw_json": []string{"1"}}
	if pageToken != "" {
		params.Set("after", pageToken)
	}

	var resp listing
	if err := a.client.GetJSON(ctx, fmt.Sprintf("/r/%s/new", subreddit), params, &resp); err != nil {
		return nil, err
	}

	page := &core.Page{NextToken: resp.Data.After}
	for _, child := range resp.Data.Children {
		rec := a.postRecord(subreddit, child.Data)
		if rec != nil {
			page.Records = append(page.Records, rec)
		}
	}
	return page, nil
}

func (a *Adapter) postRecord(subreddit string, data map[string]interface{}) *models.Record {
	id, _ := data["id"].(string)
	if id == "" {
		return nil
	}

	rec := models.NewRecord(id, EntityPosts, "reddit")
	rec.ObservedAt = models.NormalizeTimestamp(data["created_utc"])
	rec.Set("subreddit", subreddit).
		Set("title", stringField(data, "title")).
		Set("selftext", stringField(data, "selftext")).
		Set("author", stringField(data, "author")).
		Set("score", numField(data, "score")).
		Set("num_comments", numField(data, "num_comments")).
		Set("permalink", stringField(data, "permalink")).
		Set("upvote_ratio", data["upvote_ratio"])
	return rec
}

// FetchSecondary implements core.SourceAdapter for one post's comments.
func (a *Adapter) FetchSecondary(ctx context.Context, kind core.SecondaryKind, candidate *models.Record) ([]*models.Record, error) {
	if kind != KindComments {
		return nil, errors.New(errors.ErrorTypeInternal, "unsupported secondary kind").
			WithDetail("kind", string(kind))
	}

	subreddit, _ := candidate.GetString("subreddit")
	params := url.Values{
		"limit": []string{strconv.Itoa(a.Config().SecondaryLimit)},
		"depth": []string{"1"},
		"sort":  []string{"top"},
	}

	// The comments endpoint returns [post listing, comment listing].
	var resp []listing
	path := fmt.Sprintf("/r/%s/comments/%s", subreddit, candidate.ID)
	if err := a.client.GetJSON(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, nil
	}

	var recs []*models.Record
	for _, child := range resp[1].Data.Children {
		data := child.Data
		id, _ := data["id"].(string)
		body := stringField(data, "body")
		if id == "" || body == "" {
			continue
		}

		rec := models.NewRecord(id, EntityComments, "reddit")
		rec.ObservedAt = models.NormalizeTimestamp(data["created_utc"])
		rec.Set("post_id", candidate.ID).
			Set("subreddit", subreddit).
			Set("body", body).
			Set("author", stringField(data, "author")).
			Set("score", numField(data, "score")).
			Set(scoring.FieldSentimentScore, scoring.Sentiment(body)).
			Set(scoring.FieldPainPointScore, scoring.PainPoint(body))
		recs = append(recs, rec)
	}
	return recs, nil
}

// HealthCheck implements core.SourceAdapter by probing the identity
// endpoint, which exercises both auth and connectivity.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	return a.client.GetJSON(ctx, "/api/v1/me", nil, nil)
}

func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func numField(data map[string]interface{}, key string) float64 {
	f, _ := data[key].(float64)
	return f
}
