// Package producthunt extracts launched products per topic via the
// Product Hunt GraphQL API. Launch discussion comments ride the posts
// payload, and per-topic launch aggregates and maker profiles are
// derived from fields already fetched.
package producthunt

import (
	"context"
	"fmt"
	"sort"

	"github.com/ideagen/harvester/pkg/clients"
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/base"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
	"github.com/ideagen/harvester/pkg/scoring"
)

const (
	// EntityPosts is the primary entity table of product launches.
	EntityPosts models.EntityType = "producthunt_posts"
	// EntityComments is the secondary table of launch discussion
	// comments.
	EntityComments models.EntityType = "producthunt_comments"
	// EntityTopics is the derived per-topic aggregate table.
	EntityTopics models.EntityType = "producthunt_topics"
	// EntityMakers is the derived maker profile table.
	EntityMakers models.EntityType = "producthunt_makers"

	// KindComments extracts discussion comments for gated posts.
	KindComments core.SecondaryKind = "comments"

	defaultAPIURL = "https://api.producthunt.com/v2/api"
)

const postsQuery = `query($topic: String, $after: String, $first: Int!) {
  posts(topic: $topic, after: $after, first: $first, order: NEWEST) {
    pageInfo { endCursor hasNextPage }
    edges {
      node {
        id name tagline description url votesCount commentsCount createdAt
        topics(first: 5) { edges { node { slug } } }
        makers { id name username }
        comments(first: 20) {
          edges { node { id body votesCount createdAt user { username } } }
        }
      }
    }
  }
}`

// Adapter fetches posts per configured topic slug. The posts query
// already carries each launch's first comments, so the comment gate is
// served from the cached payload without further API calls.
type Adapter struct {
	base.Adapter
	client *clients.APIClient
	scorer *scoring.TextScorer
}

// New creates the Product Hunt adapter.
func New(cfg *config.ConnectorConfig) (*Adapter, error) {
	token, err := cfg.Credential("access_token")
	if err != nil {
		return nil, err
	}
	if len(cfg.Dimensions) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no topics configured")
	}

	apiURL := cfg.BaseURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	a := &Adapter{
		Adapter: base.NewAdapter("producthunt", cfg),
		scorer:  scoring.NewTextScorer([]string{"name", "tagline", "description"}, cfg.Keywords),
	}
	a.client = clients.NewAPIClient(clients.APIClientConfig{
		BaseURL:   apiURL,
		UserAgent: "harvester/1.0",
		Headers:   map[string]string{"Authorization": "Bearer " + token},
	}, a.Logger())
	return a, nil
}

// Schemas implements core.SourceAdapter.
func (a *Adapter) Schemas() []models.Schema {
	return []models.Schema{
		{
			Entity: EntityPosts,
			Fields: []models.Field{
				{Name: "id", Type: models.FieldTypeString, PrimaryKey: true},
				{Name: "name", Type: models.FieldTypeString},
				{Name: "tagline", Type: models.FieldTypeString},
				{Name: "description", Type: models.FieldTypeString},
				{Name: "url", Type: models.FieldTypeString},
				{Name: "votes_count", Type: models.FieldTypeInt},
				{Name: "comments_count", Type: models.FieldTypeInt},
				{Name: "topics", Type: models.FieldTypeJSON},
			},
		},
		{
			Entity: EntityComments,
			Fields: []models.Field{
				{Name: "id", Type: models.FieldTypeString, PrimaryKey: true},
				{Name: "post_id", Type: models.FieldTypeString},
				{Name: "body", Type: models.FieldTypeString},
				{Name: "votes_count", Type: models.FieldTypeInt},
				{Name: "username", Type: models.FieldTypeString},
				{Name: "sentiment_score", Type: models.FieldTypeFloat},
				{Name: "pain_point_score", Type: models.FieldTypeFloat},
			},
		},
		{
			Entity: EntityTopics,
			Fields: []models.Field{
				{Name: "id", Type: models.FieldTypeString, PrimaryKey: true},
				{Name: "launch_count", Type: models.FieldTypeInt},
				{Name: "total_votes", Type: models.FieldTypeInt},
			},
		},
		{
			Entity: EntityMakers,
			Fields: []models.Field{
				{Name: "id", Type: models.FieldTypeString, PrimaryKey: true},
				{Name: "name", Type: models.FieldTypeString},
				{Name: "username", Type: models.FieldTypeString},
				{Name: "product_count", Type: models.FieldTypeInt},
			},
		},
	}
}

// Scorer implements core.SourceAdapter.
func (a *Adapter) Scorer() core.Scorer { return a.scorer }

// Gates implements core.SourceAdapter. Comments are kept when they
// carry sentiment or name a pain point.
func (a *Adapter) Gates() []core.Gate {
	threshold := a.GateThreshold("comments", 0.5)
	return []core.Gate{{
		Kind: KindComments,
		Cap:  a.GateCap("comments", 100),
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

type graphQLResponse struct {
	Data struct {
		Posts struct {
			PageInfo struct {
				EndCursor   string `json:"endCursor"`
				HasNextPage bool   `json:"hasNextPage"`
			} `json:"pageInfo"`
			Edges []struct {
				Node struct {
					ID            string `json:"id"`
					Name          string `json:"name"`
					Tagline       string `json:"tagline"`
					Description   string `json:"description"`
					URL           string `json:"url"`
					VotesCount    int    `json:"votesCount"`
					CommentsCount int    `json:"commentsCount"`
					CreatedAt     string `json:"createdAt"`
					Topics        struct {
						Edges []struct {
							Node struct {
								Slug string `json:"slug"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"topics"`
					Makers []struct {
						ID       string `json:"id"`
						Name     string `json:"name"`
						Username string `json:"username"`
					} `json:"makers"`
					Comments struct {
						Edges []struct {
							Node struct {
								ID         string `json:"id"`
								Body       string `json:"body"`
								VotesCount int    `json:"votesCount"`
								CreatedAt  string `json:"createdAt"`
								User       struct {
									Username string `json:"username"`
								} `json:"user"`
							} `json:"node"`
						} `json:"edges"`
					} `json:"comments"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"posts"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchPrimary implements core.SourceAdapter for one topic page.
func (a *Adapter) FetchPrimary(ctx context.Context, topic, pageToken string) (*core.Page, error) {
	variables := map[string]interface{}{
		"topic": topic,
		"first": 20,
	}
	if pageToken != "" {
		variables["after"] = pageToken
	}

	var resp graphQLResponse
	body := map[string]interface{}{"query": postsQuery, "variables": variables}
	if err := a.client.PostJSON(ctx, "/graphql", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, errors.New(errors.ErrorTypeExtraction, "graphql query failed").
			WithDetail("message", resp.Errors[0].Message)
	}

	page := &core.Page{}
	if resp.Data.Posts.PageInfo.HasNextPage {
		page.NextToken = resp.Data.Posts.PageInfo.EndCursor
	}

	for _, edge := range resp.Data.Posts.Edges {
		node := edge.Node
		if node.ID == "" {
			continue
		}

		topics := make([]string, 0, len(node.Topics.Edges))
		for _, t := range node.Topics.Edges {
			topics = append(topics, t.Node.Slug)
		}
		makers := make([]map[string]string, 0, len(node.Makers))
		for _, m := range node.Makers {
			makers = append(makers, map[string]string{
				"id":       m.ID,
				"name":     m.Name,
				"username": m.Username,
			})
		}
		comments := make([]map[string]interface{}, 0, len(node.Comments.Edges))
		for _, c := range node.Comments.Edges {
			comments = append(comments, map[string]interface{}{
				"id":          c.Node.ID,
				"body":        c.Node.Body,
				"votes_count": c.Node.VotesCount,
				"created_at":  c.Node.CreatedAt,
				"username":    c.Node.User.Username,
			})
		}

		rec := models.NewRecord(node.ID, EntityPosts, "producthunt")
		rec.ObservedAt = models.NormalizeTimestamp(node.CreatedAt)
		rec.Set("name", node.Name).
			Set("tagline", node.Tagline).
			Set("description", node.Description).
			Set("url", node.URL).
			Set("votes_count", node.VotesCount).
			Set("comments_count", node.CommentsCount).
			Set("topic_dimension", topic).
			Set("topics", topics).
			Set("makers", makers).
			Set("comments", comments)
		page.Records = append(page.Records, rec)
	}
	return page, nil
}

// FetchSecondary implements core.SourceAdapter. Comments were already
// fetched with the post, so the gate is served from the cached payload.
func (a *Adapter) FetchSecondary(_ context.Context, kind core.SecondaryKind, candidate *models.Record) ([]*models.Record, error) {
	if kind != KindComments {
		return nil, errors.New(errors.ErrorTypeInternal, "unsupported secondary kind").
			WithDetail("kind", string(kind))
	}

	nodes, _ := candidate.Payload["comments"].([]map[string]interface{})
	recs := make([]*models.Record, 0, len(nodes))
	for _, node := range nodes {
		id, _ := node["id"].(string)
		if id == "" {
			continue
		}
		body, _ := node["body"].(string)
		votes, _ := node["votes_count"].(int)
		username, _ := node["username"].(string)

		rec := models.NewRecord(id, EntityComments, "producthunt")
		rec.ObservedAt = models.NormalizeTimestamp(node["created_at"])
		rec.Set("post_id", candidate.ID).
			Set("body", body).
			Set("votes_count", votes).
			Set("username", username).
			Set(scoring.FieldSentimentScore, scoring.Sentiment(body)).
			Set(scoring.FieldPainPointScore, scoring.PainPoint(body))
		recs = append(recs, rec)
	}
	return recs, nil
}

// DeriveTertiary synthesizes per-topic launch aggregates and maker
// profiles from the session's posts, without further API calls.
func (a *Adapter) DeriveTertiary(session map[models.EntityType][]*models.Record) []*models.Record {
	type topicAgg struct {
		launches int
		votes    int
	}
	type makerAgg struct {
		name     string
		username string
		products int
	}
	aggs := make(map[string]*topicAgg)
	makers := make(map[string]*makerAgg)

	for _, rec := range session[EntityPosts] {
		votes, _ := rec.GetFloat("votes_count")
		topics, _ := rec.Payload["topics"].([]string)
		for _, slug := range topics {
			agg, ok := aggs[slug]
			if !ok {
				agg = &topicAgg{}
				aggs[slug] = agg
			}
			agg.launches++
			agg.votes += int(votes)
		}

		nodes, _ := rec.Payload["makers"].([]map[string]string)
		for _, node := range nodes {
			id := node["id"]
			if id == "" {
				continue
			}
			m, ok := makers[id]
			if !ok {
				m = &makerAgg{name: node["name"], username: node["username"]}
				makers[id] = m
			}
			m.products++
		}
	}

	slugs := make([]string, 0, len(aggs))
	for slug := range aggs {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	now := models.NormalizeTimestamp(nil)
	recs := make([]*models.Record, 0, len(slugs))
	for _, slug := range slugs {
		agg := aggs[slug]
		// Daily grain so aggregates refresh each day instead of being
		// deduplicated away forever.
		rec := models.NewRecord(fmt.Sprintf("%s:%s", slug, now.Format("2006-01-02")), EntityTopics, "producthunt")
		rec.Set("topic", slug).
			Set("launch_count", agg.launches).
			Set("total_votes", agg.votes)
		recs = append(recs, rec)
	}

	makerIDs := make([]string, 0, len(makers))
	for id := range makers {
		makerIDs = append(makerIDs, id)
	}
	sort.Strings(makerIDs)
	for _, id := range makerIDs {
		m := makers[id]
		rec := models.NewRecord(id, EntityMakers, "producthunt")
		rec.Set("name", m.name).
			Set("username", m.username).
			Set("product_count", m.products)
		recs = append(recs, rec)
	}
	return recs
}

// HealthCheck implements core.SourceAdapter with a minimal viewer query.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	var resp struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	body := map[string]interface{}{"query": "query { viewer { user { id } } }"}
	if err := a.client.PostJSON(ctx, "/graphql", body, &resp); err != nil {
		return err
	}
	if len(resp.Errors) > 0 {
		return errors.New(errors.ErrorTypeAuthentication, "graphql viewer query rejected").
			WithDetail("message", resp.Errors[0].Message)
	}
	return nil
}
