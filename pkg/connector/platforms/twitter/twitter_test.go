package twitter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/models"
)

const searchResponse = `{
  "data": [
    {
      "id": "1001",
      "text": "I am so frustrated with manual invoicing, wish there was a tool #automation",
      "author_id": "42",
      "created_at": "2026-01-05T10:00:00Z",
      "public_metrics": {"retweet_count": 8, "reply_count": 3, "like_count": 25, "quote_count": 1}
    },
    {
      "id": "1002",
      "text": "good morning",
      "author_id": "43",
      "created_at": "2026-01-05T10:01:00Z",
      "public_metrics": {"retweet_count": 0, "reply_count": 0, "like_count": 1, "quote_count": 0}
    }
  ],
  "meta": {"next_token": "tok2", "result_count": 2}
}`

const userResponse = `{
  "data": {
    "id": "42",
    "username": "builder",
    "name": "Builder",
    "description": "indie hacker",
    "verified": true,
    "public_metrics": {"followers_count": 50000, "following_count": 100, "tweet_count": 900}
  }
}`

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/2/tweets/search/recent":
			assert.Contains(t, r.URL.Query().Get("query"), "-is:retweet")
			w.Write([]byte(searchResponse))
		case "/2/users/42":
			w.Write([]byte(userResponse))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	cfg := &config.ConnectorConfig{
		Platform:       "twitter",
		Credentials:    map[string]string{"bearer_token": "tok"},
		Dimensions:     []string{`"wish there was"`},
		SecondaryLimit: 25,
		BaseURL:        server.URL,
	}

	adapter, err := New(cfg)
	require.NoError(t, err)
	return adapter
}

func TestNewRequiresBearerToken(t *testing.T) {
	_, err := New(&config.ConnectorConfig{
		Platform:   "twitter",
		Dimensions: []string{"q"},
	})
	assert.Error(t, err)
}

func TestFetchPrimaryParsesTweets(t *testing.T) {
	adapter := newTestAdapter(t)

	page, err := adapter.FetchPrimary(context.Background(), `"wish there was"`, "")
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "tok2", page.NextToken)

	tweet := page.Records[0]
	assert.Equal(t, "1001", tweet.ID)
	assert.Equal(t, EntityTweets, tweet.EntityType)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), tweet.ObservedAt)

	engagement, _ := tweet.GetFloat("engagement_score")
	assert.Equal(t, 44.0, engagement)
	assert.Equal(t, []string{"automation"}, tweet.Payload["hashtags"])
}

func TestGatePassesHighEngagementOnly(t *testing.T) {
	adapter := newTestAdapter(t)
	gates := adapter.Gates()
	require.Len(t, gates, 1)

	page, err := adapter.FetchPrimary(context.Background(), `"wish there was"`, "")
	require.NoError(t, err)

	assert.True(t, gates[0].Pass(page.Records[0]))
	assert.False(t, gates[0].Pass(page.Records[1]))
}

func TestFetchSecondaryResolvesAuthor(t *testing.T) {
	adapter := newTestAdapter(t)
	candidate := models.NewRecord("1001", EntityTweets, "twitter")
	candidate.Set("author_id", "42")

	recs, err := adapter.FetchSecondary(context.Background(), KindAuthors, candidate)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	user := recs[0]
	assert.Equal(t, "42", user.ID)
	assert.Equal(t, EntityUsers, user.EntityType)
	username, _ := user.GetString("username")
	assert.Equal(t, "builder", username)

	influence, _ := user.GetFloat("influence_score")
	assert.InDelta(t, 0.7, influence, 1e-9)
}

func TestFetchSecondaryWithoutAuthorIsNoop(t *testing.T) {
	adapter := newTestAdapter(t)
	candidate := models.NewRecord("1001", EntityTweets, "twitter")

	recs, err := adapter.FetchSecondary(context.Background(), KindAuthors, candidate)
	require.NoError(t, err)
	assert.Nil(t, recs)
}

func TestInfluenceCapsAndVerifiedBonus(t *testing.T) {
	assert.InDelta(t, 1.0, influence(5000000, true), 1e-9)
	assert.InDelta(t, 0.8, influence(5000000, false), 1e-9)
	assert.InDelta(t, 0.01, influence(1000, false), 1e-9)
}

func TestHealthCheck(t *testing.T) {
	adapter := newTestAdapter(t)
	assert.NoError(t, adapter.HealthCheck(context.Background()))
}
