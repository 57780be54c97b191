// Package trends extracts daily trending searches per geography from
// the unofficial Google Trends endpoint, fanning heavily trafficked
// searches out into related query records.
package trends

import (
	"bytes"
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ideagen/harvester/pkg/clients"
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/base"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
	"github.com/ideagen/harvester/pkg/scoring"
)

const (
	// EntitySearches is the primary entity table.
	EntitySearches models.EntityType = "trends_trending_searches"
	// EntityRelated holds related queries for gated searches.
	EntityRelated models.EntityType = "trends_related_queries"

	// KindRelated gates related query expansion per trending search.
	KindRelated core.SecondaryKind = "related"

	defaultAPIURL = "https://trends.google.com"
	userAgent     = "harvester/1.0 (idea signal extraction)"
)

// xssiPrefix guards the endpoint's JSON body and must be stripped
// before decoding.
var xssiPrefix = []byte(")]}'")

// Adapter fetches daily trends for each configured geo code.
type Adapter struct {
	base.Adapter
	client *clients.APIClient
}

// New creates the trends adapter. The endpoint is unauthenticated, so
// no credentials are required.
func New(cfg *config.ConnectorConfig) (*Adapter, error) {
	if len(cfg.Dimensions) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no geo codes configured")
	}

	apiURL := cfg.BaseURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	a := &Adapter{Adapter: base.NewAdapter("trends", cfg)}
	a.client = clients.NewAPIClient(clients.APIClientConfig{
		BaseURL:   apiURL,
		UserAgent: userAgent,
	}, a.Logger())
	return a, nil
}

// Schemas implements core.SourceAdapter.
func (a *Adapter) Schemas() []models.Schema {
	id := models.Field{Name: "id", Type: models.FieldTypeString, PrimaryKey: true}
	return []models.Schema{
		{Entity: EntitySearches, Fields: []models.Field{
			id,
			{Name: "query", Type: models.FieldTypeString},
			{Name: "geo", Type: models.FieldTypeString},
			{Name: "traffic", Type: models.FieldTypeInt},
			{Name: "articles", Type: models.FieldTypeJSON},
		}},
		{Entity: EntityRelated, Fields: []models.Field{
			id,
			{Name: "query", Type: models.FieldTypeString},
			{Name: "parent_query", Type: models.FieldTypeString},
			{Name: "geo", Type: models.FieldTypeString},
		}},
	}
}

// Scorer implements core.SourceAdapter. Trend relevance is traffic
// volume on a log-ish scale rather than text signals.
func (a *Adapter) Scorer() core.Scorer { return trafficScorer{} }

// Gates implements core.SourceAdapter. Searches above the traffic
// threshold expand into their related queries.
func (a *Adapter) Gates() []core.Gate {
	minTraffic := a.GateThreshold("traffic", 100000)
	return []core.Gate{{
		Kind: KindRelated,
		Cap:  a.GateCap("related", 25),
		Pass: func(rec *models.Record) bool {
			traffic, _ := rec.GetFloat("traffic")
			return traffic >= minTraffic
		},
	}}
}

type dailyTrends struct {
	Default struct {
		TrendingSearchesDays []struct {
			Date             string `json:"date"`
			TrendingSearches []struct {
				Title struct {
					Query string `json:"query"`
				} `json:"title"`
				FormattedTraffic string `json:"formattedTraffic"`
				RelatedQueries   []struct {
					Query string `json:"query"`
				} `json:"relatedQueries"`
				Articles []struct {
					Title  string `json:"title"`
					URL    string `json:"url"`
					Source string `json:"source"`
				} `json:"articles"`
			} `json:"trendingSearches"`
		} `json:"trendingSearchesDays"`
	} `json:"default"`
}

// FetchPrimary implements core.SourceAdapter for one geo code. The
// endpoint returns the full day at once, so there is no pagination.
func (a *Adapter) FetchPrimary(ctx context.Context, geo, pageToken string) (*core.Page, error) {
	if pageToken != "" {
		return &core.Page{}, nil
	}

	params := url.Values{
		"hl":  []string{"en-US"},
		"tz":  []string{"0"},
		"geo": []string{geo},
	}
	raw, err := a.client.GetRaw(ctx, "/trends/api/dailytrends", params)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimPrefix(bytes.TrimSpace(raw), xssiPrefix)

	var resp dailyTrends
	if err := json.Unmarshal(bytes.TrimSpace(raw), &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExtraction, "decode daily trends").
			WithDetail("geo", geo)
	}

	page := &core.Page{}
	for _, day := range resp.Default.TrendingSearchesDays {
		observed := parseTrendDate(day.Date)
		for _, search := range day.TrendingSearches {
			query := search.Title.Query
			if query == "" {
				continue
			}

			related := make([]string, 0, len(search.RelatedQueries))
			for _, rq := range search.RelatedQueries {
				related = append(related, rq.Query)
			}
			articles := make([]map[string]string, 0, len(search.Articles))
			for _, art := range search.Articles {
				articles = append(articles, map[string]string{
					"title":  art.Title,
					"url":    art.URL,
					"source": art.Source,
				})
			}

			rec := models.NewRecord(trendID(geo, query, day.Date), EntitySearches, "trends")
			rec.ObservedAt = observed
			rec.Set("query", query).
				Set("geo", geo).
				Set("date", day.Date).
				Set("traffic", parseTraffic(search.FormattedTraffic)).
				Set("related_queries", related).
				Set("articles", articles)
			page.Records = append(page.Records, rec)
		}
	}
	return page, nil
}

// FetchSecondary implements core.SourceAdapter. Related queries ride
// along in the daily trends payload, so expansion reads the candidate
// instead of calling the API again.
func (a *Adapter) FetchSecondary(ctx context.Context, kind core.SecondaryKind, candidate *models.Record) ([]*models.Record, error) {
	if kind != KindRelated {
		return nil, errors.New(errors.ErrorTypeInternal, "unsupported secondary kind").
			WithDetail("kind", string(kind))
	}

	related, _ := candidate.Payload["related_queries"].([]string)
	geo, _ := candidate.GetString("geo")
	parent, _ := candidate.GetString("query")
	date, _ := candidate.GetString("date")

	recs := make([]*models.Record, 0, len(related))
	for _, query := range related {
		if query == "" {
			continue
		}
		rec := models.NewRecord(trendID(geo, parent+">"+query, date), EntityRelated, "trends")
		rec.ObservedAt = candidate.ObservedAt
		rec.Set("query", query).
			Set("parent_query", parent).
			Set("geo", geo).
			Set(scoring.FieldPainPointScore, scoring.PainPoint(query))
		recs = append(recs, rec)
	}
	return recs, nil
}

// HealthCheck implements core.SourceAdapter against the first geo.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	params := url.Values{
		"hl":  []string{"en-US"},
		"tz":  []string{"0"},
		"geo": []string{a.Dimensions()[0]},
	}
	_, err := a.client.GetRaw(ctx, "/trends/api/dailytrends", params)
	return err
}

func trendID(geo, query, date string) string {
	return strings.ToLower(geo + ":" + strings.ReplaceAll(query, " ", "-") + ":" + date)
}

// parseTrendDate handles the endpoint's YYYYMMDD dates.
func parseTrendDate(s string) time.Time {
	t, err := time.Parse("20060102", s)
	if err != nil {
		return time.Now().UTC()
	}
	return t.UTC()
}

// parseTraffic converts formatted counts like "200K+" or "1M+" into
// approximate integers.
func parseTraffic(s string) int {
	s = strings.TrimSuffix(strings.TrimSpace(s), "+")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}

	mult := 1
	switch {
	case strings.HasSuffix(s, "M"):
		mult = 1000000
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult = 1000
		s = strings.TrimSuffix(s, "K")
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(n * float64(mult))
}

// trafficScorer maps traffic onto relevance. Daily trends mostly sit
// in the 20K to 500K band, so 50K+ already scores a full 1.0.
type trafficScorer struct{}

func (trafficScorer) Score(rec *models.Record) map[string]interface{} {
	traffic, _ := rec.GetFloat("traffic")
	relevance := traffic / 50000.0
	if relevance > 1.0 {
		relevance = 1.0
	}
	return map[string]interface{}{scoring.FieldRelevanceScore: relevance}
}
