// Package github extracts recently created repositories matching the
// configured search dimensions, then fans out into issues, commits,
// contributors, and derived organization records.
package github

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/base"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/models"
	"github.com/ideagen/harvester/pkg/scoring"
)

// Entity tables emitted by this adapter.
const (
	EntityRepos         models.EntityType = "github_trending_repos"
	EntityIssues        models.EntityType = "github_issues"
	EntityCommits       models.EntityType = "github_commits"
	EntityContributors  models.EntityType = "github_contributors"
	EntityOrganizations models.EntityType = "github_organizations"
)

// Secondary kinds gated per repository.
const (
	KindIssues       core.SecondaryKind = "issues"
	KindCommits      core.SecondaryKind = "commits"
	KindContributors core.SecondaryKind = "contributors"
)

// Adapter drives the GitHub REST API through go-github.
type Adapter struct {
	base.Adapter
	client *gh.Client
}

// New creates the GitHub adapter with token authentication.
func New(cfg *config.ConnectorConfig) (*Adapter, error) {
	token, err := cfg.Credential("token")
	if err != nil {
		return nil, err
	}
	if len(cfg.Dimensions) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no search dimensions configured")
	}

	client := gh.NewClient(nil).WithAuthToken(token)
	if cfg.BaseURL != "" {
		baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid base url")
		}
		client.BaseURL = baseURL
	}

	return &Adapter{
		Adapter: base.NewAdapter("github", cfg),
		client:  client,
	}, nil
}

// Schemas implements core.SourceAdapter.
func (a *Adapter) Schemas() []models.Schema {
	id := models.Field{Name: "id", Type: models.FieldTypeString, PrimaryKey: true}
	return []models.Schema{
		{Entity: EntityRepos, Fields: []models.Field{
			id,
			{Name: "full_name", Type: models.FieldTypeString},
			{Name: "description", Type: models.FieldTypeString},
			{Name: "language", Type: models.FieldTypeString},
			{Name: "stars", Type: models.FieldTypeInt},
			{Name: "forks", Type: models.FieldTypeInt},
			{Name: "topics", Type: models.FieldTypeJSON},
		}},
		{Entity: EntityIssues, Fields: []models.Field{
			id,
			{Name: "repo", Type: models.FieldTypeString},
			{Name: "title", Type: models.FieldTypeString},
			{Name: "state", Type: models.FieldTypeString},
		}},
		{Entity: EntityCommits, Fields: []models.Field{
			id,
			{Name: "repo", Type: models.FieldTypeString},
			{Name: "message", Type: models.FieldTypeString},
		}},
		{Entity: EntityContributors, Fields: []models.Field{
			id,
			{Name: "repo", Type: models.FieldTypeString},
			{Name: "contributions", Type: models.FieldTypeInt},
		}},
		{Entity: EntityOrganizations, Fields: []models.Field{
			id,
			{Name: "repo_count", Type: models.FieldTypeInt},
			{Name: "total_stars", Type: models.FieldTypeInt},
		}},
	}
}

// Scorer implements core.SourceAdapter.
func (a *Adapter) Scorer() core.Scorer {
	return &repoScorer{keywords: a.Config().Keywords}
}

// Gates implements core.SourceAdapter. All three gates share the
// high-value repo test; the shrinking caps (50, 20, 10) mean commits
// and contributors cover the earliest qualifying repos only.
func (a *Adapter) Gates() []core.Gate {
	innovationMin := a.GateThreshold("innovation", 0.7)
	trendMin := a.GateThreshold("trend", 50)
	starsMin := a.GateThreshold("stars", 500)
	expertiseMin := a.GateThreshold("expertise", 0.6)

	highValue := func(rec *models.Record) bool {
		innovation, _ := rec.GetFloat(scoring.FieldInnovationPotential)
		trend, _ := rec.GetFloat("trend_score")
		stars, _ := rec.GetFloat("stars")
		return innovation >= innovationMin || trend >= trendMin || stars >= starsMin
	}

	return []core.Gate{
		{
			Kind: KindIssues,
			Cap:  a.GateCap("issues", 50),
			Pass: highValue,
			Filter: func(rec *models.Record) bool {
				feature, _ := rec.GetFloat(scoring.FieldFeatureRequestScore)
				pain, _ := rec.GetFloat(scoring.FieldPainPointScore)
				return feature >= 0.3 || pain >= 0.3
			},
		},
		{
			Kind: KindCommits,
			Cap:  a.GateCap("commits", 20),
			Pass: highValue,
			Filter: func(rec *models.Record) bool {
				message, _ := rec.GetString("message")
				return scoring.FeatureRequest(message) > 0 || scoring.Innovation(message) > 0
			},
		},
		{
			Kind: KindContributors,
			Cap:  a.GateCap("contributors", 10),
			Pass: highValue,
			Filter: func(rec *models.Record) bool {
				expertise, _ := rec.GetFloat("expertise_score")
				return expertise >= expertiseMin
			},
		},
	}
}

// FetchPrimary implements core.SourceAdapter. A dimension is a search
// qualifier such as "topic:saas" or "language:go"; the adapter narrows
// it to repositories created within the lookback window. Page tokens
// are search result page numbers.
func (a *Adapter) FetchPrimary(ctx context.Context, dimension, pageToken string) (*core.Page, error) {
	pageNum := 1
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "bad page token")
		}
		pageNum = n
	}

	lookback := a.Config().Lookback
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	since := time.Now().UTC().Add(-lookback).Format("2006-01-02")
	query := fmt.Sprintf("%s created:>%s", dimension, since)
	opts := &gh.SearchOptions{
		Sort:        "stars",
		Order:       "desc",
		ListOptions: gh.ListOptions{PerPage: 30, Page: pageNum},
	}

	result, resp, err := a.client.Search.Repositories(ctx, query, opts)
	if err != nil {
		return nil, classifyGitHubError(err, "search repositories")
	}

	page := &core.Page{}
	if resp.NextPage > 0 {
		page.NextToken = strconv.Itoa(resp.NextPage)
	}
	for _, repo := range result.Repositories {
		if rec := repoRecord(repo); rec != nil {
			page.Records = append(page.Records, rec)
		}
	}
	return page, nil
}

func repoRecord(repo *gh.Repository) *models.Record {
	fullName := repo.GetFullName()
	if fullName == "" {
		return nil
	}

	rec := models.NewRecord(fullName, EntityRepos, "github")
	rec.ObservedAt = repo.GetCreatedAt().Time.UTC()
	rec.Set("full_name", fullName).
		Set("owner", repo.GetOwner().GetLogin()).
		Set("owner_type", repo.GetOwner().GetType()).
		Set("name", repo.GetName()).
		Set("description", repo.GetDescription()).
		Set("language", repo.GetLanguage()).
		Set("stars", repo.GetStargazersCount()).
		Set("forks", repo.GetForksCount()).
		Set("open_issues", repo.GetOpenIssuesCount()).
		Set("topics", repo.Topics).
		Set("html_url", repo.GetHTMLURL())
	return rec
}

// FetchSecondary implements core.SourceAdapter for one repository.
func (a *Adapter) FetchSecondary(ctx context.Context, kind core.SecondaryKind, candidate *models.Record) ([]*models.Record, error) {
	owner, _ := candidate.GetString("owner")
	name, _ := candidate.GetString("name")
	if owner == "" || name == "" {
		return nil, errors.New(errors.ErrorTypeInternal, "candidate missing repo coordinates").
			WithDetail("candidate", candidate.ID)
	}
	limit := a.Config().SecondaryLimit

	switch kind {
	case KindIssues:
		return a.fetchIssues(ctx, owner, name, limit)
	case KindCommits:
		return a.fetchCommits(ctx, owner, name, limit)
	case KindContributors:
		return a.fetchContributors(ctx, owner, name, limit)
	default:
		return nil, errors.New(errors.ErrorTypeInternal, "unsupported secondary kind").
			WithDetail("kind", string(kind))
	}
}

func (a *Adapter) fetchIssues(ctx context.Context, owner, name string, limit int) ([]*models.Record, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: limit},
	}
	issues, _, err := a.client.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, classifyGitHubError(err, "list issues")
	}

	repo := owner + "/" + name
	var recs []*models.Record
	for _, issue := range issues {
		if issue.IsPullRequest() {
			continue
		}
		text := issue.GetTitle() + " " + issue.GetBody()

		rec := models.NewRecord(fmt.Sprintf("%s#%d", repo, issue.GetNumber()), EntityIssues, "github")
		rec.ObservedAt = issue.GetCreatedAt().Time.UTC()
		rec.Set("repo", repo).
			Set("number", issue.GetNumber()).
			Set("title", issue.GetTitle()).
			Set("body", issue.GetBody()).
			Set("state", issue.GetState()).
			Set("comments", issue.GetComments()).
			Set(scoring.FieldFeatureRequestScore, scoring.FeatureRequest(text)).
			Set(scoring.FieldPainPointScore, scoring.PainPoint(text))
		recs = append(recs, rec)
	}
	return recs, nil
}

func (a *Adapter) fetchCommits(ctx context.Context, owner, name string, limit int) ([]*models.Record, error) {
	opts := &gh.CommitsListOptions{ListOptions: gh.ListOptions{PerPage: limit}}
	commits, _, err := a.client.Repositories.ListCommits(ctx, owner, name, opts)
	if err != nil {
		return nil, classifyGitHubError(err, "list commits")
	}

	repo := owner + "/" + name
	var recs []*models.Record
	for _, commit := range commits {
		sha := commit.GetSHA()
		if sha == "" {
			continue
		}

		rec := models.NewRecord(sha, EntityCommits, "github")
		rec.ObservedAt = commit.GetCommit().GetAuthor().GetDate().Time.UTC()
		rec.Set("repo", repo).
			Set("message", commit.GetCommit().GetMessage()).
			Set("author", commit.GetCommit().GetAuthor().GetName())
		recs = append(recs, rec)
	}
	return recs, nil
}

func (a *Adapter) fetchContributors(ctx context.Context, owner, name string, limit int) ([]*models.Record, error) {
	opts := &gh.ListContributorsOptions{ListOptions: gh.ListOptions{PerPage: limit}}
	contributors, _, err := a.client.Repositories.ListContributors(ctx, owner, name, opts)
	if err != nil {
		return nil, classifyGitHubError(err, "list contributors")
	}

	repo := owner + "/" + name
	var recs []*models.Record
	for _, c := range contributors {
		login := c.GetLogin()
		if login == "" {
			continue
		}

		contributions := c.GetContributions()
		expertise := float64(contributions) / 100.0
		if expertise > 1.0 {
			expertise = 1.0
		}

		rec := models.NewRecord(repo+":"+login, EntityContributors, "github")
		rec.Set("repo", repo).
			Set("login", login).
			Set("contributions", contributions).
			Set("expertise_score", expertise)
		recs = append(recs, rec)
	}
	return recs, nil
}

// DeriveTertiary rolls repositories owned by organizations up into
// per-organization aggregates.
func (a *Adapter) DeriveTertiary(session map[models.EntityType][]*models.Record) []*models.Record {
	type orgAgg struct {
		repos int
		stars int
	}
	aggs := make(map[string]*orgAgg)

	for _, rec := range session[EntityRepos] {
		ownerType, _ := rec.GetString("owner_type")
		if ownerType != "Organization" {
			continue
		}
		owner, _ := rec.GetString("owner")
		stars, _ := rec.GetFloat("stars")

		agg, ok := aggs[owner]
		if !ok {
			agg = &orgAgg{}
			aggs[owner] = agg
		}
		agg.repos++
		agg.stars += int(stars)
	}

	logins := make([]string, 0, len(aggs))
	for login := range aggs {
		logins = append(logins, login)
	}
	sort.Strings(logins)

	recs := make([]*models.Record, 0, len(logins))
	for _, login := range logins {
		agg := aggs[login]
		rec := models.NewRecord(login, EntityOrganizations, "github")
		rec.Set("login", login).
			Set("repo_count", agg.repos).
			Set("total_stars", agg.stars)
		recs = append(recs, rec)
	}
	return recs
}

// HealthCheck implements core.SourceAdapter via the rate limit
// endpoint, which verifies both connectivity and credentials.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, _, err := a.client.RateLimit.Get(ctx)
	if err != nil {
		return classifyGitHubError(err, "rate limit probe")
	}
	return nil
}

// classifyGitHubError maps go-github errors into the shared taxonomy.
func classifyGitHubError(err error, op string) error {
	switch e := err.(type) {
	case *gh.RateLimitError:
		wrapped := errors.Wrap(err, errors.ErrorTypeRateLimit, op)
		if wait := time.Until(e.Rate.Reset.Time); wait > 0 {
			wrapped = wrapped.WithRetryAfter(wait)
		}
		return wrapped
	case *gh.AbuseRateLimitError:
		wrapped := errors.Wrap(err, errors.ErrorTypeRateLimit, op)
		if e.RetryAfter != nil {
			wrapped = wrapped.WithRetryAfter(*e.RetryAfter)
		}
		return wrapped
	case *gh.ErrorResponse:
		if e.Response != nil {
			switch e.Response.StatusCode {
			case 401, 403:
				return errors.Wrap(err, errors.ErrorTypeAuthentication, op)
			case 404:
				return errors.Wrap(err, errors.ErrorTypeNotFound, op)
			}
			if e.Response.StatusCode >= 500 {
				return errors.Wrap(err, errors.ErrorTypeConnection, op)
			}
		}
		return errors.Wrap(err, errors.ErrorTypeExtraction, op)
	default:
		return errors.Wrap(err, errors.ErrorTypeConnection, op)
	}
}

// repoScorer combines text signals with a star velocity trend score.
type repoScorer struct {
	keywords []string
}

// Score implements core.Scorer.
func (s *repoScorer) Score(rec *models.Record) map[string]interface{} {
	description, _ := rec.GetString("description")
	topics, _ := rec.Payload["topics"].([]string)
	text := description + " " + strings.Join(topics, " ")

	innovation := scoring.Innovation(text)
	stars, _ := rec.GetFloat("stars")

	ageDays := time.Since(rec.ObservedAt).Hours() / 24
	if ageDays < 1 {
		ageDays = 1
	}
	trend := stars / ageDays * 10
	if trend > 100 {
		trend = 100
	}

	relevance := innovation
	if trend/100 > relevance {
		relevance = trend / 100
	}
	for _, kw := range s.keywords {
		if strings.Contains(strings.ToLower(text), strings.ToLower(kw)) {
			relevance += 0.2
			if relevance > 1.0 {
				relevance = 1.0
			}
			break
		}
	}

	return map[string]interface{}{
		scoring.FieldInnovationPotential: innovation,
		"trend_score":                    trend,
		scoring.FieldRelevanceScore:      relevance,
	}
}
