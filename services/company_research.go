package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/krshsl/mockmate/cache"
	"github.com/krshsl/mockmate/llm"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// DefaultCompanyTTL is how long research results are reused per company
const DefaultCompanyTTL = 24 * time.Hour

const resultsPerQuery = 5

// ErrNoResearch means no company context could be produced; callers fall back to the bare name
var ErrNoResearch = errors.New("company research unavailable")

// SearchResult is one web search hit
type SearchResult struct {
	Title   string
	Snippet string
	Link    string
}

// Searcher runs a single web query
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]SearchResult, error)
}

// GoogleSearcher queries the Programmable Search Engine (customsearch/v1)
type GoogleSearcher struct {
	service  *customsearch.Service
	engineID string
}

// NewGoogleSearcher returns nil, nil when credentials are not configured
func NewGoogleSearcher(ctx context.Context, apiKey, engineID string, opts ...option.ClientOption) (*GoogleSearcher, error) {
	if apiKey == "" || engineID == "" {
		return nil, nil
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	service, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search client: %w", err)
	}
	return &GoogleSearcher{service: service, engineID: engineID}, nil
}

func (g *GoogleSearcher) Search(ctx context.Context, query string, num int) ([]SearchResult, error) {
	resp, err := g.service.Cse.List().Cx(g.engineID).Q(query).Num(int64(num)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to search %q: %w", query, err)
	}
	results := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, SearchResult{Title: item.Title, Snippet: item.Snippet, Link: item.Link})
	}
	return results, nil
}

// CompanyContext is the summarised research for one company
type CompanyContext struct {
	CompanyName    string   `json:"company_name"`
	CompanySummary string   `json:"company_summary"`
	KeyFocusAreas  []string `json:"key_focus_areas"`
}

// Text renders the context as the summary stored on a session
func (c CompanyContext) Text() string {
	var sb strings.Builder
	sb.WriteString(c.CompanyName)
	if c.CompanySummary != "" {
		sb.WriteString(": ")
		sb.WriteString(c.CompanySummary)
	}
	if len(c.KeyFocusAreas) > 0 {
		sb.WriteString("\nKey focus areas: ")
		sb.WriteString(strings.Join(c.KeyFocusAreas, ", "))
	}
	return sb.String()
}

// CompanyResearch is the cache-or-fetch research collaborator
type CompanyResearch struct {
	searcher Searcher
	gateway  *llm.Gateway
	provider llm.ProviderName
	builder  *PromptBuilder
	cache    cache.Cache
	ttl      time.Duration
	group    singleflight.Group
}

func NewCompanyResearch(searcher Searcher, gateway *llm.Gateway, provider llm.ProviderName, c cache.Cache, ttl time.Duration) *CompanyResearch {
	if c == nil {
		c = cache.NewFallback(nil)
	}
	if ttl <= 0 {
		ttl = DefaultCompanyTTL
	}
	return &CompanyResearch{
		searcher: searcher,
		gateway:  gateway,
		provider: provider,
		builder:  NewPromptBuilder(),
		cache:    c,
		ttl:      ttl,
	}
}

func companyKey(company string) string {
	return cache.CompanyPrefix + strings.ToLower(strings.TrimSpace(company))
}

// Research returns the company context, from cache when available.
// Concurrent lookups for the same company share one fetch.
func (r *CompanyResearch) Research(ctx context.Context, company string) (*CompanyContext, error) {
	company = strings.TrimSpace(company)
	if company == "" {
		return nil, ErrNoResearch
	}
	key := companyKey(company)

	var cached CompanyContext
	if found, _ := r.cache.Get(ctx, key, &cached); found {
		slog.Debug("Company context served from cache", "company", company)
		return &cached, nil
	}
	if r.searcher == nil {
		return nil, ErrNoResearch
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.fetch(ctx, company)
	})
	if err != nil {
		slog.Warn("Company research failed", "company", company, "error", err)
		return nil, ErrNoResearch
	}
	result := v.(*CompanyContext)
	r.cache.Set(ctx, key, result, r.ttl)
	return result, nil
}

func (r *CompanyResearch) fetch(ctx context.Context, company string) (*CompanyContext, error) {
	queries := []string{
		company + " company overview",
		company + " products services",
		company + " engineering culture",
		company + " recent news",
	}

	results := make([][]SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			hits, err := r.searcher.Search(gctx, q, resultsPerQuery)
			if err != nil {
				// One failed query does not sink the others
				slog.Warn("Company search query failed", "query", q, "error", err)
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var snippets []string
	for _, hits := range results {
		for _, h := range hits {
			if s := strings.TrimSpace(h.Snippet); s != "" {
				snippets = append(snippets, s)
			}
		}
	}
	if len(snippets) == 0 {
		return nil, fmt.Errorf("no search results for %q", company)
	}

	summary, err := r.summarize(ctx, company, snippets)
	if err == nil {
		return summary, nil
	}
	slog.Warn("Company summarisation failed, using raw snippets", "company", company, "error", err)

	joined := snippets
	if len(joined) > 5 {
		joined = joined[:5]
	}
	return &CompanyContext{
		CompanyName:    company,
		CompanySummary: strings.Join(joined, " "),
	}, nil
}

func (r *CompanyResearch) summarize(ctx context.Context, company string, snippets []string) (*CompanyContext, error) {
	if r.gateway == nil {
		return nil, llm.NotConfigured(r.provider)
	}
	prompt := r.builder.CompanySummary(company, snippets)
	res, err := r.gateway.Generate(ctx, r.provider, prompt.Request(""))
	if err != nil {
		return nil, err
	}

	var summary CompanyContext
	if err := json.Unmarshal([]byte(stripCodeFence(res.Text)), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse company summary: %w", err)
	}
	if strings.TrimSpace(summary.CompanySummary) == "" {
		return nil, fmt.Errorf("empty company summary")
	}
	if summary.CompanyName == "" {
		summary.CompanyName = company
	}
	return &summary, nil
}

// stripCodeFence removes a surrounding ```json ... ``` block from model output
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
