// Package news scrapes market news and folds it into the strategy document.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// RefinementWindow is how many latest articles feed a strategy refinement
const RefinementWindow = 20

// RefinementSource tags strategy revisions written by the news cycle
const RefinementSource = "news-refinement"

// StrategyStore reads and writes the strategy document
type StrategyStore interface {
	GetCurrentStrategy() (string, error)
	UpdateStrategy(ctx context.Context, content, source string) error
}

// Config lists the news sources
type Config struct {
	Feeds   []string
	Pages   []PageSource
	Timeout time.Duration
}

// Service scrapes, stores and serves news
type Service struct {
	cfg       Config
	repo      *Repository
	feeds     *FeedScraper
	pages     *PageScraper
	generator domain.TextGenerator
	strategy  StrategyStore
	log       zerolog.Logger
}

// NewService creates the news service. generator and strategy may be nil,
// which disables strategy refinement.
func NewService(cfg Config, repo *Repository, generator domain.TextGenerator, strategy StrategyStore, log zerolog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	return &Service{
		cfg:       cfg,
		repo:      repo,
		feeds:     NewFeedScraper(cfg.Timeout),
		pages:     NewPageScraper(cfg.Timeout),
		generator: generator,
		strategy:  strategy,
		log:       log.With().Str("service", "news").Logger(),
	}
}

// ScrapeLatestNews reads every configured source and stores the articles.
// A failing source is recorded and skipped.
func (s *Service) ScrapeLatestNews(ctx context.Context) ([]domain.NewsArticle, error) {
	var articles []domain.NewsArticle

	for _, feedURL := range s.cfg.Feeds {
		source, items, err := s.feeds.Scrape(ctx, feedURL)
		articles = append(articles, s.recordSource(ctx, source, items, err)...)
	}
	for _, page := range s.cfg.Pages {
		source, items, err := s.pages.Scrape(ctx, page)
		articles = append(articles, s.recordSource(ctx, source, items, err)...)
	}

	articles = dedupeByURL(articles)
	if err := s.repo.UpsertArticles(ctx, articles); err != nil {
		return nil, fmt.Errorf("failed to store articles: %w", err)
	}

	s.log.Info().Int("articles", len(articles)).Msg("News scraped")
	return articles, nil
}

func (s *Service) recordSource(ctx context.Context, source string, items []domain.NewsArticle, scrapeErr error) []domain.NewsArticle {
	run := ScrapeRun{Source: source, ItemCount: len(items), Success: scrapeErr == nil}
	if scrapeErr != nil {
		run.ErrorMessage = scrapeErr.Error()
		s.log.Warn().Err(scrapeErr).Str("source", source).Msg("Failed to scrape news source")
	}
	if err := s.repo.RecordScrapeRun(ctx, run); err != nil {
		s.log.Warn().Err(err).Str("source", source).Msg("Failed to record scrape run")
	}
	if scrapeErr != nil {
		return nil
	}
	return items
}

// GetLatestNews returns the newest stored articles
func (s *Service) GetLatestNews(ctx context.Context, limit int) ([]domain.NewsArticle, error) {
	if limit <= 0 {
		limit = RefinementWindow
	}
	return s.repo.GetLatest(ctx, limit, 0)
}

// Repository exposes the backing repository for paged reads
func (s *Service) Repository() *Repository {
	return s.repo
}

type promptArticle struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Source  string `json:"source"`
}

// RefineStrategyWithNews asks the model to rewrite the strategy using the latest
// news and stores a non-empty answer. It reports whether the strategy changed.
func (s *Service) RefineStrategyWithNews(ctx context.Context) (bool, error) {
	if s.generator == nil || s.strategy == nil {
		return false, nil
	}

	latest, err := s.GetLatestNews(ctx, RefinementWindow)
	if err != nil {
		return false, err
	}
	if len(latest) == 0 {
		return false, nil
	}

	current, err := s.strategy.GetCurrentStrategy()
	if err != nil {
		return false, fmt.Errorf("failed to read strategy: %w", err)
	}

	updated := strings.TrimSpace(s.generator.GenerateText(ctx, BuildRefinementPrompt(current, latest)))
	if updated == "" {
		s.log.Info().Msg("Strategy refinement returned nothing, keeping current strategy")
		return false, nil
	}

	if err := s.strategy.UpdateStrategy(ctx, updated, RefinementSource); err != nil {
		return false, err
	}
	return true, nil
}

// BuildRefinementPrompt renders the strategy update prompt
func BuildRefinementPrompt(current string, articles []domain.NewsArticle) string {
	compact := make([]promptArticle, 0, len(articles))
	for _, a := range articles {
		compact = append(compact, promptArticle{Title: a.Title, Summary: a.Summary, Source: a.Source})
	}
	newsJSON, _ := json.Marshal(compact)

	return strings.Join([]string{
		"You are an equity trading strategy updater.",
		"Update the strategy markdown for short-term trading using latest news.",
		"Keep it practical and risk-aware.",
		"Keep the '## Trading Policy' and '## Universe Selection' sections and their KEY=value lines.",
		"Return markdown only.",
		"Current strategy:",
		current,
		"Latest news:",
		string(newsJSON),
	}, "\n\n")
}

func dedupeByURL(articles []domain.NewsArticle) []domain.NewsArticle {
	seen := make(map[string]bool, len(articles))
	out := articles[:0]
	for _, a := range articles {
		if seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		out = append(out, a)
	}
	return out
}
