package news

import (
	"context"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/mmcdole/gofeed"
)

// FeedScraper reads RSS and Atom feeds
type FeedScraper struct {
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewFeedScraper creates a feed scraper with a per-feed timeout
func NewFeedScraper(timeout time.Duration) *FeedScraper {
	parser := gofeed.NewParser()
	parser.UserAgent = "tradeagent/1.0"
	return &FeedScraper{parser: parser, timeout: timeout}
}

// Scrape returns the top items of a feed and the feed's title
func (f *FeedScraper) Scrape(ctx context.Context, feedURL string) (string, []domain.NewsArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return feedURL, nil, err
	}

	source := strings.TrimSpace(feed.Title)
	if source == "" {
		source = feedURL
	}

	items := feed.Items
	if len(items) > ItemsPerSource {
		items = items[:ItemsPerSource]
	}

	articles := make([]domain.NewsArticle, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if item.Link == "" || title == "" {
			continue
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		articles = append(articles, domain.NewsArticle{
			Title:       StripHTML(title),
			URL:         item.Link,
			Source:      source,
			Summary:     StripHTML(summary),
			PublishedAt: item.PublishedParsed,
		})
	}
	return source, articles, nil
}
