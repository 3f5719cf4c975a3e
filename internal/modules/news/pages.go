package news

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/gocolly/colly/v2"
)

// minHeadlineLength filters navigation links out of headline lists
const minHeadlineLength = 8

// PageScraper collects headline links from HTML pages
type PageScraper struct {
	timeout   time.Duration
	userAgent string
}

// NewPageScraper creates a page scraper
func NewPageScraper(timeout time.Duration) *PageScraper {
	return &PageScraper{
		timeout:   timeout,
		userAgent: "Mozilla/5.0 (compatible; tradeagent/1.0)",
	}
}

// Scrape visits one page and returns its first headline links
func (p *PageScraper) Scrape(ctx context.Context, page PageSource) (string, []domain.NewsArticle, error) {
	target, err := url.Parse(page.URL)
	if err != nil || target.Host == "" {
		return page.URL, nil, fmt.Errorf("invalid page url %q", page.URL)
	}
	selector := page.Selector
	if selector == "" {
		selector = DefaultHeadlineSelector
	}
	source := target.Host

	c := colly.NewCollector(
		colly.AllowedDomains(target.Hostname()),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(p.timeout)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		r.Headers.Set("User-Agent", p.userAgent)
	})

	seen := make(map[string]bool)
	var articles []domain.NewsArticle
	c.OnHTML("title", func(e *colly.HTMLElement) {
		if t := strings.TrimSpace(e.Text); t != "" {
			source = t
		}
	})
	c.OnHTML(selector, func(e *colly.HTMLElement) {
		if len(articles) >= ItemsPerSource {
			return
		}
		title := collapseSpaces(e.Text)
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if len([]rune(title)) < minHeadlineLength || link == "" || seen[link] {
			return
		}
		seen[link] = true
		articles = append(articles, domain.NewsArticle{Title: title, URL: link})
	})

	var scrapeErr error
	c.OnError(func(_ *colly.Response, err error) {
		scrapeErr = err
	})

	if err := c.Visit(page.URL); err != nil {
		return source, nil, err
	}
	if scrapeErr != nil {
		return source, nil, scrapeErr
	}
	if err := ctx.Err(); err != nil {
		return source, nil, err
	}

	for i := range articles {
		articles[i].Source = source
	}
	return source, articles, nil
}
