package domain

import "context"

// BrokerClient is the slice of brokerage operations the trading core needs
type BrokerClient interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// TextGenerator produces LLM completions. Implementations never fail:
// any transport, quota or model error yields an empty string.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) string
}

// NewsProvider returns the most recent scraped articles, newest first
type NewsProvider interface {
	GetLatestNews(ctx context.Context, limit int) ([]NewsArticle, error)
}

// StrategyProvider exposes the current strategy document
type StrategyProvider interface {
	GetCurrentStrategy() (string, error)
}
