package testing

import (
	"time"

	"github.com/aristath/tradeagent/internal/clients/kiwoom"
	"github.com/aristath/tradeagent/internal/domain"
)

// NewQuoteFixtures returns quotes for three large-cap KRX symbols
func NewQuoteFixtures() []domain.Quote {
	asOf := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return []domain.Quote{
		{Symbol: "005930", Price: 71200, ChangeRate: 1.8, Volume: 12_500_000, AsOf: asOf},
		{Symbol: "000660", Price: 182500, ChangeRate: -0.6, Volume: 3_100_000, AsOf: asOf},
		{Symbol: "035420", Price: 205000, ChangeRate: 0.4, Volume: 610_000, AsOf: asOf},
	}
}

// NewUniverseEntryFixtures returns catalog entries matching NewQuoteFixtures
func NewUniverseEntryFixtures() []domain.UniverseEntry {
	return []domain.UniverseEntry{
		{Symbol: "005930", Name: "Samsung Electronics", MarketCap: 425e12, MarketCode: "0", MarketName: "KOSPI"},
		{Symbol: "000660", Name: "SK hynix", MarketCap: 132e12, MarketCode: "0", MarketName: "KOSPI"},
		{Symbol: "035420", Name: "NAVER", MarketCap: 33e12, MarketCode: "0", MarketName: "KOSPI"},
	}
}

// NewListedStockFixtures returns the broker stock list matching NewUniverseEntryFixtures
func NewListedStockFixtures() []kiwoom.ListedStock {
	return []kiwoom.ListedStock{
		{Symbol: "005930", Name: "Samsung Electronics", ListCount: 5_969_782_550, LastPrice: 71200, MarketCode: "0", MarketName: "KOSPI"},
		{Symbol: "000660", Name: "SK hynix", ListCount: 728_002_365, LastPrice: 182500, MarketCode: "0", MarketName: "KOSPI"},
		{Symbol: "035420", Name: "NAVER", ListCount: 158_437_008, LastPrice: 205000, MarketCode: "0", MarketName: "KOSPI"},
	}
}

// NewNewsFixtures returns two headlines, one mentioning a fixture symbol name
func NewNewsFixtures() []domain.NewsArticle {
	published := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	return []domain.NewsArticle{
		{Title: "Samsung Electronics lifts memory guidance", URL: "https://news.example.com/a/1", Source: "feed", PublishedAt: &published},
		{Title: "KOSPI opens flat ahead of rate decision", URL: "https://news.example.com/a/2", Source: "feed", PublishedAt: &published},
	}
}
