package kiwoom

import "time"

// DailyClose is the latest daily close of a symbol
type DailyClose struct {
	Symbol     string  `json:"symbol"`
	ClosePrice float64 `json:"closePrice"`
	AsOf       string  `json:"asOf"`
	Source     string  `json:"source"`
}

// ListedStock is one row of the exchange stock list
type ListedStock struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	ListCount  float64 `json:"listCount"`
	LastPrice  float64 `json:"lastPrice"`
	MarketCode string  `json:"marketCode,omitempty"`
	MarketName string  `json:"marketName,omitempty"`
}

// MarketCap is listed shares times the last price
func (s ListedStock) MarketCap() float64 {
	return s.ListCount * s.LastPrice
}

// RankingRequest selects a ranking endpoint's market and filters
type RankingRequest struct {
	MarketType     string `json:"marketType"`
	IncludeManaged bool   `json:"includeManaged"`
	StexType       string `json:"stexType,omitempty"`
	CreditType     string `json:"creditType,omitempty"`
	MarketOpenType string `json:"marketOpenType,omitempty"`
}

// RankedStock is one row of a trading value/volume ranking
type RankedStock struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Volume      float64 `json:"volume,omitempty"`
	VolumeValue float64 `json:"volumeValue,omitempty"`
}

// ChartRequest selects an intraday chart
type ChartRequest struct {
	Symbol        string `json:"symbol"`
	Scope         string `json:"scope"`
	BaseDate      string `json:"baseDate,omitempty"`
	AdjustedPrice string `json:"adjustedPrice,omitempty"`
}

// ChartPoint is one tick or minute bar
type ChartPoint struct {
	Time       string  `json:"time"`
	Price      float64 `json:"price"`
	Volume     float64 `json:"volume"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Change     float64 `json:"change"`
	ChangeSign string  `json:"changeSign,omitempty"`
}

// Chart is an intraday series for one symbol
type Chart struct {
	Symbol string       `json:"symbol"`
	Points []ChartPoint `json:"points"`
	Source string       `json:"source"`
}

// AccountHolding is one position reported by the broker
type AccountHolding struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Quantity         float64 `json:"quantity"`
	TradableQuantity float64 `json:"tradableQuantity"`
	AvgPrice         float64 `json:"avgPrice"`
	Price            float64 `json:"price"`
	MarketValue      float64 `json:"marketValue"`
	UnrealizedPnl    float64 `json:"unrealizedPnl"`
	ProfitRate       float64 `json:"profitRate"`
}

// AccountEvaluation is the broker-side account summary
type AccountEvaluation struct {
	Cash          float64          `json:"cash"`
	TotalAsset    float64          `json:"totalAsset"`
	HoldingsValue float64          `json:"holdingsValue"`
	Holdings      []AccountHolding `json:"holdings"`
	Source        string           `json:"source"`
	AsOf          time.Time        `json:"asOf"`
}

// ConditionSearchRequest runs a saved condition search
type ConditionSearchRequest struct {
	Seq        string `json:"seq"`
	SearchType string `json:"searchType,omitempty"`
	StexType   string `json:"stexType,omitempty"`
}

// ConditionSearchResult is the raw response plus the extracted symbols
type ConditionSearchResult struct {
	Payload map[string]interface{} `json:"payload"`
	Symbols []string               `json:"symbols"`
}
