package events

import "encoding/json"

// EventData is the interface that all typed event payloads implement
type EventData interface {
	EventType() EventType
}

// ConditionData is emitted when a symbol enters (I) or leaves (D) a live condition search
type ConditionData struct {
	Action string                 `json:"action"`
	Symbol string                 `json:"symbol"`
	Time   string                 `json:"time,omitempty"`
	Raw    map[string]interface{} `json:"raw,omitempty"`
}

// EventType returns the event type for ConditionData
func (d *ConditionData) EventType() EventType {
	return Condition
}

// MarketData summarizes a finished market cycle
type MarketData struct {
	RunID        string   `json:"run_id"`
	Universe     []string `json:"universe"`
	QuoteCount   int      `json:"quote_count"`
	FailedQuotes int      `json:"failed_quotes"`
	Decisions    int      `json:"decisions"`
	Executed     int      `json:"executed"`
	Skipped      int      `json:"skipped"`
}

// EventType returns the event type for MarketData
func (d *MarketData) EventType() EventType {
	return Market
}

// NewsData summarizes a finished news cycle
type NewsData struct {
	Articles        int  `json:"articles"`
	StrategyUpdated bool `json:"strategy_updated"`
}

// EventType returns the event type for NewsData
func (d *NewsData) EventType() EventType {
	return News
}

// ReportData carries the asset report written at the end of a market cycle
type ReportData struct {
	ReportID      string  `json:"report_id"`
	RunID         string  `json:"run_id"`
	Cash          float64 `json:"cash"`
	HoldingsValue float64 `json:"holdings_value"`
	TotalAsset    float64 `json:"total_asset"`
	AssetDelta    float64 `json:"asset_delta"`
	TradeCount    int     `json:"trade_count"`
}

// EventType returns the event type for ReportData
func (d *ReportData) EventType() EventType {
	return Report
}

// ToMap converts a typed payload into the map form carried by Event
func ToMap(data EventData) map[string]interface{} {
	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
