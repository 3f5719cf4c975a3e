package trading

import (
	"time"

	"github.com/aristath/tradeagent/internal/domain"
)

// Status is the outcome of applying one decision
type Status string

const (
	StatusExecuted                   Status = "EXECUTED"
	StatusSkippedInsufficientCash    Status = "SKIPPED_INSUFFICIENT_CASH"
	StatusSkippedInsufficientHolding Status = "SKIPPED_INSUFFICIENT_HOLDING"
	StatusSkippedDuplicateSymbol     Status = "SKIPPED_DUPLICATE_SYMBOL"
	StatusSkippedPolicy              Status = "SKIPPED_POLICY"
)

// TradeOutcome records what happened to a decision
type TradeOutcome struct {
	Symbol      string      `json:"symbol"`
	Side        domain.Side `json:"side"`
	Quantity    int64       `json:"quantity"`
	Price       float64     `json:"price"`
	TotalAmount float64     `json:"totalAmount"`
	RealizedPnL *float64    `json:"realizedPnl,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Status      Status      `json:"status"`
}

// ExecutionReport is the result of one execution pass
type ExecutionReport struct {
	Executed      []TradeOutcome `json:"executed"`
	Skipped       []TradeOutcome `json:"skipped"`
	Cash          float64        `json:"cash"`
	HoldingsValue float64        `json:"holdingsValue"`
	TotalAsset    float64        `json:"totalAsset"`
}

// Counts returns the executed BUY and SELL counts
func (r ExecutionReport) Counts() (buys, sells int) {
	for _, t := range r.Executed {
		switch t.Side {
		case domain.SideBuy:
			buys++
		case domain.SideSell:
			sells++
		}
	}
	return buys, sells
}

// TradeLog is one row of the append-only trade ledger
type TradeLog struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Side        domain.Side      `json:"side"`
	Quantity    int64            `json:"quantity"`
	Price       float64          `json:"price"`
	Amount      float64          `json:"amount"`
	RealizedPnL *float64         `json:"realizedPnl,omitempty"`
	Mode        domain.TradeMode `json:"mode"`
	Reason      string           `json:"reason,omitempty"`
	Confidence  *float64         `json:"confidence,omitempty"`
	OrderID     string           `json:"orderId,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// TradeFilter narrows trade log listings
type TradeFilter struct {
	Symbol string
	Side   domain.Side
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}
