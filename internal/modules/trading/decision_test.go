package trading

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/marketdata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedGenerator struct {
	answer  string
	prompts []string
}

func (g *scriptedGenerator) GenerateText(_ context.Context, prompt string) string {
	g.prompts = append(g.prompts, prompt)
	return g.answer
}

type staticNews []domain.NewsArticle

func (s staticNews) GetLatestNews(context.Context, int) ([]domain.NewsArticle, error) {
	return s, nil
}

type staticEntries []domain.UniverseEntry

func (s staticEntries) Entries(context.Context) ([]domain.UniverseEntry, error) {
	return s, nil
}

type historyStub map[string][]domain.Quote

func (h historyStub) Recent(_ context.Context, symbol string, _ int) ([]domain.Quote, error) {
	return h[symbol], nil
}

func TestRuleBasedDecisions(t *testing.T) {
	quotes := []domain.Quote{
		{Symbol: "UP", ChangeRate: 2.5},
		{Symbol: "DOWN", ChangeRate: -3},
		{Symbol: "NEW", ChangeRate: 1.3},
		{Symbol: "FLAT", ChangeRate: 1.2},
		{Symbol: "ONE", ChangeRate: 4},
	}
	holdings := []domain.Holding{
		{Symbol: "UP", Quantity: 7},
		{Symbol: "DOWN", Quantity: 5},
		{Symbol: "ONE", Quantity: 1},
	}

	got := RuleBasedDecisions(quotes, holdings)
	require.Len(t, got, 4)

	assert.Equal(t, domain.TradeDecision{Symbol: "UP", Side: domain.SideSell, Quantity: 3,
		Reason: "Fallback take-profit rule (+2.5% or more)", Confidence: 0.6}, got[0])
	assert.Equal(t, domain.TradeDecision{Symbol: "DOWN", Side: domain.SideSell, Quantity: 5,
		Reason: "Fallback stop-loss rule (-2.5% or less)", Confidence: 0.7}, got[1])
	assert.Equal(t, domain.TradeDecision{Symbol: "NEW", Side: domain.SideBuy, Quantity: 1,
		Reason: "Fallback momentum entry rule", Confidence: 0.4}, got[2])
	assert.Equal(t, int64(1), got[3].Quantity, "half of one share rounds up to the minimum of one")
}

func TestBuildNewsSignals(t *testing.T) {
	quotes := []domain.Quote{{Symbol: "005930"}, {Symbol: "000660"}}
	entries := []domain.UniverseEntry{{Symbol: "005930", Name: "Samsung Electronics"}, {Symbol: "000660", Name: "SK hynix"}}
	articles := []domain.NewsArticle{
		{Title: "SAMSUNG ELECTRONICS beats estimates"},
		{Title: "Chip rally", Summary: "005930 and peers climb"},
		{Title: "samsung electronics capex"},
		{Title: "Samsung Electronics dividend"},
		{Title: "Bank earnings"},
	}

	signals := BuildNewsSignals(quotes, articles, entries)
	require.Len(t, signals, 2)
	assert.Equal(t, 4, signals[0].Mentions)
	assert.Len(t, signals[0].SampleTitles, 3)
	assert.Equal(t, "Samsung Electronics", signals[0].Name)
	assert.Equal(t, 0, signals[1].Mentions)
	assert.Empty(t, signals[1].SampleTitles)
}

func TestDecideTrades_UsesParsedLLMAnswer(t *testing.T) {
	gen := &scriptedGenerator{answer: "```json\n" + `[
		{"symbol":"A005930","side":"buy","quantity":3.0,"reason":"earnings beat","confidence":0.8},
		{"symbol":"000660","side":"HOLD","quantity":5,"reason":"wait","confidence":0.5},
		{"symbol":"035420","side":"SELL","quantity":0,"reason":"none","confidence":0.1}
	]` + "\n```"}
	engine := NewDecisionEngine(gen, fixedPolicy{policy: policy(3, -2, 10), document: "# Strategy\nbe careful"},
		staticNews{{Title: "Samsung Electronics beats"}}, staticEntries{{Symbol: "005930", Name: "Samsung Electronics"}},
		marketdata.NewCache(time.Minute), nil, zerolog.Nop())

	got := engine.DecideTrades(context.Background(), DecisionContext{
		Cash:   1_000_000,
		Quotes: []domain.Quote{{Symbol: "005930", Price: 70_000, ChangeRate: 0.3}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, domain.TradeDecision{Symbol: "005930", Side: domain.SideBuy, Quantity: 3, Reason: "earnings beat", Confidence: 0.8}, got[0])

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	assert.True(t, strings.HasPrefix(prompt, "Return JSON array only."))
	assert.Contains(t, prompt, "Cash available: 1000000")
	assert.Contains(t, prompt, `"takeProfitPct":3`)
	assert.Contains(t, prompt, "be careful")
	assert.Contains(t, prompt, `"mentions":1`)
	assert.Contains(t, prompt, "Realtime signals:")
}

func TestDecideTrades_FallsBackOnBadAnswer(t *testing.T) {
	quotes := []domain.Quote{{Symbol: "NEW", Price: 1000, ChangeRate: 2}}

	for _, answer := range []string{"", "not json at all", `{"symbol":"x"}`, "null", "```json\nnull\n```"} {
		engine := NewDecisionEngine(&scriptedGenerator{answer: answer}, fixedPolicy{policy: policy(3, -2, 10)},
			nil, nil, nil, nil, zerolog.Nop())

		got := engine.DecideTrades(context.Background(), DecisionContext{Quotes: quotes})
		require.Len(t, got, 1, "answer %q", answer)
		assert.Equal(t, "Fallback momentum entry rule", got[0].Reason)
	}
}

func TestComputeIndicators(t *testing.T) {
	assert.Nil(t, ComputeIndicators("X", []float64{1, 2, 3}).SMA5)

	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	sig := ComputeIndicators("X", prices)
	require.NotNil(t, sig.SMA5)
	assert.InDelta(t, 117.0, *sig.SMA5, 1e-9)
	require.NotNil(t, sig.RSI14)
	assert.InDelta(t, 100.0, *sig.RSI14, 1e-9, "a strictly rising series has RSI 100")
}

func TestIndicatorSignalsReadHistory(t *testing.T) {
	var history []domain.Quote
	for i := 0; i < 6; i++ {
		history = append(history, domain.Quote{Symbol: "X", Price: 10})
	}
	engine := NewDecisionEngine(nil, fixedPolicy{}, nil, nil, nil, historyStub{"X": history}, zerolog.Nop())

	signals := engine.indicatorSignals(context.Background(), []domain.Quote{{Symbol: "X"}, {Symbol: "Y"}})
	require.Len(t, signals, 2)
	require.NotNil(t, signals[0].SMA5)
	assert.Equal(t, 10.0, *signals[0].SMA5)
	assert.Nil(t, signals[0].RSI14)
	assert.Equal(t, 0, signals[1].Points)
}
