package trading

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/marketdata"
	"github.com/aristath/tradeagent/internal/modules/llm"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/rs/zerolog"
)

const (
	// NewsWindow is how many latest articles the decision prompt embeds
	NewsWindow = 20
	// sampleTitles caps matched titles per news signal
	sampleTitles = 3

	takeProfitChange = 2.5
	stopLossChange   = -2.5
	momentumChange   = 1.2
)

// StrategySource exposes the strategy document and its trading policy
type StrategySource interface {
	GetCurrentStrategy() (string, error)
	TradingPolicy() strategy.TradingPolicy
}

// EntrySource returns the universe catalog
type EntrySource interface {
	Entries(ctx context.Context) ([]domain.UniverseEntry, error)
}

// RealtimeSignals reads momentum and orderbook signals
type RealtimeSignals interface {
	GetRealtimeSignal(symbol string) marketdata.RealtimeSignal
}

// DecisionContext is the market view handed to the decision engine
type DecisionContext struct {
	Cash     float64
	Quotes   []domain.Quote
	Holdings []domain.Holding
}

// NewsSignal counts articles mentioning a symbol or its name
type NewsSignal struct {
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name,omitempty"`
	Mentions     int      `json:"mentions"`
	SampleTitles []string `json:"sampleTitles"`
}

// DecisionEngine asks the LLM for trade decisions and falls back to fixed rules
type DecisionEngine struct {
	generator domain.TextGenerator
	strategy  StrategySource
	news      domain.NewsProvider
	entries   EntrySource
	realtime  RealtimeSignals
	history   QuoteHistory
	log       zerolog.Logger
}

// NewDecisionEngine creates a decision engine. Every collaborator except
// strategy may be nil; missing inputs are left out of the prompt.
func NewDecisionEngine(
	generator domain.TextGenerator,
	strategySource StrategySource,
	news domain.NewsProvider,
	entries EntrySource,
	realtime RealtimeSignals,
	history QuoteHistory,
	log zerolog.Logger,
) *DecisionEngine {
	return &DecisionEngine{
		generator: generator,
		strategy:  strategySource,
		news:      news,
		entries:   entries,
		realtime:  realtime,
		history:   history,
		log:       log.With().Str("service", "decision").Logger(),
	}
}

// llmDecision tolerates numeric quantities sent as floats
type llmDecision struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// DecideTrades returns actionable decisions. The LLM answer is used when it
// parses; otherwise the rule-based set is returned.
func (e *DecisionEngine) DecideTrades(ctx context.Context, dc DecisionContext) []domain.TradeDecision {
	fallback := RuleBasedDecisions(dc.Quotes, dc.Holdings)

	current, err := e.strategy.GetCurrentStrategy()
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to read strategy, using rule-based decisions")
		return filterActionable(fallback)
	}
	policy := e.strategy.TradingPolicy()

	var latest []domain.NewsArticle
	if e.news != nil {
		if latest, err = e.news.GetLatestNews(ctx, NewsWindow); err != nil {
			e.log.Warn().Err(err).Msg("Failed to load news for decision prompt")
		}
	}

	var entries []domain.UniverseEntry
	if e.entries != nil {
		if entries, err = e.entries.Entries(ctx); err != nil {
			e.log.Warn().Err(err).Msg("Failed to load universe entries")
		}
	}

	realtime := make([]marketdata.RealtimeSignal, 0, len(dc.Quotes))
	if e.realtime != nil {
		for _, q := range dc.Quotes {
			realtime = append(realtime, e.realtime.GetRealtimeSignal(q.Symbol))
		}
	}

	prompt := BuildDecisionPrompt(PromptInput{
		Cash:       dc.Cash,
		Policy:     policy,
		Strategy:   current,
		Holdings:   dc.Holdings,
		Quotes:     dc.Quotes,
		News:       latest,
		NewsSignal: BuildNewsSignals(dc.Quotes, latest, entries),
		Realtime:   realtime,
		Indicators: e.indicatorSignals(ctx, dc.Quotes),
	})

	answer := llm.GenerateJSON(ctx, e.generator, prompt, toLLM(fallback), e.log)
	decisions := filterActionable(fromLLM(answer))

	e.log.Info().
		Int("quotes", len(dc.Quotes)).
		Int("fallback", len(fallback)).
		Int("decisions", len(decisions)).
		Msg("Trade decisions ready")
	return decisions
}

// RuleBasedDecisions is the deterministic fallback: take profit on half a
// position at +2.5%, cut the whole position at -2.5%, enter 1 share on >+1.2%.
func RuleBasedDecisions(quotes []domain.Quote, holdings []domain.Holding) []domain.TradeDecision {
	held := make(map[string]domain.Holding, len(holdings))
	for _, h := range holdings {
		held[h.Symbol] = h
	}

	var decisions []domain.TradeDecision
	for _, q := range quotes {
		h, isHeld := held[q.Symbol]
		if isHeld && q.ChangeRate >= takeProfitChange {
			qty := h.Quantity / 2
			if qty < 1 {
				qty = 1
			}
			decisions = append(decisions, domain.TradeDecision{
				Symbol:     q.Symbol,
				Side:       domain.SideSell,
				Quantity:   qty,
				Reason:     "Fallback take-profit rule (+2.5% or more)",
				Confidence: 0.6,
			})
		}
		if isHeld && q.ChangeRate <= stopLossChange {
			decisions = append(decisions, domain.TradeDecision{
				Symbol:     q.Symbol,
				Side:       domain.SideSell,
				Quantity:   h.Quantity,
				Reason:     "Fallback stop-loss rule (-2.5% or less)",
				Confidence: 0.7,
			})
		}
		if !isHeld && q.ChangeRate > momentumChange {
			decisions = append(decisions, domain.TradeDecision{
				Symbol:     q.Symbol,
				Side:       domain.SideBuy,
				Quantity:   1,
				Reason:     "Fallback momentum entry rule",
				Confidence: 0.4,
			})
		}
	}
	return decisions
}

// BuildNewsSignals counts, per quote, the articles whose title or summary
// mention the symbol or its catalog name
func BuildNewsSignals(quotes []domain.Quote, articles []domain.NewsArticle, entries []domain.UniverseEntry) []NewsSignal {
	names := make(map[string]string, len(entries))
	for _, e := range entries {
		names[e.Symbol] = e.Name
	}

	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = strings.ToLower(a.Title + " " + a.Summary)
	}

	signals := make([]NewsSignal, 0, len(quotes))
	for _, q := range quotes {
		sig := NewsSignal{Symbol: q.Symbol, Name: names[q.Symbol], SampleTitles: []string{}}
		symbol := strings.ToLower(q.Symbol)
		name := strings.ToLower(sig.Name)

		for i, text := range texts {
			hit := (symbol != "" && strings.Contains(text, symbol)) || (name != "" && strings.Contains(text, name))
			if !hit {
				continue
			}
			sig.Mentions++
			if articles[i].Title != "" && len(sig.SampleTitles) < sampleTitles {
				sig.SampleTitles = append(sig.SampleTitles, articles[i].Title)
			}
		}
		signals = append(signals, sig)
	}
	return signals
}

// PromptInput is everything embedded in the decision prompt
type PromptInput struct {
	Cash       float64
	Policy     strategy.TradingPolicy
	Strategy   string
	Holdings   []domain.Holding
	Quotes     []domain.Quote
	News       []domain.NewsArticle
	NewsSignal []NewsSignal
	Realtime   []marketdata.RealtimeSignal
	Indicators []IndicatorSignal
}

// BuildDecisionPrompt renders the decision prompt
func BuildDecisionPrompt(in PromptInput) string {
	return strings.Join([]string{
		"Return JSON array only.",
		"Each item: {symbol, side(BUY|SELL|HOLD), quantity, reason, confidence}",
		"Use short-term strategy and current holdings.",
		fmt.Sprintf("Cash available: %.0f", in.Cash),
		"Trading policy: " + mustJSON(in.Policy),
		"Strategy markdown:\n" + in.Strategy,
		"Holdings:" + mustJSON(emptyIfNil(in.Holdings)),
		"Quotes:" + mustJSON(emptyIfNil(in.Quotes)),
		"Latest news:" + mustJSON(emptyIfNil(in.News)),
		"News signals:" + mustJSON(emptyIfNil(in.NewsSignal)),
		"Realtime signals:" + mustJSON(emptyIfNil(in.Realtime)),
		"Indicator signals:" + mustJSON(emptyIfNil(in.Indicators)),
	}, "\n\n")
}

func emptyIfNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func toLLM(decisions []domain.TradeDecision) []llmDecision {
	out := make([]llmDecision, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, llmDecision{
			Symbol:     d.Symbol,
			Side:       string(d.Side),
			Quantity:   float64(d.Quantity),
			Reason:     d.Reason,
			Confidence: d.Confidence,
		})
	}
	return out
}

func fromLLM(items []llmDecision) []domain.TradeDecision {
	out := make([]domain.TradeDecision, 0, len(items))
	for _, item := range items {
		qty := item.Quantity
		if math.IsNaN(qty) || math.IsInf(qty, 0) {
			qty = 0
		}
		out = append(out, domain.TradeDecision{
			Symbol:     domain.NormalizeSymbol(item.Symbol),
			Side:       domain.ParseSide(item.Side),
			Quantity:   int64(math.Floor(qty)),
			Reason:     item.Reason,
			Confidence: item.Confidence,
		})
	}
	return out
}

func filterActionable(decisions []domain.TradeDecision) []domain.TradeDecision {
	out := make([]domain.TradeDecision, 0, len(decisions))
	for _, d := range decisions {
		if d.Actionable() && d.Symbol != "" {
			out = append(out, d)
		}
	}
	return out
}
