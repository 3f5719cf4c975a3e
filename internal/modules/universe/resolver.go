package universe

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/modules/strategy"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// NewsRankingWindow is how many latest articles feed the news ranking
const NewsRankingWindow = 50

var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}()

// Resolver picks the bounded set of symbols for a trading cycle
type Resolver struct {
	entries      EntrySource
	history      *HistoryDB
	quotes       QuoteSource
	news         domain.NewsProvider
	watchSymbols []string
	now          func() time.Time
	log          zerolog.Logger
}

// NewResolver creates a universe resolver. history, quotes and news may be nil.
func NewResolver(entries EntrySource, history *HistoryDB, quotes QuoteSource, news domain.NewsProvider, watchSymbols []string, log zerolog.Logger) *Resolver {
	return &Resolver{
		entries:      entries,
		history:      history,
		quotes:       quotes,
		news:         news,
		watchSymbols: domain.NormalizeSymbols(watchSymbols),
		now:          time.Now,
		log:          log.With().Str("service", "universe_resolver").Logger(),
	}
}

// ResolveUniverseSelection combines held symbols with market cap, liquidity and
// news rankings. Held symbols always come first.
func (r *Resolver) ResolveUniverseSelection(ctx context.Context, policy strategy.UniversePolicy, held []string) (Selection, error) {
	held = domain.NormalizeSymbols(held)

	entries, err := r.entries.Entries(ctx)
	if err != nil {
		return Selection{}, err
	}
	entries = filterMarkets(entries, policy.Markets)

	if len(entries) == 0 {
		return r.fallback(policy, held), nil
	}

	ranked := RankByMarketCap(entries)
	if len(ranked) == 0 {
		r.log.Warn().Int("entries", len(entries)).Msg("Universe catalog has no market cap data, using watch list")
		return r.fallback(policy, held), nil
	}

	sel := Selection{Held: held}
	sel.MarketCap = symbolsOf(take(ranked, policy.TopMarketCap))

	poolSize := maxInt(policy.LiquidityCandidates, policy.TopMarketCap, policy.TopLiquidity)
	pool := symbolsOf(take(ranked, poolSize))
	scores := r.liquidityScores(ctx, pool, policy.LiquidityDays)
	sel.Liquidity = make([]string, 0, policy.TopLiquidity)
	for _, s := range scores {
		if len(sel.Liquidity) >= policy.TopLiquidity {
			break
		}
		sel.Liquidity = append(sel.Liquidity, s.Symbol)
	}

	sel.News = r.newsRanking(ctx, entries, policy.TopNews)

	sel.Symbols = union(policy.MaxUniverse, held, sel.MarketCap, sel.Liquidity, sel.News)

	r.log.Debug().
		Int("held", len(held)).
		Int("market_cap", len(sel.MarketCap)).
		Int("liquidity", len(sel.Liquidity)).
		Int("news", len(sel.News)).
		Int("universe", len(sel.Symbols)).
		Msg("Universe resolved")
	return sel, nil
}

func (r *Resolver) fallback(policy strategy.UniversePolicy, held []string) Selection {
	return Selection{
		Symbols:   union(policy.MaxUniverse, held, r.watchSymbols),
		Held:      held,
		MarketCap: []string{},
		Liquidity: []string{},
		News:      []string{},
		Fallback:  true,
	}
}

func (r *Resolver) liquidityScores(ctx context.Context, pool []string, days int) []LiquidityScore {
	if len(pool) == 0 {
		return nil
	}
	if days <= 0 {
		days = 1
	}

	var history map[string][]domain.Quote
	if r.history != nil {
		var err error
		history, err = r.history.Since(ctx, pool, r.now().Add(-time.Duration(days)*24*time.Hour))
		if err != nil {
			r.log.Warn().Err(err).Msg("Failed to load quote history for liquidity ranking")
		}
	}

	scores := make([]LiquidityScore, 0, len(pool))
	for _, symbol := range pool {
		if quotes := history[symbol]; len(quotes) > 0 {
			scores = append(scores, ComputeLiquidity(symbol, quotes))
			continue
		}
		if r.quotes == nil {
			continue
		}
		q, err := r.quotes.GetQuote(ctx, symbol)
		if err != nil {
			r.log.Debug().Err(err).Str("symbol", symbol).Msg("Live quote for liquidity failed")
			continue
		}
		scores = append(scores, LiquidityScore{Symbol: symbol, Value: q.Price * q.Volume})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Value > scores[j].Value })
	return scores
}

// ComputeLiquidity averages (max volume x mean price) per Seoul calendar day
func ComputeLiquidity(symbol string, quotes []domain.Quote) LiquidityScore {
	type day struct {
		maxVolume float64
		prices    []float64
	}
	byDay := make(map[string]*day)
	var order []string

	for _, q := range quotes {
		key := q.AsOf.In(seoul).Format("2006-01-02")
		d, ok := byDay[key]
		if !ok {
			d = &day{}
			byDay[key] = d
			order = append(order, key)
		}
		if q.Volume > d.maxVolume {
			d.maxVolume = q.Volume
		}
		d.prices = append(d.prices, q.Price)
	}

	values := make([]float64, 0, len(order))
	for _, key := range order {
		d := byDay[key]
		values = append(values, d.maxVolume*stat.Mean(d.prices, nil))
	}
	if len(values) == 0 {
		return LiquidityScore{Symbol: symbol}
	}
	return LiquidityScore{Symbol: symbol, Value: stat.Mean(values, nil), Days: len(values)}
}

func (r *Resolver) newsRanking(ctx context.Context, entries []domain.UniverseEntry, topN int) []string {
	out := []string{}
	if r.news == nil || topN <= 0 {
		return out
	}

	articles, err := r.news.GetLatestNews(ctx, NewsRankingWindow)
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to load news for universe ranking")
		return out
	}
	if len(articles) == 0 {
		return out
	}

	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = strings.ToLower(a.Title + " " + a.Summary)
	}

	type mention struct {
		symbol string
		count  int
	}
	var mentions []mention
	for _, e := range entries {
		if n := CountMentions(texts, e.Symbol, e.Name); n > 0 {
			mentions = append(mentions, mention{e.Symbol, n})
		}
	}
	sort.SliceStable(mentions, func(i, j int) bool { return mentions[i].count > mentions[j].count })

	for _, m := range mentions {
		if len(out) >= topN {
			break
		}
		out = append(out, m.symbol)
	}
	return out
}

// CountMentions counts lower-cased texts containing the symbol or the name
func CountMentions(texts []string, symbol, name string) int {
	symbol = strings.ToLower(symbol)
	name = strings.ToLower(strings.TrimSpace(name))

	count := 0
	for _, text := range texts {
		if (symbol != "" && strings.Contains(text, symbol)) || (name != "" && strings.Contains(text, name)) {
			count++
		}
	}
	return count
}

// RankByMarketCap returns entries with a positive market cap, largest first
func RankByMarketCap(entries []domain.UniverseEntry) []domain.UniverseEntry {
	ranked := make([]domain.UniverseEntry, 0, len(entries))
	for _, e := range entries {
		if e.MarketCap > 0 {
			ranked = append(ranked, e)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].MarketCap > ranked[j].MarketCap })
	return ranked
}

func filterMarkets(entries []domain.UniverseEntry, markets []string) []domain.UniverseEntry {
	if len(markets) == 0 {
		return entries
	}
	allowed := make(map[string]bool, len(markets)*2)
	for _, m := range markets {
		allowed[strings.ToUpper(m)] = true
		allowed[MarketTypeCode(m)] = true
	}

	out := make([]domain.UniverseEntry, 0, len(entries))
	for _, e := range entries {
		if e.MarketCode == "" && e.MarketName == "" {
			out = append(out, e)
			continue
		}
		if allowed[e.MarketCode] || allowed[strings.ToUpper(e.MarketName)] {
			out = append(out, e)
		}
	}
	return out
}

func union(limit int, lists ...[]string) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, list := range lists {
		for _, s := range list {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func take(entries []domain.UniverseEntry, n int) []domain.UniverseEntry {
	if n < 0 {
		n = 0
	}
	if n < len(entries) {
		return entries[:n]
	}
	return entries
}

func symbolsOf(entries []domain.UniverseEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Symbol)
	}
	return out
}

func maxInt(values ...int) int {
	m := 0
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}
