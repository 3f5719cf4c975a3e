package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTradingPolicy_Defaults(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"empty document", ""},
		{"no policy section", "# Strategy\n\n- buy low\n"},
		{"other section only", "## Universe Selection\nTAKE_PROFIT_PCT=9\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, DefaultTradingPolicy(), ParseTradingPolicy(tc.doc))
		})
	}
}

func TestParseTradingPolicy_Values(t *testing.T) {
	doc := `# Strategy

## Trading Policy
take_profit_pct = 1.5
STOP_LOSS_PCT=-1
// comment
#hidden=1
POSITION_SIZE_PCT=25
- MIN_HOLD_MINUTES=30

## Notes
TAKE_PROFIT_PCT=99
`
	p := ParseTradingPolicy(doc)
	assert.Equal(t, 1.5, p.TakeProfitPct)
	assert.Equal(t, -1.0, p.StopLossPct)
	assert.Equal(t, 25.0, p.PositionSizePct)
	assert.Equal(t, 30, p.MinHoldMinutes)
}

func TestParseTradingPolicy_InvalidValuesFallBack(t *testing.T) {
	doc := `## Trading Policy
TAKE_PROFIT_PCT=-3
STOP_LOSS_PCT=2
POSITION_SIZE_PCT=150
MIN_HOLD_MINUTES=NaN
`
	assert.Equal(t, DefaultTradingPolicy(), ParseTradingPolicy(doc))

	doc = "## Trading Policy\nTAKE_PROFIT_PCT=abc\nPOSITION_SIZE_PCT=0\n"
	assert.Equal(t, DefaultTradingPolicy(), ParseTradingPolicy(doc))
}

func TestParsePolicy_Idempotent(t *testing.T) {
	doc := DefaultDocument + "\n## Trading Policy\nTAKE_PROFIT_PCT=4\n"
	assert.Equal(t, ParseTradingPolicy(doc), ParseTradingPolicy(doc))
	assert.Equal(t, ParseUniversePolicy(doc), ParseUniversePolicy(doc))
}

func TestParseUniversePolicy(t *testing.T) {
	doc := `## Universe Selection
TOP_MARKET_CAP=5
TOP_LIQUIDITY=0
TOP_NEWS=3
MAX_UNIVERSE=0
LIQUIDITY_CANDIDATES=40
LIQUIDITY_DAYS=3
MARKETS= kospi, ,kosdaq
INCLUDE_MANAGED=Yes
STEX=nxt
`
	p := ParseUniversePolicy(doc)
	assert.Equal(t, 5, p.TopMarketCap)
	assert.Equal(t, 20, p.TopLiquidity, "non-positive count keeps the default")
	assert.Equal(t, 3, p.TopNews)
	assert.Equal(t, 0, p.MaxUniverse)
	assert.Equal(t, 40, p.LiquidityCandidates)
	assert.Equal(t, 3, p.LiquidityDays)
	assert.Equal(t, []string{"KOSPI", "KOSDAQ"}, p.Markets)
	assert.True(t, p.IncludeManaged)
	assert.Equal(t, "NXT", p.Stex)
}

func TestParseUniversePolicy_Defaults(t *testing.T) {
	assert.Equal(t, DefaultUniversePolicy(), ParseUniversePolicy("# nothing here"))
	assert.Equal(t, DefaultUniversePolicy(), ParseUniversePolicy("## Universe Selection\nMARKETS=,,\n"))
}

func TestParseSection_SubheadingsStayInside(t *testing.T) {
	doc := "## Trading Policy\n### Risk\nSTOP_LOSS_PCT=-4\n## Next\nTAKE_PROFIT_PCT=8\n"
	kv := ParseSection(doc, "trading policy")
	assert.Equal(t, map[string]string{"STOP_LOSS_PCT": "-4"}, kv)
}

func TestParseUniversePolicy_CommentLinesInsideSection(t *testing.T) {
	doc := "## Universe Selection\nTOP_MARKET_CAP=5\n# disabled for now\n# TOP_NEWS=1\nTOP_LIQUIDITY=7\n// note\nMAX_UNIVERSE=9\n"
	p := ParseUniversePolicy(doc)
	assert.Equal(t, 5, p.TopMarketCap)
	assert.Equal(t, 7, p.TopLiquidity)
	assert.Equal(t, 9, p.MaxUniverse)
	assert.Equal(t, 10, p.TopNews, "commented key keeps the default")
}

func TestParseSection_TopLevelSectionEndsAtNextTitle(t *testing.T) {
	doc := "# Trading Policy\nTAKE_PROFIT_PCT=5\n# Other\nSTOP_LOSS_PCT=-9\n"
	assert.Equal(t, map[string]string{"TAKE_PROFIT_PCT": "5"}, ParseSection(doc, "Trading Policy"))
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "TRUE", "1", "yes", "Y"} {
		assert.True(t, ParseBool(v), v)
	}
	for _, v := range []string{"false", "0", "no", "", "on"} {
		assert.False(t, ParseBool(v), v)
	}
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"A", "B"}, ParseList(" a ,, b,"))
	assert.Nil(t, ParseList(""))
}
