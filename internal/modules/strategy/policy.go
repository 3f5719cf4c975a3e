package strategy

import (
	"math"
	"strconv"
	"strings"
)

// Section headers read by the policy parser
const (
	TradingPolicySection  = "Trading Policy"
	UniverseSectionHeader = "Universe Selection"
)

// TradingPolicy bounds what the execution engine may do
type TradingPolicy struct {
	TakeProfitPct   float64 `json:"takeProfitPct"`
	StopLossPct     float64 `json:"stopLossPct"`
	PositionSizePct float64 `json:"positionSizePct"`
	MinHoldMinutes  int     `json:"minHoldMinutes"`
}

// UniversePolicy sizes the trading universe
type UniversePolicy struct {
	TopMarketCap        int      `json:"topMarketCap"`
	TopLiquidity        int      `json:"topLiquidity"`
	TopNews             int      `json:"topNews"`
	MaxUniverse         int      `json:"maxUniverse"`
	LiquidityCandidates int      `json:"liquidityCandidates"`
	LiquidityDays       int      `json:"liquidityDays"`
	Markets             []string `json:"markets"`
	IncludeManaged      bool     `json:"includeManaged"`
	Stex                string   `json:"stex"`
}

// DefaultTradingPolicy is used for every missing or invalid key
func DefaultTradingPolicy() TradingPolicy {
	return TradingPolicy{
		TakeProfitPct:   3,
		StopLossPct:     -2,
		PositionSizePct: 10,
		MinHoldMinutes:  0,
	}
}

// DefaultUniversePolicy is used for every missing or invalid key
func DefaultUniversePolicy() UniversePolicy {
	return UniversePolicy{
		TopMarketCap:        30,
		TopLiquidity:        20,
		TopNews:             10,
		MaxUniverse:         50,
		LiquidityCandidates: 100,
		LiquidityDays:       5,
		Markets:             []string{"KOSPI", "KOSDAQ"},
		IncludeManaged:      false,
		Stex:                "KRX",
	}
}

// ParseTradingPolicy reads the "## Trading Policy" section of a strategy document
func ParseTradingPolicy(doc string) TradingPolicy {
	p := DefaultTradingPolicy()
	kv := ParseSection(doc, TradingPolicySection)

	if v, ok := floatValue(kv, "TAKE_PROFIT_PCT"); ok && v > 0 {
		p.TakeProfitPct = v
	}
	if v, ok := floatValue(kv, "STOP_LOSS_PCT"); ok && v < 0 {
		p.StopLossPct = v
	}
	if v, ok := floatValue(kv, "POSITION_SIZE_PCT"); ok && v > 0 && v <= 100 {
		p.PositionSizePct = v
	}
	if v, ok := intValue(kv, "MIN_HOLD_MINUTES"); ok && v >= 0 {
		p.MinHoldMinutes = v
	}
	return p
}

// ParseUniversePolicy reads the "## Universe Selection" section of a strategy document
func ParseUniversePolicy(doc string) UniversePolicy {
	p := DefaultUniversePolicy()
	kv := ParseSection(doc, UniverseSectionHeader)

	positive := func(key string, dst *int) {
		if v, ok := intValue(kv, key); ok && v > 0 {
			*dst = v
		}
	}
	positive("TOP_MARKET_CAP", &p.TopMarketCap)
	positive("TOP_LIQUIDITY", &p.TopLiquidity)
	positive("TOP_NEWS", &p.TopNews)
	positive("LIQUIDITY_CANDIDATES", &p.LiquidityCandidates)
	positive("LIQUIDITY_DAYS", &p.LiquidityDays)

	// 0 means unlimited
	if v, ok := intValue(kv, "MAX_UNIVERSE"); ok && v >= 0 {
		p.MaxUniverse = v
	}
	if raw, ok := kv["MARKETS"]; ok {
		if markets := ParseList(raw); len(markets) > 0 {
			p.Markets = markets
		}
	}
	if raw, ok := kv["INCLUDE_MANAGED"]; ok {
		p.IncludeManaged = ParseBool(raw)
	}
	if raw, ok := kv["STEX"]; ok {
		if stex := strings.ToUpper(strings.TrimSpace(raw)); stex != "" {
			p.Stex = stex
		}
	}
	return p
}

// ParseSection returns the KEY=value pairs of a named section with upper-cased keys.
// The section runs until the next heading of the same or a higher level. Lines
// starting with "#" are comments inside a "##" or deeper section, so only
// "##" and deeper headings can close it.
func ParseSection(doc, name string) map[string]string {
	out := make(map[string]string)
	level := 0

	for _, rawLine := range strings.Split(doc, "\n") {
		line := strings.TrimSpace(rawLine)

		if hashes, title, ok := heading(line); ok {
			if level == 0 {
				if strings.EqualFold(title, name) {
					level = hashes
				}
				continue
			}
			// a single "#" inside a deeper section is a comment line
			if hashes <= level && (hashes > 1 || level == 1) {
				break
			}
			continue
		}
		if level == 0 || line == "" || isComment(line) {
			continue
		}

		line = strings.TrimSpace(strings.TrimLeft(line, "-*"))
		line = strings.Trim(line, "`")
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(line[idx+1:])
	}
	return out
}

// heading recognizes markdown ATX headings like "## Trading Policy"
func heading(line string) (int, string, bool) {
	hashes := 0
	for hashes < len(line) && line[hashes] == '#' {
		hashes++
	}
	if hashes == 0 || hashes > 6 || hashes >= len(line) || line[hashes] != ' ' {
		return 0, "", false
	}
	return hashes, strings.TrimSpace(line[hashes:]), true
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, ";") ||
		strings.HasPrefix(line, "<!--")
}

// ParseBool accepts true, 1, yes and y in any case
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "y":
		return true
	default:
		return false
	}
}

// ParseList comma-splits, trims and upper-cases, dropping empty items
func ParseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.ToUpper(strings.TrimSpace(part)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func floatValue(kv map[string]string, key string) (float64, bool) {
	raw, ok := kv[key]
	if !ok {
		return 0, false
	}
	raw = strings.TrimSuffix(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), "%")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func intValue(kv map[string]string, key string) (int, bool) {
	v, ok := floatValue(kv, key)
	if !ok {
		return 0, false
	}
	return int(math.Floor(v)), true
}
