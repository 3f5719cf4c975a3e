package kiwoom

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// aliasTable maps a logical field to the payload keys that may carry it, in priority order
type aliasTable map[string][]string

var (
	quoteFields = aliasTable{
		"price":      {"currentPrice", "cur_prc", "stk_prpr", "price"},
		"changeRate": {"changeRate", "flu_rt", "fluc_rt", "prdy_ctrt", "rate"},
		"volume":     {"volume", "trde_qty", "acml_vol"},
		"name":       {"stk_nm", "name"},
	}

	dailyFields = aliasTable{
		"close": {"close", "stk_clpr", "close_prc", "clpr", "cur_prc"},
		"date":  {"date", "stk_date", "base_dt", "dt"},
	}

	rankFields = aliasTable{
		"symbol":     {"stk_cd", "code", "symbol", "jmcode"},
		"name":       {"stk_nm", "name"},
		"price":      {"cur_prc", "price", "now_price"},
		"changeRate": {"flu_rt", "changeRate", "rate"},
		"volume":     {"trde_qty", "volume", "qty"},
		"value":      {"trde_prica", "trde_amt", "trade_value", "amount"},
	}

	stockListFields = aliasTable{
		"symbol":     {"code", "stk_cd", "symbol"},
		"name":       {"name", "stk_nm"},
		"listCount":  {"listCount", "list_count", "list_cnt"},
		"lastPrice":  {"lastPrice", "last_prc", "last_price", "cur_prc"},
		"marketCode": {"marketCode", "market_cd", "mrkt_cd"},
		"marketName": {"marketName", "market_nm", "mrkt_nm"},
	}

	chartFields = aliasTable{
		"time":       {"cntr_tm", "time"},
		"price":      {"cur_prc", "price"},
		"volume":     {"trde_qty", "volume"},
		"open":       {"open_pric", "open"},
		"high":       {"high_pric", "high"},
		"low":        {"low_pric", "low"},
		"change":     {"pred_pre", "change"},
		"changeSign": {"pred_pre_sig", "change_sign"},
	}

	holdingFields = aliasTable{
		"symbol":       {"stk_cd", "symbol"},
		"name":         {"stk_nm", "name"},
		"quantity":     {"rmnd_qty", "qty"},
		"tradable":     {"trde_able_qty"},
		"avgPrice":     {"pur_pric", "avg_price"},
		"currentPrice": {"cur_prc", "price"},
		"marketValue":  {"evlt_amt", "market_value"},
		"pnl":          {"evltv_prft", "pnl"},
		"profitRate":   {"prft_rt"},
	}

	realtimeFields = aliasTable{
		"symbol":        {"9001"},
		"price":         {"10", "currentPrice", "cur_prc"},
		"bidTotal":      {"6065", "bid_total", "total_bid"},
		"askTotal":      {"6064", "ask_total", "total_ask"},
		"conditionFlag": {"843"},
		"time":          {"20"},
	}

	conditionFields = aliasTable{
		"symbol": {"jmcode", "code", "symbol"},
	}
)

// lookup returns the first present, non-nil alias value
func (t aliasTable) lookup(row map[string]interface{}, field string) (interface{}, bool) {
	for _, key := range t[field] {
		if v, ok := row[key]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v, true
		}
	}
	return nil, false
}

// Number resolves a field as a number, 0 when missing or malformed
func (t aliasTable) Number(row map[string]interface{}, field string) float64 {
	v, ok := t.lookup(row, field)
	if !ok {
		return 0
	}
	return toNumber(v)
}

// Abs resolves a field as an absolute number; feeds prefix prices with a direction sign
func (t aliasTable) Abs(row map[string]interface{}, field string) float64 {
	return math.Abs(t.Number(row, field))
}

// String resolves a field as trimmed text
func (t aliasTable) String(row map[string]interface{}, field string) string {
	v, ok := t.lookup(row, field)
	if !ok {
		return ""
	}
	return toString(v)
}

// toNumber coerces broker values; comma formatted strings and signs are accepted
func toNumber(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(n, ",", ""))
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

// rows extracts a list of objects from payload[key]
func rows(payload map[string]interface{}, key string) []map[string]interface{} {
	list, ok := payload[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if row, ok := item.(map[string]interface{}); ok {
			out = append(out, row)
		}
	}
	return out
}

// returnCode renders return_code uniformly; numeric 0 and "0" both become "0"
func returnCode(payload map[string]interface{}) (string, bool) {
	v, ok := payload["return_code"]
	if !ok || v == nil {
		return "", false
	}
	return toString(v), true
}
