package domain

import "strings"

// NormalizeSymbol strips the leading market prefix ("A005930" -> "005930")
func NormalizeSymbol(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "A")
	return strings.TrimSpace(value)
}

// NormalizeSymbols normalizes a list and drops empty results
func NormalizeSymbols(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := NormalizeSymbol(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
