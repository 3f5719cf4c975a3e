package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSymbol(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"A005930", "005930"},
		{"005930", "005930"},
		{" A000660 ", "000660"},
		{"", ""},
		{"A", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeSymbol(tc.in))
		})
	}
}

func TestNormalizeSymbols_DropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"005930", "000660"}, NormalizeSymbols([]string{"A005930", " ", "000660", "A"}))
}
