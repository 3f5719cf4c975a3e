package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf})

	l.Info().Str("symbol", "005930").Msg("quote fetched")

	assert.Contains(t, buf.String(), `"symbol":"005930"`)
	assert.Contains(t, buf.String(), "quote fetched")
}

func TestNew_Levels(t *testing.T) {
	testCases := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"info", "info", zerolog.InfoLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"warning alias", "WARNING", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"unknown defaults to info", "loud", zerolog.InfoLevel},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			New(Config{Level: tc.level, Output: &bytes.Buffer{}})
			assert.Equal(t, tc.expected, zerolog.GlobalLevel())
		})
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Pretty: true, Output: &buf})

	l.Info().Msg("cycle complete")

	assert.Contains(t, buf.String(), "cycle complete")
	assert.NotContains(t, buf.String(), `"message"`)
}
