package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/rs/zerolog"
)

// GenerateJSON asks the generator for JSON and decodes it into T. Empty,
// null or unparsable output yields fallback.
func GenerateJSON[T any](ctx context.Context, gen domain.TextGenerator, prompt string, fallback T, log zerolog.Logger) T {
	if gen == nil {
		return fallback
	}
	text := gen.GenerateText(ctx, prompt)
	if strings.TrimSpace(text) == "" {
		return fallback
	}

	var out *T
	if err := json.Unmarshal([]byte(StripCodeFences(text)), &out); err != nil {
		log.Warn().Err(err).Msg("Failed to parse LLM JSON response")
		return fallback
	}
	if out == nil {
		log.Warn().Msg("LLM JSON response was null")
		return fallback
	}
	return *out
}

// StripCodeFences removes markdown ``` fence lines
func StripCodeFences(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
