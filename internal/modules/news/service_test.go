package news

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	answer string
	prompt string
}

func (g *stubGenerator) GenerateText(_ context.Context, prompt string) string {
	g.prompt = prompt
	return g.answer
}

type memoryStrategy struct {
	content string
	source  string
	writes  int
}

func (m *memoryStrategy) GetCurrentStrategy() (string, error) {
	return m.content, nil
}

func (m *memoryStrategy) UpdateStrategy(_ context.Context, content, source string) error {
	m.content = content
	m.source = source
	m.writes++
	return nil
}

func feedServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, testFeed)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestService_ScrapeLatestNewsRecordsEverySource(t *testing.T) {
	srv := feedServer(t)
	repo := NewRepository(setupMarketDB(t), zerolog.Nop())
	svc := NewService(Config{Feeds: []string{srv.URL + "/feed", srv.URL + "/broken"}}, repo, nil, nil, zerolog.Nop())
	ctx := context.Background()

	articles, err := svc.ScrapeLatestNews(ctx)
	require.NoError(t, err)
	assert.Len(t, articles, 2)

	stored, err := svc.GetLatestNews(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	runs, err := repo.ListScrapeRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	var ok, failed int
	for _, run := range runs {
		if run.Success {
			ok++
		} else {
			failed++
			assert.NotEmpty(t, run.ErrorMessage)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, failed)
}

func TestService_RefineStrategyWithNews(t *testing.T) {
	srv := feedServer(t)
	repo := NewRepository(setupMarketDB(t), zerolog.Nop())
	gen := &stubGenerator{answer: "  # Strategy\n\nBuy chips.  "}
	store := &memoryStrategy{content: "# Strategy\n\nHold."}
	svc := NewService(Config{Feeds: []string{srv.URL}}, repo, gen, store, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.ScrapeLatestNews(ctx)
	require.NoError(t, err)

	changed, err := svc.RefineStrategyWithNews(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "# Strategy\n\nBuy chips.", store.content)
	assert.Equal(t, RefinementSource, store.source)
	assert.True(t, strings.HasPrefix(gen.prompt, "You are an equity trading strategy updater."))
	assert.Contains(t, gen.prompt, "Hold.")
	assert.Contains(t, gen.prompt, "Bank of Korea holds rates")
}

func TestService_RefineKeepsStrategyOnEmptyAnswer(t *testing.T) {
	srv := feedServer(t)
	repo := NewRepository(setupMarketDB(t), zerolog.Nop())
	store := &memoryStrategy{content: "keep"}
	svc := NewService(Config{Feeds: []string{srv.URL}}, repo, &stubGenerator{answer: "   "}, store, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.ScrapeLatestNews(ctx)
	require.NoError(t, err)

	changed, err := svc.RefineStrategyWithNews(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, store.writes)
}

func TestService_RefineSkipsWithoutNews(t *testing.T) {
	repo := NewRepository(setupMarketDB(t), zerolog.Nop())
	gen := &stubGenerator{answer: "anything"}
	store := &memoryStrategy{content: "keep"}
	svc := NewService(Config{}, repo, gen, store, zerolog.Nop())

	changed, err := svc.RefineStrategyWithNews(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, gen.prompt)
}
