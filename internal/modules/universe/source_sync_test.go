package universe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONEntries(t *testing.T) {
	raw := []byte(`[
		{"Code": "A005930", "Cap": "4,000,000", "Name": "Samsung Electronics", "market_cd": "0"},
		{"Code": "", "Cap": 1},
		{"symbol": "000660", "marketCap": 1000, "name": "SK hynix", "marketName": "KOSPI"}
	]`)

	entries, err := ParseJSONEntries(raw, "code", "cap", "name")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "005930", entries[0].Symbol)
	assert.Equal(t, 4000000.0, entries[0].MarketCap)
	assert.Equal(t, "0", entries[0].MarketCode)

	assert.Equal(t, "000660", entries[1].Symbol)
	assert.Equal(t, 1000.0, entries[1].MarketCap)
	assert.Equal(t, "KOSPI", entries[1].MarketName)

	_, err = ParseJSONEntries([]byte("{"), "symbol", "marketcap", "name")
	assert.Error(t, err)
}

func TestParseCSVEntries(t *testing.T) {
	t.Run("with header", func(t *testing.T) {
		raw := []byte("name,symbol,marketcap\nSamsung,005930,400\nSK hynix,000660,100\n")
		entries, err := ParseCSVEntries(raw, "symbol", "marketcap", "name")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "005930", entries[0].Symbol)
		assert.Equal(t, "Samsung", entries[0].Name)
		assert.Equal(t, 400.0, entries[0].MarketCap)
	})

	t.Run("positional columns", func(t *testing.T) {
		raw := []byte("005930,400,Samsung,0,KOSPI\n000660,100,SK hynix\n")
		entries, err := ParseCSVEntries(raw, "symbol", "marketcap", "name")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "KOSPI", entries[0].MarketName)
		assert.Equal(t, "SK hynix", entries[1].Name)
		assert.Empty(t, entries[1].MarketCode)
	})
}

func TestRefreshFromSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"symbol":"005930","marketcap":400},{"symbol":"000660","marketcap":100}]`))
	}))
	defer server.Close()

	db := setupMarketDB(t)
	catalog := NewCatalog(NewRepository(db, zerolog.Nop()), zerolog.Nop())
	sync := NewSourceSync(SourceConfig{URL: server.URL + "/universe"}, catalog, zerolog.Nop())

	n, err := sync.RefreshFromSource(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := catalog.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRefreshFromSource_SkipsWithoutURLAndFailsOnStatus(t *testing.T) {
	db := setupMarketDB(t)
	catalog := NewCatalog(NewRepository(db, zerolog.Nop()), zerolog.Nop())

	n, err := NewSourceSync(SourceConfig{}, catalog, zerolog.Nop()).RefreshFromSource(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err = NewSourceSync(SourceConfig{URL: server.URL}, catalog, zerolog.Nop()).RefreshFromSource(context.Background())
	assert.Error(t, err)
}
