package kiwoom

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/tradeagent/internal/domain"
)

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		payload map[string]interface{}
		want    time.Time
	}{
		{
			name:    "explicit broker timestamp",
			payload: map[string]interface{}{"expires_dt": "20260302150000", "expires_in": float64(60)},
			want:    time.Date(2026, 3, 2, 15, 0, 0, 0, seoul),
		},
		{
			name:    "rfc3339 timestamp",
			payload: map[string]interface{}{"expires_dt": "2026-03-02T06:00:00Z"},
			want:    time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
		},
		{
			name:    "relative seconds",
			payload: map[string]interface{}{"expires_dt": "not a date", "expires_in": float64(3600)},
			want:    now.Add(time.Hour),
		},
		{
			name:    "default",
			payload: map[string]interface{}{},
			want:    now.Add(50 * time.Minute),
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(tokenExpiry(tc.payload, now)), "got %v", tokenExpiry(tc.payload, now))
		})
	}
}

func TestParseTokenResponse(t *testing.T) {
	now := time.Now()

	tok, err := parseTokenResponse(map[string]interface{}{"token": "abc"}, now)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Value)

	tok, err = parseTokenResponse(map[string]interface{}{"access_token": "first", "token": "second"}, now)
	require.NoError(t, err)
	assert.Equal(t, "first", tok.Value)

	_, err = parseTokenResponse(map[string]interface{}{}, now)
	assert.True(t, domain.IsAuthError(err))
}

func TestTokenSource_SingleFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	src := newTokenSource(func(ctx context.Context) (issuedToken, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return issuedToken{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := src.Token(context.Background())
			assert.NoError(t, err)
			results[i] = tok
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, tok := range results {
		assert.Equal(t, "tok", tok)
	}

	// Cached afterwards
	_, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var calls int32
	src := newTokenSource(func(ctx context.Context) (issuedToken, error) {
		n := atomic.AddInt32(&calls, 1)
		return issuedToken{Value: string(rune('a' + n - 1)), ExpiresAt: now.Add(2 * time.Minute)}, nil
	})
	src.now = func() time.Time { return now }

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tok)

	now = now.Add(59 * time.Second)
	tok, _ = src.Token(context.Background())
	assert.Equal(t, "a", tok)

	// Inside the 60s margin
	now = now.Add(2 * time.Second)
	tok, _ = src.Token(context.Background())
	assert.Equal(t, "b", tok)
}

func TestTokenSource_ErrorNotCached(t *testing.T) {
	fail := true
	src := newTokenSource(func(ctx context.Context) (issuedToken, error) {
		if fail {
			return issuedToken{}, &domain.AuthError{Op: "token", Err: errors.New("boom")}
		}
		return issuedToken{Value: "ok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	_, err := src.Token(context.Background())
	assert.True(t, domain.IsAuthError(err))

	fail = false
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", tok)
}
