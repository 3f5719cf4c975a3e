package kiwoom

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aristath/tradeagent/internal/domain"
)

const (
	tokenRefreshMargin = 60 * time.Second
	defaultTokenTTL    = 50 * time.Minute
	tokenIssueTimeout  = 15 * time.Second
)

// expiryLayouts are the explicit expiry formats the token endpoint is known to return
var expiryLayouts = []string{"20060102150405", time.RFC3339, "2006-01-02 15:04:05"}

// seoul is where the broker stamps expiry times
var seoul = time.FixedZone("KST", 9*60*60)

// issuedToken is the parsed result of one token call
type issuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenSource caches the access token and refreshes it single-flight
type TokenSource struct {
	issue func(ctx context.Context) (issuedToken, error)
	now   func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	group     singleflight.Group
}

func newTokenSource(issue func(ctx context.Context) (issuedToken, error)) *TokenSource {
	return &TokenSource{issue: issue, now: time.Now}
}

// Token returns the cached token unless it is within a minute of expiry
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.token != "" && t.now().Add(tokenRefreshMargin).Before(t.expiresAt) {
		token := t.token
		t.mu.Unlock()
		return token, nil
	}
	t.mu.Unlock()

	ch := t.group.DoChan("token", func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others
		issueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenIssueTimeout)
		defer cancel()

		issued, err := t.issue(issueCtx)
		if err != nil {
			return "", err
		}

		t.mu.Lock()
		t.token = issued.Value
		t.expiresAt = issued.ExpiresAt
		t.mu.Unlock()
		return issued.Value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiresAt = time.Time{}
	t.mu.Unlock()
}

// parseTokenResponse reads the token and its expiry from the issue payload
func parseTokenResponse(payload map[string]interface{}, now time.Time) (issuedToken, error) {
	token := toString(payload["access_token"])
	if token == "" {
		token = toString(payload["token"])
	}
	if token == "" {
		return issuedToken{}, &domain.AuthError{Op: "token", Err: errMissingToken}
	}
	return issuedToken{Value: token, ExpiresAt: tokenExpiry(payload, now)}, nil
}

// tokenExpiry prefers expires_dt, then expires_in seconds, then a 50 minute default
func tokenExpiry(payload map[string]interface{}, now time.Time) time.Time {
	if raw := toString(payload["expires_dt"]); raw != "" {
		for _, layout := range expiryLayouts {
			if ts, err := time.ParseInLocation(layout, raw, seoul); err == nil {
				return ts
			}
		}
	}
	if v, ok := payload["expires_in"]; ok {
		if secs := toNumber(v); secs > 0 {
			return now.Add(time.Duration(secs * float64(time.Second)))
		}
	}
	return now.Add(defaultTokenTTL)
}
