// Package kiwoom is the brokerage connectivity layer: token lifecycle,
// rate-limited REST calls and the realtime websocket.
package kiwoom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/events"
	"github.com/aristath/tradeagent/internal/marketdata"
)

const (
	DefaultBaseURL     = "https://api.kiwoom.com"
	DefaultWSURL       = "wss://api.kiwoom.com:10000/api/dostk/websocket"
	MockWSURL          = "wss://mockapi.kiwoom.com:10000/api/dostk/websocket"
	defaultHTTPTimeout = 10 * time.Second
	maxLoggedBody      = 500
)

// Endpoint families under /api/dostk
const (
	familyStockInfo = "stkinfo"
	familyRankInfo  = "rkinfo"
	familyChart     = "chart"
	familyAccount   = "acnt"
	familyOrder     = "ordr"
)

var (
	errMissingCredentials = errors.New("KIWOOM_APP_KEY or KIWOOM_APP_SECRET is missing while mock mode is off")
	errMissingToken       = errors.New("token response does not contain an access token")
)

// Config configures the brokerage client
type Config struct {
	BaseURL        string
	WSURL          string
	AppKey         string
	AppSecret      string
	Mock           bool
	MinInterval    time.Duration
	RequestTimeout time.Duration
}

// EventSink receives realtime condition events
type EventSink interface {
	EmitData(module string, data events.EventData)
}

// Client is the brokerage connectivity layer. It owns the token cache,
// the request scheduler and the realtime socket.
type Client struct {
	cfg        Config
	httpClient *http.Client
	scheduler  *RequestScheduler
	tokens     *TokenSource
	socket     *RealtimeSocket
	cache      *marketdata.Cache
	audit      domain.AuditRecorder
	log        zerolog.Logger
}

// NewClient creates the client and starts its request worker
func NewClient(cfg Config, cache *marketdata.Cache, audit domain.AuditRecorder, sink EventSink, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.WSURL == "" {
		cfg.WSURL = DefaultWSURL
		if cfg.Mock {
			cfg.WSURL = MockWSURL
		}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultHTTPTimeout
	}
	if cache == nil {
		cache = marketdata.NewCache(marketdata.DefaultTTL)
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout + 5*time.Second},
		cache:      cache,
		audit:      audit,
		log:        log.With().Str("component", "kiwoom").Logger(),
	}
	c.scheduler = NewRequestScheduler(cfg.MinInterval, log)
	c.tokens = newTokenSource(c.issueAccessToken)
	c.socket = newRealtimeSocket(socketConfig{
		url:            cfg.WSURL,
		token:          c.tokens.Token,
		cache:          cache,
		sink:           sink,
		record:         c.recordCall,
		reconnectDelay: defaultReconnectDelay,
		requestTimeout: DefaultRequestTimeout,
	}, log)

	return c
}

// Mock reports whether the client serves synthetic data
func (c *Client) Mock() bool {
	return c.cfg.Mock
}

// Cache exposes the realtime cache the socket feeds
func (c *Client) Cache() *marketdata.Cache {
	return c.cache
}

// Socket exposes the realtime socket
func (c *Client) Socket() *RealtimeSocket {
	return c.socket
}

// RealtimeConnected reports whether the shared realtime socket is logged in
func (c *Client) RealtimeConnected() bool {
	return c.socket != nil && c.socket.IsConnected()
}

// GetAccessToken returns a valid token, refreshing it when close to expiry
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// Close stops the socket and drains the request queue
func (c *Client) Close() {
	c.socket.Close()
	c.scheduler.Close()
}

// httpResult is a parsed brokerage HTTP response
type httpResult struct {
	status  int
	payload map[string]interface{}
	raw     string
	header  http.Header
}

// pageCursor carries continuation headers between paginated calls
type pageCursor struct {
	ContYN  string
	NextKey string
}

// hasNext reports whether the server announced another page
func (p pageCursor) hasNext() bool {
	return p.ContYN == "Y"
}

// post calls one endpoint family with the given api-id and checks the envelope
func (c *Client) post(ctx context.Context, family, apiID string, body map[string]interface{}, cursor *pageCursor) (map[string]interface{}, pageCursor, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, pageCursor{}, err
	}

	endpoint := fmt.Sprintf("%s/api/dostk/%s", c.cfg.BaseURL, family)
	headers := map[string]string{
		"api-id":        apiID,
		"authorization": "Bearer " + token,
	}
	if cursor != nil && cursor.hasNext() {
		headers["cont-yn"] = cursor.ContYN
		headers["next-key"] = cursor.NextKey
	}

	res, err := c.send(ctx, endpoint, headers, body)
	if err != nil {
		c.recordCall(ctx, http.MethodPost, endpoint, body, map[string]interface{}{"error": err.Error()}, 0, false)
		return nil, pageCursor{}, err
	}

	if err := c.checkEnvelope(endpoint, apiID, res); err != nil {
		c.recordCall(ctx, http.MethodPost, endpoint, body, auditBody(res), res.status, false)
		return nil, pageCursor{}, err
	}

	c.recordCall(ctx, http.MethodPost, endpoint, body, res.payload, res.status, true)
	next := pageCursor{
		ContYN:  res.header.Get("cont-yn"),
		NextKey: res.header.Get("next-key"),
	}
	return res.payload, next, nil
}

// checkEnvelope requires a 2xx status and a zero return_code
func (c *Client) checkEnvelope(endpoint, apiID string, res *httpResult) error {
	if res.status < 200 || res.status > 299 {
		body := res.raw
		if len(body) > maxLoggedBody {
			body = body[:maxLoggedBody] + "..."
		}
		c.log.Error().
			Int("status_code", res.status).
			Str("api_id", apiID).
			Str("response_body", body).
			Str("url", endpoint).
			Msg("API returned non-2xx status")
		return &domain.ProtocolError{Endpoint: apiID, StatusCode: res.status, Message: http.StatusText(res.status)}
	}
	if res.payload == nil {
		return &domain.ProtocolError{Endpoint: apiID, StatusCode: res.status, Message: "malformed response body"}
	}
	if code, ok := returnCode(res.payload); ok && !isZeroCode(code) {
		msg := toString(res.payload["return_msg"])
		c.log.Error().
			Str("api_id", apiID).
			Str("return_code", code).
			Str("return_msg", msg).
			Str("url", endpoint).
			Msg("API returned non-zero return_code")
		return &domain.ProtocolError{Endpoint: apiID, StatusCode: res.status, ReturnCode: code, Message: msg}
	}
	return nil
}

// send runs one HTTP POST through the request scheduler
func (c *Client) send(ctx context.Context, endpoint string, headers map[string]string, body interface{}) (*httpResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var (
		res    *httpResult
		reqErr error
	)
	if err := c.scheduler.Do(ctx, func() {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
		res, reqErr = c.doRequest(reqCtx, endpoint, headers, data)
	}); err != nil {
		return nil, err
	}
	return res, reqErr
}

func (c *Client) doRequest(ctx context.Context, endpoint string, headers map[string]string, body []byte) (*httpResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", endpoint, domain.ErrTimeout)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	res := &httpResult{status: resp.StatusCode, raw: string(raw), header: resp.Header}
	var payload map[string]interface{}
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &payload) == nil {
		res.payload = payload
	}
	return res, nil
}

// isZeroCode accepts "0", "00" and numeric zero
func isZeroCode(code string) bool {
	n, err := strconv.ParseFloat(strings.TrimSpace(code), 64)
	return err == nil && n == 0
}

// auditBody prefers the parsed payload and falls back to the raw text
func auditBody(res *httpResult) interface{} {
	if res.payload != nil {
		return res.payload
	}
	return map[string]interface{}{"raw": res.raw}
}

// issueAccessToken performs the client-credentials token call
func (c *Client) issueAccessToken(ctx context.Context) (issuedToken, error) {
	if c.cfg.AppKey == "" || c.cfg.AppSecret == "" {
		return issuedToken{}, &domain.AuthError{Op: "token", Err: errMissingCredentials}
	}

	endpoint := c.cfg.BaseURL + "/oauth2/token"
	body := map[string]interface{}{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"secretkey":  c.cfg.AppSecret,
	}

	res, err := c.send(ctx, endpoint, map[string]string{"api-id": "au10001"}, body)
	if err != nil {
		c.recordCall(ctx, http.MethodPost, endpoint, body, map[string]interface{}{"error": err.Error()}, 0, false)
		return issuedToken{}, &domain.AuthError{Op: "token", Err: err}
	}

	if err := c.checkEnvelope(endpoint, "au10001", res); err != nil {
		c.recordCall(ctx, http.MethodPost, endpoint, body, auditBody(res), res.status, false)
		return issuedToken{}, &domain.AuthError{Op: "token", Err: err}
	}

	token, err := parseTokenResponse(res.payload, time.Now())
	c.recordCall(ctx, http.MethodPost, endpoint, body, res.payload, res.status, err == nil)
	if err != nil {
		return issuedToken{}, err
	}

	c.log.Info().Time("expires_at", token.ExpiresAt).Msg("Issued access token")
	return token, nil
}
