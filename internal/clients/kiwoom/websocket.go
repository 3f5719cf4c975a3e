package kiwoom

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/tradeagent/internal/domain"
	"github.com/aristath/tradeagent/internal/events"
	"github.com/aristath/tradeagent/internal/marketdata"
)

const (
	writeWait             = 10 * time.Second
	dialTimeout           = 30 * time.Second
	defaultReconnectDelay = 2 * time.Second
	readLimit             = 4 << 20

	trnmPing  = "PING"
	trnmLogin = "LOGIN"
	trnmReal  = "REAL"
	trnmReg   = "REG"

	typeOrderbook = "0D"
)

// DefaultRealtimeTypes is subscribed when the caller names none
var DefaultRealtimeTypes = []string{"0B"}

type recordFunc func(ctx context.Context, method, endpoint string, request, response interface{}, status int, success bool)

type socketConfig struct {
	url            string
	token          func(ctx context.Context) (string, error)
	cache          *marketdata.Cache
	sink           EventSink
	record         recordFunc
	reconnectDelay time.Duration
	requestTimeout time.Duration
}

// connectAttempt is shared by every caller waiting on the same dial
type connectAttempt struct {
	done chan struct{}
	err  error
}

// RealtimeSocket is the single shared realtime connection
type RealtimeSocket struct {
	cfg        socketConfig
	httpClient *http.Client
	pending    *PendingRegistry
	log        zerolog.Logger

	mu                 sync.Mutex
	conn               *websocket.Conn
	cancelFunc         context.CancelFunc
	connecting         *connectAttempt
	reconnectScheduled bool
	stopped            bool
	subscribed         map[string]struct{}
}

// createHTTP1Client forces HTTP/1.1 so the upgrade handshake is not negotiated away over ALPN
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

func newRealtimeSocket(cfg socketConfig, log zerolog.Logger) *RealtimeSocket {
	if cfg.reconnectDelay <= 0 {
		cfg.reconnectDelay = defaultReconnectDelay
	}
	if cfg.requestTimeout <= 0 {
		cfg.requestTimeout = DefaultRequestTimeout
	}
	if cfg.record == nil {
		cfg.record = func(context.Context, string, string, interface{}, interface{}, int, bool) {}
	}
	return &RealtimeSocket{
		cfg:        cfg,
		httpClient: createHTTP1Client(),
		pending:    NewPendingRegistry(),
		log:        log.With().Str("component", "kiwoom-websocket").Logger(),
		subscribed: make(map[string]struct{}),
	}
}

// IsConnected reports whether the shared connection is logged in
func (ws *RealtimeSocket) IsConnected() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.conn != nil
}

// IsSubscribed reports whether realtime data was requested for symbol
func (ws *RealtimeSocket) IsSubscribed(symbol string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	_, ok := ws.subscribed[domain.NormalizeSymbol(symbol)]
	return ok
}

// EnsureConnected dials and logs in once; concurrent callers share the attempt
func (ws *RealtimeSocket) EnsureConnected(ctx context.Context) error {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return domain.ErrClientClosed
	}
	if ws.conn != nil {
		ws.mu.Unlock()
		return nil
	}
	attempt := ws.connecting
	if attempt == nil {
		attempt = &connectAttempt{done: make(chan struct{})}
		ws.connecting = attempt
		go ws.runConnect(attempt)
	}
	ws.mu.Unlock()

	select {
	case <-attempt.done:
		return attempt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ws *RealtimeSocket) runConnect(attempt *connectAttempt) {
	attempt.err = ws.connect()

	ws.mu.Lock()
	ws.connecting = nil
	ws.mu.Unlock()

	close(attempt.done)
}

// connect dials, logs in and starts the read loop
func (ws *RealtimeSocket) connect() error {
	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	token, err := ws.cfg.token(dialCtx)
	if err != nil {
		return err
	}

	ws.log.Info().Str("url", ws.cfg.url).Msg("Connecting to realtime WebSocket")

	conn, _, err := websocket.Dial(dialCtx, ws.cfg.url, &websocket.DialOptions{
		HTTPClient: ws.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	conn.SetReadLimit(readLimit)

	if err := ws.login(dialCtx, conn, token); err != nil {
		conn.Close(websocket.StatusNormalClosure, "login failed")
		return err
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return domain.ErrClientClosed
	}
	ws.conn = conn
	ws.cancelFunc = connCancel
	ws.mu.Unlock()

	go ws.readMessages(connCtx, conn)

	ws.log.Info().Msg("Realtime WebSocket logged in")
	return nil
}

// login sends LOGIN and waits for its acknowledgement; other traffic is dispatched normally
func (ws *RealtimeSocket) login(ctx context.Context, conn *websocket.Conn, token string) error {
	if err := writeJSON(ctx, conn, map[string]interface{}{"trnm": trnmLogin, "token": token}); err != nil {
		return fmt.Errorf("failed to send login: %w", err)
	}

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return &domain.AuthError{Op: "websocket login", Err: domain.ErrTimeout}
			}
			return &domain.AuthError{Op: "websocket login", Err: err}
		}
		if msgType != websocket.MessageText {
			continue
		}

		msg, ok := decodeMessage(data)
		if !ok {
			continue
		}
		switch toString(msg["trnm"]) {
		case trnmLogin:
			if code, _ := returnCode(msg); code != "0" {
				return &domain.AuthError{
					Op:  "websocket login",
					Err: &domain.ProtocolError{Endpoint: trnmLogin, ReturnCode: code, Message: toString(msg["return_msg"])},
				}
			}
			return nil
		case trnmPing:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return fmt.Errorf("failed to echo ping: %w", err)
			}
		default:
			ws.dispatch(ctx, conn, msg, data)
		}
	}
}

// readMessages reads until the connection drops, then schedules a reconnect
func (ws *RealtimeSocket) readMessages(ctx context.Context, conn *websocket.Conn) {
	defer ws.handleClose(conn)

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				ws.log.Info().Int("status", int(closeStatus)).Msg("WebSocket closed normally")
			} else if ctx.Err() != nil {
				ws.log.Debug().Msg("Read cancelled by context")
			} else {
				ws.log.Error().Err(err).Msg("Unexpected WebSocket read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			ws.log.Debug().Int("type", int(msgType)).Msg("Ignoring non-text message")
			continue
		}

		msg, ok := decodeMessage(data)
		if !ok {
			ws.log.Debug().Str("message", string(data)).Msg("Ignoring malformed WebSocket message")
			continue
		}
		ws.dispatch(ctx, conn, msg, data)
	}
}

// dispatch routes one inbound message by its trnm tag
func (ws *RealtimeSocket) dispatch(ctx context.Context, conn *websocket.Conn, msg map[string]interface{}, data []byte) {
	trnm := toString(msg["trnm"])
	switch trnm {
	case trnmPing:
		writeCtx, cancel := context.WithTimeout(ctx, writeWait)
		defer cancel()
		if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
			ws.log.Warn().Err(err).Msg("Failed to echo ping")
		}
	case trnmReal:
		ws.handleRealtime(msg)
	case trnmLogin:
		ws.log.Debug().Msg("Ignoring late login acknowledgement")
	default:
		if !ws.pending.Resolve(trnm, msg) {
			ws.log.Debug().Str("trnm", trnm).Msg("No pending request for message")
		}
	}
}

// handleRealtime feeds REAL push entries into the cache and condition events into the sink
func (ws *RealtimeSocket) handleRealtime(msg map[string]interface{}) {
	list, _ := msg["data"].([]interface{})
	for _, item := range list {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		values, _ := entry["values"].(map[string]interface{})
		if values == nil {
			values = map[string]interface{}{}
		}

		raw := realtimeFields.String(values, "symbol")
		if raw == "" {
			raw = toString(entry["item"])
		}
		if raw == "" {
			raw = toString(entry["name"])
		}
		symbol := domain.NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		typ := toString(entry["type"])

		if flag := realtimeFields.String(values, "conditionFlag"); flag == "I" || flag == "D" {
			if ws.cfg.sink != nil {
				ws.cfg.sink.EmitData("kiwoom", &events.ConditionData{
					Action: flag,
					Symbol: symbol,
					Time:   realtimeFields.String(values, "time"),
					Raw:    entry,
				})
			}
		}

		if ws.cfg.cache == nil {
			continue
		}

		if typ == typeOrderbook {
			bid := realtimeFields.Number(values, "bidTotal")
			ask := realtimeFields.Number(values, "askTotal")
			if bid != 0 || ask != 0 {
				ws.cfg.cache.SetOrderbook(symbol, bid, ask, typ)
			}
			continue
		}

		if price := realtimeFields.Abs(values, "price"); price > 0 {
			ws.cfg.cache.SetPrice(symbol, price, typ)
		}
	}
}

// handleClose clears connection state and schedules one reconnect
func (ws *RealtimeSocket) handleClose(conn *websocket.Conn) {
	ws.mu.Lock()
	if ws.conn == conn {
		ws.conn = nil
		if ws.cancelFunc != nil {
			ws.cancelFunc()
			ws.cancelFunc = nil
		}
		// Server-side registrations die with the connection
		ws.subscribed = make(map[string]struct{})
	}
	stopped := ws.stopped
	ws.mu.Unlock()

	ws.log.Info().Msg("Read loop stopped")
	if !stopped {
		ws.scheduleReconnect()
	}
}

// scheduleReconnect arms a single delayed reconnect unless one is pending
func (ws *RealtimeSocket) scheduleReconnect() {
	ws.mu.Lock()
	if ws.reconnectScheduled || ws.stopped {
		ws.mu.Unlock()
		return
	}
	ws.reconnectScheduled = true
	ws.mu.Unlock()

	ws.log.Info().Dur("delay", ws.cfg.reconnectDelay).Msg("Scheduling WebSocket reconnect")

	time.AfterFunc(ws.cfg.reconnectDelay, func() {
		ws.mu.Lock()
		ws.reconnectScheduled = false
		ws.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		if err := ws.EnsureConnected(ctx); err != nil && !errors.Is(err, domain.ErrClientClosed) {
			ws.log.Warn().Err(err).Msg("WebSocket reconnect failed")
		}
	})
}

// Send writes a message on the shared connection
func (ws *RealtimeSocket) Send(ctx context.Context, payload interface{}) error {
	if err := ws.EnsureConnected(ctx); err != nil {
		return err
	}

	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket is not connected")
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return writeJSON(writeCtx, conn, payload)
}

// Request sends payload and waits for the next message tagged with the same trnm
func (ws *RealtimeSocket) Request(ctx context.Context, trnm string, payload map[string]interface{}) (map[string]interface{}, error) {
	if err := ws.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	waiter := ws.pending.Register(trnm, ws.cfg.requestTimeout)
	if err := ws.Send(ctx, payload); err != nil {
		ws.pending.remove(waiter)
		ws.cfg.record(ctx, "WS", ws.cfg.url, payload, map[string]interface{}{"error": err.Error()}, 0, false)
		return nil, err
	}

	resp, err := waiter.Wait(ctx)
	if err != nil {
		ws.cfg.record(ctx, "WS", ws.cfg.url, payload, map[string]interface{}{"error": err.Error()}, 0, false)
		return nil, fmt.Errorf("websocket request %s: %w", trnm, err)
	}
	ws.cfg.record(ctx, "WS", ws.cfg.url, payload, resp, http.StatusOK, true)
	return resp, nil
}

// RegisterRealtimeQuotes subscribes symbols that are not subscribed yet
func (ws *RealtimeSocket) RegisterRealtimeQuotes(ctx context.Context, symbols, types []string) error {
	normalized := domain.NormalizeSymbols(symbols)
	if len(normalized) == 0 {
		return nil
	}
	if len(types) == 0 {
		types = DefaultRealtimeTypes
	}

	if err := ws.EnsureConnected(ctx); err != nil {
		return err
	}

	ws.mu.Lock()
	fresh := make([]string, 0, len(normalized))
	for _, s := range normalized {
		if _, ok := ws.subscribed[s]; ok {
			continue
		}
		ws.subscribed[s] = struct{}{}
		fresh = append(fresh, s)
	}
	ws.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	payload := map[string]interface{}{
		"trnm":    trnmReg,
		"grp_no":  "1",
		"refresh": "1",
		"data": []interface{}{
			map[string]interface{}{"item": fresh, "type": types},
		},
	}

	if err := ws.Send(ctx, payload); err != nil {
		ws.mu.Lock()
		for _, s := range fresh {
			delete(ws.subscribed, s)
		}
		ws.mu.Unlock()
		ws.cfg.record(ctx, "WS", ws.cfg.url, payload, map[string]interface{}{"error": err.Error()}, 0, false)
		return fmt.Errorf("failed to register realtime quotes: %w", err)
	}

	ws.cfg.record(ctx, "WS", ws.cfg.url, payload, map[string]interface{}{"status": "sent"}, http.StatusOK, true)
	ws.log.Debug().Strs("symbols", fresh).Strs("types", types).Msg("Registered realtime quotes")
	return nil
}

// RequestWithAPIID runs one exchange on a short-lived socket carrying the api-id header
func (ws *RealtimeSocket) RequestWithAPIID(ctx context.Context, trnm, apiID string, payload map[string]interface{}) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, ws.cfg.requestTimeout)
	defer cancel()

	resp, err := ws.requestWithAPIID(ctx, trnm, apiID, payload)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			err = fmt.Errorf("%s: %w", trnm, domain.ErrTimeout)
		}
		ws.cfg.record(ctx, "WS", ws.cfg.url, payload, map[string]interface{}{"error": err.Error(), "api_id": apiID}, 0, false)
		return nil, err
	}
	ws.cfg.record(ctx, "WS", ws.cfg.url, payload, resp, http.StatusOK, true)
	return resp, nil
}

func (ws *RealtimeSocket) requestWithAPIID(ctx context.Context, trnm, apiID string, payload map[string]interface{}) (map[string]interface{}, error) {
	token, err := ws.cfg.token(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("api-id", apiID)
	header.Set("authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(ctx, ws.cfg.url, &websocket.DialOptions{
		HTTPClient: ws.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(readLimit)

	if err := writeJSON(ctx, conn, map[string]interface{}{"trnm": trnmLogin, "token": token}); err != nil {
		return nil, fmt.Errorf("failed to send login: %w", err)
	}

	sent := false
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("websocket request %s: %w", trnm, err)
		}
		if msgType != websocket.MessageText {
			continue
		}
		msg, ok := decodeMessage(data)
		if !ok {
			continue
		}

		switch got := toString(msg["trnm"]); {
		case got == trnmPing:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return nil, fmt.Errorf("failed to echo ping: %w", err)
			}
		case got == trnmLogin:
			if code, _ := returnCode(msg); code != "0" {
				return nil, &domain.AuthError{
					Op:  "websocket login",
					Err: &domain.ProtocolError{Endpoint: apiID, ReturnCode: code, Message: toString(msg["return_msg"])},
				}
			}
			if !sent {
				if err := writeJSON(ctx, conn, payload); err != nil {
					return nil, fmt.Errorf("failed to send %s: %w", trnm, err)
				}
				sent = true
			}
		case got == trnm:
			return msg, nil
		}
	}
}

// Close stops the socket for good; no reconnect follows
func (ws *RealtimeSocket) Close() {
	ws.mu.Lock()
	if ws.stopped {
		ws.mu.Unlock()
		return
	}
	ws.stopped = true
	conn := ws.conn
	cancel := ws.cancelFunc
	ws.conn = nil
	ws.cancelFunc = nil
	ws.mu.Unlock()

	if conn == nil {
		return
	}
	ws.log.Info().Msg("Disconnecting from realtime WebSocket")
	if cancel != nil {
		cancel()
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		ws.log.Debug().Err(err).Msg("Error closing WebSocket")
	}
}

func decodeMessage(data []byte) (map[string]interface{}, bool) {
	var msg map[string]interface{}
	if err := json.Unmarshal(data, &msg); err != nil || msg == nil {
		return nil, false
	}
	return msg, true
}

func writeJSON(ctx context.Context, conn *websocket.Conn, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
