// Package session owns one upstream WebSocket subscription per chain:
// connect, subscribe, stream, decode, reconnect with backoff. It is the
// only component with per-chain upstream knowledge (spec §4.3).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"mempool-fanout/internal/dialect"
	"mempool-fanout/internal/pendingtx"
)

const (
	reconnectBackoff = 5 * time.Second
	livenessPeriod   = 30 * time.Second
)

// Sink receives the three event kinds a Session produces. Supervisor
// implements it by fanning out to Store and Hub; tests implement it with
// a recorder. One Sink per Session, single-producer.
type Sink interface {
	OnTransaction(pendingtx.Tx)
	OnConnected(chainID int64)
	OnDisconnected(chainID int64)
}

// Config is the immutable per-chain configuration a Session is built from.
type Config struct {
	ChainID int64
	Name    string
	WSURL   string
	HTTPURL string // derived from WSURL when empty, see deriveHTTPURL
	Dialect dialect.Dialect
}

// Session owns one upstream connection for exactly one chain.
type Session struct {
	cfg    Config
	sink   Sink
	client *http.Client
	logger log.Logger

	mu    sync.Mutex
	state state
}

// New builds a Session. httpClient may be nil to use http.DefaultClient
// with no extra timeout configuration (dialect fetches pass ctx for
// cancellation instead).
func New(cfg Config, sink Sink, httpClient *http.Client) *Session {
	if cfg.HTTPURL == "" {
		cfg.HTTPURL = deriveHTTPURL(cfg.WSURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Session{
		cfg:    cfg,
		sink:   sink,
		client: httpClient,
		logger: log.New("chainId", cfg.ChainID, "chain", cfg.Name),
	}
}

// deriveHTTPURL substitutes the wss:// scheme for https:// (ws:// for
// http://), per spec §6. Open question §9: assumed correct for all
// providers.
func deriveHTTPURL(wsURL string) string {
	switch {
	case len(wsURL) >= 6 && wsURL[:6] == "wss://":
		return "https://" + wsURL[6:]
	case len(wsURL) >= 5 && wsURL[:5] == "ws://":
		return "http://" + wsURL[5:]
	default:
		return wsURL
	}
}

func (s *Session) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) State() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the Session until ctx is canceled: connect -> subscribe ->
// stream -> (on failure) backoff -> reconnect. It owns both the socket
// and the reconnect wait on a single goroutine, so there is never more
// than one in-flight reconnect and stop is observed within one
// outstanding operation (spec §5, §9).
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.setState(stateClosed)
			return
		}

		s.setState(stateConnecting)
		err := s.runOnce(ctx)
		s.sink.OnDisconnected(s.cfg.ChainID)
		s.setState(stateClosed)

		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("upstream session ended", "err", err)
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// runOnce performs one connect->subscribe->stream cycle and returns when
// the socket closes, a decode error terminates the connection, or ctx is
// canceled. On shutdown the returned error is ctx.Err() or wraps it
// (context.Canceled for a plain cancel), which Run treats as clean.
func (s *Session) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.setState(stateOpen)

	subscribeReq := newSubscribeRequest(dialect.SubscribeParams(s.cfg.Dialect))
	if err := conn.WriteJSON(subscribeReq); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	s.setState(stateSubscribing)

	subID, err := s.awaitSubscribeAck(ctx, conn)
	if err != nil {
		return fmt.Errorf("subscribe ack: %w", err)
	}
	_ = subID

	s.setState(stateStreaming)
	s.sink.OnConnected(s.cfg.ChainID)

	return s.streamLoop(ctx, conn)
}

// awaitSubscribeAck reads frames until it sees the {id:1,result:<subId>}
// ack or a subscribe-error response for id=1.
func (s *Session) awaitSubscribeAck(ctx context.Context, conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(15 * time.Second)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue // ProtocolDecode: discard and keep waiting for the ack
		}
		if resp.ID != subscribeRequestID {
			continue
		}
		if resp.Error != nil {
			return "", resp.Error
		}
		var subID string
		if err := json.Unmarshal(resp.Result, &subID); err != nil {
			return "", fmt.Errorf("unexpected subscribe result shape: %w", err)
		}
		return subID, nil
	}
}

// streamLoop reads notifications until the socket closes. A 30s ping
// keeps the connection alive; a malformed notification is logged and
// discarded without ending the stream (spec §4.3 failure semantics).
func (s *Session) streamLoop(ctx context.Context, conn *websocket.Conn) error {
	pingTicker := time.NewTicker(livenessPeriod)
	defer pingTicker.Stop()

	msgs := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				close(msgs)
				return
			}
			msgs <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}

		case data, ok := <-msgs:
			if !ok {
				return <-readErr
			}
			s.handleNotification(ctx, data)
		}
	}
}

// handleNotification decodes one eth_subscription frame and, for any
// dialect requiring it, issues the HTTP fetch leg. Malformed frames are
// logged once and discarded; they never terminate the stream.
func (s *Session) handleNotification(ctx context.Context, data []byte) {
	var note subscriptionNotification
	if err := json.Unmarshal(data, &note); err != nil {
		s.logger.Debug("discarding malformed frame", "err", err)
		return
	}
	if note.Method != "eth_subscription" {
		return
	}

	switch s.cfg.Dialect {
	case dialect.FullPending:
		s.handleFullPending(note.Params.Result)
	case dialect.FullMined:
		s.handleFullMined(note.Params.Result)
	case dialect.HashOnlyPending:
		s.handleHashOnlyPending(ctx, note.Params.Result)
	case dialect.HeadersThenFetch:
		s.handleHeadersThenFetch(ctx, note.Params.Result)
	}
}

func (s *Session) handleFullPending(result json.RawMessage) {
	raw, err := decodeTxObject(result)
	if err != nil {
		s.logger.Debug("discarding payload", "err", err)
		return
	}
	s.normalizeAndEmit(raw, pendingtx.StatusPending)
}

func (s *Session) handleFullMined(result json.RawMessage) {
	var envelope struct {
		Removed     bool            `json:"removed"`
		Transaction json.RawMessage `json:"transaction"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil {
		s.logger.Debug("discarding payload", "err", err)
		return
	}
	if envelope.Removed {
		return
	}
	raw, err := decodeTxObject(envelope.Transaction)
	if err != nil {
		s.logger.Debug("discarding payload", "err", err)
		return
	}
	s.normalizeAndEmit(raw, pendingtx.StatusConfirmed)
}

func (s *Session) normalizeAndEmit(raw map[string]any, status pendingtx.Status) {
	tx, err := pendingtx.FromRaw(raw, s.cfg.ChainID, status)
	if err != nil {
		s.logger.Debug("normalization failed", "err", err)
		return
	}
	s.sink.OnTransaction(tx)
}

func decodeTxObject(result json.RawMessage) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
