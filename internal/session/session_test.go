package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"mempool-fanout/internal/dialect"
	"mempool-fanout/internal/pendingtx"
)

// recordingSink captures every event a Session emits for assertions.
type recordingSink struct {
	mu            sync.Mutex
	txs           []pendingtx.Tx
	connects      []int64
	disconnects   []int64
}

func (r *recordingSink) OnTransaction(tx pendingtx.Tx) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}

func (r *recordingSink) OnConnected(chainID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, chainID)
}

func (r *recordingSink) OnDisconnected(chainID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, chainID)
}

func (r *recordingSink) txCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

var upgrader = websocket.Upgrader{}

// fakeUpstream accepts one WS connection, acks the subscribe request,
// then lets the test push raw notification frames over notifications.
type fakeUpstream struct {
	server        *httptest.Server
	notifications chan []byte
	subscribed    chan struct{}
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{
		notifications: make(chan []byte, 8),
		subscribed:    make(chan struct{}, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		ack, _ := json.Marshal(response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"0xsub1"`)})
		if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
			return
		}
		f.subscribed <- struct{}{}

		for data := range f.notifications {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		// keep the connection open until the test closes it via ctx cancel
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeUpstream) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func (f *fakeUpstream) push(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.notifications <- data
}

func notification(result any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_subscription",
		"params": map[string]any{
			"subscription": "0xsub1",
			"result":       result,
		},
	}
}

func TestSession_FullPendingHappyPath(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.server.Close()

	sink := &recordingSink{}
	s := New(Config{ChainID: 1, Name: "ethereum", WSURL: up.wsURL(), Dialect: dialect.FullPending}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.runOnce(ctx) }()

	select {
	case <-up.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe ack not observed")
	}

	up.push(t, notification(map[string]any{
		"hash":     "0x" + strings.Repeat("a", 64),
		"from":     "0x" + strings.Repeat("1", 40),
		"to":       "0x" + strings.Repeat("2", 40),
		"value":    "0xde0b6b3a7640000",
		"gas":      "0x5208",
		"gasPrice": "0x4a817c800",
		"input":    "0x",
		"nonce":    "0x5",
		"type":     "0x0",
	}))

	require.Eventually(t, func() bool { return sink.txCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "1000000000000000000", sink.txs[0].Value)
	require.Equal(t, pendingtx.StatusPending, sink.txs[0].Status)

	cancel()
	<-errCh
}

func TestSession_FullMinedRemovedSkipsStoreAndBroadcast(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.server.Close()

	sink := &recordingSink{}
	s := New(Config{ChainID: 1, Name: "ethereum", WSURL: up.wsURL(), Dialect: dialect.FullMined}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.runOnce(ctx)
	<-up.subscribed

	up.push(t, notification(map[string]any{
		"removed": true,
		"transaction": map[string]any{
			"hash": "0x" + strings.Repeat("a", 64),
			"from": "0x" + strings.Repeat("1", 40),
			"gas":  "0x5208",
		},
	}))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, sink.txCount())
	cancel()
}

func TestSession_DuplicateNotificationsBroadcastTwice(t *testing.T) {
	up := newFakeUpstream(t)
	defer up.server.Close()

	sink := &recordingSink{}
	s := New(Config{ChainID: 1, Name: "ethereum", WSURL: up.wsURL(), Dialect: dialect.FullPending}, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.runOnce(ctx)
	<-up.subscribed

	raw := map[string]any{
		"hash": "0x" + strings.Repeat("a", 64),
		"from": "0x" + strings.Repeat("1", 40),
		"gas":  "0x5208",
	}
	up.push(t, notification(raw))
	up.push(t, notification(raw))

	require.Eventually(t, func() bool { return sink.txCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
}

func TestSession_HeadersThenFetch(t *testing.T) {
	rpcServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		json.NewDecoder(r.Body).Decode(&req)
		require.Equal(t, "eth_getBlockByNumber", req.Method)

		block := map[string]any{
			"transactions": []map[string]any{
				{
					"hash": "0x" + strings.Repeat("b", 64),
					"from": "0x" + strings.Repeat("3", 40),
					"gas":  "0x5208",
				},
			},
		}
		resultBytes, _ := json.Marshal(block)
		resp := response{JSONRPC: "2.0", ID: req.ID, Result: resultBytes}
		json.NewEncoder(w).Encode(resp)
	}))
	defer rpcServer.Close()

	up := newFakeUpstream(t)
	defer up.server.Close()

	sink := &recordingSink{}
	s := New(Config{
		ChainID: 10, Name: "optimism", WSURL: up.wsURL(), HTTPURL: rpcServer.URL,
		Dialect: dialect.HeadersThenFetch,
	}, sink, rpcServer.Client())

	ctx, cancel := context.WithCancel(context.Background())
	go s.runOnce(ctx)
	<-up.subscribed

	up.push(t, notification(map[string]any{"number": "0x10"}))

	require.Eventually(t, func() bool { return sink.txCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, pendingtx.StatusConfirmed, sink.txs[0].Status)
	cancel()
}

func TestDeriveHTTPURL(t *testing.T) {
	require.Equal(t, "https://example.com/v1", deriveHTTPURL("wss://example.com/v1"))
	require.Equal(t, "http://example.com/v1", deriveHTTPURL("ws://example.com/v1"))
}
