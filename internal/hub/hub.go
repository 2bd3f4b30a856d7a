// Package hub fans out PendingTx records and chain-status events to
// downstream WebSocket subscribers without letting a slow subscriber
// stall the producer or other subscribers (spec §4.5, §5).
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"

	"mempool-fanout/internal/pendingtx"
)

// outboxSize bounds each subscriber's pending-send queue. A full outbox
// drops the newest message for that subscriber rather than blocking the
// broadcaster (spec §5, §9).
const outboxSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub holds the live subscriber set and serves the downstream WebSocket
// endpoint. It is shared across all Sessions and the HTTP accept path.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	logger      log.Logger
}

func New() *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		logger:      log.New("component", "hub"),
	}
}

// ServeHTTP upgrades the connection and runs its read/write loops until
// it closes. Register with an http.ServeMux at the downstream WS route.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "err", err)
		return
	}

	sub := newSubscriber(conn)
	h.add(sub)
	defer h.remove(sub)

	go sub.writeLoop()

	sub.send(envelope{Type: "connected", Timestamp: time.Now().UnixMilli()})
	sub.readLoop()
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
	s.close()
}

// snapshot returns the current subscriber set under a read lock, per
// spec §5's "broadcast takes a snapshot" requirement.
func (h *Hub) snapshot() []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		out = append(out, s)
	}
	return out
}

// Broadcast sends tx to every subscriber whose filter matches (spec
// §4.5 P2). Safe to call concurrently from any Session.
func (h *Hub) Broadcast(tx pendingtx.Tx) {
	msg := envelope{Type: "transaction", Data: &tx}
	for _, s := range h.snapshot() {
		if s.matches(tx.ChainID) {
			s.send(msg)
		}
	}
}

// BroadcastChainStatus sends a chainStatus event to every subscriber
// whose filter matches chainID, regardless of transaction content.
func (h *Hub) BroadcastChainStatus(chainID int64, status string) {
	msg := envelope{Type: "chainStatus", ChainID: &chainID, ChainStatus: status}
	for _, s := range h.snapshot() {
		if s.matches(chainID) {
			s.send(msg)
		}
	}
}

// Count reports the current subscriber count (used by diagnostics/tests).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every live subscriber's connection and write loop, per
// spec §4.6's shutdown sequence ("the Supervisor closes the Hub").
// ServeHTTP's own readLoop/remove for each connection still runs and
// is a harmless no-op against an already-closed subscriber.
func (h *Hub) Close() {
	for _, s := range h.snapshot() {
		s.close()
	}
}

// envelope is the server-to-subscriber push shape (spec §4.5).
type envelope struct {
	Type        string        `json:"type"`
	Timestamp   int64         `json:"timestamp,omitempty"`
	Data        *pendingtx.Tx `json:"data,omitempty"`
	ChainID     *int64        `json:"chainId,omitempty"`
	ChainStatus string        `json:"status,omitempty"`
	Chains      []int64       `json:"chains,omitempty"`
}
