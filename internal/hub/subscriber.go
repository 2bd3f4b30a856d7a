package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subscriber tracks one downstream WebSocket connection and its chain
// filter (spec §3 Subscriber). Lives only for the connection's duration.
type subscriber struct {
	conn   *websocket.Conn
	outbox chan envelope
	done   chan struct{}

	mu     sync.RWMutex
	all    bool
	chains map[int64]struct{}
	closed bool

	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn) *subscriber {
	return &subscriber{
		conn:   conn,
		outbox: make(chan envelope, outboxSize),
		done:   make(chan struct{}),
		all:    true,
	}
}

// matches reports whether this subscriber's filter accepts chainID.
func (s *subscriber) matches(chainID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.all {
		return true
	}
	_, ok := s.chains[chainID]
	return ok
}

// setFilter replaces the filter with an explicit chain set.
func (s *subscriber) setFilter(chains []int64) {
	set := make(map[int64]struct{}, len(chains))
	for _, c := range chains {
		set[c] = struct{}{}
	}
	s.mu.Lock()
	s.all = false
	s.chains = set
	s.mu.Unlock()
}

// clearFilter resets the filter to "all", per the unsubscribe message.
func (s *subscriber) clearFilter() {
	s.mu.Lock()
	s.all = true
	s.chains = nil
	s.mu.Unlock()
}

// filterChains returns the currently configured explicit chain set, for
// echoing back in a "subscribed" reply.
func (s *subscriber) filterChains() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.chains))
	for c := range s.chains {
		out = append(out, c)
	}
	return out
}

// send enqueues msg for delivery. A full outbox drops msg rather than
// blocking the caller — the caller may be a Session's producing
// goroutine, which must never stall on a slow subscriber (spec §5). A
// subscriber past close is a silent no-op rather than a send on a
// closed channel: the outbox is never closed, only done is, so this
// never races with writeLoop's shutdown.
func (s *subscriber) send(msg envelope) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	select {
	case s.outbox <- msg:
	default:
	}
}

// writeLoop is the subscriber's dedicated writer goroutine: it drains
// the outbox and owns the socket's write side exclusively, until close
// signals done.
func (s *subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbox:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.close()
				return
			}
		}
	}
}

// readLoop processes inbound control messages until the connection
// closes, then closes the subscriber (signalling done) so writeLoop exits.
func (s *subscriber) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.close()
			return
		}
		s.handleInbound(data)
	}
}

func (s *subscriber) handleInbound(data []byte) {
	msg, err := decodeInbound(data)
	if err != nil {
		return // silently ignore malformed input
	}
	switch msg.Type {
	case "subscribe":
		s.setFilter(msg.Chains)
		s.send(envelope{Type: "subscribed", Chains: s.filterChains()})
	case "unsubscribe":
		s.clearFilter()
		s.send(envelope{Type: "subscribed", Chains: []int64{}})
	case "ping":
		s.send(envelope{Type: "pong"})
	default:
		// anything else: silently ignore, per spec §4.5
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.conn.Close()
	})
}
