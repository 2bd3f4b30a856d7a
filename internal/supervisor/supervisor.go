// Package supervisor validates the chain list it is given (loaded by
// internal/config), starts one Upstream Session per chain, wires their events to the Store and Subscriber Hub, and
// serves lifecycle start/stop (spec §4.6).
package supervisor

import (
	"context"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"mempool-fanout/internal/config"
	"mempool-fanout/internal/hub"
	"mempool-fanout/internal/pendingtx"
	"mempool-fanout/internal/session"
	"mempool-fanout/internal/store"
)

// Store is the subset of store.Store the Supervisor depends on.
type Store interface {
	Upsert(pendingtx.Tx) error
	UpsertChainConfig(chainID int64, name, wsURL, rpcURL string) error
}

// Hub is the subset of hub.Hub the Supervisor depends on.
type Hub interface {
	Broadcast(pendingtx.Tx)
	BroadcastChainStatus(chainID int64, status string)
}

var (
	_ Store = (*store.Store)(nil)
	_ Hub   = (*hub.Hub)(nil)
)

// Supervisor owns every chain's Session and its lifecycle.
type Supervisor struct {
	store Store
	hub   Hub

	httpClient *http.Client
	logger     log.Logger

	wg sync.WaitGroup
}

func New(st Store, h Hub, httpClient *http.Client) *Supervisor {
	return &Supervisor{store: st, hub: h, httpClient: httpClient, logger: log.New("component", "supervisor")}
}

// sink adapts one chain's Session events to the shared Store and Hub,
// satisfying session.Sink.
type sink struct {
	store Store
	hub   Hub
}

func (s *sink) OnTransaction(tx pendingtx.Tx) {
	if err := s.store.Upsert(tx); err != nil {
		log.Error("store upsert failed", "chainId", tx.ChainID, "hash", tx.Hash, "err", err)
		// broadcast still proceeds per spec §7 StoreFailure policy
	}
	s.hub.Broadcast(tx)
}

func (s *sink) OnConnected(chainID int64) {
	s.hub.BroadcastChainStatus(chainID, string(session.StatusConnected))
}

func (s *sink) OnDisconnected(chainID int64) {
	s.hub.BroadcastChainStatus(chainID, string(session.StatusDisconnected))
}

// Start validates chains, reconciles the chain_config table, and launches
// one goroutine per chain running its Session until ctx is canceled.
// Start returns once every Session goroutine has been launched; it does
// not block for the lifetime of the run.
func (s *Supervisor) Start(ctx context.Context, chains []config.Chain) error {
	for _, c := range chains {
		if err := validateChain(c); err != nil {
			return err
		}
		if err := s.store.UpsertChainConfig(c.ID, c.Name, c.WSURL, c.RPCURL); err != nil {
			return err
		}
	}

	for _, c := range chains {
		cfg := session.Config{
			ChainID: c.ID,
			Name:    c.Name,
			WSURL:   c.WSURL,
			HTTPURL: c.RPCURL,
			Dialect: c.Dialect,
		}
		sess := session.New(cfg, &sink{store: s.store, hub: s.hub}, s.httpClient)

		s.wg.Add(1)
		go func(c config.Chain) {
			defer s.wg.Done()
			s.logger.Info("starting session", "chainId", c.ID, "chain", c.Name, "dialect", c.Dialect)
			sess.Run(ctx)
		}(c)
	}
	return nil
}

// Wait blocks until every Session goroutine has exited — true once ctx
// passed to Start is canceled and every socket/reconnect timer has
// unwound (spec §5 P4).
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func validateChain(c config.Chain) error {
	if c.Name == "" {
		return &config.InvalidError{Reason: "chain name must be non-empty"}
	}
	if c.ID <= 0 {
		return &config.InvalidError{Reason: "chain id must be a positive integer"}
	}
	if len(c.WSURL) < 6 || c.WSURL[:6] != "wss://" {
		return &config.InvalidError{Reason: "wsUrl must start with wss://"}
	}
	return nil
}
