// Command mempool-fanout ingests pending/mined transactions from N
// configured EVM chains, persists them, and rebroadcasts them in
// near-real-time to downstream WebSocket subscribers.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"mempool-fanout/internal/config"
	"mempool-fanout/internal/hub"
	"mempool-fanout/internal/query"
	"mempool-fanout/internal/retention"
	"mempool-fanout/internal/store"
	"mempool-fanout/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.New("component", "main")

	cfg, err := config.Load(nil)
	if err != nil {
		logger.Error("startup config invalid", "err", err)
		return 1
	}

	st, err := store.Open(cfg.StoreDBPath)
	if err != nil {
		logger.Error("store open failed", "err", err)
		return 1
	}
	defer st.Close()

	horizon, err := time.ParseDuration(cfg.RetentionHorizon)
	if err != nil {
		logger.Error("invalid RETENTION duration", "err", err)
		return 1
	}
	interval, err := time.ParseDuration(cfg.RetentionInterval)
	if err != nil {
		logger.Error("invalid RETENTION_SWEEP_INTERVAL duration", "err", err)
		return 1
	}

	h := hub.New()
	sv := supervisor.New(st, h, http.DefaultClient)
	sweeper := retention.New(st, horizon, interval)
	queryHandler := query.NewHandler(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sv.Start(ctx, cfg.Chains); err != nil {
		logger.Error("supervisor start failed", "err", err)
		return 1
	}
	go sweeper.Run(ctx)

	mux := http.NewServeMux()
	queryHandler.Register(mux)
	mux.Handle("GET /ws", h)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	sv.Wait()
	h.Close()
	logger.Info("clean shutdown complete")
	return 0
}
