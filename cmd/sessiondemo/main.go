// Command sessiondemo wires a session.Controller against an in-process
// exchangesim.Server and serves a debug HTTP surface (Prometheus
// metrics plus a JSON snapshot of store projections), the way the
// teacher's cmd/subscriber and cmd/publisher binaries wire a
// BrokerClient against a running broker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tradecore/internal/event"
	"tradecore/internal/exchangesim"
	"tradecore/internal/session"
	"tradecore/internal/store"
	"tradecore/internal/transport"
)

func main() {
	cfg, err := session.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	registry := prometheus.NewRegistry()
	storeMetrics := store.NewMetrics(registry)
	transportMetrics := transport.NewMetrics(registry)

	sim := exchangesim.NewServer(logger)
	simAddr, stopSim := startExchangeSim(sim, logger)
	defer stopSim()

	cfg.URL = fmt.Sprintf("ws://%s/ws", simAddr)

	ctl := session.New(cfg, logger, storeMetrics, transportMetrics, demoGetToken)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/status", statusHandler(ctl))

	debugSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	debugErrCh := make(chan error, 1)
	go func() {
		logger.Info("debug http server listening", zap.String("addr", cfg.MetricsAddr))
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			debugErrCh <- err
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ctl.Start(ctx); err != nil {
		logger.Fatal("failed to start session controller", zap.Error(err))
	}
	logger.Info("session controller started", zap.String("url", cfg.URL), zap.Strings("symbols", cfg.Symbols))

	stopFeed := make(chan struct{})
	go runDemoFeed(sim, cfg.Symbols, stopFeed)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-debugErrCh:
		logger.Error("debug http server error", zap.Error(err))
	}

	close(stopFeed)
	if err := ctl.Stop(); err != nil {
		logger.Error("error stopping session controller", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := debugSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down debug http server", zap.Error(err))
	}

	logger.Info("sessiondemo stopped")
}

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func demoGetToken(ctx context.Context) (string, error) {
	return "demo-token", nil
}

func startExchangeSim(sim *exchangesim.Server, logger *zap.Logger) (string, func()) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sim.ServeWS)
	srv := &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Fatal("failed to start exchange simulator listener", zap.Error(err))
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	return ln.Addr().String(), func() {
		_ = srv.Close()
	}
}

func statusHandler(ctl *session.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ctl.Store().GetState())
	}
}

// runDemoFeed publishes a synthetic snapshot then a stream of deltas
// for each configured symbol, so the demo has something to show on
// /status without a real exchange behind it.
func runDemoFeed(sim *exchangesim.Server, symbols []string, stop <-chan struct{}) {
	for _, symbol := range symbols {
		sim.PublishEvent(event.ChannelMarketData, symbol, event.KindSnapshot, json.RawMessage(fmt.Sprintf(
			`{"symbol":%q,"bids":[{"price":"100.00","qty":"1.5"}],"asks":[{"price":"100.10","qty":"2.0"}]}`, symbol)))
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	tick := 0
	for {
		select {
		case <-ticker.C:
			tick++
			for _, symbol := range symbols {
				price := fmt.Sprintf("%.2f", 100.0+float64(tick%10)*0.01)
				sim.PublishEvent(event.ChannelMarketData, symbol, event.KindDelta, json.RawMessage(fmt.Sprintf(
					`{"symbol":%q,"bids":[{"price":%q,"qty":"1.7"}]}`, symbol, price)))
			}
		case <-stop:
			return
		}
	}
}
