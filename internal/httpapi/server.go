// Package httpapi implements the HTTP/REST and WebSocket surface (§6.2)
// the operator UI consumes: bot status, market/order/lot/fill listings,
// config replace, the emergency cancel_all kill switch, and a
// PRICE_UPDATE/ORDER_FILLED/STATE_CHANGE/LOG_ENTRY WebSocket feed backed
// by the EventBus.
//
// Grounded on the teacher's pkg/liveserver/server.go: a mux-based
// http.Server with a gorilla/websocket upgrader, per-IP rate limiting,
// and Prometheus connection gauges, generalized from a market-data push
// server to a full REST+WS control surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/config"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/engine"
)

var (
	wsActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridbot_ws_active_connections",
		Help: "Current number of active /api/ws connections",
	})
	wsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridbot_ws_rejected_total",
		Help: "Total number of rejected WebSocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(wsActiveConnections, wsRejectedTotal)
}

// Server is the httpapi HTTP/WebSocket surface.
type Server struct {
	store      core.IStore
	bus        core.IEventBus
	supervisor *engine.Supervisor
	appCfg     *config.AppConfig
	logger     core.ILogger

	srv      *http.Server
	upgrader websocket.Upgrader

	rateLimit  rate.Limit
	rateBurst  int
	ipLimiters sync.Map

	mu sync.Mutex
}

// New constructs a Server.
func New(store core.IStore, bus core.IEventBus, supervisor *engine.Supervisor, appCfg *config.AppConfig, logger core.ILogger) *Server {
	s := &Server{
		store:      store,
		bus:        bus,
		supervisor: supervisor,
		appCfg:     appCfg,
		logger:     logger.With("component", "httpapi"),
		rateLimit:  10,
		rateBurst:  20,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return s
}

// Start runs the HTTP server until ctx is canceled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.mu.Lock()
	s.srv = &http.Server{Addr: addr, Handler: mux}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("httpapi listening", "addr", addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/bot/status", s.handleBotStatus)
	mux.HandleFunc("/api/markets/all-pairs", s.handleAllPairs)
	mux.HandleFunc("/api/markets/", s.handleMarkets)
	mux.HandleFunc("/api/orders/", s.handleOrders)
	mux.HandleFunc("/api/lots/", s.handleLots)
	mux.HandleFunc("/api/history/fills", s.handleHistoryFills)
	mux.HandleFunc("/api/config/", s.handleConfig)
	mux.HandleFunc("/api/control/cancel_all", s.handleCancelAll)
	mux.HandleFunc("/api/stats/capital-summary", s.handleCapitalSummary)
	mux.HandleFunc("/api/stats/pnl-breakdown", s.handlePnLBreakdown)
	mux.HandleFunc("/api/stats/pnl-history", s.handlePnLHistory)
	mux.HandleFunc("/api/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) getRemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) getIPLimiter(ip string) *rate.Limiter {
	if v, ok := s.ipLimiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(s.rateLimit, s.rateBurst)
	actual, _ := s.ipLimiters.LoadOrStore(ip, l)
	return actual.(*rate.Limiter)
}
