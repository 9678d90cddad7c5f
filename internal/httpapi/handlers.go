package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/config"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/grid"
	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/pkg/apperrors"
)

// botStatusResponse is GET /api/bot/status's body.
type botStatusResponse struct {
	Env           string   `json:"env"`
	LiveTrading   bool     `json:"live_trading"`
	ExchangeType  string   `json:"exchange_type"`
	PaperMode     bool     `json:"paper_mode"`
	Running       bool     `json:"running"`
	ActiveMarkets []string `json:"active_markets"`
}

func (s *Server) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	_, activeID := s.supervisor.Active()
	active := []string{}
	if activeID != "" {
		active = append(active, activeID)
	}

	writeJSON(w, http.StatusOK, botStatusResponse{
		Env:           s.appCfg.Env,
		LiveTrading:   s.appCfg.LiveTradingEnabled,
		ExchangeType:  string(s.appCfg.ExchangeType),
		PaperMode:     s.appCfg.PaperMode,
		Running:       activeID != "",
		ActiveMarkets: active,
	})
}

func (s *Server) handleAllPairs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	eng, _ := s.supervisor.Active()
	if eng == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}

	ctx := r.Context()
	products, err := eng.Exchange().GetProducts(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	type pair struct {
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
	}
	out := make([]pair, 0, len(products))
	for _, p := range products {
		price, err := eng.Exchange().GetTicker(ctx, p.ID)
		if err != nil {
			continue
		}
		out = append(out, pair{ProductID: p.ID, Price: price.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMarkets dispatches GET /api/markets/, POST
// /api/markets/{id}/favorite, POST /api/markets/{id}/start, POST
// /api/markets/{id}/stop, and PATCH /api/markets/{id}.
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/markets/")
	ctx := r.Context()

	if path == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		markets, err := s.store.ListMarkets(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		favoritesOnly := r.URL.Query().Get("favorites_only") == "true"
		if favoritesOnly {
			filtered := markets[:0]
			for _, m := range markets {
				if m.IsFavorite {
					filtered = append(filtered, m)
				}
			}
			markets = filtered
		}
		writeJSON(w, http.StatusOK, markets)
		return
	}

	segments := strings.SplitN(path, "/", 2)
	marketID := segments[0]

	switch {
	case len(segments) == 2 && segments[1] == "favorite" && r.Method == http.MethodPost:
		s.toggleFavorite(w, r, marketID)
	case len(segments) == 2 && segments[1] == "start" && r.Method == http.MethodPost:
		s.startMarket(w, r, marketID)
	case len(segments) == 2 && segments[1] == "stop" && r.Method == http.MethodPost:
		s.stopMarket(w, r, marketID)
	case len(segments) == 1 && r.Method == http.MethodPatch:
		s.patchMarket(w, r, marketID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request, marketID string) {
	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	m.IsFavorite = !m.IsFavorite
	if err := s.store.UpsertMarket(ctx, m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) startMarket(w http.ResponseWriter, r *http.Request, marketID string) {
	ctx := r.Context()
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.supervisor.SwitchTo(ctx, marketID, cfg); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": marketID, "status": "started"})
}

func (s *Server) stopMarket(w http.ResponseWriter, r *http.Request, marketID string) {
	ctx := r.Context()
	eng, activeID := s.supervisor.Active()
	if eng == nil || activeID != marketID {
		writeError(w, http.StatusConflict, "market is not the active market")
		return
	}
	if err := s.supervisor.StopActive(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"market_id": marketID, "status": "stopped"})
}

type marketPatch struct {
	IsFavorite *bool `json:"is_favorite"`
	Ranking    *int  `json:"ranking"`
}

func (s *Server) patchMarket(w http.ResponseWriter, r *http.Request, marketID string) {
	ctx := r.Context()
	var patch marketPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if patch.IsFavorite != nil {
		m.IsFavorite = *patch.IsFavorite
	}
	if patch.Ranking != nil {
		m.Ranking = *patch.Ranking
	}
	if err := s.store.UpsertMarket(ctx, m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/orders/")
	ctx := r.Context()

	if path == "" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		status := core.OrderStatus(r.URL.Query().Get("status"))
		limit, skip := parseLimitSkip(r)
		_, marketID := s.supervisor.Active()
		orders, err := s.store.ListOrders(ctx, marketID, status, limit, skip)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, orders)
		return
	}

	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	orderID := path

	eng, _ := s.supervisor.Active()
	if eng == nil {
		writeError(w, http.StatusConflict, "no active market")
		return
	}
	if err := eng.Exchange().CancelOrder(ctx, orderID); err != nil {
		if apperrors.IsPermanent(err) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, skip := parseLimitSkip(r)
	lots, err := s.store.ListLots(r.Context(), limit, skip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

func (s *Server) handleHistoryFills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, skip := parseLimitSkip(r)
	fills, err := s.store.ListFills(r.Context(), limit, skip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, fills)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.store.GetConfig(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPost:
		var cfg core.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := cfg.Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if err := s.store.PutConfig(ctx, cfg); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCancelAll is the emergency kill switch (§8): cancel every open
// order on the active market and force the engine to PAUSED.
func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()

	eng, marketID := s.supervisor.Active()
	if eng == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"canceled": 0})
		return
	}

	orders, err := s.store.ListOpenOrders(ctx, marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	canceled := 0
	for _, o := range orders {
		if err := eng.Exchange().CancelOrder(ctx, o.ID); err != nil {
			s.logger.Warn("cancel_all: failed to cancel order", "order_id", o.ID, "error", err)
			continue
		}
		o.Status = core.OrderCanceled
		_ = s.store.UpsertOrder(ctx, o)
		canceled++
	}

	if err := eng.Pause(ctx); err != nil {
		s.logger.Warn("cancel_all: failed to pause engine", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"canceled": canceled})
}

func (s *Server) handleCapitalSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	_, marketID := s.supervisor.Active()

	lots, err := s.store.ListOpenLots(ctx, marketID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg, err := s.store.GetConfig(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	deployed := deployedCapitalOf(lots)
	maxGridCapital := cfg.BudgetUSD.Mul(cfg.MaxGridCapitalPct)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"budget_usd":           cfg.BudgetUSD.String(),
		"max_grid_capital_usd": maxGridCapital.String(),
		"deployed_capital_usd": deployed.String(),
		"open_lot_count":       len(lots),
	})
}

func (s *Server) handlePnLBreakdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx := r.Context()
	lots, err := s.store.ListLots(ctx, 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	monthStart := grid.CurrentUTCMonthStart(time.Now())
	monthPnL, allTimePnL := decimal.Zero, decimal.Zero
	for _, l := range lots {
		if l.Status != core.LotClosed {
			continue
		}
		allTimePnL = allTimePnL.Add(l.RealizedPnL)
		if !l.SellTime.Before(monthStart) {
			monthPnL = monthPnL.Add(l.RealizedPnL)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"month_realized_pnl_usd":     monthPnL.String(),
		"all_time_realized_pnl_usd":  allTimePnL.String(),
	})
}

func (s *Server) handlePnLHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	lots, err := s.store.ListLots(r.Context(), 0, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type dayBucket struct {
		Date   string `json:"date"`
		PnLUSD string `json:"pnl_usd"`
	}

	byDay := map[string]decimal.Decimal{}
	for _, l := range lots {
		if l.Status != core.LotClosed || l.SellTime.Before(since) {
			continue
		}
		key := l.SellTime.UTC().Format("2006-01-02")
		byDay[key] = byDay[key].Add(l.RealizedPnL)
	}

	out := make([]dayBucket, 0, len(byDay))
	for day, pnl := range byDay {
		out = append(out, dayBucket{Date: day, PnLUSD: pnl.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func parseLimitSkip(r *http.Request) (int, int) {
	limit, skip := 100, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			skip = n
		}
	}
	return limit, skip
}

func deployedCapitalOf(lots []core.Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.BuyPrice.Mul(l.BuySize))
	}
	return total
}
