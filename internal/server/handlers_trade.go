package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bobmcallan/papertrade/internal/models"
)

// handleQuote handles GET /api/quote/{symbol} and GET /api/quote?symbol=.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if _, ok := requireUser(w, r); !ok {
		return
	}

	symbol := PathParam(r, "/api/quote/", "")
	if symbol == "" {
		symbol = r.URL.Query().Get("symbol")
	}

	quote, err := s.app.LedgerService.Quote(r.Context(), symbol)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, quote)
}

// handlePortfolio handles GET /api/portfolio.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	view, err := s.app.LedgerService.ComputePortfolio(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// handlePortfolioChart handles GET /api/portfolio/chart, an allocation pie.
func (s *Server) handlePortfolioChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	view, err := s.app.LedgerService.ComputePortfolio(ctx, userID)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	png, err := s.app.LedgerService.RenderAllocationChart(view)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	WritePNG(w, png)
}

// handlePositions handles GET /api/positions: the symbols the user can sell.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	positions, err := s.app.LedgerService.SellablePositions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if positions == nil {
		positions = []*models.Position{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

type tradeRequest struct {
	Symbol string          `json:"symbol"`
	Shares json.RawMessage `json:"shares"`
}

// handleBuy handles POST /api/trades/buy.
func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, models.TradeBuy)
}

// handleSell handles POST /api/trades/sell.
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, models.TradeSell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, side models.TradeType) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req tradeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	shares, err := ParseSharesParam(req.Shares)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	symbol := strings.TrimSpace(req.Symbol)

	var trade *models.Trade
	if side == models.TradeBuy {
		trade, err = s.app.LedgerService.ExecuteBuy(r.Context(), userID, symbol, shares)
	} else {
		trade, err = s.app.LedgerService.ExecuteSell(r.Context(), userID, symbol, shares)
	}
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, trade)
}

// handleHistory handles GET /api/history, oldest trade first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	trades, err := s.app.LedgerService.History(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if trades == nil {
		trades = []*models.Trade{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// handleHistoryChart handles GET /api/history/chart, the cash balance over time.
func (s *Server) handleHistoryChart(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	png, err := s.app.LedgerService.RenderCashChart(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	WritePNG(w, png)
}
