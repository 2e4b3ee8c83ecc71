// Package httpapi exposes the exchange over HTTP. Handlers translate
// between JSON and the exchange service's contract: placements return
// {order, executions[]} and rejections return {error, details} verbatim.
//
// Authentication is out of scope: the caller identity arrives in the
// X-User-ID header, populated by upstream middleware.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matchbook/exchange-engine/internal/exchange"
	"github.com/matchbook/exchange-engine/internal/model"
	"github.com/matchbook/exchange-engine/internal/store"
)

// Server wires the exchange service and read-side queries into chi routes.
type Server struct {
	svc   *exchange.Service
	store store.Store
}

// NewServer creates the HTTP facade.
func NewServer(svc *exchange.Service, st store.Store) *Server {
	return &Server{svc: svc, store: st}
}

// Routes registers all API routes on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/api/v1/markets", s.CreateMarket)
	r.Get("/api/v1/markets", s.ListMarkets)
	r.Get("/api/v1/markets/{symbol}", s.GetMarket)
	r.Get("/api/v1/markets/{symbol}/book", s.GetBook)

	r.Post("/api/v1/orders", s.PlaceOrder)
	r.Get("/api/v1/orders", s.ListOpenOrders)
	r.Get("/api/v1/orders/{orderID}", s.GetOrder)
	r.Delete("/api/v1/orders/{orderID}", s.CancelOrder)

	r.Get("/api/v1/accounts/{asset}", s.GetAccount)
	r.Post("/api/v1/deposits", s.Deposit)
}

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Symbol        string          `json:"symbol"`
	BaseAsset     string          `json:"base_asset"`
	QuoteAsset    string          `json:"quote_asset"`
	TickSize      decimal.Decimal `json:"tick_size"`
	LotSize       decimal.Decimal `json:"lot_size"`
	MakerFeeBps   int64           `json:"maker_fee_bps"`
	TakerFeeBps   int64           `json:"taker_fee_bps"`
	MaxNotional   decimal.Decimal `json:"max_notional"`
	PriceBandBps  int64           `json:"price_band_bps"`
	MaxOpenOrders int             `json:"max_open_orders"`
}

// CreateMarket handles POST /api/v1/markets.
func (s *Server) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, model.Reject(model.CodeInvalidInput, "reason", "malformed_json"))
		return
	}
	if req.Symbol == "" || req.BaseAsset == "" || req.QuoteAsset == "" {
		writeRejection(w, model.Reject(model.CodeInvalidInput, "reason", "symbol_and_assets_required"))
		return
	}
	if !req.TickSize.IsPositive() || !req.LotSize.IsPositive() {
		writeRejection(w, model.Reject(model.CodeInvalidInput, "reason", "tick_and_lot_must_be_positive"))
		return
	}

	m := &model.Market{
		ID:            uuid.New().String(),
		Symbol:        req.Symbol,
		BaseAsset:     req.BaseAsset,
		QuoteAsset:    req.QuoteAsset,
		TickSize:      req.TickSize,
		LotSize:       req.LotSize,
		MakerFeeBps:   req.MakerFeeBps,
		TakerFeeBps:   req.TakerFeeBps,
		MaxNotional:   req.MaxNotional,
		PriceBandBps:  req.PriceBandBps,
		MaxOpenOrders: req.MaxOpenOrders,
		Status:        model.MarketEnabled,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateMarket(r.Context(), m); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets handles GET /api/v1/markets.
func (s *Server) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{symbol}.
func (s *Server) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarketBySymbol(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		if err == store.ErrNotFound {
			writeRejection(w, model.Reject(model.CodeMarketNotFound, "symbol", chi.URLParam(r, "symbol")))
			return
		}
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetBook handles GET /api/v1/markets/{symbol}/book.
func (s *Server) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	m, err := s.store.GetMarketBySymbol(r.Context(), symbol)
	if err != nil {
		writeRejection(w, model.Reject(model.CodeMarketNotFound, "symbol", symbol))
		return
	}
	bids, asks, err := s.store.BookDepth(r.Context(), m.ID, 50)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"bids":   bids,
		"asks":   asks,
	})
}

// placeOrderBody is the tagged request union: "type" selects limit or
// market, each with its own required fields.
type placeOrderBody struct {
	Type string `json:"type"`
	model.LimitRequest
}

// PlaceOrder handles POST /api/v1/orders. An Idempotency-Key header makes
// the placement replay-safe; replays return the stored bytes unchanged.
func (s *Server) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var body placeOrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeRejection(w, model.Reject(model.CodeInvalidInput, "reason", "malformed_json"))
		return
	}

	var req model.OrderRequest
	switch body.Type {
	case "limit", "":
		req = body.LimitRequest
	case "market":
		req = model.MarketRequest{
			MarketSymbol: body.MarketSymbol,
			OrderSide:    body.OrderSide,
			Qty:          body.Qty,
			STPPolicy:    body.STPPolicy,
		}
	default:
		writeRejection(w, model.Reject(model.CodeInvalidInput, "field", "type", "reason", "unknown"))
		return
	}

	_, response, err := s.svc.PlaceOrder(r.Context(), userID, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		writeRejection(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(response)
}

// GetOrder handles GET /api/v1/orders/{orderID}: the order plus its
// executions.
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "orderID")

	o, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		writeRejection(w, model.Reject(model.CodeOrderNotFound, "order_id", orderID))
		return
	}
	if o.UserID != userID {
		writeRejection(w, model.Reject(model.CodeUserNotAllowed, "order_id", orderID))
		return
	}
	execs, err := s.store.ListExecutionsByOrder(r.Context(), orderID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":      o,
		"executions": execs,
	})
}

// ListOpenOrders handles GET /api/v1/orders?symbol=...
func (s *Server) ListOpenOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	marketID := ""
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		m, err := s.store.GetMarketBySymbol(r.Context(), symbol)
		if err != nil {
			writeRejection(w, model.Reject(model.CodeMarketNotFound, "symbol", symbol))
			return
		}
		marketID = m.ID
	}
	orders, err := s.store.ListOpenOrders(r.Context(), marketID, userID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder handles DELETE /api/v1/orders/{orderID}.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	o, err := s.svc.CancelOrder(r.Context(), userID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetAccount handles GET /api/v1/accounts/{asset}.
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	acct, err := s.store.GetAccount(r.Context(), userID, chi.URLParam(r, "asset"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// depositBody is the JSON body for POST /api/v1/deposits.
type depositBody struct {
	AssetID string          `json:"asset_id"`
	Amount  decimal.Decimal `json:"amount"`
	RefID   string          `json:"ref_id"`
}

// Deposit handles POST /api/v1/deposits.
func (s *Server) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var body depositBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeRejection(w, model.Reject(model.CodeInvalidInput, "reason", "malformed_json"))
		return
	}
	if body.AssetID == "" {
		writeRejection(w, model.Reject(model.CodeInvalidInput, "field", "asset_id", "reason", "required"))
		return
	}
	acct, err := s.svc.Deposit(r.Context(), userID, body.AssetID, body.Amount, body.RefID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// callerID extracts the authenticated user from the X-User-ID header.
func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeRejection(w, model.Reject(model.CodeUserNotAllowed, "reason", "missing_user"))
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRejection maps a structured rejection onto an HTTP status and
// serializes it as {error, details}. Non-rejections become internal errors.
func writeRejection(w http.ResponseWriter, err error) {
	rej, ok := model.AsRejection(err)
	if !ok {
		rej = model.Reject(model.CodeInternal)
	}
	writeJSON(w, statusFor(rej.Code), rej)
}

func statusFor(code string) int {
	switch code {
	case model.CodeInvalidInput, model.CodePriceNotMultipleOfTick,
		model.CodeQtyNotMultipleOfLot, model.CodeIcebergInvalid:
		return http.StatusBadRequest
	case model.CodeMarketNotFound, model.CodeOrderNotFound:
		return http.StatusNotFound
	case model.CodeUserNotAllowed:
		return http.StatusForbidden
	case model.CodeIdempotencyConflict, model.CodeTradeStateConflict,
		model.CodeOrderNotCancellable:
		return http.StatusConflict
	case model.CodeInternal:
		return http.StatusInternalServerError
	default:
		// Risk, liquidity, and balance rejections.
		return http.StatusUnprocessableEntity
	}
}
