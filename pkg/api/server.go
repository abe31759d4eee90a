// Package api exposes the matching engine over REST and WebSocket: one
// Server holds every live market's in-memory state (Market, OrderBook,
// event heap, open-orders accounts) behind a per-market lock, and maps
// HTTP requests onto pkg/clob/engine calls.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/engine"
	"github.com/lattice-markets/clobcore/pkg/clob/events"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/oracle"
	"github.com/lattice-markets/clobcore/pkg/clob/position"
	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
	"github.com/lattice-markets/clobcore/pkg/clob/vault"
	"github.com/lattice-markets/clobcore/pkg/storage"
	"github.com/lattice-markets/clobcore/pkg/util"
)

// marketState bundles one market's live engine state behind its own
// lock, so a slow operation on one market never blocks another.
type marketState struct {
	mu       sync.Mutex
	market   *market.Market
	book     *engine.OrderBook
	heap     *events.Heap
	accounts map[string]*position.Account
	oracle   *oracle.Stub
	vault    vault.Transfer
}

// Server handles REST API and WebSocket connections for every market
// registered with it.
type Server struct {
	mu      sync.RWMutex
	markets map[string]*marketState
	router  *mux.Router
	hub     *Hub
	logger  *zap.Logger
	store   *storage.Store // may be nil: in-memory only
	clock   util.Clock
}

// NewServer constructs a Server with no markets registered yet. store may
// be nil to run fully in-memory (tests, local development).
func NewServer(logger *zap.Logger, store *storage.Store) *Server {
	s := &Server{
		markets: make(map[string]*marketState),
		router:  mux.NewRouter(),
		hub:     NewHub(),
		logger:  logger,
		store:   store,
		clock:   util.RealClock{},
	}
	s.setupRoutes()
	return s
}

// CreateMarket registers a new market with an empty book, heap, and
// account set.
func (s *Server) CreateMarket(m *market.Market) {
	s.Register(m, engine.New(), events.New(), make(map[string]*position.Account))
}

// Register attaches a market and its engine state (freshly created or
// restored from storage) to the server.
func (s *Server) Register(m *market.Market, ob *engine.OrderBook, heap *events.Heap, accounts map[string]*position.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.Name] = &marketState{
		market:   m,
		book:     ob,
		heap:     heap,
		accounts: accounts,
		oracle:   oracle.NewStub(),
		vault:    vault.NewInMemory(),
	}
}

// Persist writes marketName's current market, book sides, event heap, and
// every open-orders account to store. A no-op if store is nil.
func (s *Server) Persist(store *storage.Store, marketName string) error {
	if store == nil {
		return nil
	}
	ms, ok := s.marketState(marketName)
	if !ok {
		return fmt.Errorf("persist: unknown market %q", marketName)
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := store.SaveMarket(ms.market); err != nil {
		return err
	}
	if err := store.SaveBookSide(marketName, ms.book.Bids); err != nil {
		return err
	}
	if err := store.SaveBookSide(marketName, ms.book.Asks); err != nil {
		return err
	}
	if err := store.SaveEventHeap(marketName, ms.heap); err != nil {
		return err
	}
	for _, acc := range ms.accounts {
		if err := store.SaveAccount(marketName, acc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) marketState(name string) (*marketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ms, ok := s.markets[name]
	return ms, ok
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/markets", s.handleListMarkets).Methods("GET")
	v1.HandleFunc("/markets/{market}", s.handleGetMarket).Methods("GET")
	v1.HandleFunc("/markets/{market}/orderbook", s.handleGetOrderbook).Methods("GET")
	v1.HandleFunc("/markets/{market}/accounts/{owner}", s.handleGetAccount).Methods("GET")

	v1.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	v1.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	v1.HandleFunc("/markets/{market}/oracle", s.handleSetOracle).Methods("POST")
	v1.HandleFunc("/markets/{market}/oracle", s.handleCloseOracle).Methods("DELETE")
	v1.HandleFunc("/markets/{market}/deposit", s.handleDeposit).Methods("POST")
	v1.HandleFunc("/markets/{market}/withdraw", s.handleWithdraw).Methods("POST")
	v1.HandleFunc("/markets/{market}/sweep", s.handleSweep).Methods("POST")
	v1.HandleFunc("/markets/{market}/close", s.handleCloseMarket).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves the API on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})

	if s.logger != nil {
		s.logger.Info("api server starting", zap.String("addr", addr))
	}
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MarketInfo, 0, len(s.markets))
	for _, ms := range s.markets {
		ms.mu.Lock()
		out = append(out, marketInfoOf(ms.market))
		ms.mu.Unlock()
	}
	respondJSON(w, out)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	respondJSON(w, marketInfoOf(ms.market))
}

func marketInfoOf(m *market.Market) MarketInfo {
	return MarketInfo{
		Name:                   m.Name,
		BaseLotSize:            m.BaseLotSize,
		QuoteLotSize:           m.QuoteLotSize,
		MakerFeePpm:            m.MakerFee,
		TakerFeePpm:            m.TakerFee,
		TimeExpiry:             m.TimeExpiry,
		OracleAddress:          m.Oracle.Address,
		SeqNum:                 m.SeqNum,
		BaseDepositTotal:       m.BaseDepositTotal,
		QuoteDepositTotal:      m.QuoteDepositTotal,
		FeesAccrued:            m.FeesAccrued,
		FeesAvailable:          m.FeesAvailable,
		ReferrerRebatesAccrued: m.ReferrerRebatesAccrued,
	}
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	ms.mu.Lock()
	snap := s.snapshotOrderbook(name, ms.book)
	ms.mu.Unlock()
	respondJSON(w, snap)
}

func (s *Server) snapshotOrderbook(name string, ob *engine.OrderBook) OrderbookSnapshot {
	return OrderbookSnapshot{
		Market:    name,
		Bids:      aggregateLevels(ob.Bids),
		Asks:      aggregateLevels(ob.Asks),
		Timestamp: s.clock.Now().Unix(),
	}
}

// aggregateLevels merges fixed-price entries into price levels,
// best-first. It iterates with no oracle price and nowTs 0, so pegged
// orders are always omitted and expiry is not checked.
func aggregateLevels(bs *book.BookSide) []PriceLevel {
	entries := bs.IterAllIncludingInvalid(0, 0, false)
	var levels []PriceLevel
	for _, e := range entries {
		if e.State != book.Valid {
			continue
		}
		if n := len(levels); n > 0 && levels[n-1].PriceLots == e.PriceLots {
			levels[n-1].BaseLots += e.Leaf.Quantity
			continue
		}
		levels = append(levels, PriceLevel{PriceLots: e.PriceLots, BaseLots: e.Leaf.Quantity})
	}
	return levels
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["market"]
	owner, err := normalizeOwner(vars["owner"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	acc, ok := ms.accounts[owner]
	if !ok {
		respondError(w, http.StatusNotFound, "account not found", owner)
		return
	}
	respondJSON(w, accountInfoOf(name, acc))
}

// normalizeOwner validates raw as a 20-byte hex address and returns its
// checksummed form, the canonical key under which accounts are stored.
func normalizeOwner(raw string) (string, error) {
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("not a valid address: %q", raw)
	}
	return common.HexToAddress(raw).Hex(), nil
}

func accountInfoOf(market string, acc *position.Account) AccountInfo {
	info := AccountInfo{
		Market:                   market,
		Owner:                    acc.Owner,
		BaseFreeNative:           acc.Position.BaseFreeNative,
		QuoteFreeNative:          acc.Position.QuoteFreeNative,
		BidsBaseLots:             acc.Position.BidsBaseLots,
		AsksBaseLots:             acc.Position.AsksBaseLots,
		BidsQuoteLots:            acc.Position.BidsQuoteLots,
		LockedMakerFees:          acc.Position.LockedMakerFees,
		ReferrerRebatesAvailable: acc.Position.ReferrerRebatesAvailable,
		MakerVolume:              acc.Position.MakerVolume,
		TakerVolume:              acc.Position.TakerVolume,
	}
	for _, slot := range acc.Slots {
		if !slot.Used {
			continue
		}
		info.OpenOrders = append(info.OpenOrders, OpenOrderInfo{
			OrderID:       orderIDToString(slot.OrderID),
			ClientOrderID: slot.ClientID,
			Side:          slot.Side.String(),
			Pegged:        slot.TreeType == book.TreePegged,
			LockedPrice:   slot.LockedPrice,
		})
	}
	return info
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ms, ok := s.marketState(req.Market)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", req.Market)
		return
	}

	owner, err := normalizeOwner(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	params, err := paramsFromRequest(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order parameters", err.Error())
		return
	}

	ms.mu.Lock()
	acc, existed := ms.accounts[owner]
	if !existed {
		acc = position.New(owner)
		ms.accounts[owner] = acc
	}
	oraclePriceLots, haveOracle := ms.oracle.Price(ms.market.Oracle.Address)
	nowTs := s.clock.Now().Unix()
	res, err := ms.book.PlaceOrder(ms.market, ms.heap, s.logger, params, acc, owner,
		nowTs, oraclePriceLots, haveOracle, ms.accounts)
	snap := s.snapshotOrderbook(req.Market, ms.book)
	ms.mu.Unlock()

	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.hub.BroadcastToChannel("orderbook:"+req.Market, WSMessage{Type: "orderbook", Data: snap})

	resp := PlaceOrderResponse{
		PostedBaseNative:      res.PostedBaseNative,
		PostedQuoteNative:     res.PostedQuoteNative,
		TotalBaseTakenNative:  res.TotalBaseTakenNative,
		TotalQuoteTakenNative: res.TotalQuoteTakenNative,
		TakerFeesNative:       res.TakerFeesNative,
		MakerFeesNative:       res.MakerFeesNative,
		ReferrerAmount:        res.ReferrerAmount,
	}
	if res.OrderID != nil {
		resp.OrderID = orderIDToString(*res.OrderID)
	}
	if s.logger != nil {
		s.logger.Info("order placed", zap.String("market", req.Market), zap.String("owner", owner),
			zap.String("orderId", resp.OrderID), zap.Int64("totalBaseTakenNative", res.TotalBaseTakenNative))
	}
	respondJSON(w, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ms, ok := s.marketState(req.Market)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", req.Market)
		return
	}
	owner, err := normalizeOwner(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	ms.mu.Lock()
	acc, ok := ms.accounts[owner]
	if !ok {
		ms.mu.Unlock()
		respondError(w, http.StatusNotFound, "account not found", owner)
		return
	}
	var cancelErr error
	if req.OrderID != "" {
		orderID, err := orderIDFromString(req.OrderID)
		if err != nil {
			ms.mu.Unlock()
			respondError(w, http.StatusBadRequest, "invalid orderId", err.Error())
			return
		}
		cancelErr = ms.book.CancelOrder(ms.market, acc, orderID)
	} else {
		cancelErr = ms.book.CancelOrderByClientOrderID(ms.market, acc, req.ClientOrderID)
	}
	snap := s.snapshotOrderbook(req.Market, ms.book)
	ms.mu.Unlock()

	if cancelErr != nil {
		respondEngineError(w, cancelErr)
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+req.Market, WSMessage{Type: "orderbook", Data: snap})
	respondJSON(w, map[string]string{"status": "cancelled"})
}

// handleSetOracle pushes a price into a market's stub oracle feed. A
// production deployment would instead wire ms.oracle to a real oracle.Feed
// and drop this route.
func (s *Server) handleSetOracle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	var req SetOracleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ms.mu.Lock()
	ms.oracle.Set(ms.market.Oracle.Address, req.PriceLots)
	ms.mu.Unlock()
	respondJSON(w, map[string]string{"status": "ok"})
}

// handleCloseOracle marks a market's stub oracle feed as unavailable, as
// if the admin closed the price feed (stub_oracle_close). Pegged orders
// are rejected until a new price is set.
func (s *Server) handleCloseOracle(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	ms.mu.Lock()
	ms.oracle.Invalidate(ms.market.Oracle.Address)
	ms.mu.Unlock()
	respondJSON(w, map[string]string{"status": "ok"})
}

// handleDeposit credits an owner's free balances in-core and moves the
// matching amounts from the owner's external wallet into the market vault.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	owner, err := normalizeOwner(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err := ms.vault.Deposit(owner, req.BaseNative, req.QuoteNative); err != nil {
		respondError(w, http.StatusBadRequest, "vault deposit failed", err.Error())
		return
	}
	acc, existed := ms.accounts[owner]
	if !existed {
		acc = position.New(owner)
		ms.accounts[owner] = acc
	}
	engine.Deposit(ms.market, acc, req.BaseNative, req.QuoteNative)
	respondJSON(w, accountInfoOf(name, acc))
}

// handleWithdraw settles an owner's free balances to zero and withdraws the
// matching amounts from the market vault back to the owner's wallet.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	owner, err := normalizeOwner(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	acc, ok := ms.accounts[owner]
	if !ok {
		respondError(w, http.StatusNotFound, "account not found", owner)
		return
	}
	baseOut, quoteOut := engine.Settle(ms.market, acc)
	if err := ms.vault.Withdraw(owner, baseOut, quoteOut); err != nil {
		// Settle already debited the in-core balance; credit it back so the
		// account is not left short against a vault that refused the move.
		engine.Deposit(ms.market, acc, baseOut, quoteOut)
		respondError(w, http.StatusBadRequest, "vault withdraw failed", err.Error())
		return
	}
	respondJSON(w, WithdrawResponse{BaseNative: baseOut, QuoteNative: quoteOut})
}

// handleSweep moves an owner's accrued referrer rebates into free quote.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}
	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	owner, err := normalizeOwner(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner", err.Error())
		return
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	acc, ok := ms.accounts[owner]
	if !ok {
		respondError(w, http.StatusNotFound, "account not found", owner)
		return
	}
	amount := engine.Sweep(ms.market, acc)
	respondJSON(w, SweepResponse{QuoteNative: amount})
}

// handleCloseMarket validates the close preconditions (empty book, empty
// event heap, no outstanding deposits or fees) and, if satisfied, removes
// the market from the server entirely.
func (s *Server) handleCloseMarket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["market"]
	ms, ok := s.marketState(name)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", name)
		return
	}

	ms.mu.Lock()
	err := engine.CloseMarket(ms.market, ms.book, ms.heap)
	ms.mu.Unlock()
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.mu.Lock()
	delete(s.markets, name)
	s.mu.Unlock()
	respondJSON(w, map[string]string{"status": "closed"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Conversion helpers
// ==============================

func paramsFromRequest(req PlaceOrderRequest) (engine.OrderParams, error) {
	side, err := sideFromString(req.Side)
	if err != nil {
		return engine.OrderParams{}, err
	}
	orderType, err := orderTypeFromString(req.OrderType)
	if err != nil {
		return engine.OrderParams{}, err
	}
	stb, err := selfTradeFromString(req.SelfTradeBehavior)
	if err != nil {
		return engine.OrderParams{}, err
	}
	return engine.OrderParams{
		Side:                      side,
		PriceLots:                 req.PriceLots,
		MaxBaseLots:               req.MaxBaseLots,
		MaxQuoteLotsIncludingFees: req.MaxQuoteLotsIncludingFees,
		OrderType:                 orderType,
		SelfTradeBehavior:         stb,
		TimeInForce:               req.TimeInForce,
		ClientOrderID:             req.ClientOrderID,
		Limit:                     req.Limit,
		Peg: engine.PegParams{
			Pegged:   req.Peg.Pegged,
			Offset:   req.Peg.Offset,
			PegLimit: req.Peg.PegLimit,
		},
	}, nil
}

func sideFromString(s string) (book.Side, error) {
	switch s {
	case "bids", "buy":
		return book.Bids, nil
	case "asks", "sell":
		return book.Asks, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func orderTypeFromString(s string) (engine.OrderType, error) {
	switch s {
	case "", "limit":
		return engine.Limit, nil
	case "ioc":
		return engine.ImmediateOrCancel, nil
	case "postOnly":
		return engine.PostOnly, nil
	case "market":
		return engine.Market, nil
	case "postOnlySlide":
		return engine.PostOnlySlide, nil
	case "fillOrKill":
		return engine.FillOrKill, nil
	default:
		return 0, fmt.Errorf("unknown orderType %q", s)
	}
}

func selfTradeFromString(s string) (engine.SelfTradeBehavior, error) {
	switch s {
	case "", "decrementTake":
		return engine.DecrementTake, nil
	case "cancelProvide":
		return engine.CancelProvide, nil
	case "abortTransaction":
		return engine.AbortTransaction, nil
	default:
		return 0, fmt.Errorf("unknown selfTradeBehavior %q", s)
	}
}

func orderIDToString(k pricekey.Key) string {
	return fmt.Sprintf("%x:%x", k.Hi, k.Lo)
}

func orderIDFromString(s string) (pricekey.Key, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return pricekey.Key{}, fmt.Errorf("orderId must be \"hi:lo\" hex, got %q", s)
	}
	hi, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return pricekey.Key{}, fmt.Errorf("invalid hi: %w", err)
	}
	lo, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return pricekey.Key{}, fmt.Errorf("invalid lo: %w", err)
	}
	return pricekey.Key{Hi: hi, Lo: lo}, nil
}

// ==============================
// Response helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}

func respondEngineError(w http.ResponseWriter, err error) {
	var ee *engine.Error
	if errors.As(err, &ee) {
		respondError(w, http.StatusBadRequest, ee.Kind.String(), ee.Msg)
		return
	}
	respondError(w, http.StatusInternalServerError, "internal", err.Error())
}
