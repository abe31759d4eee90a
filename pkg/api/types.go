package api

// API response/request types for REST endpoints and WebSocket messages.

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a market's static configuration plus its live counters.
type MarketInfo struct {
	Name                   string `json:"name"`
	BaseLotSize            int64  `json:"baseLotSize"`
	QuoteLotSize           int64  `json:"quoteLotSize"`
	MakerFeePpm            int64  `json:"makerFeePpm"` // negative = rebate
	TakerFeePpm            int64  `json:"takerFeePpm"`
	TimeExpiry             int64  `json:"timeExpiry"` // 0=never, >0=absolute unix seconds, -1=force-expired
	OracleAddress          string `json:"oracleAddress,omitempty"`
	SeqNum                 uint64 `json:"seqNum"`
	BaseDepositTotal       int64  `json:"baseDepositTotal"`
	QuoteDepositTotal      int64  `json:"quoteDepositTotal"`
	FeesAccrued            int64  `json:"feesAccrued"`
	FeesAvailable          int64  `json:"feesAvailable"`
	ReferrerRebatesAccrued int64  `json:"referrerRebatesAccrued"`
}

// PriceLevel is one resting price point: price in quote lots, size in
// base lots aggregated across every order at that price.
type PriceLevel struct {
	PriceLots int64 `json:"priceLots"`
	BaseLots  int64 `json:"baseLots"`
}

// OrderbookSnapshot is the current state of one market's book.
type OrderbookSnapshot struct {
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"` // best (highest) first
	Asks      []PriceLevel `json:"asks"` // best (lowest) first
	Timestamp int64        `json:"timestamp"` // unix seconds when the snapshot was taken
}

// OpenOrderInfo describes one of an account's live resting orders.
type OpenOrderInfo struct {
	OrderID       string `json:"orderId"` // hex "hi:lo"
	ClientOrderID uint64 `json:"clientOrderId"`
	Side          string `json:"side"` // "bids" or "asks"
	Pegged        bool   `json:"pegged"`
	LockedPrice   int64  `json:"lockedPrice"`
}

// AccountInfo is an account's balance sheet in one market.
type AccountInfo struct {
	Market                   string          `json:"market"`
	Owner                    string          `json:"owner"`
	BaseFreeNative           int64           `json:"baseFreeNative"`
	QuoteFreeNative          int64           `json:"quoteFreeNative"`
	BidsBaseLots             int64           `json:"bidsBaseLots"`
	AsksBaseLots             int64           `json:"asksBaseLots"`
	BidsQuoteLots            int64           `json:"bidsQuoteLots"`
	LockedMakerFees          int64           `json:"lockedMakerFees"`
	ReferrerRebatesAvailable int64           `json:"referrerRebatesAvailable"`
	MakerVolume              int64           `json:"makerVolume"`
	TakerVolume              int64           `json:"takerVolume"`
	OpenOrders               []OpenOrderInfo `json:"openOrders"`
}

// ErrorResponse is returned for all REST errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// REST Request Types
// ==============================

// PegRequest carries oracle-pegged parameters for PlaceOrderRequest.
type PegRequest struct {
	Pegged   bool  `json:"pegged"`
	Offset   int64 `json:"offset"`
	PegLimit int64 `json:"pegLimit"`
}

// PlaceOrderRequest is the payload for POST /api/v1/orders.
type PlaceOrderRequest struct {
	Market                    string     `json:"market"`
	Owner                     string     `json:"owner"`
	Side                      string     `json:"side"`              // "bids" or "asks"
	OrderType                 string     `json:"orderType"`         // "limit","ioc","postOnly","market","postOnlySlide","fillOrKill"
	SelfTradeBehavior         string     `json:"selfTradeBehavior"` // "decrementTake","cancelProvide","abortTransaction"
	PriceLots                 int64      `json:"priceLots"`
	MaxBaseLots               int64      `json:"maxBaseLots"`
	MaxQuoteLotsIncludingFees int64      `json:"maxQuoteLotsIncludingFees"`
	TimeInForce               int64      `json:"timeInForce"`
	ClientOrderID             uint64     `json:"clientOrderId"`
	Limit                     int        `json:"limit"`
	Peg                       PegRequest `json:"peg"`
}

// SetOracleRequest pushes a price into a market's stub oracle feed, for
// local development and tests where no live price feed is wired up.
type SetOracleRequest struct {
	PriceLots int64 `json:"priceLots"`
}

// PlaceOrderResponse is the response from order submission.
type PlaceOrderResponse struct {
	OrderID               string `json:"orderId,omitempty"` // empty if the order did not rest
	PostedBaseNative      int64  `json:"postedBaseNative"`
	PostedQuoteNative     int64  `json:"postedQuoteNative"`
	TotalBaseTakenNative  int64  `json:"totalBaseTakenNative"`
	TotalQuoteTakenNative int64  `json:"totalQuoteTakenNative"`
	TakerFeesNative       int64  `json:"takerFeesNative"`
	MakerFeesNative       int64  `json:"makerFeesNative"`
	ReferrerAmount        int64  `json:"referrerAmount"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel.
type CancelOrderRequest struct {
	Market        string `json:"market"`
	Owner         string `json:"owner"`
	OrderID       string `json:"orderId,omitempty"` // hex "hi:lo"; takes priority over ClientOrderID
	ClientOrderID uint64 `json:"clientOrderId,omitempty"`
}

// DepositRequest is the payload for POST /api/v1/markets/{market}/deposit.
type DepositRequest struct {
	Owner       string `json:"owner"`
	BaseNative  int64  `json:"baseNative"`
	QuoteNative int64  `json:"quoteNative"`
}

// WithdrawRequest is the payload for POST /api/v1/markets/{market}/withdraw.
// It settles the owner's full free balances through the vault collaborator.
type WithdrawRequest struct {
	Owner string `json:"owner"`
}

// WithdrawResponse reports the native amounts actually moved out.
type WithdrawResponse struct {
	BaseNative  int64 `json:"baseNative"`
	QuoteNative int64 `json:"quoteNative"`
}

// SweepRequest is the payload for POST /api/v1/markets/{market}/sweep.
type SweepRequest struct {
	Owner string `json:"owner"`
}

// SweepResponse reports the referrer rebate amount moved into free quote.
type SweepResponse struct {
	QuoteNative int64 `json:"quoteNative"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the base envelope for all WebSocket broadcasts.
type WSMessage struct {
	Type string      `json:"type"` // "orderbook"
	Data interface{} `json:"data"`
}

// WSSubscribeRequest is sent by a client to subscribe to channels, e.g.
// ["orderbook:BTC-USDC"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
