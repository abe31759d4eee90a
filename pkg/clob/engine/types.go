package engine

import (
	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
)

// OrderType selects how an order behaves with respect to posting and
// immediate execution, per spec §6.
type OrderType int

const (
	Limit OrderType = iota
	ImmediateOrCancel
	PostOnly
	Market
	PostOnlySlide
	FillOrKill
)

// SelfTradeBehavior selects how a match against the taker's own resting
// order is resolved.
type SelfTradeBehavior int

const (
	DecrementTake SelfTradeBehavior = iota
	CancelProvide
	AbortTransaction
)

// PegParams carries oracle-pegged order parameters; Offset/PegLimit are
// only meaningful when Pegged is true.
type PegParams struct {
	Pegged   bool
	Offset   int64
	PegLimit int64
}

// OrderParams is the input to PlaceOrder (and, with a nil ownerAccount
// passed to PlaceOrder, to the place-take path).
type OrderParams struct {
	Side                        book.Side
	PriceLots                   int64
	MaxBaseLots                 int64
	MaxQuoteLotsIncludingFees   int64
	OrderType                   OrderType
	SelfTradeBehavior           SelfTradeBehavior
	TimeInForce                 int64 // seconds; 0 = never
	ClientOrderID               uint64
	Limit                       int // max contra-side matches, <= 255
	Peg                         PegParams
}

// PlaceResult is what PlaceOrder reports back to the caller, per spec
// §4.3's "Outputs" paragraph.
type PlaceResult struct {
	OrderID               *pricekey.Key
	PostedBaseNative      int64
	PostedQuoteNative     int64
	TotalBaseTakenNative  int64
	TotalQuoteTakenNative int64
	TakerFeesNative       int64
	MakerFeesNative       int64
	ReferrerAmount        int64
}
