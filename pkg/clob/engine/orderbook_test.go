package engine

import (
	"testing"

	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/events"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/position"
)

func newEngineMarket(t *testing.T, makerFee, takerFee int64) *market.Market {
	t.Helper()
	m, err := market.New("TEST/USD", 1, 1, makerFee, takerFee, market.ExpiryNever, market.OracleConfig{})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	return m
}

func defaultParams(side book.Side, price, baseLots int64) OrderParams {
	return OrderParams{
		Side:                      side,
		PriceLots:                 price,
		MaxBaseLots:               baseLots,
		MaxQuoteLotsIncludingFees: price * baseLots * 2, // generous quote budget
		OrderType:                 Limit,
		SelfTradeBehavior:         DecrementTake,
		Limit:                     10,
	}
}

// TestSimpleFillRestsThenMatches exercises the same shape as spec §8
// scenario S1: a resting bid gets taken by a crossing ask, the maker's
// locked quote converts to free base/quote, and the taker's fee-bearing
// quote debits via the market's fee arithmetic.
func TestSimpleFillRestsThenMatches(t *testing.T) {
	m := newEngineMarket(t, -200, 400) // maker rebate, 0.04% taker fee
	ob := New()
	heap := events.New()

	a := position.New("A")
	b := position.New("B")

	res, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Bids, 100, 1), a, "A", 1000, 0, false, nil)
	if err != nil {
		t.Fatalf("A place: %v", err)
	}
	if res.OrderID == nil {
		t.Fatal("expected A's bid to post")
	}
	if a.Position.BidsBaseLots != 1 || a.Position.BidsQuoteLots != 100 {
		t.Fatalf("A locked position = %+v, want BidsBaseLots=1 BidsQuoteLots=100", a.Position)
	}

	makerAccounts := map[string]*position.Account{"A": a}
	res, err = ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 100, 1), b, "B", 1001, 0, false, makerAccounts)
	if err != nil {
		t.Fatalf("B place: %v", err)
	}
	if res.TotalBaseTakenNative != 1 {
		t.Fatalf("B TotalBaseTakenNative = %d, want 1", res.TotalBaseTakenNative)
	}
	if !ob.Bids.IsEmpty() {
		t.Fatalf("expected A's bid fully consumed, bids side still has %d entries", ob.Bids.Len())
	}
	if a.Position.BidsBaseLots != 0 {
		t.Fatalf("A.BidsBaseLots = %d, want 0 after full fill", a.Position.BidsBaseLots)
	}
	if a.Position.BaseFreeNative != 1 {
		t.Fatalf("A.BaseFreeNative = %d, want 1", a.Position.BaseFreeNative)
	}
	if b.Position.QuoteFreeNative != res.TotalQuoteTakenNative-res.TakerFeesNative {
		t.Fatalf("B.QuoteFreeNative = %d, want %d", b.Position.QuoteFreeNative, res.TotalQuoteTakenNative-res.TakerFeesNative)
	}
}

// TestSelfTradeDecrementTake exercises the same shape as spec §8 scenario
// S3: an account's own resting ask is decremented against its own bid.
// The decremented quantity proceeds through the normal Fill-event path
// (spec §4.3 step 8) flagged IsSelf, so no fee is charged and the locked
// base returns to free balance instead of converting to quote, and a
// second self-trade that exhausts the resting order entirely must free
// its maker slot rather than leak it.
func TestSelfTradeDecrementTake(t *testing.T) {
	m := newEngineMarket(t, 0, 400)
	ob := New()
	heap := events.New()
	a := position.New("A")
	Deposit(m, a, 2, 0)

	askParams := defaultParams(book.Asks, 1000, 2)
	askRes, err := ob.PlaceOrder(m, heap, nil, askParams, a, "A", 1000, 0, false, nil)
	if err != nil {
		t.Fatalf("ask place: %v", err)
	}
	askOrderID := *askRes.OrderID

	bidParams := defaultParams(book.Bids, 1000, 1)
	bidParams.SelfTradeBehavior = DecrementTake
	res, err := ob.PlaceOrder(m, heap, nil, bidParams, a, "A", 1001, 0, false, nil)
	if err != nil {
		t.Fatalf("bid place: %v", err)
	}
	if res.OrderID != nil {
		t.Fatalf("expected self-traded bid to post nothing, got order id %v", res.OrderID)
	}
	if res.TotalBaseTakenNative != 0 {
		t.Fatalf("TotalBaseTakenNative = %d, want 0 (self-traded quantity is not a real execution)", res.TotalBaseTakenNative)
	}
	if ob.Asks.Len() != 1 {
		t.Fatalf("expected the resting ask quantity reduced in place, Asks.Len() = %d", ob.Asks.Len())
	}
	if a.Position.AsksBaseLots != 1 {
		t.Fatalf("A.AsksBaseLots = %d, want 1 (shrunk in step with the resting order's book quantity)", a.Position.AsksBaseLots)
	}
	if a.Position.BaseFreeNative != 1 {
		t.Fatalf("A.BaseFreeNative = %d, want 1 (the decremented base returns to free; no currency ever converts)", a.Position.BaseFreeNative)
	}
	if a.Position.QuoteFreeNative != 0 {
		t.Fatalf("A.QuoteFreeNative = %d, want 0 (decrement-take never exchanges currencies)", a.Position.QuoteFreeNative)
	}
	if slot, ok := a.FindByOrderID(askOrderID); !ok || !a.Slots[slot].Used {
		t.Fatal("expected the partially-decremented ask's slot to remain live")
	}

	// A second self-trade against the same resting ask exhausts it
	// entirely: the maker slot must be freed, not leaked.
	bidParams2 := defaultParams(book.Bids, 1000, 1)
	bidParams2.SelfTradeBehavior = DecrementTake
	if _, err := ob.PlaceOrder(m, heap, nil, bidParams2, a, "A", 1002, 0, false, nil); err != nil {
		t.Fatalf("second bid place: %v", err)
	}
	if !ob.Asks.IsEmpty() {
		t.Fatalf("expected the fully-decremented ask removed from the book, Asks.Len() = %d", ob.Asks.Len())
	}
	if a.Position.AsksBaseLots != 0 {
		t.Fatalf("A.AsksBaseLots = %d, want 0 after full decrement", a.Position.AsksBaseLots)
	}
	if a.Position.BaseFreeNative != 2 {
		t.Fatalf("A.BaseFreeNative = %d, want 2 (fully refunded, matching the original deposit)", a.Position.BaseFreeNative)
	}
	if _, ok := a.FindByOrderID(askOrderID); ok {
		t.Fatal("expected the maker slot freed once the self-traded ask was fully exhausted, not leaked")
	}
}

// TestSelfTradeCancelProvide exercises cancelling the resting maker order
// outright when both sides of a trade belong to the same account.
func TestSelfTradeCancelProvide(t *testing.T) {
	m := newEngineMarket(t, 0, 400)
	ob := New()
	heap := events.New()
	a := position.New("A")

	if _, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 1000, 2), a, "A", 1000, 0, false, nil); err != nil {
		t.Fatalf("ask place: %v", err)
	}

	bidParams := defaultParams(book.Bids, 1000, 1)
	bidParams.SelfTradeBehavior = CancelProvide
	res, err := ob.PlaceOrder(m, heap, nil, bidParams, a, "A", 1001, 0, false, nil)
	if err != nil {
		t.Fatalf("bid place: %v", err)
	}
	if ob.Asks.Len() != 0 {
		t.Fatalf("expected resting ask cancelled outright, Asks.Len() = %d", ob.Asks.Len())
	}
	if res.OrderID == nil {
		t.Fatal("expected the bid to post since the contra side is now empty")
	}
	if a.Position.AsksBaseLots != 0 {
		t.Fatalf("A.AsksBaseLots = %d, want 0 after cancel-provide", a.Position.AsksBaseLots)
	}
}

// TestSelfTradeAbortTransaction exercises the same shape as spec §8
// scenario S3's sibling abort variant: AbortTransaction leaves no trace.
func TestSelfTradeAbortTransaction(t *testing.T) {
	m := newEngineMarket(t, 0, 400)
	ob := New()
	heap := events.New()
	a := position.New("A")

	if _, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 1000, 2), a, "A", 1000, 0, false, nil); err != nil {
		t.Fatalf("ask place: %v", err)
	}

	bidParams := defaultParams(book.Bids, 1000, 1)
	bidParams.SelfTradeBehavior = AbortTransaction
	_, err := ob.PlaceOrder(m, heap, nil, bidParams, a, "A", 1001, 0, false, nil)
	ee, ok := err.(*Error)
	if !ok || ee.Kind != KindWouldSelfTrade {
		t.Fatalf("expected KindWouldSelfTrade, got %v", err)
	}
	if ob.Asks.Len() != 1 {
		t.Fatalf("expected the resting ask untouched after abort, Asks.Len() = %d", ob.Asks.Len())
	}
}

// TestExpiredBidPrunedOnPlace exercises the same shape as spec §8
// scenario S4: an expired resting order is dropped from the book and
// its locked funds refunded before the incoming order is evaluated.
func TestExpiredBidPrunedOnPlace(t *testing.T) {
	m := newEngineMarket(t, 0, 0)
	ob := New()
	heap := events.New()
	a := position.New("A")
	b := position.New("B")
	Deposit(m, a, 0, 100)

	bidParams := defaultParams(book.Bids, 100, 1)
	bidParams.TimeInForce = 2
	if _, err := ob.PlaceOrder(m, heap, nil, bidParams, a, "A", 1000, 0, false, nil); err != nil {
		t.Fatalf("A place: %v", err)
	}

	makerAccounts := map[string]*position.Account{"A": a}
	res, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 100, 1), b, "B", 1003, 0, false, makerAccounts)
	if err != nil {
		t.Fatalf("B place: %v", err)
	}
	if !ob.Bids.IsEmpty() {
		t.Fatalf("expected A's expired bid dropped, Bids.Len() = %d", ob.Bids.Len())
	}
	if res.TotalBaseTakenNative != 0 {
		t.Fatalf("TotalBaseTakenNative = %d, want 0 (no live contra order to match)", res.TotalBaseTakenNative)
	}
	if res.OrderID == nil {
		t.Fatal("expected B's ask to post since the bid it would have matched had expired")
	}
	if a.Position.QuoteFreeNative != 100 {
		t.Fatalf("A.QuoteFreeNative = %d, want 100 (back to the deposited baseline after the expired order's refund)", a.Position.QuoteFreeNative)
	}
	if a.Position.BidsBaseLots != 0 {
		t.Fatalf("A.BidsBaseLots = %d, want 0 after expiry refund", a.Position.BidsBaseLots)
	}
}

// TestFillOrKillAbortsOnPartial exercises the same shape as spec §8
// scenario S6: a fill-or-kill order that cannot be filled in full leaves
// no trace on the book.
func TestFillOrKillAbortsOnPartial(t *testing.T) {
	m := newEngineMarket(t, 0, 0)
	ob := New()
	heap := events.New()
	a := position.New("A")
	b := position.New("B")

	if _, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 100, 1), a, "A", 1000, 0, false, nil); err != nil {
		t.Fatalf("A place: %v", err)
	}

	fokParams := defaultParams(book.Bids, 100, 6)
	fokParams.OrderType = FillOrKill
	_, err := ob.PlaceOrder(m, heap, nil, fokParams, b, "B", 1001, 0, false, map[string]*position.Account{"A": a})
	ee, ok := err.(*Error)
	if !ok || ee.Kind != KindWouldExecutePartially {
		t.Fatalf("expected KindWouldExecutePartially, got %v", err)
	}
	if ob.Asks.Len() != 1 {
		t.Fatalf("expected A's ask untouched after FoK abort, Asks.Len() = %d", ob.Asks.Len())
	}
	if a.Position.AsksBaseLots != 1 {
		t.Fatalf("A.AsksBaseLots = %d, want 1 (unchanged)", a.Position.AsksBaseLots)
	}
}

func TestPostOnlyDoesNotCross(t *testing.T) {
	m := newEngineMarket(t, 0, 0)
	ob := New()
	heap := events.New()
	a := position.New("A")
	b := position.New("B")

	if _, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 100, 1), a, "A", 1000, 0, false, nil); err != nil {
		t.Fatalf("A place: %v", err)
	}

	// Bid at 99 against a resting ask at 100: does not cross, so the
	// post-only order should rest normally.
	postOnly := defaultParams(book.Bids, 99, 1)
	postOnly.OrderType = PostOnly
	res, err := ob.PlaceOrder(m, heap, nil, postOnly, b, "B", 1001, 0, false, map[string]*position.Account{"A": a})
	if err != nil {
		t.Fatalf("post-only place: %v", err)
	}
	if res.TotalBaseTakenNative != 0 {
		t.Fatalf("TotalBaseTakenNative = %d, want 0 (post-only at a non-crossing price)", res.TotalBaseTakenNative)
	}
	if res.OrderID == nil {
		t.Fatal("expected the post-only bid to rest since it never crossed the ask")
	}
	if ob.Bids.IsEmpty() {
		t.Fatal("expected the post-only bid to be resting in the book")
	}

	// Now a post-only bid at 100 would cross A's ask and must be rejected
	// rather than partially posted or matched.
	crossing := defaultParams(book.Bids, 100, 1)
	crossing.OrderType = PostOnly
	res2, err := ob.PlaceOrder(m, heap, nil, crossing, b, "B", 1002, 0, false, map[string]*position.Account{"A": a})
	if err != nil {
		t.Fatalf("crossing post-only place: %v", err)
	}
	if res2.TotalBaseTakenNative != 0 {
		t.Fatalf("TotalBaseTakenNative = %d, want 0 (post-only must not match)", res2.TotalBaseTakenNative)
	}
	if res2.OrderID != nil {
		t.Fatal("expected the crossing post-only bid to be rejected, not posted")
	}
}

func TestPeggedOrderMatchesAtEffectivePrice(t *testing.T) {
	m := newEngineMarket(t, 0, 0)
	ob := New()
	heap := events.New()
	a := position.New("A")
	b := position.New("B")

	if _, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 999, 1), a, "A", 1000, 0, false, nil); err != nil {
		t.Fatalf("A place: %v", err)
	}

	peggedBid := OrderParams{
		Side:                      book.Bids,
		MaxBaseLots:               1,
		MaxQuoteLotsIncludingFees: 10000,
		OrderType:                 Limit,
		SelfTradeBehavior:         DecrementTake,
		Limit:                     10,
		Peg: PegParams{
			Pegged:   true,
			Offset:   -1,
			PegLimit: 10000,
		},
	}
	res, err := ob.PlaceOrder(m, heap, nil, peggedBid, b, "B", 1001, 1000, true, map[string]*position.Account{"A": a})
	if err != nil {
		t.Fatalf("pegged bid place: %v", err)
	}
	if res.TotalBaseTakenNative != 1 {
		t.Fatalf("TotalBaseTakenNative = %d, want 1 (oracle 1000 + offset -1 = 999, matches A's ask)", res.TotalBaseTakenNative)
	}
}

func TestCancelOrderRefundsLockedQuote(t *testing.T) {
	m := newEngineMarket(t, 0, 0)
	ob := New()
	heap := events.New()
	a := position.New("A")
	Deposit(m, a, 0, 100)

	res, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Bids, 100, 1), a, "A", 1000, 0, false, nil)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if a.Position.QuoteFreeNative != 0 {
		t.Fatalf("A.QuoteFreeNative = %d, want 0 (locked out of free balance while the bid rests)", a.Position.QuoteFreeNative)
	}
	if err := ob.CancelOrder(m, a, *res.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !ob.Bids.IsEmpty() {
		t.Fatalf("expected book empty after cancel, Bids.Len() = %d", ob.Bids.Len())
	}
	if a.Position.QuoteFreeNative != 100 {
		t.Fatalf("A.QuoteFreeNative = %d, want 100 (back to the deposited baseline after cancel)", a.Position.QuoteFreeNative)
	}
	if a.Position.BidsBaseLots != 0 || a.Position.BidsQuoteLots != 0 {
		t.Fatalf("A locked position after cancel = %+v, want zeroed", a.Position)
	}
}

func TestHeapOverflowAbortsWithNoStateChange(t *testing.T) {
	m := newEngineMarket(t, 0, 0)
	ob := New()
	heap := events.New()
	a := position.New("A")
	b := position.New("B")

	// Fill the heap to capacity so a single Fill event (with
	// no direct-application account available) cannot be pushed.
	for heap.Len() < events.Capacity {
		if _, _, err := heap.PushBack(events.Event{Kind: events.KindOut}); err != nil {
			break
		}
	}

	if _, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Asks, 100, 1), a, "A", 1000, 0, false, nil); err != nil {
		t.Fatalf("A place: %v", err)
	}

	// B's taker fill against A's maker order would need a heap slot for
	// the Out/Fill bookkeeping beyond the direct-apply cap in the
	// degenerate case where no maker account is supplied; since A is
	// unregistered as a maker account here, the Fill must route to heap
	// and fail capacity.
	before := ob.Asks.Len()
	_, err := ob.PlaceOrder(m, heap, nil, defaultParams(book.Bids, 100, 1), b, "B", 1001, 0, false, nil)
	if err == nil {
		t.Fatal("expected heap overflow to abort the place")
	}
	ee, ok := err.(*Error)
	if !ok || ee.Kind != KindInvalidInputHeapSlots {
		t.Fatalf("expected KindInvalidInputHeapSlots, got %v", err)
	}
	if ob.Asks.Len() != before {
		t.Fatalf("book side mutated despite abort: Asks.Len() = %d, want %d", ob.Asks.Len(), before)
	}
}
