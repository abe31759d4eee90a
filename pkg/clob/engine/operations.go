package engine

import (
	"go.uber.org/zap"

	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/events"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/position"
	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
)

// consumeEventsLimit is the hard cap on events drained in a single call,
// independent of whatever limit the caller asks for.
const consumeEventsLimit = 8

// CancelOrder removes a live resting order by its 128-bit key and applies
// the refund directly to owner (spec §4.8).
func (ob *OrderBook) CancelOrder(m *market.Market, owner *position.Account, orderID pricekey.Key) error {
	slot, ok := owner.FindByOrderID(orderID)
	if !ok {
		return newErr(KindOpenOrdersOrderNotFound, "order %v not found for owner %s", orderID, owner.Owner)
	}
	return ob.cancelSlot(m, owner, slot)
}

// CancelOrderByClientOrderID is CancelOrder keyed by the caller's own
// client-assigned id instead of the 128-bit order key.
func (ob *OrderBook) CancelOrderByClientOrderID(m *market.Market, owner *position.Account, clientOrderID uint64) error {
	slot, ok := owner.FindByClientID(clientOrderID)
	if !ok {
		return newErr(KindOpenOrdersOrderNotFound, "client_order_id %d not found for owner %s", clientOrderID, owner.Owner)
	}
	return ob.cancelSlot(m, owner, slot)
}

func (ob *OrderBook) cancelSlot(m *market.Market, owner *position.Account, slot int) error {
	s := owner.Slots[slot]
	side := ob.side(s.Side)
	leaf, err := side.Remove(s.TreeType, s.OrderID)
	if err != nil {
		return newErr(KindOrderIDNotFound, "order %v missing from book: %v", s.OrderID, err)
	}
	if err := owner.ApplyOut(slot, leaf.Quantity, m); err != nil {
		return newErr(KindOpenOrdersOrderNotFound, "%v", err)
	}
	return nil
}

// CancelAllOrders cancels every live order an account has in this market,
// stopping early if limit > 0 caps how many are cancelled this call.
func (ob *OrderBook) CancelAllOrders(m *market.Market, owner *position.Account, limit int) (cancelled int, err error) {
	for i := range owner.Slots {
		if limit > 0 && cancelled >= limit {
			break
		}
		if !owner.Slots[i].Used {
			continue
		}
		if err := ob.cancelSlot(m, owner, i); err != nil {
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

// EditOrder cancels an existing order and then places a new one in
// its place, per spec §4.9. If the place leg fails the cancellation still
// stands — callers that need stronger atomicity should snapshot the
// account before calling.
func (ob *OrderBook) EditOrder(
	m *market.Market,
	heap *events.Heap,
	logger *zap.Logger,
	owner *position.Account,
	ownerID string,
	orderID pricekey.Key,
	newParams OrderParams,
	nowTs int64,
	oraclePriceLots int64,
	haveOracle bool,
	makerAccounts map[string]*position.Account,
) (*PlaceResult, error) {
	if err := ob.CancelOrder(m, owner, orderID); err != nil {
		return nil, err
	}
	return ob.PlaceOrder(m, heap, logger, newParams, owner, ownerID, nowTs, oraclePriceLots, haveOracle, makerAccounts)
}

// ConsumeEvents drains up to min(limit, 8) events from the front of heap,
// applying each directly to the matching account in ownerAccounts (by
// owner id) when present, per spec §4.7. Events whose owner is not in
// ownerAccounts are left on the heap for a later call with a wider set.
func ConsumeEvents(m *market.Market, heap *events.Heap, limit int, ownerAccounts map[string]*position.Account) (consumed int, err error) {
	if limit <= 0 || limit > consumeEventsLimit {
		limit = consumeEventsLimit
	}
	for consumed < limit {
		ev, ok := heap.Front()
		if !ok {
			break
		}
		owner := eventOwner(ev)
		acc, found := ownerAccounts[owner]
		if !found {
			break
		}
		if err := applyEvent(acc, ev, m); err != nil {
			return consumed, err
		}
		if _, ok := heap.PopFront(); !ok {
			return consumed, newErr(KindInvalidInputHeapSlots, "pop front after applying an event we just peeked")
		}
		consumed++
	}
	return consumed, nil
}

func eventOwner(ev events.Event) string {
	if ev.Kind == events.KindFill {
		return ev.Fill.Maker
	}
	return ev.Out.Owner
}

func applyEvent(acc *position.Account, ev events.Event, m *market.Market) error {
	if ev.Kind == events.KindFill {
		f := ev.Fill
		info := position.FillInfo{
			Quantity:  f.QuantityBaseLots,
			PriceLots: f.PriceLots,
			PegLimit:  f.PegLimit,
			MakerOut:  f.MakerOut,
			MakerSlot: f.MakerSlot,
			IsSelf:    f.IsSelf,
		}
		_, err := acc.ApplyMakerFill(info, m)
		return err
	}
	o := ev.Out
	return acc.ApplyOut(o.OwnerSlot, o.QuantityBaseLots, m)
}

// Deposit credits native base/quote to owner's free balances and updates
// the market's deposit totals, per spec §4.10.
func Deposit(m *market.Market, owner *position.Account, baseNative, quoteNative int64) {
	owner.Position.BaseFreeNative += baseNative
	owner.Position.QuoteFreeNative += quoteNative
	m.BaseDepositTotal += baseNative
	m.QuoteDepositTotal += quoteNative
}

// Settle withdraws an account's free balances down to zero and returns
// the amounts to be transferred out through the vault collaborator,
// decrementing the market's deposit totals in step.
func Settle(m *market.Market, owner *position.Account) (baseOut, quoteOut int64) {
	baseOut = owner.Position.BaseFreeNative
	quoteOut = owner.Position.QuoteFreeNative
	owner.Position.BaseFreeNative = 0
	owner.Position.QuoteFreeNative = 0
	m.BaseDepositTotal -= baseOut
	m.QuoteDepositTotal -= quoteOut
	return baseOut, quoteOut
}

// Sweep moves accrued referrer rebates into an account's free quote
// balance, per spec §4.10's referrer settlement path.
func Sweep(m *market.Market, owner *position.Account) int64 {
	amount := owner.Position.ReferrerRebatesAvailable
	owner.Position.ReferrerRebatesAvailable = 0
	owner.Position.QuoteFreeNative += amount
	m.ReferrerRebatesAccrued -= amount
	m.FeesAvailable += amount
	return amount
}

// SetMarketExpired force-expires a market, per spec §4.11.
func SetMarketExpired(m *market.Market) {
	m.SetExpired()
}

// PruneOrders cancels every resting order on both sides of ob, intended
// for use only after a market has been force-expired, applying refunds
// directly where the owner account is supplied and otherwise pushing an
// Out event to heap.
func (ob *OrderBook) PruneOrders(m *market.Market, heap *events.Heap, nowTs int64, ownerAccounts map[string]*position.Account) (pruned int, err error) {
	if !m.IsExpired(nowTs) {
		return 0, newErr(KindMarketHasNotExpired, "market %s has not expired", m.Name)
	}
	for _, side := range []*book.BookSide{ob.Bids, ob.Asks} {
		for _, tt := range []book.OrderTreeType{book.TreeFixed, book.TreePegged} {
			// Walk the underlying tree directly rather than the merged,
			// oracle-gated iterator: pegged orders must be pruned even
			// when no oracle price is available to price them.
			tr := side.Fixed
			if tt == book.TreePegged {
				tr = side.Pegged
			}
			for {
				_, leafPeek, ok := tr.Min()
				if !ok {
					break
				}
				leaf, rmErr := side.Remove(tt, leafPeek.Key)
				if rmErr != nil {
					return pruned, newErr(KindOrderIDNotFound, "prune remove: %v", rmErr)
				}
				if acc, ok := ownerAccounts[leaf.Owner]; ok {
					if err := acc.ApplyOut(leaf.OwnerSlot, leaf.Quantity, m); err != nil {
						return pruned, newErr(KindOpenOrdersOrderNotFound, "%v", err)
					}
				} else {
					ev := events.Event{Kind: events.KindOut, Out: events.Out{
						Side: int(side.Side), OwnerSlot: leaf.OwnerSlot, Timestamp: nowTs,
						Owner: leaf.Owner, QuantityBaseLots: leaf.Quantity,
					}}
					if _, _, err := heap.PushBack(ev); err != nil {
						return pruned, newErr(KindInvalidInputHeapSlots, "prune: %v", err)
					}
				}
				pruned++
			}
		}
	}
	return pruned, nil
}

// CloseMarket validates spec §4.11's close preconditions and reports
// whether the market may be torn down.
func CloseMarket(m *market.Market, ob *OrderBook, heap *events.Heap) error {
	bookEmpty := ob.Bids.IsEmpty() && ob.Asks.IsEmpty()
	if !m.CanClose(bookEmpty, heap.IsEmpty()) {
		if !bookEmpty {
			return newErr(KindBookContainsElements, "book is not empty")
		}
		if !heap.IsEmpty() {
			return newErr(KindEventHeapContainsElements, "event heap is not empty")
		}
		return newErr(KindNonEmptyMarket, "market still has outstanding deposits or fees")
	}
	return nil
}

// PlaceOrders runs PlaceOrder for each params in order against the same
// book, short-circuiting on the first error (spec §5 batch semantics:
// a batch is a sequence of independent calls sharing one market snapshot,
// not an atomic group — an error partway through leaves prior orders
// posted).
func (ob *OrderBook) PlaceOrders(
	m *market.Market,
	heap *events.Heap,
	logger *zap.Logger,
	paramsList []OrderParams,
	ownerAccount *position.Account,
	owner string,
	nowTs int64,
	oraclePriceLots int64,
	haveOracle bool,
	makerAccounts map[string]*position.Account,
) ([]*PlaceResult, error) {
	results := make([]*PlaceResult, 0, len(paramsList))
	for _, p := range paramsList {
		r, err := ob.PlaceOrder(m, heap, logger, p, ownerAccount, owner, nowTs, oraclePriceLots, haveOracle, makerAccounts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// CancelAllAndPlaceOrders is the common "replace my quotes" batch: cancel
// every live order for owner, then place paramsList, per spec §5.
func (ob *OrderBook) CancelAllAndPlaceOrders(
	m *market.Market,
	heap *events.Heap,
	logger *zap.Logger,
	paramsList []OrderParams,
	ownerAccount *position.Account,
	owner string,
	nowTs int64,
	oraclePriceLots int64,
	haveOracle bool,
	makerAccounts map[string]*position.Account,
) ([]*PlaceResult, error) {
	if _, err := ob.CancelAllOrders(m, ownerAccount, 0); err != nil {
		return nil, err
	}
	return ob.PlaceOrders(m, heap, logger, paramsList, ownerAccount, owner, nowTs, oraclePriceLots, haveOracle, makerAccounts)
}

// Refill brings an account's free balances up to the given targets,
// depositing only the shortfall (a no-op for any currency already at or
// above target).
func Refill(m *market.Market, owner *position.Account, targetBaseNative, targetQuoteNative int64) {
	if d := targetBaseNative - owner.Position.BaseFreeNative; d > 0 {
		Deposit(m, owner, d, 0)
	}
	if d := targetQuoteNative - owner.Position.QuoteFreeNative; d > 0 {
		Deposit(m, owner, 0, d)
	}
}
