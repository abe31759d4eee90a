// Package engine hosts the matching algorithm (OrderBook) and the thin
// operation orchestrators (place/cancel/consume/settle) that tie it to a
// Market, an event heap, and caller-supplied open-orders accounts.
package engine

import (
	"go.uber.org/zap"

	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/events"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/position"
	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
	"github.com/lattice-markets/clobcore/pkg/clob/tree"
)

// maxMatchLimit mirrors the spec's cap on contra-side matches per call.
const maxMatchLimit = 255

const (
	maxDroppedExpired  = 5
	maxDirectFillEvents = 15
)

// OrderBook pairs the two sides of one market.
type OrderBook struct {
	Bids *book.BookSide
	Asks *book.BookSide
}

// New returns an empty order book.
func New() *OrderBook {
	return &OrderBook{Bids: book.New(book.Bids), Asks: book.New(book.Asks)}
}

func (ob *OrderBook) side(s book.Side) *book.BookSide {
	if s == book.Bids {
		return ob.Bids
	}
	return ob.Asks
}

func (ob *OrderBook) contra(s book.Side) *book.BookSide {
	return ob.side(s.Invert())
}

// scheduledChange is a contra-tree mutation deferred to Step 4.
type scheduledChange struct {
	tt       book.OrderTreeType
	handle   uint32
	key      pricekey.Key
	newQty   int64
	isDelete bool
}

// pendingEvent is a Fill/Out produced during the contra walk, deferred
// until the whole operation is known to succeed.
type pendingEvent struct {
	isFill        bool
	fill          events.Fill
	fillInfo      position.FillInfo
	out           events.Out
	outQuantity   int64
	direct        *position.Account
	directSlot    int
}

// PlaceOrder runs the full matching algorithm of spec §4.3 for one
// incoming order against the contra side of ob, applying maker
// bookkeeping directly to ownerAccount / makerAccounts where possible and
// deferring the rest to heap.
//
// ownerAccount may be nil for the place-take path (no caller-owned
// open-orders account backs this order); owner still identifies the
// caller for self-trade comparisons in that case only if ownerAccount is
// non-nil, matching spec step 3.8's "owner_account.is_some()" guard.
func (ob *OrderBook) PlaceOrder(
	m *market.Market,
	heap *events.Heap,
	logger *zap.Logger,
	params OrderParams,
	ownerAccount *position.Account,
	owner string,
	nowTs int64,
	oraclePriceLots int64,
	haveOracle bool,
	makerAccounts map[string]*position.Account,
) (*PlaceResult, error) {
	if m.IsExpired(nowTs) {
		return nil, newErr(KindInvalidInputMarketExpired, "market %s has expired", m.Name)
	}
	if params.Limit < 0 || params.Limit > maxMatchLimit {
		return nil, newErr(KindInvalidInputLots, "limit must be in [0, %d]", maxMatchLimit)
	}

	side := params.Side
	contra := ob.contra(side)

	// Step 1: price determination.
	priceLots, err := ob.determinePrice(m, contra, params, nowTs, oraclePriceLots, haveOracle)
	if err != nil {
		return nil, err
	}

	seqNum := m.NextSeqNum()
	var priceData uint64
	if params.Peg.Pegged {
		priceData = pricekey.OraclePeggedPriceData(params.Peg.Offset)
	} else {
		priceData = pricekey.FixedPriceData(priceLots)
	}
	orderID := pricekey.New(priceData, pricekey.Tiebreaker(side == book.Bids, seqNum))

	// Step 2: adjust taker limits.
	maxBaseLots := params.MaxBaseLots
	if m.MaxBaseLots() < maxBaseLots {
		maxBaseLots = m.MaxBaseLots()
	}
	maxQuoteLots := params.MaxQuoteLotsIncludingFees
	if side == book.Bids && params.OrderType != PostOnly {
		maxQuoteLots = m.SubtractTakerFees(params.MaxQuoteLotsIncludingFees)
	}
	if maxQuoteLots > m.MaxQuoteLots() {
		return nil, newErr(KindInvalidInputLotsSize, "max_quote_lots %d exceeds market maximum", maxQuoteLots)
	}

	remainingBase := maxBaseLots
	remainingQuote := maxQuoteLots

	limit := params.Limit
	var (
		scheduled           []scheduledChange
		pending             []pendingEvent
		droppedExpiredCount int
		executedBaseLots    int64
		executedQuoteLots   int64
		makerRebateAcc      int64
		postTarget          = true
	)

	contraSide := side.Invert()
	entries := contra.IterAllIncludingInvalid(nowTs, oraclePriceLots, haveOracle)
entryLoop:
	for _, e := range entries {
		if remainingBase == 0 || remainingQuote == 0 {
			break
		}
		if e.State == book.Invalid {
			if droppedExpiredCount < maxDroppedExpired {
				pending = append(pending, ob.outEventFor(e, contraSide, makerAccounts, ownerAccount, owner, nowTs))
				scheduled = append(scheduled, scheduledChange{tt: e.TreeType, handle: e.Handle, key: e.Leaf.Key, isDelete: true})
				droppedExpiredCount++
			}
			continue
		}

		if !withinTakerLimit(side, e.PriceLots, priceLots) {
			break entryLoop
		}
		if params.OrderType == PostOnly {
			postTarget = false
			break entryLoop
		}
		if limit == 0 {
			postTarget = false
			break entryLoop
		}

		maxMatchByQuote := remainingQuote / e.PriceLots
		if maxMatchByQuote == 0 {
			postTarget = false
			break entryLoop
		}

		matchBase := remainingBase
		if e.Leaf.Quantity < matchBase {
			matchBase = e.Leaf.Quantity
		}
		if maxMatchByQuote < matchBase {
			matchBase = maxMatchByQuote
		}
		matchQuote := matchBase * e.PriceLots

		isSelf := ownerAccount != nil && owner == e.Leaf.Owner
		if isSelf {
			switch params.SelfTradeBehavior {
			case DecrementTake:
				// Both the resting order and the incoming order shrink by
				// matchBase and no real execution is recorded (step 5's
				// taker accounting below skips self-traded quantity), but
				// per spec §4.3 step 8 the fill still proceeds through the
				// normal Fill-event path so the maker's slot is freed on
				// full exhaustion and its balance bookkeeping runs through
				// the one place that handles it: §4.5's IsSelf fill, which
				// zeroes fees and rebates but still credits free balance.
				remainingBase -= matchBase
				remainingQuote -= matchQuote
				newQuantity := e.Leaf.Quantity - matchBase
				makerOut := newQuantity == 0
				if makerOut {
					scheduled = append(scheduled, scheduledChange{tt: e.TreeType, handle: e.Handle, key: e.Leaf.Key, isDelete: true})
				} else {
					scheduled = append(scheduled, scheduledChange{tt: e.TreeType, handle: e.Handle, newQty: newQuantity})
				}

				selfFillEvent := events.Fill{
					TakerSide:          int(side),
					MakerOut:           makerOut,
					MakerSlot:          e.Leaf.OwnerSlot,
					Timestamp:          nowTs,
					MarketSeqNum:       seqNum,
					Maker:              e.Leaf.Owner,
					MakerClientOrderID: e.Leaf.ClientOrderID,
					MakerTimestamp:     e.Leaf.Timestamp,
					Taker:              owner,
					TakerClientOrderID: params.ClientOrderID,
					PriceLots:          e.PriceLots,
					PegLimit:           e.Leaf.PegLimit,
					QuantityBaseLots:   matchBase,
					IsSelf:             true,
				}
				selfFillInfo := position.FillInfo{
					Quantity:  matchBase,
					PriceLots: e.PriceLots,
					PegLimit:  e.Leaf.PegLimit,
					MakerOut:  makerOut,
					MakerSlot: e.Leaf.OwnerSlot,
					IsSelf:    true,
				}
				pending = append(pending, pendingEvent{
					isFill:   true,
					fill:     selfFillEvent,
					fillInfo: selfFillInfo,
					direct:   ownerAccount,
				})
				continue entryLoop
			case CancelProvide:
				pending = append(pending, pendingEvent{
					isFill:      false,
					out:         events.Out{Side: int(side.Invert()), OwnerSlot: e.Leaf.OwnerSlot, Timestamp: nowTs, Owner: e.Leaf.Owner, QuantityBaseLots: e.Leaf.Quantity},
					outQuantity: e.Leaf.Quantity,
					direct:      ownerAccount,
					directSlot:  e.Leaf.OwnerSlot,
				})
				scheduled = append(scheduled, scheduledChange{tt: e.TreeType, handle: e.Handle, key: e.Leaf.Key, isDelete: true})
				continue entryLoop
			case AbortTransaction:
				return nil, newErr(KindWouldSelfTrade, "order would self-trade against owner %s", owner)
			}
		}

		makerRebateAcc += m.MakerRebateFloor(matchQuote * m.QuoteLotSize)
		executedBaseLots += matchBase
		executedQuoteLots += matchQuote

		remainingBase -= matchBase
		remainingQuote -= matchQuote

		newQuantity := e.Leaf.Quantity - matchBase
		makerOut := newQuantity == 0
		if makerOut {
			scheduled = append(scheduled, scheduledChange{tt: e.TreeType, handle: e.Handle, key: e.Leaf.Key, isDelete: true})
		} else {
			scheduled = append(scheduled, scheduledChange{tt: e.TreeType, handle: e.Handle, newQty: newQuantity})
		}

		fillEvent := events.Fill{
			TakerSide:          int(side),
			MakerOut:           makerOut,
			MakerSlot:          e.Leaf.OwnerSlot,
			Timestamp:          nowTs,
			MarketSeqNum:       seqNum,
			Maker:              e.Leaf.Owner,
			MakerClientOrderID: e.Leaf.ClientOrderID,
			MakerTimestamp:     e.Leaf.Timestamp,
			Taker:              owner,
			TakerClientOrderID: params.ClientOrderID,
			PriceLots:          e.PriceLots,
			PegLimit:           e.Leaf.PegLimit,
			QuantityBaseLots:   matchBase,
		}
		fillInfo := position.FillInfo{
			Quantity:  matchBase,
			PriceLots: e.PriceLots,
			PegLimit:  e.Leaf.PegLimit,
			MakerOut:  makerOut,
			MakerSlot: e.Leaf.OwnerSlot,
		}
		pending = append(pending, pendingEvent{
			isFill:   true,
			fill:     fillEvent,
			fillInfo: fillInfo,
			direct:   dispatchTarget(e.Leaf.Owner, ownerAccount, owner, makerAccounts),
		})

		limit--
	}

	// Abort checks that must run before anything is committed: a
	// fill-or-kill order that could not be fully satisfied aborts with
	// zero state change, exactly like the self-trade AbortTransaction
	// case above and the heap-capacity check below.
	if params.OrderType == FillOrKill && remainingBase > 0 {
		return nil, newErr(KindWouldExecutePartially, "fill-or-kill order left %d base lots unfilled", remainingBase)
	}

	// Classify pending events direct-vs-heap, honoring the 15-direct-fill
	// cap, and verify heap capacity before committing anything.
	heapNeeded := 0
	directFillsUsed := 0
	routeHeap := make([]bool, len(pending))
	for i, pe := range pending {
		if pe.isFill {
			if pe.direct != nil && directFillsUsed < maxDirectFillEvents {
				directFillsUsed++
				continue
			}
			routeHeap[i] = true
			heapNeeded++
			continue
		}
		if pe.direct == nil {
			routeHeap[i] = true
			heapNeeded++
		}
	}
	if heap.Len()+heapNeeded > events.Capacity {
		return nil, newErr(KindInvalidInputHeapSlots, "event heap would exceed capacity (%d)", events.Capacity)
	}

	// Step 4: apply scheduled contra-tree mutations.
	for _, ch := range scheduled {
		if ch.isDelete {
			if _, err := contra.Remove(ch.tt, ch.key); err != nil {
				panic("engine: scheduled removal of a leaf the iterator just yielded failed: " + err.Error())
			}
			continue
		}
		contra.SetQuantity(ch.tt, ch.handle, ch.newQty)
	}

	// Apply pending events: direct application or heap push.
	heapGrew := 0
	for i, pe := range pending {
		if routeHeap[i] {
			var ev events.Event
			if pe.isFill {
				ev = events.Event{Kind: events.KindFill, Fill: pe.fill}
			} else {
				ev = events.Event{Kind: events.KindOut, Out: pe.out}
			}
			if _, _, err := heap.PushBack(ev); err != nil {
				panic("engine: heap push failed after capacity was verified: " + err.Error())
			}
			heapGrew++
			continue
		}
		if pe.isFill {
			if _, err := pe.direct.ApplyMakerFill(pe.fillInfo, m); err != nil {
				if logger != nil {
					logger.Warn("direct maker fill application failed", zap.String("maker", pe.fill.Maker), zap.Error(err))
				}
			}
		} else {
			if err := pe.direct.ApplyOut(pe.directSlot, pe.outQuantity, m); err != nil {
				if logger != nil {
					logger.Warn("direct out application failed", zap.String("owner", pe.out.Owner), zap.Error(err))
				}
			}
		}
	}

	// Step 5: taker fee & accounting. Only real (non-self) executions
	// count: a self-traded DecrementTake match shrinks both orders but
	// never actually exchanges assets or accrues fees.
	totalBaseTaken := executedBaseLots
	totalQuoteTaken := executedQuoteLots
	totalQuoteTakenNativeForFees := totalQuoteTaken * m.QuoteLotSize

	var takerFeesNative, referrerAmount int64
	if totalQuoteTakenNativeForFees > 0 {
		takerFeesNative = m.TakerFeesCeil(totalQuoteTakenNativeForFees)
		referrerAmount = takerFeesNative - makerRebateAcc
		m.FeesAccrued += referrerAmount
	}

	totalBaseTakenNative := totalBaseTaken * m.BaseLotSize
	totalQuoteTakenNative := totalQuoteTaken * m.QuoteLotSize

	if ownerAccount != nil {
		ownerAccount.ApplyTakerFill(side, totalBaseTakenNative, totalQuoteTakenNative, takerFeesNative, referrerAmount)
		m.ReferrerRebatesAccrued += referrerAmount
	} else {
		m.TakerVolumeWoOO += totalQuoteTakenNative
	}

	// Step 6: residual.
	var takerFeesLots int64
	if takerFeesNative > 0 {
		takerFeesLots = ceilDivPublic(takerFeesNative, m.QuoteLotSize)
	}
	remainingQuoteAfterFees := params.MaxQuoteLotsIncludingFees - totalQuoteTaken - takerFeesLots

	// Step 7: posting decision.
	postPrice := priceLots
	if params.Peg.Pegged && side == book.Bids && params.Peg.PegLimit != -1 {
		postPrice = params.Peg.PegLimit
	}
	if side == book.Bids && m.MakerFee > 0 {
		remainingQuoteAfterFees -= m.MakerFeesCeil(remainingQuoteAfterFees)
	}

	bookBaseQtyLots := remainingBase
	if postPrice > 0 {
		byQuote := remainingQuoteAfterFees / postPrice
		if byQuote < bookBaseQtyLots {
			bookBaseQtyLots = byQuote
		}
	} else {
		bookBaseQtyLots = 0
	}

	shouldPost := postTarget && bookBaseQtyLots > 0
	if params.Peg.Pegged && params.Peg.PegLimit != -1 {
		if betterThan(side, priceLots, params.Peg.PegLimit) {
			shouldPost = false
		}
	}

	result := &PlaceResult{
		TotalBaseTakenNative:  totalBaseTakenNative,
		TotalQuoteTakenNative: totalQuoteTakenNative,
		TakerFeesNative:       takerFeesNative,
		ReferrerAmount:        referrerAmount,
	}

	if !shouldPost {
		return result, nil
	}

	// Step 8: post.
	if bookBaseQtyLots*postPrice > m.MaxQuoteLots() {
		return nil, newErr(KindInvalidPostAmount, "post amount exceeds market maximum")
	}

	ownSide := ob.side(side)

	var makerFeesNative int64
	if side == book.Bids && m.MakerFee > 0 {
		postedQuoteNativeForFee := bookBaseQtyLots * postPrice * m.QuoteLotSize
		makerFeesNative = m.MakerFeesCeil(postedQuoteNativeForFee)
	}

	if _, expiredLeaf, removed := ownSide.RemoveOneExpired(nowTs); removed {
		ob.applyOutDirectOrHeap(m, heap, logger, expiredLeaf, side, ownerAccount, owner, makerAccounts)
	}

	if ownSide.IsFull() {
		_, _, worstLeaf, worstPrice, ok := ownSide.Worst(nowTs, oraclePriceLots, haveOracle)
		if ok {
			if !betterThan(side, postPrice, worstPrice) {
				return nil, newErr(KindInvalidPostAmount, "book side is full and the new order does not improve on the worst resting order")
			}
			ownSide.Remove(evictTreeType(worstLeaf), worstLeaf.Key)
			ob.applyOutDirectOrHeap(m, heap, logger, worstLeaf, side, ownerAccount, owner, makerAccounts)
		}
	}

	if ownerAccount == nil {
		return nil, newErr(KindOpenOrdersFull, "cannot post without an owner account")
	}
	slotIdx, err := ownerAccount.AddOrder(side, peggedOrFixed(params.Peg.Pegged), orderID, params.ClientOrderID, postPrice)
	if err != nil {
		return nil, newErr(KindOpenOrdersFull, "%v", err)
	}

	leaf := tree.Leaf{
		OwnerSlot:     slotIdx,
		Key:           orderID,
		Owner:         owner,
		Quantity:      bookBaseQtyLots,
		Timestamp:     nowTs,
		TimeInForce:   params.TimeInForce,
		PegLimit:      pegLimitOrDefault(params.Peg),
		ClientOrderID: params.ClientOrderID,
	}
	if _, _, err := ownSide.Insert(peggedOrFixed(params.Peg.Pegged), leaf); err != nil {
		return nil, newErr(KindInvalidPostAmount, "%v", err)
	}

	if side == book.Bids {
		ownerAccount.PostBid(bookBaseQtyLots, postPrice, m)
		if makerFeesNative > 0 {
			ownerAccount.LockMakerFees(makerFeesNative)
		}
	} else {
		ownerAccount.PostAsk(bookBaseQtyLots, m)
	}

	if heapGrew > 0 {
		ownerAccount.Position.PenaltyHeapCount++
	}

	orderIDCopy := orderID
	result.OrderID = &orderIDCopy
	result.PostedBaseNative = bookBaseQtyLots * m.BaseLotSize
	result.PostedQuoteNative = bookBaseQtyLots * postPrice * m.QuoteLotSize
	result.MakerFeesNative = makerFeesNative
	return result, nil
}

func pegLimitOrDefault(p PegParams) int64 {
	if p.Pegged {
		return p.PegLimit
	}
	return -1
}

func peggedOrFixed(pegged bool) book.OrderTreeType {
	if pegged {
		return book.TreePegged
	}
	return book.TreeFixed
}

func evictTreeType(leaf tree.Leaf) book.OrderTreeType {
	if leaf.PegLimit != -1 {
		return book.TreePegged
	}
	return book.TreeFixed
}

// betterThan reports whether price a is strictly better than price b from
// the given side's perspective (higher for bids, lower for asks).
func betterThan(side book.Side, a, b int64) bool {
	if side == book.Bids {
		return a > b
	}
	return a < b
}

func withinTakerLimit(side book.Side, contraPrice, takerLimit int64) bool {
	if side == book.Bids {
		return contraPrice <= takerLimit
	}
	return contraPrice >= takerLimit
}

func ceilDivPublic(num, den int64) int64 {
	if num <= 0 {
		return num / den
	}
	return (num + den - 1) / den
}

func (ob *OrderBook) determinePrice(m *market.Market, contra *book.BookSide, params OrderParams, nowTs, oraclePriceLots int64, haveOracle bool) (int64, error) {
	switch {
	case params.OrderType == Market:
		if params.Side == book.Bids {
			return book.MaxPriceLots, nil
		}
		return 1, nil
	case params.Peg.Pegged:
		if !haveOracle {
			return 0, newErr(KindInvalidOraclePrice, "oracle price required for pegged order")
		}
		sum := oraclePriceLots + params.Peg.Offset
		if sum < 1 || sum > book.MaxPriceLots {
			return 0, newErr(KindInvalidOraclePrice, "pegged price %d out of range", sum)
		}
		return sum, nil
	case params.OrderType == PostOnlySlide:
		if best, ok := contra.BestOpposingPrice(nowTs, oraclePriceLots, haveOracle); ok {
			if params.Side == book.Bids {
				slide := best - 1
				if slide < params.PriceLots {
					return slide, validatePrice(slide)
				}
				return params.PriceLots, validatePrice(params.PriceLots)
			}
			slide := best + 1
			if slide > params.PriceLots {
				return slide, validatePrice(slide)
			}
			return params.PriceLots, validatePrice(params.PriceLots)
		}
		return params.PriceLots, validatePrice(params.PriceLots)
	default:
		return params.PriceLots, validatePrice(params.PriceLots)
	}
}

func validatePrice(p int64) error {
	if p < 1 {
		return newErr(KindInvalidInputPriceLots, "price_lots must be >= 1, got %d", p)
	}
	return nil
}

func dispatchTarget(ownerID string, ownerAccount *position.Account, takerOwner string, makerAccounts map[string]*position.Account) *position.Account {
	if ownerAccount != nil && ownerID == takerOwner {
		return ownerAccount
	}
	if acc, ok := makerAccounts[ownerID]; ok {
		return acc
	}
	return nil
}

// outEventFor builds a pendingEvent for an expired/invalid contra entry
// dropped during the walk (spec §4.3 step 3.2). side is the resting
// order's own side (the contra side from the taker's perspective).
func (ob *OrderBook) outEventFor(e book.Entry, side book.Side, makerAccounts map[string]*position.Account, ownerAccount *position.Account, owner string, nowTs int64) pendingEvent {
	target := dispatchTarget(e.Leaf.Owner, ownerAccount, owner, makerAccounts)
	return pendingEvent{
		isFill: false,
		out: events.Out{
			Side:             int(side),
			OwnerSlot:        e.Leaf.OwnerSlot,
			Timestamp:        nowTs,
			Owner:            e.Leaf.Owner,
			QuantityBaseLots: e.Leaf.Quantity,
		},
		outQuantity: e.Leaf.Quantity,
		direct:      target,
		directSlot:  e.Leaf.OwnerSlot,
	}
}

// applyOutDirectOrHeap is used for the two book-maintenance Out events in
// Step 8 (expired-on-post eviction, worst-order eviction): both always
// have a resolvable side (the book side being posted to) and either apply
// directly (if the owner is known) or push to heap best-effort.
func (ob *OrderBook) applyOutDirectOrHeap(m *market.Market, heap *events.Heap, logger *zap.Logger, leaf tree.Leaf, side book.Side, ownerAccount *position.Account, owner string, makerAccounts map[string]*position.Account) {
	target := dispatchTarget(leaf.Owner, ownerAccount, owner, makerAccounts)
	if target != nil {
		if err := target.ApplyOut(leaf.OwnerSlot, leaf.Quantity, m); err != nil && logger != nil {
			logger.Warn("direct out application failed during post-time eviction", zap.String("owner", leaf.Owner), zap.Error(err))
		}
		return
	}
	ev := events.Event{Kind: events.KindOut, Out: events.Out{
		Side: int(side), OwnerSlot: leaf.OwnerSlot, Owner: leaf.Owner, QuantityBaseLots: leaf.Quantity,
	}}
	if _, _, err := heap.PushBack(ev); err != nil && logger != nil {
		logger.Warn("event heap full, dropping post-time eviction Out event", zap.String("owner", leaf.Owner), zap.Error(err))
	}
}
