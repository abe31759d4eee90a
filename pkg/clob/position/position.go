// Package position tracks per-participant balances: quantity locked on
// the book, free (withdrawable) balances, fee escrow, referrer rebates,
// and cumulative volume, plus the bounded open-orders slot array each
// account uses to remember its own live orders for O(1) cancellation.
package position

import (
	"fmt"

	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
)

// MaxOpenOrders bounds the number of simultaneously live orders per account
// per market.
const MaxOpenOrders = 24

// Position is the balance sheet for one account in one market.
type Position struct {
	BidsBaseLots             int64
	AsksBaseLots             int64
	BidsQuoteLots            int64
	BaseFreeNative           int64
	QuoteFreeNative          int64
	LockedMakerFees           int64
	ReferrerRebatesAvailable int64
	PenaltyHeapCount         int64
	MakerVolume              int64
	TakerVolume              int64
}

// Slot is one entry in the open-orders array: either free, or naming a
// live order and the price at which its assets were locked.
type Slot struct {
	Used        bool
	OrderID     pricekey.Key
	ClientID    uint64
	LockedPrice int64
	Side        book.Side
	TreeType    book.OrderTreeType
}

// Account bundles an owner's Position with its bounded order-slot array.
type Account struct {
	Owner    string
	Position Position
	Slots    [MaxOpenOrders]Slot
}

// New returns an empty account for owner.
func New(owner string) *Account {
	return &Account{Owner: owner}
}

// AddOrder allocates a free slot recording a newly-posted order. Fails
// with an OpenOrdersFull-flavored error if no slot is free.
func (a *Account) AddOrder(side book.Side, tt book.OrderTreeType, orderID pricekey.Key, clientID uint64, lockedPrice int64) (int, error) {
	for i := range a.Slots {
		if !a.Slots[i].Used {
			a.Slots[i] = Slot{
				Used:        true,
				OrderID:     orderID,
				ClientID:    clientID,
				LockedPrice: lockedPrice,
				Side:        side,
				TreeType:    tt,
			}
			return i, nil
		}
	}
	return -1, fmt.Errorf("position: open orders full (max %d)", MaxOpenOrders)
}

// FindByOrderID returns the slot index holding orderID, if any.
func (a *Account) FindByOrderID(orderID pricekey.Key) (int, bool) {
	for i := range a.Slots {
		if a.Slots[i].Used && a.Slots[i].OrderID.Equal(orderID) {
			return i, true
		}
	}
	return -1, false
}

// FindByClientID returns the first live slot matching clientID.
func (a *Account) FindByClientID(clientID uint64) (int, bool) {
	for i := range a.Slots {
		if a.Slots[i].Used && a.Slots[i].ClientID == clientID {
			return i, true
		}
	}
	return -1, false
}

// freeSlot clears a slot (used internally by ApplyOut/cancel paths).
func (a *Account) freeSlot(i int) {
	a.Slots[i] = Slot{}
}

// ApplyOut restores locked balances for a canceled/expired/evicted order
// and frees its slot, per spec §4.4's Out direct-application rules (also
// reused by cancel_order, which applies the identical refund logic).
func (a *Account) ApplyOut(slot int, quantity int64, m *market.Market) error {
	if slot < 0 || slot >= MaxOpenOrders || !a.Slots[slot].Used {
		return fmt.Errorf("position: slot %d is not a live order", slot)
	}
	s := a.Slots[slot]
	pos := &a.Position

	switch s.Side {
	case book.Bids:
		quoteRefund := quantity * s.LockedPrice * m.QuoteLotSize
		var fee int64
		if m.MakerFee > 0 {
			fee = m.MakerFeesCeil(quoteRefund)
		}
		pos.QuoteFreeNative += quoteRefund + fee
		pos.LockedMakerFees -= fee
		pos.BidsBaseLots -= quantity
		pos.BidsQuoteLots -= quantity * s.LockedPrice
	case book.Asks:
		pos.BaseFreeNative += quantity * m.BaseLotSize
		pos.AsksBaseLots -= quantity
	}

	a.freeSlot(slot)
	return nil
}

// FillInfo is the subset of a matched fill's fields the maker-side
// application needs, expressed independent of the events package's wire
// representation.
type FillInfo struct {
	Quantity  int64
	PriceLots int64
	PegLimit  int64 // -1 if not applicable (fixed order)
	MakerOut  bool
	MakerSlot int
	IsSelf    bool
}

// ApplyMakerFill updates M's position for one fill where M is the maker,
// per spec §4.5. Returns the fee actually charged to the market's
// fees_accrued bucket for this fill (zero when IsSelf or maker_fee < 0).
// A self (IsSelf) fill never exchanges currencies: no real counterparty
// received anything, so the locked amount (plus any escrowed maker fee)
// returns to free balance in its original currency instead of converting
// into the other side's, the same way a cancel would unlock it.
func (a *Account) ApplyMakerFill(f FillInfo, m *market.Market) (chargedFee int64, err error) {
	if f.MakerSlot < 0 || f.MakerSlot >= MaxOpenOrders || !a.Slots[f.MakerSlot].Used {
		return 0, fmt.Errorf("position: maker slot %d is not a live order", f.MakerSlot)
	}
	s := a.Slots[f.MakerSlot]
	qNative := f.Quantity * f.PriceLots * m.QuoteLotSize

	var makerFees, makerRebate int64
	if !f.IsSelf {
		if m.MakerFee > 0 {
			makerFees = m.MakerFeesCeil(qNative)
		} else if m.MakerFee < 0 {
			makerRebate = m.MakerRebateFloor(qNative)
		}
	}

	// feeReservedForThisFill is the maker-fee escrow PostBid/LockMakerFees
	// set aside at post time, sized to the locked (peg-adjusted) price.
	// It is computed independent of IsSelf: the escrow exists whether or
	// not this particular fill ends up actually charged, and a self fill
	// still has to release it back to free quote.
	lockedPrice := f.PriceLots
	var overLockedQuote, overLockedFeeRefund, feeReservedForThisFill int64
	if m.MakerFee > 0 {
		feeReservedForThisFill = m.MakerFeesCeil(qNative)
	}

	if s.Side == book.Bids && f.PegLimit != -1 {
		lockedPrice = f.PegLimit
		overLockedQuote = (f.PegLimit - f.PriceLots) * f.Quantity * m.QuoteLotSize
		if m.MakerFee > 0 {
			qNativeAtPeg := f.Quantity * f.PegLimit * m.QuoteLotSize
			feeReservedForThisFill = m.MakerFeesCeil(qNativeAtPeg)
			overLockedFeeRefund = feeReservedForThisFill - makerFees
		}
	}

	pos := &a.Position
	switch s.Side {
	case book.Bids:
		if f.IsSelf {
			pos.QuoteFreeNative += f.Quantity*lockedPrice*m.QuoteLotSize + feeReservedForThisFill
		} else {
			pos.BaseFreeNative += f.Quantity * m.BaseLotSize
			pos.QuoteFreeNative += makerRebate + overLockedQuote + overLockedFeeRefund
		}
		pos.LockedMakerFees -= feeReservedForThisFill
	case book.Asks:
		if f.IsSelf {
			pos.BaseFreeNative += f.Quantity * m.BaseLotSize
		} else {
			pos.QuoteFreeNative += qNative + makerRebate - makerFees
		}
	}

	pos.MakerVolume += qNative
	pos.ReferrerRebatesAvailable += makerFees
	m.FeesAccrued += makerFees
	m.ReferrerRebatesAccrued += makerFees

	if f.MakerOut {
		switch s.Side {
		case book.Bids:
			pos.BidsBaseLots -= f.Quantity
			pos.BidsQuoteLots -= f.Quantity * lockedPrice
		case book.Asks:
			pos.AsksBaseLots -= f.Quantity
		}
		a.freeSlot(f.MakerSlot)
	} else {
		switch s.Side {
		case book.Bids:
			pos.BidsBaseLots -= f.Quantity
			pos.BidsQuoteLots -= f.Quantity * lockedPrice
		case book.Asks:
			pos.AsksBaseLots -= f.Quantity
		}
	}

	return makerFees, nil
}

// ApplyTakerFill updates the taker's own position after a matching call,
// per spec §4.3 step 5 (execute_taker).
func (a *Account) ApplyTakerFill(side book.Side, totalBaseTakenNative, totalQuoteTakenNative, takerFeesNative, referrerAmount int64) {
	pos := &a.Position
	switch side {
	case book.Bids:
		pos.BaseFreeNative += totalBaseTakenNative
	case book.Asks:
		pos.QuoteFreeNative += totalQuoteTakenNative - takerFeesNative
	}
	pos.TakerVolume += totalQuoteTakenNative
	pos.ReferrerRebatesAvailable += referrerAmount
}

// PostBid locks quote for a newly-posted bid: the native quote amount
// moves out of free balance and into the Bids* locked counters, keeping
// deposit_total == free + locked (spec §8 properties 1-2).
func (a *Account) PostBid(bookBaseQtyLots, postPrice int64, m *market.Market) {
	pos := &a.Position
	pos.BidsBaseLots += bookBaseQtyLots
	pos.BidsQuoteLots += bookBaseQtyLots * postPrice
	pos.QuoteFreeNative -= bookBaseQtyLots * postPrice * m.QuoteLotSize
}

// PostAsk locks base for a newly-posted ask, debiting the native amount
// out of free balance symmetrically with PostBid.
func (a *Account) PostAsk(bookBaseQtyLots int64, m *market.Market) {
	pos := &a.Position
	pos.AsksBaseLots += bookBaseQtyLots
	pos.BaseFreeNative -= bookBaseQtyLots * m.BaseLotSize
}

// LockMakerFees reserves maker-fee escrow for a newly-posted bid when
// maker_fee > 0, moving the fee out of free quote into LockedMakerFees so
// it is refunded (ApplyOut) or released (ApplyMakerFill) from the same
// place it was taken.
func (a *Account) LockMakerFees(nativeFee int64) {
	a.Position.LockedMakerFees += nativeFee
	a.Position.QuoteFreeNative -= nativeFee
}
