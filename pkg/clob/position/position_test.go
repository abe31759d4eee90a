package position

import (
	"testing"

	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
)

func newTestMarket(t *testing.T, makerFee, takerFee int64) *market.Market {
	t.Helper()
	m, err := market.New("B-Q", 100, 10, makerFee, takerFee, market.ExpiryNever, market.OracleConfig{})
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	return m
}

func TestAddOrderAndFindByOrderID(t *testing.T) {
	a := New("alice")
	id := pricekey.New(100, 1)
	slot, err := a.AddOrder(book.Bids, book.TreeFixed, id, 42, 100)
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	got, ok := a.FindByOrderID(id)
	if !ok || got != slot {
		t.Fatalf("FindByOrderID = %d, %v, want %d, true", got, ok, slot)
	}
	gotByClient, ok := a.FindByClientID(42)
	if !ok || gotByClient != slot {
		t.Fatalf("FindByClientID = %d, %v, want %d, true", gotByClient, ok, slot)
	}
}

func TestAddOrderFailsWhenFull(t *testing.T) {
	a := New("alice")
	for i := 0; i < MaxOpenOrders; i++ {
		if _, err := a.AddOrder(book.Bids, book.TreeFixed, pricekey.New(uint64(i), 0), uint64(i), 1); err != nil {
			t.Fatalf("AddOrder %d: %v", i, err)
		}
	}
	if _, err := a.AddOrder(book.Bids, book.TreeFixed, pricekey.New(999, 0), 999, 1); err == nil {
		t.Fatal("expected OpenOrdersFull error")
	}
}

// TestS1SimpleFillMakerRebate exercises the same shape as spec §8
// scenario S1 (bid price=100 qty=1 matched against an ask at the same
// price, maker_fee=-200, taker_fee=400): the maker (bidder) should walk
// away with the bid's base lots credited and no fee charged, the rebate
// instead applying to the remaining locked quote.
func TestS1SimpleFillMakerRebate(t *testing.T) {
	m := newTestMarket(t, -200, 400)
	alice := New("alice")
	slot, err := alice.AddOrder(book.Bids, book.TreeFixed, pricekey.New(pricekey.FixedPriceData(100), 0), 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	alice.PostBid(1, 100, m)

	qNative := int64(1) * 100 * m.QuoteLotSize // 1000
	rebate := m.MakerRebateFloor(qNative)       // floor(1000*200/1e6) = 0
	if rebate != 0 {
		t.Fatalf("sanity: expected rebate 0 at this qty, got %d", rebate)
	}

	fee, err := alice.ApplyMakerFill(FillInfo{
		Quantity: 1, PriceLots: 100, PegLimit: -1, MakerOut: true, MakerSlot: slot,
	}, m)
	if err != nil {
		t.Fatalf("ApplyMakerFill: %v", err)
	}
	if fee != 0 {
		t.Fatalf("chargedFee = %d, want 0 (maker_fee is negative, maker is rebated not charged)", fee)
	}
	if alice.Position.BaseFreeNative != 100 {
		t.Fatalf("BaseFreeNative = %d, want 100", alice.Position.BaseFreeNative)
	}
	if alice.Position.BidsBaseLots != 0 || alice.Position.BidsQuoteLots != 0 {
		t.Fatalf("expected locked counters zeroed after full fill, got %+v", alice.Position)
	}
	if alice.Slots[slot].Used {
		t.Fatal("expected slot freed after maker_out fill")
	}
}

func TestApplyOutRefundsBidLockedQuote(t *testing.T) {
	m := newTestMarket(t, 200, 400) // positive maker fee: locked_maker_fees used
	a := New("alice")
	lockedNative := int64(1) * 100 * m.QuoteLotSize
	fee := m.MakerFeesCeil(lockedNative)
	slot, err := a.AddOrder(book.Bids, book.TreeFixed, pricekey.New(100, 0), 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	a.Position.QuoteFreeNative = lockedNative + fee // simulate a prior deposit covering the post
	a.PostBid(1, 100, m)
	a.LockMakerFees(fee)

	if a.Position.QuoteFreeNative != 0 {
		t.Fatalf("QuoteFreeNative after posting = %d, want 0 (fully locked out of free balance)", a.Position.QuoteFreeNative)
	}

	if err := a.ApplyOut(slot, 1, m); err != nil {
		t.Fatalf("ApplyOut: %v", err)
	}
	if a.Position.QuoteFreeNative != lockedNative+fee {
		t.Fatalf("QuoteFreeNative = %d, want %d", a.Position.QuoteFreeNative, lockedNative+fee)
	}
	if a.Position.LockedMakerFees != 0 {
		t.Fatalf("LockedMakerFees = %d, want 0", a.Position.LockedMakerFees)
	}
	if a.Position.BidsBaseLots != 0 || a.Position.BidsQuoteLots != 0 {
		t.Fatalf("expected locked counters cleared, got %+v", a.Position)
	}
	if a.Slots[slot].Used {
		t.Fatal("expected slot freed")
	}
}

func TestApplyOutRefundsAskLockedBase(t *testing.T) {
	m := newTestMarket(t, -200, 400)
	a := New("alice")
	slot, err := a.AddOrder(book.Asks, book.TreeFixed, pricekey.New(100, 0), 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	a.Position.BaseFreeNative = 200 // simulate a prior deposit covering the post
	a.PostAsk(2, m)
	if a.Position.BaseFreeNative != 0 {
		t.Fatalf("BaseFreeNative after posting = %d, want 0 (fully locked out of free balance)", a.Position.BaseFreeNative)
	}
	if err := a.ApplyOut(slot, 2, m); err != nil {
		t.Fatalf("ApplyOut: %v", err)
	}
	if a.Position.BaseFreeNative != 200 {
		t.Fatalf("BaseFreeNative = %d, want 200", a.Position.BaseFreeNative)
	}
	if a.Position.AsksBaseLots != 0 {
		t.Fatalf("AsksBaseLots = %d, want 0", a.Position.AsksBaseLots)
	}
}

func TestApplyTakerFillAsk(t *testing.T) {
	a := New("bob")
	a.ApplyTakerFill(book.Asks, 0, 100_000, 40, 20)
	if a.Position.QuoteFreeNative != 99_960 {
		t.Fatalf("QuoteFreeNative = %d, want 99960", a.Position.QuoteFreeNative)
	}
	if a.Position.TakerVolume != 100_000 {
		t.Fatalf("TakerVolume = %d, want 100000", a.Position.TakerVolume)
	}
	if a.Position.ReferrerRebatesAvailable != 20 {
		t.Fatalf("ReferrerRebatesAvailable = %d, want 20", a.Position.ReferrerRebatesAvailable)
	}
}

func TestApplyMakerFillPartialKeepsSlot(t *testing.T) {
	m := newTestMarket(t, -200, 400)
	a := New("alice")
	slot, err := a.AddOrder(book.Asks, book.TreeFixed, pricekey.New(100, 0), 1, 100)
	if err != nil {
		t.Fatal(err)
	}
	a.PostAsk(5, m)
	if _, err := a.ApplyMakerFill(FillInfo{Quantity: 2, PriceLots: 100, PegLimit: -1, MakerOut: false, MakerSlot: slot}, m); err != nil {
		t.Fatalf("ApplyMakerFill: %v", err)
	}
	if !a.Slots[slot].Used {
		t.Fatal("partial fill must not free the slot")
	}
	if a.Position.AsksBaseLots != 3 {
		t.Fatalf("AsksBaseLots = %d, want 3", a.Position.AsksBaseLots)
	}
}
