// Package market holds market-level parameters (lot sizes, fees, expiry,
// oracle config), the aggregate counters every operation must keep in
// sync, and the ppm-scale fee arithmetic used by matching and settlement.
package market

import (
	"fmt"
)

// FeesScaleFactor is the denominator fee rates are expressed over: a fee
// of 400 means 400/1_000_000 = 0.04%.
const FeesScaleFactor = 1_000_000

// ExpiryNever / ExpiryForced are the two special values of TimeExpiry; any
// positive value is an absolute unix timestamp.
const (
	ExpiryNever  int64 = 0
	ExpiryForced int64 = -1
)

// OracleConfig names the external price feed this market reads. The core
// never parses or validates it; the oracle collaborator (pkg/clob/oracle)
// resolves it to a price each call.
type OracleConfig struct {
	Address string
}

// Market is the immutable-at-creation parameter set plus the mutable
// aggregate counters every operation updates.
type Market struct {
	// Identity
	Name string

	// Immutable at creation
	BaseLotSize  int64 // native base units per base lot, power of 10
	QuoteLotSize int64 // native quote units per quote lot, power of 10
	MakerFee     int64 // signed, ppm scale; negative = rebate
	TakerFee     int64 // non-negative, ppm scale
	TimeExpiry   int64 // 0 = never, >0 = absolute unix seconds, -1 = force-expired
	Oracle       OracleConfig

	// Mutable aggregate counters
	SeqNum                 uint64
	BaseDepositTotal       int64
	QuoteDepositTotal      int64
	FeesAccrued            int64
	FeesToReferrers        int64
	ReferrerRebatesAccrued int64
	FeesAvailable          int64
	MakerVolume            int64
	TakerVolumeWoOO        int64
}

// New validates params and constructs a Market with zeroed counters.
func New(name string, baseLotSize, quoteLotSize, makerFee, takerFee, timeExpiry int64, oracle OracleConfig) (*Market, error) {
	m := &Market{
		Name:         name,
		BaseLotSize:  baseLotSize,
		QuoteLotSize: quoteLotSize,
		MakerFee:     makerFee,
		TakerFee:     takerFee,
		TimeExpiry:   timeExpiry,
		Oracle:       oracle,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// Validate checks the fee contract and lot-size sanity named in spec §3.
func (m *Market) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("market name cannot be empty")
	}
	if !isPositivePowerOfTen(m.BaseLotSize) {
		return fmt.Errorf("base_lot_size must be a positive power of ten, got %d", m.BaseLotSize)
	}
	if !isPositivePowerOfTen(m.QuoteLotSize) {
		return fmt.Errorf("quote_lot_size must be a positive power of ten, got %d", m.QuoteLotSize)
	}
	if m.TakerFee < 0 {
		return fmt.Errorf("taker_fee must be >= 0, got %d", m.TakerFee)
	}
	if abs64(m.MakerFee) > FeesScaleFactor {
		return fmt.Errorf("|maker_fee| must be <= %d, got %d", FeesScaleFactor, m.MakerFee)
	}
	if abs64(m.TakerFee) > FeesScaleFactor {
		return fmt.Errorf("|taker_fee| must be <= %d, got %d", FeesScaleFactor, m.TakerFee)
	}
	if m.MakerFee < 0 && abs64(m.MakerFee) > m.TakerFee {
		return fmt.Errorf("negative maker_fee rebate (%d) cannot exceed taker_fee (%d)", m.MakerFee, m.TakerFee)
	}
	return nil
}

func isPositivePowerOfTen(n int64) bool {
	if n <= 0 {
		return false
	}
	for n%10 == 0 {
		n /= 10
	}
	return n == 1
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// IsExpired reports whether the market has expired as of nowTs.
func (m *Market) IsExpired(nowTs int64) bool {
	if m.TimeExpiry == ExpiryForced {
		return true
	}
	return m.TimeExpiry > 0 && nowTs > m.TimeExpiry
}

// SetExpired force-expires the market (admin operation, spec §4.11).
func (m *Market) SetExpired() {
	m.TimeExpiry = ExpiryForced
}

// MaxBaseLots is the largest base-lot quantity representable without
// overflowing native-unit arithmetic at this market's lot size.
func (m *Market) MaxBaseLots() int64 {
	return maxLotsFor(m.BaseLotSize)
}

// MaxQuoteLots is the analogous bound for quote lots.
func (m *Market) MaxQuoteLots() int64 {
	return maxLotsFor(m.QuoteLotSize)
}

func maxLotsFor(lotSize int64) int64 {
	// native = lots * lotSize must not overflow int64.
	const maxInt64 = int64(1<<63 - 1)
	return maxInt64 / lotSize
}

// SubtractTakerFees reserves room for the taker fee inside a quote budget
// that includes fees: floor(q * SCALE / (SCALE + taker_fee)).
func (m *Market) SubtractTakerFees(qIncludingFees int64) int64 {
	num := qIncludingFees * FeesScaleFactor
	den := FeesScaleFactor + m.TakerFee
	return num / den
}

// TakerFeesCeil computes ceil(q * taker_fee / SCALE); taker fees always
// round up so fees_accrued never exceeds quote actually routed.
func (m *Market) TakerFeesCeil(q int64) int64 {
	return ceilDiv(q*m.TakerFee, FeesScaleFactor)
}

// MakerFeesCeil computes ceil(q * maker_fee / SCALE), valid only when
// maker_fee > 0 (maker pays).
func (m *Market) MakerFeesCeil(q int64) int64 {
	return ceilDiv(q*m.MakerFee, FeesScaleFactor)
}

// MakerRebateFloor computes floor(q * |maker_fee| / SCALE), valid only
// when maker_fee < 0 (maker rebate funded by taker fee).
func (m *Market) MakerRebateFloor(q int64) int64 {
	return (q * abs64(m.MakerFee)) / FeesScaleFactor
}

func ceilDiv(num, den int64) int64 {
	if num <= 0 {
		return num / den
	}
	return (num + den - 1) / den
}

// CanClose reports whether the market satisfies spec §4.11's close_market
// preconditions, given the caller-checked book/heap emptiness flags.
func (m *Market) CanClose(bookEmpty, eventHeapEmpty bool) bool {
	return bookEmpty && eventHeapEmpty &&
		m.BaseDepositTotal == 0 && m.QuoteDepositTotal == 0 &&
		m.FeesAvailable == 0 && m.ReferrerRebatesAccrued == 0
}

// NextSeqNum increments and returns the market's sequence counter, used
// both for order-key tiebreakers and event heap ordering.
func (m *Market) NextSeqNum() uint64 {
	m.SeqNum++
	return m.SeqNum
}
