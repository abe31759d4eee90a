// Package pricekey encodes and decodes the 128-bit sort keys used by the
// order tree. The top 64 bits are a price_data sort key (comparable as an
// unsigned integer so that ordinary numeric ordering gives best-first
// traversal); the bottom 64 bits are a seq-dependent tiebreaker.
package pricekey

import "math/bits"

// pegOffset biases a signed i64 offset into unsigned key space so that
// signed ordering of offsets matches unsigned ordering of price_data.
const pegOffset = uint64(1) << 63

// Key is the 128-bit order id / tree sort key, split as two uint64 words
// because Go has no native int128. Hi compares first, then Lo.
type Key struct {
	Hi uint64 // price_data
	Lo uint64 // tiebreaker
}

// Less reports whether k sorts strictly before other (unsigned, Hi then Lo).
func (k Key) Less(other Key) bool {
	if k.Hi != other.Hi {
		return k.Hi < other.Hi
	}
	return k.Lo < other.Lo
}

// Equal reports whether the two keys are identical.
func (k Key) Equal(other Key) bool {
	return k.Hi == other.Hi && k.Lo == other.Lo
}

// CommonPrefixLen returns the number of leading bits shared by a and b,
// scanning Hi first and falling into Lo only if Hi matches completely.
func CommonPrefixLen(a, b Key) int {
	if a.Hi != b.Hi {
		return bits.LeadingZeros64(a.Hi ^ b.Hi)
	}
	return 64 + bits.LeadingZeros64(a.Lo^b.Lo)
}

// Bit returns the value (0 or 1) of the i-th most-significant bit of k,
// where i==0 is the MSB of Hi and i==127 is the LSB of Lo.
func Bit(k Key, i int) int {
	if i < 64 {
		return int((k.Hi >> (63 - i)) & 1)
	}
	i -= 64
	return int((k.Lo >> (63 - i)) & 1)
}

// FixedPriceData encodes an absolute price in lots (>= 1) as a price_data
// sort key. Fixed orders store price_lots directly.
func FixedPriceData(priceLots int64) uint64 {
	return uint64(priceLots)
}

// FixedPriceLots decodes a fixed order's price_data back to price lots.
func FixedPriceLots(priceData uint64) int64 {
	return int64(priceData)
}

// OraclePeggedPriceData encodes a signed offset in lots as a price_data sort
// key such that unsigned ordering of price_data matches signed ordering of
// the offset.
func OraclePeggedPriceData(offsetLots int64) uint64 {
	return uint64(offsetLots) + pegOffset
}

// OraclePeggedPriceOffset decodes a pegged order's price_data back to its
// signed offset in lots.
func OraclePeggedPriceOffset(priceData uint64) int64 {
	return int64(priceData - pegOffset)
}

// Tiebreaker returns the bottom-64-bit tiebreaker for a given side and
// market seq_num. Bids store the bitwise complement of seq_num so that
// earlier-posted bids sort higher and a best-first walk from the max leaf
// reaches them first;
// asks store seq_num directly.
func Tiebreaker(isBid bool, seqNum uint64) uint64 {
	if isBid {
		return ^seqNum
	}
	return seqNum
}

// New builds the full 128-bit order key from price_data and a tiebreaker.
func New(priceData, tiebreaker uint64) Key {
	return Key{Hi: priceData, Lo: tiebreaker}
}
