// Package book implements one side of an order book: two coexisting order
// trees (fixed-price and oracle-pegged) plus the merged, price-ordered
// iterator the matching algorithm walks when crossing the contra side.
package book

import (
	"math"

	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
	"github.com/lattice-markets/clobcore/pkg/clob/tree"
)

// Side distinguishes the buy side from the sell side of a market.
type Side int

const (
	Bids Side = iota
	Asks
)

func (s Side) String() string {
	if s == Bids {
		return "bids"
	}
	return "asks"
}

// Invert returns the opposite side.
func (s Side) Invert() Side {
	if s == Bids {
		return Asks
	}
	return Bids
}

// OrderTreeType discriminates which of a BookSide's two trees a leaf lives
// in. It is not stored on the leaf itself; it is implied by which tree
// returned the leaf.
type OrderTreeType int

const (
	TreeFixed OrderTreeType = iota
	TreePegged
)

// EntryState classifies a yielded iterator entry.
type EntryState int

const (
	Valid EntryState = iota
	Invalid
	Skipped
)

// Entry is one step of the merged iterator.
type Entry struct {
	Handle    uint32
	TreeType  OrderTreeType
	Leaf      tree.Leaf
	PriceLots int64
	State     EntryState
}

// MaxPriceLots mirrors i64::MAX, the valid upper bound for any price.
const MaxPriceLots = int64(math.MaxInt64)

// BookSide holds the fixed and oracle-pegged trees for one side of a
// market. They are kept as independent arenas (see DESIGN.md) rather than
// one shared arena; capacity and eviction semantics are unaffected.
type BookSide struct {
	Side   Side
	Fixed  *tree.Tree
	Pegged *tree.Tree
}

// New returns an empty book side.
func New(side Side) *BookSide {
	return &BookSide{Side: side, Fixed: tree.New(), Pegged: tree.New()}
}

// IsEmpty reports whether both trees are empty.
func (bs *BookSide) IsEmpty() bool {
	return bs.Fixed.IsEmpty() && bs.Pegged.IsEmpty()
}

// Len returns the total number of live leaves across both trees.
func (bs *BookSide) Len() int {
	return bs.Fixed.Len() + bs.Pegged.Len()
}

// effectivePeggedPrice computes oracle + offset for a pegged leaf, and
// whether that price falls within the valid [1, MaxPriceLots] range.
func effectivePeggedPrice(leaf tree.Leaf, oraclePriceLots int64) (price int64, inRange bool) {
	offset := pricekey.OraclePeggedPriceOffset(leaf.Key.Hi)
	sum := oraclePriceLots + offset
	if sum < 1 || sum > MaxPriceLots {
		return 0, false
	}
	return sum, true
}

// isPegLimitInvalid reports whether effectivePrice is worse, from the
// order's own side, than its peg_limit (peg_limit == -1 means "not
// applicable"). For bids, peg_limit is the most the trader will pay: any
// effective price above it is invalid. For asks, peg_limit is the least
// the trader will accept: any effective price below it is invalid.
func isPegLimitInvalid(side Side, effectivePrice, pegLimit int64) bool {
	if pegLimit == -1 {
		return false
	}
	if side == Bids {
		return effectivePrice > pegLimit
	}
	return effectivePrice < pegLimit
}

func better(side Side, a, b int64) bool {
	if side == Bids {
		return a > b
	}
	return a < b
}

func tieWins(side Side, a, b tree.Leaf) bool {
	if side == Bids {
		return a.Key.Lo > b.Key.Lo
	}
	return a.Key.Lo < b.Key.Lo
}

type listEntry struct {
	handle uint32
	leaf   tree.Leaf
	price  int64
	state  EntryState
}

func (bs *BookSide) orderedFixed(nowTs int64) []listEntry {
	var out []listEntry
	visit := func(h uint32, l tree.Leaf) bool {
		price := pricekey.FixedPriceLots(l.Key.Hi)
		state := Valid
		if l.IsExpired(nowTs) {
			state = Invalid
		}
		out = append(out, listEntry{handle: h, leaf: l, price: price, state: state})
		return true
	}
	if bs.Side == Bids {
		bs.Fixed.Descend(visit)
	} else {
		bs.Fixed.Ascend(visit)
	}
	return out
}

func (bs *BookSide) orderedPegged(nowTs int64, oraclePriceLots int64, haveOracle bool) []listEntry {
	var out []listEntry
	visit := func(h uint32, l tree.Leaf) bool {
		if !haveOracle {
			return true // no oracle: entire pegged tree is skipped this call
		}
		price, inRange := effectivePeggedPrice(l, oraclePriceLots)
		if !inRange {
			return true // Skipped: neither yielded nor removed
		}
		state := Valid
		if l.IsExpired(nowTs) || isPegLimitInvalid(bs.Side, price, l.PegLimit) {
			state = Invalid
		}
		out = append(out, listEntry{handle: h, leaf: l, price: price, state: state})
		return true
	}
	if bs.Side == Bids {
		bs.Pegged.Descend(visit)
	} else {
		bs.Pegged.Ascend(visit)
	}
	return out
}

// IterAllIncludingInvalid returns every Valid and Invalid entry across both
// trees, merged in best-first order from the taker's perspective. Skipped
// pegged entries are omitted entirely (per spec, skipped orders are never
// yielded). The slice is a point-in-time snapshot; it does not reflect
// mutations applied to the trees after this call returns.
func (bs *BookSide) IterAllIncludingInvalid(nowTs int64, oraclePriceLots int64, haveOracle bool) []Entry {
	fixed := bs.orderedFixed(nowTs)
	pegged := bs.orderedPegged(nowTs, oraclePriceLots, haveOracle)

	out := make([]Entry, 0, len(fixed)+len(pegged))
	i, j := 0, 0
	for i < len(fixed) && j < len(pegged) {
		f, p := fixed[i], pegged[j]
		if f.price == p.price {
			if tieWins(bs.Side, f.leaf, p.leaf) {
				out = append(out, toEntry(f, TreeFixed))
				i++
			} else {
				out = append(out, toEntry(p, TreePegged))
				j++
			}
			continue
		}
		if better(bs.Side, f.price, p.price) {
			out = append(out, toEntry(f, TreeFixed))
			i++
		} else {
			out = append(out, toEntry(p, TreePegged))
			j++
		}
	}
	for ; i < len(fixed); i++ {
		out = append(out, toEntry(fixed[i], TreeFixed))
	}
	for ; j < len(pegged); j++ {
		out = append(out, toEntry(pegged[j], TreePegged))
	}
	return out
}

func toEntry(le listEntry, tt OrderTreeType) Entry {
	return Entry{Handle: le.handle, TreeType: tt, Leaf: le.leaf, PriceLots: le.price, State: le.state}
}

// treeFor returns the underlying *tree.Tree for an OrderTreeType.
func (bs *BookSide) treeFor(tt OrderTreeType) *tree.Tree {
	if tt == TreeFixed {
		return bs.Fixed
	}
	return bs.Pegged
}

// Remove deletes the leaf named by an Entry (by tree type + key).
func (bs *BookSide) Remove(tt OrderTreeType, key pricekey.Key) (tree.Leaf, error) {
	return bs.treeFor(tt).Remove(key)
}

// Insert places a leaf into the fixed or pegged tree.
func (bs *BookSide) Insert(tt OrderTreeType, leaf tree.Leaf) (uint32, *tree.Leaf, error) {
	return bs.treeFor(tt).Insert(leaf)
}

// SetQuantity mutates a resting leaf's quantity in place (a partial fill).
func (bs *BookSide) SetQuantity(tt OrderTreeType, handle uint32, quantity int64) {
	bs.treeFor(tt).SetQuantity(handle, quantity)
}

// IsFull reports whether both trees are at capacity (no room for another
// leaf without eviction).
func (bs *BookSide) IsFull() bool {
	return bs.Fixed.IsFull() && bs.Pegged.IsFull()
}

// Worst returns the single worst-priced live leaf across both trees (the
// first candidate for eviction when the book side is full): for bids this
// is the lowest price, for asks the highest.
func (bs *BookSide) Worst(nowTs, oraclePriceLots int64, haveOracle bool) (tt OrderTreeType, handle uint32, leaf tree.Leaf, price int64, ok bool) {
	entries := bs.IterAllIncludingInvalid(nowTs, oraclePriceLots, haveOracle)
	if len(entries) == 0 {
		return 0, tree.NullHandle, tree.Leaf{}, 0, false
	}
	last := entries[len(entries)-1]
	return last.TreeType, last.Handle, last.Leaf, last.PriceLots, true
}

// RemoveOneExpired drops the soonest-to-expire leaf across both trees if
// it has already expired, preferring whichever tree's candidate expires
// first.
func (bs *BookSide) RemoveOneExpired(nowTs int64) (tt OrderTreeType, leaf tree.Leaf, ok bool) {
	_, fLeaf, fOK := bs.Fixed.FindEarliestExpiry()
	_, pLeaf, pOK := bs.Pegged.FindEarliestExpiry()

	switch {
	case fOK && pOK:
		if fLeaf.Expiry() <= pLeaf.Expiry() {
			if l, removed := bs.Fixed.RemoveOneExpired(nowTs); removed {
				return TreeFixed, l, true
			}
			return 0, tree.Leaf{}, false
		}
		if l, removed := bs.Pegged.RemoveOneExpired(nowTs); removed {
			return TreePegged, l, true
		}
		return 0, tree.Leaf{}, false
	case fOK:
		if l, removed := bs.Fixed.RemoveOneExpired(nowTs); removed {
			return TreeFixed, l, true
		}
		return 0, tree.Leaf{}, false
	case pOK:
		if l, removed := bs.Pegged.RemoveOneExpired(nowTs); removed {
			return TreePegged, l, true
		}
		return 0, tree.Leaf{}, false
	default:
		return 0, tree.Leaf{}, false
	}
}

// BestOpposingPrice returns the best (first-yielded) valid price on this
// side, used by PostOnlySlide on the opposite side's caller.
func (bs *BookSide) BestOpposingPrice(nowTs, oraclePriceLots int64, haveOracle bool) (int64, bool) {
	for _, e := range bs.IterAllIncludingInvalid(nowTs, oraclePriceLots, haveOracle) {
		if e.State == Valid {
			return e.PriceLots, true
		}
	}
	return 0, false
}
