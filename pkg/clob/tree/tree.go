// Package tree implements the arena-backed, prefix-compressed binary order
// tree described in the order-book core: a critbit trie over 128-bit order
// keys, with each InnerNode caching the earliest expiry timestamp of every
// leaf in its two subtrees so the tree can answer "what expires soonest"
// without a full scan.
//
// Nodes live in a fixed-size arena addressed by 32-bit handles, never by
// pointer, following the statically-allocated-arena idiom (the event heap
// in pkg/clob/events uses the same kind of free list): a bump index hands out fresh slots until
// capacity is reached, after which a singly-linked free list (threaded
// through the node itself) recycles removed slots.
package tree

import (
	"errors"
	"math"

	"github.com/lattice-markets/clobcore/pkg/clob/pricekey"
)

// Capacity is the fixed maximum number of live nodes (inner + leaf) a tree
// may hold at once.
const Capacity = 1024

// NullHandle sentinels "no node" (empty child, empty root, end of free list).
const NullHandle uint32 = math.MaxUint32

// noExpiry sentinels "never expires" when folded into the min-expiry cache.
const noExpiry int64 = math.MaxInt64

var (
	// ErrOutOfSpace is returned by Insert when the arena has no free slot.
	ErrOutOfSpace = errors.New("tree: out of space")
	// ErrNotFound is returned by Remove when the key is absent.
	ErrNotFound = errors.New("tree: key not found")
)

// Leaf is a resting order, the payload of a tree leaf node.
type Leaf struct {
	OwnerSlot     int            // index into the owner's open-orders array
	Key           pricekey.Key   // the 128-bit order id
	Owner         string         // opaque account identifier
	Quantity      int64          // base lots, >= 1
	Timestamp     int64          // unix seconds, monotonic
	TimeInForce   int64          // seconds; 0 = never expires
	PegLimit      int64          // signed lots; -1 = not applicable (fixed order)
	ClientOrderID uint64         // user label
}

// Expiry returns the unix-second timestamp at which the leaf becomes
// invalid due to time-in-force, or noExpiry if it never expires.
func (l Leaf) Expiry() int64 {
	if l.TimeInForce <= 0 {
		return noExpiry
	}
	return l.Timestamp + l.TimeInForce
}

// IsExpired reports whether the leaf's time-in-force has elapsed as of nowTs.
func (l Leaf) IsExpired(nowTs int64) bool {
	return l.TimeInForce > 0 && nowTs >= l.Timestamp+l.TimeInForce
}

type nodeTag uint8

const (
	tagFree nodeTag = iota
	tagInner
	tagLeaf
)

type inner struct {
	prefixLen           int
	key                 pricekey.Key // shared prefix; only the top prefixLen bits are meaningful
	children            [2]uint32
	childEarliestExpiry [2]int64
}

type node struct {
	tag      nodeTag
	inner    inner
	leaf     Leaf
	freeNext uint32 // valid only when tag == tagFree
}

// Tree is one arena-backed critbit trie over 128-bit order keys.
type Tree struct {
	nodes        [Capacity]node
	root         uint32
	bumpIndex    uint32
	freeListHead uint32
	count        int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{root: NullHandle, freeListHead: NullHandle}
}

// Len reports the number of live leaves.
func (t *Tree) Len() int { return t.count }

// IsEmpty reports whether the tree holds no leaves.
func (t *Tree) IsEmpty() bool { return t.root == NullHandle }

// IsFull reports whether the arena has no capacity for another insertion
// (a leaf insertion that doesn't clobber an existing key needs room for
// both a new leaf and, except for the very first insertion, a new inner
// node, so IsFull is conservative and checks for two free slots).
func (t *Tree) IsFull() bool {
	free := t.freeSlotsAvailable()
	return free < 2 && t.root != NullHandle
}

func (t *Tree) freeSlotsAvailable() int {
	bumpFree := int(Capacity) - int(t.bumpIndex)
	n := bumpFree
	for h := t.freeListHead; h != NullHandle; h = t.nodes[h].freeNext {
		n++
	}
	return n
}

func (t *Tree) allocate() (uint32, error) {
	if t.freeListHead != NullHandle {
		h := t.freeListHead
		t.freeListHead = t.nodes[h].freeNext
		return h, nil
	}
	if t.bumpIndex < Capacity {
		h := t.bumpIndex
		t.bumpIndex++
		return h, nil
	}
	return NullHandle, ErrOutOfSpace
}

func (t *Tree) release(h uint32) {
	t.nodes[h] = node{tag: tagFree, freeNext: t.freeListHead}
	t.freeListHead = h
}

func (t *Tree) expiryOf(h uint32) int64 {
	n := &t.nodes[h]
	if n.tag == tagLeaf {
		return n.leaf.Expiry()
	}
	return min64(n.inner.childEarliestExpiry[0], n.inner.childEarliestExpiry[1])
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

type pathStep struct {
	handle uint32
	bit    int // which child (0/1) of handle leads toward the leaf
}

// Insert places leaf into the tree. If a leaf with the same key already
// exists it is clobbered and returned as replaced (this should not happen
// for engine-generated keys, but the tree itself tolerates it per spec).
func (t *Tree) Insert(leaf Leaf) (handle uint32, replaced *Leaf, err error) {
	if t.root == NullHandle {
		h, err := t.allocate()
		if err != nil {
			return NullHandle, nil, err
		}
		t.nodes[h] = node{tag: tagLeaf, leaf: leaf}
		t.root = h
		t.count++
		return h, nil, nil
	}

	var path []pathStep
	cur := t.root
	for {
		n := &t.nodes[cur]
		if n.tag == tagLeaf {
			if n.leaf.Key.Equal(leaf.Key) {
				old := n.leaf
				n.leaf = leaf
				t.propagate(path)
				return cur, &old, nil
			}
			h, err := t.splitAtLeaf(cur, leaf, path)
			if err != nil {
				return NullHandle, nil, err
			}
			t.count++
			return h, nil, nil
		}

		prefixLen := pricekey.CommonPrefixLen(n.inner.key, leaf.Key)
		if prefixLen < n.inner.prefixLen {
			h, err := t.splitAtInner(cur, leaf, path, prefixLen)
			if err != nil {
				return NullHandle, nil, err
			}
			t.count++
			return h, nil, nil
		}

		bit := pricekey.Bit(leaf.Key, n.inner.prefixLen)
		path = append(path, pathStep{handle: cur, bit: bit})
		cur = n.inner.children[bit]
	}
}

// splitAtLeaf introduces a new inner node where `cur` (a leaf) and the new
// leaf diverge, and attaches it in place of `cur`.
func (t *Tree) splitAtLeaf(cur uint32, leaf Leaf, path []pathStep) (uint32, error) {
	oldLeaf := t.nodes[cur].leaf
	prefixLen := pricekey.CommonPrefixLen(oldLeaf.Key, leaf.Key)
	return t.attachSplit(cur, t.expiryOf(cur), leaf, path, prefixLen)
}

// splitAtInner introduces a new inner node above `cur` (an inner node whose
// stored prefix diverges from leaf's key before its own prefixLen), and
// attaches it in place of `cur`, with `cur`'s whole subtree displaced.
func (t *Tree) splitAtInner(cur uint32, leaf Leaf, path []pathStep, prefixLen int) (uint32, error) {
	return t.attachSplit(cur, t.expiryOf(cur), leaf, path, prefixLen)
}

// attachSplit is the shared body of splitAtLeaf/splitAtInner: allocate the
// new leaf and a new inner node with the given prefixLen, wire the
// displaced subtree (rooted at `displaced`, whose earliest expiry is
// displacedExpiry) and the new leaf as its two children, attach the new
// inner node where `displaced` used to sit, and propagate expiry caches
// upward.
func (t *Tree) attachSplit(displaced uint32, displacedExpiry int64, leaf Leaf, path []pathStep, prefixLen int) (uint32, error) {
	newLeafHandle, err := t.allocate()
	if err != nil {
		return NullHandle, err
	}
	newInnerHandle, err := t.allocate()
	if err != nil {
		t.release(newLeafHandle)
		return NullHandle, err
	}

	t.nodes[newLeafHandle] = node{tag: tagLeaf, leaf: leaf}

	bit := pricekey.Bit(leaf.Key, prefixLen)
	in := inner{prefixLen: prefixLen, key: leaf.Key}
	if bit == 0 {
		in.children[0] = newLeafHandle
		in.children[1] = displaced
		in.childEarliestExpiry[0] = leaf.Expiry()
		in.childEarliestExpiry[1] = displacedExpiry
	} else {
		in.children[0] = displaced
		in.children[1] = newLeafHandle
		in.childEarliestExpiry[0] = displacedExpiry
		in.childEarliestExpiry[1] = leaf.Expiry()
	}
	t.nodes[newInnerHandle] = node{tag: tagInner, inner: in}

	if len(path) == 0 {
		t.root = newInnerHandle
	} else {
		last := path[len(path)-1]
		t.nodes[last.handle].inner.children[last.bit] = newInnerHandle
	}
	t.propagate(path)
	return newLeafHandle, nil
}

// propagate recomputes child_earliest_expiry along path (root-to-parent,
// in descent order), stopping as soon as a recomputed value matches what
// was already cached.
func (t *Tree) propagate(path []pathStep) {
	for i := len(path) - 1; i >= 0; i-- {
		step := path[i]
		n := &t.nodes[step.handle]
		childHandle := n.inner.children[step.bit]
		newVal := t.expiryOf(childHandle)
		if n.inner.childEarliestExpiry[step.bit] == newVal {
			return
		}
		n.inner.childEarliestExpiry[step.bit] = newVal
	}
}

// Remove deletes the leaf with the given key, if present.
func (t *Tree) Remove(key pricekey.Key) (Leaf, error) {
	if t.root == NullHandle {
		return Leaf{}, ErrNotFound
	}

	var path []pathStep
	cur := t.root
	for {
		n := &t.nodes[cur]
		if n.tag == tagLeaf {
			if !n.leaf.Key.Equal(key) {
				return Leaf{}, ErrNotFound
			}
			break
		}
		bit := pricekey.Bit(key, n.inner.prefixLen)
		path = append(path, pathStep{handle: cur, bit: bit})
		cur = n.inner.children[bit]
	}

	removed := t.nodes[cur].leaf
	t.release(cur)

	if len(path) == 0 {
		t.root = NullHandle
		t.count--
		return removed, nil
	}

	last := path[len(path)-1]
	parentHandle := last.handle
	siblingBit := 1 - last.bit
	sibling := t.nodes[parentHandle].inner.children[siblingBit]

	grandPath := path[:len(path)-1]
	if len(grandPath) == 0 {
		t.root = sibling
	} else {
		gp := grandPath[len(grandPath)-1]
		t.nodes[gp.handle].inner.children[gp.bit] = sibling
	}
	t.release(parentHandle)
	t.propagate(grandPath)
	t.count--
	return removed, nil
}

// Min walks to the leftmost (smallest-key) leaf.
func (t *Tree) Min() (handle uint32, leaf Leaf, ok bool) {
	return t.walkExtreme(0)
}

// Max walks to the rightmost (largest-key) leaf.
func (t *Tree) Max() (handle uint32, leaf Leaf, ok bool) {
	return t.walkExtreme(1)
}

func (t *Tree) walkExtreme(bit int) (uint32, Leaf, bool) {
	if t.root == NullHandle {
		return NullHandle, Leaf{}, false
	}
	cur := t.root
	for t.nodes[cur].tag == tagInner {
		cur = t.nodes[cur].inner.children[bit]
	}
	return cur, t.nodes[cur].leaf, true
}

// FindEarliestExpiry returns the handle and leaf with the soonest expiry in
// the whole tree, descending at each inner node into the child with the
// smaller cached earliest expiry.
func (t *Tree) FindEarliestExpiry() (handle uint32, leaf Leaf, ok bool) {
	if t.root == NullHandle {
		return NullHandle, Leaf{}, false
	}
	cur := t.root
	for t.nodes[cur].tag == tagInner {
		in := &t.nodes[cur].inner
		if in.childEarliestExpiry[0] <= in.childEarliestExpiry[1] {
			cur = in.children[0]
		} else {
			cur = in.children[1]
		}
	}
	return cur, t.nodes[cur].leaf, true
}

// RemoveOneExpired removes and returns the soonest-expiring leaf if it has
// already expired as of nowTs, else reports ok == false without mutating
// the tree.
func (t *Tree) RemoveOneExpired(nowTs int64) (leaf Leaf, ok bool) {
	_, leaf, found := t.FindEarliestExpiry()
	if !found || !leaf.IsExpired(nowTs) {
		return Leaf{}, false
	}
	removed, err := t.Remove(leaf.Key)
	if err != nil {
		return Leaf{}, false
	}
	return removed, true
}

// At returns the leaf stored at handle. Callers must only pass handles
// previously returned by Insert/Min/Max/FindEarliestExpiry for this tree.
func (t *Tree) At(handle uint32) Leaf {
	return t.nodes[handle].leaf
}

// SetQuantity mutates the quantity of the leaf at handle in place. The
// leaf's key is unaffected, so no tree restructuring is needed; used to
// apply a partial-fill quantity reduction without a remove+reinsert.
func (t *Tree) SetQuantity(handle uint32, quantity int64) {
	t.nodes[handle].leaf.Quantity = quantity
}

// Ascend visits every leaf in increasing key order, stopping early if
// visit returns false.
func (t *Tree) Ascend(visit func(handle uint32, leaf Leaf) bool) {
	t.walkInOrder(t.root, 0, visit)
}

// Descend visits every leaf in decreasing key order, stopping early if
// visit returns false.
func (t *Tree) Descend(visit func(handle uint32, leaf Leaf) bool) {
	t.walkInOrder(t.root, 1, visit)
}

// walkInOrder is an in-order (first child = near, second = far) traversal;
// dir selects which child is visited first at every inner node (0 =
// ascending, 1 = descending).
func (t *Tree) walkInOrder(h uint32, dir int, visit func(handle uint32, leaf Leaf) bool) bool {
	if h == NullHandle {
		return true
	}
	n := &t.nodes[h]
	if n.tag == tagLeaf {
		return visit(h, n.leaf)
	}
	far := 1 - dir
	if !t.walkInOrder(n.inner.children[dir], dir, visit) {
		return false
	}
	return t.walkInOrder(n.inner.children[far], dir, visit)
}
