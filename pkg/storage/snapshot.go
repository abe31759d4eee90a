package storage

import (
	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/events"
	"github.com/lattice-markets/clobcore/pkg/clob/tree"
)

// leafSnapshot is one resting order, tagged with the tree it lives in so a
// BookSideSnapshot can be rebuilt by replaying Insert calls in any order.
type leafSnapshot struct {
	TreeType book.OrderTreeType
	Leaf     tree.Leaf
}

// BookSideSnapshot is the JSON-friendly form of a book.BookSide: the
// arena's internal node layout is never persisted, only the set of live
// leaves, since reinserting them rebuilds an equivalent tree.
type BookSideSnapshot struct {
	Side   book.Side
	Leaves []leafSnapshot
}

// SnapshotBookSide walks bs's two trees and captures every live leaf.
func SnapshotBookSide(bs *book.BookSide) BookSideSnapshot {
	snap := BookSideSnapshot{Side: bs.Side}
	bs.Fixed.Ascend(func(_ uint32, l tree.Leaf) bool {
		snap.Leaves = append(snap.Leaves, leafSnapshot{TreeType: book.TreeFixed, Leaf: l})
		return true
	})
	bs.Pegged.Ascend(func(_ uint32, l tree.Leaf) bool {
		snap.Leaves = append(snap.Leaves, leafSnapshot{TreeType: book.TreePegged, Leaf: l})
		return true
	})
	return snap
}

// RestoreBookSide rebuilds a book.BookSide from a snapshot by reinserting
// every leaf. Order of reinsertion does not matter: tree.Insert positions
// purely by key.
func RestoreBookSide(snap BookSideSnapshot) (*book.BookSide, error) {
	bs := book.New(snap.Side)
	for _, ls := range snap.Leaves {
		if _, _, err := bs.Insert(ls.TreeType, ls.Leaf); err != nil {
			return nil, err
		}
	}
	return bs, nil
}

// EventHeapSnapshot is the front-to-back event list, replayed in order on
// restore so FIFO semantics (and consume_events ordering) survive a
// restart intact.
type EventHeapSnapshot struct {
	Events []events.Event
}

// SnapshotEventHeap captures every used slot in front-to-back order.
func SnapshotEventHeap(h *events.Heap) EventHeapSnapshot {
	slots := h.UsedSlots()
	snap := EventHeapSnapshot{Events: make([]events.Event, 0, len(slots))}
	for _, slot := range slots {
		ev, err := h.AtSlot(slot)
		if err != nil {
			continue
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap
}

// RestoreEventHeap rebuilds an events.Heap by pushing snap's events back
// in their original front-to-back order.
func RestoreEventHeap(snap EventHeapSnapshot) (*events.Heap, error) {
	h := events.New()
	for _, ev := range snap.Events {
		if _, _, err := h.PushBack(ev); err != nil {
			return nil, err
		}
	}
	return h, nil
}
