// Package storage persists one market's matching-engine state (Market
// parameters, both book sides, the event heap, and every open-orders
// account) to Pebble, plus an append-only side log of individual fills.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/lattice-markets/clobcore/pkg/clob/book"
	"github.com/lattice-markets/clobcore/pkg/clob/events"
	"github.com/lattice-markets/clobcore/pkg/clob/market"
	"github.com/lattice-markets/clobcore/pkg/clob/position"
)

// Store wraps a Pebble instance with the CLOB's key schema and snapshot
// codecs; the matching engine itself never touches Pebble directly.
type Store struct {
	db  *pebble.DB
	log FillLog
}

// Open opens (creating if absent) a Pebble database at path. fillLog may
// be nil, in which case fills are not recorded anywhere but the Pebble
// open-orders snapshots.
func Open(path string, fillLog FillLog) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if fillLog == nil {
		fillLog = NewNopFillLog()
	}
	return &Store{db: db, log: fillLog}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMarket persists m's current parameters and counters.
func (s *Store) SaveMarket(m *market.Market) error {
	data, err := encodeJSON(m)
	if err != nil {
		return fmt.Errorf("storage: encode market: %w", err)
	}
	if err := s.db.Set(marketKey(m.Name), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save market: %w", err)
	}
	return nil
}

// LoadMarket returns the persisted Market for name, or nil if absent.
func (s *Store) LoadMarket(name string) (*market.Market, error) {
	data, closer, err := s.db.Get(marketKey(name))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load market: %w", err)
	}
	defer closer.Close()

	var m market.Market
	if err := decodeJSON(data, &m); err != nil {
		return nil, fmt.Errorf("storage: decode market: %w", err)
	}
	return &m, nil
}

// SaveBookSide persists a snapshot of one side of marketName's book.
func (s *Store) SaveBookSide(marketName string, bs *book.BookSide) error {
	snap := SnapshotBookSide(bs)
	data, err := encodeJSON(snap)
	if err != nil {
		return fmt.Errorf("storage: encode book side: %w", err)
	}
	if err := s.db.Set(bookSideKey(marketName, bs.Side.String()), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save book side: %w", err)
	}
	return nil
}

// LoadBookSide rebuilds side (book.Bids or book.Asks) of marketName's book
// from its last snapshot. Returns an empty BookSide if none was saved.
func (s *Store) LoadBookSide(marketName string, side book.Side) (*book.BookSide, error) {
	data, closer, err := s.db.Get(bookSideKey(marketName, side.String()))
	if err == pebble.ErrNotFound {
		return book.New(side), nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load book side: %w", err)
	}
	defer closer.Close()

	var snap BookSideSnapshot
	if err := decodeJSON(data, &snap); err != nil {
		return nil, fmt.Errorf("storage: decode book side: %w", err)
	}
	bs, err := RestoreBookSide(snap)
	if err != nil {
		return nil, fmt.Errorf("storage: restore book side: %w", err)
	}
	return bs, nil
}

// SaveEventHeap persists a snapshot of marketName's pending event queue.
func (s *Store) SaveEventHeap(marketName string, h *events.Heap) error {
	snap := SnapshotEventHeap(h)
	data, err := encodeJSON(snap)
	if err != nil {
		return fmt.Errorf("storage: encode event heap: %w", err)
	}
	if err := s.db.Set(eventHeapKey(marketName), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save event heap: %w", err)
	}
	return nil
}

// LoadEventHeap rebuilds marketName's event heap from its last snapshot,
// preserving FIFO order. Returns an empty heap if none was saved.
func (s *Store) LoadEventHeap(marketName string) (*events.Heap, error) {
	data, closer, err := s.db.Get(eventHeapKey(marketName))
	if err == pebble.ErrNotFound {
		return events.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load event heap: %w", err)
	}
	defer closer.Close()

	var snap EventHeapSnapshot
	if err := decodeJSON(data, &snap); err != nil {
		return nil, fmt.Errorf("storage: decode event heap: %w", err)
	}
	h, err := RestoreEventHeap(snap)
	if err != nil {
		return nil, fmt.Errorf("storage: restore event heap: %w", err)
	}
	return h, nil
}

// SaveAccount persists owner's open-orders account for marketName.
func (s *Store) SaveAccount(marketName string, acc *position.Account) error {
	data, err := encodeJSON(acc)
	if err != nil {
		return fmt.Errorf("storage: encode account: %w", err)
	}
	if err := s.db.Set(openOrdersKey(marketName, acc.Owner), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: save account: %w", err)
	}
	return nil
}

// LoadAccount returns owner's persisted account for marketName, or nil if
// none exists yet.
func (s *Store) LoadAccount(marketName, owner string) (*position.Account, error) {
	data, closer, err := s.db.Get(openOrdersKey(marketName, owner))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load account: %w", err)
	}
	defer closer.Close()

	var acc position.Account
	if err := decodeJSON(data, &acc); err != nil {
		return nil, fmt.Errorf("storage: decode account: %w", err)
	}
	return &acc, nil
}

// LoadAllAccounts returns every persisted account for marketName, keyed by
// owner. Used at startup to rehydrate the in-memory account map.
func (s *Store) LoadAllAccounts(marketName string) (map[string]*position.Account, error) {
	prefix := openOrdersPrefix(marketName)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: iterate accounts: %w", err)
	}
	defer iter.Close()

	out := make(map[string]*position.Account)
	for iter.First(); iter.Valid(); iter.Next() {
		var acc position.Account
		if err := decodeJSON(iter.Value(), &acc); err != nil {
			continue
		}
		out[acc.Owner] = &acc
	}
	return out, nil
}

// DeleteAccount removes owner's persisted account for marketName, used
// once an account has withdrawn everything and has no open orders left.
func (s *Store) DeleteAccount(marketName, owner string) error {
	if err := s.db.Delete(openOrdersKey(marketName, owner), pebble.Sync); err != nil {
		return fmt.Errorf("storage: delete account: %w", err)
	}
	return nil
}

// AppendFill writes f to the side fill log for human/analytics
// consumption; it is not read back by the engine.
func (s *Store) AppendFill(f events.Fill) error {
	data, err := encodeJSON(f)
	if err != nil {
		return fmt.Errorf("storage: encode fill: %w", err)
	}
	s.log.Append(string(data))
	return nil
}
