package storage

import "fmt"

// Key schema for Pebble storage. Everything this package persists is
// scoped under a market name, so every key is prefixed with it to let one
// Pebble instance back several markets without collision:
//
//   mkt:<market>                        -> Market
//   book:<market>:<bids|asks>           -> BookSideSnapshot
//   heap:<market>                       -> EventHeapSnapshot
//   oo:<market>:<owner>                 -> position.Account

const (
	prefixMarket = "mkt:"
	prefixBook   = "book:"
	prefixHeap   = "heap:"
	prefixOO     = "oo:"
)

func marketKey(market string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMarket, market))
}

func bookSideKey(market, side string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBook, market, side))
}

func eventHeapKey(market string) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixHeap, market))
}

func openOrdersKey(market, owner string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOO, market, owner))
}

func openOrdersPrefix(market string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOO, market))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
