// Package oracle defines the external price-feed collaborator the
// matching core reads but never parses or validates itself: the core
// wants only "a price in quote lots per base lot, or absence" (spec §1,
// §3 oracle_config). Parsing the feed, checking staleness, and checking
// confidence all live outside this package.
package oracle

// Feed returns the current price for one market's oracle_config, or
// false if no valid price is currently available (stale, absent, or
// disabled).
type Feed interface {
	Price(marketOracleAddress string) (priceLots int64, ok bool)
}

// Stub is an in-memory Feed for tests and local development: it holds
// one fixed price per address until told otherwise.
type Stub struct {
	prices map[string]int64
	valid  map[string]bool
}

// NewStub returns a Stub with no prices set (every address reads as
// unavailable until Set is called).
func NewStub() *Stub {
	return &Stub{prices: make(map[string]int64), valid: make(map[string]bool)}
}

// Set publishes priceLots for address, marking it valid.
func (s *Stub) Set(address string, priceLots int64) {
	s.prices[address] = priceLots
	s.valid[address] = true
}

// Invalidate marks address as having no valid price, as if the feed went
// stale or the admin closed it (stub_oracle_close, spec §5).
func (s *Stub) Invalidate(address string) {
	s.valid[address] = false
}

// Price implements Feed.
func (s *Stub) Price(address string) (int64, bool) {
	if !s.valid[address] {
		return 0, false
	}
	return s.prices[address], true
}
