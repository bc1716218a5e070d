// Package markets translates canonical pair symbols (e.g. "BTC/USD") to
// venue-specific identifiers and back. Adapters resolve every configured
// pair at construction time so unknown symbols fail fast.
package markets

import (
	"fmt"

	"github.com/driftlab/marketfeed/internal/domain"
)

// Info resolves symbols for one venue.
type Info interface {
	// ExchangeSymbol maps a canonical pair to the venue identifier.
	ExchangeSymbol(pair string) (string, error)
	// Pair maps a venue identifier back to the canonical pair.
	Pair(exchangeSymbol string) (string, error)
}

// Static is an Info backed by a fixed canonical→venue table, inverted at
// construction.
type Static struct {
	toExchange map[string]string
	toPair     map[string]string
}

// NewStatic builds a Static provider from a canonical→venue symbol table.
func NewStatic(table map[string]string) *Static {
	s := &Static{
		toExchange: make(map[string]string, len(table)),
		toPair:     make(map[string]string, len(table)),
	}
	for pair, sym := range table {
		s.toExchange[pair] = sym
		s.toPair[sym] = pair
	}
	return s
}

func (s *Static) ExchangeSymbol(pair string) (string, error) {
	sym, ok := s.toExchange[pair]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, pair)
	}
	return sym, nil
}

func (s *Static) Pair(exchangeSymbol string) (string, error) {
	pair, ok := s.toPair[exchangeSymbol]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, exchangeSymbol)
	}
	return pair, nil
}
