package markets

import (
	"errors"
	"testing"

	"github.com/driftlab/marketfeed/internal/domain"
)

func TestStaticRoundTrip(t *testing.T) {
	info := NewStatic(map[string]string{
		"BTC/USD": "XBTUSD",
		"ETH/USD": "ETHUSD",
	})

	sym, err := info.ExchangeSymbol("BTC/USD")
	if err != nil || sym != "XBTUSD" {
		t.Fatalf("ExchangeSymbol = %q, %v", sym, err)
	}
	pair, err := info.Pair("XBTUSD")
	if err != nil || pair != "BTC/USD" {
		t.Fatalf("Pair = %q, %v", pair, err)
	}
}

func TestStaticUnknownSymbol(t *testing.T) {
	info := NewStatic(map[string]string{"BTC/USD": "XBTUSD"})

	if _, err := info.ExchangeSymbol("DOGE/USD"); !errors.Is(err, domain.ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
	if _, err := info.Pair("DOGEUSD"); !errors.Is(err, domain.ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}
