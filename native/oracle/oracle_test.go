package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

type fixedFeed struct {
	quote Quote
	err   error
}

func (f fixedFeed) AssetQuote(common.Address) (Quote, error) {
	if f.err != nil {
		return Quote{}, f.err
	}
	return f.quote.Clone(), nil
}

func TestStaticSourceRoundTrip(t *testing.T) {
	asset := testAddr(0x01)
	src := NewStatic(big.NewInt(100_000_000))
	src.SetPrice(asset, big.NewInt(100_000_000))

	price, err := src.AssetPrice(asset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.Int64() != 100_000_000 {
		t.Fatalf("expected pinned price, got %s", price)
	}

	src.SetPrice(asset, nil)
	if _, err := src.AssetPrice(asset); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable after unset, got %v", err)
	}
}

func TestAggregatorPriorityOrder(t *testing.T) {
	asset := testAddr(0x02)
	now := time.Unix(1_700_000_000, 0)
	agg := NewAggregator(big.NewInt(100_000_000), time.Minute)
	agg.SetClock(func() time.Time { return now })

	agg.Register("primary", fixedFeed{err: errors.New("upstream down")})
	agg.Register("fallback", fixedFeed{quote: Quote{Price: big.NewInt(99_000_000), ObservedAt: now}})

	price, err := agg.AssetPrice(asset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.Int64() != 99_000_000 {
		t.Fatalf("expected fallback quote, got %s", price)
	}
}

func TestAggregatorRejectsStaleQuotes(t *testing.T) {
	asset := testAddr(0x03)
	now := time.Unix(1_700_000_000, 0)
	agg := NewAggregator(big.NewInt(100_000_000), time.Minute)
	agg.SetClock(func() time.Time { return now })

	agg.Register("only", fixedFeed{quote: Quote{
		Price:      big.NewInt(100_000_000),
		ObservedAt: now.Add(-2 * time.Minute),
	}})

	if _, err := agg.AssetPrice(asset); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected stale quote to fail closed, got %v", err)
	}
}

func TestAggregatorRejectsNonPositivePrices(t *testing.T) {
	asset := testAddr(0x04)
	now := time.Unix(1_700_000_000, 0)
	agg := NewAggregator(big.NewInt(100_000_000), time.Minute)
	agg.SetClock(func() time.Time { return now })

	agg.Register("zero", fixedFeed{quote: Quote{Price: big.NewInt(0), ObservedAt: now}})

	if _, err := agg.AssetPrice(asset); !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected zero price to fail closed, got %v", err)
	}
}
