package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrPriceUnavailable indicates that no trusted price exists for the asset.
// Consumers must treat this as terminal for the calling operation; the oracle
// never substitutes zero or stale data.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// PriceSource resolves asset prices in a fixed base-currency unit. The unit is
// read once at construction by every consumer so conversions stay consistent
// for the component's lifetime.
type PriceSource interface {
	AssetPrice(asset common.Address) (*big.Int, error)
	BaseCurrencyUnit() *big.Int
}

// Quote couples a price with the time the upstream feed observed it.
type Quote struct {
	Price      *big.Int
	ObservedAt time.Time
}

// Clone returns a defensive copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{ObservedAt: q.ObservedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed is an individual upstream price provider consulted by the aggregator.
type Feed interface {
	AssetQuote(asset common.Address) (Quote, error)
}

// Aggregator consults registered feeds in priority order until a fresh,
// positive quote is obtained. Quotes older than the freshness window are
// rejected, so a dead upstream fails closed instead of serving stale prices.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Feed
	maxAge   time.Duration
	baseUnit *big.Int
	now      func() time.Time
}

// NewAggregator constructs an aggregator reporting prices scaled to baseUnit.
func NewAggregator(baseUnit *big.Int, maxAge time.Duration) *Aggregator {
	unit := big.NewInt(0)
	if baseUnit != nil {
		unit = new(big.Int).Set(baseUnit)
	}
	return &Aggregator{
		feeds:    make(map[string]Feed),
		maxAge:   maxAge,
		baseUnit: unit,
		now:      time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (a *Aggregator) SetClock(clock func() time.Time) {
	if a == nil || clock == nil {
		return
	}
	a.mu.Lock()
	a.now = clock
	a.mu.Unlock()
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier. Identifiers
// are lowercased so lookups are insensitive to configuration casing.
func (a *Aggregator) Register(name string, feed Feed) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// BaseCurrencyUnit returns the fixed scaling constant for reported prices.
func (a *Aggregator) BaseCurrencyUnit() *big.Int {
	if a == nil || a.baseUnit == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.baseUnit)
}

// AssetPrice walks the feed priority list and returns the first fresh,
// positive quote. When every feed fails the error wraps ErrPriceUnavailable.
func (a *Aggregator) AssetPrice(asset common.Address) (*big.Int, error) {
	if a == nil {
		return nil, ErrPriceUnavailable
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	now := a.now()
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[name]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		quote, err := feed.AssetQuote(asset)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle: feed %s returned invalid price", name)
			continue
		}
		if !cutoff.IsZero() && quote.ObservedAt.Before(cutoff) {
			lastErr = fmt.Errorf("oracle: feed %s quote stale", name)
			continue
		}
		return new(big.Int).Set(quote.Price), nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, lastErr)
	}
	return nil, fmt.Errorf("%w: asset %s", ErrPriceUnavailable, asset.Hex())
}

// StaticFeed serves operator-pinned prices. It backs the debt receipt token's
// hard peg entry and deterministic tests.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[common.Address]*big.Int
	now    func() time.Time
}

// NewStaticFeed constructs an empty fixed-price feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[common.Address]*big.Int), now: time.Now}
}

// SetPrice pins the price for an asset. A nil or non-positive price removes
// the entry, making the asset unavailable.
func (f *StaticFeed) SetPrice(asset common.Address, price *big.Int) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if price == nil || price.Sign() <= 0 {
		delete(f.prices, asset)
		return
	}
	f.prices[asset] = new(big.Int).Set(price)
}

// AssetQuote returns the pinned price stamped with the current time, so a
// static entry is always considered fresh.
func (f *StaticFeed) AssetQuote(asset common.Address) (Quote, error) {
	if f == nil {
		return Quote{}, ErrPriceUnavailable
	}
	f.mu.RLock()
	price, ok := f.prices[asset]
	now := f.now()
	f.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: asset %s", ErrPriceUnavailable, asset.Hex())
	}
	return Quote{Price: new(big.Int).Set(price), ObservedAt: now}, nil
}

// Static wraps a StaticFeed as a standalone PriceSource for wiring and tests
// that do not need multi-feed aggregation.
type Static struct {
	feed     *StaticFeed
	baseUnit *big.Int
}

// NewStatic constructs a fixed-price source reporting in baseUnit.
func NewStatic(baseUnit *big.Int) *Static {
	unit := big.NewInt(0)
	if baseUnit != nil {
		unit = new(big.Int).Set(baseUnit)
	}
	return &Static{feed: NewStaticFeed(), baseUnit: unit}
}

// SetPrice pins the price for an asset.
func (s *Static) SetPrice(asset common.Address, price *big.Int) {
	if s == nil {
		return
	}
	s.feed.SetPrice(asset, price)
}

// AssetPrice returns the pinned price or ErrPriceUnavailable.
func (s *Static) AssetPrice(asset common.Address) (*big.Int, error) {
	if s == nil {
		return nil, ErrPriceUnavailable
	}
	quote, err := s.feed.AssetQuote(asset)
	if err != nil {
		return nil, err
	}
	return quote.Price, nil
}

// BaseCurrencyUnit returns the fixed scaling constant for reported prices.
func (s *Static) BaseCurrencyUnit() *big.Int {
	if s == nil || s.baseUnit == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(s.baseUnit)
}
