package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// MaxPrecision bounds the decimal precision a feed may report. 10^76 still
// fits a 256-bit intermediate, anything above it cannot be normalized safely.
const MaxPrecision = 76

// ErrOracleFault indicates the underlying feed could not be read or returned
// a value the engine must not use (nil, zero, or negative price).
var ErrOracleFault = errors.New("oracle: price feed fault")

// PriceQuote captures a single price observation together with the fixed
// decimal precision of the reported integer and the feed's timestamp.
type PriceQuote struct {
	Price     *big.Int
	Precision uint8
	AsOf      time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Precision: q.Precision, AsOf: q.AsOf}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// FeedSource resolves the latest observation for a feed reference. Sources
// may be backed by HTTP endpoints, on-disk fixtures, or operator overrides.
type FeedSource interface {
	Latest(feedRef string) (PriceQuote, error)
}

// Adapter validates feed readings before the valuation engine consumes them.
// Every call performs a fresh read; no staleness window is enforced.
type Adapter struct {
	source FeedSource
}

// NewAdapter wraps the provided source.
func NewAdapter(source FeedSource) *Adapter {
	return &Adapter{source: source}
}

// Latest reads the feed and rejects unusable readings. A negative oracle
// price is a collaborator fault and is surfaced as such, never cast away.
func (a *Adapter) Latest(feedRef string) (PriceQuote, error) {
	if a == nil || a.source == nil {
		return PriceQuote{}, fmt.Errorf("%w: no feed source configured", ErrOracleFault)
	}
	ref := strings.TrimSpace(feedRef)
	if ref == "" {
		return PriceQuote{}, fmt.Errorf("%w: empty feed reference", ErrOracleFault)
	}
	quote, err := a.source.Latest(ref)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("%w: %s: %v", ErrOracleFault, ref, err)
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("%w: %s reported non-positive price", ErrOracleFault, ref)
	}
	if quote.Precision > MaxPrecision {
		return PriceQuote{}, fmt.Errorf("%w: %s reported precision %d beyond limit", ErrOracleFault, ref, quote.Precision)
	}
	return quote.Clone(), nil
}
