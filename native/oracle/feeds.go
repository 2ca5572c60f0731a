package oracle

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StaticFeed serves operator-set observations from memory. It backs tests and
// deployments where prices are posted through an administrative channel.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	nowFn  func() time.Time
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{
		quotes: make(map[string]PriceQuote),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// Set records the observation served for the feed reference.
func (f *StaticFeed) Set(feedRef string, price *big.Int, precision uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quote := PriceQuote{Precision: precision, AsOf: f.nowFn()}
	if price != nil {
		quote.Price = new(big.Int).Set(price)
	}
	f.quotes[strings.TrimSpace(feedRef)] = quote
}

// Latest implements FeedSource.
func (f *StaticFeed) Latest(feedRef string) (PriceQuote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[strings.TrimSpace(feedRef)]
	if !ok {
		return PriceQuote{}, fmt.Errorf("no observation for feed %q", feedRef)
	}
	return quote.Clone(), nil
}

// Mux routes each feed reference to the source configured for it, letting a
// deployment mix static and HTTP-served feeds behind one adapter.
type Mux struct {
	mu      sync.RWMutex
	sources map[string]FeedSource
}

func NewMux() *Mux {
	return &Mux{sources: make(map[string]FeedSource)}
}

// Route assigns the source that serves a feed reference.
func (m *Mux) Route(feedRef string, source FeedSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[strings.TrimSpace(feedRef)] = source
}

// Latest implements FeedSource.
func (m *Mux) Latest(feedRef string) (PriceQuote, error) {
	m.mu.RLock()
	source := m.sources[strings.TrimSpace(feedRef)]
	m.mu.RUnlock()
	if source == nil {
		return PriceQuote{}, fmt.Errorf("no source routed for feed %q", feedRef)
	}
	return source.Latest(feedRef)
}

// HTTPFeed reads observations from JSON endpoints keyed by feed reference.
// The payload shape mirrors the attestation services the daemon consumes:
//
//	{"price": "160784000000", "precision": 8, "timestamp": 1700000000}
type HTTPFeed struct {
	mu        sync.RWMutex
	endpoints map[string]string
	client    *http.Client
}

type httpQuotePayload struct {
	Price     string `json:"price"`
	Precision uint8  `json:"precision"`
	Timestamp int64  `json:"timestamp"`
}

func NewHTTPFeed(timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPFeed{
		endpoints: make(map[string]string),
		client:    &http.Client{Timeout: timeout},
	}
}

// Register maps a feed reference to its endpoint URL.
func (f *HTTPFeed) Register(feedRef, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints[strings.TrimSpace(feedRef)] = strings.TrimSpace(url)
}

// Latest implements FeedSource with a fresh read per call.
func (f *HTTPFeed) Latest(feedRef string) (PriceQuote, error) {
	f.mu.RLock()
	url := f.endpoints[strings.TrimSpace(feedRef)]
	f.mu.RUnlock()
	if url == "" {
		return PriceQuote{}, fmt.Errorf("no endpoint registered for feed %q", feedRef)
	}

	resp, err := f.client.Get(url)
	if err != nil {
		return PriceQuote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PriceQuote{}, fmt.Errorf("feed endpoint returned status %d", resp.StatusCode)
	}

	var payload httpQuotePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("decode feed payload: %w", err)
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok {
		return PriceQuote{}, fmt.Errorf("feed payload price %q is not an integer", payload.Price)
	}
	return PriceQuote{
		Price:     price,
		Precision: payload.Precision,
		AsOf:      time.Unix(payload.Timestamp, 0).UTC(),
	}, nil
}
