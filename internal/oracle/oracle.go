// Package oracle provides reference-price sources for the engine.
package oracle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"
)

// Static serves fixed prices. Used by tests and the "static" config mode.
type Static struct {
	mu     sync.RWMutex
	prices map[string]quant.Ticks
}

// NewStatic copies prices into a new Static oracle.
func NewStatic(prices map[string]quant.Ticks) *Static {
	s := &Static{prices: make(map[string]quant.Ticks, len(prices))}
	for ref, p := range prices {
		s.prices[ref] = p
	}
	return s
}

// ParseStatic builds a Static oracle from decimal strings scaled to precision.
func ParseStatic(raw map[string]string, precision int) (*Static, error) {
	prices := make(map[string]quant.Ticks, len(raw))
	for ref, v := range raw {
		p, err := quant.ParseFixed(v, precision)
		if err != nil {
			return nil, fmt.Errorf("static price %s: %w", ref, err)
		}
		prices[ref] = quant.Ticks(p)
	}
	return NewStatic(prices), nil
}

// Set replaces the price for ref.
func (s *Static) Set(ref string, price quant.Ticks) {
	s.mu.Lock()
	s.prices[ref] = price
	s.mu.Unlock()
}

// Remove forgets ref so later lookups fail.
func (s *Static) Remove(ref string) {
	s.mu.Lock()
	delete(s.prices, ref)
	s.mu.Unlock()
}

func (s *Static) Price(_ context.Context, ref string) (quant.Ticks, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[ref]
	if !ok || p <= 0 {
		return 0, fmt.Errorf("%w: no price for %q", domain.ErrOracleUnavailable, ref)
	}
	return p, nil
}

type quote struct {
	price quant.Ticks
	at    time.Time
}

// Cache holds the latest observed price per reference. Readings older than
// maxStale are refused. A zero maxStale disables the staleness bound.
type Cache struct {
	maxStale time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	quotes map[string]quote
}

func NewCache(maxStale time.Duration) *Cache {
	return &Cache{
		maxStale: maxStale,
		now:      time.Now,
		quotes:   make(map[string]quote),
	}
}

// Update records price for ref observed at at. Older observations are ignored.
func (c *Cache) Update(ref string, price quant.Ticks, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if q, ok := c.quotes[ref]; ok && at.Before(q.at) {
		return
	}
	c.quotes[ref] = quote{price: price, at: at}
}

func (c *Cache) Price(_ context.Context, ref string) (quant.Ticks, error) {
	c.mu.RLock()
	q, ok := c.quotes[ref]
	c.mu.RUnlock()

	if !ok || q.price <= 0 {
		return 0, fmt.Errorf("%w: no price for %q", domain.ErrOracleUnavailable, ref)
	}
	if c.maxStale > 0 {
		if age := c.now().Sub(q.at); age > c.maxStale {
			return 0, fmt.Errorf("%w: %q is stale (%s old)", domain.ErrOracleUnavailable, ref, age.Truncate(time.Millisecond))
		}
	}
	return q.price, nil
}

// Snapshot lists cached refs and prices in ref order.
func (c *Cache) Snapshot() []Reading {
	c.mu.RLock()
	out := make([]Reading, 0, len(c.quotes))
	for ref, q := range c.quotes {
		out = append(out, Reading{Ref: ref, Price: q.price, At: q.at})
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Reading is one cached observation.
type Reading struct {
	Ref   string      `json:"ref"`
	Price quant.Ticks `json:"price"`
	At    time.Time   `json:"at"`
}
