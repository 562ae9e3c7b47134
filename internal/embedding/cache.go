// Package embedding memoizes text-to-vector lookups in front of an external
// embedding provider.
//
// The cache key derivation deliberately reproduces the behavior quill
// shipped with (see KeyFor); replacing it with a content hash would change
// which texts share an entry and is tracked as an open compatibility
// question.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/quillhq/quill/internal/log"
)

// ErrProvider indicates the embedding provider failed, timed out, or
// returned malformed data. Callers check it with errors.Is.
var ErrProvider = errors.New("embedding provider error")

// Provider generates an embedding vector for a text. Implementations make
// network calls and must honor ctx cancellation.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// shortKeyMax is the text length up to which the text itself is the key.
const shortKeyMax = 100

// keyAffix is how many leading/trailing characters long-text keys keep.
const keyAffix = 50

// KeyFor derives the cache key for a text.
//
// Texts of length <= 100 are keyed by their exact value. Longer texts are
// keyed by firstFifty + decimalLength + lastFifty. Two different long texts
// sharing the same first 50 bytes, byte count and last 50 bytes therefore
// collapse to one entry and the second silently receives the first's
// vector. This is a known correctness gap preserved from the reference
// behavior, not a feature.
func KeyFor(text string) string {
	if len(text) <= shortKeyMax {
		return text
	}
	return text[:keyAffix] + strconv.Itoa(len(text)) + text[len(text)-keyAffix:]
}

// Cache memoizes Provider.Embed results keyed by KeyFor.
//
// Cache is safe for concurrent use. The internal lock is never held across
// a provider call, so concurrent misses on the same key may each call the
// provider; last write wins, which is harmless because the provider is
// deterministic per text within a process lifetime.
type Cache struct {
	provider Provider
	logger   log.Logger

	mu      sync.RWMutex
	entries map[string][]float32
	order   []string // insertion order, for FIFO eviction

	// maxEntries bounds the cache; 0 means unbounded (reference behavior).
	maxEntries int
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the cache to n entries with FIFO eviction.
// n <= 0 leaves the cache unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// NewCache creates a Cache in front of provider. A nil logger falls back to
// the default slog logger.
func NewCache(provider Provider, logger log.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = log.New(log.Config{})
	}

	c := &Cache{
		provider: provider,
		logger:   logger,
		entries:  make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns the embedding for text, consulting the cache first.
// A miss calls the provider exactly once and stores the result. Provider
// failures and empty vectors are reported as ErrProvider.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := KeyFor(text)

	c.mu.RLock()
	vec, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: provider returned empty vector", ErrProvider)
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists {
		c.entries[key] = vec
		c.order = append(c.order, key)
		c.evictLocked()
	} else {
		// A concurrent miss beat us to the store; keep the first vector so
		// repeated lookups stay identical.
		vec = c.entries[key]
	}
	c.mu.Unlock()

	return vec, nil
}

// evictLocked drops the oldest entries until the bound holds.
// Caller must hold c.mu.
func (c *Cache) evictLocked() {
	if c.maxEntries <= 0 {
		return
	}
	for len(c.entries) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		c.logger.Debug("evicted embedding cache entry", "key_len", len(oldest))
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
