// Package provider implements the per-source lookup adapters. Each adapter
// queries one bibliographic registry, prefers an exact identifier lookup when
// the item carries an ISBN, and falls back to a fuzzy title/author search.
// Results come back as facts; merging them is the reconciliation engine's
// job, never the adapter's.
package provider

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openshelf/bibcat/internal/cache"
	"github.com/openshelf/bibcat/internal/fetcher"
	"github.com/openshelf/bibcat/internal/model"
	"github.com/openshelf/bibcat/internal/resilience"
)

// Adapter is a single-source lookup. Lookup returns zero facts (nil error)
// when the source simply has no match for the item; an error means the
// lookup itself failed.
type Adapter interface {
	Source() model.Source
	Lookup(ctx context.Context, item model.Item) ([]model.Fact, error)
}

// client bundles the plumbing every adapter shares: the rate-limited HTTP
// fetcher, the write-through response cache, the retry policy, and a
// per-source circuit breaker.
type client struct {
	http    *fetcher.Client
	cache   *cache.Cache
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	now     func() time.Time
}

func newClient(http *fetcher.Client, c *cache.Cache, retry resilience.RetryConfig) client {
	return client{
		http:    http,
		cache:   c,
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		now:     time.Now,
	}
}

// fetch resolves one request: cache first, then network with retry inside
// the circuit breaker. Only successful responses are written back to the
// cache, so a failing provider stays retryable on the next run. A non-nil
// validate rejects bodies that came back 200 but carry an in-band error
// (SRU diagnostics), keeping them out of the cache too.
func (c *client) fetch(ctx context.Context, source model.Source, operation, url string, terms []string, validate func([]byte) error) ([]byte, error) {
	fp := cache.Fingerprint(string(source), operation, terms...)
	cfg := c.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(string(source), operation)
	}
	payload, _, err := c.cache.Through(ctx, fp, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]byte, error) {
			return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
				body, err := c.http.Get(ctx, url)
				if err != nil {
					return nil, err
				}
				if validate != nil {
					if err := validate(body); err != nil {
						return nil, err
					}
				}
				return body, nil
			})
		})
	})
	return payload, err
}

// fact builds a Fact stamped with the adapter's source and clock. Empty
// values are dropped by the fact store, so adapters emit unconditionally.
func (c *client) fact(source model.Source, itemID string, field model.FieldName, value string, confidence float64, method model.MatchMethod) model.Fact {
	return model.Fact{
		ItemID:     itemID,
		Field:      field,
		Value:      value,
		Source:     source,
		Confidence: confidence,
		Method:     method,
		ObservedAt: c.now().UTC(),
	}
}

// Registry holds the configured adapters in a stable order.
type Registry struct {
	adapters map[model.Source]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Source]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Source()] = a
	}
	return r
}

// All returns every registered adapter sorted by source name.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source() < out[j].Source() })
	return out
}

// Select returns the adapters for the named sources, or every adapter when
// names is empty. Unknown names are an error so a typo in --adapters fails
// loudly instead of silently skipping a source.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, ok := r.adapters[model.Source(name)]
		if !ok {
			return nil, eris.Errorf("unknown adapter: %s", name)
		}
		out = append(out, a)
	}
	return out, nil
}
