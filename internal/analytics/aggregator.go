package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Source says where a Result came from
type Source int

const (
	SourceRemote Source = iota
	SourceLocal
	SourceCached
)

func (s Source) String() string {
	switch s {
	case SourceRemote:
		return "remote"
	case SourceLocal:
		return "local"
	case SourceCached:
		return "cached"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// Fetcher returns server-computed analytics
type Fetcher interface {
	GetAnalytics(ctx context.Context) (*invoice.Analytics, error)
}

// Collection exposes the held invoices without allowing mutation
type Collection interface {
	Invoices() []invoice.Invoice
}

// Result is one analytics snapshot and its origin
type Result struct {
	Analytics invoice.Analytics
	Source    Source
}

// Aggregator prefers the remote analytics endpoint and falls back to deriving
// analytics from the held collection when the endpoint does not exist.
type Aggregator struct {
	fetcher    Fetcher
	collection Collection

	mu   sync.Mutex
	last *invoice.Analytics
}

// New creates an Aggregator. A nil fetcher always derives locally.
func New(fetcher Fetcher, collection Collection) *Aggregator {
	return &Aggregator{fetcher: fetcher, collection: collection}
}

// Seed sets the last-known-good analytics, typically from a persisted cache
func (a *Aggregator) Seed(last invoice.Analytics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = &last
}

// Last returns the last-known-good analytics, if any
func (a *Aggregator) Last() (invoice.Analytics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return invoice.Analytics{}, false
	}
	return *a.last, true
}

// Get returns fresh analytics.
//
// A failed remote request yields the last-known-good snapshot alongside the
// error so callers can keep showing it. Auth failures return no data.
func (a *Aggregator) Get(ctx context.Context) (Result, error) {
	if a.fetcher == nil {
		return a.Local(), nil
	}

	remote, err := a.fetcher.GetAnalytics(ctx)
	switch {
	case err == nil:
		a.Seed(*remote)
		return Result{Analytics: *remote, Source: SourceRemote}, nil
	case errors.Is(err, invoice.ErrNotFound):
		slog.Debug("Analytics endpoint unavailable, deriving locally", "error", err)
		return a.Local(), nil
	case errors.Is(err, invoice.ErrAuth):
		return Result{}, err
	}

	slog.Warn("Fetching analytics failed", "error", err)
	if last, ok := a.Last(); ok {
		return Result{Analytics: last, Source: SourceCached}, err
	}
	return Result{}, err
}

// Local derives analytics from the held collection
func (a *Aggregator) Local() Result {
	return Result{Analytics: invoice.Derive(a.collection.Invoices()), Source: SourceLocal}
}
