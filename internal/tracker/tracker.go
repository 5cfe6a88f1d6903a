package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// DefaultInterval is the time between two polls of one invoice
const DefaultInterval = 2 * time.Second

// Getter fetches the current remote version of an invoice
type Getter interface {
	GetInvoice(ctx context.Context, id int64) (*invoice.Invoice, error)
}

// Upserter receives every version the tracker observes
type Upserter interface {
	Upsert(inv invoice.Invoice) bool
}

// Tracker follows invoices through processing until they reach a terminal
// status. Uploading only hands the file over; this is what observes the
// outcome.
type Tracker struct {
	getter   Getter
	store    Upserter
	interval time.Duration
}

// New creates a Tracker polling at DefaultInterval
func New(getter Getter, store Upserter) *Tracker {
	return NewWithInterval(getter, store, DefaultInterval)
}

// NewWithInterval creates a Tracker with a custom poll interval
func NewWithInterval(getter Getter, store Upserter, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{getter: getter, store: store, interval: interval}
}

// Watch polls invoice id until it is completed or errored, or ctx ends.
// Auth and not-found errors stop the watch; transient errors are logged and
// polling continues.
func (t *Tracker) Watch(ctx context.Context, id int64) (*invoice.Invoice, error) {
	var latest *invoice.Invoice
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return latest, fmt.Errorf("watching invoice %d: %w", id, ctx.Err())
		case <-timer.C:
		}

		inv, err := t.getter.GetInvoice(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, invoice.ErrAuth), errors.Is(err, invoice.ErrNotFound):
			return latest, fmt.Errorf("watching invoice %d: %w", id, err)
		case ctx.Err() != nil:
			return latest, fmt.Errorf("watching invoice %d: %w", id, ctx.Err())
		default:
			slog.Warn("Polling invoice failed", "id", id, "error", err)
			timer.Reset(t.interval)
			continue
		}

		if latest == nil || latest.Status.Supersedes(inv.Status) {
			if latest == nil || latest.Status != inv.Status {
				slog.Info("Invoice status", "id", id, "status", inv.Status)
			}
			latest = inv
			t.store.Upsert(*inv)
		} else {
			slog.Debug("Ignoring backward status", "id", id, "held", latest.Status, "observed", inv.Status)
		}

		if latest.Status.Terminal() {
			return latest, nil
		}
		timer.Reset(t.interval)
	}
}

// WatchAll watches several invoices in parallel. Results follow the order of
// ids; the first fatal error cancels the other watches.
func (t *Tracker) WatchAll(ctx context.Context, ids []int64) ([]*invoice.Invoice, error) {
	results := make([]*invoice.Invoice, len(ids))
	g, gctx := errgroup.WithContext(ctx)

	for i, id := range ids {
		g.Go(func() error {
			inv, err := t.Watch(gctx, id)
			results[i] = inv
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
