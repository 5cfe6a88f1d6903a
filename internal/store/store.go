package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zombor/invoice-tracker/internal/client"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Lister fetches the remote invoice collection
type Lister interface {
	ListInvoices(ctx context.Context, opts client.ListOptions) ([]invoice.Invoice, error)
}

// Store is the single source of truth for a session's invoices. One instance
// is shared by every consumer; only its own methods mutate the collection.
//
// Refreshes are fenced: each call takes a sequence number when it starts and
// its result is applied only if no later-started refresh has been applied
// already, so a slow stale response never overwrites fresher data.
type Store struct {
	lister Lister

	issued atomic.Int64

	mu       sync.RWMutex
	invoices []invoice.Invoice // newest first
	applied  int64
	inflight int
	err      error
	errSeq   int64
	// local maps ids recorded by RecordUpload to the last issued refresh
	// sequence at the time they were recorded.
	local map[int64]int64
}

// New creates an empty Store backed by lister
func New(lister Lister) *Store {
	return &Store{
		lister: lister,
		local:  make(map[int64]int64),
	}
}

// Seed fills an empty store with a previously persisted collection.
// It does nothing once a refresh has been applied or records exist.
func (s *Store) Seed(invoices []invoice.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied > 0 || len(s.invoices) > 0 {
		return
	}
	s.invoices = dedupe(invoices)
}

// Refresh fetches the collection and replaces the held one. A limit of zero
// asks for everything the server returns by default.
//
// On failure the held collection is kept and the error is recorded.
func (s *Store) Refresh(ctx context.Context, limit int) error {
	seq := s.issued.Add(1)

	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()

	invoices, err := s.lister.ListInvoices(ctx, client.ListOptions{Limit: limit})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--

	if err != nil {
		if seq > s.applied && seq > s.errSeq {
			s.err = err
			s.errSeq = seq
		}
		return fmt.Errorf("refreshing invoices: %w", err)
	}

	if seq <= s.applied {
		slog.Debug("Discarding stale refresh", "sequence", seq, "applied", s.applied)
		return nil
	}

	s.invoices = s.replace(invoices, seq, limit)
	s.applied = seq
	if s.errSeq < seq {
		s.err = nil
	}
	return nil
}

// replace builds the new collection from a refresh response. Locally recorded
// invoices missing from the response are kept in front when the response is
// page-limited or the refresh started before they were recorded.
func (s *Store) replace(remote []invoice.Invoice, seq int64, limit int) []invoice.Invoice {
	held := make(map[int64]invoice.Invoice, len(s.invoices))
	for _, inv := range s.invoices {
		held[inv.ID] = inv
	}

	seen := make(map[int64]bool, len(remote))
	out := make([]invoice.Invoice, 0, len(remote))
	for _, inv := range remote {
		if seen[inv.ID] {
			continue
		}
		seen[inv.ID] = true
		if prev, ok := held[inv.ID]; ok && !prev.Status.Supersedes(inv.Status) {
			// Never walk a record's status backward.
			inv = prev
		}
		out = append(out, inv)
		if gen, ok := s.local[inv.ID]; ok && seq > gen {
			delete(s.local, inv.ID)
		}
	}

	var kept []invoice.Invoice
	for _, inv := range s.invoices {
		gen, ok := s.local[inv.ID]
		if !ok || seen[inv.ID] {
			continue
		}
		if limit > 0 || seq <= gen {
			kept = append(kept, inv)
			continue
		}
		delete(s.local, inv.ID)
	}

	return append(kept, out...)
}

// RecordUpload puts a newly uploaded invoice at the front of the collection,
// or replaces the entry with the same id. It does not refresh.
func (s *Store) RecordUpload(inv invoice.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[inv.ID] = s.issued.Load()
	s.upsertLocked(inv)
}

// Upsert records a newer version of an invoice. Versions whose status would
// move backward are ignored; it reports whether the collection changed.
func (s *Store) Upsert(inv invoice.Invoice) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(inv)
}

func (s *Store) upsertLocked(inv invoice.Invoice) bool {
	for i := range s.invoices {
		if s.invoices[i].ID != inv.ID {
			continue
		}
		if !s.invoices[i].Status.Supersedes(inv.Status) {
			slog.Debug("Ignoring stale invoice version", "id", inv.ID, "held", s.invoices[i].Status, "incoming", inv.Status)
			return false
		}
		s.invoices[i] = inv
		return true
	}
	s.invoices = append([]invoice.Invoice{inv}, s.invoices...)
	return true
}

// Invoices returns a copy of the held collection, newest first
func (s *Store) Invoices() []invoice.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]invoice.Invoice, len(s.invoices))
	copy(out, s.invoices)
	return out
}

// Get returns the held invoice with id
func (s *Store) Get(id int64) (invoice.Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.ID == id {
			return inv, true
		}
	}
	return invoice.Invoice{}, false
}

// Loading reports whether a refresh is in flight
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inflight > 0
}

// Err returns the error of the latest failed refresh, cleared by a later success
func (s *Store) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func dedupe(invoices []invoice.Invoice) []invoice.Invoice {
	seen := make(map[int64]bool, len(invoices))
	out := make([]invoice.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if seen[inv.ID] {
			continue
		}
		seen[inv.ID] = true
		out = append(out, inv)
	}
	return out
}
