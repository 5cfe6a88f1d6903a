package invoice

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the processing state of an invoice
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transition can happen from s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusError:
		return 2
	}
	return -1
}

// CanAdvance reports whether moving from s to next is a forward transition.
// Terminal states never advance.
func (s Status) CanAdvance(next Status) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}

// Supersedes reports whether a record in status next may replace a record in
// status s: either the same status (fields filled in) or a forward move.
func (s Status) Supersedes(next Status) bool {
	return s == next || s.CanAdvance(next)
}

// Party is a vendor or client named on an invoice
type Party struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Invoice is an uploaded document and the fields extracted from it.
// Extracted fields are filled in progressively as the status advances.
type Invoice struct {
	ID            int64           `json:"id"`
	Filename      string          `json:"filename"`
	Status        Status          `json:"status"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Date          *time.Time      `json:"date,omitempty"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Vendor        Party           `json:"vendor"`
	Client        Party           `json:"client"`
	Category      string          `json:"category,omitempty"`
	NeedsReview   bool            `json:"needs_review,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	OwnerID       int64           `json:"owner_id"`
}

// NewPending returns a freshly uploaded invoice owned by ownerID.
// The id is left for the persistence layer to assign.
func NewPending(filename string, ownerID int64, now time.Time) Invoice {
	return Invoice{
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: now,
		OwnerID:   ownerID,
	}
}

// Advance moves the invoice to next, stamping ProcessedAt when next is terminal
func (inv *Invoice) Advance(next Status, now time.Time) error {
	if !inv.Status.CanAdvance(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, next)
	}
	inv.Status = next
	if next.Terminal() {
		t := now
		inv.ProcessedAt = &t
	}
	return nil
}

// AssignOwner sets the owner once. Reassigning to a different owner fails.
func (inv *Invoice) AssignOwner(ownerID int64) error {
	if inv.OwnerID != 0 && inv.OwnerID != ownerID {
		return fmt.Errorf("%w: invoice %d belongs to %d", ErrOwnerReassigned, inv.ID, inv.OwnerID)
	}
	inv.OwnerID = ownerID
	return nil
}

// Validate checks the lifecycle invariants of a single record
func (inv Invoice) Validate() error {
	if !inv.Status.Valid() {
		return fmt.Errorf("unknown status %q", inv.Status)
	}
	if inv.Status.Terminal() && inv.ProcessedAt == nil {
		return fmt.Errorf("invoice %d is %s without processed_at", inv.ID, inv.Status)
	}
	if !inv.Status.Terminal() && inv.ProcessedAt != nil {
		return fmt.Errorf("invoice %d is %s but has processed_at", inv.ID, inv.Status)
	}
	return nil
}

// CheckTotals reports a mismatch between total and amount+tax at cent precision.
// Only completed invoices carry amounts worth checking.
func (inv Invoice) CheckTotals() error {
	if inv.Status != StatusCompleted {
		return nil
	}
	sum := inv.Amount.Add(inv.Tax).Round(2)
	if !sum.Equal(inv.Total.Round(2)) {
		return fmt.Errorf("%w: %s + %s != %s", ErrTotalMismatch, inv.Amount.StringFixed(2), inv.Tax.StringFixed(2), inv.Total.StringFixed(2))
	}
	return nil
}
