package scanning

import (
	"context"

	"github.com/shopspring/decimal"
)

// Contact is a vendor or client as read off the document
type Contact struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Email   string `json:"email"`
}

// InvoiceData contains the fields extracted from an invoice document
type InvoiceData struct {
	InvoiceNumber string          `json:"invoice_number"`
	Date          string          `json:"date"`     // YYYY-MM-DD, empty if unknown
	DueDate       string          `json:"due_date"` // YYYY-MM-DD, empty if unknown
	Amount        decimal.Decimal `json:"amount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Vendor        Contact         `json:"vendor"`
	Client        Contact         `json:"client"`
	Category      string          `json:"category"`
}

// Scanner defines the interface for invoice extraction
type Scanner interface {
	// ScanInvoice analyzes an invoice image/PDF and extracts its fields
	ScanInvoice(ctx context.Context, data []byte, contentType string) (*InvoiceData, error)
	// Close closes the scanner and releases resources
	Close() error
}
