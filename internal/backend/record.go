package backend

import (
	"time"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Account is a stored user and its password hash
type Account struct {
	invoice.User
	PasswordHash string `json:"password_hash"`
}

// Token is an issued session credential
type Token struct {
	Value     string    `json:"value"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is no longer valid at now
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Record is a stored invoice and the uploaded file behind it
type Record struct {
	invoice.Invoice
	StoragePath string `json:"storage_path"`
	ContentType string `json:"content_type"`
}
