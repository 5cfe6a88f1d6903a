package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

const (
	sessionBucket  = "session"
	snapshotBucket = "snapshots"
	tokenKey       = "token"
	invoicesKey    = "invoices"
	analyticsKey   = "analytics"
)

// Cache persists the last-known-good state of a client between runs: the
// session token, the invoice collection and the latest analytics.
type Cache struct {
	db *bbolt.DB
}

// OpenCache opens or creates the cache file at path
func OpenCache(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(sessionBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

// Token returns the persisted session token, or "" if none
func (c *Cache) Token() (string, error) {
	var token string
	err := c.db.View(func(tx *bbolt.Tx) error {
		token = string(tx.Bucket([]byte(sessionBucket)).Get([]byte(tokenKey)))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return token, nil
}

// SaveToken persists token; an empty token removes it
func (c *Cache) SaveToken(token string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if token == "" {
			return bucket.Delete([]byte(tokenKey))
		}
		return bucket.Put([]byte(tokenKey), []byte(token))
	})
}

// SaveInvoices replaces the persisted collection
func (c *Cache) SaveInvoices(invoices []invoice.Invoice) error {
	return c.put(invoicesKey, invoices)
}

// Invoices returns the persisted collection, empty if none was saved
func (c *Cache) Invoices() ([]invoice.Invoice, error) {
	invoices := make([]invoice.Invoice, 0)
	if _, err := c.get(invoicesKey, &invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

// SaveAnalytics replaces the persisted analytics
func (c *Cache) SaveAnalytics(a invoice.Analytics) error {
	return c.put(analyticsKey, a)
}

// Analytics returns the persisted analytics, or nil if none was saved
func (c *Cache) Analytics() (*invoice.Analytics, error) {
	var a invoice.Analytics
	found, err := c.get(analyticsKey, &a)
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

// Clear drops everything, used on logout
func (c *Cache) Clear() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(sessionBucket)).Delete([]byte(tokenKey)); err != nil {
			return err
		}
		bucket := tx.Bucket([]byte(snapshotBucket))
		if err := bucket.Delete([]byte(invoicesKey)); err != nil {
			return err
		}
		return bucket.Delete([]byte(analyticsKey))
	})
}

// Close closes the cache file
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(snapshotBucket)).Put([]byte(key), data)
	})
}

func (c *Cache) get(key string, v any) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(snapshotBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", key, err)
		}
		return nil
	})
	return found, err
}

// Restore seeds s from the collection persisted in c
func (s *Store) Restore(c *Cache) error {
	invoices, err := c.Invoices()
	if err != nil {
		return fmt.Errorf("restoring invoices: %w", err)
	}
	s.Seed(invoices)
	return nil
}

// Persist saves the held collection to c
func (s *Store) Persist(c *Cache) error {
	if err := c.SaveInvoices(s.Invoices()); err != nil {
		return fmt.Errorf("persisting invoices: %w", err)
	}
	return nil
}
