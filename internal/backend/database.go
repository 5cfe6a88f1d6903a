package backend

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

const (
	usersBucket    = "users"
	emailsBucket   = "emails"
	tokensBucket   = "tokens"
	invoicesBucket = "invoices"
)

// ErrEmailTaken is returned when registering an email that already has an account
var ErrEmailTaken = errors.New("email already registered")

// ErrAccountNotFound is returned when a user id no longer has an account
var ErrAccountNotFound = fmt.Errorf("account %w", invoice.ErrNotFound)

// DB defines the interface for database operations
type DB interface {
	// CreateAccount assigns the next user id and saves the account
	CreateAccount(account *Account) error

	// SaveAccount updates an existing account
	SaveAccount(account *Account) error

	// GetAccount retrieves an account by user id
	GetAccount(id int64) (*Account, error)

	// GetAccountByEmail retrieves an account by email, case-insensitively
	GetAccountByEmail(email string) (*Account, error)

	// SaveToken stores an issued token
	SaveToken(token *Token) error

	// GetToken retrieves a token by value
	GetToken(value string) (*Token, error)

	// DeleteToken removes a token
	DeleteToken(value string) error

	// CreateRecord assigns the next invoice id and saves the record
	CreateRecord(record *Record) error

	// SaveRecord updates an existing record
	SaveRecord(record *Record) error

	// GetRecord retrieves a record by invoice id
	GetRecord(id int64) (*Record, error)

	// ListRecords returns the records of one owner, newest first
	ListRecords(ownerID int64) ([]*Record, error)

	// UnfinishedRecords returns every record not yet in a terminal status
	UnfinishedRecords() ([]*Record, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{usersBucket, emailsBucket, tokensBucket, invoicesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func emailKey(email string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(email)))
}

func put(bucket *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling: %w", err)
	}
	return bucket.Put(key, data)
}

// CreateAccount assigns the next user id and saves the account
func (b *BoltDB) CreateAccount(account *Account) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket([]byte(emailsBucket))
		if emails.Get(emailKey(account.Email)) != nil {
			return ErrEmailTaken
		}

		users := tx.Bucket([]byte(usersBucket))
		seq, err := users.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating user id: %w", err)
		}
		account.ID = int64(seq)

		if err := put(users, itob(account.ID), account); err != nil {
			return err
		}
		return emails.Put(emailKey(account.Email), itob(account.ID))
	})
}

// SaveAccount updates an existing account, moving its email index entry if
// the email changed
func (b *BoltDB) SaveAccount(account *Account) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket([]byte(usersBucket))
		emails := tx.Bucket([]byte(emailsBucket))

		data := users.Get(itob(account.ID))
		if data == nil {
			return fmt.Errorf("user %d: %w", account.ID, invoice.ErrNotFound)
		}
		var prev Account
		if err := json.Unmarshal(data, &prev); err != nil {
			return fmt.Errorf("unmarshaling account: %w", err)
		}

		if oldKey, newKey := emailKey(prev.Email), emailKey(account.Email); string(oldKey) != string(newKey) {
			if emails.Get(newKey) != nil {
				return ErrEmailTaken
			}
			if err := emails.Delete(oldKey); err != nil {
				return err
			}
			if err := emails.Put(newKey, itob(account.ID)); err != nil {
				return err
			}
		}
		return put(users, itob(account.ID), account)
	})
}

// GetAccount retrieves an account by user id
func (b *BoltDB) GetAccount(id int64) (*Account, error) {
	var account *Account
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(usersBucket)).Get(itob(id))
		if data == nil {
			return fmt.Errorf("user %d: %w", id, invoice.ErrNotFound)
		}
		return json.Unmarshal(data, &account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccountByEmail retrieves an account by email
func (b *BoltDB) GetAccountByEmail(email string) (*Account, error) {
	var account *Account
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(emailsBucket)).Get(emailKey(email))
		if id == nil {
			return fmt.Errorf("user %s: %w", email, invoice.ErrNotFound)
		}
		data := tx.Bucket([]byte(usersBucket)).Get(id)
		if data == nil {
			return fmt.Errorf("user %s: %w", email, invoice.ErrNotFound)
		}
		return json.Unmarshal(data, &account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SaveToken stores an issued token
func (b *BoltDB) SaveToken(token *Token) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket([]byte(tokensBucket)), []byte(token.Value), token)
	})
}

// GetToken retrieves a token by value
func (b *BoltDB) GetToken(value string) (*Token, error) {
	var token *Token
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(tokensBucket)).Get([]byte(value))
		if data == nil {
			return fmt.Errorf("token: %w", invoice.ErrNotFound)
		}
		return json.Unmarshal(data, &token)
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// DeleteToken removes a token
func (b *BoltDB) DeleteToken(value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tokensBucket)).Delete([]byte(value))
	})
}

// CreateRecord assigns the next invoice id and saves the record
func (b *BoltDB) CreateRecord(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucket))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating invoice id: %w", err)
		}
		record.ID = int64(seq)
		return put(bucket, itob(record.ID), record)
	})
}

// SaveRecord updates an existing record
func (b *BoltDB) SaveRecord(record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoicesBucket))
		if bucket.Get(itob(record.ID)) == nil {
			return fmt.Errorf("invoice %d: %w", record.ID, invoice.ErrNotFound)
		}
		return put(bucket, itob(record.ID), record)
	})
}

// GetRecord retrieves a record by invoice id
func (b *BoltDB) GetRecord(id int64) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(invoicesBucket)).Get(itob(id))
		if data == nil {
			return fmt.Errorf("invoice %d: %w", id, invoice.ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListRecords returns the records of one owner, newest first. Ids grow with
// time, so walking the bucket backward yields that order.
func (b *BoltDB) ListRecords(ownerID int64) ([]*Record, error) {
	return b.scan(func(r *Record) bool { return r.OwnerID == ownerID })
}

// UnfinishedRecords returns every record not yet in a terminal status
func (b *BoltDB) UnfinishedRecords() ([]*Record, error) {
	return b.scan(func(r *Record) bool { return !r.Status.Terminal() })
}

func (b *BoltDB) scan(keep func(*Record) bool) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(invoicesBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			if keep(&record) {
				records = append(records, &record)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
