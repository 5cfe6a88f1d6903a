package backend

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

var _ = Describe("BoltDB", func() {
	var (
		dbPath string
		db     *BoltDB
		now    time.Time
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
		now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newAccount := func(email string) *Account {
		return &Account{
			User:         invoice.User{Email: email, FullName: "Test User", CreatedAt: now},
			PasswordHash: "hash",
		}
	}

	Describe("CreateAccount", func() {
		It("should assign increasing ids", func() {
			a, b := newAccount("a@example.com"), newAccount("b@example.com")
			Expect(db.CreateAccount(a)).To(Succeed())
			Expect(db.CreateAccount(b)).To(Succeed())
			Expect(a.ID).To(BeNumerically(">", 0))
			Expect(b.ID).To(BeNumerically(">", a.ID))
		})

		When("the email is already registered", func() {
			BeforeEach(func() {
				Expect(db.CreateAccount(newAccount("a@example.com"))).To(Succeed())
			})

			It("returns ErrEmailTaken regardless of case", func() {
				err := db.CreateAccount(newAccount("A@Example.com"))
				Expect(err).To(MatchError(ErrEmailTaken))
			})
		})
	})

	Describe("GetAccountByEmail", func() {
		BeforeEach(func() {
			Expect(db.CreateAccount(newAccount("a@example.com"))).To(Succeed())
		})

		It("should find the account case-insensitively", func() {
			account, err := db.GetAccountByEmail("A@EXAMPLE.COM")
			Expect(err).NotTo(HaveOccurred())
			Expect(account.Email).To(Equal("a@example.com"))
			Expect(account.PasswordHash).To(Equal("hash"))
		})

		It("returns ErrNotFound for an unknown email", func() {
			_, err := db.GetAccountByEmail("nobody@example.com")
			Expect(err).To(MatchError(invoice.ErrNotFound))
		})
	})

	Describe("SaveAccount", func() {
		var account *Account

		BeforeEach(func() {
			account = newAccount("a@example.com")
			Expect(db.CreateAccount(account)).To(Succeed())
		})

		When("the email changes", func() {
			BeforeEach(func() {
				account.Email = "new@example.com"
				Expect(db.SaveAccount(account)).To(Succeed())
			})

			It("should move the email index", func() {
				_, err := db.GetAccountByEmail("a@example.com")
				Expect(err).To(MatchError(invoice.ErrNotFound))

				found, err := db.GetAccountByEmail("new@example.com")
				Expect(err).NotTo(HaveOccurred())
				Expect(found.ID).To(Equal(account.ID))
			})
		})

		When("the new email belongs to someone else", func() {
			BeforeEach(func() {
				Expect(db.CreateAccount(newAccount("b@example.com"))).To(Succeed())
			})

			It("returns ErrEmailTaken", func() {
				account.Email = "b@example.com"
				Expect(db.SaveAccount(account)).To(MatchError(ErrEmailTaken))
			})
		})

		When("the account does not exist", func() {
			It("returns ErrNotFound", func() {
				Expect(db.SaveAccount(&Account{User: invoice.User{ID: 999}})).To(MatchError(invoice.ErrNotFound))
			})
		})
	})

	Describe("tokens", func() {
		It("should save, get and delete a token", func() {
			token := &Token{Value: "tok", UserID: 1, ExpiresAt: now.Add(time.Hour)}
			Expect(db.SaveToken(token)).To(Succeed())

			got, err := db.GetToken("tok")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).To(Equal(int64(1)))
			Expect(got.ExpiresAt.Equal(token.ExpiresAt)).To(BeTrue())

			Expect(db.DeleteToken("tok")).To(Succeed())
			_, err = db.GetToken("tok")
			Expect(err).To(MatchError(invoice.ErrNotFound))
		})
	})

	Describe("records", func() {
		newRecord := func(owner int64) *Record {
			return &Record{
				Invoice:     invoice.NewPending("inv.pdf", owner, now),
				StoragePath: "x_inv.pdf",
				ContentType: "application/pdf",
			}
		}

		It("should round trip a record with amounts", func() {
			r := newRecord(1)
			Expect(db.CreateRecord(r)).To(Succeed())

			r.Total = decimal.RequireFromString("108.25")
			Expect(r.Advance(invoice.StatusProcessing, now)).To(Succeed())
			Expect(db.SaveRecord(r)).To(Succeed())

			got, err := db.GetRecord(r.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(invoice.StatusProcessing))
			Expect(got.Total.Equal(decimal.RequireFromString("108.25"))).To(BeTrue())
			Expect(got.StoragePath).To(Equal("x_inv.pdf"))
			Expect(got.ContentType).To(Equal("application/pdf"))
		})

		It("returns ErrNotFound for an unknown id", func() {
			_, err := db.GetRecord(42)
			Expect(err).To(MatchError(invoice.ErrNotFound))
		})

		It("returns ErrNotFound when saving a record that was never created", func() {
			r := newRecord(1)
			r.ID = 42
			Expect(db.SaveRecord(r)).To(MatchError(invoice.ErrNotFound))
		})

		Describe("ListRecords", func() {
			var first, second, other *Record

			BeforeEach(func() {
				first, second, other = newRecord(1), newRecord(1), newRecord(2)
				Expect(db.CreateRecord(first)).To(Succeed())
				Expect(db.CreateRecord(other)).To(Succeed())
				Expect(db.CreateRecord(second)).To(Succeed())
			})

			It("should return only the owner's records, newest first", func() {
				records, err := db.ListRecords(1)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
				Expect(records[0].ID).To(Equal(second.ID))
				Expect(records[1].ID).To(Equal(first.ID))
			})

			It("should return an empty slice for an owner without records", func() {
				records, err := db.ListRecords(3)
				Expect(err).NotTo(HaveOccurred())
				Expect(records).NotTo(BeNil())
				Expect(records).To(BeEmpty())
			})
		})

		Describe("UnfinishedRecords", func() {
			It("should skip terminal records", func() {
				done := newRecord(1)
				Expect(db.CreateRecord(done)).To(Succeed())
				Expect(done.Advance(invoice.StatusCompleted, now)).To(Succeed())
				Expect(db.SaveRecord(done)).To(Succeed())

				open := newRecord(1)
				Expect(db.CreateRecord(open)).To(Succeed())

				records, err := db.UnfinishedRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].ID).To(Equal(open.ID))
			})
		})
	})

	Describe("reopening", func() {
		It("should keep data and sequences", func() {
			a := newAccount("a@example.com")
			Expect(db.CreateAccount(a)).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())

			b := newAccount("b@example.com")
			Expect(db.CreateAccount(b)).To(Succeed())
			Expect(b.ID).To(BeNumerically(">", a.ID))
		})
	})
})
