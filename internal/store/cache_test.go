package store

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

var _ = Describe("Cache", func() {
	var (
		cache *Cache
		path  string
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "cache.db")
		var err error
		cache, err = OpenCache(path)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if cache != nil {
			cache.Close()
		}
	})

	Describe("tokens", func() {
		It("should return empty when nothing is saved", func() {
			token, err := cache.Token()
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(BeEmpty())
		})

		It("should persist across reopen", func() {
			Expect(cache.SaveToken("abc")).To(Succeed())
			Expect(cache.Close()).To(Succeed())

			var err error
			cache, err = OpenCache(path)
			Expect(err).NotTo(HaveOccurred())
			token, err := cache.Token()
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(Equal("abc"))
		})

		It("should remove the token when saving empty", func() {
			Expect(cache.SaveToken("abc")).To(Succeed())
			Expect(cache.SaveToken("")).To(Succeed())
			token, err := cache.Token()
			Expect(err).NotTo(HaveOccurred())
			Expect(token).To(BeEmpty())
		})
	})

	Describe("snapshots", func() {
		It("should round trip the invoice collection", func() {
			saved := []invoice.Invoice{inv(2, invoice.StatusPending), inv(1, invoice.StatusCompleted)}
			saved[1].Total = decimal.RequireFromString("110.00")
			Expect(cache.SaveInvoices(saved)).To(Succeed())

			loaded, err := cache.Invoices()
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(loaded)).To(Equal([]int64{2, 1}))
			Expect(loaded[1].Total.Equal(decimal.RequireFromString("110"))).To(BeTrue())
		})

		It("should return an empty collection when nothing is saved", func() {
			loaded, err := cache.Invoices()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(BeEmpty())
		})

		It("should return nil analytics when nothing is saved", func() {
			a, err := cache.Analytics()
			Expect(err).NotTo(HaveOccurred())
			Expect(a).To(BeNil())
		})

		It("should return saved analytics", func() {
			Expect(cache.SaveAnalytics(invoice.Analytics{TotalCount: 3, SuccessRate: 0.5})).To(Succeed())
			a, err := cache.Analytics()
			Expect(err).NotTo(HaveOccurred())
			Expect(a).NotTo(BeNil())
			Expect(a.TotalCount).To(Equal(3))
			Expect(a.SuccessRate).To(Equal(0.5))
		})
	})

	Describe("Clear", func() {
		It("should drop the token and snapshots", func() {
			Expect(cache.SaveToken("abc")).To(Succeed())
			Expect(cache.SaveInvoices([]invoice.Invoice{inv(1, invoice.StatusPending)})).To(Succeed())
			Expect(cache.SaveAnalytics(invoice.Analytics{TotalCount: 1})).To(Succeed())

			Expect(cache.Clear()).To(Succeed())

			token, _ := cache.Token()
			Expect(token).To(BeEmpty())
			loaded, _ := cache.Invoices()
			Expect(loaded).To(BeEmpty())
			a, _ := cache.Analytics()
			Expect(a).To(BeNil())
		})
	})
})

var _ = Describe("Store persistence", func() {
	var cache *Cache

	BeforeEach(func() {
		var err error
		cache, err = OpenCache(filepath.Join(GinkgoT().TempDir(), "cache.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(cache.Close)
	})

	It("should restore what a previous store persisted", func() {
		first := New(newMockLister())
		first.RecordUpload(inv(1, invoice.StatusCompleted))
		first.RecordUpload(inv(2, invoice.StatusPending))
		Expect(first.Persist(cache)).To(Succeed())

		second := New(newMockLister())
		Expect(second.Restore(cache)).To(Succeed())
		Expect(ids(second.Invoices())).To(Equal([]int64{2, 1}))
	})
})
