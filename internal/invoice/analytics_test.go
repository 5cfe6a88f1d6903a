package invoice

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func completed(id int64, total string, created, processed time.Time, category string) Invoice {
	return Invoice{
		ID:          id,
		Status:      StatusCompleted,
		Total:       decimal.RequireFromString(total),
		CreatedAt:   created,
		ProcessedAt: &processed,
		Category:    category,
	}
}

func failed(id int64, created, processed time.Time) Invoice {
	return Invoice{ID: id, Status: StatusError, CreatedAt: created, ProcessedAt: &processed}
}

var _ = Describe("Derive", func() {
	var (
		created  time.Time
		invoices []Invoice
		result   Analytics
	)

	BeforeEach(func() {
		created = time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)
		invoices = nil
	})

	JustBeforeEach(func() {
		result = Derive(invoices)
	})

	When("there are no invoices", func() {
		It("should report zero averages without dividing by zero", func() {
			Expect(result.TotalCount).To(Equal(0))
			Expect(result.AverageAmount.IsZero()).To(BeTrue())
			Expect(result.SuccessRate).To(BeZero())
			Expect(result.ProcessingTime).To(BeZero())
		})

		It("should return empty mappings", func() {
			Expect(result.MonthlyTrends).To(BeEmpty())
			Expect(result.CategoryDistribution).To(BeEmpty())
		})
	})

	When("three invoices are completed", func() {
		BeforeEach(func() {
			invoices = []Invoice{
				completed(1, "100.00", created, created.Add(10*time.Second), "services"),
				completed(2, "200.00", created, created.Add(20*time.Second), "services"),
				completed(3, "300.00", created, created.Add(30*time.Second), "products"),
			}
		})

		It("should sum the totals", func() {
			Expect(result.TotalCount).To(Equal(3))
			Expect(result.TotalAmount.Equal(decimal.RequireFromString("600.00"))).To(BeTrue())
		})

		It("should average the totals", func() {
			Expect(result.AverageAmount.Equal(decimal.RequireFromString("200.00"))).To(BeTrue())
		})

		It("should average the processing time", func() {
			Expect(result.ProcessingTime).To(BeNumerically("~", 20.0, 0.0001))
		})

		It("should distribute categories as percentages", func() {
			Expect(result.CategoryDistribution).To(HaveLen(2))
			Expect(result.CategoryDistribution["services"]).To(BeNumerically("~", 66.67, 0.001))
			Expect(result.CategoryDistribution["products"]).To(BeNumerically("~", 33.33, 0.001))
		})

		It("should omit categories that are not represented", func() {
			Expect(result.CategoryDistribution).NotTo(HaveKey("equipment"))
		})
	})

	When("four are completed and one failed", func() {
		BeforeEach(func() {
			for i := int64(1); i <= 4; i++ {
				invoices = append(invoices, completed(i, "10.00", created, created.Add(time.Minute), ""))
			}
			invoices = append(invoices, failed(5, created, created.Add(time.Minute)))
		})

		It("should compute a success rate of 0.8", func() {
			Expect(result.SuccessRate).To(Equal(0.8))
		})

		It("should not count the failed invoice", func() {
			Expect(result.TotalCount).To(Equal(4))
		})

		It("should label uncategorized invoices as other", func() {
			Expect(result.CategoryDistribution).To(Equal(map[string]float64{OtherCategory: 100}))
		})
	})

	When("some invoices have not reached an outcome", func() {
		BeforeEach(func() {
			invoices = []Invoice{
				completed(1, "50.00", created, created.Add(time.Second), ""),
				failed(2, created, created.Add(time.Second)),
				{ID: 3, Status: StatusPending, CreatedAt: created},
				{ID: 4, Status: StatusProcessing, CreatedAt: created},
			}
		})

		It("should exclude them from the success rate denominator", func() {
			Expect(result.SuccessRate).To(Equal(0.5))
		})
	})

	When("completed invoices span months", func() {
		BeforeEach(func() {
			invoices = []Invoice{
				completed(1, "10.00", created, created.Add(30*time.Minute), ""),
				completed(2, "15.50", created, created.Add(2*time.Hour), ""),
				completed(3, "4.50", created, created.Add(3*time.Hour), ""),
			}
		})

		It("should group by the month of processed_at", func() {
			Expect(result.MonthlyTrends).To(HaveLen(2))
			Expect(result.MonthlyTrends["2024-01"].Count).To(Equal(1))
			feb := result.MonthlyTrends["2024-02"]
			Expect(feb.Count).To(Equal(2))
			Expect(feb.Amount.Equal(decimal.RequireFromString("20.00"))).To(BeTrue())
		})
	})
})
