package invoice

import (
	"math"

	"github.com/shopspring/decimal"
)

// OtherCategory labels completed invoices that carry no category
const OtherCategory = "other"

// Trend is one bucket of the monthly trend mapping
type Trend struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Analytics is a summary snapshot over a user's invoices. It is recomputed or
// refetched as a whole and never updated in place.
type Analytics struct {
	TotalCount           int                `json:"total_count"`
	TotalAmount          decimal.Decimal    `json:"total_amount"`
	AverageAmount        decimal.Decimal    `json:"average_amount"`
	ProcessingTime       float64            `json:"processing_time"` // mean seconds from upload to terminal state
	SuccessRate          float64            `json:"success_rate"`    // completed / (completed + error)
	MonthlyTrends        map[string]Trend   `json:"monthly_trends"`
	CategoryDistribution map[string]float64 `json:"category_distribution"`
}

// Derive reduces a collection of invoices to analytics.
//
// Only completed invoices count toward totals, trends and categories. Pending
// and processing invoices have no outcome yet and are left out of the success
// rate denominator.
func Derive(invoices []Invoice) Analytics {
	a := Analytics{
		TotalAmount:          decimal.Zero,
		AverageAmount:        decimal.Zero,
		MonthlyTrends:        make(map[string]Trend),
		CategoryDistribution: make(map[string]float64),
	}

	var (
		failed      int
		terminal    int
		elapsedSecs float64
		categories  = make(map[string]int)
	)

	for _, inv := range invoices {
		if !inv.Status.Terminal() {
			continue
		}
		if inv.ProcessedAt != nil && !inv.CreatedAt.IsZero() {
			terminal++
			elapsedSecs += inv.ProcessedAt.Sub(inv.CreatedAt).Seconds()
		}
		if inv.Status == StatusError {
			failed++
			continue
		}

		a.TotalCount++
		a.TotalAmount = a.TotalAmount.Add(inv.Total)

		if inv.ProcessedAt != nil {
			month := inv.ProcessedAt.UTC().Format("2006-01")
			trend := a.MonthlyTrends[month]
			trend.Count++
			trend.Amount = trend.Amount.Add(inv.Total)
			a.MonthlyTrends[month] = trend
		}

		label := inv.Category
		if label == "" {
			label = OtherCategory
		}
		categories[label]++
	}

	if a.TotalCount > 0 {
		a.AverageAmount = a.TotalAmount.Div(decimal.NewFromInt(int64(a.TotalCount))).Round(2)
		for label, n := range categories {
			a.CategoryDistribution[label] = math.Round(float64(n)/float64(a.TotalCount)*10000) / 100
		}
	}
	if outcomes := a.TotalCount + failed; outcomes > 0 {
		a.SuccessRate = float64(a.TotalCount) / float64(outcomes)
	}
	if terminal > 0 {
		a.ProcessingTime = elapsedSecs / float64(terminal)
	}

	return a
}
