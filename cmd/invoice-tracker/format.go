package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/zombor/invoice-tracker/internal/analytics"
	"github.com/zombor/invoice-tracker/internal/invoice"
)

// formatMoney renders an exact amount in the currency's own format
func formatMoney(d decimal.Decimal, code string) string {
	// money.New never returns a nil currency, unknown codes included
	cur := money.New(0, code).Currency()
	minor := d.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// summaryLine is the one-line outcome of a tracked invoice
func summaryLine(inv invoice.Invoice, code string) string {
	switch inv.Status {
	case invoice.StatusCompleted:
		line := fmt.Sprintf("#%d %s: completed, %s %s", inv.ID, inv.Filename, orDash(inv.Vendor.Name), formatMoney(inv.Total, code))
		if inv.NeedsReview {
			line += " (needs review)"
		}
		return line
	case invoice.StatusError:
		return fmt.Sprintf("#%d %s: failed: %s", inv.ID, inv.Filename, orDash(inv.ErrorMessage))
	}
	return fmt.Sprintf("#%d %s: %s", inv.ID, inv.Filename, inv.Status)
}

func writeTable(w io.Writer, invoices []invoice.Invoice, code string) error {
	if len(invoices) == 0 {
		_, err := fmt.Fprintln(w, "No invoices")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tDATE\tVENDOR\tTOTAL\tFILE")
	for _, inv := range invoices {
		total := "-"
		if inv.Status == invoice.StatusCompleted {
			total = formatMoney(inv.Total, code)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", inv.ID, inv.Status, formatDate(inv.Date), orDash(inv.Vendor.Name), total, inv.Filename)
	}
	return tw.Flush()
}

func writeDetail(w io.Writer, inv invoice.Invoice, code string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%d\n", inv.ID)
	fmt.Fprintf(tw, "File\t%s\n", inv.Filename)
	fmt.Fprintf(tw, "Status\t%s\n", inv.Status)
	fmt.Fprintf(tw, "Uploaded\t%s\n", inv.CreatedAt.Format(time.RFC3339))
	if inv.ProcessedAt != nil {
		fmt.Fprintf(tw, "Processed\t%s\n", inv.ProcessedAt.Format(time.RFC3339))
	}

	switch inv.Status {
	case invoice.StatusError:
		fmt.Fprintf(tw, "Error\t%s\n", orDash(inv.ErrorMessage))
	case invoice.StatusCompleted:
		fmt.Fprintf(tw, "Number\t%s\n", orDash(inv.InvoiceNumber))
		fmt.Fprintf(tw, "Date\t%s\n", formatDate(inv.Date))
		fmt.Fprintf(tw, "Due\t%s\n", formatDate(inv.DueDate))
		fmt.Fprintf(tw, "Vendor\t%s\n", orDash(inv.Vendor.Name))
		fmt.Fprintf(tw, "Client\t%s\n", orDash(inv.Client.Name))
		fmt.Fprintf(tw, "Category\t%s\n", orDash(inv.Category))
		fmt.Fprintf(tw, "Amount\t%s\n", formatMoney(inv.Amount, code))
		fmt.Fprintf(tw, "Tax\t%s\n", formatMoney(inv.Tax, code))
		fmt.Fprintf(tw, "Total\t%s\n", formatMoney(inv.Total, code))
		if err := inv.CheckTotals(); err != nil {
			fmt.Fprintf(tw, "Review\t%v\n", err)
		}
	}
	return tw.Flush()
}

func writeAnalytics(w io.Writer, r analytics.Result, code string) error {
	a := r.Analytics
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Source\t%s\n", r.Source)
	fmt.Fprintf(tw, "Invoices\t%d\n", a.TotalCount)
	fmt.Fprintf(tw, "Total\t%s\n", formatMoney(a.TotalAmount, code))
	fmt.Fprintf(tw, "Average\t%s\n", formatMoney(a.AverageAmount, code))
	fmt.Fprintf(tw, "Success rate\t%.1f%%\n", a.SuccessRate*100)
	fmt.Fprintf(tw, "Processing time\t%s\n", (time.Duration(a.ProcessingTime * float64(time.Second))).Round(time.Second))

	if len(a.MonthlyTrends) > 0 {
		fmt.Fprintln(tw, "\nMonth\tCount\tAmount")
		for _, month := range sortedKeys(a.MonthlyTrends) {
			t := a.MonthlyTrends[month]
			fmt.Fprintf(tw, "%s\t%d\t%s\n", month, t.Count, formatMoney(t.Amount, code))
		}
	}

	if len(a.CategoryDistribution) > 0 {
		fmt.Fprintln(tw, "\nCategory\tShare")
		for _, cat := range sortedKeys(a.CategoryDistribution) {
			fmt.Fprintf(tw, "%s\t%.1f%%\n", cat, a.CategoryDistribution[cat])
		}
	}
	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
