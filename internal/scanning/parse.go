package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Categories are the labels the prompt asks for. Anything else is "other".
var Categories = []string{"services", "products", "equipment", "utilities", "travel", "other"}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// parseInvoiceJSON parses the JSON answer of a model
func parseInvoiceJSON(text string) (*InvoiceData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Models sometimes wrap the object in prose
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data InvoiceData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.InvoiceNumber = strings.TrimSpace(data.InvoiceNumber)
	data.Date = normalizeDate(data.Date)
	data.DueDate = normalizeDate(data.DueDate)
	data.Category = normalizeCategory(data.Category)
	data.Vendor = trimContact(data.Vendor)
	data.Client = trimContact(data.Client)

	// Fill in whichever of amount and total is missing
	switch {
	case data.Total.IsZero() && !data.Amount.IsZero():
		data.Total = data.Amount.Add(data.Tax)
	case data.Amount.IsZero() && !data.Total.IsZero():
		data.Amount = data.Total.Sub(data.Tax)
	}

	return &data, nil
}

// normalizeDate returns s as YYYY-MM-DD, or "" when it cannot be read
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	for _, format := range dateFormats {
		if d, err := time.Parse(format, s); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return ""
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	for _, c := range Categories {
		if s == c {
			return c
		}
	}
	return "other"
}

func trimContact(c Contact) Contact {
	return Contact{
		Name:    strings.TrimSpace(c.Name),
		Address: strings.TrimSpace(c.Address),
		Email:   strings.TrimSpace(c.Email),
	}
}

// ParseDate reads a normalized date, returning nil for ""
func ParseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &d
}
