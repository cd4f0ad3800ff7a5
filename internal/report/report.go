// Package report renders a finished report to its two outputs, CSV and
// HTML. Both render from the same Table, so every column and value in the
// CSV appears identically in the HTML table.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/tenantlens/tenantlens/internal/refdata"
)

// Table is the flat tabular core of a report.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Section is one block of the trailing summary: a title and prose lines.
type Section struct {
	Title string
	Lines []string
}

// Document is everything the renderers need for one report.
type Document struct {
	Title       string
	Tenant      string
	GeneratedAt time.Time
	RunID       string
	Table       Table
	Summary     []Section
}

// FormatAmount renders cents as a human currency string with thousands
// grouping, e.g. "1,234.56 EUR".
func FormatAmount(c refdata.Cents, currency string) string {
	v := int64(c)
	neg := ""
	if v < 0 {
		neg = "-"
		v = -v
	}
	whole := v / 100
	frac := v % 100

	digits := fmt.Sprintf("%d", whole)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	out := fmt.Sprintf("%s%s.%02d", neg, grouped.String(), frac)
	if currency = strings.TrimSpace(currency); currency != "" {
		out += " " + currency
	}
	return out
}
