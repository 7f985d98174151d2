package receipt

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	txnLineRe        = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s+\*`)
	txnPayeeRe       = regexp.MustCompile(`\*\s+"([^"]*)"`)
	expensePostingRe = regexp.MustCompile(`^\s+(Expenses:\S+)\s+(\d+\.?\d*)\s+\w+\s*;?\s*(.*)$`)
	qtyCommentRe     = regexp.MustCompile(`\(qty\s+(\d+)\)`)
	qtyCommentTrimRe = regexp.MustCompile(`\s*\(qty\s+\d+\)`)
)

// ParseDraftFile reconstructs a Receipt from a saved draft file.
func ParseDraftFile(path string) (*Receipt, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading receipt draft: %w", err)
	}
	return ParseDraft(string(content)), nil
}

// ParseDraft reconstructs a Receipt from draft beancount content. The
// metadata header is authoritative; the transaction itself fills the
// gaps, so hand-edited drafts survive a round trip. Metadata edited by
// hand wins over the original postings.
func ParseDraft(content string) *Receipt {
	lines := strings.Split(content, "\n")

	merchant := "Unknown"
	var date time.Time
	dateSet := false
	dateIsUnknown := false
	total := decimal.Zero
	var tax *decimal.Decimal
	imageFilename := ""

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "; @merchant:"):
			merchant = strings.TrimSpace(strings.TrimPrefix(line, "; @merchant:"))
		case strings.HasPrefix(line, "; @date:"):
			value := strings.TrimSpace(strings.TrimPrefix(line, "; @date:"))
			if strings.EqualFold(value, "UNKNOWN") {
				dateIsUnknown = true
			} else if d, err := time.Parse("2006-01-02", value); err == nil {
				date = d
				dateSet = true
			}
		case strings.HasPrefix(line, "; @total:"):
			if d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimPrefix(line, "; @total:"))); err == nil {
				total = d
			}
		case strings.HasPrefix(line, "; @tax:"):
			if d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimPrefix(line, "; @tax:"))); err == nil {
				tax = &d
			}
		case strings.HasPrefix(line, "; @image_filename:"):
			imageFilename = strings.TrimSpace(strings.TrimPrefix(line, "; @image_filename:"))
		case strings.HasPrefix(line, "; @image:"):
			imageFilename = strings.TrimSpace(strings.TrimPrefix(line, "; @image:"))
		}
	}

	// The transaction line covers drafts whose header was edited away
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if !txnLineRe.MatchString(line) {
			continue
		}
		if !dateSet || dateIsUnknown {
			if d, err := time.Parse("2006-01-02", line[:10]); err == nil {
				date = d
				dateSet = true
				dateIsUnknown = false
			}
		}
		if merchant == "Unknown" {
			if m := txnPayeeRe.FindStringSubmatch(line); m != nil {
				merchant = m[1]
			}
		}
		break
	}

	var items []Item
	for _, raw := range lines {
		m := expensePostingRe.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		category := m[1]
		price, err := decimal.NewFromString(m[2])
		if err != nil {
			continue
		}
		description := strings.TrimSpace(m[3])

		if strings.Contains(category, "Tax:HST") || strings.Contains(category, "Tax:GST") {
			tax = &price
			continue
		}
		if strings.Contains(description, "FIXME: unaccounted") {
			continue
		}

		quantity := 1
		if qm := qtyCommentRe.FindStringSubmatch(description); qm != nil {
			if n, err := strconv.Atoi(qm[1]); err == nil {
				quantity = n
			}
			description = strings.TrimSpace(qtyCommentTrimRe.ReplaceAllString(description, ""))
		}

		items = append(items, Item{
			Description: description,
			Price:       price,
			Quantity:    quantity,
			Category:    category,
		})
	}

	if total.IsZero() && len(items) > 0 {
		for _, item := range items {
			total = total.Add(item.Total())
		}
		if tax != nil {
			total = total.Add(*tax)
		}
	}

	dateIsPlaceholder := dateIsUnknown
	if !dateSet {
		date = PlaceholderDate()
		dateIsPlaceholder = true
	}

	return &Receipt{
		Merchant:          merchant,
		Date:              date,
		DateIsPlaceholder: dateIsPlaceholder,
		Total:             total,
		Items:             items,
		Tax:               tax,
		ImageFilename:     imageFilename,
	}
}
