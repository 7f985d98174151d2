package receipt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCreditCardAccount is the placeholder liability used until a
// draft is matched to a real statement transaction.
const DefaultCreditCardAccount = "Liabilities:CreditCard:PENDING"

// DefaultExpenseAccount marks postings that need human review.
const DefaultExpenseAccount = "Expenses:FIXME"

// TaxAccount receives the receipt's tax amount.
const TaxAccount = "Expenses:Tax:HST"

// Posting is one line of a rendered transaction before alignment.
type Posting struct {
	Account string
	Amount  string
	Comment string
}

// AlignPostings renders postings with padded accounts and right-aligned
// amounts so the transaction reads as a column layout.
func AlignPostings(postings []Posting) []string {
	if len(postings) == 0 {
		return nil
	}
	maxAccount := 0
	maxAmount := 0
	for _, p := range postings {
		if len(p.Account) > maxAccount {
			maxAccount = len(p.Account)
		}
		if len(p.Amount) > maxAmount {
			maxAmount = len(p.Amount)
		}
	}
	lines := make([]string, 0, len(postings))
	for _, p := range postings {
		base := fmt.Sprintf("  %-*s  %*s", maxAccount, p.Account, maxAmount, p.Amount)
		if p.Comment != "" {
			base += "  ; " + p.Comment
		}
		lines = append(lines, base)
	}
	return lines
}

var cardLast4Re = regexp.MustCompile(`\*{2,}\s*([0-9]{4})\b`)

// ExtractCardLast4 pulls the masked card suffix from raw OCR text.
func ExtractCardLast4(rawText string) string {
	for _, line := range strings.Split(rawText, "\n") {
		if !strings.Contains(line, "*") {
			continue
		}
		if m := cardLast4Re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// buildPostingWarningMap anchors parser warnings to the posting index
// they should follow in the rendered output.
func buildPostingWarningMap(warnings []Warning, itemPostingIndexes []int) map[int][]string {
	postingWarnings := map[int][]string{}
	for _, warning := range warnings {
		if warning.Message == "" {
			continue
		}
		postingIdx := 0
		if len(itemPostingIndexes) > 0 {
			target := warning.AfterItemIndex
			if target < 0 {
				target = len(itemPostingIndexes) - 1
			}
			if target > len(itemPostingIndexes)-1 {
				target = len(itemPostingIndexes) - 1
			}
			postingIdx = itemPostingIndexes[target]
		}
		postingWarnings[postingIdx] = append(postingWarnings[postingIdx], warning.Message)
	}
	return postingWarnings
}

func injectPostingWarnings(formatted []string, postingWarnings map[int][]string) []string {
	if len(postingWarnings) == 0 {
		return formatted
	}
	var out []string
	for idx, line := range formatted {
		out = append(out, line)
		for _, msg := range postingWarnings[idx] {
			out = append(out, "; WARN:PARSER "+msg)
		}
	}
	return out
}

// FormatParsedReceipt renders a receipt as a draft beancount transaction
// with a metadata header. The header lets the draft be reconstructed
// into a Receipt later without parsing the full transaction, and
// survives manual edits to the postings.
func FormatParsedReceipt(r *Receipt, creditCardAccount, imageSHA256 string) string {
	if creditCardAccount == "" {
		creditCardAccount = DefaultCreditCardAccount
	}
	var lines []string

	lines = append(lines, "; === PARSED RECEIPT - AWAITING CC MATCH ===")
	lines = append(lines, "; @merchant: "+r.Merchant)
	dateStr := r.Date.Format("2006-01-02")
	if r.DateIsPlaceholder {
		lines = append(lines, "; @date: UNKNOWN")
		lines = append(lines, fmt.Sprintf("; FIXME: unknown date (placeholder used: %s)", dateStr))
	} else {
		lines = append(lines, "; @date: "+dateStr)
	}
	lines = append(lines, fmt.Sprintf("; @total: %s", r.Total.StringFixed(2)))
	lines = append(lines, fmt.Sprintf("; @items: %d", len(r.Items)))
	if r.Tax != nil {
		lines = append(lines, fmt.Sprintf("; @tax: %s", r.Tax.StringFixed(2)))
	}
	if r.ImageFilename != "" {
		lines = append(lines, "; @image: "+r.ImageFilename)
		lines = append(lines, "; @image_filename: "+r.ImageFilename)
	}
	if imageSHA256 != "" {
		lines = append(lines, "; @image_sha256: "+imageSHA256)
	}
	lines = append(lines, "")

	merchantClean := strings.ReplaceAll(r.Merchant, `"`, "'")
	lines = append(lines, fmt.Sprintf(`%s * "%s" "Receipt scan"`, dateStr, merchantClean))

	var postings []Posting

	cardComment := ""
	if last4 := ExtractCardLast4(r.RawText); last4 != "" {
		cardComment = "card ****" + last4
	}
	postings = append(postings, Posting{
		Account: creditCardAccount,
		Amount:  fmt.Sprintf("-%s CAD", r.Total.StringFixed(2)),
		Comment: cardComment,
	})

	itemsTotal := decimal.Zero
	var itemPostingIndexes []int
	for _, item := range r.Items {
		itemPostingIndexes = append(itemPostingIndexes, len(postings))
		category := item.Category
		if category == "" {
			category = DefaultExpenseAccount
		}
		comment := strings.ReplaceAll(item.Description, `"`, "'")
		if item.Quantity > 1 {
			comment = fmt.Sprintf("%s (qty %d)", comment, item.Quantity)
		}
		postings = append(postings, Posting{
			Account: category,
			Amount:  item.Price.StringFixed(2) + " CAD",
			Comment: comment,
		})
		itemsTotal = itemsTotal.Add(item.Price)
	}

	if r.Tax != nil {
		postings = append(postings, Posting{
			Account: TaxAccount,
			Amount:  r.Tax.StringFixed(2) + " CAD",
		})
		itemsTotal = itemsTotal.Add(*r.Tax)
	}

	// Keep the transaction balanced when extraction missed lines
	if !itemsTotal.Equal(r.Total) && r.Total.IsPositive() {
		if diff := r.Total.Sub(itemsTotal); diff.IsPositive() {
			postings = append(postings, Posting{
				Account: DefaultExpenseAccount,
				Amount:  diff.StringFixed(2) + " CAD",
				Comment: "FIXME: unaccounted amount",
			})
		}
	}

	formatted := AlignPostings(postings)
	lines = append(lines, injectPostingWarnings(formatted, buildPostingWarningMap(r.Warnings, itemPostingIndexes))...)

	if r.RawText != "" {
		lines = append(lines, "")
		lines = append(lines, "; --- Raw OCR Text (for reference) ---")
		for _, ocrLine := range strings.Split(r.RawText, "\n") {
			if strings.TrimSpace(ocrLine) != "" {
				lines = append(lines, "; "+ocrLine)
			}
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// GenerateFilename builds the receipt's storage filename:
// YYYY-MM-DD_merchant_total.beancount, e.g.
// 2026-01-15_walmart_51_61.beancount. The date, merchant, and amount are
// recoverable from the name alone, so match candidates can be
// pre-filtered without reading file contents.
func GenerateFilename(r *Receipt) string {
	dateStr := "unknown-date"
	if !r.DateIsPlaceholder {
		dateStr = r.Date.Format("2006-01-02")
	}

	merchant := nonAlnumRe.ReplaceAllString(strings.ToLower(r.Merchant), "_")
	merchant = strings.Trim(merchant, "_")
	if merchant == "" {
		merchant = "unknown"
	}
	if len(merchant) > 30 {
		merchant = merchant[:30]
	}

	amount := strings.ReplaceAll(r.Total.StringFixed(2), ".", "_")
	return fmt.Sprintf("%s_%s_%s.beancount", dateStr, merchant, amount)
}
