package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-reconciler/internal/ocr"
)

var (
	dateLikeLineRe = regexp.MustCompile(`^[\d/\-:]+$`)
	merchantNoiseRe = regexp.MustCompile(`[^\w\s&'-]`)
)

// ExtractMerchant extracts the merchant name using ordered strategies:
// a caller-supplied known-merchant list matched longest first, then the
// first high-confidence line, then the first meaningful line.
func ExtractMerchant(lines []string, fullText string, pages []ocr.Page, knownMerchants []string) string {
	fullTextUpper := strings.ToUpper(fullText)

	sorted := make([]string, len(knownMerchants))
	copy(sorted, knownMerchants)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, merchant := range sorted {
		pattern := `\b` + regexp.QuoteMeta(strings.ToUpper(merchant)) + `\b`
		if matched, err := regexp.MatchString(pattern, fullTextUpper); err == nil && matched {
			return merchant
		}
	}

	if confident := merchantFromConfidentLine(pages); confident != "" {
		return confident
	}

	limit := len(lines)
	if limit > 5 {
		limit = 5
	}
	for _, line := range lines[:limit] {
		if len(line) > 3 && !dateLikeLineRe.MatchString(line) {
			cleaned := strings.TrimSpace(merchantNoiseRe.ReplaceAllString(line, ""))
			if len(cleaned) > 2 {
				return cleaned
			}
		}
	}

	return "UNKNOWN_MERCHANT"
}

// merchantFromConfidentLine picks the first of the top ten lines whose
// average word confidence clears the threshold and which is not a
// date/number-only line.
func merchantFromConfidentLine(pages []ocr.Page) string {
	checked := 0
	for _, page := range pages {
		for _, line := range page.Lines {
			if checked >= 10 {
				return ""
			}
			if len(line.Words) == 0 {
				continue
			}

			var sum float64
			for _, w := range line.Words {
				sum += w.Confidence
			}
			if sum/float64(len(line.Words)) < MinLineConfidence {
				checked++
				continue
			}

			text := strings.TrimSpace(line.Text)
			if len(text) <= 3 || dateLikeLineRe.MatchString(text) {
				checked++
				continue
			}

			cleaned := strings.TrimSpace(merchantNoiseRe.ReplaceAllString(text, ""))
			if len(cleaned) > 2 {
				return cleaned
			}
			checked++
		}
	}
	return ""
}

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

var datePatterns = []*regexp.Regexp{
	// MM/DD/YY or DD/MM/YY
	regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{2})`),
	// MM/DD/YYYY or DD/MM/YYYY
	regexp.MustCompile(`(\d{1,2})[/-](\d{1,2})[/-](\d{4})`),
	// YYYY-MM-DD, YYYY/MM/DD, YYYY.MM.DD
	regexp.MustCompile(`(\d{4})[./-](\d{2})[./-](\d{2})`),
	// YYYYMMDD
	regexp.MustCompile(`\b(\d{4})(\d{2})(\d{2})\b`),
	// Month DD, YYYY
	regexp.MustCompile(`(?i)(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\w*\s+(\d{1,2}),?\s+(\d{4})`),
}

// ExtractDate searches the transcript with ordered date patterns.
// Returns a zero time when nothing matches.
func ExtractDate(fullText string) (time.Time, bool) {
	for _, pattern := range datePatterns {
		m := pattern.FindStringSubmatch(fullText)
		if m == nil {
			continue
		}
		var year, day int
		var month time.Month
		switch {
		case isAlpha(m[1]):
			prefix := strings.ToLower(m[1][:3])
			mo, ok := monthsByPrefix[prefix]
			if !ok {
				continue
			}
			month = mo
			day = atoiDefault(m[2])
			year = atoiDefault(m[3])
		case len(m[1]) == 4:
			year = atoiDefault(m[1])
			month = time.Month(atoiDefault(m[2]))
			day = atoiDefault(m[3])
		default:
			// Slash-delimited: assume North American month-first
			month = time.Month(atoiDefault(m[1]))
			day = atoiDefault(m[2])
			year = atoiDefault(m[3])
			if year < 100 {
				if year <= 69 {
					year += 2000
				} else {
					year += 1900
				}
			}
		}
		if month < 1 || month > 12 || day < 1 || day > 31 || year < 1900 {
			continue
		}
		d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		// Reject normalized overflow like Feb 30
		if d.Day() != day || d.Month() != month {
			continue
		}
		return d, true
	}
	return time.Time{}, false
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return len(s) > 0
}

func atoiDefault(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

var totalExcludedPhrases = []string{
	"TOTAL DISCOUNT",
	"TOTAL DISCOUNT(S)",
	"TOTAL SAVINGS",
	"TOTAL SAVED",
	"TOTAL NUMBER",
	"TOTAL NUMBER OF ITEMS",
	"TOTAL ITEMS",
}

// ExtractTotal locates the TOTAL anchor from the bottom up and pulls the
// amount from the same line, the next line, or the previous line.
// Returns 0.00 when no total is found.
func ExtractTotal(lines []string) decimal.Decimal {
	for idx := len(lines) - 1; idx >= 0; idx-- {
		lineUpper := strings.ToUpper(lines[idx])
		if strings.Contains(lineUpper, "TOTAL NUMBER") {
			continue
		}
		excluded := false
		for _, phrase := range totalExcludedPhrases {
			if strings.Contains(lineUpper, phrase) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		if !strings.Contains(lineUpper, "TOTAL") || strings.Contains(lineUpper, "SUBTOTAL") {
			continue
		}
		if amount, ok := priceFromLine(lines[idx]); ok {
			return amount
		}
		// Most common layout puts the amount on the line below the label
		if idx+1 < len(lines) {
			if amount, ok := priceFromLine(lines[idx+1]); ok {
				return amount
			}
		}
		if idx > 0 {
			prevUpper := strings.ToUpper(lines[idx-1])
			if !strings.Contains(prevUpper, "TAX") && !strings.Contains(prevUpper, "HST") && !strings.Contains(prevUpper, "GST") {
				if amount, ok := priceFromLine(lines[idx-1]); ok {
					return amount
				}
			}
		}
	}
	return decimal.Zero
}

var standalonePriceRe = regexp.MustCompile(`^\$?\s*\d+\.\d{2}\s*$`)

// ExtractTax extracts the tax amount (HST/GST/PST/TAX), anchored to the
// summary block near the bottom so "TAXED GROCERY" style category headers
// higher up are not mistaken for tax lines.
func ExtractTax(lines []string) (decimal.Decimal, bool) {
	if len(lines) == 0 {
		return decimal.Decimal{}, false
	}

	anchorIdx := -1
	window := len(lines) / 2
	if window < 20 {
		window = 20
	}
	startSearch := len(lines) - window
	if startSearch < 0 {
		startSearch = 0
	}
	for i := startSearch; i < len(lines); i++ {
		upper := strings.ToUpper(lines[i])
		if strings.Contains(upper, "SUBTOTAL") || strings.Contains(upper, "SUB TOTAL") ||
			strings.Contains(upper, "TOTAL AFTER TAX") || strings.HasPrefix(upper, "TOTAL") {
			anchorIdx = i
			break
		}
	}
	if anchorIdx == -1 {
		quarter := len(lines) / 4
		if quarter < 10 {
			quarter = 10
		}
		anchorIdx = len(lines) - quarter
		if anchorIdx < 0 {
			anchorIdx = 0
		}
	}

	for i := anchorIdx; i < len(lines); i++ {
		lineUpper := strings.ToUpper(lines[i])
		if strings.Contains(lineUpper, "SUBTOTAL") || strings.Contains(lineUpper, "SUB TOTAL") {
			continue
		}
		if strings.Contains(lineUpper, "TAXED") || strings.Contains(lineUpper, "TAXABLE") {
			continue
		}
		if strings.Contains(lineUpper, "TOTAL") && strings.Contains(lineUpper, "AFTER TAX") {
			continue
		}
		hasTotal := strings.Contains(lineUpper, "TOTAL")
		hasTaxKeyword := taxKeywordRe.MatchString(lineUpper)
		if hasTotal && !hasTaxKeyword {
			continue
		}
		if !hasTaxKeyword {
			continue
		}
		if amount, ok := priceFromLine(lines[i]); ok {
			return amount, true
		}
		// Amount usually sits on the line below the label. Distinguish the
		// [TAX][value][TOTAL][value] layout from [TAX][total][TOTAL].
		if i+1 < len(lines) {
			isTotalValue := strings.Contains(strings.ToUpper(lines[i+1]), "TOTAL")
			if !isTotalValue && i+2 < len(lines) {
				upper2 := strings.ToUpper(lines[i+2])
				if strings.Contains(upper2, "TOTAL") && !strings.Contains(upper2, "SUBTOTAL") {
					if i+3 < len(lines) {
						if _, ok := priceFromLine(lines[i+3]); ok {
							isTotalValue = false
						} else {
							isTotalValue = true
						}
					} else {
						isTotalValue = true
					}
				}
			}
			if !isTotalValue && standalonePriceRe.MatchString(lines[i+1]) {
				if amount, ok := priceFromLine(lines[i+1]); ok {
					return amount, true
				}
			}
		}
		if i > 0 && standalonePriceRe.MatchString(lines[i-1]) {
			prevUpper := strings.ToUpper(lines[i-1])
			if !strings.Contains(prevUpper, "SUBTOTAL") && !strings.Contains(prevUpper, "TOTAL") {
				if amount, ok := priceFromLine(lines[i-1]); ok {
					return amount, true
				}
			}
		}
	}
	return decimal.Decimal{}, false
}

// ExtractSubtotal extracts the subtotal from its anchor line or the line
// immediately below it.
func ExtractSubtotal(lines []string) (decimal.Decimal, bool) {
	for i, line := range lines {
		lineUpper := strings.ToUpper(line)
		if !strings.Contains(lineUpper, "SUBTOTAL") && !strings.Contains(lineUpper, "SUB TOTAL") {
			continue
		}
		if amount, ok := priceFromLine(line); ok {
			return amount, true
		}
		if i+1 < len(lines) {
			if amount, ok := priceFromLine(lines[i+1]); ok {
				return amount, true
			}
		}
	}
	return decimal.Decimal{}, false
}

var priceFromLineRes = []*regexp.Regexp{
	regexp.MustCompile(`\$?\s*(\d+\.\d{2})\s*$`), // price at end of line
	regexp.MustCompile(`\$?\s*(\d+\.\d{2})`),     // price anywhere
}

func priceFromLine(line string) (decimal.Decimal, bool) {
	for _, re := range priceFromLineRes {
		if m := re.FindStringSubmatch(line); m != nil {
			if d, err := decimal.NewFromString(m[1]); err == nil {
				return d, true
			}
		}
	}
	return decimal.Decimal{}, false
}
