package extract

import (
	"regexp"
	"strings"

	"github.com/zombor/receipt-reconciler/internal/ocr"
	"github.com/zombor/receipt-reconciler/internal/receipt"
)

// Merchants whose receipts reliably benefit from bbox-based extraction
var spatialLayoutMerchants = []string{
	"T&T", "T & T", "REAL CANADIAN", "SUPERSTORE", "C&C", "C & C",
}

var weightedPriceColumnRe = regexp.MustCompile(`W\s+\$\d+\.\d{2}`)

// isSpatialLayoutReceipt reports whether the transcript belongs to a
// store whose column layout defeats line-based item pairing.
func isSpatialLayoutReceipt(fullText string) bool {
	upper := strings.ToUpper(fullText)
	for _, merchant := range spatialLayoutMerchants {
		if strings.Contains(upper, merchant) {
			return true
		}
	}
	return weightedPriceColumnRe.MatchString(fullText)
}

// ParseReceipt assembles a Receipt from an OCR result. Field extraction
// always runs on the transcript text; item extraction picks the spatial
// strategy when word geometry is available and the layout calls for it,
// falling back to the text strategy whenever the spatial pass finds
// nothing.
func ParseReceipt(result *ocr.Result, knownMerchants []string) *receipt.Receipt {
	lines := nonEmptyLines(result.FullText)

	merchant := ExtractMerchant(lines, result.FullText, result.Pages, knownMerchants)
	total := ExtractTotal(lines)

	date, found := ExtractDate(result.FullText)
	dateIsPlaceholder := !found
	if dateIsPlaceholder {
		date = receipt.PlaceholderDate()
	}

	rcpt := &receipt.Receipt{
		Merchant:          merchant,
		Date:              date,
		DateIsPlaceholder: dateIsPlaceholder,
		Total:             total,
		RawText:           result.FullText,
	}
	if amount, ok := ExtractTax(lines); ok {
		v := amount
		rcpt.Tax = &v
	}
	if amount, ok := ExtractSubtotal(lines); ok {
		v := amount
		rcpt.Subtotal = &v
	}

	summaryAmounts := make(map[string]struct{})
	if total.IsPositive() {
		summaryAmounts[total.StringFixed(2)] = struct{}{}
	}
	if rcpt.Tax != nil && rcpt.Tax.IsPositive() {
		summaryAmounts[rcpt.Tax.StringFixed(2)] = struct{}{}
	}
	if rcpt.Subtotal != nil && rcpt.Subtotal.IsPositive() {
		summaryAmounts[rcpt.Subtotal.StringFixed(2)] = struct{}{}
	}

	if result.HasWordGeometry() && isSpatialLayoutReceipt(result.FullText) {
		rcpt.Items = ExtractItemsSpatial(result.Pages, &rcpt.Warnings)
	}
	if len(rcpt.Items) == 0 {
		rcpt.Items = ExtractItems(lines, summaryAmounts, &rcpt.Warnings)
	}

	return rcpt
}

func nonEmptyLines(fullText string) []string {
	var lines []string
	for _, line := range strings.Split(fullText, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
