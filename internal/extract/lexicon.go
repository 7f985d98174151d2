package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Minimum average word confidence for a line to be considered reliable
const MinLineConfidence = 0.6

// Spatial parsing thresholds in normalized [0,1] coordinates
const (
	// Words below this OCR confidence are ignored
	minWordConfidence = 0.5
	// Prices typically sit right of this X
	priceXThreshold = 0.65
	// Item descriptions typically sit left of this X
	itemXThreshold = 0.6
	// Y distance treated as "same row"
	yTolerance = 0.02
	// Maximum vertical distance to associate a price with an item
	maxItemDistance = 0.08
)

var sectionHeaders = map[string]bool{
	"MEAT": true, "SEAFOOD": true, "PRODUCE": true, "DELI": true,
	"GROCERY": true, "BAKERY": true, "FROZEN": true,
}

var (
	sectionHeaderWithAisle = regexp.MustCompile(`^\d{1,2}\s*[-:]\s*[A-Z]{3,}$`)
	sectionAislePrefix     = regexp.MustCompile(`^\d{1,2}\s*[-:]`)
	headerTokenRe          = regexp.MustCompile(`[A-Z]+`)

	summaryRe = regexp.MustCompile(`(?i)^(SUB\s*TOTAL|SUBTOTAL|TOTAL|HST|GST|PST|TAX|MASTER|VISA|DEBIT|` +
		`CREDIT|POINTS|CASH|CHANGE|BALANCE|APPROVED|CARD|TERMINAL|MEMBER)`)
	taxKeywordRe = regexp.MustCompile(`\b(HST|GST|PST|TAX)\b`)

	footerAddressRe = regexp.MustCompile(`(?i)\b(AVE|AVENUE|ST|STREET|RD|ROAD|BLVD|BOULEVARD|DR|DRIVE|HWY|HIGHWAY)\b|` +
		`\b(MARKHAM|TORONTO|MISSISSAUGA|RICHMOND\s+HILL|ON|ONTARIO)\b|` +
		`\b(L\d[A-Z]\d)\b|` +
		`\(\d{3}\)\s*\d{3}-\d{4}`)

	trailingPriceRe    = regexp.MustCompile(`\d+\.\d{2}\s*[HhTtJj]?\s*$`)
	priceWordPrefixRe  = regexp.MustCompile(`^[Ww]\s*`)
	priceWordRe        = regexp.MustCompile(`^\$?(\d+\.\d{2})$`)
	whitespaceRe       = regexp.MustCompile(`\s+`)
	leadingQtyPrefixRe = regexp.MustCompile(`^\(\d+\)\s*`)
	leadingSKURe       = regexp.MustCompile(`^\d{6,}\s*`)
)

// Quantity/weight modifier patterns for multi-row item formats, e.g.
// "3 @ $1.99", "1.22 lb @ $2.99/lb" (with OCR confusions lk/1b/k9), and
// "2 /for $3.00".
var (
	countAtPriceRe  = regexp.MustCompile(`^(\d+)\s*@\s*\$?(\d+\.\d{2})`)
	weightAtPriceRe = regexp.MustCompile(`(?i)^(\d+\.?\d*)\s*(?:lb|lk|kg|k[g9]|1b|1k)\s*@`)
	multiForPriceRe = regexp.MustCompile(`^\(?(\d+)\s*/\s*for\s+\$?(\d+\.\d{2})\)?`)

	qtyForPrefixRe   = regexp.MustCompile(`(?i)^\d+\s*/\s*for\b`)
	qtyAtMultiRe     = regexp.MustCompile(`(?i)^\d+\s*@\s*\d+\s*/\s*\$?\d+\.\d{2}\b`)
	qtyParenForRe    = regexp.MustCompile(`^\(\d+\s*/\s*for\s+\$[\d.]+\)`)
	qtyParenAnyForRe = regexp.MustCompile(`(?i)^\([^)]+\)\s+\d+\s*/\s*for\b`)
)

type modifierKind int

const (
	countAtPrice modifierKind = iota
	weightAtPrice
	multiForPrice
)

// quantityModifier is structured data parsed from a quantity/weight line.
type quantityModifier struct {
	kind      modifierKind
	quantity  int
	unitPrice decimal.Decimal
	weight    decimal.Decimal
	dealPrice decimal.Decimal
	rawLine   string
}

var quantityTolerance = decimal.RequireFromString("0.02")

// isSectionHeaderText reports whether text looks like a section/aisle
// header such as "PRODUCE" or "21-GROCERY", not an item.
func isSectionHeaderText(text string) bool {
	if text == "" {
		return false
	}
	normalized := whitespaceRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(text)), " ")
	if sectionHeaders[normalized] {
		return true
	}
	if sectionHeaderWithAisle.MatchString(normalized) {
		return true
	}
	// Aisle-prefixed variants with suffix words, e.g. "33-BAKERY INSTORE"
	if sectionAislePrefix.MatchString(normalized) {
		for _, token := range headerTokenRe.FindAllString(normalized, -1) {
			if sectionHeaders[token] {
				return true
			}
		}
	}
	return false
}

// stripLeadingReceiptCodes removes "(2)" quantity prefixes and long
// leading SKU codes from an item line.
func stripLeadingReceiptCodes(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = leadingQtyPrefixRe.ReplaceAllString(cleaned, "")
	cleaned = leadingSKURe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// looksLikeSummaryLine reports whether text is a summary/tax/payment line.
func looksLikeSummaryLine(text string) bool {
	if text == "" {
		return false
	}
	upper := strings.TrimSpace(strings.ToUpper(text))
	if summaryRe.MatchString(upper) {
		return true
	}
	if strings.Contains(upper, "SUBTOTAL") || strings.Contains(upper, "SUB TOTAL") {
		return true
	}
	if strings.Contains(upper, "TOTAL") {
		return true
	}
	if taxKeywordRe.MatchString(upper) {
		return true
	}
	// Variants like "H=HST 13% 2.19"
	if strings.HasPrefix(upper, "H=") {
		for _, tag := range []string{"HST", "GST", "PST", "TAX"} {
			if strings.Contains(upper, tag) {
				return true
			}
		}
	}
	return false
}

// lineHasTrailingPrice reports whether the line ends with a price,
// optionally suffixed by a tax-code letter.
func lineHasTrailingPrice(text string) bool {
	return trailingPriceRe.MatchString(strings.TrimSpace(text))
}

// Short generic labels that still name a real item when the row carries a price
var genericPricedItemLabels = map[string]bool{"MEAT": true}

func isPricedGenericItemLabel(leftText, fullText string) bool {
	if leftText == "" {
		return false
	}
	return lineHasTrailingPrice(fullText) && genericPricedItemLabels[strings.ToUpper(strings.TrimSpace(leftText))]
}

// parseQuantityModifier parses a quantity/weight modifier line, returning
// nil when the line is not a modifier.
func parseQuantityModifier(line string) *quantityModifier {
	line = strings.TrimSpace(line)

	if m := countAtPriceRe.FindStringSubmatch(line); m != nil {
		qty := mustAtoi(m[1])
		unit, err := decimal.NewFromString(m[2])
		if err != nil {
			return nil
		}
		return &quantityModifier{kind: countAtPrice, quantity: qty, unitPrice: unit, rawLine: line}
	}
	if m := weightAtPriceRe.FindStringSubmatch(line); m != nil {
		weight, err := decimal.NewFromString(m[1])
		if err != nil {
			return nil
		}
		// Weight items are quantity 1
		return &quantityModifier{kind: weightAtPrice, quantity: 1, weight: weight, rawLine: line}
	}
	if m := multiForPriceRe.FindStringSubmatch(line); m != nil {
		qty := mustAtoi(m[1])
		total, err := decimal.NewFromString(m[2])
		if err != nil || qty == 0 {
			return nil
		}
		return &quantityModifier{
			kind:      multiForPrice,
			quantity:  qty,
			unitPrice: total.Div(decimal.NewFromInt(int64(qty))),
			dealPrice: total,
			rawLine:   line,
		}
	}
	return nil
}

// validateQuantityPrice checks that the modifier numerically reconciles
// with the matched total, preventing cascade errors where a modifier gets
// paired with the wrong price.
func validateQuantityPrice(totalPrice decimal.Decimal, mod *quantityModifier) bool {
	switch mod.kind {
	case countAtPrice:
		expected := mod.unitPrice.Mul(decimal.NewFromInt(int64(mod.quantity)))
		return expected.Sub(totalPrice).Abs().LessThanOrEqual(quantityTolerance)
	case multiForPrice:
		return mod.dealPrice.Sub(totalPrice).Abs().LessThanOrEqual(quantityTolerance)
	case weightAtPrice:
		// Cannot be validated without the per-unit price; accept as-is
		return true
	}
	return false
}

// looksLikeQuantityExpression reports whether text is a quantity/offer
// modifier line rather than an item description. Deliberately avoids
// broad slash matching so names like "50/70 SHRIMP" survive.
func looksLikeQuantityExpression(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if parseQuantityModifier(text) != nil {
		return true
	}
	return qtyForPrefixRe.MatchString(text) ||
		qtyAtMultiRe.MatchString(text) ||
		qtyParenForRe.MatchString(text) ||
		qtyParenAnyForRe.MatchString(text)
}

// priceWordValue parses a standalone price token like "$18.99" or
// "W 18.99" (T&T prefix). Returns false when the token is not a price.
func priceWordValue(text string) (decimal.Decimal, bool) {
	text = priceWordPrefixRe.ReplaceAllString(strings.TrimSpace(text), "")
	m := priceWordRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

var cleanDescriptionRes = []*regexp.Regexp{
	regexp.MustCompile(`^\(\d+\)\s*`),
	regexp.MustCompile(`(?i)\(SALE\)\s*`),
	regexp.MustCompile(`(?i)\(HED[^)]*\)\s*`),
	regexp.MustCompile(`(?i)\(HHED[^)]*\)\s*`),
	regexp.MustCompile(`@?\d+/[A-Za-z]?\$?\d+\.\d{2}`),
	regexp.MustCompile(`\d+/\$?\d+\.\d{2}`),
	regexp.MustCompile(`\$\d+\.\d+/\w+`),
	regexp.MustCompile(`\$\d+\.\d{2}`),
	regexp.MustCompile(`(?i)\d+s\d+\.\d+ea`),
	regexp.MustCompile(`^\d{6,}\s*`),
	regexp.MustCompile(`(?i)\bCAHRD\b`),
	regexp.MustCompile(`(?i)\bHED\b`),
}

var (
	leadingNonAlnumRe  = regexp.MustCompile(`^[^A-Za-z0-9]+`)
	trailingNonAlnumRe = regexp.MustCompile(`[^A-Za-z0-9)]+$`)
)

// cleanDescription strips pricing fragments, SKU codes, and known OCR
// garbage tokens from an item description.
func cleanDescription(desc string) string {
	for _, re := range cleanDescriptionRes {
		desc = re.ReplaceAllString(desc, "")
	}
	desc = leadingNonAlnumRe.ReplaceAllString(desc, "")
	desc = trailingNonAlnumRe.ReplaceAllString(desc, "")
	desc = whitespaceRe.ReplaceAllString(desc, " ")
	return strings.TrimSpace(desc)
}

// alphaRatio returns the fraction of alphabetic characters, used to
// reject garbled OCR lines.
func alphaRatio(text string) float64 {
	if text == "" {
		return 0
	}
	count := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) {
			count++
		}
	}
	return float64(count) / float64(total)
}

func mustAtoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
