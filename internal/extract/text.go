package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-reconciler/internal/receipt"
)

// Header/footer/payment lines that can never be items
var skipRe = regexp.MustCompile(`(?i)` +
	`TOTAL|SUBTOTAL|SUB\s+TOTAL|TOTALS?\s+ON|` +
	`^TAX$|^HST|^GST|^PST|AFTER\s+TAX|\d+%$|` +
	`CASH|CREDIT|DEBIT|CHANGE|^BALANCE|VISA|MASTERCARD|AMEX|APPROVED|ACTIVATED|^PC\s+\d|^ACCT:|^REFERENCE|` +
	`THANK YOU|WELCOME|RECEIPT|TRANSACTION|POINTS|REWARDS|EARNED|^SAVED$|^YOU SAVED|^CARD|AUTH|` +
	`REF\s*#|SLIP\s*#|^TILL|CASHIER|\bSTORE\b|^PHONE|ADDRESS|SIGNATURE|Merchant|` +
	`^QTY$|^UNIT$|^SAV$|ITEM\s+COUNT|NUMBER\s+OF\s+ITEMS|XXXX+|^CAD|VERIFIED|^PIN$|CUSTOMER\s+COPY|COPY$|` +
	`Optimum|Redeemed`)

var (
	totalWordRe          = regexp.MustCompile(`(?i)\bTOTAL\b`)
	priceEndRe           = regexp.MustCompile(`(\d+\.\d{2})(-?)\s*[HhTtJj]?\s*$`)
	trailingTotalRe      = regexp.MustCompile(`\s+\d+\.\d{2}\s*[HhTtJj]?\s*$`)
	parenFragmentLineRe  = regexp.MustCompile(`^\([^)]*\)?$`)
	parenCodeLineRe      = regexp.MustCompile(`^\([^)]*\)$`)
	digitsOnlyRe         = regexp.MustCompile(`^\d+$`)
	numericOnlyRe        = regexp.MustCompile(`^[\d.]+$`)
	priceOnlyLineRe      = regexp.MustCompile(`^[\d.]+\s*[HhTtJj]?\s*$`)
	standalonePriceTagRe = regexp.MustCompile(`^\$?\d+\.\d{2}\s*[HhTtJj]?\s*$`)
	skuLineRe            = regexp.MustCompile(`^\d{8,}\s*$`)
	leadingLongCodeRe    = regexp.MustCompile(`^\d{8,}\s*`)
	leadingDigitsRe      = regexp.MustCompile(`^\d+\s*`)
	priceInfoLineRe      = regexp.MustCompile(`^\$\d+\.\d{2}`)
	onSaleMarkerRe       = regexp.MustCompile(`(?i)^\([#\w]*\)\s*<?\s*ON\s*SALE`)
	anyPriceRe           = regexp.MustCompile(`\d+\.\d{2}`)
	malformedPriceRe     = regexp.MustCompile(`(\d+[Il]\.\d{2}|\d+\.[Il]\d|\d+\.\d[Il])\s*[HhTtJj]?\s*$`)
	tailTokenRe          = regexp.MustCompile(`([0-9A-Za-z]\.[0-9A-Za-z]{2,3}[HhTtJj]?)\s*$`)
)

func warnContext(line string) string {
	context := strings.TrimSpace(line)
	if len(context) > 80 {
		context = context[:80]
	}
	return context
}

func appendWarning(warnings *[]receipt.Warning, message string, itemCount int) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, receipt.Warning{
		Message:        message,
		AfterItemIndex: itemCount - 1,
	})
}

func hasAlpha(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}

// ExtractItems extracts line items by scanning text lines in order.
// Processing stops at the first TOTAL line; everything after it is
// payment and footer noise. Duplicate items are preserved: two cartons
// of the same milk are two items.
func ExtractItems(lines []string, summaryAmounts map[string]struct{}, warnings *[]receipt.Warning) []receipt.Item {
	var items []receipt.Item
	if summaryAmounts == nil {
		summaryAmounts = map[string]struct{}{}
	}

	totalLineIdx := -1
	for i, line := range lines {
		if totalWordRe.MatchString(line) && !strings.Contains(strings.ToUpper(line), "SUBTOTAL") {
			totalLineIdx = i
			break
		}
	}

	for i, line := range lines {
		if totalLineIdx >= 0 && i > totalLineIdx {
			break
		}
		if skipRe.MatchString(line) {
			continue
		}
		if len(line) < 3 || digitsOnlyRe.MatchString(line) {
			continue
		}

		// Quantity expressions are captured with their item during the
		// backward search, except Loblaw-style rows that carry a trailing
		// total on the same line.
		isQtyLine := looksLikeQuantityExpression(line)
		hasTrailingTotal := trailingTotalRe.MatchString(line)
		if isQtyLine && !hasTrailingTotal {
			if strings.Contains(strings.ToLower(line), "/for") {
				if m := tailTokenRe.FindStringSubmatch(line); m != nil && hasAlpha(m[1]) {
					appendWarning(warnings,
						fmt.Sprintf("maybe missed item near malformed multi-buy total %q (context: %q)", m[1], warnContext(line)),
						len(items))
				}
			}
			continue
		}

		// Bare parenthetical codes like "( nel #44)" unless they still
		// carry a trailing item total
		if parenFragmentLineRe.MatchString(line) && !lineHasTrailingPrice(line) {
			continue
		}

		match := priceEndRe.FindStringSubmatchIndex(line)
		if match == nil {
			// OCR can corrupt trailing prices ("8l.99", "1I.50") and
			// multi-buy totals ("2 /for S.OOH"); flag likely misses.
			if m := malformedPriceRe.FindStringSubmatch(line); m != nil {
				appendWarning(warnings,
					fmt.Sprintf("maybe missed item with malformed OCR price %q (context: %q)", m[1], warnContext(line)),
					len(items))
			} else if strings.Contains(strings.ToLower(line), "/for") {
				if m := tailTokenRe.FindStringSubmatch(line); m != nil && hasAlpha(m[1]) {
					appendWarning(warnings,
						fmt.Sprintf("maybe missed item near malformed multi-buy total %q (context: %q)", m[1], warnContext(line)),
						len(items))
				}
			}
			continue
		}

		price, err := decimal.NewFromString(line[match[2]:match[3]])
		if err != nil {
			continue
		}
		if line[match[4]:match[5]] == "-" {
			price = price.Neg()
		}

		lineUpper := strings.ToUpper(line)

		// @REG$/REG$ promo rows: a lone reg price is metadata for the item
		// above; a row with both reg and sale prices is the item's price row.
		if strings.Contains(lineUpper, "REG$") || strings.Contains(lineUpper, "@REG") {
			prices := anyPriceRe.FindAllString(line, -1)
			if len(prices) > 1 && i > 0 && lineHasTrailingPrice(lines[i-1]) {
				continue
			}
		}

		if strings.Contains(lineUpper, "TOTAL") {
			continue
		}

		// A bare price directly below a TOTAL/SUBTOTAL label is that
		// label's amount, not an item
		if i > 0 {
			if _, isSummaryAmount := summaryAmounts[price.Abs().StringFixed(2)]; isSummaryAmount {
				prevUpper := strings.ToUpper(lines[i-1])
				if strings.Contains(prevUpper, "TOTAL") || strings.Contains(prevUpper, "SUB TOTAL") {
					continue
				}
			}
		}

		descPart := strings.TrimSpace(line[:match[0]])
		forceBackward := strings.Contains(lineUpper, "REG$") || strings.Contains(lineUpper, "@REG")
		if descPart != "" {
			descPart = leadingLongCodeRe.ReplaceAllString(descPart, "")
		}

		// Priced aisle/section headers ("33-BAKERY INSTORE 12.00") name a
		// section, not an item; the real description sits nearby.
		isPricedSectionHeader := descPart != "" && isSectionHeaderText(descPart)
		if isPricedSectionHeader {
			descPart = ""
			if headerPriceDuplicatedBelow(lines, i, price) {
				continue
			}
		}

		isQtyExpr := false
		if descPart != "" {
			isQtyExpr = looksLikeQuantityExpression(descPart) || onSaleMarkerRe.MatchString(descPart)
		}

		if descPart != "" && len(descPart) > 2 && !isQtyExpr && !forceBackward {
			items = append(items, receipt.Item{
				Description: descPart,
				Price:       price,
				Quantity:    1,
			})
			continue
		}

		// Price on its own line: search for the description, collecting
		// quantity modifiers along the way
		var qtyInfo []string
		var qtyModifiers []*quantityModifier
		foundDesc := ""

		if isPricedSectionHeader {
			foundDesc = lookAheadDescription(lines, i)
			if foundDesc == "" {
				// No safe lookahead description for this header price row
				continue
			}
		}

		if foundDesc == "" {
			lo := i - 6
			if lo < -1 {
				lo = -1
			}
			for j := i - 1; j > lo; j-- {
				prevLine := strings.TrimSpace(lines[j])
				if priceOnlyLineRe.MatchString(prevLine) {
					continue
				}
				if skuLineRe.MatchString(prevLine) {
					continue
				}
				if skipRe.MatchString(prevLine) {
					continue
				}
				if mod := parseQuantityModifier(prevLine); mod != nil {
					qtyModifiers = append(qtyModifiers, mod)
					qtyInfo = append(qtyInfo, prevLine)
					continue
				}
				if looksLikeQuantityExpression(prevLine) {
					qtyInfo = append(qtyInfo, prevLine)
					continue
				}
				// Unit-price info rows like "$2.99 ea or 2/$5.00 KB"
				if priceInfoLineRe.MatchString(prevLine) {
					continue
				}
				if parenCodeLineRe.MatchString(prevLine) {
					continue
				}
				// Incomplete parentheticals are usually garbled OCR of
				// non-Latin text
				if strings.HasPrefix(prevLine, "(") && !strings.HasSuffix(prevLine, ")") {
					continue
				}
				if onSaleMarkerRe.MatchString(prevLine) {
					continue
				}
				if qtyParenForRe.MatchString(prevLine) {
					continue
				}
				// Short codes like "MRJ", "KB" are tax/sale markers
				if len(prevLine) <= 3 {
					continue
				}
				descForRatio := leadingDigitsRe.ReplaceAllString(prevLine, "")
				if alphaRatio(descForRatio) < 0.5 {
					continue
				}
				if len(prevLine) > 2 && !numericOnlyRe.MatchString(prevLine) {
					foundDesc = prevLine
					break
				}
			}
		}

		if foundDesc != "" {
			quantity := 1
			suffix := ""

			if len(qtyModifiers) > 0 {
				// First modifier is the closest to the price line
				mod := qtyModifiers[0]
				if validateQuantityPrice(price, mod) {
					quantity = mod.quantity
					if mod.kind == weightAtPrice {
						suffix = fmt.Sprintf(" (%s lb)", mod.weight.String())
					}
				} else {
					suffix = " (" + strings.Join(reversedStrings(qtyInfo), ", ") + ")"
				}
			} else if len(qtyInfo) > 0 {
				suffix = " (" + strings.Join(reversedStrings(qtyInfo), ", ") + ")"
			}

			items = append(items, receipt.Item{
				Description: foundDesc + suffix,
				Price:       price,
				Quantity:    quantity,
			})
		} else if price.IsPositive() {
			message := fmt.Sprintf("maybe missed item near price %s", price.StringFixed(2))
			if context := warnContext(line); context != "" {
				message += fmt.Sprintf(" (context: %q)", context)
			}
			appendWarning(warnings, message, len(items))
		}
	}

	return items
}

// headerPriceDuplicatedBelow reports whether the next content line
// repeats the header row's trailing price, meaning the header row is
// metadata and the priced line below will parse itself.
func headerPriceDuplicatedBelow(lines []string, i int, price decimal.Decimal) bool {
	hi := i + 4
	if hi > len(lines) {
		hi = len(lines)
	}
	for j := i + 1; j < hi; j++ {
		nextLine := strings.TrimSpace(lines[j])
		if nextLine == "" {
			continue
		}
		if looksLikeSummaryLine(nextLine) {
			return false
		}
		m := priceEndRe.FindStringSubmatch(nextLine)
		if m != nil {
			nextPrice, err := decimal.NewFromString(m[1])
			if err == nil {
				if m[2] == "-" {
					nextPrice = nextPrice.Neg()
				}
				if nextPrice.Equal(price) {
					return true
				}
			}
		}
		return false
	}
	return false
}

// lookAheadDescription finds the SKU-led item line that usually follows a
// priced section header ("62843020000 DOUGHNUTS MRJ").
func lookAheadDescription(lines []string, i int) string {
	hi := i + 5
	if hi > len(lines) {
		hi = len(lines)
	}
	for j := i + 1; j < hi; j++ {
		nextLine := strings.TrimSpace(lines[j])
		if nextLine == "" {
			continue
		}
		if skipRe.MatchString(nextLine) {
			continue
		}
		if looksLikeSummaryLine(nextLine) {
			continue
		}
		if looksLikeQuantityExpression(nextLine) {
			continue
		}
		// A standalone priced item keeps its own price; do not borrow it
		if priceEndRe.MatchString(nextLine) {
			continue
		}
		if standalonePriceTagRe.MatchString(nextLine) {
			continue
		}
		if skuLineRe.MatchString(nextLine) {
			continue
		}
		cleaned := stripLeadingReceiptCodes(nextLine)
		if cleaned == "" {
			continue
		}
		if isSectionHeaderText(cleaned) {
			continue
		}
		if alphaRatio(cleaned) < 0.5 {
			continue
		}
		return cleaned
	}
	return ""
}

func reversedStrings(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[len(in)-1-i] = s
	}
	return out
}
