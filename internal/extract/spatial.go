package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-reconciler/internal/ocr"
	"github.com/zombor/receipt-reconciler/internal/receipt"
)

// spatialLine is one grouped row with the left-zone text that could name
// an item.
type spatialLine struct {
	y        float64
	fullText string
	leftText string
	leftX    float64
}

// pricedWord is a right-zone currency token and the row it came from.
type pricedWord struct {
	price      decimal.Decimal
	y          float64
	sourceLine *spatialLine
}

var (
	numericTokenRe    = regexp.MustCompile(`^[\d.]+$`)
	bareSKURowRe      = regexp.MustCompile(`^\d{8,}\s*$`)
	garbledParenRe    = regexp.MustCompile(`^\(H{1,2}E[DI]?\b`)
	shortParenCodeRe  = regexp.MustCompile(`^\([^)]{1,5}\)`)
	onSaleAnywhereRe  = regexp.MustCompile(`(?i)ON\s*SALE`)
	weightInfoRowRe   = regexp.MustCompile(`(?i)^\d+\.\d+\s*kg`)
	wPricePrefixRowRe = regexp.MustCompile(`^W\s*\$`)
	barePriceRowRe    = regexp.MustCompile(`^\$?\d+\.\d{2}$`)
	standaloneAmtRe   = regexp.MustCompile(`^\$?\d+\.\d{2}\s*$`)
)

// ExtractItemsSpatial extracts items from word geometry, for receipts
// where the description and its price share a row at opposite horizontal
// extremes. Every consumed row is marked used so a later price cannot
// re-claim it; prices with no discoverable row produce a warning rather
// than vanishing.
func ExtractItemsSpatial(pages []ocr.Page, warnings *[]receipt.Warning) []receipt.Item {
	var items []receipt.Item
	if len(pages) == 0 {
		return items
	}

	var allLines []*spatialLine
	var priceWords []pricedWord

	for _, page := range pages {
		for _, line := range page.Lines {
			if len(line.Words) == 0 {
				continue
			}
			lineHasPrice := lineHasTrailingPrice(line.Text)

			var leftWords []string
			leftX := 1.0
			leftY := math.NaN()
			for _, word := range line.Words {
				xCenter := word.CenterX()
				if xCenter >= itemXThreshold {
					continue
				}
				text := word.Text
				if len(text) <= 1 || numericTokenRe.MatchString(text) {
					continue
				}
				if isSectionHeaderText(text) && !lineHasPrice {
					continue
				}
				leftWords = append(leftWords, text)
				if xCenter < leftX {
					leftX = xCenter
				}
				if math.IsNaN(leftY) {
					leftY = word.CenterY()
				}
			}

			lineY := leftY
			if math.IsNaN(lineY) {
				lineY = line.Words[0].CenterY()
			}
			sl := &spatialLine{
				y:        lineY,
				fullText: line.Text,
				leftText: strings.Join(leftWords, " "),
				leftX:    leftX,
			}
			allLines = append(allLines, sl)

			for _, word := range line.Words {
				if word.Confidence < minWordConfidence {
					continue
				}
				if word.CenterX() <= priceXThreshold {
					continue
				}
				if price, ok := priceWordValue(word.Text); ok && price.IsPositive() {
					priceWords = append(priceWords, pricedWord{price: price, y: word.CenterY(), sourceLine: sl})
				}
			}
		}
	}

	// Y of the TOTAL line bounds the item section; prices below it are
	// payment/footer noise
	totalLineY := math.NaN()
	for _, sl := range allLines {
		fullUpper := strings.ToUpper(sl.fullText)
		if strings.Contains(fullUpper, "TOTAL") && !strings.Contains(fullUpper, "SUBTOTAL") {
			if math.IsNaN(totalLineY) || sl.y < totalLineY {
				totalLineY = sl.y
			}
		}
	}

	usedItemYs := make(map[float64]bool)

	for _, pw := range priceWords {
		price := pw.price
		priceY := pw.y
		if !math.IsNaN(totalLineY) && priceY > totalLineY+yTolerance {
			continue
		}

		var closestToPrice *spatialLine
		for _, sl := range allLines {
			if closestToPrice == nil || math.Abs(sl.y-priceY) < math.Abs(closestToPrice.y-priceY) {
				closestToPrice = sl
			}
		}

		preferBelow := false
		priceLineHasOnSale := false
		var onSaleTarget *spatialLine
		sourceFullText := ""
		sourceY := math.NaN()
		if pw.sourceLine != nil {
			sourceFullText = pw.sourceLine.fullText
			sourceY = pw.sourceLine.y
		}
		if closestToPrice != nil {
			fullUpper := strings.ToUpper(closestToPrice.fullText)
			if sourceFullText != "" {
				fullUpper = strings.ToUpper(sourceFullText)
			}
			priceLineHasOnSale = strings.Contains(fullUpper, "ONSALE") || strings.Contains(fullUpper, "ON SALE")
			leftIsHeader := isSectionHeaderText(closestToPrice.leftText) &&
				!isPricedGenericItemLabel(closestToPrice.leftText, closestToPrice.fullText)
			if leftIsHeader || isSectionHeaderText(closestToPrice.fullText) || closestToPrice.leftText == "" {
				preferBelow = true
			}
			// ONSALE marker rows usually carry the sale price for adjacent
			// item text
			if priceLineHasOnSale {
				preferBelow = true
			}
		}

		isSummary := false
		if !math.IsNaN(totalLineY) && priceY > totalLineY-maxItemDistance {
			for _, sl := range allLines {
				if math.Abs(sl.y-priceY) > yTolerance {
					continue
				}
				if looksLikeSummaryLine(sl.leftText) || looksLikeSummaryLine(sl.fullText) {
					isSummary = true
					break
				}
			}
		}
		if closestToPrice != nil && !isSummary {
			if looksLikeSummaryLine(closestToPrice.leftText) || looksLikeSummaryLine(closestToPrice.fullText) {
				isSummary = true
			} else if standaloneAmtRe.MatchString(strings.TrimSpace(closestToPrice.fullText)) {
				// Two-line summaries ("TOTAL" / "73.63"): the amount row has
				// no keyword, so inspect the nearest preceding row
				var nearestAbove *spatialLine
				for _, sl := range allLines {
					if sl.y >= closestToPrice.y {
						continue
					}
					if nearestAbove == nil || sl.y > nearestAbove.y {
						nearestAbove = sl
					}
				}
				if nearestAbove != nil && closestToPrice.y-nearestAbove.y <= maxItemDistance &&
					(looksLikeSummaryLine(nearestAbove.leftText) || looksLikeSummaryLine(nearestAbove.fullText)) {
					isSummary = true
				}
				// OCR row jitter can shift summary labels slightly; near the
				// TOTAL block, neighboring summary labels are authoritative
				if !isSummary && !math.IsNaN(totalLineY) && closestToPrice.y > totalLineY-maxItemDistance {
					for _, sl := range allLines {
						if math.Abs(sl.y-closestToPrice.y) > maxItemDistance {
							continue
						}
						if looksLikeSummaryLine(sl.leftText) || looksLikeSummaryLine(sl.fullText) {
							isSummary = true
							break
						}
					}
				}
			}
			if !isSummary && priceLineHasOnSale {
				anchorY := closestToPrice.y
				if !math.IsNaN(sourceY) {
					anchorY = sourceY
				}
				var nearestBelow *spatialLine
				for _, sl := range allLines {
					if sl.y <= anchorY || sl.y-anchorY > maxItemDistance {
						continue
					}
					if !isValidOnSaleTarget(sl) {
						continue
					}
					if nearestBelow == nil || sl.y < nearestBelow.y {
						nearestBelow = sl
					}
				}
				if nearestBelow != nil {
					onSaleTarget = nearestBelow
				} else {
					isSummary = true
				}
			}
		}
		if isSummary {
			continue
		}

		var closestLine *spatialLine
		closestDistance := math.Inf(1)

		// Fast path: the nearest row, when it is clearly a descriptive
		// priced item row rather than a qty/offer row
		if closestToPrice != nil &&
			!usedItemYs[closestToPrice.y] &&
			math.Abs(closestToPrice.y-priceY) <= yTolerance &&
			lineHasTrailingPrice(closestToPrice.fullText) &&
			!looksLikeQuantityExpression(closestToPrice.leftText) &&
			isValidItemLine(closestToPrice, totalLineY) {
			closestLine = closestToPrice
			closestDistance = math.Abs(closestToPrice.y - priceY)
		}

		if onSaleTarget != nil && !usedItemYs[onSaleTarget.y] {
			closestLine = onSaleTarget
			closestDistance = math.Abs(onSaleTarget.y - priceY)
		}

		if preferBelow && closestLine == nil {
			for _, sl := range allLines {
				if sl.y < priceY || sl.y-priceY > maxItemDistance {
					continue
				}
				if !isValidItemLine(sl, totalLineY) || usedItemYs[sl.y] {
					continue
				}
				if d := math.Abs(sl.y - priceY); d < closestDistance {
					closestDistance = d
					closestLine = sl
				}
			}
		}

		// First pass: rows at or above the price only
		if closestLine == nil {
			for _, sl := range allLines {
				if sl.y > priceY || priceY-sl.y > maxItemDistance {
					continue
				}
				// ONSALE rows must not steal rows that carry their own price
				if priceLineHasOnSale && sl.y < priceY && lineHasTrailingPrice(sl.fullText) {
					continue
				}
				if !isValidItemLine(sl, totalLineY) || usedItemYs[sl.y] {
					continue
				}
				if d := math.Abs(sl.y - priceY); d < closestDistance {
					closestDistance = d
					closestLine = sl
				}
			}
		}

		// Second pass: allow a small tolerance below for same-row word
		// height jitter
		if closestLine == nil {
			for _, sl := range allLines {
				if sl.y > priceY+yTolerance*2 || sl.y <= priceY {
					continue
				}
				if !isValidItemLine(sl, totalLineY) || usedItemYs[sl.y] {
					continue
				}
				if d := math.Abs(sl.y - priceY); d < closestDistance {
					closestDistance = d
					closestLine = sl
				}
			}
		}

		found := false
		if closestLine != nil && closestDistance <= yTolerance {
			description := cleanDescription(closestLine.leftText)
			if len(description) > 2 {
				usedItemYs[closestLine.y] = true
				items = append(items, receipt.Item{Description: description, Price: price, Quantity: 1})
				found = true
			}
		} else {
			// Nothing on the same row: walk up to 5 rows above the price
			var above []*spatialLine
			for _, sl := range allLines {
				if sl.y < priceY-yTolerance && priceY-sl.y <= maxItemDistance {
					above = append(above, sl)
				}
			}
			sort.SliceStable(above, func(i, j int) bool { return above[i].y > above[j].y })
			if len(above) > 5 {
				above = above[:5]
			}
			for _, sl := range above {
				if usedItemYs[sl.y] {
					continue
				}
				if priceLineHasOnSale && lineHasTrailingPrice(sl.fullText) {
					continue
				}
				if len(sl.leftText) < 3 {
					continue
				}
				if looksLikeSummaryLine(sl.leftText) || looksLikeSummaryLine(sl.fullText) {
					continue
				}
				if weightInfoRowRe.MatchString(sl.fullText) ||
					wPricePrefixRowRe.MatchString(sl.fullText) ||
					barePriceRowRe.MatchString(sl.fullText) {
					continue
				}
				leftIsHeader := isSectionHeaderText(sl.leftText) && !isPricedGenericItemLabel(sl.leftText, sl.fullText)
				if leftIsHeader || isSectionHeaderText(sl.fullText) {
					continue
				}
				stripped := stripLeadingReceiptCodes(sl.leftText)
				if stripped == "" || alphaRatio(stripped) < 0.4 {
					continue
				}

				description := cleanDescription(sl.leftText)
				if len(description) > 2 {
					usedItemYs[sl.y] = true
					items = append(items, receipt.Item{Description: description, Price: price, Quantity: 1})
					found = true
					break
				}
			}
		}

		if !found {
			context := strings.TrimSpace(sourceFullText)
			if context == "" && closestToPrice != nil {
				context = strings.TrimSpace(closestToPrice.fullText)
			}
			if len(context) > 80 {
				context = context[:80]
			}
			message := fmt.Sprintf("maybe missed item near price %s", price.StringFixed(2))
			if context != "" {
				message += fmt.Sprintf(" (context: %q)", context)
			}
			appendWarning(warnings, message, len(items))
		}
	}

	return items
}

func isValidOnSaleTarget(sl *spatialLine) bool {
	if sl.leftText == "" {
		return false
	}
	if looksLikeSummaryLine(sl.leftText) || looksLikeSummaryLine(sl.fullText) {
		return false
	}
	if isSectionHeaderText(sl.leftText) || isSectionHeaderText(sl.fullText) {
		return false
	}
	if looksLikeQuantityExpression(sl.leftText) {
		return false
	}
	if lineHasTrailingPrice(sl.fullText) {
		return false
	}
	stripped := stripLeadingReceiptCodes(sl.leftText)
	if stripped == "" || alphaRatio(stripped) < 0.5 {
		return false
	}
	return true
}

func isValidItemLine(sl *spatialLine, totalLineY float64) bool {
	if sl.leftText == "" {
		return false
	}
	if len(sl.leftText) < 5 && !isPricedGenericItemLabel(sl.leftText, sl.fullText) {
		return false
	}
	if !math.IsNaN(totalLineY) && sl.y > totalLineY+yTolerance {
		return false
	}
	if looksLikeSummaryLine(sl.leftText) || looksLikeSummaryLine(sl.fullText) {
		return false
	}
	leftIsHeader := isSectionHeaderText(sl.leftText) && !isPricedGenericItemLabel(sl.leftText, sl.fullText)
	if leftIsHeader || isSectionHeaderText(sl.fullText) {
		return false
	}
	// Bare SKU rows are codes, but SKU-prefixed descriptions are fine
	if bareSKURowRe.MatchString(sl.fullText) {
		return false
	}
	stripped := stripLeadingReceiptCodes(sl.leftText)
	if stripped == "" || alphaRatio(stripped) < 0.5 {
		return false
	}
	if garbledParenRe.MatchString(sl.leftText) {
		return false
	}
	// Short single-word fragments are usually failed OCR
	if len(sl.leftText) < 8 && !strings.Contains(sl.leftText, " ") &&
		!isPricedGenericItemLabel(sl.leftText, sl.fullText) {
		return false
	}
	if footerAddressRe.MatchString(sl.fullText) {
		return false
	}
	if onSaleAnywhereRe.MatchString(sl.leftText) {
		return false
	}
	if qtyParenForRe.MatchString(sl.leftText) {
		return false
	}
	if shortParenCodeRe.MatchString(sl.leftText) && len(sl.leftText) < 12 {
		return false
	}
	return true
}
