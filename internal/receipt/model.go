package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item is a single line item on a receipt.
//
// Price is the authoritative line total as stated on the receipt.
// Quantity is informational only and must never be used to recompute the
// total.
type Item struct {
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Category    string          `json:"category,omitempty"` // e.g. "Expenses:Food:Grocery:Dairy"
}

// Total returns the amount this item contributes to the receipt total.
func (i Item) Total() decimal.Decimal {
	return i.Price
}

// Warning is a soft extraction failure anchored near an item position.
// It never blocks extraction; it exists for human review.
type Warning struct {
	Message string `json:"message"`
	// Insert the warning after this item index when rendering. -1 means no anchor.
	AfterItemIndex int `json:"after_item_index"`
}

// Receipt is the assembled result of a parse. Built once by the
// extraction pipeline; treated as immutable afterwards except when its
// serialized draft is edited by a human and re-parsed.
type Receipt struct {
	Merchant          string           `json:"merchant"`
	Date              time.Time        `json:"date"`
	DateIsPlaceholder bool             `json:"date_is_placeholder"`
	Total             decimal.Decimal  `json:"total"`
	Items             []Item           `json:"items"`
	Tax               *decimal.Decimal `json:"tax,omitempty"`
	Subtotal          *decimal.Decimal `json:"subtotal,omitempty"`
	RawText           string           `json:"raw_text"`
	ImageFilename     string           `json:"image_filename"`
	Warnings          []Warning        `json:"warnings,omitempty"`
}

// ItemizedTotal returns the total represented by itemized lines plus tax.
func (r *Receipt) ItemizedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Total())
	}
	if r.Tax != nil {
		total = total.Add(*r.Tax)
	}
	return total
}

// PlaceholderDate returns the stand-in used when no date could be
// extracted: the first day of the current month.
func PlaceholderDate() time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
