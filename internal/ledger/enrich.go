package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-reconciler/internal/receipt"
)

const fallbackCreditCardAccount = "Liabilities:CreditCard:FIXME"

var remainingThreshold = decimal.RequireFromString("0.01")

// FormatEnrichedTransaction renders the replacement for a matched
// statement transaction: the original date, payee, and card posting are
// kept, while the single expense line becomes the receipt's itemized
// splits. defaultExpense is used for items without a category when the
// original transaction has no positive posting to inherit from.
func FormatEnrichedTransaction(r *receipt.Receipt, match *MatchResult, defaultExpense string) string {
	txn := match.Transaction
	lines := []string{
		"; === ENRICHED TRANSACTION - REVIEW NEEDED ===",
		fmt.Sprintf("; Receipt: %s", r.ImageFilename),
		fmt.Sprintf("; Matched: %s:%d", txn.FilePath, txn.LineNumber),
		fmt.Sprintf("; Confidence: %.0f%% (%s)", match.Confidence*100, match.Details),
		"",
	}

	dateStr := txn.Date.Format("2006-01-02")
	payee := strings.ReplaceAll(txn.Payee, `"`, "'")
	narration := strings.ReplaceAll(txn.Narration, `"`, "'")
	lines = append(lines, fmt.Sprintf(`%s * "%s" "%s"`, dateStr, payee, narration))

	var ccAccount string
	var ccAmount *decimal.Decimal
	for _, p := range txn.Postings {
		if p.HasAmount && p.Amount.IsNegative() {
			amount := p.Amount
			ccAccount = p.Account
			ccAmount = &amount
		}
	}

	postings := make([]receipt.Posting, 0, len(r.Items)+3)
	if ccAmount != nil {
		postings = append(postings, receipt.Posting{
			Account: ccAccount,
			Amount:  fmt.Sprintf("%s CAD", ccAmount.StringFixed(2)),
		})
	} else {
		postings = append(postings, receipt.Posting{
			Account: fallbackCreditCardAccount,
			Amount:  fmt.Sprintf("-%s CAD", r.Total.StringFixed(2)),
		})
	}

	expenseBase := txn.ExpenseAccount()
	if expenseBase == "" {
		expenseBase = defaultExpense
	}

	itemsTotal := decimal.Zero
	for _, item := range r.Items {
		category := item.Category
		if category == "" {
			category = expenseBase
		}
		comment := strings.ReplaceAll(item.Description, `"`, "'")
		if item.Quantity > 1 {
			comment = fmt.Sprintf("%s (qty %d)", comment, item.Quantity)
		}
		postings = append(postings, receipt.Posting{
			Account: category,
			Amount:  fmt.Sprintf("%s CAD", item.Price.StringFixed(2)),
			Comment: comment,
		})
		itemsTotal = itemsTotal.Add(item.Price)
	}

	if r.Tax != nil {
		postings = append(postings, receipt.Posting{
			Account: receipt.TaxAccount,
			Amount:  fmt.Sprintf("%s CAD", r.Tax.StringFixed(2)),
		})
		itemsTotal = itemsTotal.Add(*r.Tax)
	}

	expectedTotal := r.Total
	if ccAmount != nil {
		expectedTotal = ccAmount.Abs()
	}
	if !itemsTotal.Equal(expectedTotal) && expectedTotal.IsPositive() {
		diff := expectedTotal.Sub(itemsTotal)
		if diff.GreaterThan(remainingThreshold) {
			postings = append(postings, receipt.Posting{
				Account: expenseBase,
				Amount:  fmt.Sprintf("%s CAD", diff.StringFixed(2)),
				Comment: "remaining/unitemized",
			})
		} else if diff.LessThan(remainingThreshold.Neg()) {
			lines = append(lines, fmt.Sprintf("  ; WARNING: items total (%s) exceeds transaction (%s)",
				itemsTotal.StringFixed(2), expectedTotal.StringFixed(2)))
		}
	}

	lines = append(lines, receipt.AlignPostings(postings)...)
	lines = append(lines, "")

	lines = append(lines, "; --- Original Transaction (to be replaced) ---")
	lines = append(lines, fmt.Sprintf(`; %s * "%s" "%s"`, dateStr, payee, narration))
	for _, p := range txn.Postings {
		if p.HasAmount {
			lines = append(lines, fmt.Sprintf(";   %s  %s %s", p.Account, p.Amount.StringFixed(2), p.Currency))
		}
	}

	return strings.Join(lines, "\n")
}
