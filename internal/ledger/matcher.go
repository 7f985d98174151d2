package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-reconciler/internal/receipt"
)

// MatchConfig tunes how strictly receipts are compared to transactions.
type MatchConfig struct {
	DateToleranceDays      int
	AmountTolerance        decimal.Decimal
	AmountTolerancePercent decimal.Decimal
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		DateToleranceDays:      3,
		AmountTolerance:        decimal.RequireFromString("0.10"),
		AmountTolerancePercent: decimal.RequireFromString("0.01"),
	}
}

// MatchResult pairs a statement transaction with a confidence score for
// one receipt. Details explains each scoring component for review.
type MatchResult struct {
	Transaction *Transaction
	Confidence  float64
	Details     string
}

// Key identifies the matched transaction by source location.
func (m *MatchResult) Key() MatchKey {
	return MatchKey{FilePath: m.Transaction.FilePath, LineNumber: m.Transaction.LineNumber}
}

// ReceiptMatchResult is the reverse direction: a receipt scored against
// one transaction.
type ReceiptMatchResult struct {
	Receipt    *receipt.StoredReceipt
	Confidence float64
	Details    string
}

// MatchKey identifies a transaction within the ledger tree so an
// already-used match can be recognized across a session.
type MatchKey struct {
	FilePath   string
	LineNumber int
}

// Matcher scores receipts against credit card transactions on date,
// amount, and merchant.
type Matcher struct {
	config MatchConfig
}

func NewMatcher(config MatchConfig) *Matcher {
	return &Matcher{config: config}
}

// MatchReceiptToTransactions scores every candidate transaction against
// the receipt, dropping hard rejects, sorted by descending confidence.
func (m *Matcher) MatchReceiptToTransactions(r *receipt.Receipt, txns []*Transaction) []MatchResult {
	results := make([]MatchResult, 0)
	for _, txn := range txns {
		confidence, details, ok := m.score(r, txn)
		if !ok {
			continue
		}
		results = append(results, MatchResult{Transaction: txn, Confidence: confidence, Details: details})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

// MatchTransactionToReceipts is the reverse lookup for a statement
// transaction against stored receipts.
func (m *Matcher) MatchTransactionToReceipts(txn *Transaction, receipts []*receipt.StoredReceipt) []ReceiptMatchResult {
	results := make([]ReceiptMatchResult, 0)
	for _, stored := range receipts {
		confidence, details, ok := m.score(stored.Receipt, txn)
		if !ok {
			continue
		}
		results = append(results, ReceiptMatchResult{Receipt: stored, Confidence: confidence, Details: details})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

func (m *Matcher) score(r *receipt.Receipt, txn *Transaction) (float64, string, bool) {
	charge := txn.ChargeAmount()
	if charge == nil {
		return 0, "", false
	}

	confidence := 0.0
	details := make([]string, 0, 3)

	if r.DateIsPlaceholder {
		details = append(details, "date: unknown")
	} else {
		diffDays := int(r.Date.Sub(txn.Date).Hours() / 24)
		if diffDays < 0 {
			diffDays = -diffDays
		}
		if diffDays > m.config.DateToleranceDays {
			return 0, "", false
		}
		confidence += 0.4 * (1.0 - float64(diffDays)/float64(m.config.DateToleranceDays+1))
		if diffDays == 0 {
			details = append(details, "date: exact match")
		} else {
			details = append(details, fmt.Sprintf("date: %d day(s) off", diffDays))
		}
	}

	tolerance := m.config.AmountTolerance
	if pct := r.Total.Mul(m.config.AmountTolerancePercent); pct.GreaterThan(tolerance) {
		tolerance = pct
	}
	diff := r.Total.Sub(*charge).Abs()
	if diff.GreaterThan(tolerance) {
		return 0, "", false
	}
	ratio, _ := diff.Div(tolerance).Float64()
	confidence += 0.4 * (1.0 - ratio)
	if diff.IsZero() {
		details = append(details, "amount: exact match")
	} else {
		details = append(details, fmt.Sprintf("amount: $%s off", diff.StringFixed(2)))
	}

	merchantScore := MerchantSimilarity(r.Merchant, txn.Payee)
	if merchantScore < 0.3 {
		return 0, "", false
	}
	confidence += 0.2 * merchantScore
	if merchantScore > 0.8 {
		details = append(details, "merchant: good match")
	} else {
		details = append(details, fmt.Sprintf("merchant: partial match (%.0f%%)", merchantScore*100))
	}

	return confidence, strings.Join(details, ", "), true
}
