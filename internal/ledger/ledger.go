// Package ledger reads beancount statement files, matches receipts to
// their credit card transactions, and applies enrichment replacements.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Posting is one line of a transaction. HasAmount is false for elided
// postings that beancount balances automatically.
type Posting struct {
	Account   string
	Amount    decimal.Decimal
	Currency  string
	HasAmount bool
	Comment   string
}

// Transaction is a parsed beancount transaction with its source
// location, which the writer needs to replace it in place.
type Transaction struct {
	Date       time.Time
	Flag       string
	Payee      string
	Narration  string
	Postings   []Posting
	FilePath   string
	LineNumber int
}

// ChargeAmount returns the absolute value of the first negative posting,
// which on a statement is the credit card charge. nil when the
// transaction has no negative posting.
func (t *Transaction) ChargeAmount() *decimal.Decimal {
	for _, p := range t.Postings {
		if p.HasAmount && p.Amount.IsNegative() {
			amount := p.Amount.Abs()
			return &amount
		}
	}
	return nil
}

// ExpenseAccount returns the account of the first positive posting,
// used as the base category when enriching.
func (t *Transaction) ExpenseAccount() string {
	for _, p := range t.Postings {
		if p.HasAmount && p.Amount.IsPositive() {
			return p.Account
		}
	}
	return ""
}
