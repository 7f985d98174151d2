package ledger

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-reconciler/internal/receipt"
)

var _ = Describe("MerchantSimilarity", func() {
	It("should score identical names as containment", func() {
		Expect(MerchantSimilarity("COSTCO", "COSTCO")).To(BeNumerically("~", 0.9, 0.001))
	})

	It("should see through store numbers and OCR spacing", func() {
		score := MerchantSimilarity("WALMART SUPERCENTER #1234", "WAL MART #1234")
		Expect(score).To(BeNumerically(">=", 0.5))
	})

	It("should score unrelated merchants as zero", func() {
		Expect(MerchantSimilarity("WALMART", "COSTCO")).To(BeZero())
	})

	It("should score empty names as zero", func() {
		Expect(MerchantSimilarity("", "COSTCO")).To(BeZero())
	})

	It("should reward shared words when prefixes diverge", func() {
		score := MerchantSimilarity("CANADIAN TIRE GAS", "GAS BAR CANADIAN")
		Expect(score).To(BeNumerically(">", 0.3))
		Expect(score).To(BeNumerically("<", 0.9))
	})
})

var _ = Describe("Matcher", func() {
	var (
		matcher *Matcher
		rcpt    *receipt.Receipt
		txn     *Transaction
	)

	newTxn := func(date time.Time, payee, amount string) *Transaction {
		return &Transaction{
			Date:  date,
			Flag:  "*",
			Payee: payee,
			Postings: []Posting{
				{Account: "Liabilities:CreditCard:Visa", Amount: dec(amount).Neg(), Currency: "CAD", HasAmount: true},
				{Account: "Expenses:Food:Grocery", Amount: dec(amount), Currency: "CAD", HasAmount: true},
			},
			FilePath:   "/ledger/statement.beancount",
			LineNumber: 10,
		}
	}

	BeforeEach(func() {
		matcher = NewMatcher(DefaultMatchConfig())
		rcpt = &receipt.Receipt{
			Merchant: "WALMART",
			Date:     time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
			Total:    dec("51.61"),
		}
		txn = newTxn(rcpt.Date, "WALMART #1234", "51.61")
	})

	Describe("MatchReceiptToTransactions", func() {
		It("should score an exact match on all three signals", func() {
			results := matcher.MatchReceiptToTransactions(rcpt, []*Transaction{txn})
			Expect(results).To(HaveLen(1))
			Expect(results[0].Confidence).To(BeNumerically("~", 0.98, 0.001))
			Expect(results[0].Details).To(Equal("date: exact match, amount: exact match, merchant: good match"))
		})

		It("should decay confidence for nearby dates", func() {
			off := newTxn(rcpt.Date.AddDate(0, 0, 2), "WALMART #1234", "51.61")
			results := matcher.MatchReceiptToTransactions(rcpt, []*Transaction{off})
			Expect(results).To(HaveLen(1))
			Expect(results[0].Confidence).To(BeNumerically("~", 0.78, 0.001))
			Expect(results[0].Details).To(ContainSubstring("date: 2 day(s) off"))
		})

		It("should sort results by descending confidence", func() {
			off := newTxn(rcpt.Date.AddDate(0, 0, 1), "WALMART #1234", "51.61")
			results := matcher.MatchReceiptToTransactions(rcpt, []*Transaction{off, txn})
			Expect(results).To(HaveLen(2))
			Expect(results[0].Transaction).To(Equal(txn))
			Expect(results[0].Confidence).To(BeNumerically(">", results[1].Confidence))
		})

		It("should reject dates beyond the tolerance", func() {
			far := newTxn(rcpt.Date.AddDate(0, 0, 5), "WALMART #1234", "51.61")
			Expect(matcher.MatchReceiptToTransactions(rcpt, []*Transaction{far})).To(BeEmpty())
		})

		It("should reject amounts beyond the tolerance", func() {
			rcpt.Total = dec("20.00")
			over := newTxn(rcpt.Date, "WALMART #1234", "20.50")
			Expect(matcher.MatchReceiptToTransactions(rcpt, []*Transaction{over})).To(BeEmpty())
		})

		It("should widen the amount tolerance for large receipts", func() {
			rcpt.Total = dec("500.00")
			near := newTxn(rcpt.Date, "WALMART #1234", "503.00")
			results := matcher.MatchReceiptToTransactions(rcpt, []*Transaction{near})
			Expect(results).To(HaveLen(1))
			Expect(results[0].Details).To(ContainSubstring("amount: $3.00 off"))
		})

		It("should reject unrelated merchants", func() {
			other := newTxn(rcpt.Date, "COSTCO", "51.61")
			Expect(matcher.MatchReceiptToTransactions(rcpt, []*Transaction{other})).To(BeEmpty())
		})

		It("should skip transactions without a charge posting", func() {
			noCharge := &Transaction{Date: rcpt.Date, Payee: "WALMART", Postings: []Posting{
				{Account: "Expenses:Food:Grocery", Amount: dec("51.61"), Currency: "CAD", HasAmount: true},
			}}
			Expect(matcher.MatchReceiptToTransactions(rcpt, []*Transaction{noCharge})).To(BeEmpty())
		})

		When("the receipt date is a placeholder", func() {
			BeforeEach(func() {
				rcpt.DateIsPlaceholder = true
			})

			It("should match without a date score", func() {
				results := matcher.MatchReceiptToTransactions(rcpt, []*Transaction{txn})
				Expect(results).To(HaveLen(1))
				Expect(results[0].Confidence).To(BeNumerically("~", 0.58, 0.001))
				Expect(results[0].Details).To(HavePrefix("date: unknown"))
			})
		})
	})

	Describe("MatchTransactionToReceipts", func() {
		It("should score stored receipts against a transaction", func() {
			stored := &receipt.StoredReceipt{Path: "/receipts/approved/2026-01-15_walmart_51_61.beancount", Receipt: rcpt}
			results := matcher.MatchTransactionToReceipts(txn, []*receipt.StoredReceipt{stored})
			Expect(results).To(HaveLen(1))
			Expect(results[0].Receipt).To(Equal(stored))
			Expect(results[0].Confidence).To(BeNumerically("~", 0.98, 0.001))
		})
	})

	Describe("MatchResult key", func() {
		It("should identify the transaction by source location", func() {
			results := matcher.MatchReceiptToTransactions(rcpt, []*Transaction{txn})
			Expect(results[0].Key()).To(Equal(MatchKey{FilePath: "/ledger/statement.beancount", LineNumber: 10}))
		})
	})
})
