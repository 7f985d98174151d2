package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Loader", func() {
	var (
		dir    string
		loader *Loader
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		loader = NewLoader(nil)
	})

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	It("should parse transactions with their postings", func() {
		path := write("statement.beancount", strings.Join([]string{
			`2026-01-15 * "WALMART #1234" "Purchase"`,
			"  Liabilities:CreditCard:Visa  -51.61 CAD",
			"  Expenses:Food:Grocery  51.61 CAD  ; groceries",
			"",
			`2026-01-16 ! "COSTCO"`,
			"  Liabilities:CreditCard:Visa  -120.00 CAD",
			"  Expenses:Misc",
			"",
		}, "\n"))

		loaded, err := loader.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Errors).To(BeEmpty())
		Expect(loaded.Transactions).To(HaveLen(2))

		first := loaded.Transactions[0]
		Expect(first.Date).To(Equal(time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)))
		Expect(first.Flag).To(Equal("*"))
		Expect(first.Payee).To(Equal("WALMART #1234"))
		Expect(first.Narration).To(Equal("Purchase"))
		Expect(first.LineNumber).To(Equal(1))
		Expect(first.FilePath).To(Equal(path))
		Expect(first.Postings).To(HaveLen(2))
		Expect(first.Postings[0].Account).To(Equal("Liabilities:CreditCard:Visa"))
		Expect(first.Postings[0].Amount.StringFixed(2)).To(Equal("-51.61"))
		Expect(first.Postings[0].Currency).To(Equal("CAD"))
		Expect(first.Postings[1].Comment).To(Equal("groceries"))

		second := loaded.Transactions[1]
		Expect(second.Flag).To(Equal("!"))
		Expect(second.Payee).To(Equal(""))
		Expect(second.Narration).To(Equal("COSTCO"))
		Expect(second.Postings[1].HasAmount).To(BeFalse())
	})

	It("should follow include directives relative to the including file", func() {
		write("statements/visa.beancount", strings.Join([]string{
			`2026-02-01 * "T&T SUPERMARKET" ""`,
			"  Liabilities:CreditCard:Visa  -21.48 CAD",
			"  Expenses:Food:Grocery  21.48 CAD",
			"",
		}, "\n"))
		path := write("main.beancount", "include \"statements/visa.beancount\"\n")

		loaded, err := loader.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Errors).To(BeEmpty())
		Expect(loaded.Transactions).To(HaveLen(1))
		Expect(loaded.Transactions[0].Payee).To(Equal("T&T SUPERMARKET"))
	})

	It("should collect an error for a missing include instead of failing", func() {
		path := write("main.beancount", "include \"nope.beancount\"\n")

		loaded, err := loader.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Errors).To(HaveLen(1))
	})

	It("should ignore comment and metadata lines inside a transaction", func() {
		path := write("statement.beancount", strings.Join([]string{
			`2026-03-01 * "FARM BOY" ""`,
			"  ; just a note",
			"  receipt: \"2026-03-01_farm_boy.beancount\"",
			"  Liabilities:CreditCard:Visa  -5.00 CAD",
			"  Expenses:Food:Grocery:Fruit  5.00 CAD",
			"",
		}, "\n"))

		loaded, err := loader.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Transactions[0].Postings).To(HaveLen(2))
	})

	It("should fail when the root file does not exist", func() {
		_, err := loader.Load(filepath.Join(dir, "missing.beancount"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("LoadValidator", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	It("should accept a balanced ledger", func() {
		path := write("main.beancount", strings.Join([]string{
			`2026-01-15 * "WALMART" ""`,
			"  Liabilities:CreditCard:Visa  -9.07 CAD",
			"  Expenses:Food:Grocery:Dairy  5.97 CAD",
			"  Expenses:Food:Grocery  2.00 CAD",
			"  Expenses:Tax:HST  1.10 CAD",
			"",
		}, "\n"))

		Expect(NewLoadValidator(nil).Validate(path)).To(BeEmpty())
	})

	It("should accept a transaction with an elided posting", func() {
		path := write("main.beancount", strings.Join([]string{
			`2026-01-15 * "WALMART" ""`,
			"  Liabilities:CreditCard:Visa  -9.07 CAD",
			"  Expenses:Food:Grocery",
			"",
		}, "\n"))

		Expect(NewLoadValidator(nil).Validate(path)).To(BeEmpty())
	})

	It("should flag a transaction that does not balance", func() {
		path := write("main.beancount", strings.Join([]string{
			`2026-01-15 * "WALMART" ""`,
			"  Liabilities:CreditCard:Visa  -9.07 CAD",
			"  Expenses:Food:Grocery  5.00 CAD",
			"",
		}, "\n"))

		errs := NewLoadValidator(nil).Validate(path)
		Expect(errs).To(HaveLen(1))
		Expect(errs[0].Error()).To(ContainSubstring("does not balance"))
	})
})

var _ = Describe("Transaction", func() {
	It("should report the charge amount from the first negative posting", func() {
		txn := &Transaction{Postings: []Posting{
			{Account: "Expenses:Food:Grocery", Amount: dec("51.61"), Currency: "CAD", HasAmount: true},
			{Account: "Liabilities:CreditCard:Visa", Amount: dec("-51.61"), Currency: "CAD", HasAmount: true},
		}}
		charge := txn.ChargeAmount()
		Expect(charge).NotTo(BeNil())
		Expect(charge.StringFixed(2)).To(Equal("51.61"))
		Expect(txn.ExpenseAccount()).To(Equal("Expenses:Food:Grocery"))
	})

	It("should return nil when no posting is negative", func() {
		txn := &Transaction{Postings: []Posting{
			{Account: "Expenses:Food:Grocery", Amount: dec("51.61"), Currency: "CAD", HasAmount: true},
		}}
		Expect(txn.ChargeAmount()).To(BeNil())
	})
})
