package extract

import (
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-reconciler/internal/ocr"
	"github.com/zombor/receipt-reconciler/internal/receipt"
)

var _ = Describe("ParseReceipt", func() {
	var (
		result *ocr.Result
		known  []string
		parsed *receipt.Receipt
	)

	BeforeEach(func() {
		known = []string{"WALMART"}
	})

	JustBeforeEach(func() {
		parsed = ParseReceipt(result, known)
	})

	When("the transcript has no word geometry", func() {
		BeforeEach(func() {
			result = &ocr.Result{
				Status: "success",
				FullText: strings.Join([]string{
					"WALMART",
					"01/15/26",
					"MILK 2L 3.49",
					"BREAD 2.49",
					"SUBTOTAL 5.98",
					"HST 0.78",
					"TOTAL 6.76",
					"VISA 6.76",
				}, "\n"),
			}
		})

		It("should assemble all fields from the text strategy", func() {
			Expect(parsed.Merchant).To(Equal("WALMART"))
			Expect(parsed.Date).To(Equal(time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)))
			Expect(parsed.DateIsPlaceholder).To(BeFalse())
			Expect(parsed.Total.StringFixed(2)).To(Equal("6.76"))
			Expect(parsed.Tax).NotTo(BeNil())
			Expect(parsed.Tax.StringFixed(2)).To(Equal("0.78"))
			Expect(parsed.Subtotal).NotTo(BeNil())
			Expect(parsed.Subtotal.StringFixed(2)).To(Equal("5.98"))
			Expect(parsed.Items).To(HaveLen(2))
		})

		It("should keep the raw transcript", func() {
			Expect(parsed.RawText).To(ContainSubstring("MILK 2L 3.49"))
		})
	})

	When("no date can be extracted", func() {
		BeforeEach(func() {
			result = &ocr.Result{
				Status:   "success",
				FullText: "CORNER STORE\nGUM 1.25\nTOTAL 1.25",
			}
		})

		It("should substitute the first of the current month", func() {
			Expect(parsed.DateIsPlaceholder).To(BeTrue())
			Expect(parsed.Date.Day()).To(Equal(1))
		})
	})

	When("geometry and a column-layout merchant are present", func() {
		BeforeEach(func() {
			result = &ocr.Result{
				Status: "success",
				FullText: strings.Join([]string{
					"T&T SUPERMARKET",
					"COOKED SHRIMP $18.99",
					"TOTAL $18.99",
				}, "\n"),
				Pages: []ocr.Page{{Lines: []ocr.Line{
					{Text: "T&T SUPERMARKET", Words: []ocr.Word{
						spatialWord("T&T", 0.05, 0.04, 0.1, 0.06),
						spatialWord("SUPERMARKET", 0.11, 0.04, 0.3, 0.06),
					}},
					{Text: "COOKED SHRIMP $18.99", Words: []ocr.Word{
						spatialWord("COOKED", 0.05, 0.19, 0.15, 0.21),
						spatialWord("SHRIMP", 0.16, 0.19, 0.26, 0.21),
						spatialWord("$18.99", 0.78, 0.19, 0.88, 0.21),
					}},
					{Text: "TOTAL $18.99", Words: []ocr.Word{
						spatialWord("TOTAL", 0.05, 0.79, 0.15, 0.81),
						spatialWord("$18.99", 0.78, 0.79, 0.88, 0.81),
					}},
				}}},
			}
		})

		It("should extract items spatially", func() {
			Expect(parsed.Items).To(HaveLen(1))
			Expect(parsed.Items[0].Description).To(Equal("COOKED SHRIMP"))
			Expect(parsed.Items[0].Price.StringFixed(2)).To(Equal("18.99"))
		})
	})
})
