package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-reconciler/internal/ocr"
	"github.com/zombor/receipt-reconciler/internal/receipt"
)

func spatialWord(text string, x0, y0, x1, y1 float64) ocr.Word {
	return ocr.Word{Text: text, Confidence: 0.9, BBox: [2][2]float64{{x0, y0}, {x1, y1}}}
}

var _ = Describe("ExtractItemsSpatial", func() {
	var (
		pages    []ocr.Page
		warnings []receipt.Warning
		items    []receipt.Item
	)

	BeforeEach(func() {
		warnings = nil
	})

	JustBeforeEach(func() {
		items = ExtractItemsSpatial(pages, &warnings)
	})

	When("descriptions and prices share rows at opposite edges", func() {
		BeforeEach(func() {
			pages = []ocr.Page{{Lines: []ocr.Line{
				{Text: "COOKED SHRIMP $18.99", Words: []ocr.Word{
					spatialWord("COOKED", 0.05, 0.19, 0.15, 0.21),
					spatialWord("SHRIMP", 0.16, 0.19, 0.26, 0.21),
					spatialWord("$18.99", 0.78, 0.19, 0.88, 0.21),
				}},
				{Text: "GREEN ONION $2.49", Words: []ocr.Word{
					spatialWord("GREEN", 0.05, 0.24, 0.13, 0.26),
					spatialWord("ONION", 0.14, 0.24, 0.22, 0.26),
					spatialWord("$2.49", 0.78, 0.24, 0.88, 0.26),
				}},
				{Text: "TOTAL $21.48", Words: []ocr.Word{
					spatialWord("TOTAL", 0.05, 0.79, 0.15, 0.81),
					spatialWord("$21.48", 0.78, 0.79, 0.88, 0.81),
				}},
				{Text: "VISA $21.48", Words: []ocr.Word{
					spatialWord("VISA", 0.05, 0.89, 0.12, 0.91),
					spatialWord("$21.48", 0.78, 0.89, 0.88, 0.91),
				}},
			}}}
		})

		It("should pair each price with its row", func() {
			Expect(items).To(HaveLen(2))
			Expect(items[0].Description).To(Equal("COOKED SHRIMP"))
			Expect(items[0].Price.StringFixed(2)).To(Equal("18.99"))
			Expect(items[1].Description).To(Equal("GREEN ONION"))
			Expect(items[1].Price.StringFixed(2)).To(Equal("2.49"))
		})

		It("should suppress the total and everything below it", func() {
			Expect(warnings).To(BeEmpty())
		})
	})

	When("a price sits on a section header row", func() {
		BeforeEach(func() {
			pages = []ocr.Page{{Lines: []ocr.Line{
				{Text: "GROCERY 5.49", Words: []ocr.Word{
					spatialWord("GROCERY", 0.05, 0.39, 0.2, 0.41),
					spatialWord("5.49", 0.78, 0.39, 0.88, 0.41),
				}},
				{Text: "INSTANT NOODLES", Words: []ocr.Word{
					spatialWord("INSTANT", 0.05, 0.405, 0.16, 0.425),
					spatialWord("NOODLES", 0.17, 0.405, 0.28, 0.425),
				}},
				{Text: "TOTAL 5.49", Words: []ocr.Word{
					spatialWord("TOTAL", 0.05, 0.79, 0.15, 0.81),
					spatialWord("5.49", 0.78, 0.79, 0.88, 0.81),
				}},
			}}}
		})

		It("should attach the price to the item row below the header", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("INSTANT NOODLES"))
			Expect(items[0].Price.StringFixed(2)).To(Equal("5.49"))
		})
	})

	When("a price has no valid description nearby", func() {
		BeforeEach(func() {
			pages = []ocr.Page{{Lines: []ocr.Line{
				{Text: "((( $7.77", Words: []ocr.Word{
					spatialWord("(((", 0.05, 0.29, 0.1, 0.31),
					spatialWord("$7.77", 0.78, 0.29, 0.88, 0.31),
				}},
				{Text: "TOTAL 7.77", Words: []ocr.Word{
					spatialWord("TOTAL", 0.05, 0.79, 0.15, 0.81),
					spatialWord("7.77", 0.78, 0.79, 0.88, 0.81),
				}},
			}}}
		})

		It("should warn instead of inventing an item", func() {
			Expect(items).To(BeEmpty())
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0].Message).To(ContainSubstring("maybe missed item near price 7.77"))
		})
	})

	When("two prices compete for rows", func() {
		BeforeEach(func() {
			pages = []ocr.Page{{Lines: []ocr.Line{
				{Text: "FROZEN DUMPLINGS 9.99", Words: []ocr.Word{
					spatialWord("FROZEN", 0.05, 0.19, 0.14, 0.21),
					spatialWord("DUMPLINGS", 0.15, 0.19, 0.3, 0.21),
					spatialWord("9.99", 0.78, 0.19, 0.88, 0.21),
				}},
				{Text: "FROZEN DUMPLINGS 9.99", Words: []ocr.Word{
					spatialWord("FROZEN", 0.05, 0.24, 0.14, 0.26),
					spatialWord("DUMPLINGS", 0.15, 0.24, 0.3, 0.26),
					spatialWord("9.99", 0.78, 0.24, 0.88, 0.26),
				}},
				{Text: "TOTAL 19.98", Words: []ocr.Word{
					spatialWord("TOTAL", 0.05, 0.79, 0.15, 0.81),
					spatialWord("19.98", 0.78, 0.79, 0.88, 0.81),
				}},
			}}}
		})

		It("should keep duplicate rows as separate items", func() {
			Expect(items).To(HaveLen(2))
			Expect(items[0].Description).To(Equal(items[1].Description))
		})
	})
})

var _ = Describe("isSpatialLayoutReceipt", func() {
	It("should detect known column-layout merchants", func() {
		Expect(isSpatialLayoutReceipt("T&T SUPERMARKET\nCOOKED SHRIMP 18.99")).To(BeTrue())
		Expect(isSpatialLayoutReceipt("REAL CANADIAN SUPERSTORE")).To(BeTrue())
	})

	It("should detect weighted price columns", func() {
		Expect(isSpatialLayoutReceipt("BOK CHOY W $4.23")).To(BeTrue())
	})

	It("should not trigger on ordinary receipts", func() {
		Expect(isSpatialLayoutReceipt("SHOPPERS DRUG MART\nTOTAL 9.99")).To(BeFalse())
	})
})
