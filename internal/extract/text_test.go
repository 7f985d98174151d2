package extract

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-reconciler/internal/receipt"
)

var _ = Describe("ExtractItems", func() {
	var (
		lines          []string
		summaryAmounts map[string]struct{}
		warnings       []receipt.Warning
		items          []receipt.Item
	)

	BeforeEach(func() {
		summaryAmounts = map[string]struct{}{}
		warnings = nil
	})

	JustBeforeEach(func() {
		items = ExtractItems(lines, summaryAmounts, &warnings)
	})

	When("items carry trailing prices", func() {
		BeforeEach(func() {
			lines = []string{
				"COKE ZERO 17.19",
				"BREAD 2.49",
				"SUBTOTAL 19.68",
				"HST 2.56",
				"TOTAL 22.24",
				"VISA 22.24",
			}
		})

		It("should extract each item with its price", func() {
			Expect(items).To(HaveLen(2))
			Expect(items[0].Description).To(Equal("COKE ZERO"))
			Expect(items[0].Price.StringFixed(2)).To(Equal("17.19"))
			Expect(items[1].Description).To(Equal("BREAD"))
			Expect(items[1].Price.StringFixed(2)).To(Equal("2.49"))
		})

		It("should never emit summary or payment lines as items", func() {
			for _, item := range items {
				Expect(strings.ToUpper(item.Description)).NotTo(ContainSubstring("TOTAL"))
				Expect(strings.ToUpper(item.Description)).NotTo(ContainSubstring("HST"))
				Expect(strings.ToUpper(item.Description)).NotTo(ContainSubstring("VISA"))
			}
		})
	})

	When("a quantity line sits between the item and its total", func() {
		BeforeEach(func() {
			lines = []string{
				"MILK",
				"3 @ $1.99",
				"5.97",
				"TOTAL 5.97",
			}
		})

		It("should attach the validated quantity", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("MILK"))
			Expect(items[0].Quantity).To(Equal(3))
			Expect(items[0].Price.StringFixed(2)).To(Equal("5.97"))
		})
	})

	When("the quantity line does not reconcile with the total", func() {
		BeforeEach(func() {
			lines = []string{
				"MILK",
				"3 @ $1.99",
				"9.99",
				"TOTAL 9.99",
			}
		})

		It("should keep quantity 1 and preserve the raw info", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Quantity).To(Equal(1))
			Expect(items[0].Description).To(Equal("MILK (3 @ $1.99)"))
		})
	})

	When("a weighed item has a weight modifier", func() {
		BeforeEach(func() {
			lines = []string{
				"BANANAS",
				"1.22 lb @ $0.79/lb",
				"0.96",
				"TOTAL 0.96",
			}
		})

		It("should suffix the weight and keep quantity 1", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Quantity).To(Equal(1))
			Expect(items[0].Description).To(Equal("BANANAS (1.22 lb)"))
		})
	})

	When("a discount line ends with a trailing minus", func() {
		BeforeEach(func() {
			lines = []string{
				"CHIPS 3.99",
				"MEMBER SAVINGS 1.00-",
				"TOTAL 2.99",
			}
		})

		It("should record a negative price", func() {
			Expect(items).To(HaveLen(2))
			Expect(items[1].Price.StringFixed(2)).To(Equal("-1.00"))
		})
	})

	When("a bare amount repeats the subtotal below its label", func() {
		BeforeEach(func() {
			summaryAmounts["51.61"] = struct{}{}
			lines = []string{
				"EGGS 4.99",
				"SUBTOTAL",
				"51.61",
				"TOTAL 58.32",
			}
		})

		It("should not turn the subtotal amount into an item", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("EGGS"))
		})
	})

	When("lines after the total line remain", func() {
		BeforeEach(func() {
			lines = []string{
				"YOGURT 5.49",
				"TOTAL 5.49",
				"GIFT CARD BALANCE 25.00",
				"SOME FOOTER ITEM 9.99",
			}
		})

		It("should stop at the total", func() {
			Expect(items).To(HaveLen(1))
		})
	})

	When("the same product appears twice", func() {
		BeforeEach(func() {
			lines = []string{
				"MILK 2L 3.49",
				"MILK 2L 3.49",
				"TOTAL 6.98",
			}
		})

		It("should keep both occurrences", func() {
			Expect(items).To(HaveLen(2))
			Expect(items[0].Description).To(Equal(items[1].Description))
		})
	})

	When("a standalone price has no discoverable description", func() {
		BeforeEach(func() {
			lines = []string{
				"%%%%",
				"4.27",
				"TOTAL 4.27",
			}
		})

		It("should emit a warning instead of an item", func() {
			Expect(items).To(BeEmpty())
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0].Message).To(ContainSubstring("maybe missed item near price 4.27"))
			Expect(warnings[0].AfterItemIndex).To(Equal(-1))
		})
	})

	When("an OCR-corrupted price ends a line", func() {
		BeforeEach(func() {
			lines = []string{
				"ORANGE JUICE 8l.99",
				"TOTAL 8.99",
			}
		})

		It("should warn about the malformed price", func() {
			Expect(items).To(BeEmpty())
			Expect(warnings).To(HaveLen(1))
			Expect(warnings[0].Message).To(ContainSubstring("malformed OCR price"))
		})
	})

	When("a priced section header precedes the item line", func() {
		BeforeEach(func() {
			lines = []string{
				"21-GROCERY 12.00",
				"62843020000 DOUGHNUTS MRJ",
				"TOTAL 12.00",
			}
		})

		It("should use the SKU-led line below as the description", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("DOUGHNUTS MRJ"))
			Expect(items[0].Price.StringFixed(2)).To(Equal("12.00"))
		})
	})

	When("a REG$ promo row repeats the price of the item above", func() {
		BeforeEach(func() {
			lines = []string{
				"SHAMPOO 6.99",
				"REG$8.99 6.99",
				"TOTAL 6.99",
			}
		})

		It("should not produce an item for the promo row", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Description).To(Equal("SHAMPOO"))
		})
	})
})
