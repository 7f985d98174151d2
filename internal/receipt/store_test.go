package receipt

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Store", func() {
	var (
		store *Store
		rcpt  *Receipt
	)

	BeforeEach(func() {
		store = NewStore(GinkgoT().TempDir(), nil)
		rcpt = &Receipt{
			Merchant: "WALMART",
			Date:     time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
			Total:    dec("51.61"),
			Items:    []Item{{Description: "MILK", Price: dec("51.61"), Quantity: 1}},
		}
	})

	Describe("SaveScanned", func() {
		It("should write the draft under scanned/", func() {
			path, err := store.SaveScanned(rcpt, FormatParsedReceipt(rcpt, "", ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Dir(path)).To(Equal(store.ScannedDir()))
			Expect(filepath.Base(path)).To(Equal("2026-01-15_walmart_51_61.beancount"))
		})

		It("should add a counter on filename collisions", func() {
			_, err := store.SaveScanned(rcpt, "first")
			Expect(err).NotTo(HaveOccurred())
			second, err := store.SaveScanned(rcpt, "second")
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Base(second)).To(Equal("2026-01-15_walmart_51_61_1.beancount"))
		})
	})

	Describe("Approve", func() {
		It("should move the draft to approved/ with a content-derived name", func() {
			path, err := store.SaveScanned(rcpt, FormatParsedReceipt(rcpt, "", ""))
			Expect(err).NotTo(HaveOccurred())

			approved, err := store.Approve(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Dir(approved)).To(Equal(store.ApprovedDir()))
			Expect(path).NotTo(BeAnExistingFile())
			Expect(approved).To(BeAnExistingFile())
		})

		It("should rename when the draft was edited", func() {
			path, err := store.SaveScanned(rcpt, FormatParsedReceipt(rcpt, "", ""))
			Expect(err).NotTo(HaveOccurred())

			edited := rcpt
			edited.Merchant = "COSTCO"
			Expect(os.WriteFile(path, []byte(FormatParsedReceipt(edited, "", "")), 0o644)).To(Succeed())

			approved, err := store.Approve(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Base(approved)).To(Equal("2026-01-15_costco_51_61.beancount"))
		})

		It("should fail for a missing draft", func() {
			_, err := store.Approve(filepath.Join(store.ScannedDir(), "nope.beancount"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("MarkMatched", func() {
		It("should move the draft to matched/", func() {
			path, err := store.SaveApproved(rcpt, FormatParsedReceipt(rcpt, "", ""))
			Expect(err).NotTo(HaveOccurred())

			matched, err := store.MarkMatched(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Dir(matched)).To(Equal(store.MatchedDir()))
			Expect(path).NotTo(BeAnExistingFile())
		})
	})

	Describe("LoadApproved", func() {
		BeforeEach(func() {
			_, err := store.SaveApproved(rcpt, FormatParsedReceipt(rcpt, "", ""))
			Expect(err).NotTo(HaveOccurred())

			other := &Receipt{
				Merchant: "COSTCO",
				Date:     time.Date(2026, time.March, 20, 0, 0, 0, 0, time.UTC),
				Total:    dec("120.00"),
			}
			_, err = store.SaveApproved(other, FormatParsedReceipt(other, "", ""))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should load everything without filters", func() {
			results, err := store.LoadApproved(nil, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
		})

		It("should pre-filter by date from the filename", func() {
			date := time.Date(2026, time.January, 16, 0, 0, 0, 0, time.UTC)
			results, err := store.LoadApproved(&date, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Receipt.Merchant).To(Equal("WALMART"))
		})

		It("should pre-filter by amount from the filename", func() {
			amount := decimal.RequireFromString("119.95")
			results, err := store.LoadApproved(nil, &amount)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Receipt.Merchant).To(Equal("COSTCO"))
		})
	})

	Describe("ListApproved", func() {
		It("should summarize from filenames", func() {
			_, err := store.SaveApproved(rcpt, FormatParsedReceipt(rcpt, "", ""))
			Expect(err).NotTo(HaveOccurred())

			summaries, err := store.ListApproved()
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].Merchant).To(Equal("Walmart"))
			Expect(summaries[0].Amount.StringFixed(2)).To(Equal("51.61"))
		})
	})

	Describe("Delete", func() {
		It("should remove a draft and tolerate repeats", func() {
			path, err := store.SaveScanned(rcpt, "content")
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Delete(path)).To(Succeed())
			Expect(store.Delete(path)).To(Succeed())
		})
	})
})

var _ = Describe("BoltIndex", func() {
	var index *BoltIndex

	BeforeEach(func() {
		var err error
		index, err = NewBoltIndex(filepath.Join(GinkgoT().TempDir(), "scans.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(index.Close()).To(Succeed())
	})

	It("should return nil for an unseen image", func() {
		record, err := index.GetScan("deadbeef")
		Expect(err).NotTo(HaveOccurred())
		Expect(record).To(BeNil())
	})

	It("should round-trip a scan record", func() {
		record := &ScanRecord{
			ImageSHA256: "deadbeef",
			DraftPath:   "/receipts/scanned/2026-01-15_walmart_51_61.beancount",
			Merchant:    "WALMART",
			Total:       "51.61",
			ScannedAt:   time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC),
		}
		Expect(index.SaveScan(record)).To(Succeed())

		loaded, err := index.GetScan("deadbeef")
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded).NotTo(BeNil())
		Expect(loaded.Merchant).To(Equal("WALMART"))
		Expect(loaded.DraftPath).To(Equal(record.DraftPath))

		records, err := index.ListScans()
		Expect(err).NotTo(HaveOccurred())
		Expect(records).To(HaveLen(1))
	})

	It("should delete records", func() {
		Expect(index.SaveScan(&ScanRecord{ImageSHA256: "cafe"})).To(Succeed())
		Expect(index.DeleteScan("cafe")).To(Succeed())
		record, err := index.GetScan("cafe")
		Expect(err).NotTo(HaveOccurred())
		Expect(record).To(BeNil())
	})
})
