// Package scan orchestrates the receipt intake pipeline: image
// preparation, OCR, field and item extraction, categorization, and
// draft persistence.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zombor/receipt-reconciler/internal/category"
	"github.com/zombor/receipt-reconciler/internal/extract"
	"github.com/zombor/receipt-reconciler/internal/ocr"
	"github.com/zombor/receipt-reconciler/internal/receipt"
)

// Status reports what the pipeline did with an image.
type Status string

const (
	StatusSaved     Status = "scanned_saved"
	StatusDuplicate Status = "duplicate"
)

// Result is the outcome of processing one receipt image.
type Result struct {
	Status    Status
	Receipt   *receipt.Receipt
	DraftPath string
	ImagePath string
}

// Config carries the tunable parts of the pipeline.
type Config struct {
	// KnownMerchants are checked first during merchant extraction.
	KnownMerchants []string
	// CreditCardAccount is the liability account on generated drafts.
	CreditCardAccount string
}

// Service runs the scan pipeline.
type Service struct {
	recognizer ocr.OCRer
	fallback   ocr.OCRer
	store      *receipt.Store
	index      receipt.Index
	classifier *category.Classifier
	config     Config
	logger     *slog.Logger
	now        func() time.Time
}

// NewService wires the pipeline. fallback may be nil; when set it is
// tried if the primary OCR backend is unavailable.
func NewService(
	recognizer ocr.OCRer,
	fallback ocr.OCRer,
	store *receipt.Store,
	index receipt.Index,
	classifier *category.Classifier,
	config Config,
	logger *slog.Logger,
) *Service {
	if config.CreditCardAccount == "" {
		config.CreditCardAccount = receipt.DefaultCreditCardAccount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		recognizer: recognizer,
		fallback:   fallback,
		store:      store,
		index:      index,
		classifier: classifier,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

var (
	filenameJunkRe  = regexp.MustCompile(`[^a-zA-Z0-9\s\-_.]`)
	filenameSpaceRe = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated image names before they
// are stored and referenced from drafts.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)

	base = filenameJunkRe.ReplaceAllString(base, "")
	base = filenameSpaceRe.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// Process runs one image through the pipeline. Images already seen
// (by content hash) are reported as duplicates without re-running OCR.
func (s *Service) Process(ctx context.Context, filename string, data []byte, contentType string) (*Result, error) {
	sum := sha256.Sum256(data)
	imageSHA := hex.EncodeToString(sum[:])

	existing, err := s.index.GetScan(imageSHA)
	if err != nil {
		return nil, fmt.Errorf("checking scan index: %w", err)
	}
	if existing != nil {
		s.logger.Info("image already scanned", "filename", filename, "draft", existing.DraftPath)
		return &Result{Status: StatusDuplicate, DraftPath: existing.DraftPath}, nil
	}

	prepared, preparedType, err := ocr.PrepareImage(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("preparing image: %w", err)
	}

	ocrResult, err := s.recognizer.Recognize(ctx, prepared, preparedType)
	if err != nil {
		var svcErr *ocr.ServiceError
		if s.fallback == nil || !errors.As(err, &svcErr) {
			return nil, fmt.Errorf("recognizing receipt: %w", err)
		}
		s.logger.Warn("OCR service unavailable, using fallback transcriber", "error", err)
		ocrResult, err = s.fallback.Recognize(ctx, prepared, preparedType)
		if err != nil {
			return nil, fmt.Errorf("recognizing receipt with fallback: %w", err)
		}
	}

	rcpt := extract.ParseReceipt(ocrResult, s.config.KnownMerchants)
	cleanName := sanitizeFilename(filename)
	rcpt.ImageFilename = cleanName

	for i := range rcpt.Items {
		if rcpt.Items[i].Category == "" {
			rcpt.Items[i].Category = s.classifier.Categorize(rcpt.Items[i].Description, "")
		}
	}

	imagePath, err := s.store.SaveImage(cleanName, data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	rawJSON, err := json.Marshal(ocrResult)
	if err != nil {
		return nil, fmt.Errorf("marshaling OCR result: %w", err)
	}
	jsonName := strings.TrimSuffix(cleanName, filepath.Ext(cleanName)) + ".json"
	if _, err := s.store.SaveOCRJSON(jsonName, rawJSON); err != nil {
		return nil, fmt.Errorf("saving OCR result: %w", err)
	}

	draft := receipt.FormatParsedReceipt(rcpt, s.config.CreditCardAccount, imageSHA)
	draftPath, err := s.store.SaveScanned(rcpt, draft)
	if err != nil {
		if delErr := s.store.Delete(imagePath); delErr != nil {
			s.logger.Warn("failed to clean up image after draft save failure", "path", imagePath, "error", delErr)
		}
		return nil, fmt.Errorf("saving draft: %w", err)
	}

	record := &receipt.ScanRecord{
		ImageSHA256:   imageSHA,
		DraftPath:     draftPath,
		ImageFilename: cleanName,
		Merchant:      rcpt.Merchant,
		Total:         rcpt.Total.StringFixed(2),
		ScannedAt:     s.now(),
	}
	if err := s.index.SaveScan(record); err != nil {
		return nil, fmt.Errorf("recording scan: %w", err)
	}

	s.logger.Info("scanned receipt",
		"filename", cleanName,
		"merchant", rcpt.Merchant,
		"total", rcpt.Total.StringFixed(2),
		"items", len(rcpt.Items),
		"draft", draftPath,
	)
	return &Result{Status: StatusSaved, Receipt: rcpt, DraftPath: draftPath, ImagePath: imagePath}, nil
}
