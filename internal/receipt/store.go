package receipt

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Receipts move through scanned/ -> approved/ -> matched/ as they are
// reviewed and reconciled. images/ keeps the source photos and
// ocr_json/ the raw recognition output for re-parsing without a rescan.
const (
	scannedDirName  = "scanned"
	approvedDirName = "approved"
	matchedDirName  = "matched"
	imagesDirName   = "images"
	ocrJSONDirName  = "ocr_json"
)

// Pre-filter tolerances when loading match candidates by filename
var (
	filenameDateTolerance   = 3 * 24 * time.Hour
	filenameAmountTolerance = decimal.RequireFromString("0.10")
)

// Store persists receipt drafts and images under a base directory and
// moves them through the review lifecycle.
type Store struct {
	baseDir string
	logger  *slog.Logger
}

// StoredReceipt pairs a parsed receipt with the draft file it came from.
type StoredReceipt struct {
	Path    string
	Receipt *Receipt
}

// Summary is the listing view of a stored receipt.
type Summary struct {
	Path     string
	Merchant string
	Date     time.Time
	Amount   decimal.Decimal
}

func NewStore(baseDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{baseDir: baseDir, logger: logger}
}

func (s *Store) ScannedDir() string  { return filepath.Join(s.baseDir, scannedDirName) }
func (s *Store) ApprovedDir() string { return filepath.Join(s.baseDir, approvedDirName) }
func (s *Store) MatchedDir() string  { return filepath.Join(s.baseDir, matchedDirName) }
func (s *Store) ImagesDir() string   { return filepath.Join(s.baseDir, imagesDirName) }
func (s *Store) OCRJSONDir() string  { return filepath.Join(s.baseDir, ocrJSONDirName) }

// EnsureDirectories creates the lifecycle directories if missing.
func (s *Store) EnsureDirectories() error {
	for _, dir := range []string{
		s.ScannedDir(), s.ApprovedDir(), s.MatchedDir(), s.ImagesDir(), s.OCRJSONDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating receipt directory: %w", err)
		}
	}
	return nil
}

// uniquePath appends _1, _2, ... until the filename is free.
func uniquePath(dir, filename string) string {
	path := filepath.Join(dir, filename)
	base := strings.TrimSuffix(filename, ".beancount")
	counter := 1
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.beancount", base, counter))
		counter++
	}
}

// SaveScanned writes a freshly parsed draft into scanned/ for review.
func (s *Store) SaveScanned(r *Receipt, content string) (string, error) {
	return s.saveDraft(s.ScannedDir(), r, content)
}

// SaveApproved writes a draft straight into approved/, skipping review.
func (s *Store) SaveApproved(r *Receipt, content string) (string, error) {
	return s.saveDraft(s.ApprovedDir(), r, content)
}

func (s *Store) saveDraft(dir string, r *Receipt, content string) (string, error) {
	if err := s.EnsureDirectories(); err != nil {
		return "", err
	}
	path := uniquePath(dir, GenerateFilename(r))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing receipt draft: %w", err)
	}
	s.logger.Info("saved receipt draft", "path", path)
	return path, nil
}

// SaveImage stores the source receipt image.
func (s *Store) SaveImage(filename string, data []byte) (string, error) {
	if err := s.EnsureDirectories(); err != nil {
		return "", err
	}
	path := filepath.Join(s.ImagesDir(), filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing receipt image: %w", err)
	}
	return path, nil
}

// SaveOCRJSON stores the raw recognition output next to the draft.
func (s *Store) SaveOCRJSON(filename string, data []byte) (string, error) {
	if err := s.EnsureDirectories(); err != nil {
		return "", err
	}
	path := filepath.Join(s.OCRJSONDir(), filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing OCR result: %w", err)
	}
	return path, nil
}

// Approve moves a reviewed draft from scanned/ to approved/. The target
// filename is re-derived from the edited content so manual corrections
// to merchant, date, or total are reflected in the name.
func (s *Store) Approve(path string) (string, error) {
	if err := s.EnsureDirectories(); err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("receipt not found: %w", err)
	}

	filename := filepath.Base(path)
	if parsed, err := ParseDraftFile(path); err == nil {
		filename = GenerateFilename(parsed)
	}

	newPath := uniquePath(s.ApprovedDir(), filename)
	if err := os.Rename(path, newPath); err != nil {
		return "", fmt.Errorf("moving receipt to approved: %w", err)
	}
	s.logger.Info("approved receipt", "from", path, "to", newPath)
	return newPath, nil
}

// MarkMatched moves a reconciled draft from approved/ to matched/.
func (s *Store) MarkMatched(path string) (string, error) {
	if err := s.EnsureDirectories(); err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("receipt not found: %w", err)
	}
	newPath := uniquePath(s.MatchedDir(), filepath.Base(path))
	if err := os.Rename(path, newPath); err != nil {
		return "", fmt.Errorf("moving receipt to matched: %w", err)
	}
	s.logger.Info("marked receipt matched", "from", path, "to", newPath)
	return newPath, nil
}

var filenameInfoRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})_(.+)_(\d+_\d{2})(?:_\d+)?$`)

// ParseFilenameInfo recovers date, merchant, and amount from a draft
// filename. ok is false for names outside the generated scheme
// (including unknown-date drafts).
func ParseFilenameInfo(path string) (time.Time, string, decimal.Decimal, bool) {
	stem := strings.TrimSuffix(filepath.Base(path), ".beancount")
	m := filenameInfoRe.FindStringSubmatch(stem)
	if m == nil {
		return time.Time{}, "", decimal.Decimal{}, false
	}
	date, err := time.Parse("2006-01-02", m[1])
	if err != nil {
		return time.Time{}, "", decimal.Decimal{}, false
	}
	merchant := titleWords(strings.ReplaceAll(m[2], "_", " "))
	amount, err := decimal.NewFromString(strings.ReplaceAll(m[3], "_", "."))
	if err != nil {
		return time.Time{}, "", decimal.Decimal{}, false
	}
	return date, merchant, amount, true
}

func titleWords(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// LoadApproved loads approved drafts, pre-filtered by filename when a
// date or amount filter is given. Files whose names do not carry the
// filtered field are loaded anyway rather than silently dropped.
func (s *Store) LoadApproved(dateFilter *time.Time, amountFilter *decimal.Decimal) ([]StoredReceipt, error) {
	if err := s.EnsureDirectories(); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(s.ApprovedDir(), "*.beancount"))
	if err != nil {
		return nil, fmt.Errorf("listing approved receipts: %w", err)
	}

	var results []StoredReceipt
	for _, path := range paths {
		fileDate, _, fileAmount, ok := ParseFilenameInfo(path)
		if ok {
			if dateFilter != nil {
				diff := fileDate.Sub(*dateFilter)
				if diff < 0 {
					diff = -diff
				}
				if diff > filenameDateTolerance {
					continue
				}
			}
			if amountFilter != nil && fileAmount.Sub(*amountFilter).Abs().GreaterThan(filenameAmountTolerance) {
				continue
			}
		}

		parsed, err := ParseDraftFile(path)
		if err != nil {
			s.logger.Warn("failed to parse receipt draft", "path", path, "error", err)
			continue
		}
		results = append(results, StoredReceipt{Path: path, Receipt: parsed})
	}
	return results, nil
}

// ListApproved summarizes approved drafts, preferring filename metadata
// and falling back to a content parse.
func (s *Store) ListApproved() ([]Summary, error) {
	if err := s.EnsureDirectories(); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(s.ApprovedDir(), "*.beancount"))
	if err != nil {
		return nil, fmt.Errorf("listing approved receipts: %w", err)
	}
	sort.Strings(paths)

	var results []Summary
	for _, path := range paths {
		if date, merchant, amount, ok := ParseFilenameInfo(path); ok {
			results = append(results, Summary{Path: path, Merchant: merchant, Date: date, Amount: amount})
			continue
		}
		parsed, err := ParseDraftFile(path)
		if err != nil {
			s.logger.Warn("failed to parse receipt draft", "path", path, "error", err)
			continue
		}
		results = append(results, Summary{
			Path:     path,
			Merchant: parsed.Merchant,
			Date:     parsed.Date,
			Amount:   parsed.Total,
		})
	}
	return results, nil
}

// ListScanned returns the drafts awaiting review.
func (s *Store) ListScanned() ([]string, error) {
	if err := s.EnsureDirectories(); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(s.ScannedDir(), "*.beancount"))
	if err != nil {
		return nil, fmt.Errorf("listing scanned receipts: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Delete removes a draft file. Missing files are not an error.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("deleting receipt draft: %w", err)
	}
	s.logger.Info("deleted receipt draft", "path", path)
	return nil
}
