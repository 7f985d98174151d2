package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	txnStartRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+([*!])\s*(.*)$`)
	quotedRe   = regexp.MustCompile(`"([^"]*)"`)
	postingRe  = regexp.MustCompile(`^\s+(\S+)(?:\s+(-?\d+(?:\.\d+)?)\s+([A-Z][A-Z0-9'._-]*))?\s*(?:;\s*(.*))?$`)
	includeRe  = regexp.MustCompile(`^include\s+"([^"]+)"`)
)

// LoadedLedger is the structured result of loading a ledger tree.
type LoadedLedger struct {
	Path         string
	Transactions []*Transaction
	Errors       []error
}

// Loader reads beancount files from disk, following include directives.
type Loader struct {
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load parses the ledger rooted at path. Parse problems are collected
// as Errors rather than aborting, matching how a ledger loader reports
// but tolerates broken entries.
func (l *Loader) Load(path string) (*LoadedLedger, error) {
	loaded := &LoadedLedger{Path: path}
	seen := map[string]bool{}
	if err := l.loadFile(path, loaded, seen); err != nil {
		return nil, err
	}
	if len(loaded.Errors) > 0 {
		l.logger.Warn("ledger loaded with errors", "path", path, "errors", len(loaded.Errors))
	}
	return loaded, nil
}

func (l *Loader) loadFile(path string, loaded *LoadedLedger, seen map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving ledger path: %w", err)
	}
	if seen[abs] {
		return nil
	}
	seen[abs] = true

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("reading ledger file: %w", err)
	}

	lines := strings.Split(string(content), "\n")
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := includeRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			target := m[1]
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(abs), target)
			}
			if err := l.loadFile(target, loaded, seen); err != nil {
				loaded.Errors = append(loaded.Errors, fmt.Errorf("%s:%d: %w", abs, i+1, err))
			}
			continue
		}

		m := txnStartRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		date, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			loaded.Errors = append(loaded.Errors, fmt.Errorf("%s:%d: bad transaction date: %w", abs, i+1, err))
			continue
		}

		txn := &Transaction{
			Date:       date,
			Flag:       m[2],
			FilePath:   abs,
			LineNumber: i + 1,
		}
		strs := quotedRe.FindAllStringSubmatch(m[3], 2)
		if len(strs) == 1 {
			txn.Narration = strs[0][1]
		} else if len(strs) >= 2 {
			txn.Payee = strs[0][1]
			txn.Narration = strs[1][1]
		}

		// Postings continue until the first non-indented line
		for i+1 < len(lines) {
			next := lines[i+1]
			if strings.TrimSpace(next) == "" || (!strings.HasPrefix(next, " ") && !strings.HasPrefix(next, "\t")) {
				break
			}
			i++
			trimmed := strings.TrimSpace(next)
			if strings.HasPrefix(trimmed, ";") {
				continue
			}
			// Metadata lines like "receipt: ..." are not postings
			pm := postingRe.FindStringSubmatch(next)
			if pm == nil || strings.HasSuffix(pm[1], ":") {
				continue
			}
			posting := Posting{Account: pm[1], Comment: strings.TrimSpace(pm[4])}
			if pm[2] != "" {
				amount, err := decimal.NewFromString(pm[2])
				if err != nil {
					loaded.Errors = append(loaded.Errors, fmt.Errorf("%s:%d: bad posting amount: %w", abs, i+1, err))
					continue
				}
				posting.Amount = amount
				posting.Currency = pm[3]
				posting.HasAmount = true
			}
			txn.Postings = append(txn.Postings, posting)
		}

		loaded.Transactions = append(loaded.Transactions, txn)
	}

	return nil
}

// Validator checks a ledger tree for structural problems after a write.
type Validator interface {
	// Validate returns the problems found in the ledger rooted at path
	Validate(path string) []error
}

var balanceTolerance = decimal.RequireFromString("0.005")

// LoadValidator validates by re-loading the ledger and checking that
// fully-amounted transactions balance per currency.
type LoadValidator struct {
	loader *Loader
}

func NewLoadValidator(logger *slog.Logger) *LoadValidator {
	return &LoadValidator{loader: NewLoader(logger)}
}

func (v *LoadValidator) Validate(path string) []error {
	loaded, err := v.loader.Load(path)
	if err != nil {
		return []error{err}
	}
	errs := append([]error{}, loaded.Errors...)

	for _, txn := range loaded.Transactions {
		sums := map[string]decimal.Decimal{}
		elided := 0
		for _, p := range txn.Postings {
			if !p.HasAmount {
				elided++
				continue
			}
			sums[p.Currency] = sums[p.Currency].Add(p.Amount)
		}
		if elided > 0 {
			// One elided posting absorbs the residual
			continue
		}
		for currency, sum := range sums {
			if sum.Abs().GreaterThan(balanceTolerance) {
				errs = append(errs, fmt.Errorf("%s:%d: transaction does not balance: %s %s",
					txn.FilePath, txn.LineNumber, sum.StringFixed(2), currency))
			}
		}
	}
	return errs
}
