// Package session drives the interactive loop that pairs approved
// receipt drafts with credit card transactions and applies the result
// to the ledger.
package session

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-reconciler/internal/ledger"
	"github.com/zombor/receipt-reconciler/internal/receipt"
)

const (
	enrichedDirName   = "_enriched"
	maxDisplayMatches = 5
)

var applyGuardTolerance = decimal.RequireFromString("0.01")

// Prompter asks the user a question and returns the trimmed answer.
type Prompter interface {
	Prompt(message string) (string, error)
}

// StdinPrompter reads answers from standard input.
type StdinPrompter struct {
	reader *bufio.Reader
}

func NewStdinPrompter() *StdinPrompter {
	return &StdinPrompter{reader: bufio.NewReader(os.Stdin)}
}

func (p *StdinPrompter) Prompt(message string) (string, error) {
	fmt.Print(message)
	line, err := p.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Session holds the collaborators for one matching run.
type Session struct {
	store      *receipt.Store
	loader     *ledger.Loader
	matcher    *ledger.Matcher
	writer     *ledger.Writer
	prompter   Prompter
	out        io.Writer
	logger     *slog.Logger
	ledgerPath string
}

func NewSession(
	store *receipt.Store,
	loader *ledger.Loader,
	matcher *ledger.Matcher,
	writer *ledger.Writer,
	prompter Prompter,
	out io.Writer,
	logger *slog.Logger,
	ledgerPath string,
) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		store:      store,
		loader:     loader,
		matcher:    matcher,
		writer:     writer,
		prompter:   prompter,
		out:        out,
		logger:     logger,
		ledgerPath: ledgerPath,
	}
}

// Run executes the interactive matching loop until all selected
// receipts are handled or the user quits.
func (s *Session) Run() error {
	scanned, err := s.store.ListScanned()
	if err != nil {
		return fmt.Errorf("listing scanned receipts: %w", err)
	}
	if len(scanned) > 0 {
		fmt.Fprintln(s.out, color.YellowString(
			"Warning: %d receipt(s) still in scanned/. Approve them first to include them here.", len(scanned)))
	}

	loaded, err := s.loader.Load(s.ledgerPath)
	if err != nil {
		return fmt.Errorf("loading ledger: %w", err)
	}
	if len(loaded.Errors) > 0 {
		s.logger.Warn("ledger loaded with errors, matching may be unreliable", "errors", len(loaded.Errors))
	}
	transactions := loaded.Transactions
	fmt.Fprintf(s.out, "Loaded %d transactions from %s\n", len(transactions), s.ledgerPath)

	pending, err := s.store.ListApproved()
	if err != nil {
		return fmt.Errorf("listing approved receipts: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(s.out, "No approved receipts to match.")
		return nil
	}

	selected, err := s.selectReceipts(pending)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return nil
	}

	matched := 0
	skipped := 0
	used := map[ledger.MatchKey]bool{}
	stoppedEarly := false

receipts:
	for _, summary := range selected {
		fmt.Fprintf(s.out, "\n%s\n", filepath.Base(summary.Path))
		fmt.Fprintf(s.out, "  %s | %s | $%s\n", summary.Merchant, summaryDate(summary), summary.Amount.StringFixed(2))

		rcpt, err := receipt.ParseDraftFile(summary.Path)
		if err != nil {
			fmt.Fprintln(s.out, color.RedString("  Failed to parse receipt: %v", err))
			skipped++
			continue
		}

		matches := s.matcher.MatchReceiptToTransactions(rcpt, transactions)
		if len(matches) == 0 {
			fmt.Fprintln(s.out, "  No matches found - keeping in approved")
			skipped++
			continue
		}

		available := make([]ledger.MatchResult, 0, len(matches))
		for _, m := range matches {
			if !used[m.Key()] {
				available = append(available, m)
			}
		}
		if len(available) == 0 {
			fmt.Fprintln(s.out, "  All candidates were already used in this run.")
			answer, err := s.askOneOf("  [u] Show used candidates | [s] Skip | [q] Quit: ", "u", "s", "q")
			if err != nil {
				return err
			}
			switch answer {
			case "s":
				fmt.Fprintln(s.out, "  Skipped")
				skipped++
				continue
			case "q":
				stoppedEarly = true
				break receipts
			case "u":
				available = matches
			}
		}

		display := available
		if len(display) > maxDisplayMatches {
			display = display[:maxDisplayMatches]
		}
		fmt.Fprintf(s.out, "  Found %d match(es), %d available:\n", len(matches), len(available))
		for i, m := range display {
			suffix := ""
			if used[m.Key()] {
				suffix = " (already used)"
			}
			fmt.Fprintf(s.out, "    [%d] %s%s\n", i+1, formatMatch(m), suffix)
		}
		fmt.Fprintln(s.out, "    [s] Skip | [d] Delete receipt | [q] Quit")

		valid := make([]string, 0, len(display)+3)
		for i := range display {
			valid = append(valid, strconv.Itoa(i+1))
		}
		valid = append(valid, "s", "d", "q")
		choice, err := s.askOneOf("  Select: ", valid...)
		if err != nil {
			return err
		}

		switch choice {
		case "d":
			if err := s.store.Delete(summary.Path); err != nil {
				return fmt.Errorf("deleting receipt: %w", err)
			}
			fmt.Fprintln(s.out, "  Deleted")
		case "s":
			fmt.Fprintln(s.out, "  Skipped")
			skipped++
		case "q":
			stoppedEarly = true
			break receipts
		default:
			idx, _ := strconv.Atoi(choice)
			match := display[idx-1]
			if used[match.Key()] {
				confirm, err := s.prompter.Prompt("  Candidate already used earlier. Reuse it? [y/N]: ")
				if err != nil {
					return err
				}
				if answer := strings.ToLower(strings.TrimSpace(confirm)); answer != "y" && answer != "yes" {
					fmt.Fprintln(s.out, "  Skipped")
					skipped++
					continue
				}
			}

			if err := s.apply(rcpt, match, summary.Path); err != nil {
				fmt.Fprintln(s.out, color.RedString("  Failed to apply match: %v", err))
				skipped++
				continue
			}
			matched++
			used[match.Key()] = true

			// Line numbers shift after every replacement
			reloaded, err := s.loader.Load(s.ledgerPath)
			if err != nil {
				return fmt.Errorf("reloading ledger: %w", err)
			}
			if len(reloaded.Errors) > 0 {
				fmt.Fprintln(s.out, color.RedString("  Warning: ledger reload has errors; stopping session."))
				stoppedEarly = true
				break receipts
			}
			transactions = reloaded.Transactions
		}
	}

	fmt.Fprintln(s.out)
	if stoppedEarly {
		fmt.Fprintln(s.out, "Stopped early by user.")
	}
	fmt.Fprintf(s.out, "Done. %s, %s\n",
		color.GreenString("Matched: %d", matched),
		color.YellowString("Skipped: %d", skipped))
	return nil
}

func (s *Session) selectReceipts(pending []receipt.Summary) ([]receipt.Summary, error) {
	fmt.Fprintf(s.out, "\nApproved receipts (%d):\n", len(pending))
	fmt.Fprintln(s.out, strings.Repeat("-", 80))
	for i, summary := range pending {
		fmt.Fprintf(s.out, "%3d. %s  $%7s  %-28s  %s\n",
			i+1, summaryDate(summary), summary.Amount.StringFixed(2),
			summary.Merchant, filepath.Base(summary.Path))
	}
	fmt.Fprintln(s.out, strings.Repeat("-", 80))
	fmt.Fprintln(s.out, "a. Match all approved receipts")
	fmt.Fprintln(s.out, "q. Quit")

	for {
		choice, err := s.prompter.Prompt("Select receipt to match [q]: ")
		if err != nil {
			return nil, err
		}
		choice = strings.ToLower(strings.TrimSpace(choice))
		switch choice {
		case "", "q", "quit":
			fmt.Fprintln(s.out, "Cancelled.")
			return nil, nil
		case "a":
			return pending, nil
		}
		if idx, err := strconv.Atoi(choice); err == nil && idx >= 1 && idx <= len(pending) {
			return pending[idx-1 : idx], nil
		}
		fmt.Fprintln(s.out, "Invalid selection. Enter a number, 'a', or 'q'.")
	}
}

// apply guards against over-itemized receipts, then writes the
// enriched file and archives the receipt.
func (s *Session) apply(rcpt *receipt.Receipt, match ledger.MatchResult, receiptPath string) error {
	charge := match.Transaction.ChargeAmount()
	if charge != nil {
		itemized := rcpt.ItemizedTotal()
		if delta := charge.Sub(itemized); delta.LessThan(applyGuardTolerance.Neg()) {
			return fmt.Errorf("itemized receipt total ($%s) exceeds card transaction ($%s) by $%s, re-edit receipt first",
				itemized.StringFixed(2), charge.StringFixed(2), delta.Abs().StringFixed(2))
		}
	}

	statementPath := match.Transaction.FilePath
	statementDir := filepath.Dir(statementPath)
	enrichedDir := filepath.Join(statementDir, enrichedDirName)
	if err := os.MkdirAll(enrichedDir, 0o755); err != nil {
		return fmt.Errorf("creating enriched directory: %w", err)
	}

	receiptName := filepath.Base(receiptPath)
	stem := strings.TrimSuffix(receiptName, filepath.Ext(receiptName))
	enrichedPath := filepath.Join(enrichedDir, stem+"-enriched.beancount")
	includeRel := filepath.ToSlash(filepath.Join(enrichedDirName, stem+"-enriched.beancount"))

	status, err := s.writer.ApplyReceiptMatch(ledger.ApplyRequest{
		LedgerPath:      s.ledgerPath,
		StatementPath:   statementPath,
		LineNumber:      match.Transaction.LineNumber,
		IncludeRelPath:  includeRel,
		ReceiptName:     receiptName,
		EnrichedPath:    enrichedPath,
		EnrichedContent: ledger.FormatEnrichedTransaction(rcpt, &match, receipt.DefaultExpenseAccount),
	})
	if err != nil {
		return err
	}

	if _, err := s.store.MarkMatched(receiptPath); err != nil {
		return fmt.Errorf("archiving receipt: %w", err)
	}

	action := "applied"
	if status == ledger.StatusAlreadyApplied {
		action = "already applied; receipt archived"
	}
	fmt.Fprintln(s.out, color.GreenString("  Matched! Transaction %s. Enriched file: %s", action, enrichedPath))
	return nil
}

func (s *Session) askOneOf(message string, valid ...string) (string, error) {
	for {
		answer, err := s.prompter.Prompt(message)
		if err != nil {
			return "", err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		for _, v := range valid {
			if answer == v {
				return answer, nil
			}
		}
		fmt.Fprintf(s.out, "    Invalid. Enter one of: %s\n", strings.Join(valid, ", "))
	}
}

func formatMatch(m ledger.MatchResult) string {
	txn := m.Transaction
	amount := decimal.Zero
	account := ""
	for _, p := range txn.Postings {
		if p.HasAmount && p.Amount.IsNegative() {
			amount = p.Amount.Abs()
			account = p.Account
			break
		}
	}
	return fmt.Sprintf("%.0f%%  %s  $%s  %s  %s  (%s)  %s:%d",
		m.Confidence*100, txn.Date.Format("2006-01-02"), amount.StringFixed(2),
		account, txn.Payee, m.Details, filepath.Base(txn.FilePath), txn.LineNumber)
}

func summaryDate(summary receipt.Summary) string {
	if summary.Date.IsZero() {
		return "UNKNOWN"
	}
	return summary.Date.Format("2006-01-02")
}
