package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"
)

// ApplyStatus reports what apply did to the statement file.
type ApplyStatus string

const (
	StatusApplied        ApplyStatus = "applied"
	StatusAlreadyApplied ApplyStatus = "already_applied"
)

var writerTxnStartRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s+\*`)

// ApplyRequest carries everything needed to replace one statement
// transaction with an include of its enriched file.
type ApplyRequest struct {
	LedgerPath      string
	StatementPath   string
	LineNumber      int
	IncludeRelPath  string
	ReceiptName     string
	EnrichedPath    string
	EnrichedContent string
}

// Writer performs the only mutations this tool makes to ledger files.
type Writer struct {
	validator Validator
	logger    *slog.Logger
	now       func() time.Time
}

func NewWriter(validator Validator, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{validator: validator, logger: logger, now: time.Now}
}

// ApplyReceiptMatch writes the enriched transaction file and replaces
// the matched statement transaction with a commented copy plus an
// include directive. On any failure both files are restored.
func (w *Writer) ApplyReceiptMatch(req ApplyRequest) (ApplyStatus, error) {
	originalStatement, err := os.ReadFile(req.StatementPath)
	if err != nil {
		return "", fmt.Errorf("reading statement: %w", err)
	}

	var originalEnriched []byte
	enrichedExisted := false
	if data, err := os.ReadFile(req.EnrichedPath); err == nil {
		originalEnriched = data
		enrichedExisted = true
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading enriched file: %w", err)
	}

	restore := func() {
		if err := os.WriteFile(req.StatementPath, originalStatement, 0o644); err != nil {
			w.logger.Error("failed to restore statement", "path", req.StatementPath, "error", err)
		}
		if enrichedExisted {
			if err := os.WriteFile(req.EnrichedPath, originalEnriched, 0o644); err != nil {
				w.logger.Error("failed to restore enriched file", "path", req.EnrichedPath, "error", err)
			}
		} else if err := os.Remove(req.EnrichedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Error("failed to remove enriched file", "path", req.EnrichedPath, "error", err)
		}
	}

	if err := os.WriteFile(req.EnrichedPath, []byte(req.EnrichedContent), 0o644); err != nil {
		return "", fmt.Errorf("writing enriched file: %w", err)
	}

	status, err := w.replaceTransactionWithInclude(req)
	if err != nil {
		restore()
		return "", err
	}

	if errs := w.validator.Validate(req.LedgerPath); len(errs) > 0 {
		restore()
		preview := make([]string, 0, 2)
		for _, e := range errs {
			preview = append(preview, e.Error())
			if len(preview) == 2 {
				break
			}
		}
		return "", fmt.Errorf("ledger validation failed after replacement: %s", strings.Join(preview, "; "))
	}

	w.logger.Info("applied receipt match",
		"statement", req.StatementPath,
		"line", req.LineNumber,
		"receipt", req.ReceiptName,
		"status", string(status))
	return status, nil
}

func (w *Writer) replaceTransactionWithInclude(req ApplyRequest) (ApplyStatus, error) {
	content, err := os.ReadFile(req.StatementPath)
	if err != nil {
		return "", fmt.Errorf("reading statement: %w", err)
	}

	includePrefix := fmt.Sprintf(`include "%s"`, req.IncludeRelPath)
	if strings.Contains(string(content), includePrefix) {
		return StatusAlreadyApplied, nil
	}

	lines := splitKeepEnds(string(content))
	startIdx := req.LineNumber - 1
	if startIdx < 0 || startIdx >= len(lines) {
		return "", fmt.Errorf("invalid line number %d for %s", req.LineNumber, req.StatementPath)
	}
	if !writerTxnStartRe.MatchString(strings.TrimLeft(lines[startIdx], " \t")) {
		return "", fmt.Errorf("line %d in %s is not a transaction start: %s",
			req.LineNumber, req.StatementPath, strings.TrimRight(lines[startIdx], "\n"))
	}

	endIdx := findTransactionEnd(lines, startIdx)
	originalBlock := lines[startIdx:endIdx]
	if len(originalBlock) == 0 {
		return "", fmt.Errorf("empty transaction block at %s:%d", req.StatementPath, req.LineNumber)
	}

	stamp := w.now().Format("2006-01-02")
	replacement := []string{
		fmt.Sprintf("; bb-match replaced from receipt %s on %s\n", req.ReceiptName, stamp),
	}
	replacement = append(replacement, commentBlock(originalBlock)...)
	if strings.TrimSpace(replacement[len(replacement)-1]) != "" {
		replacement = append(replacement, "\n")
	}
	replacement = append(replacement, fmt.Sprintf("%s  ; bb-match: %s\n", includePrefix, req.ReceiptName))
	replacement = append(replacement, "\n")

	var out strings.Builder
	for _, line := range lines[:startIdx] {
		out.WriteString(line)
	}
	for _, line := range replacement {
		out.WriteString(line)
	}
	for _, line := range lines[endIdx:] {
		out.WriteString(line)
	}
	if err := os.WriteFile(req.StatementPath, []byte(out.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing statement: %w", err)
	}
	return StatusApplied, nil
}

// findTransactionEnd returns the exclusive end index of the transaction
// block starting at startIdx. The trailing blank line belongs to the
// block.
func findTransactionEnd(lines []string, startIdx int) int {
	idx := startIdx + 1
	for idx < len(lines) {
		line := lines[idx]
		if strings.TrimSpace(line) == "" {
			idx++
			break
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			idx++
			continue
		}
		break
	}
	return idx
}

// commentBlock comments out each non-empty line, leaving blank lines
// and existing comments alone.
func commentBlock(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			out = append(out, line)
		case strings.HasPrefix(strings.TrimLeft(line, " \t"), ";"):
			out = append(out, line)
		default:
			out = append(out, "; "+line)
		}
	}
	return out
}

// splitKeepEnds splits content into lines that retain their trailing
// newline, so joins reproduce the file byte for byte.
func splitKeepEnds(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
