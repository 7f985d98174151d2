package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-reconciler/internal/category"
	"github.com/zombor/receipt-reconciler/internal/ledger"
	"github.com/zombor/receipt-reconciler/internal/ocr"
	"github.com/zombor/receipt-reconciler/internal/receipt"
	"github.com/zombor/receipt-reconciler/internal/scan"
	"github.com/zombor/receipt-reconciler/internal/session"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

var defaultKnownMerchants = strings.Join([]string{
	"WALMART", "COSTCO", "T&T SUPERMARKET", "REAL CANADIAN SUPERSTORE",
	"SHOPPERS DRUG MART", "FARM BOY", "DOLLARAMA", "CANADIAN TIRE",
	"METRO", "LOBLAWS", "FOOD BASICS", "NO FRILLS",
}, ",")

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	rootFlags := ff.NewFlagSet("receipt-reconciler")
	var (
		receiptsDir = rootFlags.StringLong("receipts", "./receipts", "Receipt storage directory")
		rulesPath   = rootFlags.StringLong("rules", "", "Category rule overlay YAML files (comma-separated)")
		showVersion = rootFlags.BoolLong("version", "Show version information")
	)

	root := &ff.Command{
		Name:  "receipt-reconciler",
		Usage: "receipt-reconciler [FLAGS] SUBCOMMAND ...",
		Flags: rootFlags,
		Exec: func(ctx context.Context, args []string) error {
			if *showVersion {
				fmt.Println(version)
				return nil
			}
			return ff.ErrHelp
		},
	}

	scanFlags := ff.NewFlagSet("scan").SetParent(rootFlags)
	var (
		ocrURL      = scanFlags.StringLong("ocr-url", "http://localhost:8000", "OCR service base URL")
		dbPath      = scanFlags.StringLong("db", "", "Scan index database path (default <receipts>/scans.db)")
		geminiKey   = scanFlags.StringLong("gemini-key", "", "Google Gemini API key for the fallback transcriber (or set GEMINI_API_KEY)")
		geminiModel = scanFlags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		merchants   = scanFlags.StringLong("merchants", defaultKnownMerchants, "Known merchant names, comma-separated")
		ccAccount   = scanFlags.StringLong("cc-account", receipt.DefaultCreditCardAccount, "Credit card account on generated drafts")
		noEdit      = scanFlags.BoolLong("no-edit", "Skip opening the draft in $EDITOR after scanning")
	)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "scan",
		Usage:     "receipt-reconciler scan [FLAGS] IMAGE...",
		ShortHelp: "OCR receipt images into editable beancount drafts",
		Flags:     scanFlags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return errors.New("scan requires at least one image path")
			}

			store, err := newStore(*receiptsDir)
			if err != nil {
				return err
			}

			indexPath := *dbPath
			if indexPath == "" {
				indexPath = filepath.Join(*receiptsDir, "scans.db")
			}
			index, err := receipt.NewBoltIndex(indexPath)
			if err != nil {
				return fmt.Errorf("opening scan index: %w", err)
			}
			defer index.Close()

			primary, err := ocr.NewClient(*ocrURL)
			if err != nil {
				return fmt.Errorf("creating OCR client: %w", err)
			}
			defer primary.Close()

			var fallback ocr.OCRer
			apiKey := *geminiKey
			if apiKey == "" {
				apiKey = os.Getenv("GEMINI_API_KEY")
			}
			if apiKey != "" {
				gemini, err := ocr.NewGemini(apiKey, *geminiModel)
				if err != nil {
					return fmt.Errorf("creating Gemini transcriber: %w", err)
				}
				defer gemini.Close()
				fallback = gemini
			}

			classifier, err := newClassifier(*rulesPath)
			if err != nil {
				return err
			}

			service := scan.NewService(primary, fallback, store, index, classifier, scan.Config{
				KnownMerchants:    splitList(*merchants),
				CreditCardAccount: *ccAccount,
			}, slog.Default())

			for _, imagePath := range args {
				if err := scanOne(ctx, service, store, imagePath, *noEdit); err != nil {
					return err
				}
			}
			return nil
		},
	})

	approveFlags := ff.NewFlagSet("approve").SetParent(rootFlags)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "approve",
		Usage:     "receipt-reconciler approve [DRAFT...]",
		ShortHelp: "Move reviewed drafts from scanned/ to approved/",
		Flags:     approveFlags,
		Exec: func(ctx context.Context, args []string) error {
			store, err := newStore(*receiptsDir)
			if err != nil {
				return err
			}

			drafts := args
			if len(drafts) == 0 {
				drafts, err = store.ListScanned()
				if err != nil {
					return fmt.Errorf("listing scanned drafts: %w", err)
				}
				if len(drafts) == 0 {
					fmt.Println("No scanned drafts to approve.")
					return nil
				}
			}

			for _, draft := range drafts {
				approved, err := store.Approve(draft)
				if err != nil {
					return fmt.Errorf("approving %s: %w", draft, err)
				}
				fmt.Printf("Approved: %s\n", approved)
			}
			return nil
		},
	})

	listFlags := ff.NewFlagSet("list").SetParent(rootFlags)
	filter := listFlags.StringLong("filter", "", "Fuzzy merchant filter")
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "list",
		Usage:     "receipt-reconciler list [--filter MERCHANT]",
		ShortHelp: "List approved receipts awaiting a match",
		Flags:     listFlags,
		Exec: func(ctx context.Context, args []string) error {
			store, err := newStore(*receiptsDir)
			if err != nil {
				return err
			}
			summaries, err := store.ListApproved()
			if err != nil {
				return fmt.Errorf("listing approved receipts: %w", err)
			}

			shown := 0
			for _, summary := range summaries {
				if *filter != "" && !fuzzy.MatchNormalizedFold(*filter, summary.Merchant) {
					continue
				}
				date := "UNKNOWN"
				if !summary.Date.IsZero() {
					date = summary.Date.Format("2006-01-02")
				}
				fmt.Printf("%s  $%8s  %-28s  %s\n",
					date, summary.Amount.StringFixed(2), summary.Merchant, filepath.Base(summary.Path))
				shown++
			}
			if shown == 0 {
				fmt.Println("No approved receipts.")
			}
			return nil
		},
	})

	scansFlags := ff.NewFlagSet("scans").SetParent(rootFlags)
	var (
		scansDBPath = scansFlags.StringLong("db", "", "Scan index database path (default <receipts>/scans.db)")
		scansForget = scansFlags.BoolLong("forget", "Forget the scan records named by SHA-256 so their images can be re-scanned")
	)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "scans",
		Usage:     "receipt-reconciler scans [--forget SHA256...]",
		ShortHelp: "List or forget recorded scans in the dedupe index",
		Flags:     scansFlags,
		Exec: func(ctx context.Context, args []string) error {
			indexPath := *scansDBPath
			if indexPath == "" {
				indexPath = filepath.Join(*receiptsDir, "scans.db")
			}
			index, err := receipt.NewBoltIndex(indexPath)
			if err != nil {
				return fmt.Errorf("opening scan index: %w", err)
			}
			defer index.Close()

			if *scansForget {
				if len(args) == 0 {
					return errors.New("scans --forget requires at least one SHA-256")
				}
				for _, sha := range args {
					if err := index.DeleteScan(sha); err != nil {
						return fmt.Errorf("forgetting scan %s: %w", sha, err)
					}
					fmt.Printf("Forgot: %s\n", sha)
				}
				return nil
			}

			records, err := index.ListScans()
			if err != nil {
				return fmt.Errorf("listing scans: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No recorded scans.")
				return nil
			}
			for _, record := range records {
				fmt.Printf("%s  %s  $%8s  %-28s  %s\n",
					record.ImageSHA256[:12], record.ScannedAt.Format("2006-01-02"),
					record.Total, record.Merchant, filepath.Base(record.DraftPath))
			}
			return nil
		},
	})

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		servePort        = serveFlags.IntLong("port", 8080, "HTTP server port")
		serveOCRURL      = serveFlags.StringLong("ocr-url", "http://localhost:8000", "OCR service base URL")
		serveDBPath      = serveFlags.StringLong("db", "", "Scan index database path (default <receipts>/scans.db)")
		serveGeminiKey   = serveFlags.StringLong("gemini-key", "", "Google Gemini API key for the fallback transcriber (or set GEMINI_API_KEY)")
		serveGeminiModel = serveFlags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		serveMerchants   = serveFlags.StringLong("merchants", defaultKnownMerchants, "Known merchant names, comma-separated")
		serveCCAccount   = serveFlags.StringLong("cc-account", receipt.DefaultCreditCardAccount, "Credit card account on generated drafts")
		authUser         = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "serve",
		Usage:     "receipt-reconciler serve [FLAGS]",
		ShortHelp: "Accept receipt image uploads over HTTP (phone shortcut target)",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			store, err := newStore(*receiptsDir)
			if err != nil {
				return err
			}

			indexPath := *serveDBPath
			if indexPath == "" {
				indexPath = filepath.Join(*receiptsDir, "scans.db")
			}
			index, err := receipt.NewBoltIndex(indexPath)
			if err != nil {
				return fmt.Errorf("opening scan index: %w", err)
			}
			defer index.Close()

			primary, err := ocr.NewClient(*serveOCRURL)
			if err != nil {
				return fmt.Errorf("creating OCR client: %w", err)
			}
			defer primary.Close()

			var fallback ocr.OCRer
			apiKey := *serveGeminiKey
			if apiKey == "" {
				apiKey = os.Getenv("GEMINI_API_KEY")
			}
			if apiKey != "" {
				gemini, err := ocr.NewGemini(apiKey, *serveGeminiModel)
				if err != nil {
					return fmt.Errorf("creating Gemini transcriber: %w", err)
				}
				defer gemini.Close()
				fallback = gemini
			}

			classifier, err := newClassifier(*rulesPath)
			if err != nil {
				return err
			}

			service := scan.NewService(primary, fallback, store, index, classifier, scan.Config{
				KnownMerchants:    splitList(*serveMerchants),
				CreditCardAccount: *serveCCAccount,
			}, slog.Default())

			server := scan.NewServer(service, index, scan.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})

			addr := fmt.Sprintf(":%d", *servePort)
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(addr)
			}()

			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return fmt.Errorf("server: %w", err)
			case <-sigChan:
				slog.Info("Shutting down...")
				return nil
			}
		},
	})

	matchFlags := ff.NewFlagSet("match").SetParent(rootFlags)
	ledgerPath := matchFlags.StringLong("ledger", "", "Path to the main beancount ledger")
	root.Subcommands = append(root.Subcommands, &ff.Command{
		Name:      "match",
		Usage:     "receipt-reconciler match --ledger main.beancount",
		ShortHelp: "Interactively match approved receipts to ledger transactions",
		Flags:     matchFlags,
		Exec: func(ctx context.Context, args []string) error {
			if *ledgerPath == "" {
				return errors.New("match requires --ledger")
			}
			if _, err := os.Stat(*ledgerPath); err != nil {
				return fmt.Errorf("ledger file: %w", err)
			}

			store, err := newStore(*receiptsDir)
			if err != nil {
				return err
			}

			logger := slog.Default()
			sess := session.NewSession(
				store,
				ledger.NewLoader(logger),
				ledger.NewMatcher(ledger.DefaultMatchConfig()),
				ledger.NewWriter(ledger.NewLoadValidator(logger), logger),
				session.NewStdinPrompter(),
				os.Stdout,
				logger,
				*ledgerPath,
			)
			return sess.Run()
		},
	})

	err := root.ParseAndRun(context.Background(), os.Args[1:], ff.WithEnvVarPrefix("RECEIPT_RECONCILER"))
	switch {
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root))
		os.Exit(1)
	case err != nil:
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newStore(baseDir string) (*receipt.Store, error) {
	store := receipt.NewStore(baseDir, slog.Default())
	if err := store.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("creating receipt directories: %w", err)
	}
	return store, nil
}

func newClassifier(rulesPath string) (*category.Classifier, error) {
	overlays := make([]category.Overlay, 0)
	for _, path := range splitList(rulesPath) {
		overlay, err := category.LoadOverlayFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading category rules %s: %w", path, err)
		}
		overlays = append(overlays, overlay)
	}
	return category.NewClassifier(overlays...), nil
}

func splitList(value string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

func scanOne(ctx context.Context, service *scan.Service, store *receipt.Store, imagePath string, noEdit bool) error {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(imagePath))
	if contentType == "" {
		contentType = "image/jpeg"
	}

	result, err := service.Process(ctx, filepath.Base(imagePath), data, contentType)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", imagePath, err)
	}

	if result.Status == scan.StatusDuplicate {
		fmt.Printf("Already scanned: %s -> %s\n", imagePath, result.DraftPath)
		return nil
	}

	fmt.Printf("Scanned: %s (%s, $%s, %d items)\n",
		filepath.Base(result.DraftPath), result.Receipt.Merchant,
		result.Receipt.Total.StringFixed(2), len(result.Receipt.Items))

	editor := os.Getenv("EDITOR")
	if noEdit || editor == "" {
		fmt.Printf("Review the draft, then run: receipt-reconciler approve %s\n", result.DraftPath)
		return nil
	}

	cmd := exec.CommandContext(ctx, editor, result.DraftPath)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running editor: %w", err)
	}

	approved, err := store.Approve(result.DraftPath)
	if err != nil {
		return fmt.Errorf("approving draft: %w", err)
	}
	fmt.Printf("Approved: %s\n", approved)
	return nil
}
