package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"mailmint/internal/auth"
	"mailmint/internal/config"
	"mailmint/internal/gmail"
	"mailmint/internal/logger"
	"mailmint/internal/pipeline"
	"mailmint/internal/sheets"
	"mailmint/internal/store"
	"mailmint/internal/tui"
)

const (
	configFile = "config.yml"
	dbFile     = "mailmint.db"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Cannot load .env: %v\n", err)
		os.Exit(1)
	}
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "authorize":
		runAuthorize(log)
	case "run":
		runPipeline(log)
	case "browse":
		runBrowse(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("mailmint: bank alert emails to a spending sheet")
	fmt.Println("\nUsage:")
	fmt.Println("  mailmint <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  authorize  Grant Gmail (read-only) and Sheets access and cache the token")
	fmt.Println("  run        Fetch issuer emails, extract transactions and update the sheet")
	fmt.Println("  browse     Browse cached transactions and parse misses")
	fmt.Println("  help       Show this help message")
	fmt.Println("\nConfiguration lives in $MAILMINT_CONFIG_DIR (default ~/.config/mailmint).")
}

func configDir(log zerolog.Logger) string {
	dir, err := config.Dir()
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot determine config directory")
	}
	return dir
}

// scopes is every permission the run command needs, requested in one consent.
func scopes() []string {
	return append(append([]string{}, gmail.Scopes...), sheets.Scopes...)
}

func runAuthorize(log zerolog.Logger) {
	flags := flag.NewFlagSet("authorize", flag.ExitOnError)
	flags.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if _, err := auth.Authorize(ctx, configDir(log), scopes()); err != nil {
		log.Fatal().Err(err).Msg("Authorization failed")
	}
	fmt.Println("Token saved.")
}

func runPipeline(log zerolog.Logger) {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	debug := flags.Bool("debug", false, "dump every fetched body to the cache and log at debug level")
	dryRun := flags.Bool("dry-run", false, "skip writing to the spreadsheet")
	flags.Parse(os.Args[2:])

	dir := configDir(log)
	cfg, err := config.Load(filepath.Join(dir, configFile))
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *debug {
		cfg.Debug = true
	}
	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	log = log.Level(level)

	// Bad patterns or parser classes stop the run before any network call.
	parsers, err := pipeline.BuildParsers(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid issuer configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	hc, err := auth.NewHTTPClient(ctx, dir, scopes())
	if err != nil {
		log.Fatal().Err(err).Msg("Authentication failed")
	}
	gsvc, err := gmailv1.NewService(ctx, option.WithHTTPClient(hc))
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot create Gmail client")
	}

	db, err := store.NewSQLiteStore(filepath.Join(dir, dbFile))
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open database")
	}
	defer db.Close()

	fetcher := gmail.NewFetcher(nil)
	fetcher.BatchSize = cfg.BatchSize
	fetcher.MaxRetries = cfg.Retries()
	fetcher.InitialDelay = cfg.InitialDelay

	deps := pipeline.Deps{
		Mailbox:  gmail.NewMailbox(gsvc, hc, fetcher),
		Parsers:  parsers,
		Store:    db,
		Notifier: pipeline.LogNotifier{Log: log},
	}
	if !*dryRun {
		if cfg.SpreadsheetID == "" {
			log.Fatal().Msg("spreadsheet_id is not set; use -dry-run to skip the sheet")
		}
		ssvc, err := sheetsv4.NewService(ctx, option.WithHTTPClient(hc))
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot create Sheets client")
		}
		deps.Sink = sheets.NewWriter(ssvc, cfg.SpreadsheetID, cfg.TemplateSheet)
	}

	report, err := pipeline.Run(ctx, cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Run failed")
	}

	total := report.Totals()
	cached, err := db.CountTransactions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cannot count cached transactions")
	}
	log.Info().
		Str("run", report.RunID).
		Int("listed", total.Listed).
		Int("fetched", total.Fetched).
		Int("extracted", total.Extracted).
		Int("misses", total.Misses).
		Int("months", len(report.Months)).
		Int("cached", cached).
		Msg("Run complete")
}

func runBrowse(log zerolog.Logger) {
	flags := flag.NewFlagSet("browse", flag.ExitOnError)
	flags.Parse(os.Args[2:])

	db, err := store.NewSQLiteStore(filepath.Join(configDir(log), dbFile))
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open database")
	}
	defer db.Close()

	appModel := tui.NewAppModel(db)
	p := tea.NewProgram(&appModel, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Alas, there's been an error: %v\n", err)
		os.Exit(1)
	}
	if m, ok := finalModel.(*tui.AppModel); ok && m.Err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", m.Err)
		os.Exit(1)
	}
}
