// Command rollover runs the closing/opening rollover against postgres outside
// the server, for a single reference date or a backfill range.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"saldo/backend/internal/calendar"
	"saldo/backend/internal/config"
	"saldo/backend/internal/ledger"
	pgstore "saldo/backend/internal/store/postgres"
)

type options struct {
	date    string
	from    string
	to      string
	migrate bool
}

func main() {
	var opts options
	flag.StringVar(&opts.date, "date", "", "reference date YYYY-MM-DD (default: today in the business timezone)")
	flag.StringVar(&opts.from, "from", "", "first reference date of a backfill")
	flag.StringVar(&opts.to, "to", "", "last reference date of a backfill")
	flag.BoolVar(&opts.migrate, "migrate", false, "apply schema migrations first")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(opts, logger); err != nil {
		logger.Error("rollover failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(opts options, logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	cal, err := calendar.Load(cfg.Ledger.Timezone)
	if err != nil {
		return err
	}
	from, to, err := referenceRange(opts, cal.Today())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.migrate {
		applied, err := pgstore.Migrate(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("schema migrations checked", zap.Bool("applied", applied))
	}
	repo, err := pgstore.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	scheduler := ledger.NewScheduler(repo, logger.Named("rollover"))
	reports, runErr := scheduler.Backfill(ctx, from, to)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return err
	}
	return runErr
}

// referenceRange resolves the flags into an inclusive range of reference dates.
// Future dates are rejected since their closing day has not ended.
func referenceRange(opts options, today calendar.Date) (calendar.Date, calendar.Date, error) {
	if opts.date != "" && (opts.from != "" || opts.to != "") {
		return calendar.Date{}, calendar.Date{}, errors.New("-date cannot be combined with -from/-to")
	}

	var from, to calendar.Date
	switch {
	case opts.from != "" || opts.to != "":
		if opts.from == "" || opts.to == "" {
			return calendar.Date{}, calendar.Date{}, errors.New("-from and -to must be given together")
		}
		var err error
		if from, err = calendar.ParseDate(opts.from); err != nil {
			return calendar.Date{}, calendar.Date{}, fmt.Errorf("-from: %w", err)
		}
		if to, err = calendar.ParseDate(opts.to); err != nil {
			return calendar.Date{}, calendar.Date{}, fmt.Errorf("-to: %w", err)
		}
		if to.Before(from) {
			return calendar.Date{}, calendar.Date{}, errors.New("-to must not be before -from")
		}
	case opts.date != "":
		d, err := calendar.ParseDate(opts.date)
		if err != nil {
			return calendar.Date{}, calendar.Date{}, fmt.Errorf("-date: %w", err)
		}
		from, to = d, d
	default:
		from, to = today, today
	}

	if to.After(today) {
		return calendar.Date{}, calendar.Date{}, fmt.Errorf("reference date %s is in the future", to)
	}
	return from, to, nil
}
