// Command accrue runs one daily billing accrual and exits. It is meant for
// external schedulers; re-running it for the same date creates no duplicates.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/app"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/config"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/internal/domain"
	"github.com/LemonWares-Technology/sjfulfillment-sub001/pkg/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("accrual failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("accrue", flag.ContinueOnError)
	date := fs.String("date", "", "billing date as YYYY-MM-DD (default: today in BILLING_TIMEZONE)")
	merchants := fs.String("merchants", "", "comma-separated merchant ids (default: every billable merchant)")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall time limit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New("fulfillment-accrue", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() { _ = core.Close() }()

	billing := core.Services.Billing
	day := billing.Today()
	if *date != "" {
		if day, err = domain.ParseDate(*date); err != nil {
			return fmt.Errorf("-date: %w", err)
		}
	}

	records, err := billing.AccrueDailyCharges(ctx, day, splitIDs(*merchants), "accrue-cli")
	log.Info("accrual run finished",
		slog.String("date", day.Format(domain.DateLayout)),
		slog.Int("records", len(records)),
	)
	return err
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
