// Command autoreply-status prints a one-shot snapshot of the mailbox the
// agent is watching: unread volume by sender domain, category spread, and
// whether the handled label exists yet.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/autoreply/internal/rate"
	"github.com/joshsymonds/autoreply/internal/report"
	"github.com/joshsymonds/autoreply/internal/runtime"
)

type statusConfig struct {
	cfgDir       string
	handledLabel string
	topN         int
	pageSize     int
	rps          int
}

func main() {
	cfg := parseStatusFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("autoreply-status failed", "error", err)
		os.Exit(1)
	}
}

func parseStatusFlags() statusConfig {
	cfgDir := flag.String("config", os.ExpandEnv("$HOME/.gmailctl"), "gmailctl auth directory")
	handledLabel := flag.String("label", "auto-replied", "label marking answered threads")
	topN := flag.Int("top", 10, "number of sender domains to show")
	pageSize := flag.Int("page-size", 100, "Gmail list page size (<=500)")
	rps := flag.Int("rps", 4, "max requests per second")
	flag.Parse()

	return statusConfig{
		cfgDir:       *cfgDir,
		handledLabel: *handledLabel,
		topN:         *topN,
		pageSize:     *pageSize,
		rps:          *rps,
	}
}

func run(cfg statusConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := runtime.NewGmailClient(ctx, cfg.cfgDir)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	var limiter rate.Limiter = rate.Nop{}
	if cfg.rps > 0 {
		bucket := rate.NewTokenBucket(cfg.rps)
		defer bucket.Stop()
		limiter = bucket
	}

	svc := report.NewService(client, limiter, runtime.DefaultLogger())
	rep, err := svc.Run(ctx, report.Options{
		HandledLabel: cfg.handledLabel,
		TopN:         cfg.topN,
		PageSize:     cfg.pageSize,
	})
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	return report.PrintHuman(rep, os.Stdout)
}
