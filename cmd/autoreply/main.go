// Command autoreply polls a Gmail inbox and answers each new conversation
// exactly once, tracking handled threads with a Gmail label instead of any
// local storage.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joshsymonds/autoreply/internal/gmail"
	"github.com/joshsymonds/autoreply/internal/marker"
	"github.com/joshsymonds/autoreply/internal/poll"
	"github.com/joshsymonds/autoreply/internal/rate"
	"github.com/joshsymonds/autoreply/internal/respond"
	"github.com/joshsymonds/autoreply/internal/runtime"
)

type agentConfig struct {
	cfgDir        string
	clientSecret  string
	tokenFile     string
	handledLabel  string
	exclude       string
	replyBodyFile string
	minSleep      time.Duration
	maxSleep      time.Duration
	pageSize      int
	rps           int
	dryRun        bool
	once          bool
}

func main() {
	cfg := parseAgentFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("autoreply failed", "error", err)
		os.Exit(1)
	}
}

func parseAgentFlags() agentConfig {
	cfgDir := flag.String("config", os.ExpandEnv("$HOME/.gmailctl"), "gmailctl auth directory")
	clientSecret := flag.String("client-secret", "", "OAuth client secret JSON (overrides -config)")
	tokenFile := flag.String("token", "", "OAuth token cache path (with -client-secret)")
	handledLabel := flag.String("label", "auto-replied", "label marking answered threads")
	excludeFlag := flag.String(
		"exclude-categories",
		strings.Join(respond.DefaultExcludeLabels(), ","),
		"comma separated category labels that are never auto-answered",
	)
	replyBodyFile := flag.String("reply-body-file", "", "file with the reply body (default built-in template)")
	minSleep := flag.Duration("min-sleep", poll.DefaultMinSleep, "inclusive lower bound of the inter-cycle sleep")
	maxSleep := flag.Duration("max-sleep", poll.DefaultMaxSleep, "inclusive upper bound of the inter-cycle sleep")
	pageSize := flag.Int("page-size", 100, "Gmail list page size (<=500)")
	rps := flag.Int("rps", 4, "max requests per second")
	dryRun := flag.Bool("dry-run", false, "log only; send nothing, mark nothing")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	return agentConfig{
		cfgDir:        *cfgDir,
		clientSecret:  *clientSecret,
		tokenFile:     *tokenFile,
		handledLabel:  *handledLabel,
		exclude:       *excludeFlag,
		replyBodyFile: *replyBodyFile,
		minSleep:      *minSleep,
		maxSleep:      *maxSleep,
		pageSize:      *pageSize,
		rps:           *rps,
		dryRun:        *dryRun,
		once:          *once,
	}
}

func run(cfg agentConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := runtime.DefaultLogger()

	if cfg.minSleep <= 0 || cfg.maxSleep < cfg.minSleep {
		return fmt.Errorf("invalid sleep bounds: min %s max %s", cfg.minSleep, cfg.maxSleep)
	}

	replyBody := ""
	if cfg.replyBodyFile != "" {
		b, err := os.ReadFile(cfg.replyBodyFile)
		if err != nil {
			return fmt.Errorf("read reply body: %w", err)
		}
		replyBody = string(b)
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	var limiter rate.Limiter = rate.Nop{}
	if cfg.rps > 0 {
		bucket := rate.NewTokenBucket(cfg.rps)
		defer bucket.Stop()
		limiter = bucket
	}

	svc := respond.NewService(client, marker.New(client, logger), limiter, logger)
	spec := respond.Spec{
		HandledLabel:  cfg.handledLabel,
		ExcludeLabels: splitList(cfg.exclude),
		ReplyBody:     replyBody,
		PageSize:      cfg.pageSize,
		DryRun:        cfg.dryRun,
	}

	if cfg.once {
		if _, cycleErr := svc.Cycle(ctx, spec); cycleErr != nil {
			return fmt.Errorf("run cycle: %w", cycleErr)
		}
		return nil
	}

	loop := poll.New(poll.RunnerFunc(func(ctx context.Context) error {
		_, cycleErr := svc.Cycle(ctx, spec)
		return cycleErr
	}), logger)
	loop.MinSleep = cfg.minSleep
	loop.MaxSleep = cfg.maxSleep

	logger.Info("autoreply started",
		"label", cfg.handledLabel,
		"min_sleep", cfg.minSleep,
		"max_sleep", cfg.maxSleep,
		"dry_run", cfg.dryRun,
	)
	if runErr := loop.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("autoreply stopped")
	return nil
}

func newClient(ctx context.Context, cfg agentConfig) (gmail.Client, error) {
	if cfg.clientSecret != "" {
		tokenFile := cfg.tokenFile
		if tokenFile == "" {
			tokenFile = os.ExpandEnv("$HOME/.config/autoreply/token.json")
		}
		return runtime.NewGmailClientFromFiles(ctx, cfg.clientSecret, tokenFile)
	}
	return runtime.NewGmailClient(ctx, cfg.cfgDir)
}

func splitList(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
