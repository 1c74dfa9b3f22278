// Package main runs one screening pass over the configured watchlist.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"covered-call-lab/internal/config"
	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/logging"
	"covered-call-lab/internal/pipeline"
	"covered-call-lab/internal/reporting"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (CCL_* env vars override)")
	outputDir := flag.String("output-dir", "", "Override output.dir")
	noExport := flag.Bool("no-export", false, "Skip CSV/Markdown export")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn("received signal, cancelling screening", zap.Stringer("signal", sig))
		cancel()
	}()

	if err := run(ctx, cfg, logger, !*noExport); err != nil {
		logger.Error("screening failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, export bool) error {
	stores, err := pipeline.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	providers := pipeline.NewProviders(cfg, logger)

	opts := pipeline.ScreeningOptionsFromConfig(cfg)
	opts.Chains = providers.Chains
	opts.Rates = providers.Rates
	opts.Records = stores.Records
	opts.Output = stores.Output
	opts.RunLog = stores.RunLog
	opts.Logger = logger
	if export {
		opts.Exporter = reporting.NewExporter(cfg.Output.Dir)
	}

	summary, err := pipeline.NewScreeningJob(opts).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Screening %s (run %s)\n", summary.RunDate.Format(domain.DateLayout), summary.RunID)
	fmt.Printf("  Symbols:    %d (%d failed)\n", summary.Symbols, summary.SymbolsFailed)
	fmt.Printf("  Processed:  %d\n", summary.Processed)
	fmt.Printf("  Skipped:    %d\n", summary.Skipped)
	fmt.Printf("  Persisted:  %d\n", summary.Persisted)
	if summary.RateFallback {
		fmt.Printf("  Risk-free:  %.4f (fallback)\n", summary.RiskFreeRate)
	} else {
		fmt.Printf("  Risk-free:  %.4f\n", summary.RiskFreeRate)
	}
	for i, r := range summary.Ranked {
		if i == 10 {
			fmt.Printf("  ... %d more\n", len(summary.Ranked)-i)
			break
		}
		fmt.Printf("  %2d. %-6s %s strike=%.2f premium=%.2f annual=%.2f%%\n", i+1,
			r.Symbol, r.Expiration.Format(domain.DateLayout), r.Strike, r.Premium, r.AnnualizedReturn*100)
	}
	if len(summary.Ranked) == 0 {
		for _, d := range summary.Diagnostics {
			fmt.Printf("  rule %-24s passed %d/%d\n", d.Rule, d.Passed, d.Total)
		}
	}
	for _, p := range summary.ExportPaths {
		fmt.Printf("  Wrote %s\n", p)
	}
	return nil
}
