// Package main labels expired screened contracts and archives old outcomes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"covered-call-lab/internal/archival"
	"covered-call-lab/internal/config"
	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/logging"
	"covered-call-lab/internal/metrics"
	"covered-call-lab/internal/pipeline"
	"covered-call-lab/internal/reporting"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config (CCL_* env vars override)")
	outputDir := flag.String("output-dir", "", "Override output.dir")
	noExport := flag.Bool("no-export", false, "Skip CSV/Markdown export")
	noArchive := flag.Bool("no-archive", false, "Skip the archival step")
	lifetime := flag.Bool("lifetime", false, "Print statistics over the whole archive")
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
		logger.Warn("received signal, cancelling labeling", zap.Stringer("signal", sig))
		cancel()
	}()

	if err := run(ctx, cfg, logger, !*noExport, !*noArchive, *lifetime); err != nil {
		logger.Error("labeling failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, export, archive, lifetime bool) error {
	stores, err := pipeline.OpenStores(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer stores.Close()

	providers := pipeline.NewProviders(cfg, logger)
	machine, err := pipeline.NewMachineFromConfig(cfg.Labeling, providers.Closes, logger)
	if err != nil {
		return err
	}

	opts := pipeline.LabelingOptions{
		Records:     stores.Records,
		Machine:     machine,
		Training:    stores.Training,
		RunLog:      stores.RunLog,
		Concurrency: cfg.App.Concurrency,
		Logger:      logger,
	}
	if archive {
		opts.Archiver = archival.NewManager(stores.Records, cfg.RetentionDays(), logger)
	}
	if export {
		opts.Exporter = reporting.NewExporter(cfg.Output.Dir)
	}

	summary, err := pipeline.NewLabelingJob(opts).Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Labeling %s (run %s, policy %s)\n", summary.RunDate.Format(domain.DateLayout), summary.RunID, summary.Policy)
	fmt.Printf("  Processed:  %d\n", summary.Processed)
	fmt.Printf("  Labeled:    %d (win %d, loss %d)\n", summary.Labeled, summary.Wins, summary.Losses)
	fmt.Printf("  Deferred:   %d\n", summary.Deferred)
	fmt.Printf("  Not due:    %d\n", summary.NotDue)
	fmt.Printf("  Skipped:    %d\n", summary.Skipped)
	fmt.Printf("  Pending:    %d\n", summary.Pending)
	if summary.Archival != nil {
		fmt.Printf("  Archived:   %d of %d eligible (cutoff %s)\n",
			summary.Archival.Moved, summary.Archival.Eligible, summary.Archival.Cutoff.Format(domain.DateLayout))
	}
	if s := summary.Stats; s != nil && s.Total > 0 {
		fmt.Printf("  Win rate:   %.2f%%\n", s.WinRate*100)
		fmt.Printf("  Mean ret:   %.4f\n", s.ReturnMean)
	}
	for _, p := range summary.ExportPaths {
		fmt.Printf("  Wrote %s\n", p)
	}

	if !lifetime {
		return nil
	}
	stats, err := metrics.NewAggregator(stores.Training, stores.Records).Lifetime(ctx)
	if errors.Is(err, metrics.ErrNoLabels) {
		fmt.Println("Lifetime: no archived outcomes")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Lifetime (%d outcomes, %d symbols)\n", stats.Total, stats.Symbols)
	fmt.Printf("  Win rate:        %.2f%%\n", stats.WinRate*100)
	fmt.Printf("  Assigned rate:   %.2f%%\n", stats.AssignedRate*100)
	fmt.Printf("  Return median:   %.4f (p10 %.4f, p90 %.4f)\n", stats.ReturnMedian, stats.ReturnP10, stats.ReturnP90)
	fmt.Printf("  Total P/L:       %.2f\n", stats.TotalPnL)
	fmt.Printf("  Max loss streak: %d\n", stats.MaxConsecutiveLosses)
	return nil
}
