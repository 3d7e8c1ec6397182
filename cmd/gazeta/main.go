package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"gazeta/internal/loader"
	"gazeta/internal/types"
)

var (
	configPath = flag.String("config", "config.toml", "Path to configuration file")
	maxItems   = flag.Int("max", 0, "Item budget for this run (0 uses the configured default)")
	dryRun     = flag.Bool("dry-run", false, "Report what would be processed without writing anything")
	force      = flag.Bool("force", false, "Reprocess items that already completed")
	runOnce    = flag.Bool("once", false, "Run a single pass and exit")
	showStats  = flag.Bool("stats", false, "Print state store statistics and exit")
)

func main() {
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal: %v, shutting down\n", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(ctx context.Context) error {
	opts := types.RunOptions{
		MaxItems: *maxItems,
		DryRun:   *dryRun,
		Force:    *force,
	}

	app, err := loader.LoadAndBuild(ctx, *configPath, opts, *runOnce)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if *showStats {
		defer app.Close(ctx)
		return printStats(ctx, app)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return app.Stop(shutdownCtx)
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := app.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	return nil
}

func printStats(ctx context.Context, app *loader.App) error {
	stats, err := app.Stats(ctx)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Stage", "Records"})
	for _, stage := range types.Stages() {
		t.AppendRow(table.Row{string(stage), stats.ByStage[stage]})
	}
	t.AppendFooter(table.Row{"Total", stats.TotalRecords})
	t.Render()

	fmt.Printf("Total cost units: %d\n", stats.TotalCostUnits)
	return nil
}
