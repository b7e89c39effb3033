// Command enginectl is a minimal CLI entrypoint over the Facade (C11), for
// smoke-testing a data directory and its Sources without any GUI or IPC
// transport (both explicitly out of scope for this module).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/localfile/engine/internal/config"
	"github.com/localfile/engine/internal/engine"
	"github.com/localfile/engine/internal/store"
)

func main() {
	var (
		dataDir = flag.String("data-dir", "./engine-data", "directory holding the index, vectors, and thumbnail cache")
		addPath = flag.String("add-source", "", "index a new local source at this path and exit")
		query   = flag.String("search", "", "run a search query and print matches, then exit")
		stats   = flag.Bool("stats", false, "print index stats and exit")
		serve   = flag.Bool("serve", false, "start the Scheduler and Watcher bridges and run until interrupted")
		reset   = flag.Bool("reset-index", false, "drop and rebuild the index for every source, then exit")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		slog.Error("enginectl: create data dir failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg, err := config.Load(*dataDir)
	if err != nil {
		slog.Error("enginectl: load config failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	eng, err := engine.New(ctx, engine.Options{DataDir: *dataDir, Cfg: cfg})
	if err != nil {
		slog.Error("enginectl: construct engine failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("enginectl: close engine failed", slog.String("error", err.Error()))
		}
	}()

	switch {
	case *addPath != "":
		src, err := eng.AddSource(ctx, *addPath)
		if err != nil {
			slog.Error("enginectl: add source failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Printf("indexed source %s at %s\n", src.ID, src.Root)

	case *query != "":
		results, err := eng.Search(ctx, *query, store.RecordFilters{}, 20, 0)
		if err != nil {
			slog.Error("enginectl: search failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		for _, r := range results {
			fmt.Printf("%.3f  %s\n", r.Score, r.Record.Path)
		}

	case *stats:
		s, err := eng.GetStats(ctx)
		if err != nil {
			slog.Error("enginectl: stats failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Printf("records=%d sources=%d tags=%d\n", s.TotalRecords, s.Sources, len(s.Tags))

	case *reset:
		if err := eng.ResetIndex(ctx); err != nil {
			slog.Error("enginectl: reset index failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Println("index rebuilt")

	case *serve:
		if err := eng.Start(ctx); err != nil {
			slog.Error("enginectl: start failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fmt.Println("enginectl: running, press Ctrl+C to stop")
		<-ctx.Done()

	default:
		flag.Usage()
		os.Exit(2)
	}
}
