// condenserd is the summarization daemon: it runs the worker pools
// against the durable job queue and serves the MCP tool surface on
// stdio.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/condenser-ai/condenser/internal/artifact"
	"github.com/condenser-ai/condenser/internal/cache"
	"github.com/condenser-ai/condenser/internal/db"
	"github.com/condenser-ai/condenser/internal/ledger"
	"github.com/condenser-ai/condenser/internal/mcp"
	"github.com/condenser-ai/condenser/internal/pipeline"
	"github.com/condenser-ai/condenser/internal/queue"
	"github.com/condenser-ai/condenser/internal/summarizer"
	"github.com/condenser-ai/condenser/internal/worker"
)

func main() {
	var (
		dbPath = flag.String(
			"db", "", "Path to SQLite database (default: "+
				"~/.condenser/condenser.db)")
		model = flag.String(
			"model", summarizer.DefaultModel,
			"Default summarization model")
		textWorkers = flag.Int(
			"text-workers", 3, "Text queue worker count")
		fileWorkers = flag.Int(
			"file-workers", 2, "File queue worker count")
		maxCalls = flag.Int(
			"max-calls", 4,
			"Maximum concurrent model calls across all workers")
		cacheTTL = flag.Duration(
			"cache-ttl", cache.DefaultTTL,
			"Summary cache entry lifetime")
		retention = flag.Duration(
			"retention", 7*24*time.Hour,
			"How long completed and failed jobs are kept")
		maintenanceEvery = flag.Duration(
			"maintenance-interval", time.Hour,
			"Cache purge and job prune cadence")
		refundOnFailure = flag.Bool(
			"refund-on-failure", false,
			"Return the admission credit when a job fails "+
				"permanently")
		noMCP = flag.Bool(
			"workers-only", false,
			"Run worker pools only (no MCP stdio)")
	)
	flag.Parse()

	logger := slog.Default()

	path := *dbPath
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			log.Fatalf("Failed to resolve database path: %v", err)
		}
	} else if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		path = home + path[1:]
	}

	// Open the database with migrations.
	dbStore, err := db.NewSqliteStore(&db.SqliteConfig{
		DatabaseFileName: path,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer dbStore.Close()

	// Core stores and services.
	artifacts := artifact.NewStore(dbStore)
	cacheStore := cache.NewStore(dbStore, artifacts)
	ledgerStore := ledger.NewStore(dbStore)
	jobs := queue.NewStore(dbStore)

	svc := pipeline.NewService(pipeline.Config{
		CacheTTL:        *cacheTTL,
		RefundOnFailure: *refundOnFailure,
	}, jobs, cacheStore, ledgerStore, artifacts, logger)

	remote := summarizer.NewAgentSummarizer(summarizer.Config{
		Model:         *model,
		MaxConcurrent: *maxCalls,
	}, logger)

	// Signal-driven shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	// One worker pool per job class, sharing the summarizer's call
	// semaphore.
	var wg sync.WaitGroup
	pools := []*worker.Pool{
		worker.NewPool(worker.Config{
			Class:       queue.ClassText,
			Concurrency: *textWorkers,
			CacheTTL:    *cacheTTL,
			Hooks:       svc.WorkerHooks(),
		}, jobs, artifacts, cacheStore, remote, logger),
		worker.NewPool(worker.Config{
			Class:       queue.ClassFile,
			Concurrency: *fileWorkers,
			CacheTTL:    *cacheTTL,
			Hooks:       svc.WorkerHooks(),
		}, jobs, artifacts, cacheStore, remote, logger),
	}
	for _, pool := range pools {
		wg.Add(1)
		go func(p *worker.Pool) {
			defer wg.Done()
			p.Run(ctx)
		}(pool)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runMaintenance(
			ctx, logger, jobs, cacheStore, *maintenanceEvery,
			*retention,
		)
	}()

	if *noMCP {
		logger.Info("running in workers-only mode")
		<-ctx.Done()
	} else {
		logger.Info("starting condenser MCP server")
		server := mcp.NewServer(svc)
		err := server.Run(ctx, &sdkmcp.StdioTransport{})
		if err != nil && ctx.Err() == nil {
			log.Fatalf("MCP server error: %v", err)
		}
		cancel()
	}

	wg.Wait()
}

// runMaintenance periodically drops expired cache entries and prunes
// terminal jobs past their retention window.
func runMaintenance(
	ctx context.Context, logger *slog.Logger, jobs *queue.Store,
	cacheStore *cache.Store, every, retention time.Duration,
) {

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		purged, err := cacheStore.PurgeExpired(ctx)
		if err != nil {
			logger.Error("cache purge failed", "err", err)
		}

		pruned, err := jobs.PruneTerminal(ctx, retention)
		if err != nil {
			logger.Error("job prune failed", "err", err)
		}

		if purged > 0 || pruned > 0 {
			logger.Info("maintenance pass",
				"cache_purged", purged,
				"jobs_pruned", pruned)
		}
	}
}
