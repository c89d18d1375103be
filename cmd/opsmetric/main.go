// opsmetric is a KPI calculation service: it loads a declarative KPI
// catalogue, computes aggregate values and root-cause breakdowns from raw
// data tables, serves them over a JSON API and pushes scheduled digests to
// notification channels.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsmetric-team/opsmetric/internal/catalogue"
	"github.com/opsmetric-team/opsmetric/internal/config"
	"github.com/opsmetric-team/opsmetric/internal/engine"
	"github.com/opsmetric-team/opsmetric/internal/notifier"
	"github.com/opsmetric-team/opsmetric/internal/scheduler"
	"github.com/opsmetric-team/opsmetric/internal/server"
	"github.com/opsmetric-team/opsmetric/internal/source"
)

var (
	// Version information (set at build time via -ldflags)
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	runOnce := flag.Bool("once", false, "Compute one digest and exit (skip server and scheduler)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("opsmetric %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("opsmetric %s starting...", version)

	// Initialize the data source backend
	src, err := newSource(&cfg.Source)
	if err != nil {
		log.Fatalf("Failed to initialize data source: %v", err)
	}
	defer src.Close()

	// Test connectivity for backends that support it
	if pinger, ok := src.(source.Pinger); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pinger.Ping(ctx); err != nil {
			log.Fatalf("Failed to connect to data source: %v", err)
		}
		cancel()
		log.Println("Data source connection established")
	}

	// One session-scoped table cache for the service lifetime; the
	// scheduler invalidates it before each digest.
	session := source.NewSession(src)

	// Load the KPI catalogue
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	cat, err := loadCatalogue(ctx, session, cfg.Catalogue.Table)
	cancel()
	if err != nil {
		log.Fatalf("Failed to load KPI catalogue: %v", err)
	}
	log.Printf("Loaded %d KPI definitions", cat.Len())

	// Initialize the calculation engine
	eng := engine.New(cat, session)
	eng.SetCountryAliases(cfg.Countries)

	// Initialize notifier
	var notify notifier.Notifier
	switch cfg.Notifier.Type {
	case "webhook":
		notify, err = notifier.NewWebhookNotifier(&cfg.Notifier)
		if err != nil {
			log.Fatalf("Failed to initialize webhook notifier: %v", err)
		}
	case "console":
		notify = notifier.NewConsoleNotifier()
	default:
		log.Fatalf("Unknown notifier type: %s", cfg.Notifier.Type)
	}
	log.Printf("Notifier initialized: %s", notify.Name())

	// Run-once mode
	if *runOnce {
		log.Println("Running single digest (--once mode)")

		digestCtx, digestCancel := context.WithTimeout(context.Background(), scheduler.DefaultDigestTimeout)
		defer digestCancel()

		digest, err := scheduler.BuildDigest(digestCtx, eng, cfg.Digest)
		if err != nil {
			if digestCtx.Err() == context.DeadlineExceeded {
				log.Fatalf("Digest timed out after %v", scheduler.DefaultDigestTimeout)
			}
			log.Fatalf("Digest failed: %v", err)
		}

		if err := notify.Send(digestCtx, digest); err != nil {
			if digestCtx.Err() == context.DeadlineExceeded {
				log.Fatalf("Notification timed out")
			}
			log.Fatalf("Notification failed: %v", err)
		}

		log.Println("Digest complete, exiting")
		return
	}

	// Initialize the HTTP server
	httpServer := server.New(&cfg.Server, eng, src, cfg.Digest.WeeksTable)
	if err := httpServer.Start(); err != nil {
		log.Fatalf("Failed to start HTTP server: %v", err)
	}

	// Initialize scheduler (cron interpreted in the configured timezone)
	sched := scheduler.New(eng, session, notify, cfg.Digest, cfg.Schedule.Location)
	if err := sched.Schedule(cfg.Schedule.Cron); err != nil {
		log.Fatalf("Failed to schedule job: %v", err)
	}
	sched.Start()
	log.Printf("Scheduler started with cron: %s (timezone: %s)", cfg.Schedule.Cron, cfg.Schedule.Timezone)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop scheduler
	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
	case <-shutdownCtx.Done():
	}

	// Stop HTTP server
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}

	log.Println("Shutdown complete")
}

// newSource constructs the configured data source backend.
func newSource(cfg *config.SourceConfig) (source.Source, error) {
	switch cfg.Backend {
	case "postgres", "sqlite":
		return source.NewSQL(cfg)
	case "csv":
		return source.NewCSV(cfg.Path)
	case "mock":
		return source.NewMock(cfg.Seed), nil
	}
	return nil, fmt.Errorf("unknown source backend %q", cfg.Backend)
}

// loadCatalogue fetches and parses the catalogue table. Row-level
// validation failures are logged but do not abort startup as long as at
// least one definition loaded; column mismatches against source tables are
// reported as warnings.
func loadCatalogue(ctx context.Context, session *source.Session, table string) (*catalogue.Catalogue, error) {
	rows, err := session.FetchTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("fetching catalogue table %q: %w", table, err)
	}

	cat, err := catalogue.Load(rows)
	if err != nil {
		if cat == nil || cat.Len() == 0 {
			return nil, err
		}
		log.Printf("Warning: %v", err)
	}

	if err := cat.CheckColumns(ctx, session); err != nil {
		log.Printf("Warning: %v", err)
	}
	return cat, nil
}
