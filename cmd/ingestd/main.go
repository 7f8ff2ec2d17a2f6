// Command ingestd runs the ingestion and reconciliation engine as a
// standalone process: the Scheduler's background Endpoint Monitor and
// Retry Queue drain passes, plus an HTTP surface for admin-triggered
// monitor passes and retry drains and metrics/health exposition. Flag parsing,
// signal-driven graceful shutdown, and the periodic snapshot ticker
// follow 99souls-ariadne's cli/cmd/ariadne/main.go.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/raceops/ingest/engine"
	"github.com/raceops/ingest/engine/config"
	"github.com/raceops/ingest/engine/internal/scrapers"
)

func main() {
	var (
		httpAddr      string
		metricsAddr   string
		healthAddr    string
		snapshotEvery time.Duration
		showVersion   bool
	)
	flag.StringVar(&httpAddr, "http", "", "Trigger surface listen address (overrides RACEOPS_HTTP_ADDR)")
	flag.StringVar(&metricsAddr, "metrics", ":9090", "Metrics exposition listen address")
	flag.StringVar(&healthAddr, "health", ":9091", "Health snapshot listen address")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 30*time.Second, "Interval between stderr progress snapshots (0=disabled)")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("ingestd - race-timing ingestion and reconciliation engine")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}

	// Organiser scrapers are deployment-specific: each one pairs a URL
	// predicate with provider-specific selectors that have no home in
	// this repository. Operators register them here before Start; an
	// empty registry simply means every scrape job fails with
	// models.ErrNoScraper until at least one is added. Each organiser
	// built with scrapers.NewAPIEmbeddedScraper/NewPaginatedTableScraper
	// should share one ratelimit.NewAdaptiveRateLimiter(ratelimit.DefaultConfig())
	// across calls so politeness pacing (spec §4.3) is tracked per
	// organiser rather than reset on every scraper instance.
	registry := scrapers.NewRegistry()

	deliver := loggingNotifier(log.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, cfg, registry, deliver)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	eng.Start()
	defer func() { _ = eng.Stop() }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if metricsAddr != "" {
		if handler := eng.MetricsHandler(); handler != nil {
			serveUntilDone(ctx, metricsAddr, handler, "metrics")
		}
	}
	if healthAddr != "" {
		serveUntilDone(ctx, healthAddr, healthHandler(eng), "health")
	}
	serveUntilDone(ctx, cfg.HTTPAddr, eng.TriggerHandler(), "trigger")

	if snapshotEvery > 0 {
		go snapshotLoop(ctx, eng, snapshotEvery)
	}

	<-ctx.Done()
	final := eng.Snapshot()
	b, _ := json.MarshalIndent(final, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== FINAL SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
}

// healthHandler renders the engine's health snapshot as JSON on demand.
func healthHandler(eng *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snap := eng.HealthSnapshot(r.Context())
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.Printf("encode health snapshot: %v", err)
		}
	})
}

// serveUntilDone runs an HTTP server in the background, shutting it down
// when ctx is cancelled.
func serveUntilDone(ctx context.Context, addr string, handler http.Handler, label string) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Printf("%s listening on %s", label, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("%s server stopped: %v", label, err)
		}
	}()
}

func snapshotLoop(ctx context.Context, eng *engine.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			snap := eng.Snapshot()
			b, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
		case <-ctx.Done():
			return
		}
	}
}

// loggingNotifier is the default notification transport: logging only,
// since the notification transport itself is out of this system's scope.
// Operators wire a real Func (webhook POST, Slack, email) in place of
// this before running in production.
func loggingNotifier(l *log.Logger) func(ctx context.Context, payload string) error {
	return func(ctx context.Context, payload string) error {
		l.Printf("notify: %s", payload)
		return nil
	}
}
