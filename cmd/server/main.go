/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the accounting integrity engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load threshold policy (TOML, falls back to defaults)
  3. Initialize SQLite store
  4. Assemble engine components (detector, credit ledger, calculator, gate)
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: accounting.db)
           Use ":memory:" for an in-memory database
  -config  Threshold policy TOML path (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SCHEDULING:
  The engine is request/batch-driven. Alert detection and credit expiry
  are exposed as endpoints invoked by an external cron, not an internal
  scheduler.

EXAMPLES:
  ./server -db="./data/accounting.db" -config="./thresholds.toml"
  ./server -db=":memory:" -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - ledger/policy/policy.go: Threshold configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/benefitbuilders/accounting-engine/alerts"
	"github.com/benefitbuilders/accounting-engine/api"
	"github.com/benefitbuilders/accounting-engine/closing"
	"github.com/benefitbuilders/accounting-engine/credits"
	"github.com/benefitbuilders/accounting-engine/ledger/policy"
	"github.com/benefitbuilders/accounting-engine/reconcile"
	"github.com/benefitbuilders/accounting-engine/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "accounting.db", "SQLite database path")
	configPath := flag.String("config", "", "threshold policy TOML path")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if *pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	thresholds := policy.Default()
	if *configPath != "" {
		loaded, err := policy.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load threshold policy")
		}
		thresholds = loaded
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", *dbPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Assemble the engine. No notifier or benefits source is wired in this
	// deployment; alert notices are log-only and benefits totals record as
	// zero on the closing snapshot.
	creditLedger := credits.NewLedger(store, thresholds.Credits)
	detector := alerts.NewDetector(store, creditLedger, thresholds.LateTiers, nil, log)
	calculator := reconcile.NewCalculator(store, thresholds.Reconciliation.Tolerance)
	gate := closing.NewGate(store, thresholds.Credits, nil, log)

	handler := api.NewHandler(store, detector, creditLedger, calculator, gate, log)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Str("db", *dbPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
