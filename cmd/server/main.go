/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the loyalty engine server.
  Handles configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and the optional TOML config
  2. Initialize the SQLite store
  3. Seed policies (config file first, shipped defaults for the rest)
  4. Wire the ledger engine, reversal handler, and coupon lifecycle
  5. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080, config file overrides)
  -db      SQLite database path (default: loyalty.db)
           Use ":memory:" for an in-memory database
  -config  Optional TOML config file

ENVIRONMENT:
  LOYALTY_COUPON_SECRET  Shared secret for coupon redemption

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the database connection
  4. Exit
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marlin/loyalty-engine/api"
	"github.com/marlin/loyalty-engine/config"
	"github.com/marlin/loyalty-engine/coupon"
	"github.com/marlin/loyalty-engine/ledger"
	"github.com/marlin/loyalty-engine/loyalty"
	"github.com/marlin/loyalty-engine/notify"
	"github.com/marlin/loyalty-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	configPath := flag.String("config", "", "TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DB = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Server.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Seed policies: the config file wins, shipped defaults fill the gaps.
	// Unchanged policies are skipped so restarts don't bump versions.
	ctx := context.Background()
	if err := loyalty.ApplyPolicies(ctx, store, cfg.LedgerPolicies()); err != nil {
		log.Fatalf("Failed to apply config policies: %v", err)
	}
	if err := loyalty.SeedPolicies(ctx, store); err != nil {
		log.Fatalf("Failed to seed policies: %v", err)
	}

	// Wire domain components
	ledgerStore := ledger.New(store, store)
	reversals := ledger.NewReversalHandler(store)
	dispatcher := notify.NewAsync(notify.LogSender{})
	lifecycle := coupon.NewLifecycle(store, coupon.StaticSecret(cfg.Coupon.Secret), dispatcher)

	handler := &api.Handler{
		Ledger:    ledgerStore,
		Reversals: reversals,
		Coupons:   lifecycle,
		CouponDB:  store,
		Policies:  store,
		Store:     store,
	}
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Loyalty engine listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
