/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the BrightPath fee engine server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env in development)
  2. Initialize SQLite store
  3. Wire settlement gateway, payment processor, promotion engine
  4. Configure HTTP router and year-end scheduler
  5. Start server with graceful shutdown

CONFIGURATION:
  Everything comes from the environment (see config/config.go):
  PORT, DB_PATH, SETTLEMENT_BASE_URL, SETTLEMENT_SYSTEM_ID,
  SETTLEMENT_USERNAME, SETTLEMENT_PASSWORD, END_OF_YEAR_DATE,
  CARRY_FORWARD_BALANCES, BILLING_CURRENCY, TENANT_ID,
  COLLECTION_ACCOUNT, BRANCH_CODE, TRACK, CONTINUE_TO_A_LEVEL.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Year-end promotion scheduler
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightpath/fee-engine/api"
	"github.com/brightpath/fee-engine/config"
	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
	"github.com/brightpath/fee-engine/promotion"
	"github.com/brightpath/fee-engine/settlement"
	"github.com/brightpath/fee-engine/store/sqlite"
)

func main() {
	config.Load()
	cfg := config.Get()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Settlement gateway for bank-channel payments
	gateway := settlement.NewGateway(settlement.Config{
		BaseURL:     cfg.SettlementBaseURL,
		SystemID:    cfg.SettlementSystemID,
		Username:    cfg.SettlementUsername,
		Password:    cfg.SettlementPassword,
		Timeout:     cfg.SettlementTimeout,
		MaxInFlight: cfg.SettlementMaxInFlight,
	}, store)

	// Core engines
	processor := payment.NewProcessor(store, gateway, nil)
	engine := promotion.NewEngine(store, store)

	// HTTP layer
	handler := api.NewHandler(store, processor, engine)
	router := api.NewRouter(handler)

	// Year-end scheduler. A single-school deployment serves one scope; the
	// surrounding platform injects more via its own composition.
	var scopes []ledger.Scope
	if cfg.TenantID != "" {
		scopes = append(scopes, ledger.Scope{
			Tenant:            ledger.TenantID(cfg.TenantID),
			CollectionAccount: cfg.CollectionAccount,
			BranchCode:        cfg.BranchCode,
			Track:             ledger.TrackType(cfg.Track),
			ContinueToALevel:  cfg.ContinueToALevel,
		})
	}
	scheduler := api.NewPromotionScheduler(store, engine, scopes, cfg)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
