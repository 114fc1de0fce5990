/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (.env honored)
  2. Open the ledger store (SQLite or PostgreSQL)
  3. Wire ledger, payroll service and settlement engine
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION (environment):
  PORT               HTTP server port (default: 8080)
  DB_DRIVER          "sqlite" (default) or "postgres"
  DB_PATH            SQLite database path (":memory:" allowed)
  DB_SOURCE          PostgreSQL connection string
  GATEWAY_URL        Mobile-money gateway base URL (required)
  KAFKA_BROKERS      Comma-separated brokers; enables the event stream
  KAFKA_TOPIC        Settlement topic (default: payment_settled)
  POLL_INTERVAL      Gateway poll interval (default: 5s)
  POLL_MAX_ATTEMPTS  Polls before an attempt times out (default: 12)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop payment pollers and wait for them to exit
  4. Close the event publisher and database
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - settlement/poller.go: Payment attempt lifecycle
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Persistence
*/
package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bodaworks/payroll-engine/api"
	"github.com/bodaworks/payroll-engine/config"
	"github.com/bodaworks/payroll-engine/events"
	"github.com/bodaworks/payroll-engine/events/kafka"
	"github.com/bodaworks/payroll-engine/ledger"
	"github.com/bodaworks/payroll-engine/payroll"
	"github.com/bodaworks/payroll-engine/settlement"
	"github.com/bodaworks/payroll-engine/store/postgres"
	"github.com/bodaworks/payroll-engine/store/sqlite"
)

// engineStore is the persistence surface the engine needs from a
// single backing database.
type engineStore interface {
	ledger.Store
	ledger.AccountStore
	settlement.AttemptStore
	io.Closer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Main] Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// Storage
	// -------------------------------------------------------------------------

	var db engineStore
	switch cfg.DBDriver {
	case "postgres":
		db, err = postgres.New(ctx, cfg.DBSource)
	default:
		db, err = sqlite.New(cfg.DBPath)
	}
	if err != nil {
		log.Fatalf("[Main] Failed to open %s store: %v", cfg.DBDriver, err)
	}
	defer db.Close()
	log.Printf("[Main] Store ready (driver=%s)", cfg.DBDriver)

	// -------------------------------------------------------------------------
	// Domain wiring
	// -------------------------------------------------------------------------

	led := ledger.NewLedger(db)
	payrollSvc := payroll.NewService(db, db, led)

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		log.Printf("[Main] Kafka publisher enabled (topic=%s)", cfg.KafkaTopic)
	}

	gateway := settlement.NewHTTPGateway(cfg.GatewayURL)
	settlerCfg := settlement.DefaultConfig()
	settlerCfg.PollInterval = cfg.PollInterval
	settlerCfg.MaxPolls = cfg.MaxPolls
	settler := settlement.NewSettler(led, db, db, gateway, publisher, settlerCfg)

	// -------------------------------------------------------------------------
	// HTTP server
	// -------------------------------------------------------------------------

	handler := api.NewHandler(payrollSvc, settler)
	server := api.NewServer(handler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("[Main] Server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("[Main] Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] HTTP shutdown error: %v", err)
	}
	settler.Shutdown()
	log.Println("[Main] Shutdown complete")
	os.Exit(0)
}
