/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the quota engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration (.env is picked up automatically)
  2. Open the configured store (sqlite, postgres, or memory)
  3. Build the validated policy and calendar, wire the engine
  4. Configure the HTTP router
  5. Start the server with graceful shutdown

CONFIGURATION (environment):
  PORT                       HTTP port (default 8080)
  STORE_DRIVER               sqlite | postgres | memory (default sqlite)
  SQLITE_PATH                SQLite path (default quota.db; ":memory:" works)
  POSTGRES_DSN               Required when STORE_DRIVER=postgres
  QUOTA_BASE_ALLOWANCE       Picks per fresh day (default 10)
  QUOTA_REWARD_CAP           Reward completions per day (default 5)
  QUOTA_REWARD_BONUS         Allowance per reward (default 1)
  QUOTA_ABSOLUTE_CEILING     Hard allowance bound (default 15)
  DAY_BOUNDARY_OFFSET_HOURS  Day rollover at midnight UTC+offset (default 0)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  active requests, close the store, exit.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchard/quota-engine/api"
	"github.com/orchard/quota-engine/config"
	"github.com/orchard/quota-engine/quota"
	memstore "github.com/orchard/quota-engine/quota/store"
	"github.com/orchard/quota-engine/store/postgres"
	"github.com/orchard/quota-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, closer, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	policy, err := cfg.Policy()
	if err != nil {
		log.Fatalf("Invalid quota policy: %v", err)
	}

	engine, err := quota.NewEngine(store, policy, cfg.Calendar())
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	router := api.NewRouter(api.NewHandler(engine))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Quota engine listening on http://localhost:%d (store: %s, policy: base %d / cap %d / bonus %d / ceiling %d)",
			cfg.Server.Port, cfg.Store.Driver,
			policy.BaseAllowance, policy.RewardCap, policy.RewardBonus, policy.AbsoluteCeiling)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openStore(cfg *config.Config) (quota.Store, io.Closer, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := postgres.New(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return memstore.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
