package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"recordhub-backend/internal/api"
	"recordhub-backend/internal/config"
	"recordhub-backend/internal/crypto"
	"recordhub-backend/internal/handlers"
	"recordhub-backend/internal/oauthstate"
	"recordhub-backend/internal/providers"
	"recordhub-backend/internal/services"
	"recordhub-backend/internal/store/postgres"
	"recordhub-backend/internal/tokens"
)

func main() {
	log.Println("Starting RecordHub Backend...")

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Initialize Database Connection Pool
	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second) // Timeout for initial connection
	defer dbCancel()

	dbpool, err := pgxpool.New(dbCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("FATAL: Unable to create database connection pool: %v\n", err)
	}
	defer dbpool.Close()

	// Ping DB to verify connection
	if err := dbpool.Ping(dbCtx); err != nil {
		log.Fatalf("FATAL: Unable to ping database: %v\n", err)
	}
	log.Println("Database connection pool established and pinged successfully.")

	// 3. Initialize Dependencies (Store, Vault, Providers, Services, Handlers)
	pgStore := postgres.NewPostgresStore(dbpool)
	log.Println("Postgres store initialized.")

	// --- Create Credential Vault ---
	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("FATAL: Failed to create credential vault: %v", err)
	}
	log.Println("Credential vault initialized.")

	// --- Create OAuth State Manager ---
	stateManager, err := oauthstate.NewManager(cfg.StateSecret, cfg.StateValidity)
	if err != nil {
		log.Fatalf("FATAL: Failed to create oauth state manager: %v", err)
	}
	log.Println("OAuth state manager initialized.")

	// --- Initialize Provider Registry ---
	// Providers with empty client credentials are left unregistered; their
	// routes return provider-not-found instead of half-configured errors.
	registry := providers.NewRegistry()
	if cfg.Providers.SlackClientID != "" {
		registry.Register(providers.NewSlackProvider(cfg.Providers.SlackClientID, cfg.Providers.SlackClientSecret))
	}
	if cfg.Providers.NotionClientID != "" {
		registry.Register(providers.NewNotionProvider(cfg.Providers.NotionClientID, cfg.Providers.NotionClientSecret))
	}
	if cfg.Providers.JiraClientID != "" {
		registry.Register(providers.NewJiraProvider(cfg.Providers.JiraClientID, cfg.Providers.JiraClientSecret))
	}
	if cfg.Providers.TrelloAPIKey != "" {
		registry.Register(providers.NewTrelloProvider(cfg.Providers.TrelloAPIKey, cfg.Providers.TrelloAPISecret))
	}
	log.Printf("Provider registry initialized with: %v", registry.Names())

	// --- Initialize Token Management ---
	refreshManager := tokens.NewRefreshManager(registry)
	tokenManager := tokens.NewManager(pgStore, vault, refreshManager)
	log.Println("Token manager initialized.")

	// --- Initialize Services ---
	authService := services.NewAuthService(pgStore, cfg)
	log.Println("AuthService initialized.")
	recordService := services.NewRecordService(pgStore)
	log.Println("RecordService initialized.")
	integrationService := services.NewIntegrationService(pgStore, vault, registry, stateManager, tokenManager)
	log.Println("IntegrationService initialized.")

	// --- Initialize Handlers ---
	authHandler := handlers.NewAuthHandler(authService)
	oauthHandler := handlers.NewOAuthHandler(integrationService)
	integrationsHandler := handlers.NewIntegrationsHandler(integrationService)
	recordsHandler := handlers.NewRecordsHandler(recordService, integrationService)
	log.Println("Handlers initialized.")

	// 4. Setup Router & Inject Dependencies
	routerDeps := api.RouterDependencies{
		AuthHandler:         authHandler,
		OAuthHandler:        oauthHandler,
		IntegrationsHandler: integrationsHandler,
		RecordsHandler:      recordsHandler,
		Config:              cfg,
	}
	router := api.NewRouter(routerDeps)
	log.Println("HTTP router configured.")

	// 5. Configure and Start HTTP Server
	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
		// Production hardening: Set timeouts to avoid Slowloris attacks
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel to listen for OS signals for graceful shutdown
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	// Run server in a goroutine so it doesn't block
	go func() {
		log.Printf("Server starting and listening on port %s", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("FATAL: Could not listen on %s: %v\n", cfg.HTTPPort, err)
		}
		log.Println("Server listener routine stopped.")
	}()

	// Wait for interrupt signal
	<-stopChan
	log.Println("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARN: Server graceful shutdown failed: %v", err)
		log.Fatal("Forcing shutdown due to error.")
	}

	log.Println("Server shutdown complete.")
}
