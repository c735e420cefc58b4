package config

import (
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ProviderCredentials holds the OAuth client credentials for each supported
// provider. Providers with empty credentials are simply not registered.
type ProviderCredentials struct {
	SlackClientID      string
	SlackClientSecret  string
	JiraClientID       string
	JiraClientSecret   string
	NotionClientID     string
	NotionClientSecret string
	TrelloAPIKey       string
	TrelloAPISecret    string
}

// Config holds application configuration values loaded from environment variables.
type Config struct {
	DatabaseURL     string
	JWTSecret       string
	HTTPPort        string
	TokenExpiration time.Duration
	EncryptionKey   []byte // Raw key bytes (32 for AES-256)
	StateSecret     string // HMAC secret for OAuth state tokens
	StateValidity   time.Duration
	Providers       ProviderCredentials
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first, then checks actual environment variables.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file (useful for development)
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Could not load .env file. Using environment variables only.", err)
		// Don't fail if .env is not present, might be in production
	}

	port := getEnv("HTTP_PORT", "8080")
	jwtSecret := getEnv("JWT_SECRET", "default-super-secret-key") // CHANGE THIS IN PRODUCTION!
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is not set.")
	}

	tokenExpStr := getEnv("JWT_EXPIRATION_HOURS", "24")
	tokenExpHours, err := strconv.Atoi(tokenExpStr)
	if err != nil {
		log.Printf("Warning: Invalid JWT_EXPIRATION_HOURS '%s', using default 24h. Error: %v", tokenExpStr, err)
		tokenExpHours = 24
	}

	// Load and decode the Encryption Key (MUST be 64 hex characters for 32 bytes).
	// A missing or malformed key is a hard failure, never silently defaulted.
	encryptionKeyHex := getEnv("ENCRYPTION_KEY", "")
	if encryptionKeyHex == "" {
		log.Fatal("FATAL: ENCRYPTION_KEY environment variable is not set.")
	}
	encryptionKeyBytes, err := hex.DecodeString(encryptionKeyHex)
	if err != nil {
		log.Fatalf("FATAL: Failed to decode ENCRYPTION_KEY from hex: %v", err)
	}
	if len(encryptionKeyBytes) != 32 {
		log.Fatalf("FATAL: ENCRYPTION_KEY must be 32 bytes (64 hex characters) long, got %d bytes", len(encryptionKeyBytes))
	}

	stateSecret := getEnv("OAUTH_STATE_SECRET", "")
	if stateSecret == "" {
		log.Println("Warning: OAUTH_STATE_SECRET not set, falling back to JWT_SECRET for state signing.")
		stateSecret = jwtSecret
	}

	stateValidityStr := getEnv("OAUTH_STATE_VALIDITY_MINUTES", "10")
	stateValidityMin, err := strconv.Atoi(stateValidityStr)
	if err != nil {
		log.Printf("Warning: Invalid OAUTH_STATE_VALIDITY_MINUTES '%s', using default 10m. Error: %v", stateValidityStr, err)
		stateValidityMin = 10
	}

	cfg := &Config{
		HTTPPort:        port,
		JWTSecret:       jwtSecret,
		DatabaseURL:     dbURL,
		TokenExpiration: time.Hour * time.Duration(tokenExpHours),
		EncryptionKey:   encryptionKeyBytes,
		StateSecret:     stateSecret,
		StateValidity:   time.Minute * time.Duration(stateValidityMin),
		Providers: ProviderCredentials{
			SlackClientID:      getEnv("SLACK_CLIENT_ID", ""),
			SlackClientSecret:  getEnv("SLACK_CLIENT_SECRET", ""),
			JiraClientID:       getEnv("JIRA_CLIENT_ID", ""),
			JiraClientSecret:   getEnv("JIRA_CLIENT_SECRET", ""),
			NotionClientID:     getEnv("NOTION_CLIENT_ID", ""),
			NotionClientSecret: getEnv("NOTION_CLIENT_SECRET", ""),
			TrelloAPIKey:       getEnv("TRELLO_API_KEY", ""),
			TrelloAPISecret:    getEnv("TRELLO_API_SECRET", ""),
		},
	}

	log.Printf("Loaded config: Port=%s, DB_URL=***, TokenExp=%s, EncryptionKey=***, StateValidity=%s", cfg.HTTPPort, cfg.TokenExpiration, cfg.StateValidity)

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if fallback != "" {
		log.Printf("Env variable %s not set, using default: %s", key, fallback)
	}
	return fallback
}
