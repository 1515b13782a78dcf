package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        int
	Database    DatabaseConfig
	JWTSecret   string
	Environment string
	CORSOrigins []string
	Mail        MailConfig
	Orders      OrdersConfig
	Rewards     RewardsConfig
	Scan        ScanConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string // sqlite or postgres
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// MailConfig holds SMTP configuration for verification emails
type MailConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
}

// OrdersConfig holds the order-source (shop admin API) configuration
type OrdersConfig struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// RewardsConfig holds the welcome-reward service configuration
type RewardsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ScanConfig holds eligibility-scan tuning
type ScanConfig struct {
	Schedule string // cron expression
	Workers  int
	Deadline time.Duration
}

// Load loads configuration from environment variables
func Load() *Config {
	env := getEnv("ENVIRONMENT", "production")
	jwtSecret := loadJWTSecret(env)

	cfg := &Config{
		Port: getEnvInt("PORT", 8080),
		Database: DatabaseConfig{
			Type:         getEnv("DATABASE_TYPE", "sqlite"),
			DSN:          getEnv("DATABASE_DSN", defaultDSN()),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		JWTSecret:   jwtSecret,
		Environment: env,
		CORSOrigins: loadCORSOrigins(env),
		Mail: MailConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("SMTP_FROM", "noreply@localhost"),
		},
		Orders: OrdersConfig{
			BaseURL:     getEnv("ORDERS_API_URL", ""),
			AccessToken: getEnv("ORDERS_API_TOKEN", ""),
			Timeout:     time.Duration(getEnvInt("ORDERS_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Rewards: RewardsConfig{
			BaseURL: getEnv("REWARDS_API_URL", ""),
			APIKey:  getEnv("REWARDS_API_KEY", ""),
			Timeout: time.Duration(getEnvInt("REWARDS_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Scan: ScanConfig{
			Schedule: getEnv("SCAN_SCHEDULE", "0 10 * * *"),
			Workers:  getEnvInt("SCAN_WORKERS", 8),
			Deadline: time.Duration(getEnvInt("SCAN_DEADLINE_MINUTES", 30)) * time.Minute,
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

func defaultDSN() string {
	if getEnv("DATABASE_TYPE", "sqlite") == "postgres" {
		return buildPostgresDSN()
	}
	return getEnv("SQLITE_PATH", "./data/reviewlink.db")
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "reviewlink")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "reviewlink")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}

		// Check for insecure default secrets
		insecureSecrets := []string{
			"change-this-secret-in-production",
			"change-me-in-production",
			"secret",
			"password",
			"changeme",
		}
		for _, insecure := range insecureSecrets {
			if c.JWTSecret == insecure {
				return fmt.Errorf("JWT_SECRET is set to an insecure default value. Please set a strong random secret")
			}
		}

		if c.Mail.Host == "" {
			return fmt.Errorf("SMTP_HOST is required in production (verification emails cannot be sent without it)")
		}
	}

	if len(c.CORSOrigins) == 0 {
		return fmt.Errorf("at least one CORS origin must be configured")
	}

	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	if c.Scan.Workers < 1 {
		return fmt.Errorf("SCAN_WORKERS must be at least 1")
	}

	return nil
}

func loadJWTSecret(env string) string {
	secret := os.Getenv("JWT_SECRET")

	// If JWT_SECRET is not set, generate a random one for development
	if secret == "" {
		if env == "production" {
			log.Fatal("FATAL: JWT_SECRET environment variable is required in production")
		}

		// Generate random secret for development
		log.Println("WARNING: JWT_SECRET not set. Generating random secret for development.")
		log.Println("WARNING: This secret will change on restart. Set JWT_SECRET in production!")
		return generateRandomSecret()
	}

	// Validate secret length
	if len(secret) < 16 {
		log.Fatal("FATAL: JWT_SECRET must be at least 16 characters long")
	}

	return secret
}

func loadCORSOrigins(env string) []string {
	if appURL := getAppURL(); appURL != "" {
		return []string{appURL}
	}

	// Default origins based on environment
	if env == "development" {
		return []string{"http://localhost:3000", "http://localhost:8080"}
	}

	// In production, require explicit CORS configuration
	log.Println("WARNING: APP_URL not set. Using default localhost origins.")
	log.Println("WARNING: Set APP_URL environment variable for production deployments.")
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		log.Fatal("Failed to generate random secret:", err)
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

func getAppURL() string {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/")
}
