// Package config builds the process configuration from environment variables
// so main stays lean. Every knob has a development default; only the issuer
// signing key is required.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	strutil "attestor/pkg/platform/strings"
)

// Config captures everything the attestor process needs at startup.
type Config struct {
	Addr string

	// DatabaseURL selects the postgres store; empty runs on the in-memory
	// store, which is fine for development only.
	DatabaseURL string

	// RedisURL enables the verified-status read cache; empty disables it.
	RedisURL       string
	StatusCacheTTL time.Duration

	// KafkaBrokers enables the audit event stream; empty disables it.
	KafkaBrokers []string
	AuditTopic   string

	LedgerURL            string
	LedgerSubmitTimeout  time.Duration
	LedgerConfirmTimeout time.Duration
	LedgerPollInterval   time.Duration

	// IssuerKey is the hex-encoded secp256k1 private key attestations are
	// signed with. Required.
	IssuerKey string

	JWTSigningKey string

	ValidityWindow        time.Duration
	ReviewDelay           time.Duration
	ProcessTimeout        time.Duration
	MaxConcurrentIssuance int64

	ShutdownTimeout time.Duration
	LogLevel        string
}

// FromEnv builds a Config from ATTESTOR_* environment variables.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:                  getEnv("ATTESTOR_ADDR", ":8080"),
		DatabaseURL:           os.Getenv("ATTESTOR_DATABASE_URL"),
		RedisURL:              os.Getenv("ATTESTOR_REDIS_URL"),
		StatusCacheTTL:        getDuration("ATTESTOR_STATUS_CACHE_TTL", time.Hour),
		AuditTopic:            getEnv("ATTESTOR_AUDIT_TOPIC", "attestor.audit"),
		LedgerURL:             getEnv("ATTESTOR_LEDGER_URL", "http://localhost:8545"),
		LedgerSubmitTimeout:   getDuration("ATTESTOR_LEDGER_SUBMIT_TIMEOUT", 15*time.Second),
		LedgerConfirmTimeout:  getDuration("ATTESTOR_LEDGER_CONFIRM_TIMEOUT", 2*time.Minute),
		LedgerPollInterval:    getDuration("ATTESTOR_LEDGER_POLL_INTERVAL", 2*time.Second),
		IssuerKey:             os.Getenv("ATTESTOR_ISSUER_KEY"),
		JWTSigningKey:         os.Getenv("ATTESTOR_JWT_SIGNING_KEY"),
		ValidityWindow:        getDuration("ATTESTOR_VALIDITY_WINDOW", 365*24*time.Hour),
		ReviewDelay:           getDuration("ATTESTOR_REVIEW_DELAY", 3*time.Second),
		ProcessTimeout:        getDuration("ATTESTOR_PROCESS_TIMEOUT", 5*time.Minute),
		MaxConcurrentIssuance: getInt64("ATTESTOR_MAX_CONCURRENT_ISSUANCE", 16),
		ShutdownTimeout:       getDuration("ATTESTOR_SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:              getEnv("ATTESTOR_LOG_LEVEL", "info"),
	}

	if brokers := os.Getenv("ATTESTOR_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strutil.DedupeAndTrim(strings.Split(brokers, ","))
	}

	if cfg.IssuerKey == "" {
		return Config{}, fmt.Errorf("ATTESTOR_ISSUER_KEY is required")
	}
	if cfg.JWTSigningKey == "" {
		// Use a default for development - should be overridden in production
		cfg.JWTSigningKey = "dev-secret-key-change-in-production"
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
