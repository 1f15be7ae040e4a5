// Package config holds the typed environment configuration shared by the
// CareConnect services. Mains load a .env file first (godotenv), then build
// a Config from the process environment.
package config

import (
	"fmt"
	"time"

	"careconnect-backend/pkg/constants"
	"careconnect-backend/pkg/env"
)

// Config carries every environment-driven setting. Secrets support the
// Docker *_FILE convention through env.GetStringFromFile.
type Config struct {
	Env  string
	Port string

	// PostgreSQL
	DBHost    string
	DBPort    string
	DBUser    string
	DBPass    string
	DBName    string
	DBSSLMode string

	// Redis
	RedisHost string
	RedisPort string
	RedisPass string

	// Cassandra (chat messages)
	CassandraHosts    []string
	CassandraKeyspace string

	// MinIO (attachments)
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool

	// RabbitMQ; empty disables event publishing (noop publisher)
	RabbitMQURL string

	// Auth (tokens are issued by the identity service; we only validate)
	JWTSecret   string
	JWTDuration time.Duration

	// Triage AI endpoint
	TriageURL    string
	TriageAPIKey string

	// WebRTC
	STUNURLs []string

	// Call policy
	RingTimeout time.Duration
}

// Load builds a Config from the environment, applying development defaults.
func Load() *Config {
	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetString("PORT", "8080"),

		DBHost:    env.GetString("DB_HOST", "localhost"),
		DBPort:    env.GetString("DB_PORT", "5432"),
		DBUser:    env.GetString("DB_USER", "careconnect"),
		DBPass:    env.GetStringFromFile("DB_PASSWORD", ""),
		DBName:    env.GetString("DB_NAME", "careconnect"),
		DBSSLMode: env.GetString("DB_SSLMODE", "disable"),

		RedisHost: env.GetString("REDIS_HOST", "localhost"),
		RedisPort: env.GetString("REDIS_PORT", "6379"),
		RedisPass: env.GetStringFromFile("REDIS_PASSWORD", ""),

		CassandraHosts:    env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
		CassandraKeyspace: env.GetString("CASSANDRA_KEYSPACE", "careconnect"),

		MinIOEndpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: env.GetString("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:    env.GetString("MINIO_BUCKET", "careconnect-attachments"),
		MinIOUseSSL:    env.GetBool("MINIO_USE_SSL", false),

		RabbitMQURL: env.GetString("RABBITMQ_URL", ""),

		JWTSecret:   env.GetStringFromFile("JWT_SECRET", "dev-secret-change-me"),
		JWTDuration: env.GetDuration("JWT_DURATION", 24*time.Hour),

		TriageURL:    env.GetString("TRIAGE_URL", ""),
		TriageAPIKey: env.GetStringFromFile("TRIAGE_API_KEY", ""),

		STUNURLs: env.GetStringSlice("STUN_URLS", []string{"stun:stun.l.google.com:19302"}),

		RingTimeout: env.GetDuration("RING_TIMEOUT", constants.DefaultRingTimeout),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName, c.DBSSLMode)
}

// RedisAddr returns the host:port address of the Redis server.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
