package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Crypto   CryptoConfig
	Mailer   MailerConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	// BaseURL is the public origin used for tracking pixel and click
	// redirect links injected into outgoing mail.
	BaseURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	Username string
	DB       int
}

type CryptoConfig struct {
	// SecretKey derives the AES key that seals relay credentials.
	SecretKey string
}

type MailerConfig struct {
	// BatchLimit bounds how many jobs one queue tick claims.
	BatchLimit int
	// EnrollmentLimit bounds how many due enrollments one workflow tick
	// processes.
	EnrollmentLimit int
	// StepRetryBackoff delays re-execution of a workflow step that
	// errored.
	StepRetryBackoff time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			BaseURL: getEnv("BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Name:     getEnv("POSTGRES_DB", "tern"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Username: getEnv("REDIS_USERNAME", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Crypto: CryptoConfig{
			SecretKey: getEnv("RELAY_ENCRYPTION_KEY", ""),
		},
		Mailer: MailerConfig{
			BatchLimit:       getEnvAsInt("MAILER_BATCH_LIMIT", 50),
			EnrollmentLimit:  getEnvAsInt("MAILER_ENROLLMENT_LIMIT", 50),
			StepRetryBackoff: getEnvAsDuration("MAILER_STEP_RETRY_BACKOFF", time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 5),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
