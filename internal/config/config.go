package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	Database Database

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantCollection string
	EmbeddingDim     uint64

	GoogleProject  string
	GoogleLocation string
	GoogleAPIKey   string
	PrimaryModel   string
	FallbackModel  string
	EmbeddingModel string
	JudgeModel     string
	ModelTimeout   time.Duration
	ModelRetries   int

	CreditsPerChat int
	PlansFile      string

	WorkerCount    int
	QueueSize      int
	TurnTimeout    time.Duration
	HistoryLimit   int
	ContextLimit   int
	MirrorTTL      time.Duration
	TurnsPerMinute int

	HandoffDetection bool
	RetrievalHints   bool
}

// Database holds connection and pool settings for the relational store.
type Database struct {
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:        getenv("PORT", "8080"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		Database: Database{
			Host:            getenv("DATABASE_HOST", "localhost"),
			Port:            getenv("DATABASE_PORT", "5432"),
			Name:            getenv("DATABASE_NAME", "shopassist"),
			User:            getenv("DATABASE_USER", "postgres"),
			Password:        getenv("DATABASE_PASSWORD", ""),
			SSLMode:         getenv("DATABASE_SSLMODE", "disable"),
			MaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
			MaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
			ConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		},
		RedisAddr:        getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getenv("REDIS_PASSWORD", ""),
		RedisDB:          getenvInt("REDIS_DB", 0),
		QdrantHost:       getenv("QDRANT_HOST", "localhost"),
		QdrantPort:       getenvInt("QDRANT_PORT", 6334),
		QdrantAPIKey:     strings.TrimSpace(getenv("QDRANT_API_KEY", "")),
		QdrantCollection: getenv("QDRANT_COLLECTION", "store_knowledge"),
		EmbeddingDim:     uint64(getenvInt("EMBEDDING_DIM", 768)),
		GoogleProject:    getenv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleLocation:   getenv("GOOGLE_CLOUD_LOCATION", "us-central1"),
		GoogleAPIKey:     strings.TrimSpace(getenv("GOOGLE_API_KEY", "")),
		PrimaryModel:     getenv("PRIMARY_MODEL", "gemini-2.5-flash"),
		FallbackModel:    getenv("FALLBACK_MODEL", "gemini-2.0-flash"),
		EmbeddingModel:   getenv("EMBEDDING_MODEL", "text-embedding-004"),
		JudgeModel:       getenv("JUDGE_MODEL", "gemini-2.5-flash-lite"),
		ModelTimeout:     getenvDuration("MODEL_TIMEOUT", 30*time.Second),
		ModelRetries:     getenvInt("MODEL_RETRIES", 3),
		CreditsPerChat:   getenvInt("CREDITS_PER_CHAT", 1),
		PlansFile:        getenv("PLANS_FILE", ""),
		WorkerCount:      getenvInt("WORKER_COUNT", 8),
		QueueSize:        getenvInt("QUEUE_SIZE", 256),
		TurnTimeout:      getenvDuration("TURN_TIMEOUT", 60*time.Second),
		HistoryLimit:     getenvInt("HISTORY_LIMIT", 20),
		ContextLimit:     getenvInt("CONTEXT_LIMIT", 5),
		MirrorTTL:        getenvDuration("MIRROR_TTL", 7*24*time.Hour),
		TurnsPerMinute:   getenvInt("TURNS_PER_MINUTE", 20),
		HandoffDetection: getenvBool("HANDOFF_DETECTION", false),
		RetrievalHints:   getenvBool("RETRIEVAL_HINTS", false),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("45s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
