package config

import (
	"os"
	"strconv"
	"time"
)

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Addr            string
	DataFile        string
	DocumentBackend string
	DatabaseURL     string
	SQLitePath      string
	// HistoryDir enables git snapshots of every saved document when set.
	HistoryDir string
	// RedisURL switches workspaces from process memory to Redis.
	RedisURL              string
	WorkspaceTTL          time.Duration
	CORSOrigin            string
	LogLevel              string
	LogFormat             string
	ConvertMaxUploadBytes int64
}

func Load() Config {
	port := getenv("PORT", "5000")
	return Config{
		Addr:                  getenv("API_ADDR", ":"+port),
		DataFile:              getenv("DATA_FILE", "./data.json"),
		DocumentBackend:       getenv("DOCUMENT_BACKEND", BackendFile),
		DatabaseURL:           getenv("DATABASE_URL", ""),
		SQLitePath:            getenv("SQLITE_PATH", "./configdeck.db"),
		HistoryDir:            getenv("HISTORY_DIR", ""),
		RedisURL:              getenv("REDIS_URL", ""),
		WorkspaceTTL:          time.Duration(getenvInt("WORKSPACE_TTL_SECONDS", 86400)) * time.Second,
		CORSOrigin:            getenv("CORS_ORIGIN", "*"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		LogFormat:             getenv("LOG_FORMAT", "json"),
		ConvertMaxUploadBytes: int64(getenvInt("CONVERT_MAX_UPLOAD_BYTES", 10<<20)),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
