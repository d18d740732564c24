package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Storage  StorageConfig
	MinIO    MinIOConfig
	Transfer TransferConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Port          string
	PublicBaseURL string
}

type DBConfig struct {
	// Driver selects the registry backend: "memory", "sqlite" or "postgres".
	Driver     string
	SQLitePath string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SSLMode    string
}

type StorageConfig struct {
	// Driver selects the blob store: "local" or "minio".
	Driver   string
	LocalDir string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type TransferConfig struct {
	DefaultExpirationHours int
	DefaultMaxDownloads    int
	MaxSizeBytes           int64
	CleanupInterval        time.Duration
}

type SecurityConfig struct {
	KeyWrapSecret     string
	MaintenanceSecret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnv("SERVER_PORT", "8080"),
			PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		},
		DB: DBConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "sendvault.db"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "sendvault"),
			Password:   getEnv("DB_PASSWORD", "sendvault_secret"),
			Name:       getEnv("DB_NAME", "sendvault"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
		},
		Storage: StorageConfig{
			Driver:   getEnv("STORAGE_DRIVER", "local"),
			LocalDir: getEnv("STORAGE_LOCAL_DIR", "data/blobs"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "sendvault"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "sendvault_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "sendvault"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Transfer: TransferConfig{
			DefaultExpirationHours: getEnvAsInt("TRANSFER_DEFAULT_EXPIRATION_HOURS", 24),
			DefaultMaxDownloads:    getEnvAsInt("TRANSFER_DEFAULT_MAX_DOWNLOADS", 10),
			MaxSizeBytes:           getEnvAsInt64("TRANSFER_MAX_SIZE_BYTES", 2<<30),
			CleanupInterval:        getEnvAsDuration("TRANSFER_CLEANUP_INTERVAL", 10*time.Minute),
		},
		Security: SecurityConfig{
			KeyWrapSecret:     getEnv("KEY_WRAP_SECRET", ""),
			MaintenanceSecret: getEnv("MAINTENANCE_SECRET", "change-me-in-production"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
