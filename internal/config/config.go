package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort     string
	ServiceName     string
	PartSizeMB      int
	MaxUploadSizeMB int
	SessionTTLHours int
	AuthToken       string

	// Client configuration
	ServerURL string
	StateDir  string

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// MySQL configuration
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// OTLP collector configuration
	OTLPEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		// Service defaults
		ServicePort:     getEnv("SERVICE_PORT", "8080"),
		ServiceName:     getEnv("SERVICE_NAME", "cloudchest-upload"),
		PartSizeMB:      getEnvAsInt("PART_SIZE_MB", 50),
		MaxUploadSizeMB: getEnvAsInt("MAX_UPLOAD_SIZE_MB", 5120),
		SessionTTLHours: getEnvAsInt("SESSION_TTL_HOURS", 24),
		AuthToken:       getEnv("AUTH_TOKEN", ""),

		// Client defaults
		ServerURL: getEnv("SERVER_URL", "http://localhost:8080"),
		StateDir:  getEnv("STATE_DIR", ".cloudchest-state"),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "cloudchest"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// MySQL defaults
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "cloudchest"),

		// Redis defaults
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// OTLP defaults
		OTLPEndpoint: getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}

	return config, nil
}

// GetDSN returns the MySQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.MySQLUser,
		c.MySQLPassword,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetPartSizeBytes returns the chunked-upload part size in bytes
func (c *Config) GetPartSizeBytes() int64 {
	return int64(c.PartSizeMB) * 1024 * 1024
}

// GetMaxUploadBytes returns the per-deployment upload size cap in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// GetSessionTTL returns the upload session time-to-live
func (c *Config) GetSessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
