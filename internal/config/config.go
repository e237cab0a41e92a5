/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how batch job events leave the process.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// DefaultMaxUploadSizeMB caps batch archive uploads at the HTTP boundary.
const DefaultMaxUploadSizeMB = 100

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment     string
	HTTPBind        string
	HTTPPort        int
	BaseURL         string // Public base URL, used to build filesystem media URLs
	DBBackend       DatabaseBackend
	DBDSN           string
	MediaRoot       string
	MediaURLPrefix  string // URL path under which MediaRoot is served (default "/media")
	MetricsBind     string
	MaxUploadSizeMB int

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event fan-out
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	NATSToken     string
	InstanceID    string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:     getEnvAny([]string{"RIDEATLAS_ENV", "NODE_ENV"}, "development"),
		HTTPBind:        getEnv("RIDEATLAS_HTTP_BIND", "0.0.0.0"),
		HTTPPort:        getEnvIntAny([]string{"RIDEATLAS_HTTP_PORT", "PORT"}, 8080),
		BaseURL:         getEnv("RIDEATLAS_BASE_URL", ""),
		DBBackend:       DatabaseBackend(getEnv("RIDEATLAS_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:           getEnvAny([]string{"RIDEATLAS_DB_DSN", "DATABASE_URL"}, ""),
		MediaRoot:       getEnv("RIDEATLAS_MEDIA_ROOT", "./uploads"),
		MediaURLPrefix:  getEnv("RIDEATLAS_MEDIA_URL_PREFIX", "/media"),
		MetricsBind:     getEnv("RIDEATLAS_METRICS_BIND", "127.0.0.1:9000"),
		MaxUploadSizeMB: getEnvInt("RIDEATLAS_MAX_UPLOAD_SIZE_MB", DefaultMaxUploadSizeMB),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"RIDEATLAS_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"RIDEATLAS_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"RIDEATLAS_S3_REGION", "AWS_REGION"}, "eu-south-1"),
		S3Bucket:          getEnvAny([]string{"RIDEATLAS_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"RIDEATLAS_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"RIDEATLAS_S3_PUBLIC_BASE_URL", "CDN_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"RIDEATLAS_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"RIDEATLAS_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"RIDEATLAS_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"RIDEATLAS_TRACING_SAMPLE_RATE"}, 1.0),

		// Event fan-out
		EventBus:      EventBusBackend(strings.ToLower(getEnv("RIDEATLAS_EVENT_BUS", string(EventBusMemory)))),
		RedisAddr:     getEnvAny([]string{"RIDEATLAS_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"RIDEATLAS_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"RIDEATLAS_REDIS_DB", "REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"RIDEATLAS_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		NATSToken:     getEnvAny([]string{"RIDEATLAS_NATS_TOKEN", "NATS_TOKEN"}, ""),
		InstanceID:    getEnv("RIDEATLAS_INSTANCE_ID", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("RIDEATLAS_DB_DSN or DATABASE_URL must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus %q", cfg.EventBus)
	}

	if cfg.MaxUploadSizeMB <= 0 {
		return nil, fmt.Errorf("RIDEATLAS_MAX_UPLOAD_SIZE_MB must be positive, got %d", cfg.MaxUploadSizeMB)
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.S3Bucket != "" {
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			return nil, fmt.Errorf("S3 credentials are required when RIDEATLAS_S3_BUCKET is set in production")
		}
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"UPLOAD_DIR":         "use RIDEATLAS_MEDIA_ROOT",
		"MAX_UPLOAD_SIZE_MB": "use RIDEATLAS_MAX_UPLOAD_SIZE_MB",
		"TRACING_ENABLED":    "use RIDEATLAS_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return int64(DefaultMaxUploadSizeMB) << 20
	}
	return int64(c.MaxUploadSizeMB) << 20
}

// HTTPAddr returns the listen address for the API server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
