package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// APIConfig holds runtime configuration for the tracking api service.
type APIConfig struct {
	Environment        string        `validate:"required"`
	Addr               string        `validate:"required"`
	DatabaseURL        string        `validate:"required,url"`
	MigrationsDir      string        `validate:"required"`
	LogLevel           string        `validate:"omitempty,oneof=debug info warn error"`
	HistoryLimit       int           `validate:"gt=0,lte=500"`
	SSEHeartbeat       time.Duration `validate:"gt=0"`
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables. The
// result is validated so a bad deployment fails at startup, not on the
// first request.
func LoadAPIConfig() (APIConfig, error) {
	cfg := APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":3000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://mapa:mapa@db:5432/mapa?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		HistoryLimit:       GetInt("LOCATION_HISTORY_LIMIT", 50),
		SSEHeartbeat:       GetSeconds("SSE_HEARTBEAT_SECONDS", 25),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return APIConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
