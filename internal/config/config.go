// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string

	// JWTSecret verifies the HS256 access tokens issued by the auth provider. Required.
	JWTSecret string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Defaults to ["http://localhost:5173"] (Vite dev server).
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// RedisURL selects the Redis broker and marker store when non-empty.
	// Without it realtime fan-out and tracking markers stay in process.
	RedisURL string

	// KafkaBrokers enables mirroring accepted positions to KafkaTopic.
	KafkaBrokers []string
	KafkaTopic   string

	// FCMEndpoint and FCMKey configure remote push. An empty endpoint logs
	// pushes instead of sending them.
	FCMEndpoint string
	FCMKey      string

	MaxPassengers     int
	GeofenceThreshold float64

	TrackingMinInterval time.Duration
	TrackingMinDistance float64
	// TrackingLeaseTTL is how long an instance holds a tracked session
	// without renewing its marker. Peers adopt the session after it lapses.
	TrackingLeaseTTL time.Duration

	// EnforceStopOrder rejects check-ins while an earlier stop is pending.
	EnforceStopOrder bool

	MaxBodyBytes    int64
	ShutdownTimeout time.Duration

	// RunMigrations applies the embedded goose migrations on boot.
	RunMigrations bool
}

// Load reads configuration from environment variables and returns a Config.
// Missing required variables and unparsable values are reported together in
// one error.
func Load() (Config, error) {
	p := &parser{}
	cfg := Config{
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		CORSOrigins:  splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "driver-locations"),
		FCMEndpoint:  os.Getenv("FCM_ENDPOINT"),
		FCMKey:       os.Getenv("FCM_KEY"),

		MaxPassengers:       p.positiveInt("MAX_PASSENGERS", 4),
		GeofenceThreshold:   p.positiveFloat("GEOFENCE_THRESHOLD_METERS", 150),
		TrackingMinInterval: p.positiveDuration("TRACKING_MIN_INTERVAL", 3*time.Second),
		TrackingMinDistance: p.positiveFloat("TRACKING_MIN_DISTANCE_METERS", 3),
		TrackingLeaseTTL:    p.positiveDuration("TRACKING_LEASE_TTL", 30*time.Second),
		EnforceStopOrder:    p.boolean("ENFORCE_STOP_ORDER", false),
		MaxBodyBytes:        int64(p.positiveInt("MAX_BODY_BYTES", 1<<20)),
		ShutdownTimeout:     p.positiveDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		RunMigrations:       p.boolean("RUN_MIGRATIONS", false),
	}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "required environment variables not set: "+strings.Join(missing, ", "))
	}
	problems = append(problems, p.invalid...)
	if len(problems) > 0 {
		return Config{}, fmt.Errorf("config.Load: %s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

var errNotPositive = errors.New("must be positive")

// parser reads typed variables and remembers every value it could not parse.
type parser struct {
	invalid []string
}

func (p *parser) fail(key, value string, err error) {
	p.invalid = append(p.invalid, fmt.Sprintf("%s=%q: %v", key, value, err))
}

func (p *parser) positiveInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err == nil && n <= 0 {
		err = errNotPositive
	}
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) positiveFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err == nil && f <= 0 {
		err = errNotPositive
	}
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) positiveDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err == nil && d <= 0 {
		err = errNotPositive
	}
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return d
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return b
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
