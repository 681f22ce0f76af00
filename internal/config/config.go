package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig captures all tunable parameters for the demo service.
// Values are loaded from environment variables (optionally seeded from a
// .env file) with defaults that match the behaviour of the hosted demo, so
// the binary runs locally with no setup at all.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	EstimateCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	GeminiAPIKey string
	GeminiModel  string
	AITimeout    time.Duration

	ArrivalsEnabled    bool
	ArrivalInterval    time.Duration
	ArrivalProbability float64
	ArrivalMaxTrips    int
	SeedDemoTrips      bool

	CallConnectDelay    time.Duration
	ViewRefreshInterval time.Duration
	SessionIdleTTL      time.Duration

	LogLevel  string
	LogFormat string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        15 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		EstimateCacheTTL:    10 * time.Minute,
		KafkaTopic:          "trip-events",
		GeminiModel:         "gemini-2.5-flash",
		AITimeout:           10 * time.Second,
		ArrivalsEnabled:     true,
		ArrivalInterval:     5 * time.Second,
		ArrivalProbability:  0.2,
		ArrivalMaxTrips:     5,
		SeedDemoTrips:       true,
		CallConnectDelay:    1500 * time.Millisecond,
		ViewRefreshInterval: time.Second,
		SessionIdleTTL:      30 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// LoadEnvFile seeds the process environment from ENV_FILE, or ./.env when it
// exists. Variables already set win over the file.
func LoadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setIntFromEnv(&cfg.RedisDB, "REDIS_DB", &errs)
	setDurationFromEnv(&cfg.EstimateCacheTTL, "ESTIMATE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	// API_KEY is the name the hosted demo used; GEMINI_API_KEY wins when both are set.
	setStringFromEnv(&cfg.GeminiAPIKey, "API_KEY")
	setStringFromEnv(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setStringFromEnv(&cfg.GeminiModel, "GEMINI_MODEL")
	setDurationFromEnv(&cfg.AITimeout, "AI_TIMEOUT", &errs)

	setBoolFromEnv(&cfg.ArrivalsEnabled, "ARRIVALS_ENABLED", &errs)
	setDurationFromEnv(&cfg.ArrivalInterval, "ARRIVAL_INTERVAL", &errs)
	setFloatFromEnv(&cfg.ArrivalProbability, "ARRIVAL_PROBABILITY", &errs)
	setIntFromEnv(&cfg.ArrivalMaxTrips, "ARRIVAL_MAX_TRIPS", &errs)
	setBoolFromEnv(&cfg.SeedDemoTrips, "SEED_DEMO_TRIPS", &errs)

	setDurationFromEnv(&cfg.CallConnectDelay, "CALL_CONNECT_DELAY", &errs)
	setDurationFromEnv(&cfg.ViewRefreshInterval, "VIEW_REFRESH_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SessionIdleTTL, "SESSION_IDLE_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	positive := map[string]time.Duration{
		"ESTIMATE_CACHE_TTL":    c.EstimateCacheTTL,
		"AI_TIMEOUT":            c.AITimeout,
		"ARRIVAL_INTERVAL":      c.ArrivalInterval,
		"VIEW_REFRESH_INTERVAL": c.ViewRefreshInterval,
		"SESSION_IDLE_TTL":      c.SessionIdleTTL,
	}
	for _, key := range []string{"ESTIMATE_CACHE_TTL", "AI_TIMEOUT", "ARRIVAL_INTERVAL", "VIEW_REFRESH_INTERVAL", "SESSION_IDLE_TTL"} {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	if c.CallConnectDelay < 0 {
		errs = append(errs, fmt.Errorf("CALL_CONNECT_DELAY must be >= 0"))
	}
	if c.ArrivalProbability < 0 || c.ArrivalProbability > 1 {
		errs = append(errs, fmt.Errorf("ARRIVAL_PROBABILITY must be within [0,1]"))
	}
	if c.ArrivalMaxTrips <= 0 {
		errs = append(errs, fmt.Errorf("ARRIVAL_MAX_TRIPS must be > 0"))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
