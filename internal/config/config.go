package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/vaxsched/internal/domain/booking"
	"github.com/joho/godotenv"
)

const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	DataDir     string
	BaseURL     string
	Country     string
	Cities      []string
	HTTPTimeout time.Duration
	RatePerSec  float64

	// discovery
	CenterDelay time.Duration
	SweepDelay  time.Duration
	MaxSearch   time.Duration

	SessionSecret  string
	SessionBackend string
	RedisAddr      string
	RedisPassword  string
	DatabaseURL    string

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// Overrides are command-line values that take precedence over the
// environment. Empty fields are ignored.
type Overrides struct {
	Country string
	Cities  string
}

// FromEnv reads the configuration from the environment, after loading a
// .env file from the working directory when one exists.
func FromEnv() (Config, error) {
	return FromEnvWith(Overrides{})
}

// FromEnvWith is FromEnv with o applied before validation.
func FromEnvWith(o Overrides) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DataDir:        getenv("VAXSCHED_DATA_DIR", defaultDataDir()),
		BaseURL:        getenv("VAXSCHED_BASE_URL", "http://localhost:8700"),
		Country:        strings.ToLower(getenv("VAXSCHED_COUNTRY", "fr")),
		Cities:         splitCSV(getenv("VAXSCHED_CITIES", "paris")),
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		SessionBackend: strings.ToLower(getenv("SESSION_BACKEND", BackendFile)),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogFormat:      getenv("LOG_FORMAT", "console"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}

	var err error
	if cfg.CenterDelay, err = durationEnv("VAXSCHED_CENTER_DELAY", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SweepDelay, err = durationEnv("VAXSCHED_SWEEP_DELAY", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxSearch, err = durationEnv("VAXSCHED_MAX_SEARCH", 0); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = durationEnv("VAXSCHED_HTTP_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	rate, err := strconv.ParseFloat(getenv("VAXSCHED_RATE_PER_SEC", "2"), 64)
	if err != nil || rate < 0 {
		return Config{}, fmt.Errorf("invalid VAXSCHED_RATE_PER_SEC")
	}
	cfg.RatePerSec = rate

	if o.Country != "" {
		cfg.Country = strings.ToLower(strings.TrimSpace(o.Country))
	}
	if o.Cities != "" {
		cfg.Cities = splitCSV(o.Cities)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := booking.LookupCountry(c.Country); err != nil {
		return fmt.Errorf("VAXSCHED_COUNTRY: %w", err)
	}
	if len(c.Cities) == 0 {
		return fmt.Errorf("VAXSCHED_CITIES must name at least one city")
	}
	switch c.SessionBackend {
	case BackendFile:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_BACKEND=redis")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("invalid SESSION_BACKEND %q (want file, redis or postgres)", c.SessionBackend)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vaxsched")
	}
	return ".vaxsched"
}

func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s (want a duration like 1s or 5m)", k)
	}
	return d, nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
