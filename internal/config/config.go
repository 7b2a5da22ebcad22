package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	ApplicationsPath   string
	ServicingPath      string
	OutputDir          string
	OutputFormats      []string
	ProcessingTimezone string
	RulesConfigPath    string

	JoinAnchor        string
	JoinRetainOrphans bool

	LogLevel  string
	LogFormat string

	OTLPEndpoint      string
	OtelEnabled       bool
	OtelSamplingRatio float64

	Metrics MetricsConfig
	RunLock RunLockConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// MetricsConfig selects where the run metrics are pushed once a batch finishes.
type MetricsConfig struct {
	Enabled   bool
	Exporter  string
	Endpoint  string
	AuthToken string
}

// RunLockConfig guards concurrent runs against the same outputs.
type RunLockConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Key           string
	TTLSeconds    int
}

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatPDF  = "pdf"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:            getenv("APP_SERVICE", "loanportfolio"),
		AppVersion:         getenv("APP_VERSION", "0.1.0"),
		Environment:        getenv("ENVIRONMENT", "development"),
		ApplicationsPath:   getenv("APPLICATIONS_CSV", "data/applications_expanded.csv"),
		ServicingPath:      getenv("LMS_CSV", "data/lms_updates_expanded.csv"),
		OutputDir:          getenv("OUTPUT_DIR", "output"),
		OutputFormats:      parseFormats(getenv("OUTPUT_FORMATS", "csv,json")),
		ProcessingTimezone: getenv("PROCESSING_TIMEZONE", "Europe/Berlin"),
		RulesConfigPath:    strings.TrimSpace(getenv("RULES_CONFIG_PATH", "")),
		JoinAnchor:         strings.ToLower(strings.TrimSpace(getenv("JOIN_ANCHOR", "applications"))),
		JoinRetainOrphans:  getenvBool("JOIN_RETAIN_ORPHANS", true),
		LogLevel:           strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
		LogFormat:          strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
		OTLPEndpoint:       getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OtelEnabled:        getenvBool("OTEL_ENABLED", false),
		OtelSamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 1),
		Metrics: MetricsConfig{
			Enabled:   getenvBool("METRICS_PUSH_ENABLED", false),
			Exporter:  strings.ToLower(getenv("METRICS_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_AUTH_TOKEN", "")),
		},
		RunLock: RunLockConfig{
			Enabled:       getenvBool("RUN_LOCK_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),
			Key:           getenv("RUN_LOCK_KEY", "loanportfolio:run"),
			TTLSeconds:    getenvInt("RUN_LOCK_TTL_SECONDS", 900),
		},
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "sqlite")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "loanportfolio.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 4),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
	}

	return cfg
}

// WantsFormat reports whether the given output format was requested.
func (c Config) WantsFormat(format string) bool {
	for _, f := range c.OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}

func parseFormats(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		switch p {
		case FormatCSV, FormatJSON, FormatPDF:
		default:
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		out = append(out, FormatCSV)
	}
	return out
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

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
