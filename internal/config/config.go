package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	ModeSimulated = "simulated"
	ModeLive      = "live"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// SubmissionMode selects simulated or live transmission to the authority.
	SubmissionMode      string
	AuthorityEndpoint   string
	AuthorityTimeoutSec int

	VerificationBaseURL string
	MinFiscalYear       int

	WorkerIntervalSec     int
	WorkerBatchSize       int
	MaxSubmissionAttempts int

	ArtifactDir string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "verifactu"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "verifactu"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		SubmissionMode:      normalizeMode(getenv("SUBMISSION_MODE", ModeSimulated)),
		AuthorityEndpoint:   strings.TrimSpace(getenv("AUTHORITY_ENDPOINT", "")),
		AuthorityTimeoutSec: getenvInt("AUTHORITY_TIMEOUT_SEC", 30),

		VerificationBaseURL: getenv("VERIFICATION_BASE_URL", "https://prewww2.aeat.es/wlpl/TIKE-CONT/ValidarQR"),
		MinFiscalYear:       getenvInt("MIN_FISCAL_YEAR", 2020),

		WorkerIntervalSec:     getenvInt("WORKER_INTERVAL_SEC", 60),
		WorkerBatchSize:       getenvInt("WORKER_BATCH_SIZE", 25),
		MaxSubmissionAttempts: getenvInt("MAX_SUBMISSION_ATTEMPTS", 8),

		ArtifactDir: getenv("ARTIFACT_DIR", "artifacts"),
	}

	return cfg
}

func (c Config) IsLive() bool {
	return c.SubmissionMode == ModeLive
}

func normalizeMode(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case ModeLive:
		return ModeLive
	default:
		return ModeSimulated
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
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
