package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	AppMode  string
	Port     string
	Database DatabaseConfig
	JWT      JWTConfig
	SEPA     SEPAConfig
	Jobs     JobsConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string

	// MaxOpenConns caps the pool; the bulk loader issues few but wide
	// queries, so batch runs need headroom rather than many connections.
	MaxOpenConns int
	MaxIdleConns int
}

// JWTConfig holds JWT configuration for the admin API
type JWTConfig struct {
	Secret          string
	AccessTokenMins int
}

// SEPAConfig holds creditor identification and batch processing settings
type SEPAConfig struct {
	CreditorID    string
	CompanyIBAN   string
	CompanyBIC    string
	AccountHolder string

	// LookbackDays bounds how far back unpaid invoices are picked up
	// when assembling a collection batch.
	LookbackDays int

	// DefaultMandateEnabled allows batch assembly to fall back to the
	// member's most recent active mandate when a schedule carries no
	// mandate reference. Off by default.
	DefaultMandateEnabled bool

	Tolerances CoverageTolerances
}

// CoverageTolerances holds the allowed deviation (in days) between a
// schedule's coverage window length and its billing frequency.
// Daily periods are exact and Custom frequencies skip validation.
type CoverageTolerances struct {
	WeeklyDays    int
	MonthlyDays   int
	QuarterlyDays int
	AnnualDays    int
}

// JobsConfig holds background job queue settings
type JobsConfig struct {
	ShortQueueSize   int
	DefaultQueueSize int
	LongQueueSize    int
	StatusTTLSecs    int
	MaxRetries       int
}

// Global config instance
var AppConfig *Config

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist in production)
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	config := &Config{
		AppMode:  appMode,
		Port:     getEnv("PORT", "3000"),
		Database: loadDatabaseConfig(appMode),
		JWT:      loadJWTConfig(appMode),
		SEPA:     loadSEPAConfig(),
		Jobs:     loadJobsConfig(),
	}

	AppConfig = config

	log.Printf("✅ Configuration loaded successfully [MODE: %s]", appMode)
	return config, nil
}

// loadDatabaseConfig loads database config based on mode
func loadDatabaseConfig(mode string) DatabaseConfig {
	prefix := "DEV_"
	if mode == "prod" {
		prefix = "PROD_"
	}

	return DatabaseConfig{
		Host:         getEnv(prefix+"DB_HOST", "localhost"),
		Port:         getEnv(prefix+"DB_PORT", "3306"),
		User:         getEnv(prefix+"DB_USER", "root"),
		Password:     getEnv(prefix+"DB_PASS", ""),
		DBName:       getEnv(prefix+"DB_NAME", "vereniging_incasso"),
		MaxOpenConns: envInt(prefix+"DB_MAX_OPEN_CONNS", 50),
		MaxIdleConns: envInt(prefix+"DB_MAX_IDLE_CONNS", 10),
	}
}

// loadJWTConfig loads JWT config based on mode
func loadJWTConfig(mode string) JWTConfig {
	prefix := "DEV_"
	if mode == "prod" {
		prefix = "PROD_"
	}

	accessMins, _ := strconv.Atoi(getEnv("ACCESS_TOKEN_MINUTES", "15"))

	return JWTConfig{
		Secret:          getEnv(prefix+"JWT_SECRET", "default_secret"),
		AccessTokenMins: accessMins,
	}
}

// loadSEPAConfig loads creditor + batch settings. Tolerances follow the
// rolling-period rules: weekly periods may run 7±1 days, monthly 30±3,
// quarterly 90±7, annual 365±2.
func loadSEPAConfig() SEPAConfig {
	lookback, _ := strconv.Atoi(getEnv("SEPA_LOOKBACK_DAYS", "60"))
	defaultMandate, _ := strconv.ParseBool(getEnv("SEPA_DEFAULT_MANDATE_FALLBACK", "false"))

	return SEPAConfig{
		CreditorID:            getEnv("SEPA_CREDITOR_ID", ""),
		CompanyIBAN:           getEnv("SEPA_COMPANY_IBAN", ""),
		CompanyBIC:            getEnv("SEPA_COMPANY_BIC", ""),
		AccountHolder:         getEnv("SEPA_ACCOUNT_HOLDER", ""),
		LookbackDays:          lookback,
		DefaultMandateEnabled: defaultMandate,
		Tolerances: CoverageTolerances{
			WeeklyDays:    envInt("COVERAGE_TOLERANCE_WEEKLY", 1),
			MonthlyDays:   envInt("COVERAGE_TOLERANCE_MONTHLY", 3),
			QuarterlyDays: envInt("COVERAGE_TOLERANCE_QUARTERLY", 7),
			AnnualDays:    envInt("COVERAGE_TOLERANCE_ANNUAL", 2),
		},
	}
}

// loadJobsConfig loads background job queue settings
func loadJobsConfig() JobsConfig {
	return JobsConfig{
		ShortQueueSize:   envInt("JOBS_SHORT_QUEUE_SIZE", 64),
		DefaultQueueSize: envInt("JOBS_DEFAULT_QUEUE_SIZE", 128),
		LongQueueSize:    envInt("JOBS_LONG_QUEUE_SIZE", 32),
		StatusTTLSecs:    envInt("JOBS_STATUS_TTL_SECS", 3600),
		MaxRetries:       envInt("JOBS_MAX_RETRIES", 3),
	}
}

// Validate checks that the SEPA creditor configuration is complete enough to
// submit batches. Missing fields are returned by label for operator display.
func (s SEPAConfig) Validate() []string {
	var missing []string
	if s.CompanyIBAN == "" {
		missing = append(missing, "Company IBAN")
	}
	if s.CreditorID == "" {
		missing = append(missing, "Creditor ID (Incassant ID)")
	}
	if s.AccountHolder == "" {
		missing = append(missing, "Company Account Holder Name")
	}
	if s.CompanyIBAN != "" && !plausibleIBAN(s.CompanyIBAN) {
		missing = append(missing, "Company IBAN (invalid format)")
	}
	return missing
}

// plausibleIBAN does a shape check only: 2 letters, 2 digits, 11-30 alphanumerics.
// Full MOD-97 validation is left to the bank interface.
func plausibleIBAN(iban string) bool {
	clean := strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if len(clean) < 15 || len(clean) > 34 {
		return false
	}
	for i, r := range clean {
		switch {
		case i < 2:
			if r < 'A' || r > 'Z' {
				return false
			}
		case i < 4:
			if r < '0' || r > '9' {
				return false
			}
		default:
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return false
			}
		}
	}
	return true
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envInt gets an integer environment variable with default value
func envInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}

// GetAllowedOrigins returns allowed origins for CORS
func (c *Config) GetAllowedOrigins() string {
	origins := getEnv("ALLOWED_ORIGINS", "")
	if origins == "" {
		if c.IsDev() {
			return "*"
		}
		return "https://leden.vereniging.nl"
	}
	return origins
}
