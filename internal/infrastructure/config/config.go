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

// AppConfig encapsulates all runtime configuration knobs.
type AppConfig struct {
	App       AppSettings
	HTTP      HTTPSettings
	Auth      AuthSettings
	Log       LogSettings
	Database  DatabaseSettings
	Audit     AuditSettings
	Authority AuthoritySettings
	Workflow  WorkflowSettings
	Scheduler SchedulerSettings
	Redis     RedisSettings
	Storage   StorageSettings
	Mail      MailSettings
	Cache     CacheSettings
}

type AppSettings struct {
	Name        string
	Version     string
	Environment string
}

type HTTPSettings struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IssueTimeout    time.Duration // Request timeout for routes that run the issuance workflow inline
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type AuthSettings struct {
	Enabled     bool
	IssuerURI   string
	JWKSetURI   string
	ClockSkew   time.Duration
	BypassPaths []string
	// TenantClaim names the token claim that restricts a caller to one tenant. Tokens without it reach every tenant.
	TenantClaim string
}

type LogSettings struct {
	Level string
}

type DatabaseSettings struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

type AuditSettings struct {
	Enabled         bool
	LogRequestBody  bool
	LogResponseBody bool
	MaxBodySize     int
}

// AuthoritySettings configures the tax authority web service client.
type AuthoritySettings struct {
	TestReceptionURL           string
	TestAuthorizationURL       string
	ProductionReceptionURL     string
	ProductionAuthorizationURL string
	Timeout                    time.Duration
	MaxConcurrentRequests      int
	RateLimitRPS               int
	BreakerMaxFailures         int
	BreakerFailureRate         float64
	BreakerCooldown            time.Duration
}

// WorkflowSettings configures retries and per-stage timeouts of the issuance workflow.
type WorkflowSettings struct {
	MaxAttempts       int
	RetryInterval     time.Duration
	SignTimeout       time.Duration
	NotifyTimeout     time.Duration
	ReceiptURLTTL     time.Duration
	NotifyOnAuthorize bool
}

// SchedulerSettings configures the batch reprocessing pass.
type SchedulerSettings struct {
	Enabled         bool
	Interval        time.Duration
	StaleAfter      time.Duration
	TenantWorkers   int
	DocumentWorkers int
	DocumentBatch   int
	LockTTL         time.Duration
}

type RedisSettings struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// StorageSettings configures the S3-compatible artifact store.
type StorageSettings struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

type MailSettings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

type CacheSettings struct {
	CompanyTTL time.Duration
}

// Load resolves the application configuration from environment variables.
// It first attempts to load variables from a .env file if it exists.
// Environment variables set in the system take precedence over .env file values.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		App: AppSettings{
			Name:        getEnv("APP_NAME", "ms_emision_electronica"),
			Version:     getEnv("APP_VERSION", "0.1.0"),
			Environment: getEnv("APP_ENV", "local"),
		},
		HTTP: HTTPSettings{
			Port:            getEnvAsInt("APP_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
			IssueTimeout:    getEnvAsDuration("HTTP_ISSUE_TIMEOUT", 90*time.Second),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthSettings{
			Enabled:     getEnvAsBool("AUTH_ENABLED", true),
			IssuerURI:   strings.TrimSpace(os.Getenv("JWT_ISSUER_URI")),
			JWKSetURI:   strings.TrimSpace(os.Getenv("JWT_JWK_SET_URI")),
			ClockSkew:   getEnvAsDuration("AUTH_CLOCK_SKEW", 2*time.Minute),
			BypassPaths: getEnvAsCSV("AUTH_BYPASS_PATHS", []string{"/health"}),
			TenantClaim: getEnv("AUTH_TENANT_CLAIM", "tenant_id"),
		},
		Log: LogSettings{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseSettings{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			Database:        getEnv("DB_NAME", "ms_emision_electronica"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			RunMigrations:   getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Audit: AuditSettings{
			Enabled:         getEnvAsBool("AUDIT_ENABLED", true),
			LogRequestBody:  getEnvAsBool("AUDIT_LOG_REQUEST_BODY", false),
			LogResponseBody: getEnvAsBool("AUDIT_LOG_RESPONSE_BODY", true),
			MaxBodySize:     getEnvAsInt("AUDIT_MAX_BODY_SIZE", 102400),
		},
		Authority: AuthoritySettings{
			TestReceptionURL:           getEnv("AUTHORITY_TEST_RECEPTION_URL", "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"),
			TestAuthorizationURL:       getEnv("AUTHORITY_TEST_AUTHORIZATION_URL", "https://celcer.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"),
			ProductionReceptionURL:     getEnv("AUTHORITY_PROD_RECEPTION_URL", "https://cel.sri.gob.ec/comprobantes-electronicos-ws/RecepcionComprobantesOffline"),
			ProductionAuthorizationURL: getEnv("AUTHORITY_PROD_AUTHORIZATION_URL", "https://cel.sri.gob.ec/comprobantes-electronicos-ws/AutorizacionComprobantesOffline"),
			Timeout:                    getEnvAsDuration("AUTHORITY_TIMEOUT", 30*time.Second),
			MaxConcurrentRequests:      getEnvAsInt("AUTHORITY_MAX_CONCURRENT_REQUESTS", 20),
			RateLimitRPS:               getEnvAsInt("AUTHORITY_RATE_LIMIT_RPS", 10),
			BreakerMaxFailures:         getEnvAsInt("AUTHORITY_BREAKER_MAX_FAILURES", 10),
			BreakerFailureRate:         getEnvAsFloat("AUTHORITY_BREAKER_FAILURE_RATE", 0.5),
			BreakerCooldown:            getEnvAsDuration("AUTHORITY_BREAKER_COOLDOWN", 30*time.Second),
		},
		Workflow: WorkflowSettings{
			MaxAttempts:       getEnvAsInt("WORKFLOW_MAX_ATTEMPTS", 3),
			RetryInterval:     getEnvAsDuration("WORKFLOW_RETRY_INTERVAL", 1*time.Second),
			SignTimeout:       getEnvAsDuration("WORKFLOW_SIGN_TIMEOUT", 10*time.Second),
			NotifyTimeout:     getEnvAsDuration("WORKFLOW_NOTIFY_TIMEOUT", 30*time.Second),
			ReceiptURLTTL:     getEnvAsDuration("WORKFLOW_RECEIPT_URL_TTL", 24*time.Hour),
			NotifyOnAuthorize: getEnvAsBool("WORKFLOW_NOTIFY_ON_AUTHORIZE", true),
		},
		Scheduler: SchedulerSettings{
			Enabled:         getEnvAsBool("SCHEDULER_ENABLED", false),
			Interval:        getEnvAsDuration("SCHEDULER_INTERVAL", 5*time.Minute),
			StaleAfter:      getEnvAsDuration("SCHEDULER_STALE_AFTER", 2*time.Minute),
			TenantWorkers:   getEnvAsInt("SCHEDULER_TENANT_WORKERS", 4),
			DocumentWorkers: getEnvAsInt("SCHEDULER_DOCUMENT_WORKERS", 4),
			DocumentBatch:   getEnvAsInt("SCHEDULER_DOCUMENT_BATCH", 100),
			LockTTL:         getEnvAsDuration("SCHEDULER_LOCK_TTL", 10*time.Minute),
		},
		Redis: RedisSettings{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Storage: StorageSettings{
			Bucket:          getEnv("STORAGE_BUCKET", "comprobantes"),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:        strings.TrimSpace(os.Getenv("STORAGE_ENDPOINT")),
			AccessKeyID:     strings.TrimSpace(os.Getenv("STORAGE_ACCESS_KEY_ID")),
			SecretAccessKey: strings.TrimSpace(os.Getenv("STORAGE_SECRET_ACCESS_KEY")),
			UsePathStyle:    getEnvAsBool("STORAGE_USE_PATH_STYLE", false),
		},
		Mail: MailSettings{
			Enabled:  getEnvAsBool("MAIL_ENABLED", false),
			Host:     getEnv("MAIL_HOST", "localhost"),
			Port:     getEnvAsInt("MAIL_PORT", 587),
			Username: strings.TrimSpace(os.Getenv("MAIL_USERNAME")),
			Password: strings.TrimSpace(os.Getenv("MAIL_PASSWORD")),
			From:     strings.TrimSpace(os.Getenv("MAIL_FROM")),
			TLS:      getEnvAsBool("MAIL_TLS", true),
		},
		Cache: CacheSettings{
			CompanyTTL: getEnvAsDuration("CACHE_COMPANY_TTL", 5*time.Minute),
		},
	}

	if cfg.Workflow.MaxAttempts <= 0 {
		return cfg, errors.New("invalid config: WORKFLOW_MAX_ATTEMPTS must be greater than 0")
	}
	if cfg.Workflow.RetryInterval < 0 {
		return cfg, errors.New("invalid config: WORKFLOW_RETRY_INTERVAL cannot be negative")
	}
	if cfg.Authority.MaxConcurrentRequests <= 0 {
		return cfg, errors.New("invalid config: AUTHORITY_MAX_CONCURRENT_REQUESTS must be greater than 0")
	}
	if cfg.Authority.RateLimitRPS <= 0 {
		return cfg, errors.New("invalid config: AUTHORITY_RATE_LIMIT_RPS must be greater than 0")
	}
	if cfg.Scheduler.TenantWorkers <= 0 {
		return cfg, errors.New("invalid config: SCHEDULER_TENANT_WORKERS must be greater than 0")
	}
	if cfg.Scheduler.DocumentWorkers <= 0 {
		return cfg, errors.New("invalid config: SCHEDULER_DOCUMENT_WORKERS must be greater than 0")
	}
	if cfg.Mail.Enabled && cfg.Mail.From == "" {
		return cfg, errors.New("invalid config: MAIL_FROM is required when MAIL_ENABLED=true")
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.IssuerURI == "" {
			return cfg, errors.New("invalid config: JWT_ISSUER_URI is required when AUTH_ENABLED=true")
		}
		if cfg.Auth.JWKSetURI == "" {
			return cfg, errors.New("invalid config: JWT_JWK_SET_URI is required when AUTH_ENABLED=true")
		}
	}

	return cfg, nil
}

// Address returns the HTTP listen address in host:port form.
func (h HTTPSettings) Address() string {
	return fmt.Sprintf(":%d", h.Port)
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsCSV(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}
