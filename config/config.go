package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Gateway  GatewayConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*"
	// RunWorker runs the enrollment retry worker inside the server process.
	RunWorker bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string // if set, used as-is
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int
	MaxConnLifetime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the secret shared with the identity service.
type JWTConfig struct {
	Secret string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
}

// AWSConfig holds AWS credentials and the callback audit bucket. An empty
// AuditBucket disables archiving.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	AuditBucket     string
}

// GatewayConfig holds merchant credentials and payment limits.
type GatewayConfig struct {
	TmnCode       string
	HashSecret    string
	PayURL        string
	QueryURL      string
	ReturnURL     string
	Version       string
	Locale        string
	CurrCode      string
	OrderType     string
	TimeZone      string
	MinAmount     decimal.Decimal
	ExpireMinutes int
	QueryTimeout  time.Duration
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
// Merchant credentials are required.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	minAmount, err := decimal.NewFromString(getEnv("VNPAY_MIN_AMOUNT", "5000"))
	if err != nil {
		return nil, fmt.Errorf("VNPAY_MIN_AMOUNT: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			RunWorker:          getEnv("RUN_ENROLLMENT_WORKER", "false") == "true",
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "coursehub"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 20),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "ap-southeast-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			AuditBucket:     getEnv("AWS_S3_AUDIT_BUCKET", ""),
		},
		Gateway: GatewayConfig{
			TmnCode:       getEnv("VNPAY_TMN_CODE", ""),
			HashSecret:    getEnv("VNPAY_HASH_SECRET", ""),
			PayURL:        getEnv("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			QueryURL:      getEnv("VNPAY_QUERY_URL", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"),
			ReturnURL:     getEnv("VNPAY_RETURN_URL", "http://localhost:8080/payments/return"),
			Version:       getEnv("VNPAY_VERSION", "2.1.0"),
			Locale:        getEnv("VNPAY_LOCALE", "vn"),
			CurrCode:      getEnv("VNPAY_CURR_CODE", "VND"),
			OrderType:     getEnv("VNPAY_ORDER_TYPE", "other"),
			TimeZone:      getEnv("VNPAY_TIMEZONE", "Asia/Ho_Chi_Minh"),
			MinAmount:     minAmount,
			ExpireMinutes: getEnvInt("VNPAY_EXPIRE_MINUTES", 15),
			QueryTimeout:  getEnvDuration("VNPAY_QUERY_TIMEOUT", 10*time.Second),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Gateway.TmnCode == "" {
		errs = append(errs, errors.New("VNPAY_TMN_CODE is required"))
	}
	if c.Gateway.HashSecret == "" {
		errs = append(errs, errors.New("VNPAY_HASH_SECRET is required"))
	}
	if c.Gateway.MinAmount.IsNegative() {
		errs = append(errs, errors.New("VNPAY_MIN_AMOUNT cannot be negative"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
