package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvProduction は本番環境を表すAPP_ENVの値。
const EnvProduction = "production"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Identity provider
	IDPClientID     string        `env:"IDP_CLIENT_ID,required,notEmpty"`
	IDPClientSecret string        `env:"IDP_CLIENT_SECRET"`
	IDPDomain       string        `env:"IDP_DOMAIN,required,notEmpty"`
	IDPRedirectURI  string        `env:"IDP_REDIRECT_URI,required,notEmpty"`
	IDPIssuerURL    string        `env:"IDP_ISSUER_URL"`
	IDPHTTPTimeout  time.Duration `env:"IDP_HTTP_TIMEOUT" envDefault:"10s"`

	// Identity token
	TokenSigningKey string `env:"TOKEN_SIGNING_KEY,required,notEmpty"`

	// Session
	SessionSecret string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"168h"`

	// OTP
	OTPTTL           time.Duration `env:"OTP_TTL" envDefault:"10m"`
	OTPPurgeInterval time.Duration `env:"OTP_PURGE_INTERVAL" envDefault:"1h"`
	MailFrom         string        `env:"MAIL_FROM" envDefault:"no-reply@localhost"`

	// Kafka
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaOTPTopic string   `env:"KAFKA_OTP_TOPIC" envDefault:"otp-mail"`
	KafkaUsername string   `env:"KAFKA_USERNAME"`
	KafkaPassword string   `env:"KAFKA_PASSWORD"`

	// Rate Limit
	RateLimitAuth       int  `env:"RATE_LIMIT_AUTH" envDefault:"20"`
	RateLimitTrustProxy bool `env:"RATE_LIMIT_TRUST_PROXY" envDefault:"false"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// KafkaEnabled はOTPメールをKafka経由で配送するかを返す。
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load は環境変数からConfigを読み込む。
// 本番以外ではカレントディレクトリの.envを先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != EnvProduction {
		// .envは任意
		_ = godotenv.Load()
	}
	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = cfg.IsProduction() || strings.HasPrefix(cfg.BaseURL, "https://")

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL))
	}
	if c.OTPTTL <= 0 {
		errs = append(errs, fmt.Errorf("OTP_TTL must be positive, got %s", c.OTPTTL))
	}
	if c.OTPPurgeInterval <= 0 {
		errs = append(errs, fmt.Errorf("OTP_PURGE_INTERVAL must be positive, got %s", c.OTPPurgeInterval))
	}
	if c.IDPHTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("IDP_HTTP_TIMEOUT must be positive, got %s", c.IDPHTTPTimeout))
	}
	if c.RateLimitAuth <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_AUTH must be positive, got %d", c.RateLimitAuth))
	}
	if (c.KafkaUsername == "") != (c.KafkaPassword == "") {
		errs = append(errs, errors.New("KAFKA_USERNAME and KAFKA_PASSWORD must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
