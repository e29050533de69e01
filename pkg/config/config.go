package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable the service reads.
	EnvPrefix = "TGSTORE"

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	YooKassa YooKassaConfig
	Delivery DeliveryConfig
	Telegram TelegramConfig
	Sweeper  SweeperConfig
	Ledger   LedgerConfig
	Outbox   OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TGSTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"TGSTORE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TGSTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TGSTORE_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"TGSTORE_APP_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"TGSTORE_DB_DSN"`
	Driver string `envconfig:"TGSTORE_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"TGSTORE_DB_HOST"`
	Port     int    `envconfig:"TGSTORE_DB_PORT" default:"5432"`
	User     string `envconfig:"TGSTORE_DB_USER"`
	Password string `envconfig:"TGSTORE_DB_PASSWORD"`
	Name     string `envconfig:"TGSTORE_DB_NAME"`
	SSLMode  string `envconfig:"TGSTORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TGSTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TGSTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TGSTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TGSTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TGSTORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TGSTORE_REDIS_ADDR"`
	Password     string        `envconfig:"TGSTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TGSTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TGSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TGSTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TGSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TGSTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TGSTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type YooKassaConfig struct {
	ShopID        string        `envconfig:"TGSTORE_YOOKASSA_SHOP_ID"`
	SecretKey     string        `envconfig:"TGSTORE_YOOKASSA_SECRET_KEY"`
	WebhookSecret string        `envconfig:"TGSTORE_YOOKASSA_WEBHOOK_SECRET"`
	BaseURL       string        `envconfig:"TGSTORE_YOOKASSA_BASE_URL" default:"https://api.yookassa.ru/v3"`
	Timeout       time.Duration `envconfig:"TGSTORE_YOOKASSA_TIMEOUT" default:"10s"`
	ReturnURL     string        `envconfig:"TGSTORE_YOOKASSA_RETURN_URL"`
}

type DeliveryConfig struct {
	Token       string        `envconfig:"TGSTORE_YANDEX_DELIVERY_TOKEN"`
	BaseURL     string        `envconfig:"TGSTORE_YANDEX_DELIVERY_BASE_URL" default:"https://b2b.taxi.yandex.net"`
	Timeout     time.Duration `envconfig:"TGSTORE_YANDEX_DELIVERY_TIMEOUT" default:"10s"`
	MaxAttempts int           `envconfig:"TGSTORE_DELIVERY_MAX_ATTEMPTS" default:"3"`
	QuoteTTL    time.Duration `envconfig:"TGSTORE_DELIVERY_QUOTE_TTL" default:"5m"`
}

type TelegramConfig struct {
	BotToken string        `envconfig:"TGSTORE_TELEGRAM_BOT_TOKEN"`
	BaseURL  string        `envconfig:"TGSTORE_TELEGRAM_BASE_URL" default:"https://api.telegram.org"`
	Timeout  time.Duration `envconfig:"TGSTORE_TELEGRAM_TIMEOUT" default:"10s"`
}

type SweeperConfig struct {
	Interval           time.Duration `envconfig:"TGSTORE_SWEEP_INTERVAL" default:"5m"`
	StalenessThreshold time.Duration `envconfig:"TGSTORE_SWEEP_STALENESS_THRESHOLD" default:"15m"`
	BatchSize          int           `envconfig:"TGSTORE_SWEEP_BATCH_SIZE" default:"100"`
	LockTTL            time.Duration `envconfig:"TGSTORE_SWEEP_LOCK_TTL" default:"10m"`
}

type LedgerConfig struct {
	Retention time.Duration `envconfig:"TGSTORE_LEDGER_RETENTION" default:"720h"`
	CacheTTL  time.Duration `envconfig:"TGSTORE_LEDGER_CACHE_TTL" default:"48h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TGSTORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TGSTORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TGSTORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	parts := map[string]string{
		"TGSTORE_DB_HOST": db.Host,
		"TGSTORE_DB_USER": db.User,
		"TGSTORE_DB_NAME": db.Name,
	}
	for _, key := range []string{"TGSTORE_DB_HOST", "TGSTORE_DB_USER", "TGSTORE_DB_NAME"} {
		if parts[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either TGSTORE_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
