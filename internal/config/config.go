package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL       string `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret         string `env:"JWT_SECRET,required,notEmpty"`
	WebhookSecret     string `env:"WEBHOOK_SECRET,required,notEmpty"`
	PayoutRailURL     string `env:"PAYOUT_RAIL_URL" envDefault:"http://mock-payout-rail:8081"`
	PayoutCallbackURL string `env:"PAYOUT_CALLBACK_URL" envDefault:"http://app:8080/api/v1/webhooks/payout-rail"`
	// RedisURL is optional; without it incidents only reach in-process subscribers.
	RedisURL            string `env:"REDIS_URL"`
	CommissionRatesFile string `env:"COMMISSION_RATES_FILE"`
	Port                int    `env:"PORT" envDefault:"8080"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv              string `env:"APP_ENV" envDefault:"production"`

	AuditInterval          time.Duration `env:"AUDIT_INTERVAL" envDefault:"1h"`
	BillingInterval        time.Duration `env:"BILLING_INTERVAL" envDefault:"15m"`
	AutoWithdrawalInterval time.Duration `env:"AUTO_WITHDRAWAL_INTERVAL" envDefault:"10m"`
	SettlementInterval     time.Duration `env:"SETTLEMENT_INTERVAL" envDefault:"2s"`
	ResubmitAfter          time.Duration `env:"WITHDRAWAL_RESUBMIT_AFTER" envDefault:"5m"`

	// Amounts in minor units.
	WithdrawalReviewThreshold int64 `env:"WITHDRAWAL_REVIEW_THRESHOLD" envDefault:"100000"`
	DefaultMinimumWithdrawal  int64 `env:"DEFAULT_MINIMUM_WITHDRAWAL" envDefault:"1000"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.WithdrawalReviewThreshold < 0 || cfg.DefaultMinimumWithdrawal < 0 {
		return nil, fmt.Errorf("config.Load: withdrawal amounts must not be negative")
	}
	return &cfg, nil
}
