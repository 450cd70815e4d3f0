package config

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config aggregates everything the API binary needs at startup.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Policy   Policy
}

type AppConfig struct {
	Name    string
	Port    string
	Debug   bool
	LogPath string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

// Policy holds the admin-configured booking policy constants. The core
// treats it as read-only; updates require a restart or a reload by the
// caller that owns the Config.
type Policy struct {
	// CancelFreeHours is the minimum number of hours before the scheduled
	// time at which a cancellation is still free of charge.
	CancelFreeHours int
	// CancelPenaltyPercent is applied to the booked amount when a
	// cancellation lands inside the free window.
	CancelPenaltyPercent decimal.Decimal

	RescheduleFreeHours      int
	ReschedulePenaltyPercent decimal.Decimal

	// CommissionPercent is the platform cut taken from stylist earnings.
	CommissionPercent decimal.Decimal
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("JWT_EXPIRY_HOURS", 24)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("CANCEL_FREE_HOURS", 24)
	viper.SetDefault("CANCEL_PENALTY_PERCENT", "50")
	viper.SetDefault("RESCHEDULE_FREE_HOURS", 12)
	viper.SetDefault("RESCHEDULE_PENALTY_PERCENT", "25")
	viper.SetDefault("COMMISSION_PERCENT", "10")

	if err := viper.ReadInConfig(); err != nil {
		// Config entirely from environment is fine; .env is optional.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	viper.AutomaticEnv()

	cancelPct, err := decimal.NewFromString(viper.GetString("CANCEL_PENALTY_PERCENT"))
	if err != nil {
		return nil, err
	}
	reschedPct, err := decimal.NewFromString(viper.GetString("RESCHEDULE_PENALTY_PERCENT"))
	if err != nil {
		return nil, err
	}
	commissionPct, err := decimal.NewFromString(viper.GetString("COMMISSION_PERCENT"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:    viper.GetString("APP_NAME"),
			Port:    viper.GetString("PORT"),
			Debug:   viper.GetBool("DEBUG"),
			LogPath: viper.GetString("LOG_PATH"),
		},
		Database: DatabaseConfig{
			URL:      viper.GetString("DATABASE_URL"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		JWT: JWTConfig{
			Secret:      viper.GetString("JWT_SECRET"),
			ExpiryHours: viper.GetInt("JWT_EXPIRY_HOURS"),
		},
		Policy: Policy{
			CancelFreeHours:          viper.GetInt("CANCEL_FREE_HOURS"),
			CancelPenaltyPercent:     cancelPct,
			RescheduleFreeHours:      viper.GetInt("RESCHEDULE_FREE_HOURS"),
			ReschedulePenaltyPercent: reschedPct,
			CommissionPercent:        commissionPct,
		},
	}

	return cfg, nil
}
