// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "podpiska-billing/internal/common/errors"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultCheckoutURL = "https://checkout.bepaid.by/ctp/api/checkouts"
	defaultChargeURL   = "https://gateway.bepaid.by/transactions/payments"
	defaultTelegramAPI = "https://api.telegram.org"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on
// top, applies environment overrides and validates the result.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like GATEWAY_SHOP_ID
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := overrideEmptyConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", apperrors.NewConfigInvalidError(err.Error()))
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from the conventional env names the
// deployment already uses.
func overrideEmptyConfig(cfg *Config) error {
	setIfEmpty(&cfg.Gateway.ShopID, "BEPAID_SHOP_ID")
	setIfEmpty(&cfg.Gateway.SecretKey, "BEPAID_SECRET_KEY")
	setIfEmpty(&cfg.Telegram.BotToken, "BOT_TOKEN")
	setIfEmpty(&cfg.Telegram.ChannelID, "CHANNEL_ID")
	setIfEmpty(&cfg.Telegram.ManagerLink, "MANAGER_LINK")
	setIfEmpty(&cfg.API.JWTSecret, "JWT_SECRET")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")

	if len(cfg.Admins.IDs) == 0 {
		if raw := os.Getenv("ADMIN_IDS"); raw != "" {
			ids, err := ParseAdminIDs(raw)
			if err != nil {
				return err
			}
			cfg.Admins.IDs = ids
		}
	}
	return nil
}

func setIfEmpty(dst *string, envKey string) {
	if *dst != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*dst = val
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "podpiska-billing"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "billing-events"
	}

	if cfg.Gateway.CheckoutURL == "" {
		cfg.Gateway.CheckoutURL = defaultCheckoutURL
	}
	if cfg.Gateway.ChargeURL == "" {
		cfg.Gateway.ChargeURL = defaultChargeURL
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 30000
	}
	if cfg.Gateway.Currency == "" {
		cfg.Gateway.Currency = "BYN"
	}
	if cfg.Gateway.Description == "" {
		cfg.Gateway.Description = "Channel subscription"
	}
	if cfg.Gateway.Language == "" {
		cfg.Gateway.Language = "ru"
	}

	if cfg.Billing.Price == "" {
		cfg.Billing.Price = "10.00"
	}
	if cfg.Billing.PeriodDays == 0 {
		cfg.Billing.PeriodDays = 30
	}
	if cfg.Billing.Interval == 0 {
		cfg.Billing.Interval = 3600000
	}
	if cfg.Billing.MaxConcurrency == 0 {
		cfg.Billing.MaxConcurrency = 1
	}
	if cfg.Billing.LeaseTTL == 0 {
		cfg.Billing.LeaseTTL = 55 * 60 * 1000
	}
	if cfg.Billing.LeaseKey == "" {
		cfg.Billing.LeaseKey = "billing:scheduler:lease"
	}

	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = defaultTelegramAPI
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = 25
	}
	if cfg.Telegram.Timeout == 0 {
		cfg.Telegram.Timeout = 10000
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// MinJWTSecretLength is the shortest accepted HS256 signing key.
const MinJWTSecretLength = 32

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Gateway.ShopID == "" {
		return fmt.Errorf("gateway.shop_id is required")
	}
	if cfg.Gateway.SecretKey == "" {
		return fmt.Errorf("gateway.secret_key is required")
	}

	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if cfg.Telegram.ChannelID == "" {
		return fmt.Errorf("telegram.channel_id is required")
	}

	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is required")
	}
	if len(cfg.API.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("api.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	price, err := decimal.NewFromString(cfg.Billing.Price)
	if err != nil {
		return fmt.Errorf("billing.price is not a decimal: %w", err)
	}
	if !price.IsPositive() {
		return fmt.Errorf("billing.price must be positive")
	}
	if cfg.Billing.PeriodDays < 1 {
		return fmt.Errorf("billing.period_days must be at least 1")
	}

	if cfg.Integrations.AWS.SES.Enabled && cfg.Integrations.AWS.SES.FromEmail == "" {
		return fmt.Errorf("integrations.aws.ses.from_email is required when ses is enabled")
	}
	if cfg.Integrations.AWS.SNS.Enabled && cfg.Integrations.AWS.SNS.TopicARN == "" {
		return fmt.Errorf("integrations.aws.sns.topic_arn is required when sns is enabled")
	}

	return nil
}
