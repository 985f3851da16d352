// internal/common/config/config.go
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Admins        AdminsConfig        `mapstructure:"admins"`
	API           APIConfig           `mapstructure:"api"`
	Integrations  IntegrationConfig   `mapstructure:"integrations"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address      string   `mapstructure:"address"`
	ReadTimeout  int      `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout int      `mapstructure:"write_timeout"` // milliseconds
	CORSOrigins  []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// ElasticsearchConfig is optional; an empty address list disables the
// billing event journal.
type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// Enabled reports whether any Elasticsearch address is configured.
func (e ElasticsearchConfig) Enabled() bool {
	return len(e.Addresses) > 0
}

// --- Billing Configuration ---

// GatewayConfig holds bePaid credentials and endpoints.
type GatewayConfig struct {
	ShopID              string `mapstructure:"shop_id"`
	SecretKey           string `mapstructure:"secret_key"`
	TestMode            bool   `mapstructure:"test_mode"`
	CheckoutURL         string `mapstructure:"checkout_url"`
	ChargeURL           string `mapstructure:"charge_url"`
	Timeout             int    `mapstructure:"timeout"` // milliseconds
	Currency            string `mapstructure:"currency"`
	Description         string `mapstructure:"description"`
	Language            string `mapstructure:"language"`
	NotificationURL     string `mapstructure:"notification_url"`
	ReturnURL           string `mapstructure:"return_url"`
	VerifyNotifications bool   `mapstructure:"verify_notifications"`
}

// BillingConfig holds recurring billing defaults. Price and PeriodDays are
// fallbacks; the settings table overrides them at runtime.
type BillingConfig struct {
	Price          string `mapstructure:"price"`
	PeriodDays     int    `mapstructure:"period_days"`
	Interval       int    `mapstructure:"interval"` // milliseconds
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	LeaseTTL       int    `mapstructure:"lease_ttl"` // milliseconds
	LeaseKey       string `mapstructure:"lease_key"`
}

type TelegramConfig struct {
	BotToken      string  `mapstructure:"bot_token"`
	ChannelID     string  `mapstructure:"channel_id"`
	APIURL        string  `mapstructure:"api_url"`
	ManagerLink   string  `mapstructure:"manager_link"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Timeout       int     `mapstructure:"timeout"` // milliseconds
}

// AdminsConfig lists Telegram user ids that are never billed or revoked.
type AdminsConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

type APIConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// IntegrationConfig holds settings for AWS notification channels.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled  bool   `mapstructure:"enabled"`
			TopicARN string `mapstructure:"topic_arn"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ParseAdminIDs parses a comma separated id list such as "1, 2,,3".
// Blank entries are skipped.
func ParseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
