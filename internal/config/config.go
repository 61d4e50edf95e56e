package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"

	"github.com/rl1809/storefront/internal/core/domain"
)

// Config stores all configuration of the application.
// The values are read by viper from an app.env file or environment variables.
type Config struct {
	AppName  string `mapstructure:"APP_NAME"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	Port            string        `mapstructure:"PORT"`
	GRPCAddr        string        `mapstructure:"GRPC_ADDR"`
	ServerURL       string        `mapstructure:"SERVER_URL"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	Currency string `mapstructure:"CURRENCY"`

	// Relational store
	DBDriver          string        `mapstructure:"DB_DRIVER"` // "mysql" or "postgres"
	DBDSN             string        `mapstructure:"DB_DSN"`
	MySQLHost         string        `mapstructure:"MYSQL_HOST"`
	MySQLPort         int           `mapstructure:"MYSQL_PORT"`
	MySQLUser         string        `mapstructure:"MYSQL_USER"`
	MySQLPassword     string        `mapstructure:"MYSQL_PASSWORD"`
	MySQLDatabase     string        `mapstructure:"MYSQL_DATABASE"`
	DBMaxOpenConns    int           `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns    int           `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetime time.Duration `mapstructure:"DB_CONN_MAX_LIFETIME"`
	DBMigrate         bool          `mapstructure:"DB_MIGRATE"`

	// Settlement
	RedisAddr           string        `mapstructure:"REDIS_ADDR"`
	SettlementLedgerTTL time.Duration `mapstructure:"SETTLEMENT_LEDGER_TTL"`
	SettlementMode      string        `mapstructure:"SETTLEMENT_MODE"`

	// Payment provider
	StripePrivateKey string `mapstructure:"STRIPE_PRIVATE_KEY"`
	StripeAPIURL     string `mapstructure:"STRIPE_API_URL"`

	// Settlement events
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	SettlementExchange   string `mapstructure:"SETTLEMENT_EXCHANGE"`
	SettlementRoutingKey string `mapstructure:"SETTLEMENT_ROUTING_KEY"`

	CatalogRefreshInterval time.Duration `mapstructure:"CATALOG_REFRESH_INTERVAL"`

	// ConfigFile is the app.env file that was read, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err == nil {
		config.ConfigFile = v.ConfigFileUsed()
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		return config, fmt.Errorf("read config file: %w", err)
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}

	if config.HTTPAddr == "" {
		config.HTTPAddr = ":5000"
		if config.Port != "" {
			config.HTTPAddr = ":" + config.Port
		}
	}
	config.ServerURL = strings.TrimRight(config.ServerURL, "/")

	err = config.validate()
	return config, err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "storefront")
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("HTTP_ADDR", "")
	v.SetDefault("PORT", "")
	v.SetDefault("GRPC_ADDR", ":50051")
	v.SetDefault("SERVER_URL", "http://localhost:5000")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)

	v.SetDefault("CURRENCY", "gbp")

	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("MYSQL_HOST", "localhost")
	v.SetDefault("MYSQL_PORT", 3306)
	v.SetDefault("MYSQL_USER", "root")
	v.SetDefault("MYSQL_PASSWORD", "root")
	v.SetDefault("MYSQL_DATABASE", "storefront")
	v.SetDefault("DB_MAX_OPEN_CONNS", 50)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	v.SetDefault("DB_MIGRATE", false)

	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("SETTLEMENT_LEDGER_TTL", 24*time.Hour)
	v.SetDefault("SETTLEMENT_MODE", string(domain.SettlementModeAtomic))

	v.SetDefault("STRIPE_PRIVATE_KEY", "")
	v.SetDefault("STRIPE_API_URL", "")

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("SETTLEMENT_EXCHANGE", "storefront.settlements")
	v.SetDefault("SETTLEMENT_ROUTING_KEY", "stock.settled")

	v.SetDefault("CATALOG_REFRESH_INTERVAL", time.Duration(0))
}

func (c Config) validate() error {
	var errs []error

	switch c.DBDriver {
	case "mysql":
	case "postgres":
		if c.DBDSN == "" {
			errs = append(errs, errors.New("DB_DSN is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver))
	}

	switch domain.SettlementMode(c.SettlementMode) {
	case domain.SettlementModeAtomic, domain.SettlementModePerItem:
	default:
		errs = append(errs, fmt.Errorf("unsupported SETTLEMENT_MODE %q", c.SettlementMode))
	}

	if c.CatalogRefreshInterval < 0 {
		errs = append(errs, errors.New("CATALOG_REFRESH_INTERVAL must not be negative"))
	}
	if c.SettlementLedgerTTL <= 0 {
		errs = append(errs, errors.New("SETTLEMENT_LEDGER_TTL must be positive"))
	}

	return errors.Join(errs...)
}

// DatabaseDSN returns DB_DSN when set, otherwise a MySQL DSN built from the
// MYSQL_* settings.
func (c Config) DatabaseDSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}

	mc := mysql.NewConfig()
	mc.User = c.MySQLUser
	mc.Passwd = c.MySQLPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.MySQLHost, strconv.Itoa(c.MySQLPort))
	mc.DBName = c.MySQLDatabase
	mc.ParseTime = true
	return mc.FormatDSN()
}

func (c Config) CheckoutURLs() domain.CheckoutURLs {
	return domain.CheckoutURLs{
		SuccessURL: c.ServerURL + "/success.html",
		CancelURL:  c.ServerURL + "/cart",
	}
}
