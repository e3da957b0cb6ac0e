// Package config loads service settings from defaults, an optional YAML file
// and CHECKOUT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/application/checkout"
	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/infrastructure/checkoutapi"
)

const EnvPrefix = "CHECKOUT"

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Flow    FlowConfig    `mapstructure:"flow"`
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Outbox  OutboxConfig  `mapstructure:"outbox"`
	Log     LogConfig     `mapstructure:"log"`
	Auth    AuthConfig    `mapstructure:"auth"`
}

type APIConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	InitiatePath     string        `mapstructure:"initiate_path"`
	StatusPath       string        `mapstructure:"status_path"`
	SubscriptionPath string        `mapstructure:"subscription_path"`
}

type FlowConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPolls     int           `mapstructure:"max_polls"`
	DisplayDelay time.Duration `mapstructure:"display_delay"`
}

type ServerConfig struct {
	Addr                  string `mapstructure:"addr"`
	InitiateRatePerMinute int    `mapstructure:"initiate_rate_per_minute"`
}

// StorageConfig selects the history store. An empty SQLitePath keeps
// everything in memory.
type StorageConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// AuthConfig holds the HMAC secret bearer tokens are signed with. Only the
// HTTP service needs it.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.initiate_path", checkoutapi.DefaultInitiatePath)
	v.SetDefault("api.status_path", checkoutapi.DefaultStatusPath)
	v.SetDefault("api.subscription_path", checkoutapi.DefaultSubscriptionPath)

	v.SetDefault("flow.poll_interval", checkout.DefaultPollInterval)
	v.SetDefault("flow.max_polls", checkout.DefaultMaxPolls)
	v.SetDefault("flow.display_delay", 2*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.initiate_rate_per_minute", 5)

	v.SetDefault("storage.sqlite_path", "")

	v.SetDefault("outbox.poll_interval", 200*time.Millisecond)
	v.SetDefault("outbox.batch_size", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if !strings.Contains(c.API.StatusPath, "{payment_id}") {
		errs = append(errs, errors.New("api.status_path must contain {payment_id}"))
	}
	if err := c.CheckoutConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Flow.DisplayDelay < 0 {
		errs = append(errs, errors.New("flow.display_delay must not be negative"))
	}
	if c.Outbox.PollInterval <= 0 {
		errs = append(errs, errors.New("outbox.poll_interval must be positive"))
	}
	if c.Outbox.BatchSize <= 0 {
		errs = append(errs, errors.New("outbox.batch_size must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) CheckoutConfig() checkout.Config {
	return checkout.Config{
		PollInterval: c.Flow.PollInterval,
		MaxPolls:     c.Flow.MaxPolls,
	}
}

func (c *Config) APIPaths() checkoutapi.Paths {
	return checkoutapi.Paths{
		Initiate:     c.API.InitiatePath,
		Status:       c.API.StatusPath,
		Subscription: c.API.SubscriptionPath,
	}
}
