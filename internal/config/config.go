// Package config loads till's settings from a YAML file, a .env file and
// TILL_* environment variables, and hot-reloads them when the file changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. TILL_REMOTE_ENDPOINT.
const EnvPrefix = "TILL"

// Config is the full process configuration.
type Config struct {
	Tenant string `mapstructure:"tenant"`
	Actor  string `mapstructure:"actor"`
	DBPath string `mapstructure:"db_path"`
	// NodeID is the snowflake node for outbox IDs, 0-1023. Tills sharing a
	// remote need distinct nodes.
	NodeID int64 `mapstructure:"node_id"`

	Remote      RemoteConfig      `mapstructure:"remote"`
	Replication ReplicationConfig `mapstructure:"replication"`
	Pricing     PricingConfig     `mapstructure:"pricing"`
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	DevRemote   DevRemoteConfig   `mapstructure:"devremote"`
}

type RemoteConfig struct {
	// Endpoint is the remote's exec URL. Empty runs the till offline.
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Secret signs bearer tokens. Empty sends no Authorization header.
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type ReplicationConfig struct {
	Debounce       time.Duration `mapstructure:"debounce"`
	DrainInterval  time.Duration `mapstructure:"drain_interval"`
	PushTimeout    time.Duration `mapstructure:"push_timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
	RetryInitial   time.Duration `mapstructure:"retry_initial"`
	RetryMax       time.Duration `mapstructure:"retry_max"`
	RetryFactor    float64       `mapstructure:"retry_factor"`
	RecordAttempts int           `mapstructure:"record_attempts"`
	PageAttempts   int           `mapstructure:"page_attempts"`
}

type PricingConfig struct {
	// TaxRate is the default percentage stamped on new tickets, e.g. "7".
	TaxRate string `mapstructure:"tax_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics during `till serve`. Empty disables it.
	Addr string `mapstructure:"addr"`
}

type DevRemoteConfig struct {
	Addr string `mapstructure:"addr"`
}

var defaults = map[string]any{
	"tenant":  "main",
	"actor":   "till",
	"db_path": "till.db",
	"node_id": 1,

	"remote.endpoint":  "",
	"remote.timeout":   "15s",
	"remote.secret":    "",
	"remote.token_ttl": "5m",

	"replication.debounce":        "1500ms",
	"replication.drain_interval":  "30s",
	"replication.push_timeout":    "15s",
	"replication.batch_size":      50,
	"replication.retry_initial":   "2s",
	"replication.retry_max":       "5m",
	"replication.retry_factor":    2.0,
	"replication.record_attempts": 10,
	"replication.page_attempts":   3,

	"pricing.tax_rate": "0",

	"log.level":  "info",
	"log.format": "json",

	"metrics.addr":   "",
	"devremote.addr": "127.0.0.1:8787",
}

// Holder serves the current configuration. Reloads replace it atomically.
type Holder struct {
	v       *viper.Viper
	current atomic.Value // Config
	taxRate atomic.Value // decimal.Decimal
}

// Load reads configuration. path names a YAML file; when empty, till.yaml is
// looked up in the working directory and $HOME/.config/till, and a missing
// file means defaults plus environment. A .env file in the working directory
// is loaded into the environment first.
func Load(path string) (*Holder, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("till")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/till")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	h := &Holder{v: v}
	if err := h.reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Config returns the current configuration.
func (h *Holder) Config() Config { return h.current.Load().(Config) }

// TaxRate returns the current default tax rate percentage.
func (h *Holder) TaxRate() decimal.Decimal { return h.taxRate.Load().(decimal.Decimal) }

// File is the config file in use, or "" when running on defaults.
func (h *Holder) File() string { return h.v.ConfigFileUsed() }

// Watch reloads the configuration whenever the file changes. An invalid
// edit is logged and ignored. Settings read per operation, such as the tax
// rate, take effect immediately; the rest apply on restart.
func (h *Holder) Watch(log *zap.Logger) {
	if h.File() == "" {
		return
	}
	h.v.OnConfigChange(func(e fsnotify.Event) {
		if err := h.reload(); err != nil {
			log.Warn("config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("config reloaded", zap.String("file", e.Name),
			zap.String("tax_rate", h.TaxRate().String()))
	})
	h.v.WatchConfig()
}

// Set overrides a key, e.g. from a command-line flag. Overrides outrank the
// file and the environment, and survive reloads.
func (h *Holder) Set(key string, value any) error {
	h.v.Set(key, value)
	return h.reload()
}

func (h *Holder) reload() error {
	var cfg Config
	if err := h.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	rate, err := cfg.Validate()
	if err != nil {
		return err
	}
	h.current.Store(cfg)
	h.taxRate.Store(rate)
	return nil
}

// Validate checks the configuration and returns the parsed tax rate.
func (c Config) Validate() (decimal.Decimal, error) {
	if strings.TrimSpace(c.Tenant) == "" {
		return decimal.Zero, errors.New("tenant cannot be empty")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return decimal.Zero, fmt.Errorf("node_id %d out of range 0-1023", c.NodeID)
	}
	if c.Remote.Endpoint != "" && !strings.HasPrefix(c.Remote.Endpoint, "http://") &&
		!strings.HasPrefix(c.Remote.Endpoint, "https://") {
		return decimal.Zero, fmt.Errorf("remote.endpoint %q must be an http(s) URL", c.Remote.Endpoint)
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Pricing.TaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("pricing.tax_rate %q: %w", c.Pricing.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("pricing.tax_rate %s out of range 0-100", rate)
	}
	return rate, nil
}
