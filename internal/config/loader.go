package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/rmskTV/advPlanner-sub000/internal/db"
	"github.com/rmskTV/advPlanner-sub000/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. EXCHANGE_DATABASE_URL.
const EnvPrefix = "EXCHANGE"

// Config is the whole process configuration.
type Config struct {
	Database      db.Config           `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Exchange      ExchangeConfig      `mapstructure:"exchange"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Connectors    []ConnectorConfig   `mapstructure:"connectors"`
}

// RedisConfig enables the shared lock store. Without an address locks are process-local.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ExchangeConfig bounds the exchange engine.
type ExchangeConfig struct {
	MaxFileSize       int64         `mapstructure:"max_file_size"`
	MaxDepth          int           `mapstructure:"max_depth"`
	MaxStringLength   int           `mapstructure:"max_string_length"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Workers           int           `mapstructure:"workers"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	BatchSize         int           `mapstructure:"batch_size"`
	SlowThreshold     time.Duration `mapstructure:"slow_threshold"`
	SupportedVersions []string      `mapstructure:"supported_versions"`
	TabularSections   []string      `mapstructure:"tabular_sections"`
}

// ObservabilityConfig selects log output and telemetry export.
type ObservabilityConfig struct {
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	ServiceName    string        `mapstructure:"service_name"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool          `mapstructure:"otlp_insecure"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// HTTPConfig configures the admin API.
type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TransportConfig is the drop location of one connector.
type TransportConfig struct {
	Kind      string  `mapstructure:"kind"`
	Address   string  `mapstructure:"address"`
	User      string  `mapstructure:"user"`
	Password  string  `mapstructure:"password"`
	Dir       string  `mapstructure:"dir"`
	Bucket    string  `mapstructure:"bucket"`
	Region    string  `mapstructure:"region"`
	Endpoint  string  `mapstructure:"endpoint"`
	TLS       bool    `mapstructure:"tls"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

// ConnectorConfig describes one peer.
type ConnectorConfig struct {
	ID           string          `mapstructure:"id"`
	Name         string          `mapstructure:"name"`
	OurPrefix    string          `mapstructure:"our_prefix"`
	PeerPrefix   string          `mapstructure:"peer_prefix"`
	OurGUID      string          `mapstructure:"our_guid"`
	PeerGUID     string          `mapstructure:"peer_guid"`
	UseGUIDNames bool            `mapstructure:"use_guid_names"`
	ExchangePlan string          `mapstructure:"exchange_plan"`
	Transport    TransportConfig `mapstructure:"transport"`
}

// Domain converts the configured connector. A missing ID is derived from the
// name so it stays stable across restarts.
func (c ConnectorConfig) Domain() (domain.Connector, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return domain.Connector{}, errors.New("connector name is required")
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("exchange-connector:"+name))
	if raw := strings.TrimSpace(c.ID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return domain.Connector{}, fmt.Errorf("connector %s: invalid id: %w", name, err)
		}
		id = parsed
	}
	return domain.Connector{
		ID:           id,
		Name:         name,
		OurPrefix:    strings.TrimSpace(c.OurPrefix),
		PeerPrefix:   strings.TrimSpace(c.PeerPrefix),
		OurGUID:      strings.TrimSpace(c.OurGUID),
		PeerGUID:     strings.TrimSpace(c.PeerGUID),
		UseGUIDNames: c.UseGUIDNames,
		ExchangePlan: strings.TrimSpace(c.ExchangePlan),
		Transport: domain.TransportSettings{
			Kind:      domain.TransportKind(strings.ToLower(strings.TrimSpace(c.Transport.Kind))),
			Address:   c.Transport.Address,
			User:      c.Transport.User,
			Password:  c.Transport.Password,
			Dir:       c.Transport.Dir,
			Bucket:    c.Transport.Bucket,
			Region:    c.Transport.Region,
			Endpoint:  c.Transport.Endpoint,
			TLS:       c.Transport.TLS,
			RateLimit: c.Transport.RateLimit,
		},
	}, nil
}

// ConnectorDomains converts every configured connector and rejects duplicates.
func (c Config) ConnectorDomains() ([]domain.Connector, error) {
	out := make([]domain.Connector, 0, len(c.Connectors))
	seen := map[uuid.UUID]string{}
	for i, cc := range c.Connectors {
		connector, err := cc.Domain()
		if err != nil {
			return nil, fmt.Errorf("connectors[%d]: %w", i, err)
		}
		if other, dup := seen[connector.ID]; dup {
			return nil, fmt.Errorf("connectors[%d]: %s has the same id as %s", i, connector.Name, other)
		}
		seen[connector.ID] = connector.Name
		out = append(out, connector)
	}
	return out, nil
}

func setDefaults(v *viper.Viper) {
	dbDefaults := db.DefaultConfig()
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", dbDefaults.Host)
	v.SetDefault("database.port", dbDefaults.Port)
	v.SetDefault("database.user", dbDefaults.User)
	v.SetDefault("database.password", dbDefaults.Password)
	v.SetDefault("database.dbname", dbDefaults.DBName)
	v.SetDefault("database.sslmode", dbDefaults.SSLMode)
	v.SetDefault("database.max_conns", dbDefaults.MaxConns)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "exchange:lock:")

	v.SetDefault("exchange.max_file_size", 100<<20)
	v.SetDefault("exchange.max_depth", 10)
	v.SetDefault("exchange.max_string_length", 10000)
	v.SetDefault("exchange.lock_ttl", 5*time.Minute)
	v.SetDefault("exchange.poll_interval", time.Minute)
	v.SetDefault("exchange.workers", 4)
	v.SetDefault("exchange.retry_attempts", 3)
	v.SetDefault("exchange.batch_size", 500)
	v.SetDefault("exchange.slow_threshold", 30*time.Second)
	v.SetDefault("exchange.supported_versions", []string{"1.6", "1.7", "1.8"})
	v.SetDefault("exchange.tabular_sections", []string{})

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "json")
	v.SetDefault("observability.service_name", "exchange")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", true)
	v.SetDefault("observability.export_interval", 30*time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"http://localhost:3000"})
}

// Load reads config.yaml from configPath when present and applies EXCHANGE_*
// environment overrides on top of the defaults.
func Load(configPath string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // allow environment overrides
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		logger.Info("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		logger.Info("loaded config", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Exchange.MaxFileSize <= 0 {
		errs = append(errs, errors.New("exchange.max_file_size must be positive"))
	}
	if c.Exchange.Workers <= 0 {
		errs = append(errs, errors.New("exchange.workers must be positive"))
	}
	if c.Exchange.LockTTL <= 0 {
		errs = append(errs, errors.New("exchange.lock_ttl must be positive"))
	}
	if len(c.Exchange.SupportedVersions) == 0 {
		errs = append(errs, errors.New("exchange.supported_versions must not be empty"))
	}
	if _, err := c.ConnectorDomains(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
