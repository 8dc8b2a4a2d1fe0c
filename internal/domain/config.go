package domain

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix prefixes every configuration environment variable.
const EnvPrefix = "FORENSICS"

var validate = validator.New()

// Config holds the complete service configuration.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server" envconfig:"SERVER"`

	// Tier selects the default infrastructure set.
	Tier Tier `json:"tier" yaml:"tier" envconfig:"TIER"`

	Repository RepositoryConfig `json:"repository" yaml:"repository" envconfig:"REPOSITORY"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" envconfig:"CACHE"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus" envconfig:"BUS"`

	// Analysis holds the default tuning applied when a request sets none.
	Analysis AnalysisOptions `json:"analysis" yaml:"analysis" envconfig:"ANALYSIS"`

	Access AccessConfig `json:"access" yaml:"access" envconfig:"ACCESS"`
	GeoIP  GeoIPConfig  `json:"geoip" yaml:"geoip" envconfig:"GEOIP"`
	Worker WorkerConfig `json:"worker" yaml:"worker" envconfig:"WORKER"`

	Logging LoggingConfig `json:"logging" yaml:"logging" envconfig:"LOG"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" envconfig:"TRACING"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host" envconfig:"HOST"`
	Port         int    `json:"port" yaml:"port" envconfig:"PORT" validate:"gte=1,lte=65535"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout" envconfig:"READ_TIMEOUT"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"` // seconds
	MaxUploadMB  int    `json:"maxUploadMb" yaml:"max_upload_mb" envconfig:"MAX_UPLOAD_MB" validate:"gte=1"`
}

// AccessConfig gates how much work a caller may request.
type AccessConfig struct {
	// RowLimit caps rows per analysis for callers without the admin key. 0 disables the cap.
	RowLimit int    `json:"rowLimit" yaml:"row_limit" envconfig:"ROW_LIMIT" validate:"gte=0"`
	AdminKey string `json:"-" yaml:"admin_key" envconfig:"ADMIN_KEY"`

	// RateLimit is requests per second per tenant. 0 disables limiting.
	RateLimit float64 `json:"rateLimit" yaml:"rate_limit" envconfig:"RATE_LIMIT" validate:"gte=0"`
	RateBurst int     `json:"rateBurst" yaml:"rate_burst" envconfig:"RATE_BURST" validate:"gte=0"`

	// ReportTTL is how long finished reports stay retrievable.
	ReportTTL time.Duration `json:"reportTtl" yaml:"report_ttl" envconfig:"REPORT_TTL"`
}

// GeoIPConfig points at a MaxMind City database used to derive coordinates
// from IP addresses.
type GeoIPConfig struct {
	CityDBPath string `json:"cityDbPath" yaml:"city_db_path" envconfig:"CITY_DB"`
}

// WorkerConfig controls the async analysis worker.
type WorkerConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	Tenants     []string `json:"tenants" yaml:"tenants" envconfig:"TENANTS"`
	Concurrency int      `json:"concurrency" yaml:"concurrency" envconfig:"CONCURRENCY" validate:"gte=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" envconfig:"ENABLED"`
	ServiceName  string  `json:"serviceName" yaml:"service_name" envconfig:"SERVICE_NAME"`
	ExporterType string  `json:"exporterType" yaml:"exporter_type" envconfig:"EXPORTER" validate:"oneof=stdout none"`
	SampleRatio  float64 `json:"sampleRatio" yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, in-process channels and a local LRU.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns the Community tier configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  60,
			WriteTimeout: 120,
			MaxUploadMB:  32,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./forensics.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     30 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 64,
		},
		Analysis: DefaultAnalysisOptions(),
		Access: AccessConfig{
			RowLimit:  50000,
			RateLimit: 10,
			RateBurst: 20,
			ReportTTL: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "osprey-forensics",
			ExporterType: "stdout",
			SampleRatio:  1,
		},
	}
}

// ProConfig returns the Pro tier configuration.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "forensics",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   64,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the configuration from defaults, an optional YAML file and
// FORENSICS_* environment variables, in that order of precedence.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if os.Getenv(EnvPrefix+"_TIER") == string(TierPro) {
		cfg = ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges across the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: config: %v", ErrInvalidInput, err)
	}
	return nil
}
