// Package config loads and validates relay configuration from a YAML file
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, CRM, Portals, Audit, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	CRM      CRMConfig      `yaml:"crm"`
	Atlas    AtlasConfig    `yaml:"atlas"`
	Bayut    BayutConfig    `yaml:"bayut"`
	Dubizzle DubizzleConfig `yaml:"dubizzle"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Audit    AuditConfig    `yaml:"audit"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       RateLimit     `yaml:"rateLimit"`
}

// RateLimit bounds webhook deliveries per portal and caller. A zero Burst
// turns limiting off.
type RateLimit struct {
	Burst  int           `yaml:"burst"`
	Window time.Duration `yaml:"window"`
}

// CRMConfig holds the Pipedrive connection, deal defaults and the custom
// field key table.
type CRMConfig struct {
	BaseURL         string            `yaml:"baseUrl"`
	Domain          string            `yaml:"domain"`
	APIToken        string            `yaml:"apiToken"`
	PipelineID      int64             `yaml:"pipelineId"`
	DefaultCurrency string            `yaml:"defaultCurrency"`
	Timeout         time.Duration     `yaml:"timeout"`
	CustomFields    map[string]string `yaml:"customFields"`
}

// Endpoint returns the API root, derived from the company domain when no
// explicit base URL is configured.
func (c CRMConfig) Endpoint() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Domain != "" {
		return fmt.Sprintf("https://%s.pipedrive.com/api/v1", c.Domain)
	}
	return "https://api.pipedrive.com/v1"
}

// AtlasConfig holds the primary portal's read API credentials and the
// optional inbound shared secret.
type AtlasConfig struct {
	BaseURL       string        `yaml:"baseUrl"`
	APIKey        string        `yaml:"apiKey"`
	APISecret     string        `yaml:"apiSecret"`
	WebhookSecret string        `yaml:"webhookSecret"`
	DefaultName   string        `yaml:"defaultName"`
	Timeout       time.Duration `yaml:"timeout"`
}

// BayutConfig holds Bayut settings.
type BayutConfig struct {
	DefaultName string `yaml:"defaultName"`
}

// DubizzleConfig holds Dubizzle settings.
type DubizzleConfig struct {
	SigningSecret string `yaml:"signingSecret"`
	DefaultName   string `yaml:"defaultName"`
}

// PipelineConfig controls enrichment retry and per-key serialization.
type PipelineConfig struct {
	EnrichAttempts int           `yaml:"enrichAttempts"`
	EnrichBackoff  time.Duration `yaml:"enrichBackoff"`
	LockTTL        time.Duration `yaml:"lockTTL"`
	LockWait       time.Duration `yaml:"lockWait"`
}

// AuditConfig selects the audit sinks and the buffering behaviour.
type AuditConfig struct {
	Sinks         []string      `yaml:"sinks"`
	Endpoint      string        `yaml:"endpoint"`
	Topic         string        `yaml:"topic"`
	BufferSize    int           `yaml:"bufferSize"`
	BatchSize     int           `yaml:"batchSize"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// Enabled reports whether the named sink is configured.
func (a AuditConfig) Enabled(sink string) bool {
	for _, s := range a.Sinks {
		if strings.EqualFold(strings.TrimSpace(s), sink) {
			return true
		}
	}
	return false
}

// RedisConfig holds Redis connection parameters for the distributed lock.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing settings the relay cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.CRM.APIToken == "" {
		missing = append(missing, "crm.apiToken")
	}
	if (c.Atlas.APIKey == "") != (c.Atlas.APISecret == "") {
		missing = append(missing, "atlas.apiKey/atlas.apiSecret (both or neither)")
	}
	if c.Audit.Enabled("http") && c.Audit.Endpoint == "" {
		missing = append(missing, "audit.endpoint")
	}
	if c.Audit.Enabled("kafka") && (len(c.Kafka.Brokers) == 0 || c.Audit.Topic == "") {
		missing = append(missing, "kafka.brokers/audit.topic")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimit{
				Burst:  120,
				Window: time.Minute,
			},
		},
		CRM: CRMConfig{
			DefaultCurrency: "AED",
			Timeout:         30 * time.Second,
			CustomFields:    map[string]string{},
		},
		Atlas: AtlasConfig{
			BaseURL:     "https://atlas.propertyfinder.com/v1",
			DefaultName: "Property Finder Lead",
			Timeout:     30 * time.Second,
		},
		Bayut: BayutConfig{
			DefaultName: "Bayut Lead",
		},
		Dubizzle: DubizzleConfig{
			DefaultName: "Dubizzle Lead",
		},
		Pipeline: PipelineConfig{
			EnrichAttempts: 5,
			EnrichBackoff:  500 * time.Millisecond,
			LockTTL:        60 * time.Second,
			LockWait:       30 * time.Second,
		},
		Audit: AuditConfig{
			Sinks:         []string{},
			Topic:         "relay-audit",
			BufferSize:    1024,
			BatchSize:     50,
			FlushInterval: 2 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "leadrelay",
			User:            "leadrelay",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads RELAY_* environment variables, plus the
// conventional names the hosting platform and the portals' setup guides use,
// and overrides the corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("RELAY_SERVER_PORT", "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RELAY_SERVER_RATE_LIMIT_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit.Burst = burst
		}
	}
	if v := firstEnv("RELAY_CRM_API_TOKEN", "PIPEDRIVE_API_TOKEN"); v != "" {
		cfg.CRM.APIToken = v
	}
	if v := firstEnv("RELAY_CRM_DOMAIN", "PIPEDRIVE_DOMAIN"); v != "" {
		cfg.CRM.Domain = v
	}
	if v := os.Getenv("RELAY_CRM_BASE_URL"); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := firstEnv("RELAY_CRM_PIPELINE_ID", "PIPEDRIVE_PIPELINE_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.CRM.PipelineID = id
		}
	}
	if v := firstEnv("RELAY_CRM_DEFAULT_CURRENCY", "DEFAULT_CURRENCY"); v != "" {
		cfg.CRM.DefaultCurrency = v
	}
	if v := os.Getenv("RELAY_ATLAS_BASE_URL"); v != "" {
		cfg.Atlas.BaseURL = v
	}
	if v := firstEnv("RELAY_ATLAS_API_KEY", "PF_API_KEY"); v != "" {
		cfg.Atlas.APIKey = v
	}
	if v := firstEnv("RELAY_ATLAS_API_SECRET", "PF_API_SECRET"); v != "" {
		cfg.Atlas.APISecret = v
	}
	if v := firstEnv("RELAY_ATLAS_WEBHOOK_SECRET", "PF_WEBHOOK_SECRET"); v != "" {
		cfg.Atlas.WebhookSecret = v
	}
	if v := firstEnv("RELAY_DUBIZZLE_SIGNING_SECRET", "DUBIZZLE_WEBHOOK_SECRET"); v != "" {
		cfg.Dubizzle.SigningSecret = v
	}
	if v := os.Getenv("RELAY_AUDIT_SINKS"); v != "" {
		cfg.Audit.Sinks = strings.Split(v, ",")
	}
	if v := os.Getenv("RELAY_AUDIT_ENDPOINT"); v != "" {
		cfg.Audit.Endpoint = v
	}
	if v := os.Getenv("RELAY_AUDIT_TOPIC"); v != "" {
		cfg.Audit.Topic = v
	}
	if v := os.Getenv("RELAY_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RELAY_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RELAY_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RELAY_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RELAY_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RELAY_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RELAY_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RELAY_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RELAY_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("RELAY_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAY_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RELAY_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
