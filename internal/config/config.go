package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"AgentFlow-Chain/internal/auth"
	"AgentFlow-Chain/internal/chain"
	xerrors "AgentFlow-Chain/internal/errors"
	"AgentFlow-Chain/internal/events"
	"AgentFlow-Chain/internal/journal"
	"AgentFlow-Chain/internal/payment"
	"AgentFlow-Chain/internal/retry"
	"AgentFlow-Chain/internal/workflow"
	"AgentFlow-Chain/pkg/logger"

	"gopkg.in/yaml.v3"
)

// Config is the full YAML configuration loaded at startup. Durations are
// expressed as integer seconds or milliseconds so the file stays plain
// YAML scalars.
type Config struct {
	Logging      logger.Config      `yaml:"logging"`
	Auth         auth.Config        `yaml:"auth"`
	Wallet       WalletConfig       `yaml:"wallet"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Facilitator  FacilitatorConfig  `yaml:"facilitator"`
	Payment      PaymentConfig      `yaml:"payment"`
	Chain        ChainConfig        `yaml:"chain"`
	Journal      JournalConfig      `yaml:"journal"`
	Cache        CacheConfig        `yaml:"cache"`
	Events       EventsConfig       `yaml:"events"`
}

// WalletConfig names the signing key. The environment variable wins over
// the inline key so deployments can keep the key out of the file.
type WalletConfig struct {
	PrivateKey    string `yaml:"private_key"`
	PrivateKeyEnv string `yaml:"private_key_env"`
}

// ResolveKey returns the hex private key, preferring the environment.
func (w WalletConfig) ResolveKey() string {
	if w.PrivateKeyEnv != "" {
		if key := strings.TrimSpace(os.Getenv(w.PrivateKeyEnv)); key != "" {
			return key
		}
	}
	return strings.TrimSpace(w.PrivateKey)
}

// RetryConfig is the file-facing form of a retry policy. Pointer booleans
// distinguish "absent" from "explicitly false" so an omitted block still
// gets the defaults.
type RetryConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	MaxRetries     int     `yaml:"max_retries"`
	InitialDelayMS int64   `yaml:"initial_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	MaxDelayMS     int64   `yaml:"max_delay_ms"`
	JitterEnabled  *bool   `yaml:"jitter_enabled"`
	JitterRatio    float64 `yaml:"jitter_ratio"`
}

// Policy converts the file form into a runtime retry policy, filling
// unset fields from the default policy.
func (r RetryConfig) Policy() retry.Policy {
	policy := retry.DefaultPolicy()
	if r.Enabled != nil {
		policy.Enabled = *r.Enabled
	}
	if r.MaxRetries > 0 {
		policy.MaxRetries = r.MaxRetries
	}
	if r.InitialDelayMS > 0 {
		policy.InitialDelay = time.Duration(r.InitialDelayMS) * time.Millisecond
	}
	if r.BackoffFactor > 0 {
		policy.BackoffFactor = r.BackoffFactor
	}
	if r.MaxDelayMS > 0 {
		policy.MaxDelay = time.Duration(r.MaxDelayMS) * time.Millisecond
	}
	if r.JitterEnabled != nil {
		policy.JitterEnabled = *r.JitterEnabled
	}
	if r.JitterRatio > 0 {
		policy.JitterRatio = r.JitterRatio
	}
	return policy
}

// OrchestratorConfig configures the workflow client.
type OrchestratorConfig struct {
	BaseURL string `yaml:"base_url"`

	TimeoutMS      int64 `yaml:"timeout_ms"`
	TimeoutSeconds int64 `yaml:"timeout_seconds"`
	Timeout        int64 `yaml:"timeout"`

	MaxWaitMS      int64 `yaml:"max_wait_ms"`
	MaxWaitSeconds int64 `yaml:"max_wait_seconds"`
	MaxWait        int64 `yaml:"max_wait"`

	PollIntervalMS      int64 `yaml:"poll_interval_ms"`
	PollIntervalSeconds int64 `yaml:"poll_interval_seconds"`
	PollInterval        int64 `yaml:"poll_interval"`

	Retry RetryConfig `yaml:"retry"`
}

// Build converts the file form into the workflow client configuration.
func (o OrchestratorConfig) Build() workflow.Config {
	return workflow.Config{
		BaseURL:             o.BaseURL,
		TimeoutMS:           o.TimeoutMS,
		TimeoutSeconds:      o.TimeoutSeconds,
		Timeout:             o.Timeout,
		MaxWaitMS:           o.MaxWaitMS,
		MaxWaitSeconds:      o.MaxWaitSeconds,
		MaxWait:             o.MaxWait,
		PollIntervalMS:      o.PollIntervalMS,
		PollIntervalSeconds: o.PollIntervalSeconds,
		PollInterval:        o.PollInterval,
		Retry:               o.Retry.Policy(),
	}
}

// FacilitatorConfig configures the settlement client.
type FacilitatorConfig struct {
	BaseURL        string      `yaml:"base_url"`
	AgentID        string      `yaml:"agent_id"`
	TimeoutSeconds int         `yaml:"timeout_seconds"`
	Retry          RetryConfig `yaml:"retry"`
}

// Build converts the file form into the facilitator client configuration.
func (f FacilitatorConfig) Build() payment.FacilitatorConfig {
	return payment.FacilitatorConfig{
		BaseURL: f.BaseURL,
		AgentID: f.AgentID,
		Timeout: time.Duration(f.TimeoutSeconds) * time.Second,
		Retry:   f.Retry.Policy(),
	}
}

// PaymentConfig configures the payment engine.
type PaymentConfig struct {
	Network               string                   `yaml:"network"`
	ChainID               int64                    `yaml:"chain_id"`
	FeeRate               float64                  `yaml:"fee_rate"`
	Treasury              string                   `yaml:"treasury"`
	ValidityWindowSeconds int                      `yaml:"validity_window_seconds"`
	Assets                map[string]payment.Asset `yaml:"assets"`
}

// Build converts the file form into the engine configuration.
func (p PaymentConfig) Build() payment.EngineConfig {
	return payment.EngineConfig{
		Network:        p.Network,
		ChainID:        p.ChainID,
		FeeRate:        p.FeeRate,
		Treasury:       p.Treasury,
		ValidityWindow: time.Duration(p.ValidityWindowSeconds) * time.Second,
		Assets:         p.Assets,
	}
}

// ChainConfig configures the EVM endpoint for native settlement.
type ChainConfig struct {
	RPCURL             string `yaml:"rpc_url"`
	ReceiptPollSeconds int    `yaml:"receipt_poll_seconds"`
	ReceiptWaitSeconds int    `yaml:"receipt_wait_seconds"`
}

// Build converts the file form into the chain client configuration.
func (c ChainConfig) Build() chain.Config {
	return chain.Config{
		RPCURL:      c.RPCURL,
		ReceiptPoll: time.Duration(c.ReceiptPollSeconds) * time.Second,
		ReceiptWait: time.Duration(c.ReceiptWaitSeconds) * time.Second,
	}
}

// JournalConfig selects the payment journal backend.
type JournalConfig struct {
	Driver string             `yaml:"driver"`
	MySQL  JournalMySQLConfig `yaml:"mysql"`
}

// JournalMySQLConfig is the file form of the MySQL journal settings.
type JournalMySQLConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// Build converts the file form into the MySQL journal configuration.
func (j JournalMySQLConfig) Build() journal.MySQLConfig {
	return journal.MySQLConfig{
		DSN:             j.DSN,
		MaxOpenConns:    j.MaxOpenConns,
		MaxIdleConns:    j.MaxIdleConns,
		ConnMaxLifetime: time.Duration(j.ConnMaxLifetimeSeconds) * time.Second,
	}
}

// CacheConfig selects the verification cache backend.
type CacheConfig struct {
	Driver string           `yaml:"driver"`
	Limit  int              `yaml:"limit"`
	Redis  CacheRedisConfig `yaml:"redis"`
}

// CacheRedisConfig is the file form of the Redis cache settings.
type CacheRedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// Build converts the file form into the Redis cache configuration.
func (c CacheRedisConfig) Build() payment.RedisCacheConfig {
	return payment.RedisCacheConfig{
		Address:  c.Address,
		Password: c.Password,
		DB:       c.DB,
		Prefix:   c.Prefix,
		TTL:      time.Duration(c.TTLSeconds) * time.Second,
	}
}

// EventsConfig selects the workflow observation publisher.
type EventsConfig struct {
	Driver string            `yaml:"driver"`
	Limit  int               `yaml:"limit"`
	AMQP   events.AMQPConfig `yaml:"amqp"`
}

// Supported backend driver names.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
	DriverRedis  = "redis"
	DriverAMQP   = "amqp"
)

// Load parses the YAML configuration at path and applies defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "config path is empty")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, fmt.Sprintf("read config %s", path))
	}
	return Parse(content)
}

// Parse decodes YAML configuration bytes and applies defaults.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "parse config")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Journal.Driver == "" {
		c.Journal.Driver = DriverMemory
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = DriverMemory
	}
	if c.Events.Driver == "" {
		c.Events.Driver = DriverNone
	}
	if c.Payment.FeeRate <= 0 {
		c.Payment.FeeRate = payment.DefaultFeeRate
	}
}

func (c *Config) validate() error {
	switch c.Journal.Driver {
	case DriverMemory:
	case DriverMySQL:
		if c.Journal.MySQL.DSN == "" {
			return xerrors.New(xerrors.CodeConfiguration, "journal driver mysql requires a dsn")
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unknown journal driver %q", c.Journal.Driver))
	}
	switch c.Cache.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Cache.Redis.Address == "" {
			return xerrors.New(xerrors.CodeConfiguration, "cache driver redis requires an address")
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unknown cache driver %q", c.Cache.Driver))
	}
	switch c.Events.Driver {
	case DriverNone, DriverMemory:
	case DriverAMQP:
		if c.Events.AMQP.URL == "" {
			return xerrors.New(xerrors.CodeConfiguration, "events driver amqp requires a url")
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unknown events driver %q", c.Events.Driver))
	}
	return nil
}
