// Package config loads the inventory server configuration from an
// optional YAML file and APP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultServerPort          = 8080
	DefaultProbePort           = 9090
	DefaultLogLevel            = "info"
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultMetricsEnabled      = true
	DefaultAuthMode            = AuthModeNone
	DefaultStoreDriver         = StoreMemory
	DefaultRedisKeyPrefix      = "inventory"
	DefaultSearchDebounce      = 300 * time.Millisecond
	DefaultSearchGrace         = 5 * time.Second
	DefaultMutationErrorBuffer = 16
	DefaultMutationQueueSize   = 64
)

// Auth modes.
const (
	AuthModeNone   = "none"
	AuthModeBasic  = "basic"
	AuthModeAPIKey = "apikey"
	AuthModeMulti  = "multi"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Environment variable names.
const (
	EnvConfigFile          = "APP_CONFIG_FILE"
	EnvServerPort          = "APP_SERVER_PORT"
	EnvProbePort           = "APP_PROBE_PORT"
	EnvLogLevel            = "APP_LOG_LEVEL"
	EnvShutdownTimeout     = "APP_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled      = "APP_METRICS_ENABLED"
	EnvCORSOrigins         = "APP_CORS_ORIGINS"
	EnvAuthMode            = "APP_AUTH_MODE"
	EnvBasicAuthUsers      = "APP_BASIC_AUTH_USERS"
	EnvAPIKeys             = "APP_API_KEYS" //nolint:gosec // env var name, not a credential
	EnvStoreDriver         = "APP_STORE_DRIVER"
	EnvPostgresDSN         = "APP_POSTGRES_DSN"
	EnvRedisAddrs          = "APP_REDIS_ADDRS"
	EnvRedisUsername       = "APP_REDIS_USERNAME"
	EnvRedisPassword       = "APP_REDIS_PASSWORD" //nolint:gosec // env var name, not a credential
	EnvRedisDB             = "APP_REDIS_DB"
	EnvRedisKeyPrefix      = "APP_REDIS_KEY_PREFIX"
	EnvSeedFile            = "APP_SEED_FILE"
	EnvSearchDebounce      = "APP_SEARCH_DEBOUNCE"
	EnvSearchGrace         = "APP_SEARCH_GRACE"
	EnvMutationErrorBuffer = "APP_MUTATION_ERROR_BUFFER"
	EnvMutationQueueSize   = "APP_MUTATION_QUEUE_SIZE"
)

// Config holds the application configuration.
type Config struct {
	ServerPort      int           `yaml:"server_port"`
	ProbePort       int           `yaml:"probe_port"` // 0 disables the probe server.
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// Auth guards writes: none, basic, apikey or multi.
	AuthMode string `yaml:"auth_mode"`
	// "user:bcrypt_hash[:role],..."
	BasicAuthUsers string `yaml:"basic_auth_users"`
	// "key:name[:role],..."
	APIKeys string `yaml:"api_keys"`

	StoreDriver    string   `yaml:"store_driver"`
	PostgresDSN    string   `yaml:"postgres_dsn"`
	RedisAddrs     []string `yaml:"redis_addrs"`
	RedisUsername  string   `yaml:"redis_username"`
	RedisPassword  string   `yaml:"redis_password"`
	RedisDB        int      `yaml:"redis_db"`
	RedisKeyPrefix string   `yaml:"redis_key_prefix"`
	SeedFile       string   `yaml:"seed_file"`

	SearchDebounce      time.Duration `yaml:"search_debounce"`
	SearchGrace         time.Duration `yaml:"search_grace"`
	MutationErrorBuffer int           `yaml:"mutation_error_buffer"`
	MutationQueueSize   int           `yaml:"mutation_queue_size"`
}

// Validation errors.
var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidProbePort       = errors.New("probe port must be between 0 and 65535")
	ErrProbePortConflict      = errors.New("probe port must differ from server port when probe port is not 0")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidAuthMode        = errors.New("auth mode must be one of: none, basic, apikey, multi")
	ErrInvalidBasicAuthConfig = errors.New("basic auth users must be set when auth mode is basic")
	ErrInvalidAPIKeyConfig    = errors.New("API keys must be set when auth mode is apikey")
	ErrInvalidMultiAuthConfig = errors.New("basic auth users or API keys must be set when auth mode is multi")
	ErrInvalidStoreDriver     = errors.New("store driver must be one of: memory, postgres, redis")
	ErrPostgresDSNRequired    = errors.New("postgres DSN must be set when store driver is postgres")
	ErrRedisAddrsRequired     = errors.New("redis addrs must be set when store driver is redis")
	ErrInvalidSearchTiming    = errors.New("search debounce and grace must be positive")
	ErrInvalidMutationLimits  = errors.New("mutation error buffer and queue size must be positive")
)

// Load builds the configuration from defaults, then the YAML file named by
// APP_CONFIG_FILE if any, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerPort:          DefaultServerPort,
		ProbePort:           DefaultProbePort,
		LogLevel:            DefaultLogLevel,
		ShutdownTimeout:     DefaultShutdownTimeout,
		MetricsEnabled:      DefaultMetricsEnabled,
		CORSOrigins:         []string{"*"},
		AuthMode:            DefaultAuthMode,
		StoreDriver:         DefaultStoreDriver,
		RedisKeyPrefix:      DefaultRedisKeyPrefix,
		SearchDebounce:      DefaultSearchDebounce,
		SearchGrace:         DefaultSearchGrace,
		MutationErrorBuffer: DefaultMutationErrorBuffer,
		MutationQueueSize:   DefaultMutationQueueSize,
	}
}

// loadFile overlays the YAML file on c. Keys missing from the file keep
// their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(expandEnvVars(data), c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, fallback, hasFallback := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasFallback {
			val = fallback
		}
		return []byte(val)
	})
}

func (c *Config) loadFromEnv() error {
	if err := c.loadServerEnv(); err != nil {
		return err
	}

	c.loadAuthEnv()

	if err := c.loadStoreEnv(); err != nil {
		return err
	}

	return c.loadInventoryEnv()
}

func (c *Config) loadServerEnv() error {
	if err := envInt(EnvServerPort, &c.ServerPort); err != nil {
		return err
	}
	if err := envInt(EnvProbePort, &c.ProbePort); err != nil {
		return err
	}
	envString(EnvLogLevel, &c.LogLevel)
	if err := envDuration(EnvShutdownTimeout, &c.ShutdownTimeout); err != nil {
		return err
	}
	if val := os.Getenv(EnvMetricsEnabled); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvMetricsEnabled, err)
		}
		c.MetricsEnabled = enabled
	}
	envList(EnvCORSOrigins, &c.CORSOrigins)
	return nil
}

func (c *Config) loadAuthEnv() {
	envString(EnvAuthMode, &c.AuthMode)
	envString(EnvBasicAuthUsers, &c.BasicAuthUsers)
	envString(EnvAPIKeys, &c.APIKeys)
}

func (c *Config) loadStoreEnv() error {
	envString(EnvStoreDriver, &c.StoreDriver)
	envString(EnvPostgresDSN, &c.PostgresDSN)
	envList(EnvRedisAddrs, &c.RedisAddrs)
	envString(EnvRedisUsername, &c.RedisUsername)
	envString(EnvRedisPassword, &c.RedisPassword)
	if err := envInt(EnvRedisDB, &c.RedisDB); err != nil {
		return err
	}
	envString(EnvRedisKeyPrefix, &c.RedisKeyPrefix)
	envString(EnvSeedFile, &c.SeedFile)
	return nil
}

func (c *Config) loadInventoryEnv() error {
	if err := envDuration(EnvSearchDebounce, &c.SearchDebounce); err != nil {
		return err
	}
	if err := envDuration(EnvSearchGrace, &c.SearchGrace); err != nil {
		return err
	}
	if err := envInt(EnvMutationErrorBuffer, &c.MutationErrorBuffer); err != nil {
		return err
	}
	return envInt(EnvMutationQueueSize, &c.MutationQueueSize)
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = n
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

// envList reads a comma separated list, dropping blank entries.
func envList(name string, dst *[]string) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateAuth(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	return c.validateInventory()
}

func (c *Config) validateServer() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidServerPort
	}
	if c.ProbePort < 0 || c.ProbePort > 65535 {
		return ErrInvalidProbePort
	}
	if c.ProbePort != 0 && c.ProbePort == c.ServerPort {
		return ErrProbePortConflict
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}
	return nil
}

func (c *Config) validateAuth() error {
	switch c.AuthMode {
	case "", AuthModeNone:
	case AuthModeBasic:
		if c.BasicAuthUsers == "" {
			return ErrInvalidBasicAuthConfig
		}
	case AuthModeAPIKey:
		if c.APIKeys == "" {
			return ErrInvalidAPIKeyConfig
		}
	case AuthModeMulti:
		if c.BasicAuthUsers == "" && c.APIKeys == "" {
			return ErrInvalidMultiAuthConfig
		}
	default:
		return ErrInvalidAuthMode
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.StoreDriver {
	case "", StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return ErrPostgresDSNRequired
		}
	case StoreRedis:
		if len(c.RedisAddrs) == 0 {
			return ErrRedisAddrsRequired
		}
	default:
		return ErrInvalidStoreDriver
	}
	return nil
}

func (c *Config) validateInventory() error {
	if c.SearchDebounce <= 0 || c.SearchGrace <= 0 {
		return ErrInvalidSearchTiming
	}
	if c.MutationErrorBuffer <= 0 || c.MutationQueueSize <= 0 {
		return ErrInvalidMutationLimits
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// ProbeAddress returns the probe server address in host:port format.
func (c *Config) ProbeAddress() string {
	return fmt.Sprintf(":%d", c.ProbePort)
}
