package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Authorization modes
const (
	AuthAPIKey   = "api_key"
	AuthIAM      = "iam"
	AuthUserPool = "user_pool"
)

// Logging verbosity levels
const (
	VerbosityQuiet   = "quiet"
	VerbosityInfo    = "info"
	VerbosityVerbose = "verbose"
)

// Billing modes of the remote store. Informational only.
const (
	BillingPayPerRequest = "PAY_PER_REQUEST"
	BillingProvisioned   = "PROVISIONED"
)

// Config is the client configuration surface
type Config struct {
	API     APIConfig     `yaml:"api" toml:"api"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Sync    SyncConfig    `yaml:"sync" toml:"sync"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Schema  SchemaConfig  `yaml:"schema" toml:"schema"`
}

// APIConfig holds the remote endpoint and its credentials
type APIConfig struct {
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AuthMode        string `yaml:"auth_mode" toml:"auth_mode"`
	APIKey          string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" toml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" toml:"secret_access_key,omitempty"`
	Username        string `yaml:"username,omitempty" toml:"username,omitempty"`
	Password        string `yaml:"password,omitempty" toml:"password,omitempty"`
	Token           string `yaml:"token,omitempty" toml:"token,omitempty"` // User-pool session token
}

// StorageConfig locates the local record store
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"` // SQLite file, or ":memory:"
}

// SyncConfig tunes the background sync engine
type SyncConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval" toml:"poll_interval"`         // Delta pull interval
	Debounce         time.Duration `yaml:"debounce" toml:"debounce"`                   // Wait after a local write before pushing
	ConnectTimeout   time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`     // 0 means the caller's context only
	MaxBackoff       time.Duration `yaml:"max_backoff" toml:"max_backoff"`             // Cap for reconnect backoff
	SurfaceConflicts bool          `yaml:"surface_conflicts" toml:"surface_conflicts"` // Report resolved conflicts to the error handler
}

// LoggingConfig holds logging preferences
type LoggingConfig struct {
	Verbosity string `yaml:"verbosity" toml:"verbosity"` // quiet, info, verbose
	File      string `yaml:"file" toml:"file"`           // Path to log file
	Console   bool   `yaml:"console" toml:"console"`     // Enable console logging
}

// SchemaConfig declares the operation set used by this client
type SchemaConfig struct {
	Operations  []string `yaml:"operations,omitempty" toml:"operations,omitempty"` // Empty means all
	BillingMode string   `yaml:"billing_mode" toml:"billing_mode"`
}

// DefaultDir returns ~/.todosync
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		return ".todosync"
	}
	return filepath.Join(home, ".todosync")
}

// DefaultPath returns the default config file path
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// DefaultConfig returns default settings
func DefaultConfig() *Config {
	dir := DefaultDir()
	return &Config{
		API: APIConfig{
			Endpoint: "http://localhost:8080",
			AuthMode: AuthAPIKey,
		},
		Storage: StorageConfig{
			Path: filepath.Join(dir, "todos.db"),
		},
		Sync: SyncConfig{
			PollInterval: 30 * time.Second,
			Debounce:     500 * time.Millisecond,
			MaxBackoff:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Verbosity: VerbosityInfo,
			File:      filepath.Join(dir, "logs", "todosync.log"),
		},
		Schema: SchemaConfig{
			BillingMode: BillingPayPerRequest,
		},
	}
}

// applyEnv overrides settings from the environment
func (c *Config) applyEnv() {
	if v := os.Getenv("TODOSYNC_ENDPOINT"); v != "" {
		c.API.Endpoint = v
	}
	if v := os.Getenv("TODOSYNC_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := os.Getenv("TODOSYNC_PASSWORD"); v != "" {
		c.API.Password = v
	}
	if v := os.Getenv("TODOSYNC_VERBOSITY"); v != "" {
		c.Logging.Verbosity = v
	}
}

// Load loads config from path. A missing file yields the defaults.
// Files ending in .toml are parsed as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes config to path, creating the directory if needed
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	// Credentials may be present
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.API.Endpoint == "" {
		return fmt.Errorf("api.endpoint is required")
	}
	switch c.API.AuthMode {
	case AuthAPIKey:
		if c.API.APIKey == "" {
			return fmt.Errorf("api.api_key is required for auth mode %s", AuthAPIKey)
		}
	case AuthIAM:
		if c.API.AccessKeyID == "" || c.API.SecretAccessKey == "" {
			return fmt.Errorf("api.access_key_id and api.secret_access_key are required for auth mode %s", AuthIAM)
		}
	case AuthUserPool:
		if c.API.Token == "" && (c.API.Username == "" || c.API.Password == "") {
			return fmt.Errorf("api.token or api.username and api.password are required for auth mode %s", AuthUserPool)
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.API.AuthMode)
	}

	switch c.Logging.Verbosity {
	case VerbosityQuiet, VerbosityInfo, VerbosityVerbose:
	default:
		return fmt.Errorf("unknown logging verbosity %q", c.Logging.Verbosity)
	}

	switch c.Schema.BillingMode {
	case "", BillingPayPerRequest, BillingProvisioned:
	default:
		return fmt.Errorf("unknown billing mode %q", c.Schema.BillingMode)
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Sync.PollInterval < 0 || c.Sync.Debounce < 0 || c.Sync.ConnectTimeout < 0 || c.Sync.MaxBackoff < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	return nil
}
