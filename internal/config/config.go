package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretEnv overrides Auth.Secret when set, so the signing key does not
// have to live in the YAML file.
const SecretEnv = "STUDYCAL_AUTH_SECRET"

// FetchConfig controls outbound HTTP requests to external feeds.
type FetchConfig struct {
	// Timeout bounds a single feed GET, including reading the body.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// UserAgent is sent on every feed request.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// MaxBodyBytes caps the size of a feed body.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`
}

// SyncConfig controls the sync orchestrator and its scheduled runs.
type SyncConfig struct {
	// Cron is a cron expression for background syncs of every owner.
	// Empty disables scheduled syncs.
	Cron string `yaml:"cron" json:"cron"`
	// BatchSize is the number of events written per insert statement. The
	// store caps it at the number of rows one statement can bind.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Concurrency is the number of owners synced in parallel by the
	// scheduler. Calendars of one owner are always synced sequentially.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	Secret string `yaml:"secret" json:"-"`
	// TokenTTL is the lifetime of API tokens. Feed tokens do not expire,
	// since calendar clients keep the subscription URL forever.
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and feed endpoints.
	Listen string `yaml:"listen" json:"listen"`

	// Database is the SQLite database file path.
	Database string `yaml:"database" json:"database"`

	// PublicURL is the externally reachable base URL, used to build
	// subscription links (e.g. "https://cal.example.edu").
	PublicURL string `yaml:"public_url" json:"public_url"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// ProductID is written as PRODID in published feeds.
	ProductID string `yaml:"product_id" json:"product_id"`

	// UIDDomain is the right-hand side of generated event UIDs.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`

	Fetch FetchConfig `yaml:"fetch" json:"fetch"`
	Sync  SyncConfig  `yaml:"sync" json:"sync"`
	Auth  AuthConfig  `yaml:"auth" json:"auth"`
}

const (
	defaultListen       = "127.0.0.1:8080"
	defaultDatabase     = "./var/studycal.db"
	defaultProductID    = "-//studycal//Student Schedule//EN"
	defaultUIDDomain    = "studycal.local"
	defaultTimeout      = 20 * time.Second
	defaultUserAgent    = "studycal/0.1 (+calendar sync)"
	defaultMaxBodyBytes = 10 << 20
	defaultBatchSize    = 500
	defaultConcurrency  = 4
	defaultTokenTTL     = 24 * time.Hour
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    defaultListen,
		Database:  defaultDatabase,
		PublicURL: "http://" + defaultListen,
		LogLevel:  "info",
		ProductID: defaultProductID,
		UIDDomain: defaultUIDDomain,
		Fetch: FetchConfig{
			Timeout:      defaultTimeout,
			UserAgent:    defaultUserAgent,
			MaxBodyBytes: defaultMaxBodyBytes,
		},
		Sync: SyncConfig{
			Cron:        "*/30 * * * *",
			BatchSize:   defaultBatchSize,
			Concurrency: defaultConcurrency,
		},
		Auth: AuthConfig{
			TokenTTL: defaultTokenTTL,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.PublicURL == "" {
		c.PublicURL = "http://" + c.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ProductID == "" {
		c.ProductID = defaultProductID
	}
	if c.UIDDomain == "" {
		c.UIDDomain = defaultUIDDomain
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = defaultTimeout
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultUserAgent
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		c.Fetch.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = defaultBatchSize
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = defaultConcurrency
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
//
// In both cases SecretEnv, if set, replaces Auth.Secret.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv(SecretEnv); v != "" {
		c.Auth.Secret = v
	}
}

// Save writes the given configuration to the specified path, atomically
// via a temp file + rename, with final permissions 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".studycal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
