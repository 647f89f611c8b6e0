package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

// Config holds all settings for a crawl run.
type Config struct {
	// Server identifies the mirrored Gerrit instance.
	Server ServerConfig `yaml:"server"`

	// Connector selects the transport: "ssh" (full crawl) or "http"
	// (project listing only).
	Connector string `yaml:"connector"`

	SSH     SSHConfig     `yaml:"ssh"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Crawl   CrawlConfig   `yaml:"crawl"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level"`
}

type ServerConfig struct {
	// Name is the operator-chosen label for the instance; (name, host)
	// identifies the server row across runs.
	Name string `yaml:"name"`
}

type SSHConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	KeyFile    string `yaml:"key_file"`
	QueryLimit int    `yaml:"query_limit"`
}

type HTTPConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // "postgres", "sqlite3"
	PostgresDSN string `yaml:"postgres_dsn"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type CrawlConfig struct {
	// Mode forces "initial" or "incremental"; empty derives it from
	// whether the server row already exists.
	Mode string `yaml:"mode"`

	// MaxPages caps the page loop per project; 0 means unbounded.
	MaxPages int `yaml:"max_pages"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Connector: "ssh",
		SSH: SSHConfig{
			Port:       29418,
			QueryLimit: 500,
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     "sqlite3",
			SQLitePath: filepath.Join(homeDir, ".reviewsync", "mirror.db"),
		},
		LogLevel: "info",
	}
}

// Load reads configuration from .env files, an optional YAML file, and
// REVIEWSYNC_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("connector", cfg.Connector)
	v.SetDefault("server", cfg.Server)
	v.SetDefault("ssh", cfg.SSH)
	v.SetDefault("http", cfg.HTTP)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("crawl", cfg.Crawl)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix("REVIEWSYNC")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".reviewsync")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".reviewsync"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine; defaults plus environment apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

// applyEnvOverrides maps the flat REVIEWSYNC_* variables onto the nested
// sections; viper's AutomaticEnv only covers top-level keys.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REVIEWSYNC_SERVER_NAME"); v != "" {
		cfg.Server.Name = v
	}
	if v := os.Getenv("REVIEWSYNC_SSH_HOST"); v != "" {
		cfg.SSH.Host = v
	}
	if v := os.Getenv("REVIEWSYNC_SSH_USER"); v != "" {
		cfg.SSH.User = v
	}
	if v := os.Getenv("REVIEWSYNC_SSH_KEY_FILE"); v != "" {
		cfg.SSH.KeyFile = v
	}
	if v := os.Getenv("REVIEWSYNC_HTTP_BASE_URL"); v != "" {
		cfg.HTTP.BaseURL = v
	}
	if v := os.Getenv("REVIEWSYNC_HTTP_USERNAME"); v != "" {
		cfg.HTTP.Username = v
	}
	if v := os.Getenv("REVIEWSYNC_HTTP_PASSWORD"); v != "" {
		cfg.HTTP.Password = v
	}
	if v := os.Getenv("REVIEWSYNC_POSTGRES_DSN"); v != "" {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.PostgresDSN = v
	}
}

// Validate checks that the configuration can drive a crawl.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.Config("server.name is required")
	}
	switch c.Connector {
	case "ssh":
		if c.SSH.Host == "" {
			return errors.Config("ssh.host is required for the ssh connector")
		}
	case "http":
		if c.HTTP.BaseURL == "" {
			return errors.Config("http.base_url is required for the http connector")
		}
	default:
		return errors.Config(fmt.Sprintf("unknown connector %q (want ssh or http)", c.Connector))
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.Config("storage.postgres_dsn is required for the postgres driver")
		}
	case "sqlite3":
		if c.Storage.SQLitePath == "" {
			return errors.Config("storage.sqlite_path is required for the sqlite3 driver")
		}
	default:
		return errors.Config(fmt.Sprintf("unknown storage driver %q (want postgres or sqlite3)", c.Storage.Driver))
	}
	if c.Crawl.Mode != "" && c.Crawl.Mode != "initial" && c.Crawl.Mode != "incremental" {
		return errors.Config(fmt.Sprintf("unknown crawl mode %q (want initial or incremental)", c.Crawl.Mode))
	}
	return nil
}

// DSN returns the driver name and connection string for the storage layer.
func (c *Config) DSN() (driver, dsn string) {
	if c.Storage.Driver == "postgres" {
		return "postgres", c.Storage.PostgresDSN
	}
	return "sqlite3", c.Storage.SQLitePath
}
