// Package config loads the server and CLI configuration from defaults, an
// optional YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/systemshift/apigraph/internal/auth"
)

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "APIGRAPH_CONFIG"

// Config is the complete configuration.
type Config struct {
	Port        string `yaml:"port" validate:"required,numeric"`
	TenantURL   string `yaml:"tenant_url" validate:"omitempty,url"`
	ServicesURL string `yaml:"services_url" validate:"omitempty,url"`
	RootPath    string `yaml:"root_path" validate:"required,startswith=/"`
	EnvMode     string `yaml:"env_mode" validate:"required"`
	StaticDir   string `yaml:"static_dir"`

	Fetch FetchConfig `yaml:"fetch"`
	Store StoreConfig `yaml:"store"`
	Log   LogConfig   `yaml:"log"`
}

// FetchConfig tunes the graph fetcher.
type FetchConfig struct {
	Workers           int           `yaml:"workers" validate:"min=1,max=64"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
}

// StoreConfig selects and configures snapshot persistence.
type StoreConfig struct {
	Backend    string      `yaml:"backend" validate:"oneof=sqlite neo4j none"`
	SQLitePath string      `yaml:"sqlite_path"`
	Neo4j      Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig holds Neo4j connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:     "8080",
		RootPath: auth.DefaultRootPath,
		EnvMode:  auth.DefaultMode,
		Fetch: FetchConfig{
			Workers: 1,
			Timeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "apigraph.db",
			Neo4j: Neo4jConfig{
				URI:      "bolt://localhost:7687",
				User:     "neo4j",
				Password: "password",
				Database: "neo4j",
			},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// APIGRAPH_CONFIG if set, then environment variables. The result is
// validated.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.TenantURL = getEnv("TENANT_URL", c.TenantURL)
	c.ServicesURL = getEnv("SERVICES_URL", c.ServicesURL)
	c.RootPath = getEnv("ROOT_PATH", c.RootPath)
	c.EnvMode = getEnv("ENV_MODE", c.EnvMode)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)

	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.Neo4j.URI = getEnv("NEO4J_URI", c.Store.Neo4j.URI)
	c.Store.Neo4j.User = getEnv("NEO4J_USER", c.Store.Neo4j.User)
	c.Store.Neo4j.Password = getEnv("NEO4J_PASSWORD", c.Store.Neo4j.Password)
	c.Store.Neo4j.Database = getEnv("NEO4J_DATABASE", c.Store.Neo4j.Database)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	var err error
	if c.Fetch.Workers, err = getEnvInt("FETCH_WORKERS", c.Fetch.Workers); err != nil {
		return err
	}
	if c.Fetch.RequestsPerSecond, err = getEnvFloat("FETCH_RPS", c.Fetch.RequestsPerSecond); err != nil {
		return err
	}
	if c.Fetch.Timeout, err = getEnvDuration("HTTP_TIMEOUT", c.Fetch.Timeout); err != nil {
		return err
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Store.Backend == "sqlite" && c.Store.SQLitePath == "" {
		return errors.New("invalid config: sqlite backend needs SQLITE_PATH")
	}
	if c.Store.Backend == "neo4j" && c.Store.Neo4j.URI == "" {
		return errors.New("invalid config: neo4j backend needs NEO4J_URI")
	}
	if c.TenantURL != "" && c.ServicesURL == "" {
		if _, _, err := auth.ServicesURL(c.TenantURL); err != nil {
			return fmt.Errorf("invalid config: %w (set SERVICES_URL)", err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
