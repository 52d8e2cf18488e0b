package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Config is the engine configuration. It is usually read from a yaml file
// with ReadInConfig but can also be built directly.
type Config struct {
	// Application name used in log messages
	AppName string `mapstructure:"app_name"`

	// When enabled runs with production defaults (JSON logs)
	Production bool

	// Logging level must be one of debug, error, warn, info
	LogLevel string `mapstructure:"log_level"`

	// Logging format: "auto" (console in dev, JSON in production),
	// "json" or "simple"
	LogFormat string `mapstructure:"log_format"`

	// Ordered list of named backend connections
	Connections []ConnConfig `mapstructure:"connections"`

	// Name of the default connection; must appear in Connections
	DefaultConnection string `mapstructure:"default_connection"`

	// When disabled, Transaction runs its function without isolation
	EnableTransactions bool `mapstructure:"enable_transactions"`

	// Stamp createdAt/updatedAt on writes
	AutoTimestamps bool `mapstructure:"auto_timestamps"`

	// Migration runner settings
	Migrations MigrationsConfig `mapstructure:"migrations"`

	// Seed data settings
	Seed SeedConfig `mapstructure:"seed"`

	configPath string
	viper      *viper.Viper
}

// ConnConfig identifies one backend connection.
type ConnConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`

	// Extra driver options appended to the connection URI
	Options map[string]string `mapstructure:"options"`

	// Ping timeout used while establishing the connection
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// MigrationsConfig configures the migration runner.
type MigrationsConfig struct {
	Enable bool `mapstructure:"enable"`

	// Directory holding migration unit files
	Path string `mapstructure:"path"`

	// Collection the applied-migration records are persisted in
	Collection string `mapstructure:"collection"`

	// Suppress progress reporting; errors still propagate
	Silent bool `mapstructure:"silent"`
}

// SeedConfig configures database seeding.
type SeedConfig struct {
	Enable bool   `mapstructure:"enable"`
	File   string `mapstructure:"file"`
}

// ReadInConfig reads the config file for the environment specified in the
// GO_ENV environment variable.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but takes a filesystem.
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	c := &Config{viper: vi, configPath: cp}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewConfig creates a configuration from the provided config string.
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	vi := newViperWithDefaults()
	vi.SetConfigType(format)

	if err := vi.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}

	c := &Config{viper: vi}
	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the invariants that are fatal at startup.
func (c *Config) Validate() error {
	if len(c.Connections) == 0 {
		return fmt.Errorf("config: at least one connection is required")
	}

	seen := make(map[string]bool, len(c.Connections))
	for _, cc := range c.Connections {
		if cc.Name == "" {
			return fmt.Errorf("config: connection entries require a name")
		}
		if cc.URL == "" {
			return fmt.Errorf("config: connection %q requires a url", cc.Name)
		}
		if seen[cc.Name] {
			return fmt.Errorf("config: duplicate connection name %q", cc.Name)
		}
		seen[cc.Name] = true
	}

	if c.DefaultConnection == "" {
		c.DefaultConnection = c.Connections[0].Name
	}
	if !seen[c.DefaultConnection] {
		return fmt.Errorf("config: default connection %q is not in the connection list",
			c.DefaultConnection)
	}
	return nil
}

// AbsolutePath returns the absolute path of a file relative to the config
// directory.
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configPath, p)
}

// ShouldUseJSONLogs returns true if logs should be in JSON format.
func (c *Config) ShouldUseJSONLogs() bool {
	if c.LogFormat == "json" {
		return true
	}
	return c.LogFormat == "auto" && c.Production
}

func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("app_name", "docrel")
	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")
	vi.SetDefault("enable_transactions", false)
	vi.SetDefault("auto_timestamps", true)
	vi.SetDefault("migrations.enable", true)
	vi.SetDefault("migrations.path", "./migrations")
	vi.SetDefault("migrations.collection", "_migrations")
	vi.SetDefault("migrations.silent", false)
	vi.SetDefault("seed.enable", false)
	vi.SetDefault("seed.file", "seed.yml")

	vi.SetDefault("env", "development")
	vi.BindEnv("env", "GO_ENV") //nolint:errcheck

	vi.SetEnvPrefix("DOCREL")
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()

	return vi
}

func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}
	return vi
}

// GetConfigName returns the config name for the current GO_ENV.
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"
	case "staging", "stage":
		return "stage"
	case "testing", "test":
		return "test"
	case "development", "dev", "":
		return "dev"
	default:
		return goEnv
	}
}
