package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ghxstship/orangeseadragon-sub009/internal/scheduler"
	"github.com/ghxstship/orangeseadragon-sub009/internal/store"
)

// envPrefix namespaces environment overrides, e.g. FLOWD_DB_URL.
const envPrefix = "FLOWD"

// Config holds all flowd configuration.
// Priority: env vars > config file > defaults.
type Config struct {
	DB struct {
		Driver string `mapstructure:"driver"`
		URL    string `mapstructure:"url"`
	} `mapstructure:"db"`
	HTTP struct {
		Addr            string        `mapstructure:"addr"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`
	Log struct {
		Level   string `mapstructure:"level"`
		Format  string `mapstructure:"format"`
		NoColor bool   `mapstructure:"no_color"`
	} `mapstructure:"log"`
	Engine struct {
		StepTimeout      time.Duration `mapstructure:"step_timeout"`
		FailureThreshold int           `mapstructure:"failure_threshold"`
		Cooldown         time.Duration `mapstructure:"cooldown"`
	} `mapstructure:"engine"`
	Scheduler struct {
		Enabled  bool                    `mapstructure:"enabled"`
		Interval time.Duration           `mapstructure:"interval"`
		Workers  int                     `mapstructure:"workers"`
		Triggers []scheduler.CronTrigger `mapstructure:"triggers"`
	} `mapstructure:"scheduler"`
	Actions struct {
		HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
		HTTPResponseLimit int64         `mapstructure:"http_response_limit"`
	} `mapstructure:"actions"`
	MCP struct {
		Enabled  bool   `mapstructure:"enabled"`
		BasePath string `mapstructure:"base_path"`
	} `mapstructure:"mcp"`
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowd"
	}
	return filepath.Join(home, ".flowd")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", store.DriverLibSQL)
	v.SetDefault("db.url", "file:"+filepath.Join(dataDir(), "flowd.db"))
	v.SetDefault("http.addr", ":4100")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.no_color", false)
	v.SetDefault("engine.step_timeout", 30*time.Second)
	v.SetDefault("engine.failure_threshold", 0)
	v.SetDefault("engine.cooldown", 30*time.Second)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", 30*time.Second)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("actions.http_timeout", 30*time.Second)
	v.SetDefault("actions.http_response_limit", 10<<20)
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.base_path", "/mcp")
}

// loadConfig layers defaults, the config file and FLOWD_* variables. An
// explicit path must exist; otherwise flowd.yaml is looked up in the working
// directory and the data directory, and its absence is not an error.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("flowd")
		v.AddConfigPath(".")
		v.AddConfigPath(dataDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case store.DriverLibSQL, store.DriverPostgres:
	default:
		return fmt.Errorf("db.driver must be %q or %q, got %q", store.DriverLibSQL, store.DriverPostgres, c.DB.Driver)
	}
	if c.DB.URL == "" {
		return errors.New("db.url is required")
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers)
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.BasePath, "/") {
		return fmt.Errorf("mcp.base_path must start with /, got %q", c.MCP.BasePath)
	}
	return nil
}

// ensureDataDir creates the parent directory of a local libSQL file.
func (c *Config) ensureDataDir() error {
	if c.DB.Driver != store.DriverLibSQL {
		return nil
	}
	file, ok := strings.CutPrefix(c.DB.URL, "file:")
	if !ok {
		return nil
	}
	return os.MkdirAll(filepath.Dir(file), 0o755)
}
