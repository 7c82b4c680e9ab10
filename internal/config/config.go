// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Providers ProvidersConfig `yaml:"providers" mapstructure:"providers"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Research  ResearchConfig  `yaml:"research" mapstructure:"research"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ProvidersConfig selects which adapters run.
type ProvidersConfig struct {
	Enabled []string `yaml:"enabled" mapstructure:"enabled"`
}

// RetryConfig configures provider-call retries.
type RetryConfig struct {
	MaxAttempts  int   `yaml:"max_attempts" mapstructure:"max_attempts"`
	ScheduleSecs []int `yaml:"schedule_secs" mapstructure:"schedule_secs"`
}

// ReconcileConfig points at the optional source-policy file.
type ReconcileConfig struct {
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// ResearchConfig configures the generative research adapter. The adapter is
// registered only when an API key is present.
type ResearchConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	Model  string `yaml:"model" mapstructure:"model"`
}

// HTTPConfig configures the outbound provider HTTP client.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BIBCAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "bibcat.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("providers.enabled", []string{"library_of_congress", "google_books", "open_library"})
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.schedule_secs", []int{5, 30, 60})
	v.SetDefault("research.model", "claude-haiku-4-5-20251001")
	v.SetDefault("http.user_agent", "bibcat/1.0")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given mode ("enrich", "serve",
// "export"). Errors are joined so a misconfigured run reports everything at
// once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	switch mode {
	case "enrich":
		if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 32 {
			problems = append(problems, "batch.concurrency must be between 1 and 32")
		}
		if c.Retry.MaxAttempts < 1 {
			problems = append(problems, "retry.max_attempts must be >= 1")
		}
		if len(c.Providers.Enabled) == 0 {
			problems = append(problems, "providers.enabled must list at least one adapter")
		}
		for _, name := range c.Providers.Enabled {
			if name == "generative_research" && c.Research.APIKey == "" {
				problems = append(problems, "research.api_key is required when the generative_research adapter is enabled")
			}
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "export", "status", "purge":
		// Store checks above are enough.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
