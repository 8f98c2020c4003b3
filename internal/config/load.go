package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SNIPPETS"

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level": "log.level",
	"engine":    "engine.backend",
	"workers":   "pipeline.workers",
	"retry-dir": "pipeline.retry_dir",
	"status":    "status.addr",
	"input-dir": "input.dir",
}

// setDefaults registers a default for every key so that environment
// variables are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.backend", "memory")
	v.SetDefault("engine.data_sources", []string{})

	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.backlog_multiplier", 10)
	v.SetDefault("pipeline.drain_pause", 100*time.Millisecond)
	v.SetDefault("pipeline.idle_pause", 30*time.Second)
	v.SetDefault("pipeline.poll_timeout", 3*time.Second)
	v.SetDefault("pipeline.progress_interval", 100)
	v.SetDefault("pipeline.retry_dir", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.connect_attempts", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "snippets:redo")
	v.SetDefault("redis.connect_attempts", 5)

	v.SetDefault("status.addr", "")

	v.SetDefault("input.dir", "resources/data")
	v.SetDefault("input.load_file", "load-500.jsonl")
	v.SetDefault("input.search_file", "search-50.jsonl")
	v.SetDefault("input.delete_file", "load-500.jsonl")
	v.SetDefault("input.truthset_files", []string{
		"truthset/customers.jsonl",
		"truthset/reference.jsonl",
		"truthset/watchlist.jsonl",
	})
}

// RegisterFlags adds the command line overrides understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a configuration file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("engine", "", "engine backend (memory, postgres)")
	fs.Int("workers", 0, "number of pipeline workers")
	fs.String("retry-dir", "", "directory for retry files")
	fs.String("status", "", "address of the status endpoint, e.g. localhost:8090")
	fs.String("input-dir", "", "directory holding the snippet data files")
}

// Load configuration from defaults, an optional config file, environment
// variables and flags, in increasing order of precedence.
// Returns a populated Config struct or an error if loading/validation fails.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configFile := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			configFile = f.Value.String()
		}
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("snippets")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.snippets")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the rules spanning several sections.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Engine.Backend == "postgres" && cfg.Database.URL == "" {
		return fmt.Errorf("config validation failed: database.url is required for the postgres engine")
	}
	return nil
}
