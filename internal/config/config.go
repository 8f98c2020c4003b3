package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Log      LogConfig      `mapstructure:"log" validate:"required"`
	Engine   EngineConfig   `mapstructure:"engine" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Status   StatusConfig   `mapstructure:"status"`
	Input    InputConfig    `mapstructure:"input" validate:"required"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// EngineConfig selects the engine backend.
type EngineConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=memory postgres"`
	// DataSources restricts accepted data source codes, empty accepts all
	DataSources []string `mapstructure:"data_sources" validate:"dive,required,uppercase"`
}

// PipelineConfig contains the task pipeline knobs.
type PipelineConfig struct {
	Workers           int           `mapstructure:"workers" validate:"required,gt=0,lte=1024"`
	BacklogMultiplier int           `mapstructure:"backlog_multiplier" validate:"required,gt=0,lte=1000"`
	DrainPause        time.Duration `mapstructure:"drain_pause" validate:"required,gt=0"`
	IdlePause         time.Duration `mapstructure:"idle_pause" validate:"required,gt=0"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout" validate:"required,gt=0"`
	ProgressInterval  int           `mapstructure:"progress_interval" validate:"gte=0"`
	RetryDir          string        `mapstructure:"retry_dir"`
}

// DatabaseConfig contains all database-related configuration settings.
// URL is required when the postgres backend is selected.
type DatabaseConfig struct {
	URL             string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnectAttempts int    `mapstructure:"connect_attempts" validate:"gt=0"`
}

// RedisConfig configures the shared redo queue. An empty Addr keeps the
// redo queue in process.
type RedisConfig struct {
	Addr            string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db" validate:"gte=0"`
	Key             string `mapstructure:"key" validate:"required"`
	ConnectAttempts int    `mapstructure:"connect_attempts" validate:"gt=0"`
}

// StatusConfig configures the status HTTP endpoint. An empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// InputConfig locates the data files used by the snippets.
type InputConfig struct {
	Dir        string `mapstructure:"dir" validate:"required"`
	LoadFile   string `mapstructure:"load_file" validate:"required"`
	SearchFile string `mapstructure:"search_file" validate:"required"`
	DeleteFile string `mapstructure:"delete_file" validate:"required"`

	// TruthSetFiles are loaded in order by the truth set snippets
	TruthSetFiles []string `mapstructure:"truthset_files" validate:"dive,required"`
}
