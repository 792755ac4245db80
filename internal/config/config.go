// Package config loads the knock-server configuration from a YAML file,
// KNOCK_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. KNOCK_SERVER_HTTP_ADDR.
const EnvPrefix = "KNOCK"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all configuration for the coordinator, the agent fleet and the CLI.
// The mapstructure tags are used by Viper, the yaml tags by Dump.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Dispatch DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr" validate:"required"`
	GRPCAddr string `mapstructure:"grpc_addr" yaml:"grpc_addr"` // empty disables gRPC
}

type DispatchConfig struct {
	LivenessThreshold time.Duration `mapstructure:"liveness_threshold" yaml:"liveness_threshold" validate:"gt=0"`
	EventLogSize      int           `mapstructure:"event_log_size" yaml:"event_log_size" validate:"gt=0"`
	HistoryTTL        time.Duration `mapstructure:"history_ttl" yaml:"history_ttl" validate:"gte=0"`
	SweepSchedule     string        `mapstructure:"sweep_schedule" yaml:"sweep_schedule" validate:"required,cron"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

type AgentConfig struct {
	Server        string        `mapstructure:"server" yaml:"server" validate:"required"`
	GRPCServer    string        `mapstructure:"grpc_server" yaml:"grpc_server" validate:"required,hostname_port"`
	Transport     string        `mapstructure:"transport" yaml:"transport" validate:"oneof=http grpc"`
	Devices       int           `mapstructure:"devices" yaml:"devices" validate:"gte=1"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	KnockDuration time.Duration `mapstructure:"knock_duration" yaml:"knock_duration" validate:"gte=0"`
}

// SlogLevel maps the configured level name to a slog.Level; unknown names fall back to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ServerFor returns the coordinator address for transport: a host:port
// target for grpc, the HTTP base URL otherwise.
func (c AgentConfig) ServerFor(transport string) string {
	if transport == "grpc" {
		return c.GRPCServer
	}
	return c.Server
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":5000")
	v.SetDefault("server.grpc_addr", ":9090")

	v.SetDefault("dispatch.liveness_threshold", "10s")
	v.SetDefault("dispatch.event_log_size", 50)
	v.SetDefault("dispatch.history_ttl", "24h")
	v.SetDefault("dispatch.sweep_schedule", "@every 1m")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":2112")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "knock-server")

	v.SetDefault("log.level", "info")

	v.SetDefault("agent.server", "http://localhost:5000")
	v.SetDefault("agent.grpc_server", "localhost:9090")
	v.SetDefault("agent.transport", "http")
	v.SetDefault("agent.devices", 3)
	v.SetDefault("agent.poll_interval", "2s")
	v.SetDefault("agent.knock_duration", "1s")
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Loader owns one viper instance so the file can be watched after loading.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	fromFile bool

	mu      sync.Mutex
	current *Config
}

// NewLoader prepares a loader for path. An empty path searches ./configs and . for default.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("default")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, validate: mustNewValidator()}
}

// Load is a shortcut for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads the file (a missing file falls back to defaults), applies env
// overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		l.fromFile = true
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := l.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// File reports the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	if !l.fromFile {
		return ""
	}
	return l.v.ConfigFileUsed()
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch calls onChange with each valid reloaded configuration. Invalid edits
// are logged and the previous configuration stays current. Returns false when
// there is no file to watch.
func (l *Loader) Watch(logger *slog.Logger, onChange func(*Config)) bool {
	if !l.fromFile {
		return false
	}
	if logger == nil {
		logger = slog.Default()
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			logger.Warn("Ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()

		logger.Info("Config reloaded", "file", e.Name, "op", e.Op.String())
		onChange(cfg)
	})
	l.v.WatchConfig()
	return true
}

// Dump renders cfg as YAML.
func Dump(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// schedules use the same six-field parser as the retention sweeper
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// registerScheduleRule adds a validation tag accepting cron schedules.
func registerScheduleRule(validate *validator.Validate, tag string) error {
	if err := validate.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		_, err := scheduleParser.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		return fmt.Errorf("register %q validation: %w", tag, err)
	}
	return nil
}

// mustNewValidator panics if the custom rules cannot be registered.
func mustNewValidator() *validator.Validate {
	validate := validator.New()
	if err := registerScheduleRule(validate, "cron"); err != nil {
		panic(err)
	}
	return validate
}
