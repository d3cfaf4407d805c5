package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/conix/hybridlauncher/worker"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable that overrides the config file.
const EnvPrefix = "HYBRID_LAUNCHER_"

type Config struct {
	Log    LogConfig    `yaml:"log" envPrefix:"LOG_"`
	Broker BrokerConfig `yaml:"broker" envPrefix:"BROKER_"`
	Topics TopicsConfig `yaml:"topics" envPrefix:"TOPICS_"`
	Worker WorkerConfig `yaml:"worker" envPrefix:"WORKER_"`
	Admin  AdminConfig  `yaml:"admin" envPrefix:"ADMIN_"`

	// Strict panics on internal bookkeeping errors instead of logging them.
	Strict bool `yaml:"strict" env:"STRICT"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LEVEL"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

type BrokerConfig struct {
	URL            string        `yaml:"url" env:"URL"`
	ClientID       string        `yaml:"client_id" env:"CLIENT_ID"`
	Username       string        `yaml:"username" env:"USERNAME"`
	Password       string        `yaml:"password" env:"PASSWORD"`
	QoS            int           `yaml:"qos" env:"QOS"`
	RetainPairing  bool          `yaml:"retain_pairing" env:"RETAIN_PAIRING"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

type TopicsConfig struct {
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

type WorkerConfig struct {
	Path string   `yaml:"path" env:"PATH"`
	Args []string `yaml:"args" env:"ARGS" envSeparator:","`
	Dir  string   `yaml:"dir" env:"DIR"`
	Env  []string `yaml:"env" env:"ENV" envSeparator:","`

	// Detached is set when the command returns as soon as the worker has been handed off.
	Detached bool `yaml:"detached" env:"DETACHED"`

	// Prewarm is how many workers to start before any client connects.
	Prewarm int `yaml:"prewarm" env:"PREWARM"`
}

func (w WorkerConfig) Command() worker.Command {
	return worker.Command{Path: w.Path, Args: w.Args, Dir: w.Dir, Env: w.Env, Detached: w.Detached}
}

type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	// LogLevel raises the admin server's log level above the global one. Empty keeps the global level.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Default returns the configuration used when neither a file nor the environment says otherwise.
func Default() *Config {
	cmd := worker.DefaultCommand(runtime.GOOS)
	return &Config{
		Log: LogConfig{Level: "info"},
		Broker: BrokerConfig{
			URL:            "tcp://localhost:1883",
			ClientID:       "hybrid-launcher",
			QoS:            1,
			RetainPairing:  true,
			ConnectTimeout: 10 * time.Second,
		},
		Topics: TopicsConfig{Prefix: "realm/g/a/hybrid_rendering"},
		Worker: WorkerConfig{
			Path: cmd.Path,
			Args: cmd.Args,
		},
		Admin: AdminConfig{ListenAddr: "127.0.0.1:8080"},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Broker.URL == "" {
		errs = append(errs, errors.New("broker url is required"))
	}
	if c.Broker.ClientID == "" {
		errs = append(errs, errors.New("broker client_id is required"))
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errs = append(errs, fmt.Errorf("broker qos must be 0, 1 or 2, got %d", c.Broker.QoS))
	}
	if c.Topics.Prefix == "" {
		errs = append(errs, errors.New("topics prefix is required"))
	}
	if c.Worker.Path == "" {
		errs = append(errs, errors.New("worker path is required"))
	}
	if c.Admin.LogLevel != "" {
		if _, err := zapcore.ParseLevel(c.Admin.LogLevel); err != nil {
			errs = append(errs, fmt.Errorf("admin log_level: %w", err))
		}
	}
	if c.Worker.Prewarm < 0 {
		errs = append(errs, fmt.Errorf("worker prewarm must not be negative, got %d", c.Worker.Prewarm))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
