// Package config loads the runtime configuration.
//
// Values are layered: built-in defaults (concurrency sized from the CPU
// quota), then an optional YAML file, then TALOS_* environment variables. A
// .env file in the working directory is loaded into the environment first.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/wehubfusion/Talos/pkg/concurrency"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Event drivers.
const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
	DriverRedis  = "redis"
	DriverAMQP   = "amqp"
	DriverNone   = "none"
)

// Config is the complete runtime configuration.
type Config struct {
	Logging     Logging     `yaml:"logging"`
	Concurrency Concurrency `yaml:"concurrency"`
	NATS        NATS        `yaml:"nats"`
	Events      Events      `yaml:"events"`
	Tracing     Tracing     `yaml:"tracing"`
	Sentry      Sentry      `yaml:"sentry"`
	Archive     Archive     `yaml:"archive"`
	Script      Script      `yaml:"script"`
	Manifests   Manifests   `yaml:"manifests"`
	Server      Server      `yaml:"server"`
}

type Logging struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	// Encoding is json or console.
	Encoding string `yaml:"encoding"`
}

type Concurrency struct {
	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	MaxConcurrent    int           `yaml:"max_concurrent"`
	BreakerThreshold int64         `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// NATS is shared by the nats event driver and the run endpoint.
type NATS struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Events struct {
	Driver string `yaml:"driver"`
	// Prefix overrides the subject, channel or exchange prefix of the driver.
	Prefix string `yaml:"prefix"`
	Redis  Redis  `yaml:"redis"`
	AMQP   AMQP   `yaml:"amqp"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AMQP struct {
	URL string `yaml:"url"`
}

type Tracing struct {
	Enabled        bool    `yaml:"enabled"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	Endpoint       string  `yaml:"endpoint"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

type Sentry struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
}

// Archive enables result upload when ConnectionString is set.
type Archive struct {
	ConnectionString string `yaml:"connection_string"`
	Container        string `yaml:"container"`
	Prefix           string `yaml:"prefix"`
}

type Script struct {
	Timeout       time.Duration `yaml:"timeout"`
	SecurityLevel string        `yaml:"security_level"`
	MaxStackDepth int           `yaml:"max_stack_depth"`
}

type Manifests struct {
	Dirs []string `yaml:"dirs"`
}

type Server struct {
	Subject    string `yaml:"subject"`
	Queue      string `yaml:"queue"`
	HealthAddr string `yaml:"health_addr"`
	// RequestTimeout bounds one run requested over NATS.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cc := concurrency.LoadConfig()
	return &Config{
		Logging: Logging{Level: "info", Encoding: "json"},
		Concurrency: Concurrency{
			Workers:          cc.Workers,
			QueueSize:        cc.QueueSize,
			MaxConcurrent:    cc.MaxConcurrent,
			BreakerThreshold: cc.BreakerThreshold,
			BreakerReset:     cc.BreakerReset,
		},
		NATS:   NATS{URL: "nats://127.0.0.1:4222", Name: "talos"},
		Events: Events{Driver: DriverMemory},
		Tracing: Tracing{
			ServiceName:    "talos",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			Endpoint:       "127.0.0.1:4318",
			SampleRatio:    1.0,
		},
		Archive: Archive{Container: "talos-results", Prefix: "executions"},
		Script:  Script{Timeout: 5 * time.Second, SecurityLevel: "standard", MaxStackDepth: 256},
		Server: Server{
			Subject:        "talos.run",
			Queue:          "talos",
			HealthAddr:     ":8081",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Load builds the configuration. path may be empty. envFiles default to
// ".env"; missing env files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Encoding {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.encoding: unsupported %q", c.Logging.Encoding))
	}
	if c.Concurrency.Workers <= 0 {
		errs = append(errs, errors.New("concurrency.workers must be positive"))
	}
	if c.Concurrency.QueueSize <= 0 {
		errs = append(errs, errors.New("concurrency.queue_size must be positive"))
	}
	if c.Concurrency.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("concurrency.max_concurrent must be positive"))
	}
	switch c.Events.Driver {
	case DriverMemory, DriverNone:
	case DriverNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required by the nats event driver"))
		}
	case DriverRedis:
		if c.Events.Redis.Addr == "" {
			errs = append(errs, errors.New("events.redis.addr is required by the redis event driver"))
		}
	case DriverAMQP:
		if c.Events.AMQP.URL == "" {
			errs = append(errs, errors.New("events.amqp.url is required by the amqp event driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.driver: unknown driver %q", c.Events.Driver))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be between 0 and 1"))
	}
	switch c.Script.SecurityLevel {
	case "strict", "standard", "permissive":
	default:
		errs = append(errs, fmt.Errorf("script.security_level: unknown level %q", c.Script.SecurityLevel))
	}
	return errors.Join(errs...)
}
