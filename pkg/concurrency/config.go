package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ConfigSource indicates where MaxConcurrent came from.
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Config holds the execution concurrency settings.
type Config struct {
	// MaxConcurrent bounds module bodies running at the same time.
	MaxConcurrent int
	// Workers is the size of the task pool.
	Workers int
	// QueueSize is the capacity of the pending task queue.
	QueueSize int
	// BreakerThreshold is the number of consecutive failures that open the
	// circuit breaker. Zero disables it.
	BreakerThreshold int64
	// BreakerReset is the cool-down before a half-open probe.
	BreakerReset time.Duration

	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig derives a configuration from the environment, falling back to
// values sized from the effective CPU count.
//
//	TALOS_MAX_CONCURRENT            absolute limit
//	TALOS_CONCURRENCY_MULTIPLIER    limit = CPUs * multiplier
//	TALOS_WORKERS                   pool size
//	TALOS_QUEUE_SIZE                pending queue capacity
//	TALOS_BREAKER_THRESHOLD         consecutive failures before opening
//	TALOS_BREAKER_RESET             cool-down, e.g. "30s"
func LoadConfig() *Config {
	cfg := &Config{
		IsKubernetes:  os.Getenv("KUBERNETES_SERVICE_HOST") != "",
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	switch {
	case envInt("TALOS_MAX_CONCURRENT") > 0:
		cfg.MaxConcurrent = envInt("TALOS_MAX_CONCURRENT")
		cfg.Source = ConfigSourceEnvVar
	case envInt("TALOS_CONCURRENCY_MULTIPLIER") > 0:
		cfg.MaxConcurrent = cfg.EffectiveCPUs * envInt("TALOS_CONCURRENCY_MULTIPLIER")
		cfg.Source = ConfigSourceEnvVar
	default:
		cfg.MaxConcurrent = defaultMaxConcurrent(cfg.IsKubernetes, cfg.EffectiveCPUs)
		cfg.Source = ConfigSourceAutoDetect
	}

	cfg.Workers = envInt("TALOS_WORKERS")
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers(cfg.IsKubernetes, cfg.EffectiveCPUs)
	}
	cfg.QueueSize = envInt("TALOS_QUEUE_SIZE")
	cfg.BreakerThreshold = int64(envInt("TALOS_BREAKER_THRESHOLD"))
	if d, err := time.ParseDuration(os.Getenv("TALOS_BREAKER_RESET")); err == nil {
		cfg.BreakerReset = d
	}

	cfg.Normalize()
	return cfg
}

// Normalize replaces out of range values with defaults.
func (c *Config) Normalize() {
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.BreakerThreshold < 0 {
		c.BreakerThreshold = 0
	}
	if c.BreakerReset <= 0 {
		c.BreakerReset = 30 * time.Second
	}
}

// Kubernetes gets conservative limits, bare metal more aggressive ones.
func defaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 2
	}
	return cpus * 4
}

func defaultWorkers(isK8s bool, cpus int) int {
	if isK8s {
		return max(cpus, 4)
	}
	return max(cpus*2, 8)
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, Workers: %d, QueueSize: %d, Breaker: %d/%s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent, c.Workers, c.QueueSize, c.BreakerThreshold, c.BreakerReset,
		c.IsKubernetes, c.EffectiveCPUs, c.Source,
	)
}
