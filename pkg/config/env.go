package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func (c *Config) applyEnv() error {
	var err error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			n, perr := strconv.Atoi(strings.TrimSpace(v))
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			b, perr := strconv.ParseBool(strings.TrimSpace(v))
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && err == nil {
			d, perr := time.ParseDuration(strings.TrimSpace(v))
			if perr != nil {
				err = fmt.Errorf("%s: %w", key, perr)
				return
			}
			*dst = d
		}
	}

	setString("TALOS_LOG_LEVEL", &c.Logging.Level)
	setString("TALOS_LOG_ENCODING", &c.Logging.Encoding)
	setBool("TALOS_LOG_DEVELOPMENT", &c.Logging.Development)

	setInt("TALOS_WORKERS", &c.Concurrency.Workers)
	setInt("TALOS_QUEUE_SIZE", &c.Concurrency.QueueSize)
	setInt("TALOS_MAX_CONCURRENT", &c.Concurrency.MaxConcurrent)
	if v, ok := os.LookupEnv("TALOS_BREAKER_THRESHOLD"); ok && err == nil {
		n, perr := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if perr != nil {
			err = fmt.Errorf("TALOS_BREAKER_THRESHOLD: %w", perr)
		} else {
			c.Concurrency.BreakerThreshold = n
		}
	}
	setDuration("TALOS_BREAKER_RESET", &c.Concurrency.BreakerReset)

	setString("TALOS_NATS_URL", &c.NATS.URL)
	setString("TALOS_NATS_TOKEN", &c.NATS.Token)
	setString("TALOS_NATS_USERNAME", &c.NATS.Username)
	setString("TALOS_NATS_PASSWORD", &c.NATS.Password)

	setString("TALOS_EVENTS_DRIVER", &c.Events.Driver)
	setString("TALOS_EVENTS_PREFIX", &c.Events.Prefix)
	setString("TALOS_REDIS_ADDR", &c.Events.Redis.Addr)
	setString("TALOS_REDIS_PASSWORD", &c.Events.Redis.Password)
	setInt("TALOS_REDIS_DB", &c.Events.Redis.DB)
	setString("TALOS_AMQP_URL", &c.Events.AMQP.URL)

	setBool("TALOS_TRACING_ENABLED", &c.Tracing.Enabled)
	setString("TALOS_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	setString("TALOS_ENVIRONMENT", &c.Tracing.Environment)

	setString("TALOS_SENTRY_DSN", &c.Sentry.DSN)
	setString("TALOS_SENTRY_ENVIRONMENT", &c.Sentry.Environment)
	setString("TALOS_SENTRY_RELEASE", &c.Sentry.Release)

	setString("TALOS_ARCHIVE_CONNECTION_STRING", &c.Archive.ConnectionString)
	setString("TALOS_ARCHIVE_CONTAINER", &c.Archive.Container)
	setString("TALOS_ARCHIVE_PREFIX", &c.Archive.Prefix)

	setDuration("TALOS_SCRIPT_TIMEOUT", &c.Script.Timeout)
	setString("TALOS_SCRIPT_SECURITY_LEVEL", &c.Script.SecurityLevel)

	if v, ok := os.LookupEnv("TALOS_MANIFEST_DIRS"); ok {
		c.Manifests.Dirs = filepath.SplitList(v)
	}

	setString("TALOS_SERVER_SUBJECT", &c.Server.Subject)
	setString("TALOS_SERVER_QUEUE", &c.Server.Queue)
	setString("TALOS_HEALTH_ADDR", &c.Server.HealthAddr)
	setDuration("TALOS_REQUEST_TIMEOUT", &c.Server.RequestTimeout)

	return err
}
