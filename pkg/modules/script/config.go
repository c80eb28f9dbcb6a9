package script

import (
	"fmt"
	"time"
)

// Security levels for script execution.
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config controls how a script body is executed.
type Config struct {
	// Timeout bounds a single run of the script.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	// SecurityLevel is one of strict, standard or permissive.
	SecurityLevel string `yaml:"security_level" json:"security_level,omitempty"`

	// MaxStackDepth is the maximum call stack depth of the runtime.
	MaxStackDepth int `yaml:"max_stack_depth" json:"max_stack_depth,omitempty"`
}

// DefaultConfig returns the defaults used for scripts without configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		SecurityLevel: SecurityLevelStandard,
		MaxStackDepth: 256,
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = def.SecurityLevel
	}
	if c.MaxStackDepth <= 0 {
		c.MaxStackDepth = def.MaxStackDepth
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.SecurityLevel {
	case SecurityLevelStrict, SecurityLevelStandard, SecurityLevelPermissive:
	default:
		return fmt.Errorf("invalid security level: %q", c.SecurityLevel)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}
