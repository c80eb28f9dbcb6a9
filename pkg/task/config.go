package task

// PoolConfig configures a worker Pool.
type PoolConfig struct {
	// Workers is the number of worker goroutines.
	// Default: 8
	Workers int

	// QueueSize is the capacity of the pending job queue. Submit rejects
	// work with ErrPoolFull while the queue is full.
	// Default: 1024
	QueueSize int

	// UseLimiter makes workers hold a limiter slot while running a job.
	// Default: true
	UseLimiter bool
}

// DefaultPoolConfig returns sensible defaults for the pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:    8,
		QueueSize:  1024,
		UseLimiter: true,
	}
}

// Validate applies defaults to out of range values.
func (c *PoolConfig) Validate() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// WithWorkers sets the number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.Workers = n
	return c
}

// WithQueueSize sets the queue capacity.
func (c PoolConfig) WithQueueSize(n int) PoolConfig {
	c.QueueSize = n
	return c
}

// WithLimiter sets whether to use the limiter.
func (c PoolConfig) WithLimiter(use bool) PoolConfig {
	c.UseLimiter = use
	return c
}
