package cache

import "time"

// RedisConfig holds Redis connection settings. Zero values take the
// defaults of DefaultRedisConfig.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	PingTimeout  time.Duration
	// Prefix namespaces every key, so several deployments can share a database.
	Prefix string
}

type RedisOption func(*RedisConfig)

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		PoolTimeout:  30 * time.Second,
		PingTimeout:  5 * time.Second,
		Prefix:       "epicast",
	}
}

// WithRedisEndpoint sets address, credentials and database number.
func WithRedisEndpoint(addr, password string, db int) RedisOption {
	return func(c *RedisConfig) {
		if addr != "" {
			c.Addr = addr
		}
		c.Password = password
		c.DB = db
	}
}

// WithRedisPool sets pool size and idle connections; zeros keep defaults.
func WithRedisPool(size, minIdle int) RedisOption {
	return func(c *RedisConfig) {
		if size > 0 {
			c.PoolSize = size
		}
		if minIdle > 0 {
			c.MinIdleConns = minIdle
		}
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) {
		if prefix != "" {
			c.Prefix = prefix
		}
	}
}

// MemoryConfig bounds the process-local cache.
type MemoryConfig struct {
	MaxEntries      int
	CleanupInterval time.Duration
}

type MemoryOption func(*MemoryConfig)

// WithMemoryMaxSize caps the entry count; the least recently used entry is
// evicted beyond it.
func WithMemoryMaxSize(n int) MemoryOption {
	return func(c *MemoryConfig) {
		if n > 0 {
			c.MaxEntries = n
		}
	}
}

func WithMemoryCleanup(every time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		if every > 0 {
			c.CleanupInterval = every
		}
	}
}
