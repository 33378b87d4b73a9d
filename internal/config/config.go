// Package config defines the ratewall configuration surface and its YAML
// loading, validation, and hot-reload machinery.
package config

import "time"

// Config is the root configuration for the ratewall service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Limiter LimiterConfig `yaml:"limiter"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	// Address is the listen address, e.g. ":8080".
	Address string `yaml:"address"`

	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// RedisConfig holds the shared counter store connection configuration.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix is the key namespace prefix, disambiguating multiple limiter
	// deployments sharing one Redis instance.
	Prefix string `yaml:"prefix"`

	PoolSize     int      `yaml:"poolSize"`
	MinIdleConns int      `yaml:"minIdleConns"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
}

// LimiterConfig holds the quota configuration shared by all origins.
type LimiterConfig struct {
	// Strategy is "fixed_window", "expiry_window", or "sliding_log".
	Strategy string `yaml:"strategy"`

	// MaxRequests is the request budget per window. Must be positive.
	MaxRequests int `yaml:"maxRequests"`

	// Window is the quota window duration. Must be positive.
	Window Duration `yaml:"window"`

	// FailurePolicy decides what the HTTP layer does when the counter store
	// is unreachable: "closed" rejects with 503, "open" lets requests
	// through uncounted. The default is "closed".
	FailurePolicy string `yaml:"failurePolicy"`

	// FallbackEnabled serves decisions from a local in-process limiter
	// while the store is unreachable, instead of applying FailurePolicy.
	FallbackEnabled bool `yaml:"fallbackEnabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Failure policies for LimiterConfig.FailurePolicy.
const (
	FailClosed = "closed"
	FailOpen   = "open"
)

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Redis: RedisConfig{
			Address:      "localhost:6379",
			Prefix:       "ratewall:",
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  Duration(5 * time.Second),
			ReadTimeout:  Duration(3 * time.Second),
			WriteTimeout: Duration(3 * time.Second),
		},
		Limiter: LimiterConfig{
			Strategy:      "expiry_window",
			MaxRequests:   100,
			Window:        Duration(time.Minute),
			FailurePolicy: FailClosed,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
