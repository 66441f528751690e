package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// ConfigSource indicates where the step concurrency limit came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
)

// Environment variables read by LoadConfig.
const (
	EnvMaxConcurrentSteps    = "DAEDALUS_MAX_CONCURRENT_STEPS"
	EnvConcurrencyMultiplier = "DAEDALUS_CONCURRENCY_MULTIPLIER"
	EnvBreakerThreshold      = "DAEDALUS_BREAKER_THRESHOLD"
	EnvBreakerReset          = "DAEDALUS_BREAKER_RESET"
)

// Config bounds how many step functions may run at once across one engine
// and when a scope's step circuit breaker opens.
type Config struct {
	MaxConcurrentSteps int
	BreakerThreshold   int64
	BreakerReset       time.Duration
	Source             ConfigSource
	IsKubernetes       bool
	EffectiveCPUs      int
}

// LoadConfig loads configuration with priority: env vars > auto-detection.
func LoadConfig() *Config {
	config := &Config{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	if n := getEnvInt(EnvMaxConcurrentSteps, 0); n > 0 {
		config.MaxConcurrentSteps = n
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt(EnvConcurrencyMultiplier, 0); multiplier > 0 {
		config.MaxConcurrentSteps = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrentSteps = defaultMaxConcurrentSteps(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}
	if config.MaxConcurrentSteps < 1 {
		config.MaxConcurrentSteps = 1
	}

	config.BreakerThreshold = int64(getEnvInt(EnvBreakerThreshold, 100))
	if config.BreakerThreshold < 1 {
		config.BreakerThreshold = 100
	}

	config.BreakerReset = getEnvDuration(EnvBreakerReset, 30*time.Second)

	return config
}

// NewLimiter builds the step limiter described by the config.
func (c *Config) NewLimiter() *Limiter {
	return NewLimiterWithBreakers(c.MaxConcurrentSteps, func() *CircuitBreaker {
		return NewCircuitBreaker(c.BreakerThreshold, c.BreakerReset)
	})
}

// isKubernetes detects if the process runs in a Kubernetes pod
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// Steps mostly wait on network I/O, so the defaults oversubscribe the CPUs;
// less so inside Kubernetes where pods share a node.
func defaultMaxConcurrentSteps(isK8s bool, cpus int) int {
	if isK8s {
		return cpus * 4
	}
	return cpus * 8
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("45s") or whole seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{MaxConcurrentSteps: %d, BreakerThreshold: %d, BreakerReset: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrentSteps,
		c.BreakerThreshold,
		c.BreakerReset,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
