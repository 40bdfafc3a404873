package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment selects which service deployment the client talks to.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvSandbox    Environment = "sandbox"
)

// Service base URLs.
const (
	ProductionBaseURL = "https://cloud.iexapis.com"
	SandboxBaseURL    = "https://sandbox.iexapis.com"
	DefaultVersion    = "stable"

	// SandboxPlaceholderToken is used in sandbox when no token is configured.
	SandboxPlaceholderToken = "Tsk_sandbox"
	// SandboxVersionAlias selects sandbox through the version setting.
	SandboxVersionAlias = "iexcloud-sandbox"
)

// ParseEnvironment parses an environment name. Empty input yields "".
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "production", "prod", "cloud":
		return EnvProduction, nil
	case "sandbox", "test":
		return EnvSandbox, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// OutputFormat selects how normalized results are returned.
type OutputFormat string

const (
	FormatStructured OutputFormat = "structured"
	FormatTabular    OutputFormat = "tabular"
)

// ParseOutputFormat parses a format name, accepting the json and pandas aliases.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "structured", "json":
		return FormatStructured, nil
	case "tabular", "pandas", "table":
		return FormatTabular, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Token rotation strategies.
const (
	// RotationOnRateLimit keeps one token until the service throttles it.
	RotationOnRateLimit = "on-rate-limit"
	// RotationRoundRobin spreads calls across every token.
	RotationRoundRobin = "round-robin"
)

// IsSandboxToken reports whether token carries a test-token prefix.
func IsSandboxToken(token string) bool {
	return strings.HasPrefix(token, "Tpk_") || strings.HasPrefix(token, "Tsk_")
}

// Credentials holds the API token and the environment it belongs to.
type Credentials struct {
	// Token is the publishable or secret API token. It is never logged.
	Token       string      `json:"-"`
	Environment Environment `json:"environment" validate:"oneof=production sandbox"`
}

// Config contains every option used by the client.
// A Config is resolved once and treated as immutable afterwards.
type Config struct {
	Credentials Credentials `json:"credentials"`
	// FallbackTokens are rotated in after a terminal rate-limit failure.
	FallbackTokens []string `json:"-"`
	TokenRotation  string   `json:"token_rotation" validate:"oneof=on-rate-limit round-robin"`

	BaseURL      string       `json:"base_url" validate:"required,url"`
	Version      string       `json:"version" validate:"required"`
	OutputFormat OutputFormat `json:"output_format" validate:"oneof=structured tabular"`

	// Timeout bounds a single HTTP attempt.
	Timeout      time.Duration `json:"timeout" validate:"min=1ms"`
	RetryCount   int           `json:"retry_count" validate:"min=0,max=20"`
	RetryWait    time.Duration `json:"retry_wait" validate:"min=0"`
	RetryWaitMax time.Duration `json:"retry_wait_max" validate:"min=0"`

	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=1ms"`
	// BatchRateLimit and RefDataRateLimit cap stock/market/batch and ref-data
	// calls per RateLimitPeriod on top of the global limit. Zero leaves only
	// the global limit.
	BatchRateLimit   int `json:"batch_rate_limit" validate:"min=0"`
	RefDataRateLimit int `json:"ref_data_rate_limit" validate:"min=0"`

	CacheEnabled bool          `json:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl" validate:"min=0"`
	// CachePath selects the SQLite cache backend when set.
	CachePath string `json:"cache_path"`

	BatchConcurrency int `json:"batch_concurrency" validate:"min=1,max=64"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=trace debug info warn error disabled"`
}

// DefaultConfig returns a production Config with defaults and no token.
// Default values: 10s timeout, 3 retries, 500ms-8s retry wait, 100 req/s rate limit
// (50 batch, 10 ref-data), 1m cache TTL, batch concurrency 4, circuit breaker with 5 failures/2 successes/30s timeout.
func DefaultConfig() *Config {
	return &Config{
		Credentials:   Credentials{Environment: EnvProduction},
		TokenRotation: RotationOnRateLimit,
		BaseURL:       ProductionBaseURL,
		Version:       DefaultVersion,
		OutputFormat:  FormatStructured,
		Timeout:       10 * time.Second,
		RetryCount:    3,
		RetryWait:     500 * time.Millisecond,
		RetryWaitMax:  8 * time.Second,

		RateLimitRequests: 100,
		RateLimitPeriod:   time.Second,
		BatchRateLimit:    50,
		RefDataRateLimit:  10,

		CacheEnabled: true,
		CacheTTL:     time.Minute,

		BatchConcurrency: 4,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		LogLevel: "info",
	}
}

var validate = validator.New()

// Validate checks the config and returns a configuration error on failure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewConfigurationError("invalid config", err)
	}
	if c.Credentials.Environment == EnvProduction && c.Credentials.Token == "" {
		return NewConfigurationError("token is required in production", ErrNoToken).WithCode(ErrCodeMissingToken)
	}
	if c.RetryWaitMax > 0 && c.RetryWaitMax < c.RetryWait {
		return NewConfigurationError("RetryWaitMax must not be below RetryWait", nil)
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return NewConfigurationError("CircuitBreakerFailThreshold must be positive when enabled", nil)
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return NewConfigurationError("CircuitBreakerSuccessThreshold must be positive when enabled", nil)
		}
		if c.CircuitBreakerTimeout <= 0 {
			return NewConfigurationError("CircuitBreakerTimeout must be positive when enabled", nil)
		}
	}
	return nil
}

// IsSandbox reports whether the config targets the sandbox deployment.
func (c *Config) IsSandbox() bool {
	return c.Credentials.Environment == EnvSandbox
}

// URL returns the versioned service root, e.g. https://cloud.iexapis.com/stable.
func (c *Config) URL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.Version, "/")
}

// Tokens returns the primary token followed by the fallback tokens.
func (c *Config) Tokens() []string {
	out := make([]string, 0, 1+len(c.FallbackTokens))
	if c.Credentials.Token != "" {
		out = append(out, c.Credentials.Token)
	}
	for _, t := range c.FallbackTokens {
		if t != "" && t != c.Credentials.Token {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a copy that can be modified without affecting c.
func (c *Config) Clone() *Config {
	out := *c
	out.FallbackTokens = append([]string(nil), c.FallbackTokens...)
	return &out
}

// WithToken sets the API token and returns the config for chaining.
func (c *Config) WithToken(token string) *Config {
	c.Credentials.Token = token
	return c
}

// WithSandbox switches the environment and base URL and returns the config for chaining.
func (c *Config) WithSandbox(sandbox bool) *Config {
	if sandbox {
		c.Credentials.Environment = EnvSandbox
		c.BaseURL = SandboxBaseURL
		if c.Credentials.Token == "" {
			c.Credentials.Token = SandboxPlaceholderToken
		}
		return c
	}
	c.Credentials.Environment = EnvProduction
	c.BaseURL = ProductionBaseURL
	return c
}

// WithBaseURL overrides the service base URL and returns the config for chaining.
func (c *Config) WithBaseURL(baseURL string) *Config {
	c.BaseURL = baseURL
	return c
}

// WithTimeout sets the per-attempt timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRetry sets the retry budget and base backoff and returns the config for chaining.
func (c *Config) WithRetry(count int, wait time.Duration) *Config {
	c.RetryCount = count
	c.RetryWait = wait
	if c.RetryWaitMax < wait {
		c.RetryWaitMax = wait
	}
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithCache enables or disables caching with the specified TTL and returns the config for chaining.
func (c *Config) WithCache(enabled bool, ttl time.Duration) *Config {
	c.CacheEnabled = enabled
	c.CacheTTL = ttl
	return c
}

// WithOutputFormat sets the default output format and returns the config for chaining.
func (c *Config) WithOutputFormat(format OutputFormat) *Config {
	c.OutputFormat = format
	return c
}

// WithBatchConcurrency sets the batch worker pool size and returns the config for chaining.
func (c *Config) WithBatchConcurrency(n int) *Config {
	c.BatchConcurrency = n
	return c
}
