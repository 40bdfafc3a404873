package core

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys accepted by Resolve. Each key is also read from the
// environment as IEX_<KEY>, e.g. IEX_TOKEN or IEX_RETRY_COUNT.
const (
	KeyToken            = "token"
	KeyFallbackTokens   = "fallback_tokens"
	KeyTokenRotation    = "token_rotation"
	KeyEnvironment      = "environment"
	KeyAPIVersion       = "api_version"
	KeyBaseURL          = "base_url"
	KeyOutputFormat     = "output_format"
	KeyRetryCount       = "retry_count"
	KeyRetryWait        = "retry_wait"
	KeyRetryWaitMax     = "retry_wait_max"
	KeyTimeout          = "timeout"
	KeyCacheEnabled     = "cache_enabled"
	KeyCacheTTL         = "cache_ttl"
	KeyCachePath        = "cache_path"
	KeyBatchConcurrency = "batch_concurrency"
	KeyRateLimit        = "rate_limit"
	KeyRateLimitPeriod  = "rate_limit_period"
	KeyBatchRateLimit   = "batch_rate_limit"
	KeyRefDataRateLimit = "ref_data_rate_limit"
	KeyCircuitBreaker   = "circuit_breaker"
	KeyLogLevel         = "log_level"

	// KeyConfigFile names an optional YAML, JSON or TOML file. It is only read
	// when passed explicitly.
	KeyConfigFile = "config_file"
)

// EnvPrefix is prepended to every setting key to form its environment variable.
const EnvPrefix = "IEX"

var settingKeys = []string{
	KeyToken, KeyFallbackTokens, KeyTokenRotation, KeyEnvironment, KeyAPIVersion, KeyBaseURL,
	KeyOutputFormat, KeyRetryCount, KeyRetryWait, KeyRetryWaitMax, KeyTimeout,
	KeyCacheEnabled, KeyCacheTTL, KeyCachePath, KeyBatchConcurrency,
	KeyRateLimit, KeyRateLimitPeriod, KeyBatchRateLimit, KeyRefDataRateLimit,
	KeyCircuitBreaker, KeyLogLevel,
}

// Overrides are explicit settings that win over every other source.
type Overrides map[string]any

type settings struct {
	Token            string        `mapstructure:"token"`
	FallbackTokens   []string      `mapstructure:"fallback_tokens"`
	TokenRotation    string        `mapstructure:"token_rotation"`
	Environment      string        `mapstructure:"environment"`
	APIVersion       string        `mapstructure:"api_version"`
	BaseURL          string        `mapstructure:"base_url"`
	OutputFormat     string        `mapstructure:"output_format"`
	RetryCount       int           `mapstructure:"retry_count"`
	RetryWait        time.Duration `mapstructure:"retry_wait"`
	RetryWaitMax     time.Duration `mapstructure:"retry_wait_max"`
	Timeout          time.Duration `mapstructure:"timeout"`
	CacheEnabled     bool          `mapstructure:"cache_enabled"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	CachePath        string        `mapstructure:"cache_path"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	RateLimit        int           `mapstructure:"rate_limit"`
	RateLimitPeriod  time.Duration `mapstructure:"rate_limit_period"`
	BatchRateLimit   int           `mapstructure:"batch_rate_limit"`
	RefDataRateLimit int           `mapstructure:"ref_data_rate_limit"`
	CircuitBreaker   bool          `mapstructure:"circuit_breaker"`
	LogLevel         string        `mapstructure:"log_level"`
}

// Resolve builds a validated Config. Precedence, highest first: explicit
// overrides, IEX_* environment variables, the optional config file, defaults.
//
// The environment is inferred when not set: the api_version alias
// "iexcloud-sandbox" and tokens prefixed Tpk_/Tsk_ select sandbox. A sandbox
// config without a token uses a placeholder token. Every failure is returned
// as a configuration error.
func Resolve(overrides Overrides) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyFallbackTokens, []string{})
	v.SetDefault(KeyTokenRotation, def.TokenRotation)
	v.SetDefault(KeyEnvironment, "")
	v.SetDefault(KeyAPIVersion, def.Version)
	v.SetDefault(KeyBaseURL, "")
	v.SetDefault(KeyOutputFormat, string(def.OutputFormat))
	v.SetDefault(KeyRetryCount, def.RetryCount)
	v.SetDefault(KeyRetryWait, def.RetryWait)
	v.SetDefault(KeyRetryWaitMax, def.RetryWaitMax)
	v.SetDefault(KeyTimeout, def.Timeout)
	v.SetDefault(KeyCacheEnabled, def.CacheEnabled)
	v.SetDefault(KeyCacheTTL, def.CacheTTL)
	v.SetDefault(KeyCachePath, "")
	v.SetDefault(KeyBatchConcurrency, def.BatchConcurrency)
	v.SetDefault(KeyRateLimit, def.RateLimitRequests)
	v.SetDefault(KeyRateLimitPeriod, def.RateLimitPeriod)
	v.SetDefault(KeyBatchRateLimit, def.BatchRateLimit)
	v.SetDefault(KeyRefDataRateLimit, def.RefDataRateLimit)
	v.SetDefault(KeyCircuitBreaker, def.CircuitBreakerEnabled)
	v.SetDefault(KeyLogLevel, def.LogLevel)

	for _, key := range settingKeys {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return nil, NewConfigurationError("bind env "+key, err)
		}
	}

	if path, ok := overrides[KeyConfigFile]; ok {
		file, ok := path.(string)
		if !ok || file == "" {
			return nil, NewConfigurationError("config_file must be a non-empty path", nil)
		}
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewConfigurationError("read config file "+file, err)
		}
	}

	for key, value := range overrides {
		if key == KeyConfigFile {
			continue
		}
		if !slices.Contains(settingKeys, key) {
			return nil, NewConfigurationError(fmt.Sprintf("unknown setting %q", key), nil)
		}
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		v.Set(key, value)
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, NewConfigurationError("decode settings", err)
	}

	return s.toConfig(def)
}

func (s settings) toConfig(cfg *Config) (*Config, error) {
	env, err := ParseEnvironment(s.Environment)
	if err != nil {
		return nil, NewConfigurationError("environment", err)
	}

	version := strings.TrimSpace(s.APIVersion)
	if strings.EqualFold(version, SandboxVersionAlias) {
		if env == EnvProduction {
			return nil, NewConfigurationError("api_version "+SandboxVersionAlias+" conflicts with production environment", nil)
		}
		env = EnvSandbox
		version = DefaultVersion
	}
	if env == "" {
		env = EnvProduction
		if IsSandboxToken(s.Token) {
			env = EnvSandbox
		}
	}

	format, err := ParseOutputFormat(s.OutputFormat)
	if err != nil {
		return nil, NewConfigurationError("output_format", err)
	}

	cfg.Credentials = Credentials{Token: strings.TrimSpace(s.Token), Environment: env}
	cfg.FallbackTokens = s.FallbackTokens
	cfg.TokenRotation = strings.ToLower(strings.TrimSpace(s.TokenRotation))
	cfg.Version = version
	cfg.OutputFormat = format
	cfg.RetryCount = s.RetryCount
	cfg.RetryWait = s.RetryWait
	cfg.RetryWaitMax = s.RetryWaitMax
	cfg.Timeout = s.Timeout
	cfg.CacheEnabled = s.CacheEnabled
	cfg.CacheTTL = s.CacheTTL
	cfg.CachePath = s.CachePath
	cfg.BatchConcurrency = s.BatchConcurrency
	cfg.RateLimitRequests = s.RateLimit
	cfg.RateLimitPeriod = s.RateLimitPeriod
	cfg.BatchRateLimit = s.BatchRateLimit
	cfg.RefDataRateLimit = s.RefDataRateLimit
	cfg.CircuitBreakerEnabled = s.CircuitBreaker
	cfg.LogLevel = strings.ToLower(s.LogLevel)

	cfg.BaseURL = s.BaseURL
	if cfg.BaseURL == "" {
		cfg.BaseURL = ProductionBaseURL
		if env == EnvSandbox {
			cfg.BaseURL = SandboxBaseURL
		}
	}
	if env == EnvSandbox && cfg.Credentials.Token == "" {
		cfg.Credentials.Token = SandboxPlaceholderToken
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
