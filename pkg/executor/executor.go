// Package executor turns a descriptor and its parameters into one logical
// call against the service.
//
// A call reads the cache and joins any identical call already in flight. The
// transport reserves rate limit weight and retries transient failures up to
// RetryCount times; the executor classifies the final status into the core
// error taxonomy. Successful payloads are written back to the cache.
//
// A flight runs detached from the caller that started it, so one caller's
// deadline never fails the others joined to it. Each waiter stops waiting at
// its own deadline; the flight itself is bounded by Timeout per attempt.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"iexcloud/internal/circuitbreaker"
	ihttp "iexcloud/internal/http"
	"iexcloud/internal/keyring"
	"iexcloud/internal/ratelimit"
	"iexcloud/pkg/cache"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
	"iexcloud/pkg/normalize"
)

// Executor is safe for concurrent use.
type Executor struct {
	config    *core.Config
	transport *ihttp.Client
	store     cache.Store
	limiter   *ratelimit.RateLimiter
	breaker   *circuitbreaker.Breaker
	keys      *keyring.KeyRing
	group     singleflight.Group
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithStore replaces the cache backend chosen from the config.
func WithStore(store cache.Store) Option {
	return func(e *Executor) { e.store = store }
}

// WithLimiter shares a rate limiter between executors.
func WithLimiter(limiter *ratelimit.RateLimiter) Option {
	return func(e *Executor) { e.limiter = limiter }
}

// New builds an executor from a validated config. The cache backend is
// SQLite when CachePath is set and in-memory otherwise.
func New(config *core.Config, opts ...Option) (*Executor, error) {
	if config == nil {
		return nil, core.NewConfigurationError("config is required", nil)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Executor{
		config: config,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.limiter == nil {
		e.limiter = ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod)
		if config.BatchRateLimit > 0 {
			e.limiter.SetBucketLimit(endpoint.BucketBatch, config.BatchRateLimit, config.RateLimitPeriod)
		}
		if config.RefDataRateLimit > 0 {
			e.limiter.SetBucketLimit(endpoint.BucketRefData, config.RefDataRateLimit, config.RateLimitPeriod)
		}
	}

	transport, err := ihttp.NewClient(&ihttp.Config{
		BaseURL:      config.URL(),
		Timeout:      config.Timeout,
		RetryCount:   config.RetryCount,
		RetryWait:    config.RetryWait,
		RetryWaitMax: config.RetryWaitMax,
		Limiter:      e.limiter,
		OnRetry:      e.onRetry,
		Logger:       e.logger,
	})
	if err != nil {
		return nil, core.NewConfigurationError("http transport", err)
	}
	e.transport = transport

	if config.CircuitBreakerEnabled {
		e.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.CircuitBreakerFailThreshold,
			SuccessThreshold: config.CircuitBreakerSuccessThreshold,
			Timeout:          config.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				e.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		})
	}

	strategy := keyring.RotationOnRateLimit
	if config.TokenRotation == core.RotationRoundRobin {
		strategy = keyring.RotationRoundRobin
	}
	e.keys = keyring.New(config.Tokens(), strategy, time.Minute, e.logger)

	if e.store == nil && config.CacheEnabled {
		if config.CachePath != "" {
			store, err := cache.OpenSQLite(config.CachePath)
			if err != nil {
				_ = transport.Close()
				return nil, core.NewConfigurationError("open cache", err)
			}
			e.store = store
		} else {
			e.store = cache.NewMemoryStore()
		}
	}

	return e, nil
}

// Config returns the configuration the executor was built with.
func (e *Executor) Config() *core.Config {
	return e.config
}

// Store returns the cache backend, or nil when caching is disabled.
func (e *Executor) Store() cache.Store {
	return e.store
}

// Breaker returns the circuit breaker, or nil when it is disabled.
func (e *Executor) Breaker() *circuitbreaker.Breaker {
	return e.breaker
}

// Limiter returns the rate limiter shared by every call.
func (e *Executor) Limiter() *ratelimit.RateLimiter {
	return e.limiter
}

// Close releases the transport and the cache backend. Later calls fail with
// core.ErrClientClosed.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if err := e.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// call is the per-invocation state of one Execute.
type call struct {
	id       string
	desc     *endpoint.Descriptor
	params   core.Params
	path     string
	query    map[string]string
	body     map[string]any
	key      string
	policy   cache.Policy
	ttl      time.Duration
	weight   int
	log      zerolog.Logger
	attempts int
}

// Execute performs one logical call. The returned response is either a 2xx
// payload or, for descriptors with the empty-result policy, an empty marker.
func (e *Executor) Execute(ctx context.Context, desc *endpoint.Descriptor, params core.Params, policy cache.Policy) (*core.Response, error) {
	if e.isClosed() {
		return nil, core.NewError(desc.ID, core.ErrorTypeConfiguration, 0, "client is closed").
			WithCode(core.ErrCodeClientClosed).WithCause(core.ErrClientClosed)
	}

	validated, err := desc.Validate(params)
	if err != nil {
		return nil, err
	}
	path, query, err := desc.Render(validated)
	if err != nil {
		return nil, err
	}
	key, err := cache.Key(desc.ID, validated)
	if err != nil {
		return nil, core.NewError(desc.ID, core.ErrorTypeUnknown, 0, "cache key").WithCause(err)
	}

	c := &call{
		id:     uuid.NewString(),
		desc:   desc,
		params: validated,
		path:   path,
		query:  query,
		body:   desc.Body(validated),
		key:    key,
		policy: policy,
		ttl:    e.ttlFor(desc),
		weight: weightOf(desc, validated),
	}
	c.log = e.logger.With().Str("request_id", c.id).Str("endpoint", desc.ID).Logger()
	if c.ttl < 0 || e.store == nil {
		c.policy = cache.PolicyBypass
	}

	if c.policy.Read {
		entry, ok, err := e.store.Get(ctx, key)
		if err != nil {
			c.log.Warn().Err(err).Str("cache_key", key).Msg("cache get error")
		}
		if ok {
			c.log.Debug().Str("cache_key", key).Msg("cache hit")
			return &core.Response{
				StatusCode: http.StatusOK,
				Body:       entry.Value,
				Cached:     true,
				ReceivedAt: entry.StoredAt,
			}, nil
		}
		c.log.Debug().Str("cache_key", key).Msg("cache miss")
	}

	flight := context.WithoutCancel(ctx)
	ch := e.group.DoChan(flightKey(c), func() (any, error) {
		return e.do(flight, c)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := res.Val.(*core.Response)
		if res.Shared {
			c.log.Debug().Msg("joined in-flight request")
		}
		return resp, nil
	case <-ctx.Done():
		return nil, timeoutError(desc.ID, validated, 0, ctx.Err())
	}
}

// flightKey groups calls by whether they store their result. Every flight
// goes to the network, so a refresh may join an ordinary call that missed
// the cache.
func flightKey(c *call) string {
	if c.policy.Write {
		return c.key
	}
	return c.key + ":nostore"
}

func (e *Executor) ttlFor(desc *endpoint.Descriptor) time.Duration {
	if desc.CacheTTL != 0 {
		return desc.CacheTTL
	}
	return e.config.CacheTTL
}

func weightOf(desc *endpoint.Descriptor, params core.Params) int {
	w := desc.Weight
	if w < 1 {
		w = 1
	}
	if desc.MultiSymbol() {
		if n := len(desc.Symbols(params)); n > 1 {
			w *= n
		}
	}
	return w
}

func (e *Executor) do(ctx context.Context, c *call) (*core.Response, error) {
	if e.breaker != nil && !e.breaker.Allow() {
		return nil, core.NewError(c.desc.ID, core.ErrorTypeCircuitOpen, 0, "circuit breaker is open").
			WithParams(c.params).WithCause(core.ErrCircuitBreakerOpen)
	}

	resp, err := e.attempt(ctx, c)

	if e.breaker != nil {
		e.breaker.Record(!countsAsFailure(err))
	}
	if err != nil {
		c.log.Debug().Err(err).Int("attempts", c.attempts).Msg("request failed")
		return nil, err
	}

	resp.Attempts = c.attempts
	if c.policy.Write && !resp.Empty {
		if err := e.store.Set(ctx, c.key, resp.Body, c.ttl); err != nil {
			c.log.Warn().Err(err).Str("cache_key", c.key).Msg("cache set error")
		}
	}
	return resp, nil
}

// countsAsFailure reports whether err says the service itself is unhealthy.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return core.IsTransientError(err) || core.IsErrorCode(err, core.ErrCodeRetryExhausted)
}

func (e *Executor) attempt(ctx context.Context, c *call) (*core.Response, error) {
	tok, err := e.keys.Next()
	if err != nil {
		return nil, core.NewError(c.desc.ID, core.ErrorTypeAuthentication, 0, "no usable token").
			WithCode(core.ErrCodeMissingToken).WithCause(err)
	}

	req := core.NewRequest(c.desc.Method, c.path).
		SetQueryParams(c.query).
		SetQuery(cache.TokenParam, tok.Value).
		SetHeader("Authorization", "Bearer "+tok.Value).
		SetWeight(c.weight).
		SetBucket(c.desc.Bucket).
		SetCache(c.key, c.ttl)
	if len(c.body) > 0 {
		req.SetBody(c.body)
	}
	req.ID = c.id
	req.Endpoint = c.desc.ID

	resp, err := e.transport.Do(ctx, req)
	if resp != nil {
		c.attempts = resp.Attempts
	}
	if err != nil {
		if errors.Is(err, core.ErrClientClosed) {
			return nil, core.NewError(c.desc.ID, core.ErrorTypeConfiguration, 0, "client is closed").
				WithCode(core.ErrCodeClientClosed).WithCause(err)
		}
		if ctx.Err() != nil {
			return nil, timeoutError(c.desc.ID, c.params, c.attempts, err)
		}
		cause := core.NewError(c.desc.ID, core.ErrorTypeTransientNetwork, 0, "request failed").
			WithParams(c.params).WithCause(err)
		return nil, exhausted(c, 0, nil, cause)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		empty, err := normalize.IsEmptyPayload(c.desc.ID, resp.Body, c.desc.Result)
		if err != nil {
			return nil, core.AttachCall(err, c.params, resp.Body)
		}
		if empty {
			return e.empty(c, resp)
		}
		return resp, nil

	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		if e.keys.Len() > 1 {
			e.keys.Disable(tok.Value)
			c.log.Warn().Str("token", keyring.Mask(tok.Value)).Int("status", code).Msg("token rejected, removed from rotation")
		}
		return nil, statusError(c, core.ErrorTypeAuthentication, resp)

	case code == http.StatusNotFound:
		return e.empty(c, resp)

	case code == http.StatusTooManyRequests:
		e.keys.OnRateLimit(tok.Value)
		return nil, statusError(c, core.ErrorTypeRateLimit, resp)

	case code == http.StatusRequestTimeout || code >= 500:
		return nil, exhausted(c, code, resp.Body, statusError(c, core.ErrorTypeTransientNetwork, resp))

	default:
		return nil, statusError(c, core.ErrorTypeQuery, resp)
	}
}

// onRetry runs between attempts of one exchange. A throttled token is
// rotated out for later calls; the exchange itself keeps its token.
func (e *Executor) onRetry(req *core.Request, resp *core.Response, _ error) {
	if resp.StatusCode == http.StatusTooManyRequests {
		e.keys.OnRateLimit(req.Query[cache.TokenParam])
	}
}

func (e *Executor) empty(c *call, resp *core.Response) (*core.Response, error) {
	if c.desc.Empty == endpoint.EmptyResult {
		return &core.Response{
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Empty:      true,
			Attempts:   resp.Attempts,
			ReceivedAt: resp.ReceivedAt,
		}, nil
	}
	err := core.NewNotFoundError(c.desc.ID, c.params)
	err.StatusCode = resp.StatusCode
	err.Body = string(resp.Body)
	err.Attempts = c.attempts
	return nil, err
}

func exhausted(c *call, status int, body []byte, cause error) *core.Error {
	return &core.Error{
		Type:       core.ErrorTypeQuery,
		Code:       core.ErrCodeRetryExhausted,
		StatusCode: status,
		Endpoint:   c.desc.ID,
		Params:     c.params,
		Message:    fmt.Sprintf("retries exhausted after %d attempts", c.attempts),
		Body:       string(body),
		Attempts:   c.attempts,
		Cause:      cause,
		Timestamp:  time.Now(),
	}
}

func statusError(c *call, typ core.ErrorType, resp *core.Response) *core.Error {
	msg := resp.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	err := core.NewError(c.desc.ID, typ, resp.StatusCode, msg).WithParams(c.params)
	err.Body = string(resp.Body)
	err.Attempts = c.attempts
	return err
}

func timeoutError(endpoint string, params core.Params, attempts int, cause error) *core.Error {
	err := core.NewError(endpoint, core.ErrorTypeTimeout, 0, "deadline exceeded").WithParams(params).WithCause(cause)
	err.Attempts = attempts
	return err
}
