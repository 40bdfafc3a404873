// Package http is the transport used by the request executor.
//
// One Do call is one logical exchange: resty performs the attempts and the
// backoff between them, and the executor classifies whatever status the last
// attempt produced.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"iexcloud/pkg/core"
)

const userAgent = "iexcloud-go/1.0"

// Limiter reserves request weight before every attempt and pauses all
// callers after a server-side throttle.
type Limiter interface {
	WaitN(ctx context.Context, bucket string, weight int) error
	Pause(d time.Duration)
}

// RetryFunc observes an attempt that is about to be retried. resp carries
// the status of the failed attempt; err is set when no response arrived.
type RetryFunc func(req *core.Request, resp *core.Response, err error)

// Client wraps a resty client bound to one service root.
type Client struct {
	resty   *resty.Client
	baseURL string
	logger  zerolog.Logger
	limiter Limiter
	onRetry RetryFunc

	mu     sync.RWMutex
	closed bool
}

type Config struct {
	// BaseURL is the versioned service root, e.g. https://cloud.iexapis.com/stable.
	BaseURL      string            `validate:"required,url"`
	Timeout      time.Duration     `validate:"min=1ms"`
	RetryCount   int               `validate:"min=0,max=20"`
	RetryWait    time.Duration     `validate:"min=0"`
	RetryWaitMax time.Duration     `validate:"min=0"`
	Headers      map[string]string `validate:"omitempty"`
	Limiter      Limiter           `validate:"-"`
	OnRetry      RetryFunc         `validate:"-"`
	Logger       zerolog.Logger    `validate:"-"`
}

// serviceError is the JSON error object some endpoints return with a 4xx.
// Most error bodies are plain text.
type serviceError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *serviceError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

type reservationKey struct{}

type reservation struct {
	bucket string
	weight int
}

var validate = validator.New()

func NewClient(config *Config) (*Client, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		limiter: config.Limiter,
		onRetry: config.OnRetry,
	}

	rc := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(config.RetryWait).
		SetRetryMaxWaitTime(config.RetryWaitMax).
		SetRetryDefaultConditions(false).
		AddRetryConditions(retryable).
		SetResponseBodyUnlimitedReads(true).
		SetError(&serviceError{}).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetHeaders(config.Headers)

	rc.AddContentTypeEncoder("application/json", func(w io.Writer, v any) error {
		data, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	// Error bodies are not always JSON objects; an undecodable one is left
	// zero and the raw body is still reported.
	rc.AddContentTypeDecoder("application/json", func(r io.Reader, v any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		if _, ok := v.(*serviceError); ok {
			_ = sonic.Unmarshal(data, v)
			return nil
		}
		return sonic.Unmarshal(data, v)
	})

	rc.AddRequestMiddleware(func(_ *resty.Client, r *resty.Request) error {
		if c.limiter == nil {
			return nil
		}
		res, _ := r.Context().Value(reservationKey{}).(reservation)
		if err := c.limiter.WaitN(r.Context(), res.bucket, res.weight); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		return nil
	})

	c.resty = rc
	return c, nil
}

// retryable retries network failures, 408, 429 and every 5xx. A cancelled
// caller is never retried.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	code := resp.StatusCode()
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// Close releases idle connections. Do fails with core.ErrClientClosed afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.resty.Close()
}

// URL returns the absolute URL for a service path.
func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Do performs one logical exchange, retrying transient failures. A non-nil
// error means the last attempt received no response; any HTTP status,
// including 4xx and 5xx, is returned as a Response. The returned Response
// reports the attempts made either way. Query values and headers are never
// logged since they carry the token.
func (c *Client) Do(ctx context.Context, req *core.Request) (*core.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, core.ErrClientClosed
	}

	log := c.logger.With().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Str("path", req.Path).
		Logger()

	ctx = context.WithValue(ctx, reservationKey{}, reservation{bucket: req.Bucket, weight: req.Weight})
	r := c.resty.R().
		SetContext(ctx).
		SetQueryParams(req.Query).
		SetHeaders(req.Headers).
		AddRetryHooks(func(resp *resty.Response, err error) {
			c.retryHook(log, req, resp, err)
		})
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	started := time.Now()
	resp, err := r.Execute(req.Method, c.URL(req.Path))
	elapsed := time.Since(started)

	out := &core.Response{Attempts: 1, ReceivedAt: time.Now()}
	if resp != nil && resp.Request != nil {
		out.Attempts = resp.Request.Attempt
	}
	if err != nil {
		log.Debug().Err(err).Int("attempts", out.Attempts).Dur("elapsed", elapsed).Msg("http exchange failed")
		return out, err
	}

	out.StatusCode = resp.StatusCode()
	out.Body = resp.Bytes()
	out.Headers = flatten(resp.Header())
	if se, ok := resp.Error().(*serviceError); ok && se != nil {
		out.Message = se.text()
	}

	log.Debug().
		Int("status", out.StatusCode).
		Int("size", len(out.Body)).
		Int("attempts", out.Attempts).
		Dur("elapsed", elapsed).
		Msg("http response")
	return out, nil
}

func (c *Client) retryHook(log zerolog.Logger, req *core.Request, resp *resty.Response, err error) {
	failed := &core.Response{ReceivedAt: time.Now()}
	if resp != nil {
		failed.StatusCode = resp.StatusCode()
		failed.Headers = flatten(resp.Header())
		if resp.Request != nil {
			failed.Attempts = resp.Request.Attempt
		}
	}

	if failed.StatusCode == http.StatusTooManyRequests || failed.StatusCode == http.StatusServiceUnavailable {
		if d := RetryAfter(failed.Headers, time.Now()); d > 0 && c.limiter != nil {
			c.limiter.Pause(d)
		}
	}

	log.Debug().Err(err).Int("status", failed.StatusCode).Int("attempt", failed.Attempts).Msg("retrying")
	if c.onRetry != nil {
		c.onRetry(req, failed, err)
	}
}

func flatten(h http.Header) map[string]string {
	headers := make(map[string]string, len(h))
	for k := range h {
		headers[k] = h.Get(k)
	}
	return headers
}

// RetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(headers map[string]string, now time.Time) time.Duration {
	v := headers["Retry-After"]
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
