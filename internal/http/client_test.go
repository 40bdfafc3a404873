package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iexcloud/pkg/core"
)

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(&Config{BaseURL: "not a url", Timeout: time.Second})
	assert.Error(t, err)
}

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stable/stock/AAPL/quote", r.URL.Path)
		assert.Equal(t, "pk_test", r.URL.Query().Get("token"))
		assert.Equal(t, "Bearer pk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("iexcloud-messages-used", "1")
		w.Write([]byte(`{"symbol":"AAPL","latestPrice":150.25}`))
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL + "/stable/", Timeout: time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer client.Close()

	req := core.NewRequest("GET", "stock/AAPL/quote").
		SetQuery("token", "pk_test").
		SetHeader("Authorization", "Bearer pk_test")

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"symbol":"AAPL","latestPrice":150.25}`, string(resp.Body))
	assert.Equal(t, "1", resp.Headers["Iexcloud-Messages-Used"])
}

func TestClient_Do_ErrorStatusIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL, Timeout: time.Second})
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Do(context.Background(), core.NewRequest("GET", "status"))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, "maintenance", string(resp.Body))
}

func TestClient_Do_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(&Config{BaseURL: server.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Do(context.Background(), core.NewRequest("GET", "slow"))
	assert.Error(t, err)
}

func TestClient_Closed(t *testing.T) {
	client, err := NewClient(&Config{BaseURL: "http://localhost", Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.Do(context.Background(), core.NewRequest("GET", "x"))
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

func TestClient_URL(t *testing.T) {
	client, err := NewClient(&Config{BaseURL: "https://cloud.iexapis.com/stable/", Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "https://cloud.iexapis.com/stable/stock/AAPL/quote", client.URL("/stock/AAPL/quote"))
}

func TestClient_Do_DoesNotLogToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	client, err := NewClient(&Config{BaseURL: server.URL, Timeout: time.Second, Logger: logger})
	require.NoError(t, err)
	defer client.Close()

	req := core.NewRequest("GET", "stock/AAPL/quote").
		SetQuery("token", "sk_secret").
		SetHeader("Authorization", "Bearer sk_secret")
	req.ID = "req-1"

	_, err = client.Do(context.Background(), req)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"path":"stock/AAPL/quote"`)
	assert.NotContains(t, out, "sk_secret")
}

type fakeLimiter struct {
	mu      sync.Mutex
	waits   []string
	weights []int
	pauses  []time.Duration
}

func (f *fakeLimiter) WaitN(_ context.Context, bucket string, weight int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits = append(f.waits, bucket)
	f.weights = append(f.weights, weight)
	return nil
}

func (f *fakeLimiter) Pause(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses = append(f.pauses, d)
}

func retryConfig(url string, limiter Limiter, onRetry RetryFunc) *Config {
	return &Config{
		BaseURL:      url,
		Timeout:      time.Second,
		RetryCount:   3,
		RetryWait:    time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
		Limiter:      limiter,
		OnRetry:      onRetry,
		Logger:       zerolog.Nop(),
	}
}

func TestClient_Do_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	limiter := &fakeLimiter{}
	var retried []int
	client, err := NewClient(retryConfig(server.URL, limiter, func(_ *core.Request, resp *core.Response, _ error) {
		retried = append(retried, resp.StatusCode)
	}))
	require.NoError(t, err)
	defer client.Close()

	req := core.NewRequest("GET", "stock/AAPL/quote").SetBucket("batch").SetWeight(4)
	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []int{502, 502}, retried)
	assert.Equal(t, []string{"batch", "batch", "batch"}, limiter.waits, "weight is reserved before every attempt")
	assert.Equal(t, []int{4, 4, 4}, limiter.weights)
}

func TestClient_Do_RetryBudget(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(retryConfig(server.URL, nil, nil))
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Do(context.Background(), core.NewRequest("GET", "status"))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, 4, resp.Attempts)
	assert.Equal(t, int32(4), hits.Load())
}

func TestClient_Do_TerminalStatusNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"bad_request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"not_found", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, err := NewClient(retryConfig(server.URL, nil, nil))
			require.NoError(t, err)
			defer client.Close()

			resp, err := client.Do(context.Background(), core.NewRequest("GET", "x"))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, 1, resp.Attempts)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestClient_Do_RateLimitPausesLimiter(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	limiter := &fakeLimiter{}
	var tokens []string
	client, err := NewClient(retryConfig(server.URL, limiter, func(req *core.Request, resp *core.Response, _ error) {
		tokens = append(tokens, req.Query["token"])
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	}))
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Do(context.Background(), core.NewRequest("GET", "x").SetQuery("token", "pk_a"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, []time.Duration{2 * time.Second}, limiter.pauses)
	assert.Equal(t, []string{"pk_a"}, tokens)
}

func TestClient_Do_CanceledIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	client, err := NewClient(retryConfig(server.URL, nil, nil))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = client.Do(ctx, core.NewRequest("GET", "slow"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Do_PostIsSentOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"allow":true}`, string(body))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(retryConfig(server.URL, nil, nil))
	require.NoError(t, err)
	defer client.Close()

	req := core.NewRequest("POST", "account/payasyougo").SetBody(map[string]any{"allow": true})
	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClient_Do_ServiceErrorMessage(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{"error_field", "application/json", `{"error":"Unknown symbol"}`, "Unknown symbol"},
		{"message_field", "application/json", `{"error":"bad","message":"Invalid range"}`, "Invalid range"},
		{"plain_text", "text/plain", `Unknown symbol`, ""},
		{"json_array", "application/json", `["x"]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient(retryConfig(server.URL, nil, nil))
			require.NoError(t, err)
			defer client.Close()

			resp, err := client.Do(context.Background(), core.NewRequest("GET", "x"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Message)
			assert.Equal(t, tt.body, string(resp.Body))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"absent", "", 0},
		{"seconds", "3", 3 * time.Second},
		{"negative", "-1", 0},
		{"http_date", now.Add(5 * time.Second).Format(http.TimeFormat), 5 * time.Second},
		{"past_date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.value != "" {
				headers["Retry-After"] = tt.value
			}
			assert.Equal(t, tt.want, RetryAfter(headers, now))
		})
	}
}
