package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"iexcloud/pkg/cache"
	"iexcloud/pkg/cache/cachemock"
	"iexcloud/pkg/core"
	"iexcloud/pkg/endpoint"
)

func newTestExecutor(t *testing.T, url string, mutate func(*core.Config), opts ...Option) *Executor {
	t.Helper()
	cfg := core.DefaultConfig().
		WithToken("pk_test").
		WithBaseURL(url).
		WithTimeout(time.Second).
		WithRetry(2, time.Millisecond)
	cfg.RetryWaitMax = 5 * time.Millisecond
	cfg.RateLimitRequests = 1000
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stable/stock/AAPL/quote", r.URL.Path)
		assert.Equal(t, "pk_test", r.URL.Query().Get("token"))
		assert.Equal(t, "latestPrice", r.URL.Query().Get("filter"))
		assert.Equal(t, "Bearer pk_test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"AAPL","latestPrice":150.25}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	resp, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote),
		core.Params{"symbol": "aapl", "filter": "latestPrice"}, cache.PolicyBypass)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"symbol":"AAPL","latestPrice":150.25}`, string(resp.Body))
	assert.Equal(t, 1, resp.Attempts)
	assert.False(t, resp.Cached)
}

func TestExecute_RetryBudget(t *testing.T) {
	tests := []struct {
		name   string
		retry  int
		status int
	}{
		{"zero retries", 0, http.StatusInternalServerError},
		{"two retries", 2, http.StatusBadGateway},
		{"request timeout status", 3, http.StatusRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`upstream down`))
			}))
			defer server.Close()

			e := newTestExecutor(t, server.URL, func(c *core.Config) {
				c.RetryCount = tt.retry
				c.CircuitBreakerEnabled = false
			})
			_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote),
				core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
			require.Error(t, err)

			assert.Equal(t, int32(tt.retry+1), hits.Load())
			assert.True(t, core.IsQueryError(err))
			assert.True(t, core.IsErrorCode(err, core.ErrCodeRetryExhausted))

			var iexErr *core.Error
			require.ErrorAs(t, err, &iexErr)
			assert.Equal(t, tt.status, iexErr.StatusCode)
			assert.Equal(t, "upstream down", iexErr.Body)
			assert.Equal(t, tt.retry+1, iexErr.Attempts)
		})
	}
}

func TestExecute_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	resp, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote),
		core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
}

func TestExecute_Classification(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		status   int
		body     string
		check    func(error) bool
		wantHits int32
	}{
		{"unauthorized", endpoint.Quote, http.StatusUnauthorized, "bad token", core.IsAuthenticationError, 1},
		{"forbidden", endpoint.Quote, http.StatusForbidden, "no access", core.IsAuthenticationError, 1},
		{"not found", endpoint.Quote, http.StatusNotFound, "Unknown symbol", core.IsNotFoundError, 1},
		{"empty body", endpoint.Company, http.StatusOK, "{}", core.IsNotFoundError, 1},
		{"bad request", endpoint.Quote, http.StatusBadRequest, "invalid filter", core.IsQueryError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			e := newTestExecutor(t, server.URL, nil)
			_, err := e.Execute(context.Background(), endpoint.MustGet(tt.id),
				core.Params{"symbol": "ZZZZ"}, cache.PolicyBypass)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type: %v", err)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestExecute_EmptyResultPolicy(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusOK} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			if status == http.StatusOK {
				_, _ = w.Write([]byte(`[]`))
			}
		}))

		e := newTestExecutor(t, server.URL, nil)
		resp, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.News),
			core.Params{"symbol": "AAPL"}, cache.PolicyDefault)
		require.NoError(t, err)
		assert.True(t, resp.Empty)
		assert.Empty(t, resp.Body)

		fresh, err := e.Store().HasFresh(context.Background(), mustKey(t, endpoint.News, core.Params{"symbol": "AAPL", "last": 10}))
		require.NoError(t, err)
		assert.False(t, fresh, "empty responses are not cached")
		server.Close()
	}
}

func mustKey(t *testing.T, id string, params core.Params) string {
	t.Helper()
	validated, err := endpoint.MustGet(id).Validate(params)
	require.NoError(t, err)
	key, err := cache.Key(id, validated)
	require.NoError(t, err)
	return key
}

func TestExecute_RateLimit(t *testing.T) {
	t.Run("retried after retry-after", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
		}))
		defer server.Close()

		e := newTestExecutor(t, server.URL, nil)
		resp, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote),
			core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Attempts)
	})

	t.Run("surfaced when budget is spent", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		e := newTestExecutor(t, server.URL, func(c *core.Config) { c.RetryCount = 1 })
		_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote),
			core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
		require.Error(t, err)
		assert.True(t, core.IsRateLimitError(err))
		assert.Equal(t, int32(2), hits.Load())
	})
}

func TestExecute_RotatesTokenAfterRateLimit(t *testing.T) {
	var (
		mu     sync.Mutex
		tokens []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("token")
		mu.Lock()
		tokens = append(tokens, tok)
		mu.Unlock()
		if tok == "pk_primary" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, func(c *core.Config) {
		c.Credentials.Token = "pk_primary"
		c.FallbackTokens = []string{"pk_fallback"}
		c.RetryCount = 0
	})
	desc := endpoint.MustGet(endpoint.Quote)

	_, err := e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.Error(t, err)
	assert.True(t, core.IsRateLimitError(err))

	_, err = e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pk_primary", "pk_fallback"}, tokens)
}

func TestExecute_CallerDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, func(c *core.Config) {
		c.RetryCount = 5
		c.Timeout = 100 * time.Millisecond
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, endpoint.MustGet(endpoint.Quote), core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.Error(t, err)
	assert.True(t, core.IsTimeoutError(err), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_JoinedCallersKeepOwnDeadlines(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	desc := endpoint.MustGet(endpoint.Quote)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var shortErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, shortErr = e.Execute(short, desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)

	resp, err := e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	<-done

	require.NoError(t, err, "the caller without a deadline must not inherit the first caller's")
	assert.JSONEq(t, `{"symbol":"AAPL"}`, string(resp.Body))
	assert.Equal(t, int32(1), hits.Load())

	require.Error(t, shortErr)
	assert.True(t, core.IsTimeoutError(shortErr), "got %v", shortErr)
}

func TestExecute_PerAttemptTimeoutIsTransient(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, func(c *core.Config) { c.Timeout = 50 * time.Millisecond })
	resp, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote),
		core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Attempts)
}

func TestExecute_ValidationNeverReachesNetwork(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.News),
		core.Params{"symbol": "AAPL", "last": 51}, cache.PolicyDefault)
	require.Error(t, err)
	assert.True(t, core.IsValidationError(err))
	assert.Zero(t, hits.Load())
}

func TestExecute_CacheRoundTrip(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"symbol":"AAPL","latestPrice":150.25}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	desc := endpoint.MustGet(endpoint.Quote)

	first, err := e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyDefault)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.Execute(context.Background(), desc, core.Params{"symbol": "aapl"}, cache.PolicyDefault)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Body, second.Body)
	assert.Zero(t, second.Attempts)
	assert.Equal(t, int32(1), hits.Load())

	third, err := e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyRefresh)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExecute_CacheStoreMock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"MSFT"}`))
	}))
	defer server.Close()

	ctrl := gomock.NewController(t)
	store := cachemock.NewMockStore(ctrl)
	key := mustKey(t, endpoint.Quote, core.Params{"symbol": "MSFT"})

	gomock.InOrder(
		store.EXPECT().Get(gomock.Any(), key).Return(nil, false, nil),
		store.EXPECT().Set(gomock.Any(), key, []byte(`{"symbol":"MSFT"}`), time.Minute).Return(nil),
		store.EXPECT().Get(gomock.Any(), key).Return(&cache.Entry{Key: key, Value: []byte(`{"symbol":"MSFT","cached":true}`)}, true, nil),
	)
	store.EXPECT().Close().Return(nil)

	e := newTestExecutor(t, server.URL, nil, WithStore(store))
	desc := endpoint.MustGet(endpoint.Quote)

	_, err := e.Execute(context.Background(), desc, core.Params{"symbol": "MSFT"}, cache.PolicyDefault)
	require.NoError(t, err)

	resp, err := e.Execute(context.Background(), desc, core.Params{"symbol": "MSFT"}, cache.PolicyDefault)
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.JSONEq(t, `{"symbol":"MSFT","cached":true}`, string(resp.Body))
}

func TestExecute_SingleFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	desc := endpoint.MustGet(endpoint.Quote)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecute_RefreshJoinsOrdinaryFlight(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	desc := endpoint.MustGet(endpoint.Quote)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, policy := range []cache.Policy{cache.PolicyDefault, cache.PolicyRefresh} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, policy)
		}()
		if i == 0 {
			require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, int32(1), hits.Load())
}

func TestExecute_DisablesRejectedToken(t *testing.T) {
	var (
		mu     sync.Mutex
		tokens []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := r.URL.Query().Get("token")
		mu.Lock()
		tokens = append(tokens, tok)
		mu.Unlock()
		if tok == "pk_revoked" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, func(c *core.Config) {
		c.Credentials.Token = "pk_revoked"
		c.FallbackTokens = []string{"pk_valid"}
	})
	desc := endpoint.MustGet(endpoint.Quote)

	_, err := e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.Error(t, err)
	assert.True(t, core.IsAuthenticationError(err))

	for range 2 {
		_, err = e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pk_revoked", "pk_valid", "pk_valid"}, tokens)
}

func TestExecute_RoundRobinTokens(t *testing.T) {
	var (
		mu     sync.Mutex
		tokens []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.URL.Query().Get("token"))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"symbol":"AAPL"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, func(c *core.Config) {
		c.Credentials.Token = "pk_a"
		c.FallbackTokens = []string{"pk_b"}
		c.TokenRotation = core.RotationRoundRobin
	})
	for range 3 {
		_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote), core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"pk_a", "pk_b", "pk_a"}, tokens)
}

func TestExecute_ServiceErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"filter field is not recognized"}`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote), core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.Error(t, err)
	assert.True(t, core.IsQueryError(err))

	var iexErr *core.Error
	require.ErrorAs(t, err, &iexErr)
	assert.Equal(t, "filter field is not recognized", iexErr.Message)
	assert.JSONEq(t, `{"error":"filter field is not recognized"}`, iexErr.Body)
}

func TestExecute_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, nil)
	_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Company), core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.Error(t, err)
	assert.Equal(t, core.ErrorTypeMalformedResponse, core.TypeOf(err), "an empty array is not an empty object")
	assert.True(t, core.IsErrorCode(err, core.ErrCodeShapeMismatch))

	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "AAPL", e.Params["symbol"])
	assert.Equal(t, "[]", e.Body)
}

func TestNew_BucketLimits(t *testing.T) {
	e := newTestExecutor(t, "http://127.0.0.1:1", nil)
	assert.Equal(t, int32(2), e.Limiter().Metrics().BucketCount)

	e = newTestExecutor(t, "http://127.0.0.1:1", func(c *core.Config) {
		c.BatchRateLimit = 0
		c.RefDataRateLimit = 0
	})
	assert.Zero(t, e.Limiter().Metrics().BucketCount)
}

func TestExecute_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, func(c *core.Config) {
		c.RetryCount = 0
		c.CircuitBreakerFailThreshold = 2
		c.CircuitBreakerTimeout = time.Hour
	})
	desc := endpoint.MustGet(endpoint.Quote)

	for range 2 {
		_, err := e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
		require.Error(t, err)
	}
	_, err := e.Execute(context.Background(), desc, core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.Error(t, err)
	assert.Equal(t, core.ErrorTypeCircuitOpen, core.TypeOf(err))
	assert.ErrorIs(t, err, core.ErrCircuitBreakerOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExecute_NotFoundDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	e := newTestExecutor(t, server.URL, func(c *core.Config) { c.CircuitBreakerFailThreshold = 1 })
	for range 3 {
		_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote), core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
		assert.True(t, core.IsNotFoundError(err))
	}
	assert.Zero(t, e.Breaker().Failures())
}

func TestExecute_Closed(t *testing.T) {
	e := newTestExecutor(t, "http://127.0.0.1:1", nil)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Execute(context.Background(), endpoint.MustGet(endpoint.Quote), core.Params{"symbol": "AAPL"}, cache.PolicyBypass)
	require.Error(t, err)
	assert.True(t, core.IsErrorCode(err, core.ErrCodeClientClosed))
	assert.ErrorIs(t, err, core.ErrClientClosed)
}

func TestNew_RequiresValidConfig(t *testing.T) {
	_, err := New(nil)
	assert.True(t, core.IsConfigurationError(err))

	_, err = New(core.DefaultConfig())
	assert.True(t, core.IsConfigurationError(err))
}

func TestNew_SQLiteCache(t *testing.T) {
	cfg := core.DefaultConfig().WithToken("pk_test")
	cfg.CachePath = t.TempDir() + "/cache.db"
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Close()
	_, ok := e.Store().(*cache.SQLiteStore)
	assert.True(t, ok)
}

func TestWeightOf(t *testing.T) {
	batch := endpoint.MustGet(endpoint.BatchPrefix + endpoint.Quote)
	assert.Equal(t, 3, weightOf(batch, core.Params{"symbols": []string{"A", "B", "C"}}))
	assert.Equal(t, 1, weightOf(endpoint.MustGet(endpoint.Quote), core.Params{"symbol": "A"}))
}
