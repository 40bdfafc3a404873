// Package ratelimit throttles outgoing requests by message weight.
//
// The service bills and throttles by weight: a batch call counts once per
// symbol and type, so callers reserve their weight before each attempt. A
// server-side 429 with Retry-After pauses every caller until the window ends.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter combines a global token bucket with optional per-endpoint buckets.
type RateLimiter struct {
	global     *rate.Limiter
	buckets    sync.Map
	requests   int
	period     time.Duration
	pauseUntil atomic.Int64
	metrics    *Metrics
}

// Metrics tracks statistics about rate limiter usage.
type Metrics struct {
	totalRequests  atomic.Int64
	allowedWeight  atomic.Int64
	deniedRequests atomic.Int64
	pauses         atomic.Int64
	bucketCount    atomic.Int32
}

// New creates a RateLimiter allowing requests weight units per period.
// The burst equals requests.
func New(requests int, period time.Duration) *RateLimiter {
	return &RateLimiter{
		global:   rate.NewLimiter(perSecond(requests, period), requests),
		requests: requests,
		period:   period,
		metrics:  &Metrics{},
	}
}

func perSecond(requests int, period time.Duration) rate.Limit {
	if period <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(requests) / period.Seconds())
}

// WaitN blocks until weight units are available in the global bucket and,
// when bucket is non-empty, in that bucket too. Weights above the burst are
// clamped so a single heavy request can still proceed.
func (r *RateLimiter) WaitN(ctx context.Context, bucket string, weight int) error {
	r.metrics.totalRequests.Add(1)
	if weight < 1 {
		weight = 1
	}
	if weight > r.global.Burst() {
		weight = r.global.Burst()
	}

	if err := r.waitPause(ctx); err != nil {
		r.metrics.deniedRequests.Add(1)
		return err
	}
	if err := r.global.WaitN(ctx, weight); err != nil {
		r.metrics.deniedRequests.Add(1)
		return err
	}
	if bucket != "" {
		if err := r.getBucket(bucket).WaitN(ctx, weight); err != nil {
			r.metrics.deniedRequests.Add(1)
			return err
		}
	}
	r.metrics.allowedWeight.Add(int64(weight))
	return nil
}

func (r *RateLimiter) waitPause(ctx context.Context) error {
	until := r.pauseUntil.Load()
	if until == 0 {
		return nil
	}
	d := time.Until(time.Unix(0, until))
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pause holds every caller until d has elapsed. A shorter pause never
// shortens one already in effect.
func (r *RateLimiter) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d).UnixNano()
	for {
		cur := r.pauseUntil.Load()
		if cur >= until {
			return
		}
		if r.pauseUntil.CompareAndSwap(cur, until) {
			r.metrics.pauses.Add(1)
			return
		}
	}
}

func (r *RateLimiter) getBucket(bucket string) *rate.Limiter {
	if v, ok := r.buckets.Load(bucket); ok {
		return v.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(perSecond(r.requests, r.period), r.requests)
	actual, loaded := r.buckets.LoadOrStore(bucket, limiter)
	if !loaded {
		r.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// SetBucketLimit sets a dedicated limit for one bucket of endpoints.
func (r *RateLimiter) SetBucketLimit(bucket string, requests int, period time.Duration) {
	limiter := r.getBucket(bucket)
	limiter.SetLimit(perSecond(requests, period))
	limiter.SetBurst(requests)
}

// Metrics returns a snapshot of the current rate limiter statistics.
func (r *RateLimiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:  r.metrics.totalRequests.Load(),
		AllowedWeight:  r.metrics.allowedWeight.Load(),
		DeniedRequests: r.metrics.deniedRequests.Load(),
		Pauses:         r.metrics.pauses.Load(),
		BucketCount:    r.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of rate limiter statistics.
type MetricsSnapshot struct {
	TotalRequests  int64
	AllowedWeight  int64
	DeniedRequests int64
	Pauses         int64
	BucketCount    int32
}
