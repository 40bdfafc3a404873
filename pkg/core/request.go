package core

import (
	"maps"
	"time"
)

// Request is a fully rendered HTTP call produced from an endpoint descriptor.
type Request struct {
	ID       string            `json:"id"`
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Path     string            `json:"path"`
	Query    map[string]string `json:"query,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Weight   int               `json:"weight"`
	Bucket   string            `json:"bucket,omitempty"`
	Body     any               `json:"body,omitempty"`
	CacheKey string            `json:"cache_key,omitempty"`
	CacheTTL time.Duration     `json:"cache_ttl,omitempty"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method:  method,
		Path:    path,
		Query:   make(map[string]string),
		Headers: make(map[string]string),
		Weight:  1,
	}
}

func (r *Request) SetQuery(key, value string) *Request {
	if r.Query == nil {
		r.Query = make(map[string]string)
	}
	r.Query[key] = value
	return r
}

func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

func (r *Request) SetWeight(weight int) *Request {
	if weight < 1 {
		weight = 1
	}
	r.Weight = weight
	return r
}

// SetBucket names the rate limit bucket charged in addition to the global one.
func (r *Request) SetBucket(bucket string) *Request {
	r.Bucket = bucket
	return r
}

func (r *Request) SetBody(body any) *Request {
	r.Body = body
	return r
}

func (r *Request) SetCache(key string, ttl time.Duration) *Request {
	r.CacheKey = key
	r.CacheTTL = ttl
	return r
}

func (r *Request) SetQueryParams(params map[string]string) *Request {
	if r.Query == nil {
		r.Query = make(map[string]string)
	}
	maps.Copy(r.Query, params)
	return r
}

// Clone returns a deep copy so each attempt can be rendered independently.
func (r *Request) Clone() *Request {
	out := *r
	out.Query = maps.Clone(r.Query)
	out.Headers = maps.Clone(r.Headers)
	return &out
}

// Response is the raw payload of a completed request.
type Response struct {
	StatusCode int
	Body       []byte
	// Message is the text of a JSON error body, when the service sent one.
	Message    string
	Headers    map[string]string
	Cached     bool
	Attempts   int
	Empty      bool
	ReceivedAt time.Time
}
