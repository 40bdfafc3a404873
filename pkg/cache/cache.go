// Package cache stores raw endpoint payloads keyed by endpoint id and
// canonical parameters.
//
// Two backends are provided: an in-process MemoryStore and a persistent
// SQLiteStore. Both are safe for concurrent use; the last writer of a key wins.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"iexcloud/pkg/core"
)

//go:generate mockgen -destination=cachemock/store.go -package=cachemock . Store

// Store is a key-value cache of raw payloads.
type Store interface {
	// Get returns the entry for key when it is present and fresh.
	Get(ctx context.Context, key string) (*Entry, bool, error)
	// Set stores value under key. A non-positive ttl never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// HasFresh reports whether a fresh entry exists for key.
	HasFresh(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// Entry is one cached payload.
type Entry struct {
	Key      string
	Value    []byte
	StoredAt time.Time
	TTL      time.Duration
}

// Fresh reports whether the entry is still valid at now.
func (e *Entry) Fresh(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.TTL <= 0 {
		return true
	}
	return now.Before(e.StoredAt.Add(e.TTL))
}

// Policy controls whether a call reads from and writes to the cache.
type Policy struct {
	Read  bool
	Write bool
}

var (
	// PolicyDefault serves fresh entries and stores successful responses.
	PolicyDefault = Policy{Read: true, Write: true}
	// PolicyRefresh always goes to the network and stores the result.
	PolicyRefresh = Policy{Write: true}
	// PolicyReadOnly serves fresh entries but never stores.
	PolicyReadOnly = Policy{Read: true}
	// PolicyBypass neither reads nor writes.
	PolicyBypass = Policy{}
)

// ParsePolicy maps a policy name to its preset.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "default":
		return PolicyDefault, nil
	case "refresh":
		return PolicyRefresh, nil
	case "read_only", "readonly":
		return PolicyReadOnly, nil
	case "bypass", "off", "none":
		return PolicyBypass, nil
	}
	return Policy{}, fmt.Errorf("unknown cache policy %q", name)
}

// Enabled reports whether the policy touches the cache at all.
func (p Policy) Enabled() bool {
	return p.Read || p.Write
}

// TokenParam is excluded from cache keys so that rotating credentials share entries.
const TokenParam = "token"

type keyMaterial struct {
	Endpoint string      `json:"endpoint"`
	Params   core.Params `json:"params"`
}

// Key derives the cache key of a call. Params must already be validated so
// that equal calls produce equal keys.
func Key(endpoint string, params core.Params) (string, error) {
	p := params.Clone()
	delete(p, TokenParam)
	data, err := sonic.ConfigStd.Marshal(keyMaterial{Endpoint: endpoint, Params: p})
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
