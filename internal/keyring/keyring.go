// Package keyring rotates API tokens when one exhausts its quota.
package keyring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type KeyRing struct {
	mu       sync.RWMutex
	keys     []*Token
	current  int
	strategy RotationStrategy
	cooldown time.Duration
	logger   zerolog.Logger
}

type Token struct {
	ID           string
	Value        string
	Disabled     bool
	LastUsed     time.Time
	Uses         int64
	ErrorCount   int
	LimitedUntil time.Time
}

type RotationStrategy int

const (
	// RotationOnRateLimit keeps one token until it is rate limited.
	RotationOnRateLimit RotationStrategy = iota
	// RotationRoundRobin advances on every call.
	RotationRoundRobin
)

// New creates a ring from token values. Empty and duplicate values are skipped.
func New(values []string, strategy RotationStrategy, cooldown time.Duration, logger zerolog.Logger) *KeyRing {
	k := &KeyRing{
		strategy: strategy,
		cooldown: cooldown,
		logger:   logger,
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		k.keys = append(k.keys, &Token{ID: fmt.Sprintf("token-%d", len(k.keys)), Value: v})
	}
	return k
}

func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}

// Next returns the token for the next call and records its use. Tokens still
// cooling down after a rate limit are skipped unless every token is.
func (k *KeyRing) Next() (*Token, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if len(k.keys) == 0 {
		return nil, fmt.Errorf("keyring: no tokens")
	}

	now := time.Now()
	idx := k.pick(now, true)
	if idx < 0 {
		idx = k.pick(now, false)
	}
	if idx < 0 {
		return nil, fmt.Errorf("keyring: all tokens disabled")
	}

	tok := k.keys[idx]
	tok.LastUsed = now
	tok.Uses++
	if k.strategy == RotationRoundRobin {
		k.current = (idx + 1) % len(k.keys)
	} else {
		k.current = idx
	}
	return tok, nil
}

func (k *KeyRing) pick(now time.Time, skipLimited bool) int {
	for i := 0; i < len(k.keys); i++ {
		idx := (k.current + i) % len(k.keys)
		tok := k.keys[idx]
		if tok.Disabled {
			continue
		}
		if skipLimited && now.Before(tok.LimitedUntil) {
			continue
		}
		return idx
	}
	return -1
}

// OnRateLimit marks value as exhausted and moves the ring past it. Calls in
// flight keep their token; only later calls see the rotation.
func (k *KeyRing) OnRateLimit(value string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for i, tok := range k.keys {
		if tok.Value != value {
			continue
		}
		tok.ErrorCount++
		tok.LimitedUntil = time.Now().Add(k.cooldown)
		if i == k.current && len(k.keys) > 1 {
			k.current = (i + 1) % len(k.keys)
			k.logger.Warn().
				Str("token", maskKey(value)).
				Str("next", maskKey(k.keys[k.current].Value)).
				Msg("token rate limited, rotating")
		}
		return
	}
}

// Disable removes a token from rotation, e.g. after an authentication failure.
func (k *KeyRing) Disable(value string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, tok := range k.keys {
		if tok.Value == value {
			tok.Disabled = true
			return
		}
	}
}

func (t *Token) String() string {
	return fmt.Sprintf("Token{ID:%s, Value:%s}", t.ID, maskKey(t.Value))
}

// Mask hides all but the edges of a token for logging.
func Mask(value string) string {
	return maskKey(value)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
