// Package sessionstore keeps conversation contexts between turns. Every
// store hands out copies; callers never share a context with the store.
package sessionstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/observability"
)

const (
	defaultMaxSessions = 10000
	cacheName          = "sessions"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidateID rejects ids that are empty, too long or unsafe as file names.
func ValidateID(sessionID string) error {
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("%w %q", negotiation.ErrInvalidSessionID, sessionID)
	}
	return nil
}

func notFound(sessionID string) error {
	return fmt.Errorf("%w: %s", negotiation.ErrSessionNotFound, sessionID)
}

// MemoryConfig bounds the in-memory store.
type MemoryConfig struct {
	MaxSessions int
	// IdleTTL evicts sessions not written for this long; zero keeps them
	// until the size bound pushes them out.
	IdleTTL time.Duration
	// OnEvict runs for sessions dropped by size or idle timeout, not for
	// explicit deletes.
	OnEvict func(sessionID string)
}

// Memory is an LRU store with idle expiry.
type Memory struct {
	cache    *expirable.LRU[string, *negotiation.ConversationContext]
	metrics  *observability.CacheMetrics
	deleting sync.Map
}

// NewMemory creates the store. metrics may be nil.
func NewMemory(cfg MemoryConfig, metrics *observability.CacheMetrics) *Memory {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	m := &Memory{metrics: metrics}
	m.cache = expirable.NewLRU[string, *negotiation.ConversationContext](cfg.MaxSessions, func(id string, _ *negotiation.ConversationContext) {
		if _, ok := m.deleting.Load(id); ok {
			return
		}
		m.metrics.RecordEviction(cacheName)
		if cfg.OnEvict != nil {
			cfg.OnEvict(id)
		}
	}, cfg.IdleTTL)
	return m
}

func (m *Memory) Get(ctx context.Context, sessionID string) (*negotiation.ConversationContext, error) {
	conv, ok := m.cache.Get(sessionID)
	if !ok {
		m.metrics.RecordMiss(cacheName)
		return nil, notFound(sessionID)
	}
	m.metrics.RecordHit(cacheName)
	return conv.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, conv *negotiation.ConversationContext) error {
	if conv == nil {
		return fmt.Errorf("nil conversation")
	}
	if err := ValidateID(conv.SessionID); err != nil {
		return err
	}
	// Add on an existing key renews its expiry.
	m.cache.Add(conv.SessionID, conv.Clone())
	return nil
}

func (m *Memory) Delete(ctx context.Context, sessionID string) error {
	m.deleting.Store(sessionID, struct{}{})
	defer m.deleting.Delete(sessionID)
	m.cache.Remove(sessionID)
	return nil
}

// Len reports the number of live sessions.
func (m *Memory) Len() int {
	return m.cache.Len()
}

var _ negotiation.SessionStore = (*Memory)(nil)
