// Package cache memoizes responses to repeated customer questions.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
	"github.com/soyeahso/helpdesk/internal/logging"
)

// Backend stores entries keyed by query hash. Put must be first-writer-wins
// at the storage level; Hit must increment atomically.
type Backend interface {
	Put(ctx context.Context, e domain.CacheEntry, now time.Time) (bool, error)
	Hit(ctx context.Context, key string, now time.Time) (*domain.CacheEntry, error)
}

var (
	orderNumberRe = regexp.MustCompile(`#?\b\d{3,}\b`)
	emailRe       = regexp.MustCompile(`[[:alnum:]._%+\-]+@[[:alnum:].\-]+\.[[:alpha:]]{2,}`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// Normalize lowercases, strips volatile tokens (order numbers, email
// addresses) and collapses whitespace.
func Normalize(query string) string {
	q := strings.ToLower(query)
	q = emailRe.ReplaceAllString(q, " ")
	q = orderNumberRe.ReplaceAllString(q, " ")
	q = whitespaceRe.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// Key hashes a normalized query.
func Key(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// excluded intents have customer- or time-specific answers.
var excluded = map[domain.Intent]bool{
	domain.IntentOrderStatus:      true,
	domain.IntentShippingTracking: true,
	domain.IntentComplaint:        true,
	domain.IntentRefundRequest:    true,
}

// Cacheable reports whether answers for intent may be shared across customers.
func Cacheable(intent domain.Intent) bool {
	return intent != "" && !excluded[intent]
}

// Cache is the response cache used by the orchestrator.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	log     *logging.Logger
}

// New creates a cache over backend. A zero ttl stores entries without expiry.
func New(backend Backend, ttl time.Duration, log *logging.Logger) *Cache {
	return &Cache{backend: backend, ttl: ttl, now: time.Now, log: log.Sub("cache")}
}

// Lookup returns the live entry for the normalized query and counts the hit.
// A miss returns (nil, nil).
func (c *Cache) Lookup(ctx context.Context, normalized string) (*domain.CacheEntry, error) {
	if normalized == "" {
		return nil, nil
	}
	e, err := c.backend.Hit(ctx, Key(normalized), c.now())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !Cacheable(e.Intent) {
		// written by an older policy; never serve it
		return nil, nil
	}
	c.log.Debug().Str("key", e.Key[:12]).Int64("hits", e.HitCount).Msg("cache hit")
	return e, nil
}

// Store records response for the normalized query. Excluded intents are
// ignored. Reports whether this call wrote the entry; a concurrent writer that
// got there first makes this a no-op.
func (c *Cache) Store(ctx context.Context, normalized, response string, intent domain.Intent) (bool, error) {
	if normalized == "" || response == "" || !Cacheable(intent) {
		return false, nil
	}
	now := c.now()
	e := domain.CacheEntry{
		Key:       Key(normalized),
		QueryText: normalized,
		Response:  response,
		Intent:    intent,
		CreatedAt: now,
	}
	if c.ttl > 0 {
		exp := now.Add(c.ttl)
		e.ExpiresAt = &exp
	}
	wrote, err := c.backend.Put(ctx, e, now)
	if err != nil {
		return false, err
	}
	c.log.Debug().Str("key", e.Key[:12]).Bool("wrote", wrote).Str("intent", string(intent)).Msg("cache store")
	return wrote, nil
}
