// Package cache stores successful provider responses keyed by request
// content and generation parameters.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/upb/llm-governance-gateway/internal/kvstore"
	"github.com/upb/llm-governance-gateway/services/providers"
	"go.uber.org/zap"
)

const (
	namespace  = "llm:"
	DefaultTTL = time.Hour
)

// Entry is an immutable cached response
type Entry struct {
	ContentHash string                  `json:"content_hash"`
	Payload     *providers.ChatResponse `json:"payload"`
	StoredAt    time.Time               `json:"stored_at"`
	TTL         time.Duration           `json:"ttl"`
	Provider    string                  `json:"provider"`
	Model       string                  `json:"model"`
	Cost        float64                 `json:"cost"`
}

// Expired reports whether the entry is past its TTL at now
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.StoredAt.Add(e.TTL))
}

// Stats counts lookups since startup
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Expired uint64  `json:"expired"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is the response cache. Keys are independent, so no lock is shared
// across keys; the backing store handles per-key concurrency.
type Cache struct {
	store   kvstore.Store
	ttl     time.Duration
	enabled bool
	logger  *zap.Logger
	now     func() time.Time

	hits    atomic.Uint64
	misses  atomic.Uint64
	expired atomic.Uint64
}

// New creates a Cache. A non-positive ttl falls back to DefaultTTL.
func New(store kvstore.Store, ttl time.Duration, enabled bool, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:   store,
		ttl:     ttl,
		enabled: enabled && store != nil,
		logger:  logger,
		now:     time.Now,
	}
}

// Enabled reports whether lookups and stores are active
func (c *Cache) Enabled() bool { return c.enabled }

// ChatKey derives the key for a chat request. Message order is significant.
func ChatKey(provider, model string, messages []providers.Message, maxTokens int, temperature float64) string {
	type keyMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	normalized := make([]keyMessage, len(messages))
	for i, m := range messages {
		normalized[i] = keyMessage{Role: m.Role, Content: m.Content}
	}
	// a slice of flat string structs always marshals
	raw, _ := json.Marshal(normalized)
	return buildKey("chat", provider, model, hashBytes(raw), maxTokens, temperature)
}

// CompletionKey derives the key for a single-prompt request
func CompletionKey(provider, model, prompt string, maxTokens int, temperature float64) string {
	return buildKey("completion", provider, model, hashBytes([]byte(prompt)), maxTokens, temperature)
}

func buildKey(kind, provider, model, hash string, maxTokens int, temperature float64) string {
	return strings.Join([]string{
		"llm",
		kind,
		provider,
		model,
		hash,
		strconv.Itoa(maxTokens),
		strconv.FormatFloat(temperature, 'f', -1, 64),
	}, ":")
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// contentHash extracts the hash segment from a key
func contentHash(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 5 {
		return ""
	}
	return parts[4]
}

// Get returns the entry for key. Expired entries are removed and reported
// as a miss; undecodable entries are treated the same way.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	if !c.enabled {
		return nil, false
	}

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !kvstore.IsNotFound(err) {
			c.logger.Warn("response cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Payload == nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		c.drop(ctx, key)
		c.misses.Add(1)
		return nil, false
	}

	if entry.Expired(c.now()) {
		c.drop(ctx, key)
		c.expired.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &entry, true
}

// Put stores a response under key
func (c *Cache) Put(ctx context.Context, key, provider, model string, resp *providers.ChatResponse) error {
	if !c.enabled {
		return nil
	}

	entry := Entry{
		ContentHash: contentHash(key),
		Payload:     resp,
		StoredAt:    c.now().UTC(),
		TTL:         c.ttl,
		Provider:    provider,
		Model:       model,
		Cost:        resp.Usage.TotalCost,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.store.SetWithTTL(ctx, key, raw, c.ttl)
}

// Clear removes every cached response
func (c *Cache) Clear(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.DeletePrefix(ctx, namespace)
}

// Stats returns lookup counters
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Expired: c.expired.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *Cache) drop(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil && !kvstore.IsNotFound(err) {
		c.logger.Warn("failed to delete cache entry", zap.String("key", key), zap.Error(err))
	}
}
