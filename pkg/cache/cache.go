// Package cache implements SemanticCache (spec §4.6): an exact-parameter
// LRU+TTL tier and a semantic-similarity tier with a hard cosine floor.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/embedding"
)

// Params are the request parameters that determine cache identity for the
// exact tier, per spec §4.6's key definition.
type Params struct {
	Query               string
	CostPreference      string
	AudienceLevel       string
	OutputFormat        string
	IncludeSources      bool
	AttachmentFingerprints []string
}

// ExactKey hashes Params into the exact-tier cache key.
func (p Params) ExactKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%t", p.Query, p.CostPreference, p.AudienceLevel, p.OutputFormat, p.IncludeSources)
	fps := append([]string(nil), p.AttachmentFingerprints...)
	sort.Strings(fps)
	for _, fp := range fps {
		h.Write([]byte("|" + fp))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is a cached answer plus the parameters and embedding it was stored
// under, used by the semantic tier's similarity lookup.
type Entry struct {
	Params    Params
	Embedding []float64
	Answer    any
	StoredAt  time.Time
}

type exactItem struct {
	key      string
	answer   any
	expireAt time.Time
}

// Cache is the two-tier SemanticCache. Safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	exactTTL      time.Duration
	exactCapacity int
	semanticFloor float64

	exactIndex map[string]*list.Element
	exactOrder *list.List // front = most recently used

	semantic []Entry

	embed embedding.Embedder
}

// New builds a Cache from config.
func New(cfg config.CacheConfig, embed embedding.Embedder) *Cache {
	return &Cache{
		exactTTL:      cfg.ExactTTL,
		exactCapacity: cfg.ExactCapacity,
		semanticFloor: cfg.SemanticFloor,
		exactIndex:    make(map[string]*list.Element),
		exactOrder:    list.New(),
		embed:         embed,
	}
}

// GetExact returns a cached answer for an exact parameter match, evicting
// it (and reporting a miss) if its TTL has expired.
func (c *Cache) GetExact(p Params) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := p.ExactKey()
	el, ok := c.exactIndex[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*exactItem)
	if time.Now().After(item.expireAt) {
		c.exactOrder.Remove(el)
		delete(c.exactIndex, key)
		return nil, false
	}
	c.exactOrder.MoveToFront(el)
	return item.answer, true
}

// PutExact stores answer under p's exact key, evicting the least-recently
// used entry if the cache is at capacity.
func (c *Cache) PutExact(p Params, answer any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := p.ExactKey()
	if el, ok := c.exactIndex[key]; ok {
		el.Value.(*exactItem).answer = answer
		el.Value.(*exactItem).expireAt = time.Now().Add(c.exactTTL)
		c.exactOrder.MoveToFront(el)
		return
	}
	item := &exactItem{key: key, answer: answer, expireAt: time.Now().Add(c.exactTTL)}
	el := c.exactOrder.PushFront(item)
	c.exactIndex[key] = el
	if c.exactCapacity > 0 && c.exactOrder.Len() > c.exactCapacity {
		oldest := c.exactOrder.Back()
		if oldest != nil {
			c.exactOrder.Remove(oldest)
			delete(c.exactIndex, oldest.Value.(*exactItem).key)
		}
	}
}

// GetSemantic embeds query and returns the nearest prior entry whose
// cosine similarity meets the hard floor (0.85 reference), or a miss
// otherwise. Below the floor the request must proceed to fresh research
// (spec §4.6 — a lower threshold caused cross-topic contamination).
func (c *Cache) GetSemantic(queryEmbedding []float64) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(queryEmbedding) == 0 {
		return Entry{}, false
	}
	var best Entry
	bestSim := -1.0
	for _, e := range c.semantic {
		sim := embedding.Similarity(queryEmbedding, e.Embedding)
		if sim > bestSim {
			bestSim = sim
			best = e
		}
	}
	if bestSim < c.semanticFloor {
		return Entry{}, false
	}
	return best, true
}

// PutSemantic stores an entry in the similarity tier.
func (c *Cache) PutSemantic(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.StoredAt = time.Now()
	c.semantic = append(c.semantic, e)
}
