// Package cache implements the board cache: a namespaced TTL key-value
// backend plus content-addressed board keys and a per-view index of issued
// keys for targeted invalidation. Reads fail open; a broken backend only
// costs recomputation.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	GroupBoards = "boards"
	GroupMeta   = "meta"
)

// Backend is a namespaced key-value store with per-entry TTL. No
// transactional guarantees are required of implementations.
type Backend interface {
	Get(group, key string) ([]byte, bool, error)
	Set(group, key string, value []byte, ttl time.Duration) error
	Delete(group, key string) error
}

// KeyRequest captures everything that shapes a board payload. The
// LatestModified hint makes keys content-addressed: any write that changes
// the view's max updated_at produces a new key, so stale entries are never
// returned even if explicit invalidation is lost.
type KeyRequest struct {
	ViewID         string
	StageKeys      []string
	MaskGuardian   bool
	MaskSensitive  bool
	ReadOnly       bool
	IsPublic       bool
	LatestModified time.Time
}

func BoardKey(req KeyRequest) string {
	stages := append([]string(nil), req.StageKeys...)
	sort.Strings(stages)
	stages = dedupe(stages)
	raw := fmt.Sprintf("board|%s|%s|%t|%t|%t|%t|%d",
		req.ViewID,
		strings.Join(stages, ","),
		req.MaskGuardian,
		req.MaskSensitive,
		req.ReadOnly,
		req.IsPublic,
		req.LatestModified.UTC().UnixNano(),
	)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}

type Options struct {
	BoardTTL time.Duration
	MetaTTL  time.Duration
}

// BoardCache tracks which keys were issued for which view so writes can
// purge exactly the affected entries. The index is owned here, not kept as
// ambient state in the backend.
type BoardCache struct {
	backend  Backend
	boardTTL time.Duration
	metaTTL  time.Duration

	mu       sync.Mutex
	viewKeys map[string]map[string]struct{}
	metaKeys map[string]struct{}
}

func New(backend Backend, opts Options) *BoardCache {
	boardTTL := opts.BoardTTL
	if boardTTL <= 0 {
		boardTTL = 5 * time.Second
	}
	metaTTL := opts.MetaTTL
	if metaTTL <= 0 {
		metaTTL = 120 * time.Second
	}
	return &BoardCache{
		backend:  backend,
		boardTTL: boardTTL,
		metaTTL:  metaTTL,
		viewKeys: make(map[string]map[string]struct{}),
		metaKeys: make(map[string]struct{}),
	}
}

// GetBoard returns the cached payload bytes for key, or a miss. Backend
// errors degrade to a miss.
func (c *BoardCache) GetBoard(key string) ([]byte, bool) {
	value, found, err := c.backend.Get(GroupBoards, key)
	if err != nil || !found {
		return nil, false
	}
	return value, true
}

func (c *BoardCache) SetBoard(viewID, key string, payload []byte) {
	if err := c.backend.Set(GroupBoards, key, payload, c.boardTTL); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.viewKeys[viewID]
	if !ok {
		keys = make(map[string]struct{})
		c.viewKeys[viewID] = keys
	}
	keys[key] = struct{}{}
}

// InvalidateView deletes every board key issued for the view.
func (c *BoardCache) InvalidateView(viewID string) {
	if viewID == "" {
		return
	}
	c.mu.Lock()
	keys := c.viewKeys[viewID]
	delete(c.viewKeys, viewID)
	c.mu.Unlock()
	for key := range keys {
		_ = c.backend.Delete(GroupBoards, key)
	}
}

// Flush purges every tracked view and all cached metadata.
func (c *BoardCache) Flush() {
	c.mu.Lock()
	views := make([]string, 0, len(c.viewKeys))
	for viewID := range c.viewKeys {
		views = append(views, viewID)
	}
	c.mu.Unlock()
	for _, viewID := range views {
		c.InvalidateView(viewID)
	}
	c.InvalidateMeta()
}

func (c *BoardCache) GetMeta(key string) ([]byte, bool) {
	value, found, err := c.backend.Get(GroupMeta, key)
	if err != nil || !found {
		return nil, false
	}
	return value, true
}

func (c *BoardCache) SetMeta(key string, value []byte) {
	if err := c.backend.Set(GroupMeta, key, value, c.metaTTL); err != nil {
		return
	}
	c.mu.Lock()
	c.metaKeys[key] = struct{}{}
	c.mu.Unlock()
}

// InvalidateMeta drops all cached catalog metadata; called on structural
// (stage/view definition) changes.
func (c *BoardCache) InvalidateMeta() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.metaKeys))
	for key := range c.metaKeys {
		keys = append(keys, key)
	}
	c.metaKeys = make(map[string]struct{})
	c.mu.Unlock()
	for _, key := range keys {
		_ = c.backend.Delete(GroupMeta, key)
	}
}
