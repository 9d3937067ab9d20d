package store

import (
	"sync"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/models"
)

// Cache persists the last successful extraction per URL across runs.
// Entries are written through immediately and only on success, so a cached
// record is always a complete, usable grant.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]models.ExtractedGrant
	log     *zap.Logger
}

func NewCache(path string, log *zap.Logger) *Cache {
	c := &Cache{
		path:    path,
		entries: map[string]models.ExtractedGrant{},
		log:     log.With(zap.String("store", "cache")),
	}
	loadJSON(path, &c.entries, c.log)
	c.log.Debug("cache loaded", zap.Int("entries", len(c.entries)))
	return c
}

// Get returns the cached record for url, if any.
func (c *Cache) Get(url string) (models.ExtractedGrant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.entries[url]
	return g, ok
}

// Put stores a successful extraction and writes the file through. Failed
// extractions are rejected so they stay eligible for retry on later runs.
func (c *Cache) Put(g models.ExtractedGrant) error {
	if !g.ExtractionSuccess {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[g.URL] = g
	if err := saveJSON(c.path, c.entries); err != nil {
		c.log.Error("cache write failed", zap.Error(err))
		return err
	}
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
