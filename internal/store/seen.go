package store

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type seenFile struct {
	SeenURLs map[string]string `json:"seen_urls"`
	Stats    seenStats         `json:"stats"`
}

type seenStats struct {
	TotalSeen   int    `json:"total_seen"`
	LastUpdated string `json:"last_updated"`
}

// SeenURLs records every URL the scraper has surfaced, keyed to its
// first-seen timestamp, so later runs can skip already-processed links.
type SeenURLs struct {
	mu   sync.Mutex
	path string
	data seenFile
	log  *zap.Logger
}

func NewSeenURLs(path string, log *zap.Logger) *SeenURLs {
	s := &SeenURLs{
		path: path,
		data: seenFile{SeenURLs: map[string]string{}},
		log:  log.With(zap.String("store", "seen_urls")),
	}
	loadJSON(path, &s.data, s.log)
	if s.data.SeenURLs == nil {
		s.data.SeenURLs = map[string]string{}
	}
	return s
}

func (s *SeenURLs) Seen(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data.SeenURLs[url]
	return ok
}

// MarkSeen records urls not seen before, keeping the original first-seen
// timestamp for the rest, and persists the store.
func (s *SeenURLs) MarkSeen(urls ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Format(time.RFC3339)
	for _, u := range urls {
		if _, ok := s.data.SeenURLs[u]; !ok {
			s.data.SeenURLs[u] = now
		}
	}
	s.data.Stats.TotalSeen = len(s.data.SeenURLs)
	s.data.Stats.LastUpdated = now
	return saveJSON(s.path, &s.data)
}

// FilterNew returns the subset of urls not yet recorded, in input order.
func (s *SeenURLs) FilterNew(urls []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := s.data.SeenURLs[u]; !ok {
			fresh = append(fresh, u)
		}
	}
	return fresh
}

func (s *SeenURLs) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.SeenURLs)
}
