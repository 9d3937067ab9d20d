package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-scout/internal/models"
)

type sentFile struct {
	URLToRecipients map[string]map[string]models.SentRecord `json:"url_to_recipients"`
	Stats           sentStats                               `json:"stats"`
}

type sentStats struct {
	TotalSent   int    `json:"total_sent"`
	LastUpdated string `json:"last_updated"`
}

// SentGrants tracks which (grant URL, recipient) pairs have been notified.
// A pair counts as sent only when the delivery was confirmed; failed sends
// remain eligible for retry on later runs.
type SentGrants struct {
	mu   sync.Mutex
	path string
	data sentFile
	log  *zap.Logger
}

func NewSentGrants(path string, log *zap.Logger) *SentGrants {
	s := &SentGrants{
		path: path,
		data: sentFile{URLToRecipients: map[string]map[string]models.SentRecord{}},
		log:  log.With(zap.String("store", "sent_grants")),
	}
	loadJSON(path, &s.data, s.log)
	if s.data.URLToRecipients == nil {
		s.data.URLToRecipients = map[string]map[string]models.SentRecord{}
	}
	return s
}

// MarkSent records a delivery attempt and persists the store.
func (s *SentGrants) MarkSent(url, email string, delivered bool, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().Format(time.RFC3339)
	rec, ok := s.data.URLToRecipients[url]
	if !ok {
		rec = map[string]models.SentRecord{}
		s.data.URLToRecipients[url] = rec
	}
	rec[email] = models.SentRecord{
		SentDate:       now,
		EmailDelivered: delivered,
		EmailID:        emailID,
	}
	s.data.Stats.LastUpdated = now
	total := 0
	for _, emails := range s.data.URLToRecipients {
		for _, r := range emails {
			if r.EmailDelivered {
				total++
			}
		}
	}
	s.data.Stats.TotalSent = total
	return saveJSON(s.path, &s.data)
}

// TotalDelivered returns the number of confirmed deliveries on record.
func (s *SentGrants) TotalDelivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Stats.TotalSent
}

// WasSentTo reports whether url was successfully delivered to email.
func (s *SentGrants) WasSentTo(url, email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data.URLToRecipients[url]
	if !ok {
		return false
	}
	r, ok := rec[email]
	return ok && r.EmailDelivered
}
