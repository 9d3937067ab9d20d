package models

import "time"

// Category is the terminal classification of a discovered URL.
// Once assigned within a run it is never retracted.
type Category string

const (
	CategorySingleGrant Category = "single_grant"
	CategoryGrantList   Category = "grant_list"
	CategoryOther       Category = "other"
	CategoryError       Category = "error"
)

// GrantCandidate is the per-run output of the classification stage.
type GrantCandidate struct {
	URL        string   `json:"url"`
	Category   Category `json:"category"`
	Reason     string   `json:"reason"`
	Confidence float64  `json:"confidence,omitempty"`
}

// ExtractedGrant is the structured record produced for a single URL.
// When ExtractionSuccess is false every content field is nil and Error
// carries the captured failure; IsGrant=false is a valid terminal state,
// not a failure.
type ExtractedGrant struct {
	URL               string  `json:"url"`
	Title             *string `json:"title"`
	Organization      *string `json:"organization"`
	Abstract          *string `json:"abstract"`
	Deadline          *string `json:"deadline"` // YYYY-MM-DD or null
	FundingAmount     *string `json:"funding_amount"`
	ExtractionSuccess bool    `json:"extraction_success"`
	ExtractionDate    string  `json:"extraction_date"`
	Error             *string `json:"error"`
	IsGrant           bool    `json:"is_grant"`
}

// FailedExtraction builds the canonical failure record for a URL.
func FailedExtraction(url, errMsg string) ExtractedGrant {
	return ExtractedGrant{
		URL:               url,
		ExtractionSuccess: false,
		ExtractionDate:    time.Now().Format(time.RFC3339),
		Error:             &errMsg,
	}
}

// SiteProfile carries the persisted per-domain extraction heuristics.
// Profiles are never deleted and Observations only grows.
type SiteProfile struct {
	Domain               string  `json:"domain"`
	Observations         int     `json:"observations"`
	DeadlineSuccessRate  float64 `json:"deadline_extraction_success_rate"`
	HasJSLoadedDeadline  bool    `json:"has_js_loaded_deadline"`
	HasExpandableContent bool    `json:"has_expandable_content"`
	RecommendedTimeout   int     `json:"recommended_timeout"`
	RecommendedClicks    int     `json:"recommended_clicks"`
	LastUpdated          string  `json:"last_updated"`
	Notes                string  `json:"notes,omitempty"`
}

// SentRecord marks one delivery attempt of a grant to one recipient.
// Only delivered records suppress re-notification.
type SentRecord struct {
	SentDate       string `json:"sent_date"`
	EmailDelivered bool   `json:"email_delivered"`
	EmailID        string `json:"email_id"`
}

// RecipientMatch pairs a recipient with the keywords that matched a grant.
type RecipientMatch struct {
	Email           string   `json:"email"`
	MatchedKeywords []string `json:"matched_keywords"`
}

// GrantMatch is one grant together with every recipient it matched.
type GrantMatch struct {
	Grant         ExtractedGrant   `json:"grant"`
	MatchedEmails []RecipientMatch `json:"matched_emails"`
}
