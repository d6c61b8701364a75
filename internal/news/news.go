// Package news turns a raw pool of fetched items into a short list of
// plausible candidates for one user and computes the cheap local relevance
// score the ranking pipeline starts from.
package news

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// RawItem is what a source produces. Body is optional.
type RawItem struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Source    string    `json:"source"`
	Published time.Time `json:"published"`
	Body      string    `json:"body,omitempty"`
}

// Candidate is a RawItem that passed filtering, plus everything the scoring
// pipeline derives for it. Only ID outlives a fetch cycle.
type Candidate struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	Source          string    `json:"source"`
	Published       time.Time `json:"published"`
	Body            string    `json:"-"`
	ExtractedTopics []string  `json:"extracted_topics,omitempty"`
	Relevance       float64   `json:"relevance"`
	Tier1Score      float64   `json:"tier1_score"`
	OracleScore     int       `json:"oracle_score,omitempty"`
	Explanation     string    `json:"explanation,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	Viewed          bool      `json:"viewed,omitempty"`
}

// ID is the content hash of title|url. Surrounding whitespace is ignored so
// the same article hashes the same across fetches.
func ID(title, url string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(title) + "|" + strings.TrimSpace(url)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// NewCandidate builds a candidate from a raw item.
func NewCandidate(it RawItem) Candidate {
	return Candidate{
		ID:        ID(it.Title, it.URL),
		Title:     strings.TrimSpace(it.Title),
		URL:       strings.TrimSpace(it.URL),
		Source:    it.Source,
		Published: it.Published,
		Body:      it.Body,
	}
}

// Text is the lowercased title and body used for keyword matching.
func (c Candidate) Text() string {
	return strings.ToLower(c.Title + " " + c.Body)
}

// DaysOld counts calendar days between the publish date and now, both in
// now's location. Unknown dates count as published today.
func DaysOld(published, now time.Time) int {
	if published.IsZero() {
		return 0
	}
	p := published.In(now.Location())
	pd := time.Date(p.Year(), p.Month(), p.Day(), 0, 0, 0, 0, now.Location())
	nd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	days := int(nd.Sub(pd).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
