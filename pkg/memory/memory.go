// Package memory keeps short summaries of earlier runs and retrieves the ones
// related to a new request by keyword overlap.
package memory

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyContent is returned when an entry has no content.
var ErrEmptyContent = errors.New("memory entry has no content")

// Entry kinds written by the memory agent.
const (
	KindRunSummary = "run_summary"
	KindNote       = "note"
)

// Entry is one stored memory.
type Entry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Keywords  []string  `json:"keywords"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a search hit. Score is in (0, 1].
type Match struct {
	Entry
	Score float64 `json:"score"`
}

// Store persists entries.
type Store interface {
	// Put stores e, filling ID, Keywords and CreatedAt when empty.
	Put(ctx context.Context, e Entry) (Entry, error)
	// Search returns up to limit entries sharing keywords with query, best first.
	Search(ctx context.Context, query string, limit int) ([]Match, error)
	// Prune deletes entries created before cutoff and reports how many went.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

const maxKeywords = 20

//nolint:gochecknoglobals // compiled once
var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_-]+`)

//nolint:gochecknoglobals // static word list
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"are": true, "was": true, "were": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "should": true, "could": true, "may": true,
	"might": true, "must": true, "can": true, "this": true, "that": true,
	"these": true, "those": true, "you": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "into": true, "please": true, "create": true, "make": true,
}

// Keywords extracts up to 20 lower-cased terms from text, most frequent first.
// Words shorter than three characters and common stop words are dropped.
func Keywords(text string) []string {
	freq := make(map[string]int)
	var order []string
	for _, token := range tokenPattern.FindAllString(text, -1) {
		lower := strings.ToLower(token)
		if len(lower) < 3 || stopWords[lower] {
			continue
		}
		if freq[lower] == 0 {
			order = append(order, lower)
		}
		freq[lower]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

// Score is the share of query keywords found among the entry's keywords.
func Score(query []string, e *Entry) float64 {
	if len(query) == 0 {
		return 0
	}
	have := make(map[string]bool, len(e.Keywords))
	for _, k := range e.Keywords {
		have[k] = true
	}
	hits := 0
	for _, q := range query {
		if have[q] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// prepare validates e and fills its derived fields.
func prepare(e Entry, now time.Time) (Entry, error) {
	if strings.TrimSpace(e.Content) == "" {
		return e, ErrEmptyContent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Kind == "" {
		e.Kind = KindNote
	}
	if len(e.Keywords) == 0 {
		e.Keywords = Keywords(e.Content)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// rank scores candidates against query, drops non-matches, and orders the
// rest by score, then recency.
func rank(query []string, candidates []Entry, limit int) []Match {
	matches := make([]Match, 0, len(candidates))
	for i := range candidates {
		if s := Score(query, &candidates[i]); s > 0 {
			matches = append(matches, Match{Entry: candidates[i], Score: s})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
