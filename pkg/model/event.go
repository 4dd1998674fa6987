package model

import (
	"fmt"
	"strings"
	"time"
)

// EventCategory classifies an extracted life event
type EventCategory string

const (
	CategoryHistoricalEvent  EventCategory = "historical_event"
	CategorySocialPhenomenon EventCategory = "social_phenomenon"
	CategoryMigration        EventCategory = "migration"
	CategoryEducation        EventCategory = "education"
	CategoryWork             EventCategory = "work"
	CategoryFamily           EventCategory = "family"
	CategoryHealth           EventCategory = "health"
	CategoryAchievement      EventCategory = "achievement"
	CategoryPersonal         EventCategory = "personal"
)

// EventCategories lists every known category in a stable order
var EventCategories = []EventCategory{
	CategoryHistoricalEvent,
	CategorySocialPhenomenon,
	CategoryMigration,
	CategoryEducation,
	CategoryWork,
	CategoryFamily,
	CategoryHealth,
	CategoryAchievement,
	CategoryPersonal,
}

// DefaultResearchCategories are the categories that benefit from external context
var DefaultResearchCategories = []EventCategory{
	CategoryHistoricalEvent,
	CategorySocialPhenomenon,
	CategoryMigration,
	CategoryWork,
}

// ParseEventCategory normalizes a category label. Unknown labels map to personal.
func ParseEventCategory(s string) EventCategory {
	v := EventCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, c := range EventCategories {
		if c == v {
			return c
		}
	}
	return CategoryPersonal
}

// ExtractedEvent is a life event derived from the transcript. It is never
// edited by hand; a new extraction replaces the whole set.
type ExtractedEvent struct {
	ID          string        `json:"id" firestore:"id"`
	When        string        `json:"when" firestore:"when"`
	Category    EventCategory `json:"category" firestore:"category"`
	Description string        `json:"description" firestore:"description"`
	SourceTurns []int         `json:"source_turns" firestore:"source_turns"`
	// Confidence is lowered for partial or ambiguous mentions
	Confidence float64 `json:"confidence" firestore:"confidence"`
}

// Key identifies an event by content, used for deduplication and ordering
func (e *ExtractedEvent) Key() string {
	return fmt.Sprintf("%s|%s|%s", e.When, e.Category, strings.ToLower(e.Description))
}

// SearchResult is one ranked item from a search provider
type SearchResult struct {
	Title   string `json:"title" firestore:"title"`
	URL     string `json:"url" firestore:"url"`
	Snippet string `json:"snippet" firestore:"snippet"`
}

// ResearchResult is historical context attached to one event
type ResearchResult struct {
	EventID   string          `json:"event_id" firestore:"event_id"`
	Query     string          `json:"query" firestore:"query"`
	Attempts  int             `json:"attempts" firestore:"attempts"`
	Sources   []*SearchResult `json:"sources" firestore:"sources"`
	Timestamp time.Time       `json:"timestamp" firestore:"timestamp"`
}
