package biography

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/utils/logging"
)

const (
	// MaxQueryAttempts bounds query reformulation per event
	MaxQueryAttempts = 3
	// MaxSnippets caps the sources kept per research result
	MaxSnippets = 5
)

// Searcher is the search provider seen by the researcher
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error)
}

// Researcher looks up historical context for events, reformulating the
// query when a search finds nothing relevant.
type Researcher struct {
	searcher Searcher
	now      func() time.Time
}

func NewResearcher(searcher Searcher) *Researcher {
	return &Researcher{searcher: searcher, now: time.Now}
}

func (x *Researcher) Research(ctx context.Context, ev *model.ExtractedEvent) (*model.ResearchResult, error) {
	for i, q := range ResearchQueries(ev) {
		results, err := x.searcher.Search(ctx, q, MaxSnippets)
		if err != nil {
			return nil, err
		}

		relevant := make([]*model.SearchResult, 0, len(results))
		for _, r := range results {
			if strings.TrimSpace(r.Snippet) != "" {
				relevant = append(relevant, r)
			}
		}
		if len(relevant) == 0 {
			logging.From(ctx).Debug("no relevant search result, reformulating", "event", ev.ID, "query", q)
			continue
		}

		return &model.ResearchResult{
			EventID:   ev.ID,
			Query:     q,
			Attempts:  i + 1,
			Sources:   relevant[:min(len(relevant), MaxSnippets)],
			Timestamp: x.now(),
		}, nil
	}

	return nil, nil
}

// ResearchQueries returns the query variants tried for an event, most
// specific first and without duplicates.
func ResearchQueries(ev *model.ExtractedEvent) []string {
	when := ev.When
	if when == "unknown" {
		when = ""
	}
	topic := strings.ReplaceAll(string(ev.Category), "_", " ")

	candidates := []string{
		ev.Description + " historical context",
		strings.TrimSpace(when + " " + ev.Description),
		strings.TrimSpace(when + " " + topic + " history"),
	}

	seen := make(map[string]struct{})
	queries := make([]string, 0, MaxQueryAttempts)
	for _, q := range candidates {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
		if len(queries) == MaxQueryAttempts {
			break
		}
	}
	return queries
}
