package biography

import (
	"context"

	"github.com/m-mizutani/saga/pkg/model"
)

// InterviewEngine produces the next question for the session
type InterviewEngine interface {
	NextQuestion(ctx context.Context, s *model.Session) (string, error)
}

// EventExtractor derives life events from the full transcript. The same
// transcript must give the same events.
type EventExtractor interface {
	Extract(ctx context.Context, turns []*model.InterviewTurn) ([]*model.ExtractedEvent, error)
}

// HistoryResearcher finds historical context for one event. A nil result
// with a nil error means nothing relevant was found.
type HistoryResearcher interface {
	Research(ctx context.Context, ev *model.ExtractedEvent) (*model.ResearchResult, error)
}

// WriteInput is everything a draft is written from
type WriteInput struct {
	Subject  *model.Subject
	Turns    []*model.InterviewTurn
	Events   []*model.ExtractedEvent
	Research []*model.ResearchResult
	// Prior and Feedback are set from the second draft on
	Prior    *model.BiographyVersion
	Feedback []string
}

// BiographyWriter writes a full biography draft
type BiographyWriter interface {
	Write(ctx context.Context, in *WriteInput) (string, error)
}

// QualityEvaluator scores a draft against the fixed rubric
type QualityEvaluator interface {
	Evaluate(ctx context.Context, subject *model.Subject, text string) (*model.EvaluationResult, error)
}
