package repository

import (
	"context"

	"github.com/m-mizutani/saga/pkg/model"
)

// Repository persists sessions and their artifacts. Every artifact is
// written once; writing an existing artifact fails with
// model.ErrAlreadyExists. Only the session record is updated in place.
type Repository interface {
	// PutSession saves or updates a session record
	PutSession(ctx context.Context, record *model.SessionRecord) error

	// GetSession retrieves a session record by ID
	GetSession(ctx context.Context, id model.SessionID) (*model.SessionRecord, error)

	// ListSessions retrieves session records, newest first
	ListSessions(ctx context.Context, offset, limit int) ([]*model.SessionRecord, error)

	PutTurn(ctx context.Context, id model.SessionID, turn *model.InterviewTurn) error
	PutEvent(ctx context.Context, id model.SessionID, event *model.ExtractedEvent) error
	PutResearch(ctx context.Context, id model.SessionID, result *model.ResearchResult) error
	PutVersion(ctx context.Context, id model.SessionID, version model.BiographyVersion) error
	PutEvaluation(ctx context.Context, id model.SessionID, eval model.EvaluationResult) error

	// GetArtifacts loads every artifact of a session in order
	GetArtifacts(ctx context.Context, id model.SessionID) (*model.Artifacts, error)
}
