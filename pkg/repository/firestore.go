package repository

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	collectionSessions    = "sessions"
	collectionTurns       = "turns"
	collectionEvents      = "events"
	collectionResearch    = "research"
	collectionVersions    = "versions"
	collectionEvaluations = "evaluations"
)

// Firestore implements Repository. Artifacts are stored in subcollections
// of the session document.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}
	return &Firestore{client: client}, nil
}

func (r *Firestore) Close() error {
	if err := r.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}

func (r *Firestore) session(id model.SessionID) *firestore.DocumentRef {
	return r.client.Collection(collectionSessions).Doc(string(id))
}

func (r *Firestore) PutSession(ctx context.Context, record *model.SessionRecord) error {
	if _, err := r.session(record.ID).Set(ctx, record); err != nil {
		return goerr.Wrap(err, "failed to put session", goerr.V("id", record.ID))
	}
	return nil
}

func (r *Firestore) GetSession(ctx context.Context, id model.SessionID) (*model.SessionRecord, error) {
	doc, err := r.session(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "session not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("id", id))
	}

	var record model.SessionRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("id", id))
	}
	return &record, nil
}

func (r *Firestore) ListSessions(ctx context.Context, offset, limit int) ([]*model.SessionRecord, error) {
	q := r.client.Collection(collectionSessions).
		OrderBy("created_at", firestore.Desc).
		Offset(offset).
		Limit(limit)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var records []*model.SessionRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate sessions")
		}

		var record model.SessionRecord
		if err := doc.DataTo(&record); err != nil {
			return nil, goerr.Wrap(err, "failed to decode session", goerr.V("doc", doc.Ref.ID))
		}
		records = append(records, &record)
	}
	return records, nil
}

// create writes a document only when it does not exist yet
func (r *Firestore) create(ctx context.Context, id model.SessionID, collection, docID string, data any) error {
	ref := r.session(id).Collection(collection).Doc(docID)
	if _, err := ref.Create(ctx, data); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(model.ErrAlreadyExists, "artifact already exists",
				goerr.V("session", id),
				goerr.V("collection", collection),
				goerr.V("doc", docID))
		}
		return goerr.Wrap(err, "failed to create artifact",
			goerr.V("session", id),
			goerr.V("collection", collection),
			goerr.V("doc", docID))
	}
	return nil
}

func (r *Firestore) PutTurn(ctx context.Context, id model.SessionID, turn *model.InterviewTurn) error {
	return r.create(ctx, id, collectionTurns, fmt.Sprintf("%05d", turn.Index), turn)
}

func (r *Firestore) PutEvent(ctx context.Context, id model.SessionID, event *model.ExtractedEvent) error {
	return r.create(ctx, id, collectionEvents, event.ID, event)
}

func (r *Firestore) PutResearch(ctx context.Context, id model.SessionID, result *model.ResearchResult) error {
	return r.create(ctx, id, collectionResearch, result.EventID, result)
}

func (r *Firestore) PutVersion(ctx context.Context, id model.SessionID, version model.BiographyVersion) error {
	return r.create(ctx, id, collectionVersions, fmt.Sprintf("%05d", version.Number), version)
}

func (r *Firestore) PutEvaluation(ctx context.Context, id model.SessionID, eval model.EvaluationResult) error {
	return r.create(ctx, id, collectionEvaluations, fmt.Sprintf("%05d", eval.Version), eval)
}

func (r *Firestore) GetArtifacts(ctx context.Context, id model.SessionID) (*model.Artifacts, error) {
	if _, err := r.GetSession(ctx, id); err != nil {
		return nil, err
	}

	var out model.Artifacts
	var err error
	if out.Turns, err = listDocs[model.InterviewTurn](ctx, r.session(id).Collection(collectionTurns).OrderBy("index", firestore.Asc)); err != nil {
		return nil, err
	}
	if out.Events, err = listDocs[model.ExtractedEvent](ctx, r.session(id).Collection(collectionEvents).Query); err != nil {
		return nil, err
	}
	if out.Research, err = listDocs[model.ResearchResult](ctx, r.session(id).Collection(collectionResearch).Query); err != nil {
		return nil, err
	}

	versions, err := listDocs[model.BiographyVersion](ctx, r.session(id).Collection(collectionVersions).OrderBy("number", firestore.Asc))
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		out.Versions = append(out.Versions, *v)
	}

	evals, err := listDocs[model.EvaluationResult](ctx, r.session(id).Collection(collectionEvaluations).OrderBy("version", firestore.Asc))
	if err != nil {
		return nil, err
	}
	for _, e := range evals {
		out.Evaluations = append(out.Evaluations, *e)
	}

	return &out, nil
}

func listDocs[T any](ctx context.Context, q firestore.Query) ([]*T, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate documents")
		}

		var v T
		if err := doc.DataTo(&v); err != nil {
			return nil, goerr.Wrap(err, "failed to decode document", goerr.V("doc", doc.Ref.ID))
		}
		out = append(out, &v)
	}
	return out, nil
}
