package biography

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/repository"
)

// Archiver hands session artifacts to the persistence layer. Artifacts
// are written once and never overwritten.
type Archiver struct {
	repo    repository.Repository
	storage adapter.Storage
}

type ArchiverOption func(*Archiver)

// WithArchiveStorage also writes every biography version and the final
// report as objects.
func WithArchiveStorage(storage adapter.Storage) ArchiverOption {
	return func(x *Archiver) {
		x.storage = storage
	}
}

func NewArchiver(repo repository.Repository, opts ...ArchiverOption) *Archiver {
	x := &Archiver{repo: repo}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// checkpoint counts the artifacts of a session already persisted
type checkpoint struct {
	turns       int
	events      int
	research    int
	versions    int
	evaluations int
}

func ignoreExists(err error) error {
	if errors.Is(err, model.ErrAlreadyExists) {
		return nil
	}
	return err
}

// Sync persists the artifacts added since the last checkpoint and the
// current session record.
func (x *Archiver) Sync(ctx context.Context, s *model.Session, cp *checkpoint, cfg Config) error {
	id := s.ID

	for ; cp.turns < len(s.Turns); cp.turns++ {
		if err := ignoreExists(x.repo.PutTurn(ctx, id, s.Turns[cp.turns])); err != nil {
			return goerr.Wrap(err, "failed to archive turn", goerr.V("index", cp.turns))
		}
	}
	for ; cp.events < len(s.Events); cp.events++ {
		if err := ignoreExists(x.repo.PutEvent(ctx, id, s.Events[cp.events])); err != nil {
			return goerr.Wrap(err, "failed to archive event", goerr.V("event_id", s.Events[cp.events].ID))
		}
	}
	for ; cp.research < len(s.Research); cp.research++ {
		if err := ignoreExists(x.repo.PutResearch(ctx, id, s.Research[cp.research])); err != nil {
			return goerr.Wrap(err, "failed to archive research", goerr.V("event_id", s.Research[cp.research].EventID))
		}
	}

	versions := s.Versions.All()
	for ; cp.versions < len(versions); cp.versions++ {
		v := versions[cp.versions]
		if err := ignoreExists(x.repo.PutVersion(ctx, id, v)); err != nil {
			return goerr.Wrap(err, "failed to archive version", goerr.V("version", v.Number))
		}
		if x.storage != nil {
			key := fmt.Sprintf("%s/v%03d.md", id, v.Number)
			if err := ignoreExists(x.storage.PutOnce(ctx, key, "text/markdown", []byte(v.Text))); err != nil {
				return goerr.Wrap(err, "failed to store version", goerr.V("key", key))
			}
		}
	}

	evals := s.Evaluations.All()
	for ; cp.evaluations < len(evals); cp.evaluations++ {
		if err := ignoreExists(x.repo.PutEvaluation(ctx, id, evals[cp.evaluations])); err != nil {
			return goerr.Wrap(err, "failed to archive evaluation", goerr.V("version", evals[cp.evaluations].Version))
		}
	}

	if err := x.repo.PutSession(ctx, NewReport(s, cfg).Record(s.Subject)); err != nil {
		return goerr.Wrap(err, "failed to archive session record")
	}
	return nil
}

// Finalize persists the remaining artifacts and the final report of a
// session in a terminal phase.
func (x *Archiver) Finalize(ctx context.Context, s *model.Session, cp *checkpoint, report *Report, cfg Config) error {
	if err := x.Sync(ctx, s, cp, cfg); err != nil {
		return err
	}
	if x.storage == nil {
		return nil
	}

	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal report")
	}
	key := fmt.Sprintf("%s/report.json", s.ID)
	if err := ignoreExists(x.storage.PutOnce(ctx, key, "application/json", raw)); err != nil {
		return goerr.Wrap(err, "failed to store report", goerr.V("key", key))
	}

	if report.FinalVersion > 0 {
		key := fmt.Sprintf("%s/biography.md", s.ID)
		if err := ignoreExists(x.storage.PutOnce(ctx, key, "text/markdown", []byte(report.Markdown()))); err != nil {
			return goerr.Wrap(err, "failed to store biography", goerr.V("key", key))
		}
	}
	return nil
}
