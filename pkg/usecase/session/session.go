package session

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/repository"
)

// UseCase reads persisted sessions
type UseCase struct {
	repo repository.Repository
}

func New(repo repository.Repository) *UseCase {
	return &UseCase{repo: repo}
}

// ListOptions contains options for listing sessions
type ListOptions struct {
	// Status keeps only sessions in this phase when set
	Status model.Phase
	Offset int
	Limit  int
}

// List retrieves session records, newest first
func (u *UseCase) List(ctx context.Context, opts ListOptions) ([]*model.SessionRecord, error) {
	records, err := u.repo.ListSessions(ctx, opts.Offset, opts.Limit)
	if err != nil {
		return nil, err
	}

	if opts.Status == "" {
		return records, nil
	}
	filtered := make([]*model.SessionRecord, 0, len(records))
	for _, r := range records {
		if r.Status == opts.Status {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// Detail is a session record with all its artifacts
type Detail struct {
	Record    *model.SessionRecord `json:"record"`
	Artifacts *model.Artifacts     `json:"artifacts"`
}

// Show retrieves a session and every artifact it produced
func (u *UseCase) Show(ctx context.Context, id model.SessionID) (*Detail, error) {
	record, err := u.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	arts, err := u.repo.GetArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Record: record, Artifacts: arts}, nil
}

// Biography returns one biography version of a session. Version 0 means
// the final version, or the latest one when the session has none.
func (u *UseCase) Biography(ctx context.Context, id model.SessionID, version int) (*model.BiographyVersion, error) {
	detail, err := u.Show(ctx, id)
	if err != nil {
		return nil, err
	}

	versions := detail.Artifacts.Versions
	if len(versions) == 0 {
		return nil, goerr.Wrap(model.ErrVersionNotFound, "session has no biography", goerr.V("id", id))
	}
	if version == 0 {
		version = detail.Record.FinalVersion
	}
	if version == 0 {
		version = versions[len(versions)-1].Number
	}

	for _, v := range versions {
		if v.Number == version {
			return &v, nil
		}
	}
	return nil, goerr.Wrap(model.ErrVersionNotFound, "biography version not found",
		goerr.V("id", id),
		goerr.V("version", version))
}
