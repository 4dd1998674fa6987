package search

import (
	"context"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Provider is a web search backend
type Provider interface {
	// Name returns the provider name used in logs
	Name() string

	// Flags returns CLI flags for this provider
	// Returns nil if no flags are needed
	Flags() []cli.Flag

	// Init prepares the provider after flags are parsed. It returns false
	// when the provider is not configured and should be skipped.
	Init(ctx context.Context) (bool, error)

	// Search returns results ordered by relevance. Failures are transient.
	Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error)
}

// Registry manages search providers and queries the enabled ones in order
type Registry struct {
	all     []Provider
	enabled []Provider
}

// New creates a new search registry with the given providers
func New(providers ...Provider) *Registry {
	return &Registry{all: providers}
}

// Flags returns all provider flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, p := range r.all {
		if f := p.Flags(); f != nil {
			flags = append(flags, f...)
		}
	}
	return flags
}

// Init initializes every provider and keeps the enabled ones
func (r *Registry) Init(ctx context.Context) error {
	r.enabled = nil
	for _, p := range r.all {
		ok, err := p.Init(ctx)
		if err != nil {
			return goerr.Wrap(err, "failed to initialize search provider", goerr.V("provider", p.Name()))
		}
		if ok {
			r.enabled = append(r.enabled, p)
			logging.From(ctx).Debug("search provider enabled", "provider", p.Name())
		}
	}
	return nil
}

// Enabled reports whether at least one provider is available
func (r *Registry) Enabled() bool {
	return len(r.enabled) > 0
}

// Search asks enabled providers in order and merges results until limit
// is reached. Duplicate URLs are dropped. It fails only when every
// provider fails; an empty result set is not an error.
func (r *Registry) Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error) {
	var (
		results []*model.SearchResult
		seen    = make(map[string]struct{})
		errs    []error
	)

	for _, p := range r.enabled {
		found, err := p.Search(ctx, query, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, goerr.Wrap(ctx.Err(), "search interrupted")
			}
			logging.From(ctx).Warn("search provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, err)
			continue
		}

		for _, res := range found {
			key := res.URL
			if key == "" {
				key = res.Title + "|" + res.Snippet
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			results = append(results, res)
			if len(results) >= limit {
				return results, nil
			}
		}
	}

	if len(results) == 0 && len(errs) > 0 && len(errs) == len(r.enabled) {
		return nil, model.Transient(errors.Join(errs...), "all search providers failed", goerr.V("query", query))
	}

	return results, nil
}

// Close releases providers holding connections
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.all {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, goerr.Wrap(err, "failed to close search provider", goerr.V("provider", p.Name())))
			}
		}
	}
	return errors.Join(errs...)
}
