package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
)

type memorySession struct {
	record      model.SessionRecord
	turns       map[int]model.InterviewTurn
	events      map[string]model.ExtractedEvent
	research    map[string]model.ResearchResult
	versions    map[int]model.BiographyVersion
	evaluations map[int]model.EvaluationResult
}

// Memory is an in-process Repository for local runs and tests
type Memory struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*memorySession
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[model.SessionID]*memorySession)}
}

func (r *Memory) get(id model.SessionID) *memorySession {
	s, ok := r.sessions[id]
	if !ok {
		s = &memorySession{
			record:      model.SessionRecord{ID: id},
			turns:       make(map[int]model.InterviewTurn),
			events:      make(map[string]model.ExtractedEvent),
			research:    make(map[string]model.ResearchResult),
			versions:    make(map[int]model.BiographyVersion),
			evaluations: make(map[int]model.EvaluationResult),
		}
		r.sessions[id] = s
	}
	return s
}

func (r *Memory) PutSession(ctx context.Context, record *model.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(record.ID).record = *record
	return nil
}

func (r *Memory) GetSession(ctx context.Context, id model.SessionID) (*model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok || s.record.CreatedAt.IsZero() {
		return nil, goerr.Wrap(model.ErrNotFound, "session not found", goerr.V("id", id))
	}
	record := s.record
	return &record, nil
}

func (r *Memory) ListSessions(ctx context.Context, offset, limit int) ([]*model.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*model.SessionRecord, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.record.CreatedAt.IsZero() {
			continue
		}
		record := s.record
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if offset >= len(records) {
		return nil, nil
	}
	end := min(offset+limit, len(records))
	return records[offset:end], nil
}

func putOnce[K comparable, V any](m map[K]V, key K, v V, id model.SessionID, kind string) error {
	if _, ok := m[key]; ok {
		return goerr.Wrap(model.ErrAlreadyExists, "artifact already exists",
			goerr.V("session", id),
			goerr.V("kind", kind),
			goerr.V("key", fmt.Sprint(key)))
	}
	m[key] = v
	return nil
}

func (r *Memory) PutTurn(ctx context.Context, id model.SessionID, turn *model.InterviewTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return putOnce(r.get(id).turns, turn.Index, *turn, id, "turn")
}

func (r *Memory) PutEvent(ctx context.Context, id model.SessionID, event *model.ExtractedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := *event
	ev.SourceTurns = append([]int(nil), event.SourceTurns...)
	return putOnce(r.get(id).events, event.ID, ev, id, "event")
}

func (r *Memory) PutResearch(ctx context.Context, id model.SessionID, result *model.ResearchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return putOnce(r.get(id).research, result.EventID, *result, id, "research")
}

func (r *Memory) PutVersion(ctx context.Context, id model.SessionID, version model.BiographyVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return putOnce(r.get(id).versions, version.Number, version, id, "version")
}

func (r *Memory) PutEvaluation(ctx context.Context, id model.SessionID, eval model.EvaluationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return putOnce(r.get(id).evaluations, eval.Version, eval, id, "evaluation")
}

func (r *Memory) GetArtifacts(ctx context.Context, id model.SessionID) (*model.Artifacts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "session not found", goerr.V("id", id))
	}

	out := &model.Artifacts{}
	for _, k := range sortedKeys(s.turns) {
		t := s.turns[k]
		out.Turns = append(out.Turns, &t)
	}
	for _, k := range sortedKeys(s.events) {
		ev := s.events[k]
		out.Events = append(out.Events, &ev)
	}
	for _, k := range sortedKeys(s.research) {
		rr := s.research[k]
		out.Research = append(out.Research, &rr)
	}
	for _, k := range sortedKeys(s.versions) {
		out.Versions = append(out.Versions, s.versions[k])
	}
	for _, k := range sortedKeys(s.evaluations) {
		out.Evaluations = append(out.Evaluations, s.evaluations[k])
	}
	return out, nil
}

func sortedKeys[K int | string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
