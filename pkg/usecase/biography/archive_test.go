package biography_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/subject"
	"github.com/m-mizutani/saga/pkg/usecase/biography"
)

type mockStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *mockStorage) PutOnce(ctx context.Context, key string, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	if _, ok := m.objects[key]; ok {
		return goerr.Wrap(model.ErrAlreadyExists, "object exists", goerr.V("key", key))
	}
	m.objects[key] = data
	return nil
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "object not found", goerr.V("key", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestArchiverWritesObjects(t *testing.T) {
	f := newFixture()
	f.evaluator.scores = []float64{6, 9}
	storage := &mockStorage{}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 1, MaxRefinements: 3, Threshold: 8.0}

	c := f.coordinator(t, cfg, biography.WithArchiver(biography.NewArchiver(f.repo, biography.WithArchiveStorage(storage))))
	report, err := c.Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)

	id := string(report.SessionID)
	gt.Map(t, storage.objects).HasKey(id + "/v001.md")
	gt.Map(t, storage.objects).HasKey(id + "/v002.md")
	gt.Map(t, storage.objects).HasKey(id + "/report.json")
	gt.Map(t, storage.objects).HasKey(id + "/biography.md")
	gt.Equal(t, string(storage.objects[id+"/v002.md"]), "draft 2")
	gt.S(t, string(storage.objects[id+"/biography.md"])).Contains("draft 2")

	var stored biography.Report
	gt.NoError(t, json.Unmarshal(storage.objects[id+"/report.json"], &stored))
	gt.Equal(t, stored.FinalVersion, 2)
	gt.True(t, stored.ThresholdMet)
}

func TestReportRecord(t *testing.T) {
	f := newFixture()
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 1, MaxRefinements: 1, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)

	record := report.Record(testSubject)
	gt.Equal(t, record.ID, report.SessionID)
	gt.Equal(t, record.Status, model.PhaseComplete)
	gt.Equal(t, record.FinalScore, 9.0)
	gt.True(t, record.ThresholdMet)
	gt.V(t, record.CompletedAt).NotNil()
	gt.S(t, report.Markdown()).Contains("# Li Wei")
	gt.S(t, report.Markdown()).Contains("score 9.00")
}
