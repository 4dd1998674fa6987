package batch

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/subject"
	"github.com/m-mizutani/saga/pkg/usecase/biography"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// Runner runs one biography session. *biography.Coordinator implements it.
type Runner interface {
	Run(ctx context.Context, subj *model.Subject, ch subject.Channel) (*biography.Report, error)
}

// ChannelFactory opens the subject input channel for one subject
type ChannelFactory func(subj *model.Subject) (subject.Channel, error)

// UseCase runs sessions for many subjects in parallel. Sessions share
// nothing except the runner's call pool.
type UseCase struct {
	runner      Runner
	channels    ChannelFactory
	concurrency int

	bq      adapter.BigQuery
	dataset string
	table   string
}

type Option func(*UseCase)

// WithConcurrency sets how many sessions run at once
func WithConcurrency(n int) Option {
	return func(u *UseCase) {
		u.concurrency = n
	}
}

// WithExport streams one row per session into a BigQuery table
func WithExport(bq adapter.BigQuery, dataset, table string) Option {
	return func(u *UseCase) {
		u.bq = bq
		u.dataset = dataset
		u.table = table
	}
}

func New(runner Runner, channels ChannelFactory, opts ...Option) *UseCase {
	u := &UseCase{
		runner:      runner,
		channels:    channels,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Result is the outcome of one session in a batch
type Result struct {
	Subject      string          `json:"subject"`
	SessionID    model.SessionID `json:"session_id,omitempty"`
	Status       model.Phase     `json:"status"`
	Rounds       int             `json:"rounds"`
	Refinements  int             `json:"refinements"`
	FinalVersion int             `json:"final_version,omitempty"`
	Score        float64         `json:"score,omitempty"`
	Scored       bool            `json:"scored"`
	ThresholdMet bool            `json:"threshold_met"`
	Error        string          `json:"error,omitempty"`
}

// Summary aggregates a batch
type Summary struct {
	BatchID      string    `json:"batch_id"`
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Aborted      int       `json:"aborted"`
	ThresholdMet int       `json:"threshold_met"`
	AvgScore     float64   `json:"avg_score"`
	MaxScore     float64   `json:"max_score"`
	MinScore     float64   `json:"min_score"`
	Results      []*Result `json:"results"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Run interviews every subject and returns results in input order. A
// failed session is reported in its result and does not stop the batch.
func (u *UseCase) Run(ctx context.Context, subjects []*model.Subject) (*Summary, error) {
	summary := &Summary{
		BatchID:   uuid.New().String(),
		Total:     len(subjects),
		Results:   make([]*Result, len(subjects)),
		StartedAt: time.Now(),
	}
	logger := logging.From(ctx).With("batch_id", summary.BatchID)
	logger.Info("batch started", "subjects", len(subjects), "concurrency", u.concurrency)

	var mu sync.Mutex
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(u.concurrency, 1))

	for i, subj := range subjects {
		eg.Go(func() error {
			result := u.runOne(ctx, subj)
			mu.Lock()
			summary.Results[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, goerr.Wrap(err, "batch failed", goerr.V("batch_id", summary.BatchID))
	}

	summarize(summary)
	summary.FinishedAt = time.Now()
	logger.Info("batch finished",
		"completed", summary.Completed,
		"aborted", summary.Aborted,
		"threshold_met", summary.ThresholdMet,
		"avg_score", summary.AvgScore)

	if u.bq != nil {
		if err := u.export(ctx, summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (u *UseCase) runOne(ctx context.Context, subj *model.Subject) *Result {
	result := &Result{Subject: subj.Name, Status: model.PhaseAborted}

	ch, err := u.channels(subj)
	if err != nil {
		result.Error = err.Error()
		logging.From(ctx).Error("failed to open subject channel", "subject", subj.Name, "error", err)
		return result
	}

	report, err := u.runner.Run(ctx, subj, ch)
	if err != nil {
		result.Error = err.Error()
		logging.From(ctx).Error("session failed", "subject", subj.Name, "error", err)
	}
	if report == nil {
		return result
	}

	result.SessionID = report.SessionID
	result.Status = report.Status
	result.Rounds = report.Rounds
	result.Refinements = report.Refinements
	result.FinalVersion = report.FinalVersion
	result.Score = report.FinalScore
	result.Scored = report.Scored
	result.ThresholdMet = report.ThresholdMet
	return result
}

func summarize(s *Summary) {
	var (
		sum    float64
		scored int
	)
	s.MinScore = math.Inf(1)

	for _, r := range s.Results {
		switch r.Status {
		case model.PhaseComplete:
			s.Completed++
		default:
			s.Aborted++
		}
		if r.ThresholdMet {
			s.ThresholdMet++
		}
		if r.Status != model.PhaseComplete || !r.Scored {
			continue
		}
		scored++
		sum += r.Score
		s.MaxScore = max(s.MaxScore, r.Score)
		s.MinScore = min(s.MinScore, r.Score)
	}

	if scored == 0 {
		s.MinScore = 0
		return
	}
	s.AvgScore = math.Round(sum/float64(scored)*100) / 100
}
