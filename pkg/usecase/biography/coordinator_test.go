package biography_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/repository"
	"github.com/m-mizutani/saga/pkg/subject"
	"github.com/m-mizutani/saga/pkg/usecase/biography"
)

type stubInterviewer struct {
	calls int
}

func (x *stubInterviewer) NextQuestion(ctx context.Context, s *model.Session) (string, error) {
	x.calls++
	return fmt.Sprintf("Question %d?", s.Rounds+1), nil
}

type stubExtractor struct {
	calls   int
	extract func(turns []*model.InterviewTurn) ([]*model.ExtractedEvent, error)
}

func (x *stubExtractor) Extract(ctx context.Context, turns []*model.InterviewTurn) ([]*model.ExtractedEvent, error) {
	x.calls++
	if x.extract != nil {
		return x.extract(turns)
	}
	return []*model.ExtractedEvent{
		{ID: "ev-war", When: "1966", Category: model.CategoryHistoricalEvent, Description: "Schools closed", SourceTurns: []int{0}},
		{ID: "ev-home", When: "1950", Category: model.CategoryFamily, Description: "Grew up by the river", SourceTurns: []int{0}},
	}, nil
}

type stubResearcher struct {
	events []string
	found  bool
}

func (x *stubResearcher) Research(ctx context.Context, ev *model.ExtractedEvent) (*model.ResearchResult, error) {
	x.events = append(x.events, ev.ID)
	if !x.found {
		return nil, nil
	}
	return &model.ResearchResult{EventID: ev.ID, Query: ev.Description, Attempts: 1,
		Sources: []*model.SearchResult{{Title: "context", Snippet: "snippet"}}}, nil
}

type stubWriter struct {
	inputs []*biography.WriteInput
	write  func(ctx context.Context, n int) (string, error)
}

func (x *stubWriter) Write(ctx context.Context, in *biography.WriteInput) (string, error) {
	x.inputs = append(x.inputs, in)
	if x.write != nil {
		return x.write(ctx, len(x.inputs))
	}
	return fmt.Sprintf("draft %d", len(x.inputs)), nil
}

type stubEvaluator struct {
	scores []float64
	calls  int
	fail   func(n int) error
}

func (x *stubEvaluator) Evaluate(ctx context.Context, subj *model.Subject, text string) (*model.EvaluationResult, error) {
	x.calls++
	if x.fail != nil {
		if err := x.fail(x.calls); err != nil {
			return nil, err
		}
	}
	score := 0.0
	if len(x.scores) > 0 {
		score = x.scores[min(x.calls-1, len(x.scores)-1)]
	}
	return &model.EvaluationResult{
		Score:      score,
		Weaknesses: []string{fmt.Sprintf("weakness of %q", text)},
	}, nil
}

type stubJudge struct {
	calls     int
	saturated func(turns []*model.InterviewTurn) bool
}

func (x *stubJudge) Judge(ctx context.Context, turns []*model.InterviewTurn) (*model.Judgment, error) {
	x.calls++
	return &model.Judgment{Round: len(turns), Saturated: x.saturated(turns), Source: "stub"}, nil
}

type fixture struct {
	interviewer *stubInterviewer
	extractor   *stubExtractor
	researcher  *stubResearcher
	writer      *stubWriter
	evaluator   *stubEvaluator
	repo        *repository.Memory
}

func newFixture() *fixture {
	return &fixture{
		interviewer: &stubInterviewer{},
		extractor:   &stubExtractor{},
		researcher:  &stubResearcher{found: true},
		writer:      &stubWriter{},
		evaluator:   &stubEvaluator{scores: []float64{9}},
		repo:        repository.NewMemory(),
	}
}

func (f *fixture) coordinator(t *testing.T, cfg biography.Config, opts ...biography.Option) *biography.Coordinator {
	t.Helper()
	opts = append([]biography.Option{
		biography.WithPool(fastPool(2)),
		biography.WithArchiver(biography.NewArchiver(f.repo)),
	}, opts...)
	c, err := biography.New(cfg, biography.Components{
		Interviewer: f.interviewer,
		Extractor:   f.extractor,
		Researcher:  f.researcher,
		Writer:      f.writer,
		Evaluator:   f.evaluator,
	}, opts...)
	gt.NoError(t, err)
	return c
}

var testSubject = &model.Subject{Name: "Li Wei", BirthYear: 1950, Hometown: "Hangzhou"}

const contentFree = "I don't know."

func phasesOf(r *biography.Report) []model.Phase {
	phases := make([]model.Phase, 0, len(r.History))
	for _, h := range r.History {
		phases = append(phases, h.To)
	}
	return phases
}

func assertLegalHistory(t *testing.T, r *biography.Report) {
	t.Helper()
	from := model.PhaseInterviewing
	for _, h := range r.History {
		gt.Equal(t, h.From, from)
		gt.True(t, biography.CanTransition(h.From, h.To))
		from = h.To
	}
	gt.Equal(t, from, r.Status)
}

func TestRoundLimitAndRefinementLimit(t *testing.T) {
	f := newFixture()
	f.evaluator.scores = []float64{6.0, 7.5}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 3, MaxRounds: 5, MaxRefinements: 2, Threshold: 8.0}

	ch := subject.NewScripted(contentFree)
	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, ch)
	gt.NoError(t, err)

	gt.Equal(t, report.Status, model.PhaseComplete)
	gt.Equal(t, report.Rounds, 5)
	gt.Equal(t, report.Refinements, 2)
	gt.Equal(t, report.FinalVersion, 2)
	gt.Equal(t, report.FinalScore, 7.5)
	gt.False(t, report.ThresholdMet)
	gt.True(t, slices.Contains(report.Notes, biography.NoteThresholdNotMet))
	gt.Equal(t, report.Biography, "draft 2")

	gt.Equal(t, phasesOf(report), []model.Phase{
		model.PhaseExtracting,
		model.PhaseResearching,
		model.PhaseWriting,
		model.PhaseEvaluating,
		model.PhaseRefining,
		model.PhaseWriting,
		model.PhaseEvaluating,
		model.PhaseComplete,
	})
	assertLegalHistory(t, report)

	// the second draft addresses the weaknesses of the first
	gt.A(t, f.writer.inputs).Length(2)
	gt.Nil(t, f.writer.inputs[0].Prior)
	gt.Equal(t, f.writer.inputs[1].Prior.Number, 1)
	gt.Equal(t, f.writer.inputs[1].Feedback, []string{`weakness of "draft 1"`})

	arts, err := f.repo.GetArtifacts(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.A(t, arts.Turns).Length(5)
	gt.A(t, arts.Versions).Length(2)
	for i, v := range arts.Versions {
		gt.Equal(t, v.Number, i+1)
	}
	gt.False(t, arts.Versions[0].Refined)
	gt.True(t, arts.Versions[1].Refined)
	gt.A(t, arts.Evaluations).Length(2)

	record, err := f.repo.GetSession(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.Equal(t, record.Status, model.PhaseComplete)
	gt.Equal(t, record.FinalVersion, 2)
}

func TestContentFreeRepliesAreNotSaturated(t *testing.T) {
	f := newFixture()
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 3, MaxRounds: 5, MaxRefinements: 2, Threshold: 8.0}

	judge := &stubJudge{saturated: func(turns []*model.InterviewTurn) bool { return false }}
	report, err := f.coordinator(t, cfg, biography.WithJudge(judge)).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)
	gt.Equal(t, report.Rounds, 5)
	// judged after rounds 3 and 4 only
	gt.Equal(t, judge.calls, 2)
}

func TestSaturationEndsInterviewAtMinimum(t *testing.T) {
	f := newFixture()
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 3, MaxRounds: 10, MaxRefinements: 2, Threshold: 8.0}

	judge := &stubJudge{saturated: func(turns []*model.InterviewTurn) bool { return true }}
	report, err := f.coordinator(t, cfg, biography.WithJudge(judge)).Run(context.Background(), testSubject,
		subject.NewScripted("I grew up in Hangzhou by the river with my grandmother and two brothers."))
	gt.NoError(t, err)
	gt.Equal(t, report.Rounds, 3)
	gt.Equal(t, judge.calls, 1)
	gt.Equal(t, report.Status, model.PhaseComplete)
	gt.True(t, report.ThresholdMet)
	gt.Equal(t, report.FinalVersion, 1)
}

func TestEndSentinelOverridesMinimum(t *testing.T) {
	f := newFixture()
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 3, MaxRounds: 10, MaxRefinements: 2, Threshold: 8.0}

	ch := subject.NewScripted(
		"I grew up in a village near the river with my grandmother.",
		"In 1978 I moved to Shanghai to work in a textile factory.",
		"end",
	)
	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, ch)
	gt.NoError(t, err)
	gt.Equal(t, report.Rounds, 2)
	gt.Equal(t, report.History[0].From, model.PhaseInterviewing)
	gt.Equal(t, report.History[0].To, model.PhaseExtracting)
	gt.Equal(t, report.Status, model.PhaseComplete)
	gt.A(t, ch.Questions()).Length(3)
}

func TestZeroScoresTerminate(t *testing.T) {
	f := newFixture()
	f.evaluator.scores = []float64{0}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 3, MaxRounds: 3, MaxRefinements: 3, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)
	gt.Equal(t, report.Status, model.PhaseComplete)
	gt.Equal(t, report.Refinements, 3)
	gt.Equal(t, f.evaluator.calls, 3)
	// ties go to the latest version
	gt.Equal(t, report.FinalVersion, 3)
	gt.True(t, slices.Contains(report.Notes, biography.NoteThresholdNotMet))
	assertLegalHistory(t, report)
}

func TestBestVersionIsSelected(t *testing.T) {
	f := newFixture()
	f.evaluator.scores = []float64{7.0, 7.9, 6.5}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 1, MaxRefinements: 3, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)
	gt.Equal(t, report.FinalVersion, 2)
	gt.Equal(t, report.FinalScore, 7.9)
	gt.Equal(t, report.Biography, "draft 2")
	gt.A(t, report.Versions).Length(3)
}

func TestEmptyResearchStillWrites(t *testing.T) {
	f := newFixture()
	f.researcher.found = false
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 1, MaxRefinements: 1, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)
	gt.Equal(t, report.Status, model.PhaseComplete)

	// only the historical event is research-worthy
	gt.Equal(t, f.researcher.events, []string{"ev-war"})
	gt.Equal(t, report.ResearchFlagged, 1)
	gt.Equal(t, report.ResearchEmpty, 1)
	gt.Equal(t, report.ResearchFound, 0)

	gt.A(t, f.writer.inputs).Length(1)
	gt.A(t, f.writer.inputs[0].Research).Length(0)
	gt.A(t, f.writer.inputs[0].Events).Length(2)
}

func TestExtractionRunsOnce(t *testing.T) {
	f := newFixture()
	f.evaluator.scores = []float64{1, 2, 3}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 2, MaxRefinements: 3, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)
	gt.Equal(t, f.extractor.calls, 1)
	gt.Equal(t, len(f.researcher.events), 1)
	gt.Equal(t, report.Refinements, 3)
}

func TestWithdrawAborts(t *testing.T) {
	f := newFixture()
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 3, MaxRounds: 5, MaxRefinements: 2, Threshold: 8.0}

	ch := subject.NewScripted("I was born in 1950.", "withdraw")
	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, ch)
	gt.NoError(t, err)
	gt.Equal(t, report.Status, model.PhaseAborted)
	gt.Equal(t, report.AbortReason, "withdrawn")
	gt.Equal(t, report.Rounds, 1)
	gt.Equal(t, f.extractor.calls, 0)

	arts, err := f.repo.GetArtifacts(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.A(t, arts.Turns).Length(1)
}

func TestFatalErrorAborts(t *testing.T) {
	f := newFixture()
	f.extractor.extract = func(turns []*model.InterviewTurn) ([]*model.ExtractedEvent, error) {
		return nil, model.Fatal(nil, "unauthorized")
	}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 2, MaxRounds: 2, MaxRefinements: 2, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrFatal))
	gt.Equal(t, report.Status, model.PhaseAborted)
	gt.Equal(t, f.extractor.calls, 1)
	assertLegalHistory(t, report)

	record, err := f.repo.GetSession(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.Equal(t, record.Status, model.PhaseAborted)
	arts, err := f.repo.GetArtifacts(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.A(t, arts.Turns).Length(2)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	f := newFixture()
	f.evaluator.fail = func(n int) error {
		if n <= 2 {
			return model.Transient(nil, "rate limited")
		}
		return nil
	}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 1, MaxRefinements: 2, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)
	gt.Equal(t, report.Status, model.PhaseComplete)
	gt.Equal(t, f.evaluator.calls, 3)
}

func TestExhaustedRetriesAbort(t *testing.T) {
	f := newFixture()
	f.evaluator.fail = func(n int) error {
		return model.Transient(nil, "timeout")
	}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 1, MaxRefinements: 2, Threshold: 8.0}

	c := f.coordinator(t, cfg, biography.WithPool(fastPool(1, biography.WithRetries(1))))
	report, err := c.Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.Error(t, err)
	gt.True(t, model.IsTransient(err))
	gt.Equal(t, f.evaluator.calls, 2)
	gt.Equal(t, report.Status, model.PhaseAborted)

	// the written version survives without an evaluation
	arts, err := f.repo.GetArtifacts(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.A(t, arts.Versions).Length(1)
	gt.A(t, arts.Evaluations).Length(0)
}

func TestCancellationPreservesArtifacts(t *testing.T) {
	f := newFixture()
	f.evaluator.scores = []float64{5}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.writer.write = func(ctx context.Context, n int) (string, error) {
		if n == 2 {
			cancel()
			return "", ctx.Err()
		}
		return fmt.Sprintf("draft %d", n), nil
	}
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 2, MaxRounds: 2, MaxRefinements: 3, Threshold: 8.0}

	report, err := f.coordinator(t, cfg).Run(ctx, testSubject, subject.NewScripted(contentFree))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, context.Canceled))
	gt.Equal(t, report.Status, model.PhaseAborted)
	gt.Equal(t, report.AbortReason, "canceled")
	gt.Equal(t, report.FinalVersion, 1)
	assertLegalHistory(t, report)

	arts, err := f.repo.GetArtifacts(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.A(t, arts.Turns).Length(2)
	gt.A(t, arts.Events).Length(2)
	gt.A(t, arts.Versions).Length(1)
	gt.A(t, arts.Evaluations).Length(1)

	record, err := f.repo.GetSession(context.Background(), report.SessionID)
	gt.NoError(t, err)
	gt.Equal(t, record.Status, model.PhaseAborted)
	gt.Equal(t, record.AbortReason, "canceled")
}

func TestCanceledBeforeStart(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.coordinator(t, biography.DefaultConfig()).Run(ctx, testSubject, subject.NewScripted(contentFree))
	gt.Error(t, err)
	gt.Equal(t, report.Status, model.PhaseAborted)
	gt.Equal(t, report.Rounds, 0)
	gt.Equal(t, f.interviewer.calls, 0)
}

func TestFixedModeRunsAllRounds(t *testing.T) {
	f := newFixture()
	cfg := biography.DefaultConfig()
	cfg.Mode = biography.ModeFixed

	judge := &stubJudge{saturated: func(turns []*model.InterviewTurn) bool { return true }}
	report, err := f.coordinator(t, cfg, biography.WithJudge(judge)).Run(context.Background(), testSubject,
		subject.NewScripted("We planted rice every spring and sold vegetables at the market."))
	gt.NoError(t, err)
	gt.Equal(t, report.Rounds, biography.FixedRounds)
	gt.Equal(t, report.Mode, biography.ModeFixed)
	gt.Equal(t, judge.calls, 0)
}

func TestProgressCallback(t *testing.T) {
	f := newFixture()
	cfg := biography.Config{Mode: biography.ModeAdaptive, MinRounds: 1, MaxRounds: 1, MaxRefinements: 1, Threshold: 8.0}

	var actions []biography.Action
	c := f.coordinator(t, cfg, biography.WithProgress(func(ctx context.Context, s *model.Session, a biography.Action) {
		actions = append(actions, a)
	}), biography.WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }))

	report, err := c.Run(context.Background(), testSubject, subject.NewScripted(contentFree))
	gt.NoError(t, err)
	gt.Equal(t, actions, []biography.Action{
		biography.ActionContinueInterview,
		biography.ActionEndInterview,
		biography.ActionExtractEvents,
		biography.ActionResearch,
		biography.ActionWrite,
		biography.ActionEvaluate,
		biography.ActionComplete,
	})
	gt.Equal(t, report.CreatedAt, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := biography.New(biography.Config{Mode: biography.ModeAdaptive, MinRounds: 5, MaxRounds: 3, MaxRefinements: 1, Threshold: 8},
		biography.Components{})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))

	_, err = biography.New(biography.DefaultConfig(), biography.Components{})
	gt.Error(t, err)
}
