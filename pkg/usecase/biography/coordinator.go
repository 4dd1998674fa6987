package biography

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/policy"
	"github.com/m-mizutani/saga/pkg/subject"
	"github.com/m-mizutani/saga/pkg/utils/logging"
)

// Components are the collaborators driven by the coordinator
type Components struct {
	Interviewer InterviewEngine
	Extractor   EventExtractor
	Researcher  HistoryResearcher
	Writer      BiographyWriter
	Evaluator   QualityEvaluator
}

// Coordinator runs one session at a time through the phase graph. A
// coordinator holds no session state, so one value may run many sessions
// concurrently.
type Coordinator struct {
	cfg        Config
	components Components
	pool       *Pool
	judge      policy.ContinuationJudge
	research   policy.ResearchPolicy
	archiver   *Archiver
	progress   func(ctx context.Context, s *model.Session, action Action)
	now        func() time.Time
}

type Option func(*Coordinator)

// WithPool shares a call pool across coordinators
func WithPool(pool *Pool) Option {
	return func(c *Coordinator) {
		c.pool = pool
	}
}

// WithJudge sets the continuation judge. The default is the heuristic.
func WithJudge(judge policy.ContinuationJudge) Option {
	return func(c *Coordinator) {
		c.judge = judge
	}
}

// WithResearchPolicy sets the research-worthiness policy. The default is
// the heuristic with the default categories.
func WithResearchPolicy(p policy.ResearchPolicy) Option {
	return func(c *Coordinator) {
		c.research = p
	}
}

func WithArchiver(archiver *Archiver) Option {
	return func(c *Coordinator) {
		c.archiver = archiver
	}
}

// WithProgress registers a callback invoked before each action runs
func WithProgress(fn func(ctx context.Context, s *model.Session, action Action)) Option {
	return func(c *Coordinator) {
		c.progress = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func New(cfg Config, components Components, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if components.Interviewer == nil || components.Extractor == nil || components.Researcher == nil ||
		components.Writer == nil || components.Evaluator == nil {
		return nil, goerr.New("all biography components are required")
	}

	heuristic := policy.NewHeuristic(nil)
	c := &Coordinator{
		cfg:        cfg.Effective(),
		components: components,
		pool:       NewPool(1),
		judge:      heuristic,
		research:   heuristic,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Run interviews the subject through ch and drives the session until it
// is Complete or Aborted. The report is returned in both cases. A withdrawn
// subject aborts without error; a failed collaborator call or cancellation
// aborts and returns the cause.
func (c *Coordinator) Run(ctx context.Context, subj *model.Subject, ch subject.Channel) (*Report, error) {
	s := model.NewSession(subj, c.cfg.Mode)
	s.CreatedAt = c.now()
	s.UpdatedAt = s.CreatedAt

	ctx = logging.WithSession(ctx, string(s.ID), subj.Name)
	logger := logging.From(ctx)
	logger.Info("session started",
		"mode", c.cfg.Mode,
		"min_rounds", c.cfg.MinRounds,
		"max_rounds", c.cfg.MaxRounds,
		"max_refinements", c.cfg.MaxRefinements,
		"threshold", c.cfg.Threshold)

	cp := &checkpoint{}
	var runErr error

	for !s.Phase.Terminal() {
		if err := ctx.Err(); err != nil {
			runErr = goerr.Wrap(err, "session canceled", goerr.V("phase", s.Phase))
			c.abort(ctx, s, "canceled")
			break
		}

		action := NextAction(s, c.cfg)
		if c.progress != nil {
			c.progress(ctx, s, action)
		}

		if err := c.step(ctx, s, ch, action); err != nil {
			reason := err.Error()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reason = "canceled"
			}
			logger.Error("session aborted", "phase", s.Phase, "action", action, "error", err)
			runErr = err
			c.abort(ctx, s, reason)
			break
		}

		if c.archiver != nil && !s.Phase.Terminal() {
			if err := c.archiver.Sync(ctx, s, cp, c.cfg); err != nil {
				logger.Warn("failed to archive session progress", "error", err)
			}
		}
	}

	report := NewReport(s, c.cfg)
	if c.archiver != nil {
		if err := c.archiver.Finalize(context.WithoutCancel(ctx), s, cp, report, c.cfg); err != nil {
			logger.Error("failed to archive session", "error", err)
			if runErr == nil {
				runErr = goerr.Wrap(err, "failed to archive session")
			}
		}
	}

	logger.Info("session finished",
		"status", report.Status,
		"rounds", report.Rounds,
		"refinements", report.Refinements,
		"final_version", report.FinalVersion,
		"final_score", report.FinalScore,
		"threshold_met", report.ThresholdMet)
	return report, runErr
}

func (c *Coordinator) step(ctx context.Context, s *model.Session, ch subject.Channel, action Action) error {
	switch action {
	case ActionContinueInterview:
		return c.interview(ctx, s, ch)
	case ActionEndInterview:
		return c.move(ctx, s, model.PhaseExtracting)
	case ActionExtractEvents:
		return c.extract(ctx, s)
	case ActionResearch:
		return c.researchEvents(ctx, s)
	case ActionWrite:
		return c.write(ctx, s)
	case ActionEvaluate:
		return c.evaluate(ctx, s)
	case ActionRefine:
		return c.refine(ctx, s)
	case ActionComplete:
		return c.complete(ctx, s)
	case ActionAbort:
		reason := "aborted"
		if s.Withdrawn {
			reason = "withdrawn"
		}
		c.abort(ctx, s, reason)
		return nil
	}
	return goerr.New("unknown action", goerr.V("action", action), goerr.V("phase", s.Phase))
}

func (c *Coordinator) move(ctx context.Context, s *model.Session, to model.Phase) error {
	from := s.Phase
	if err := transition(s, to, c.now()); err != nil {
		return err
	}
	logging.From(ctx).Info("phase changed",
		"from", from,
		"to", to,
		"round", s.Rounds,
		"version", s.Versions.Len())
	return nil
}

func (c *Coordinator) abort(ctx context.Context, s *model.Session, reason string) {
	if s.Phase.Terminal() {
		return
	}
	s.AbortReason = reason
	if err := c.move(ctx, s, model.PhaseAborted); err != nil {
		// every non-terminal phase may abort
		logging.From(ctx).Error("failed to abort session", "error", err)
		return
	}
	at := c.now()
	s.CompletedAt = &at
}

func (c *Coordinator) interview(ctx context.Context, s *model.Session, ch subject.Channel) error {
	question, err := Call(ctx, c.pool, "interview.next_question", func(ctx context.Context) (string, error) {
		return c.components.Interviewer.NextQuestion(ctx, s)
	})
	if err != nil {
		return err
	}

	reply, err := ch.Ask(ctx, question)
	if err != nil {
		return goerr.Wrap(err, "failed to collect reply", goerr.V("round", s.Rounds+1))
	}

	switch reply.Signal {
	case model.SignalEnd:
		logging.From(ctx).Info("subject ended the interview", "round", s.Rounds)
		s.EndRequested = true
		return nil
	case model.SignalWithdraw:
		logging.From(ctx).Info("subject withdrew consent", "round", s.Rounds)
		s.Withdrawn = true
		return nil
	}

	turn := s.AppendTurn(question, reply.Text, c.now())
	logging.From(ctx).Debug("turn recorded", "round", s.Rounds, "index", turn.Index)

	if !needsJudgment(s, c.cfg) {
		return nil
	}
	turns := append([]*model.InterviewTurn(nil), s.Turns...)
	judgment, err := Call(ctx, c.pool, "interview.judge", func(ctx context.Context) (*model.Judgment, error) {
		return c.judge.Judge(ctx, turns)
	})
	if err != nil {
		return err
	}
	if judgment == nil {
		judgment = &model.Judgment{Source: "none"}
	}
	judgment.Round = s.Rounds
	s.Judgments = append(s.Judgments, judgment)
	logging.From(ctx).Debug("continuation judged",
		"round", s.Rounds,
		"saturated", judgment.Saturated,
		"coverage", judgment.Coverage,
		"source", judgment.Source)
	return nil
}

func (c *Coordinator) extract(ctx context.Context, s *model.Session) error {
	turns := append([]*model.InterviewTurn(nil), s.Turns...)
	events, err := Call(ctx, c.pool, "extract_events", func(ctx context.Context) ([]*model.ExtractedEvent, error) {
		return c.components.Extractor.Extract(ctx, turns)
	})
	if err != nil {
		return err
	}

	// replaces any earlier extraction
	s.Events = events
	s.ExtractionRuns++
	logging.From(ctx).Info("events extracted", "count", len(events))
	return c.move(ctx, s, model.PhaseResearching)
}

func (c *Coordinator) researchEvents(ctx context.Context, s *model.Session) error {
	var (
		results []*model.ResearchResult
		flagged int
		empty   int
	)

	for _, ev := range s.Events {
		worthy, err := c.research.Worthy(ctx, ev)
		if err != nil {
			return goerr.Wrap(err, "failed to evaluate research policy", goerr.V("event_id", ev.ID))
		}
		if !worthy {
			continue
		}
		flagged++

		result, err := Call(ctx, c.pool, "research_history", func(ctx context.Context) (*model.ResearchResult, error) {
			return c.components.Researcher.Research(ctx, ev)
		})
		if err != nil {
			return err
		}
		if result == nil {
			empty++
			continue
		}
		result.EventID = ev.ID
		results = append(results, result)
	}

	s.Research = results
	s.ResearchFlagged = flagged
	s.ResearchEmpty = empty
	s.ResearchRuns++
	logging.From(ctx).Info("history researched",
		"events", len(s.Events),
		"flagged", flagged,
		"found", len(results),
		"empty", empty)
	return c.move(ctx, s, model.PhaseWriting)
}

func (c *Coordinator) write(ctx context.Context, s *model.Session) error {
	in := &WriteInput{
		Subject:  s.Subject,
		Turns:    append([]*model.InterviewTurn(nil), s.Turns...),
		Events:   append([]*model.ExtractedEvent(nil), s.Events...),
		Research: append([]*model.ResearchResult(nil), s.Research...),
	}
	basis := model.Basis{}
	if prior := s.Versions.Latest(); prior != nil {
		in.Prior = prior
		in.Feedback = append([]string(nil), s.PendingFeedback...)
		basis.PriorVersion = prior.Number
		basis.Feedback = in.Feedback
	}
	for _, ev := range in.Events {
		basis.EventIDs = append(basis.EventIDs, ev.ID)
	}
	for _, r := range in.Research {
		basis.ResearchIDs = append(basis.ResearchIDs, r.EventID)
	}

	text, err := Call(ctx, c.pool, "write_biography", func(ctx context.Context) (string, error) {
		return c.components.Writer.Write(ctx, in)
	})
	if err != nil {
		return err
	}

	v := s.Versions.Append(text, basis, c.now())
	s.Refinements = s.Versions.Len()
	s.PendingFeedback = nil
	logging.From(ctx).Info("biography written", "version", v.Number, "refined", v.Refined, "length", len(v.Text))
	return c.move(ctx, s, model.PhaseEvaluating)
}

func (c *Coordinator) evaluate(ctx context.Context, s *model.Session) error {
	latest := s.Versions.Latest()
	if latest == nil {
		return goerr.New("no biography version to evaluate")
	}

	result, err := Call(ctx, c.pool, "evaluate_quality", func(ctx context.Context) (*model.EvaluationResult, error) {
		return c.components.Evaluator.Evaluate(ctx, s.Subject, latest.Text)
	})
	if err != nil {
		return err
	}
	if result == nil {
		return model.Fatal(nil, "evaluator returned no result", goerr.V("version", latest.Number))
	}

	ev := *result
	ev.Version = latest.Number
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	if err := s.Evaluations.Record(s.Versions, ev); err != nil {
		return goerr.Wrap(err, "failed to record evaluation", goerr.V("version", latest.Number))
	}
	logging.From(ctx).Info("biography evaluated",
		"version", latest.Number,
		"score", ev.Score,
		"weaknesses", len(ev.Weaknesses))
	return nil
}

// refine carries the latest weaknesses into the next draft. It runs once
// in Evaluating to enter Refining and once in Refining to return to Writing.
func (c *Coordinator) refine(ctx context.Context, s *model.Session) error {
	if s.Phase == model.PhaseEvaluating {
		if ev := s.LatestEvaluation(); ev != nil {
			s.PendingFeedback = append([]string(nil), ev.Weaknesses...)
		}
		return c.move(ctx, s, model.PhaseRefining)
	}
	return c.move(ctx, s, model.PhaseWriting)
}

func (c *Coordinator) complete(ctx context.Context, s *model.Session) error {
	number, score, scored := model.SelectFinal(s.Versions, s.Evaluations)
	s.FinalVersion = number
	if err := c.move(ctx, s, model.PhaseComplete); err != nil {
		return err
	}
	at := c.now()
	s.CompletedAt = &at
	logging.From(ctx).Info("final version selected", "version", number, "score", score, "scored", scored)
	return nil
}
