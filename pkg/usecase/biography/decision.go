package biography

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
)

// Action is what the coordinator does next
type Action string

const (
	ActionNone              Action = ""
	ActionContinueInterview Action = "continue_interview"
	ActionEndInterview      Action = "end_interview"
	ActionExtractEvents     Action = "extract_events"
	ActionResearch          Action = "research_history"
	ActionWrite             Action = "write_biography"
	ActionEvaluate          Action = "evaluate_quality"
	ActionRefine            Action = "refine_biography"
	ActionComplete          Action = "complete"
	ActionAbort             Action = "abort"
)

var transitions = map[model.Phase][]model.Phase{
	model.PhaseInterviewing: {model.PhaseExtracting},
	model.PhaseExtracting:   {model.PhaseResearching},
	model.PhaseResearching:  {model.PhaseWriting},
	model.PhaseWriting:      {model.PhaseEvaluating},
	model.PhaseEvaluating:   {model.PhaseComplete, model.PhaseRefining},
	model.PhaseRefining:     {model.PhaseWriting},
}

// CanTransition reports whether from -> to is an edge of the phase graph.
// Every non-terminal phase may move to Aborted.
func CanTransition(from, to model.Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == model.PhaseAborted {
		return true
	}
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// transition moves the session to the next phase. It is the only place
// where Session.Phase is written.
func transition(s *model.Session, to model.Phase, at time.Time) error {
	if !CanTransition(s.Phase, to) {
		return goerr.Wrap(model.ErrInvalidTransition, "phase transition is not allowed",
			goerr.V("from", s.Phase),
			goerr.V("to", to))
	}
	s.History = append(s.History, model.PhaseChange{From: s.Phase, To: to, At: at})
	s.Phase = to
	s.UpdatedAt = at
	return nil
}

// NextAction decides what to do next from session state alone. It has no
// side effects, so the same session and config always give the same action.
func NextAction(s *model.Session, cfg Config) Action {
	if s.Phase.Terminal() {
		return ActionNone
	}
	if s.Withdrawn {
		return ActionAbort
	}

	switch s.Phase {
	case model.PhaseInterviewing:
		if interviewDone(s, cfg) {
			return ActionEndInterview
		}
		return ActionContinueInterview

	case model.PhaseExtracting:
		return ActionExtractEvents

	case model.PhaseResearching:
		return ActionResearch

	case model.PhaseWriting:
		return ActionWrite

	case model.PhaseEvaluating:
		latest := s.Versions.Latest()
		if latest == nil {
			// Evaluating is only entered after a write
			return ActionAbort
		}
		ev, ok := s.Evaluations.ForVersion(latest.Number)
		if !ok {
			return ActionEvaluate
		}
		if accept(ev.Score, s.Refinements, cfg) {
			return ActionComplete
		}
		return ActionRefine

	case model.PhaseRefining:
		return ActionRefine
	}

	return ActionAbort
}

// interviewDone applies the interview exit rule. The end sentinel wins
// over the minimum round count.
func interviewDone(s *model.Session, cfg Config) bool {
	if s.EndRequested {
		return true
	}
	if s.Rounds >= cfg.MaxRounds {
		return true
	}
	if s.Rounds < cfg.MinRounds {
		return false
	}
	j := s.LastJudgment()
	return j != nil && j.Round == s.Rounds && j.Saturated
}

// needsJudgment reports whether a continuation judgment can change the
// outcome after the latest turn.
func needsJudgment(s *model.Session, cfg Config) bool {
	return !s.EndRequested && s.Rounds >= cfg.MinRounds && s.Rounds < cfg.MaxRounds
}

// accept decides between Complete and another refinement cycle
func accept(score float64, refinements int, cfg Config) bool {
	return score >= cfg.Threshold || refinements >= cfg.MaxRefinements
}
