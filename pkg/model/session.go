package model

import (
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// Phase is the coordinator stage of a session
type Phase string

const (
	PhaseInterviewing Phase = "interviewing"
	PhaseExtracting   Phase = "extracting"
	PhaseResearching  Phase = "researching"
	PhaseWriting      Phase = "writing"
	PhaseEvaluating   Phase = "evaluating"
	PhaseRefining     Phase = "refining"
	PhaseComplete     Phase = "complete"
	PhaseAborted      Phase = "aborted"
)

// Terminal reports whether no further action can be taken in the phase
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseAborted
}

// PhaseChange records one transition of a session
type PhaseChange struct {
	From Phase     `json:"from"`
	To   Phase     `json:"to"`
	At   time.Time `json:"at"`
}

// Session is one end-to-end run producing one biography for one subject.
// It is owned and mutated by a single coordinator.
type Session struct {
	ID      SessionID `json:"id"`
	Subject *Subject  `json:"subject"`
	Mode    string    `json:"mode"`
	Phase   Phase     `json:"phase"`
	// History lists every phase change in order
	History []PhaseChange `json:"history"`

	// Rounds is the number of recorded interview turns (r).
	Rounds int `json:"rounds"`
	// Refinements is the number of biography drafts written (k).
	Refinements int `json:"refinements"`

	Turns       []*InterviewTurn  `json:"turns"`
	Judgments   []*Judgment       `json:"judgments"`
	Events      []*ExtractedEvent `json:"events"`
	Research    []*ResearchResult `json:"research"`
	Versions    *VersionLog       `json:"versions"`
	Evaluations *EvaluationLog    `json:"evaluations"`

	// EndRequested is set when the subject sent the end sentinel.
	EndRequested bool `json:"end_requested"`
	// Withdrawn is set when the subject withdrew consent.
	Withdrawn bool `json:"withdrawn"`
	// PendingFeedback carries the latest weaknesses into the next draft.
	PendingFeedback []string `json:"pending_feedback,omitempty"`

	FinalVersion int    `json:"final_version,omitempty"`
	AbortReason  string `json:"abort_reason,omitempty"`
	// ExtractionRuns and ResearchRuns count executions of those phases
	ExtractionRuns int `json:"extraction_runs"`
	ResearchRuns   int `json:"research_runs"`
	// ResearchFlagged counts events judged research-worthy, ResearchEmpty
	// those for which no relevant result was found.
	ResearchFlagged int `json:"research_flagged"`
	ResearchEmpty   int `json:"research_empty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewSession creates a session in the initial Interviewing phase
func NewSession(subject *Subject, mode string) *Session {
	now := time.Now()
	return &Session{
		ID:          NewSessionID(),
		Subject:     subject,
		Mode:        mode,
		Phase:       PhaseInterviewing,
		Versions:    &VersionLog{},
		Evaluations: &EvaluationLog{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LastTurn returns the latest interview turn or nil
func (s *Session) LastTurn() *InterviewTurn {
	if len(s.Turns) == 0 {
		return nil
	}
	return s.Turns[len(s.Turns)-1]
}

// LastJudgment returns the continuation judgment recorded after the latest turn
func (s *Session) LastJudgment() *Judgment {
	if len(s.Judgments) == 0 {
		return nil
	}
	return s.Judgments[len(s.Judgments)-1]
}

// AppendTurn records a new interview turn with the next gapless index and
// increments the round counter.
func (s *Session) AppendTurn(question, reply string, at time.Time) *InterviewTurn {
	turn := &InterviewTurn{
		Index:     len(s.Turns),
		Question:  question,
		Reply:     reply,
		Timestamp: at,
	}
	s.Turns = append(s.Turns, turn)
	s.Rounds = len(s.Turns)
	s.UpdatedAt = at
	return turn
}

// LatestEvaluation returns the evaluation of the latest version, if any
func (s *Session) LatestEvaluation() *EvaluationResult {
	latest := s.Versions.Latest()
	if latest == nil {
		return nil
	}
	ev, ok := s.Evaluations.ForVersion(latest.Number)
	if !ok {
		return nil
	}
	return ev
}

// Questions returns all asked questions in order
func (s *Session) Questions() []string {
	questions := make([]string, 0, len(s.Turns))
	for _, t := range s.Turns {
		questions = append(questions, t.Question)
	}
	return questions
}

// SessionRecord is the persisted summary of a session
type SessionRecord struct {
	ID           SessionID  `json:"id" firestore:"id"`
	Subject      *Subject   `json:"subject" firestore:"subject"`
	Mode         string     `json:"mode" firestore:"mode"`
	Status       Phase      `json:"status" firestore:"status"`
	Rounds       int        `json:"rounds" firestore:"rounds"`
	Refinements  int        `json:"refinements" firestore:"refinements"`
	FinalVersion int        `json:"final_version,omitempty" firestore:"final_version"`
	FinalScore   float64    `json:"final_score,omitempty" firestore:"final_score"`
	ThresholdMet bool       `json:"threshold_met" firestore:"threshold_met"`
	AbortReason  string     `json:"abort_reason,omitempty" firestore:"abort_reason"`
	CreatedAt    time.Time  `json:"created_at" firestore:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" firestore:"completed_at"`
}

// Artifacts is the full set of persisted session outputs
type Artifacts struct {
	Turns       []*InterviewTurn   `json:"turns"`
	Events      []*ExtractedEvent  `json:"events"`
	Research    []*ResearchResult  `json:"research"`
	Versions    []BiographyVersion `json:"versions"`
	Evaluations []EvaluationResult `json:"evaluations"`
}

// Artifacts returns copies of everything the session produced so far
func (s *Session) Artifacts() *Artifacts {
	return &Artifacts{
		Turns:       append([]*InterviewTurn(nil), s.Turns...),
		Events:      append([]*ExtractedEvent(nil), s.Events...),
		Research:    append([]*ResearchResult(nil), s.Research...),
		Versions:    s.Versions.All(),
		Evaluations: s.Evaluations.All(),
	}
}
