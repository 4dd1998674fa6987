package biography

import (
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/saga/pkg/model"
)

// NoteThresholdNotMet is reported when refinement stopped at the limit
// before any version reached the quality threshold.
const NoteThresholdNotMet = "threshold not met"

// VersionScore summarizes one biography version in the report
type VersionScore struct {
	Number    int     `json:"number"`
	Refined   bool    `json:"refined"`
	Evaluated bool    `json:"evaluated"`
	Score     float64 `json:"score,omitempty"`
}

// Report is what the driver receives when a session ends
type Report struct {
	SessionID   model.SessionID `json:"session_id"`
	Subject     string          `json:"subject"`
	Mode        string          `json:"mode"`
	Status      model.Phase     `json:"status"`
	AbortReason string          `json:"abort_reason,omitempty"`

	Rounds       int      `json:"rounds"`
	Refinements  int      `json:"refinements"`
	Threshold    float64  `json:"threshold"`
	FinalVersion int      `json:"final_version,omitempty"`
	FinalScore   float64  `json:"final_score,omitempty"`
	Scored       bool     `json:"scored"`
	ThresholdMet bool     `json:"threshold_met"`
	Notes        []string `json:"notes,omitempty"`

	History         []model.PhaseChange `json:"history"`
	Versions        []VersionScore      `json:"versions"`
	Events          int                 `json:"events"`
	ResearchFlagged int                 `json:"research_flagged"`
	ResearchFound   int                 `json:"research_found"`
	ResearchEmpty   int                 `json:"research_empty"`

	// Biography is the text of the final version
	Biography string `json:"biography,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewReport builds the final report of a session
func NewReport(s *model.Session, cfg Config) *Report {
	r := &Report{
		SessionID:       s.ID,
		Mode:            s.Mode,
		Status:          s.Phase,
		AbortReason:     s.AbortReason,
		History:         append([]model.PhaseChange(nil), s.History...),
		Rounds:          s.Rounds,
		Refinements:     s.Refinements,
		Threshold:       cfg.Threshold,
		Events:          len(s.Events),
		ResearchFlagged: s.ResearchFlagged,
		ResearchFound:   len(s.Research),
		ResearchEmpty:   s.ResearchEmpty,
		CreatedAt:       s.CreatedAt,
		CompletedAt:     s.CompletedAt,
	}
	if s.Subject != nil {
		r.Subject = s.Subject.Name
	}

	for _, v := range s.Versions.All() {
		vs := VersionScore{Number: v.Number, Refined: v.Refined}
		if ev, ok := s.Evaluations.ForVersion(v.Number); ok {
			vs.Evaluated = true
			vs.Score = ev.Score
		}
		r.Versions = append(r.Versions, vs)
	}

	number, score, scored := model.SelectFinal(s.Versions, s.Evaluations)
	if s.FinalVersion > 0 {
		number = s.FinalVersion
	}
	if number > 0 {
		r.FinalVersion = number
		r.Scored = scored
		r.FinalScore = score
		if v, err := s.Versions.Get(number); err == nil {
			r.Biography = v.Text
		}
	}
	r.ThresholdMet = scored && score >= cfg.Threshold

	if s.Phase == model.PhaseComplete && !r.ThresholdMet {
		r.Notes = append(r.Notes, NoteThresholdNotMet)
	}
	if s.ResearchFlagged > 0 && s.ResearchEmpty == s.ResearchFlagged {
		r.Notes = append(r.Notes, "no historical context found")
	}
	return r
}

// Record converts the report into the persisted session summary
func (r *Report) Record(subject *model.Subject) *model.SessionRecord {
	return &model.SessionRecord{
		ID:           r.SessionID,
		Subject:      subject,
		Mode:         r.Mode,
		Status:       r.Status,
		Rounds:       r.Rounds,
		Refinements:  r.Refinements,
		FinalVersion: r.FinalVersion,
		FinalScore:   r.FinalScore,
		ThresholdMet: r.ThresholdMet,
		AbortReason:  r.AbortReason,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

// Markdown renders the final biography with a short header
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.Subject)
	if r.FinalVersion > 0 {
		fmt.Fprintf(&b, "_Version %d", r.FinalVersion)
		if r.Scored {
			fmt.Fprintf(&b, ", score %.2f", r.FinalScore)
		}
		b.WriteString("_\n\n")
	}
	b.WriteString(r.Biography)
	b.WriteString("\n")
	return b.String()
}
