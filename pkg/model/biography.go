package model

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Basis records which inputs a biography version was generated from
type Basis struct {
	EventIDs     []string `json:"event_ids" firestore:"event_ids"`
	ResearchIDs  []string `json:"research_ids" firestore:"research_ids"`
	PriorVersion int      `json:"prior_version,omitempty" firestore:"prior_version"`
	Feedback     []string `json:"feedback,omitempty" firestore:"feedback"`
}

// BiographyVersion is one immutable draft
type BiographyVersion struct {
	Number    int       `json:"number" firestore:"number"`
	Text      string    `json:"text" firestore:"text"`
	Basis     Basis     `json:"basis" firestore:"basis"`
	Refined   bool      `json:"refined" firestore:"refined"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
}

func (v BiographyVersion) clone() BiographyVersion {
	v.Basis.EventIDs = append([]string(nil), v.Basis.EventIDs...)
	v.Basis.ResearchIDs = append([]string(nil), v.Basis.ResearchIDs...)
	v.Basis.Feedback = append([]string(nil), v.Basis.Feedback...)
	return v
}

// VersionLog is an append-only arena of biography versions keyed by
// number. Numbers start at 1 and are contiguous. Readers always get
// copies, so a stored version cannot be changed after Append.
type VersionLog struct {
	versions []BiographyVersion
}

// Append stores a new version and returns a copy of it with its number assigned
func (x *VersionLog) Append(text string, basis Basis, at time.Time) BiographyVersion {
	v := BiographyVersion{
		Number:    len(x.versions) + 1,
		Text:      text,
		Basis:     basis,
		Refined:   basis.PriorVersion > 0,
		CreatedAt: at,
	}.clone()
	x.versions = append(x.versions, v)
	return v.clone()
}

// Get returns version n
func (x *VersionLog) Get(n int) (BiographyVersion, error) {
	if n < 1 || n > len(x.versions) {
		return BiographyVersion{}, goerr.Wrap(ErrVersionNotFound, "no such version", goerr.V("version", n), goerr.V("count", len(x.versions)))
	}
	return x.versions[n-1].clone(), nil
}

// Latest returns the newest version or nil when empty
func (x *VersionLog) Latest() *BiographyVersion {
	if x == nil || len(x.versions) == 0 {
		return nil
	}
	v := x.versions[len(x.versions)-1].clone()
	return &v
}

// Len returns the number of stored versions
func (x *VersionLog) Len() int {
	if x == nil {
		return 0
	}
	return len(x.versions)
}

// All returns copies of every version ordered by number
func (x *VersionLog) All() []BiographyVersion {
	if x == nil {
		return nil
	}
	out := make([]BiographyVersion, len(x.versions))
	for i, v := range x.versions {
		out[i] = v.clone()
	}
	return out
}

func (x *VersionLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(x.All())
}

// UnmarshalJSON restores a log. Numbers must be contiguous from 1.
func (x *VersionLog) UnmarshalJSON(data []byte) error {
	var versions []BiographyVersion
	if err := json.Unmarshal(data, &versions); err != nil {
		return goerr.Wrap(err, "failed to unmarshal versions")
	}
	for i, v := range versions {
		if v.Number != i+1 {
			return goerr.New("version numbers are not contiguous", goerr.V("index", i), goerr.V("number", v.Number))
		}
	}
	x.versions = versions
	return nil
}

// DimensionScore is the score of one rubric dimension
type DimensionScore struct {
	Name   string   `json:"name" firestore:"name"`
	Weight float64  `json:"weight" firestore:"weight"`
	Score  float64  `json:"score" firestore:"score"`
	Issues []string `json:"issues,omitempty" firestore:"issues"`
}

// EvaluationResult scores exactly one biography version
type EvaluationResult struct {
	Version    int              `json:"version" firestore:"version"`
	Score      float64          `json:"score" firestore:"score"`
	Dimensions []DimensionScore `json:"dimensions" firestore:"dimensions"`
	Weaknesses []string         `json:"weaknesses" firestore:"weaknesses"`
	Strengths  []string         `json:"strengths,omitempty" firestore:"strengths"`
	Timestamp  time.Time        `json:"timestamp" firestore:"timestamp"`
}

func (e EvaluationResult) clone() EvaluationResult {
	dims := make([]DimensionScore, len(e.Dimensions))
	for i, d := range e.Dimensions {
		d.Issues = append([]string(nil), d.Issues...)
		dims[i] = d
	}
	e.Dimensions = dims
	e.Weaknesses = append([]string(nil), e.Weaknesses...)
	e.Strengths = append([]string(nil), e.Strengths...)
	return e
}

// EvaluationLog holds at most one evaluation per version, in the order they were recorded
type EvaluationLog struct {
	results []EvaluationResult
}

// Record adds an evaluation. The version must exist in versions and must
// not already be evaluated.
func (x *EvaluationLog) Record(versions *VersionLog, ev EvaluationResult) error {
	if _, err := versions.Get(ev.Version); err != nil {
		return err
	}
	if _, ok := x.ForVersion(ev.Version); ok {
		return goerr.Wrap(ErrAlreadyEvaluated, "version already has an evaluation", goerr.V("version", ev.Version))
	}
	if ev.Score < 0 || ev.Score > 10 {
		return goerr.New("score out of range", goerr.V("score", ev.Score))
	}
	x.results = append(x.results, ev.clone())
	return nil
}

// ForVersion returns the evaluation of version n
func (x *EvaluationLog) ForVersion(n int) (*EvaluationResult, bool) {
	if x == nil {
		return nil, false
	}
	for _, r := range x.results {
		if r.Version == n {
			c := r.clone()
			return &c, true
		}
	}
	return nil, false
}

func (x *EvaluationLog) Len() int {
	if x == nil {
		return 0
	}
	return len(x.results)
}

func (x *EvaluationLog) All() []EvaluationResult {
	if x == nil {
		return nil
	}
	out := make([]EvaluationResult, len(x.results))
	for i, r := range x.results {
		out[i] = r.clone()
	}
	return out
}

func (x *EvaluationLog) MarshalJSON() ([]byte, error) {
	return json.Marshal(x.All())
}

func (x *EvaluationLog) UnmarshalJSON(data []byte) error {
	var results []EvaluationResult
	if err := json.Unmarshal(data, &results); err != nil {
		return goerr.Wrap(err, "failed to unmarshal evaluations")
	}
	x.results = results
	return nil
}

// SelectFinal picks the version with the highest recorded score, breaking
// ties by the latest version. When no version is evaluated, the latest
// version is returned with ok=false for the score.
func SelectFinal(versions *VersionLog, evals *EvaluationLog) (number int, score float64, scored bool) {
	for _, ev := range evals.All() {
		if !scored || ev.Score > score || (ev.Score == score && ev.Version > number) {
			number, score, scored = ev.Version, ev.Score, true
		}
	}
	if !scored {
		if latest := versions.Latest(); latest != nil {
			number = latest.Number
		}
	}
	return number, score, scored
}
