package policy

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// ResearchPolicy decides whether an event benefits from external context
type ResearchPolicy interface {
	Worthy(ctx context.Context, ev *model.ExtractedEvent) (bool, error)
}

// ContinuationJudge decides whether the interview has reached saturation
type ContinuationJudge interface {
	Judge(ctx context.Context, turns []*model.InterviewTurn) (*model.Judgment, error)
}

// regoPrintHook sends Rego print() output to the debug log
type regoPrintHook struct{}

func (h *regoPrintHook) Print(ctx print.Context, message string) error {
	logging.Default().Debug("rego print", "message", message)
	return nil
}

// Engine evaluates the research and interview rubrics written in Rego.
// When a package is not defined by the loaded policies, the decision
// falls back to the Go heuristic.
type Engine struct {
	research  *rego.PreparedEvalQuery
	interview *rego.PreparedEvalQuery
	fallback  *Heuristic
}

// New loads policies from policyDir, or the embedded defaults when empty
func New(ctx context.Context, policyDir string, categories []model.EventCategory) (*Engine, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}

	e := &Engine{fallback: NewHeuristic(categories)}
	if len(modules) == 0 {
		return e, nil
	}

	if e.research, err = prepareQuery(ctx, modules, "data.research.worthy"); err != nil {
		return nil, goerr.Wrap(err, "failed to prepare research policy")
	}
	if e.interview, err = prepareQuery(ctx, modules, "data.interview.saturated"); err != nil {
		return nil, goerr.Wrap(err, "failed to prepare interview policy")
	}

	return e, nil
}

func (e *Engine) Worthy(ctx context.Context, ev *model.ExtractedEvent) (bool, error) {
	categories := make([]string, 0, len(e.fallback.categories))
	for _, c := range e.fallback.categories {
		categories = append(categories, string(c))
	}
	input := map[string]any{
		"event": map[string]any{
			"when":        ev.When,
			"category":    string(ev.Category),
			"description": ev.Description,
		},
		"categories": categories,
	}

	v, defined, err := evalBool(ctx, e.research, input)
	if err != nil {
		return false, goerr.Wrap(err, "failed to evaluate research policy", goerr.V("event", ev.ID))
	}
	if !defined {
		return e.fallback.worthy(ev), nil
	}
	return v, nil
}

func (e *Engine) Judge(ctx context.Context, turns []*model.InterviewTurn) (*model.Judgment, error) {
	s := Measure(turns)
	input := map[string]any{
		"rounds":         s.Rounds,
		"coverage":       s.Coverage,
		"recent_novelty": s.Recent(Window),
		"content_free":   s.ContentFree,
	}

	v, defined, err := evalBool(ctx, e.interview, input)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate interview policy")
	}
	if !defined {
		return e.fallback.Judge(ctx, turns)
	}

	j := &model.Judgment{
		Round:     len(turns),
		Saturated: v,
		Coverage:  s.Coverage,
		Source:    "rego",
	}
	if len(s.Novelty) > 0 {
		j.Novelty = s.Novelty[len(s.Novelty)-1]
	}
	return j, nil
}

func evalBool(ctx context.Context, q *rego.PreparedEvalQuery, input any) (value, defined bool, err error) {
	if q == nil {
		return false, false, nil
	}

	rs, err := q.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{}))
	if err != nil {
		return false, false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, false, nil
	}

	b, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, false, goerr.New("policy result is not boolean", goerr.V("value", rs[0].Expressions[0].Value))
	}
	return b, true, nil
}
