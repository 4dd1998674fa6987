package biography

import (
	"bytes"
	"context"
	_ "embed"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/policy"
	"github.com/m-mizutani/saga/pkg/utils/logging"
)

//go:embed prompt/judge.md
var judgePromptRaw string

var judgePromptTmpl = template.Must(template.New("judge").Funcs(promptFuncs).Parse(judgePromptRaw))

var judgmentSchema = &jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"saturated": {Type: "boolean"},
		"reason":    {Type: "string", Description: "One sentence"},
	},
	Required: []string{"saturated", "reason"},
}

// ModelJudge asks the model client whether the interview is saturated and
// falls back to another judge when the model cannot answer.
type ModelJudge struct {
	llm      adapter.LLM
	fallback policy.ContinuationJudge
}

func NewModelJudge(llm adapter.LLM, fallback policy.ContinuationJudge) *ModelJudge {
	return &ModelJudge{llm: llm, fallback: fallback}
}

func (x *ModelJudge) Judge(ctx context.Context, turns []*model.InterviewTurn) (*model.Judgment, error) {
	signals := policy.Measure(turns)

	j, err := x.ask(ctx, turns, signals)
	if err == nil {
		return j, nil
	}
	if ctx.Err() != nil {
		return nil, goerr.Wrap(ctx.Err(), "judgment interrupted")
	}

	logging.From(ctx).Warn("model judge failed, falling back", "error", err)
	return x.fallback.Judge(ctx, turns)
}

func (x *ModelJudge) ask(ctx context.Context, turns []*model.InterviewTurn, signals *policy.Signals) (*model.Judgment, error) {
	var buf bytes.Buffer
	if err := judgePromptTmpl.Execute(&buf, map[string]any{
		"Rounds":   signals.Rounds,
		"Coverage": signals.Coverage,
		"Novelty":  signals.Recent(policy.Window),
		"Turns":    turns,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute judge prompt template")
	}

	var resp struct {
		Saturated bool   `json:"saturated"`
		Reason    string `json:"reason"`
	}
	if err := adapter.GenerateJSON(ctx, x.llm, &adapter.GenerateRequest{
		Prompt:      buf.String(),
		Schema:      judgmentSchema,
		Temperature: adapter.Float32(0),
	}, &resp); err != nil {
		return nil, err
	}

	j := &model.Judgment{
		Round:     len(turns),
		Saturated: resp.Saturated,
		Coverage:  signals.Coverage,
		Reason:    resp.Reason,
		Source:    "model",
	}
	if len(signals.Novelty) > 0 {
		j.Novelty = signals.Novelty[len(signals.Novelty)-1]
	}
	return j, nil
}
