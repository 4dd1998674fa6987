package biography

import (
	"bytes"
	"context"
	_ "embed"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
)

//go:embed prompt/evaluate.md
var evaluatePromptRaw string

var evaluatePromptTmpl = template.Must(template.New("evaluate").Funcs(promptFuncs).Parse(evaluatePromptRaw))

const evaluateSystemPrompt = "You are a strict literary editor. You grade biographies against a fixed rubric and never change the rubric."

// Dimension is one criterion of the quality rubric
type Dimension struct {
	Name     string
	Weight   float64
	Criteria string
}

// Rubric is the fixed set of weighted dimensions every draft is scored on
var Rubric = []Dimension{
	{"content_completeness", 15, "Covers the major life stages and events the interviewee described."},
	{"emotional_depth", 15, "Conveys the feelings, fears and hopes behind the events."},
	{"literary_quality", 15, "Vivid, varied and readable prose with a clear voice."},
	{"historical_integration", 15, "Places personal events in their historical and social context accurately."},
	{"narrative_coherence", 10, "Chapters flow in a clear order with smooth transitions."},
	{"personal_growth", 15, "Shows how the person changed and what they learned, as a hero's journey."},
	{"authenticity", 10, "Stays faithful to the interview without invented facts."},
	{"uniqueness", 5, "Captures what makes this life different from any other."},
}

func rubricNames() []any {
	names := make([]any, 0, len(Rubric))
	for _, d := range Rubric {
		names = append(names, d.Name)
	}
	return names
}

func evaluationSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"dimensions": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"name":   {Type: "string", Enum: rubricNames()},
						"score":  {Type: "number", Description: "0 to 10"},
						"issues": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
					},
					Required: []string{"name", "score", "issues"},
				},
			},
			"major_issues": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"strengths":    {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		},
		Required: []string{"dimensions", "major_issues", "strengths"},
	}
}

type rawEvaluation struct {
	Dimensions []struct {
		Name   string   `json:"name"`
		Score  float64  `json:"score"`
		Issues []string `json:"issues"`
	} `json:"dimensions"`
	MajorIssues []string `json:"major_issues"`
	Strengths   []string `json:"strengths"`
}

// Evaluator scores drafts with the model client. The overall score is the
// weighted mean of the dimension scores.
type Evaluator struct {
	llm adapter.LLM
	now func() time.Time
}

func NewEvaluator(llm adapter.LLM) *Evaluator {
	return &Evaluator{llm: llm, now: time.Now}
}

func (x *Evaluator) Evaluate(ctx context.Context, subject *model.Subject, text string) (*model.EvaluationResult, error) {
	var buf bytes.Buffer
	if err := evaluatePromptTmpl.Execute(&buf, map[string]any{
		"Subject": subject,
		"Rubric":  Rubric,
		"Text":    text,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute evaluate prompt template")
	}

	var resp rawEvaluation
	if err := adapter.GenerateJSON(ctx, x.llm, &adapter.GenerateRequest{
		System:      evaluateSystemPrompt,
		Prompt:      buf.String(),
		Schema:      evaluationSchema(),
		Temperature: adapter.Float32(0),
	}, &resp); err != nil {
		return nil, err
	}

	result, err := scoreEvaluation(&resp)
	if err != nil {
		return nil, err
	}
	result.Timestamp = x.now()
	return result, nil
}

// scoreEvaluation checks the response covers the whole rubric and
// computes the weighted score.
func scoreEvaluation(resp *rawEvaluation) (*model.EvaluationResult, error) {
	byName := make(map[string]int, len(resp.Dimensions))
	for i, d := range resp.Dimensions {
		byName[strings.TrimSpace(d.Name)] = i
	}

	result := &model.EvaluationResult{
		Dimensions: make([]model.DimensionScore, 0, len(Rubric)),
	}
	var weighted, total float64
	var weaknesses []string

	for _, dim := range Rubric {
		i, ok := byName[dim.Name]
		if !ok {
			return nil, model.Transient(nil, "evaluation misses a rubric dimension", goerr.V("dimension", dim.Name))
		}
		d := resp.Dimensions[i]
		if math.IsNaN(d.Score) {
			return nil, model.Transient(nil, "evaluation score is not a number", goerr.V("dimension", dim.Name))
		}
		score := min(max(d.Score, 0), 10)

		result.Dimensions = append(result.Dimensions, model.DimensionScore{
			Name:   dim.Name,
			Weight: dim.Weight,
			Score:  score,
			Issues: d.Issues,
		})
		weighted += score * dim.Weight
		total += dim.Weight
		weaknesses = append(weaknesses, d.Issues...)
	}

	result.Score = math.Round(weighted/total*100) / 100
	result.Weaknesses = dedupe(append(weaknesses, resp.MajorIssues...))
	result.Strengths = dedupe(resp.Strengths)
	return result, nil
}

// dedupe drops blank and repeated entries, keeping the first occurrence
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
