package biography

import (
	"bytes"
	"context"
	_ "embed"
	"sort"
	"strings"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
)

//go:embed prompt/extract.md
var extractPromptRaw string

var extractPromptTmpl = template.Must(template.New("extract").Funcs(promptFuncs).Parse(extractPromptRaw))

// eventNamespace derives stable event IDs from event content
var eventNamespace = uuid.MustParse("6f1f8a3e-3c9b-4d2a-9a57-2b7f0c5e8d41")

func categoryNames() []string {
	names := make([]string, 0, len(model.EventCategories))
	for _, c := range model.EventCategories {
		names = append(names, string(c))
	}
	return names
}

func eventsSchema() *jsonschema.Schema {
	categories := make([]any, 0, len(model.EventCategories))
	for _, c := range model.EventCategories {
		categories = append(categories, string(c))
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"events": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"when":         {Type: "string", Description: "Year, date, age or period"},
						"category":     {Type: "string", Enum: categories},
						"description":  {Type: "string", Description: "One factual sentence"},
						"source_turns": {Type: "array", Items: &jsonschema.Schema{Type: "integer"}},
						"confidence":   {Type: "number", Description: "0 to 1"},
					},
					Required: []string{"when", "category", "description", "source_turns", "confidence"},
				},
			},
		},
		Required: []string{"events"},
	}
}

type rawEvent struct {
	When        string  `json:"when"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	SourceTurns []int   `json:"source_turns"`
	Confidence  float64 `json:"confidence"`
}

// Extractor extracts life events with the model client
type Extractor struct {
	llm adapter.LLM
}

func NewExtractor(llm adapter.LLM) *Extractor {
	return &Extractor{llm: llm}
}

func (x *Extractor) Extract(ctx context.Context, turns []*model.InterviewTurn) ([]*model.ExtractedEvent, error) {
	if len(turns) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := extractPromptTmpl.Execute(&buf, map[string]any{
		"Turns":      turns,
		"Categories": categoryNames(),
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute extract prompt template")
	}

	var resp struct {
		Events []rawEvent `json:"events"`
	}
	if err := adapter.GenerateJSON(ctx, x.llm, &adapter.GenerateRequest{
		Prompt:      buf.String(),
		Schema:      eventsSchema(),
		Temperature: adapter.Float32(0),
	}, &resp); err != nil {
		return nil, err
	}

	return normalizeEvents(resp.Events, len(turns)), nil
}

// normalizeEvents turns raw model output into a canonical event set.
// Events without a valid source turn are dropped as unsupported, duplicates
// are merged and the result is sorted, so equal input always gives equal
// output regardless of the order the model listed events in.
func normalizeEvents(raw []rawEvent, turnCount int) []*model.ExtractedEvent {
	byKey := make(map[string]*model.ExtractedEvent)

	for _, r := range raw {
		desc := strings.Join(strings.Fields(r.Description), " ")
		if desc == "" {
			continue
		}

		var sources []int
		for _, idx := range r.SourceTurns {
			if idx >= 0 && idx < turnCount {
				sources = append(sources, idx)
			}
		}
		if len(sources) == 0 {
			continue
		}

		when := strings.TrimSpace(r.When)
		if when == "" {
			when = "unknown"
		}

		ev := &model.ExtractedEvent{
			When:        when,
			Category:    model.ParseEventCategory(r.Category),
			Description: desc,
			SourceTurns: sources,
			Confidence:  min(max(r.Confidence, 0), 1),
		}
		key := ev.Key()

		if prev, ok := byKey[key]; ok {
			prev.SourceTurns = append(prev.SourceTurns, ev.SourceTurns...)
			prev.Confidence = max(prev.Confidence, ev.Confidence)
			continue
		}
		byKey[key] = ev
	}

	events := make([]*model.ExtractedEvent, 0, len(byKey))
	for key, ev := range byKey {
		ev.SourceTurns = uniqueSorted(ev.SourceTurns)
		ev.ID = uuid.NewSHA1(eventNamespace, []byte(key)).String()
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.SourceTurns[0] != b.SourceTurns[0] {
			return a.SourceTurns[0] < b.SourceTurns[0]
		}
		return a.Key() < b.Key()
	})
	return events
}

func uniqueSorted(v []int) []int {
	sort.Ints(v)
	out := make([]int, 0, len(v))
	for _, x := range v {
		if len(out) == 0 || out[len(out)-1] != x {
			out = append(out, x)
		}
	}
	return out
}
