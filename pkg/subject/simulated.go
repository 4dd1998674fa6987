package subject

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/utils/logging"
)

//go:embed prompt/simulate.md
var simulatePromptRaw string

var simulatePromptTmpl = template.Must(template.New("simulate").Parse(simulatePromptRaw))

type exchange struct {
	Question string
	Reply    string
}

// Simulated answers questions in character using a subject profile and the
// model client. When the model fails it answers from the profile timeline.
type Simulated struct {
	llm     adapter.LLM
	subject *model.Subject

	mu      sync.Mutex
	history []exchange
	used    map[int]bool
}

func NewSimulated(llm adapter.LLM, subject *model.Subject) *Simulated {
	return &Simulated{
		llm:     llm,
		subject: subject,
		used:    make(map[int]bool),
	}
}

func (x *Simulated) Ask(ctx context.Context, question string) (*model.Reply, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "interview interrupted")
	}

	text, err := x.generate(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "interview interrupted")
		}
		logging.From(ctx).Warn("simulated subject falls back to profile answer", "error", err)
		text = x.fallback(question)
	}

	x.history = append(x.history, exchange{Question: question, Reply: text})
	return &model.Reply{Text: text}, nil
}

func (x *Simulated) generate(ctx context.Context, question string) (string, error) {
	var buf bytes.Buffer
	if err := simulatePromptTmpl.Execute(&buf, map[string]any{
		"Subject":  x.subject,
		"History":  x.history,
		"Question": question,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute simulate prompt template")
	}

	text, err := x.llm.Generate(ctx, &adapter.GenerateRequest{
		Prompt:      buf.String(),
		Temperature: adapter.Float32(0.8),
		MaxTokens:   512,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// fallback picks the timeline entry sharing most keywords with the
// question, preferring entries not used yet.
func (x *Simulated) fallback(question string) string {
	if len(x.subject.Timeline) == 0 {
		return "I'm not sure how to answer that. Could you ask me about something else?"
	}

	q := strings.ToLower(question)
	best, bestScore := -1, -1
	for i, entry := range x.subject.Timeline {
		score := 0
		for _, kw := range entry.Keywords {
			if strings.Contains(q, strings.ToLower(kw)) {
				score += 2
			}
		}
		if strings.Contains(q, strings.ToLower(entry.When)) {
			score += 2
		}
		if !x.used[i] {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	x.used[best] = true
	entry := x.subject.Timeline[best]
	return fmt.Sprintf("Around %s, %s. That period stayed with me.", entry.When, entry.Summary)
}
