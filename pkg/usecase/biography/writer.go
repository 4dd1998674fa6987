package biography

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
)

//go:embed prompt/write.md
var writePromptRaw string

var writePromptTmpl = template.Must(template.New("write").Funcs(promptFuncs).Parse(writePromptRaw))

const writeSystemPrompt = "You are a skilled biographer who writes moving, truthful life stories from interviews."

// Writer writes biography drafts with the model client
type Writer struct {
	llm adapter.LLM
}

func NewWriter(llm adapter.LLM) *Writer {
	return &Writer{llm: llm}
}

func (x *Writer) Write(ctx context.Context, in *WriteInput) (string, error) {
	names := make(map[string]string, len(in.Events))
	for _, ev := range in.Events {
		names[ev.ID] = ev.Description
	}

	var buf bytes.Buffer
	if err := writePromptTmpl.Execute(&buf, map[string]any{
		"Subject":    in.Subject,
		"Input":      in,
		"EventNames": names,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute write prompt template")
	}

	text, err := x.llm.Generate(ctx, &adapter.GenerateRequest{
		System:      writeSystemPrompt,
		Prompt:      buf.String(),
		Temperature: adapter.Float32(0.7),
		MaxTokens:   8192,
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", model.Transient(nil, "empty biography from model")
	}
	return text, nil
}
