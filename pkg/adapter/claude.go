package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
)

// Claude is the interface for Claude API client
type Claude interface {
	// CreateMessage sends one message request to Claude
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// claudeClient implements Claude interface
type claudeClient struct {
	client *anthropic.Client
}

// NewClaude creates a new Claude API client
func NewClaude(apiKey string) Claude {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		// retries are handled by the biography call pool
		option.WithMaxRetries(0),
	)
	return &claudeClient{
		client: &client,
	}
}

func (c *claudeClient) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create claude message", goerr.V("model", params.Model))
	}
	return msg, nil
}

// ClaudeLLM implements LLM on top of Claude
type ClaudeLLM struct {
	claude    Claude
	model     string
	maxTokens int64
}

type ClaudeOption func(*ClaudeLLM)

func WithClaudeModel(model string) ClaudeOption {
	return func(x *ClaudeLLM) {
		x.model = model
	}
}

func WithClaudeMaxTokens(n int64) ClaudeOption {
	return func(x *ClaudeLLM) {
		x.maxTokens = n
	}
}

func NewClaudeLLM(claude Claude, opts ...ClaudeOption) *ClaudeLLM {
	x := &ClaudeLLM{
		claude:    claude,
		model:     "claude-sonnet-4-5",
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *ClaudeLLM) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	prompt := req.Prompt
	if req.Schema != nil {
		raw, err := json.Marshal(req.Schema)
		if err != nil {
			return "", model.Fatal(err, "failed to marshal response schema")
		}
		prompt += "\n\nRespond with ONLY a JSON object that conforms to this JSON Schema:\n" + string(raw)
	}

	maxTokens := x.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(x.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}

	msg, err := x.claude.CreateMessage(ctx, params)
	if err != nil {
		return "", classifyClaudeError(ctx, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", model.Transient(nil, "empty response from claude", goerr.V("stop_reason", msg.StopReason))
	}
	return b.String(), nil
}

func classifyClaudeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return goerr.Wrap(ctx.Err(), "claude call interrupted")
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is "overloaded"
		return classifyStatus(apiErr.StatusCode, err, "claude API error")
	}

	return model.Transient(err, "claude request failed")
}
