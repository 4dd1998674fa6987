package adapter

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"google.golang.org/genai"
)

type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}
	return resp, nil
}

// GeminiLLM implements LLM on top of Gemini
type GeminiLLM struct {
	gemini Gemini
}

func NewGeminiLLM(gemini Gemini) *GeminiLLM {
	return &GeminiLLM{gemini: gemini}
}

func (x *GeminiLLM) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Schema != nil {
		schema, err := convertJSONSchemaToGenai(req.Schema)
		if err != nil {
			return "", model.Fatal(err, "unsupported response schema")
		}
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := x.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", classifyGeminiError(ctx, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", model.Transient(nil, "empty response from gemini")
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	if text == "" {
		return "", model.Transient(nil, "empty text in gemini response")
	}
	return text, nil
}

func classifyGeminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return goerr.Wrap(ctx.Err(), "gemini call interrupted")
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, err, "gemini API error", goerr.V("api_status", apiErr.Status))
	}

	// network level failures without an API status
	return model.Transient(err, "gemini request failed")
}
