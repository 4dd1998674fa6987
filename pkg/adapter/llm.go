package adapter

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"google.golang.org/genai"
)

// LLM is the model client used by every biography component. Failures are
// classified as model.ErrTransient or model.ErrFatal.
type LLM interface {
	Generate(ctx context.Context, req *GenerateRequest) (string, error)
}

// GenerateRequest is a single-shot generation request
type GenerateRequest struct {
	System string
	Prompt string
	// Schema requests a JSON response matching the schema
	Schema      *jsonschema.Schema
	Temperature *float32
	MaxTokens   int
}

// GenerateJSON calls llm and decodes its JSON response into out. A response
// that is not valid JSON is treated as a garbled upstream response.
func GenerateJSON(ctx context.Context, llm LLM, req *GenerateRequest, out any) error {
	text, err := llm.Generate(ctx, req)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(trimCodeFence(text)), out); err != nil {
		return model.Transient(err, "failed to parse JSON response", goerr.V("response", truncate(text, 256)))
	}
	return nil
}

// Float32 returns a pointer to f
func Float32(f float32) *float32 {
	return &f
}

func classifyStatus(code int, err error, msg string, opts ...goerr.Option) error {
	opts = append(opts, goerr.V("status", code))
	switch {
	case code == 408 || code == 429 || code >= 500:
		return model.Transient(err, msg, opts...)
	default:
		return model.Fatal(err, msg, opts...)
	}
}

func trimCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	// drop language tag such as ```json
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// convertJSONSchemaToGenai converts JSON Schema to Gemini genai.Schema
func convertJSONSchemaToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	out := &genai.Schema{Description: schema.Description}

	switch schema.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	default:
		if schema.Type != "" {
			return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
		}
	}

	for _, v := range schema.Enum {
		if s, ok := v.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := convertJSONSchemaToGenai(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
			}
			out.Properties[name] = converted
		}
	}
	out.Required = schema.Required

	if schema.Items != nil {
		converted, err := convertJSONSchemaToGenai(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		out.Items = converted
	}

	return out, nil
}
