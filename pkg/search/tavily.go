package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/urfave/cli/v3"
)

const tavilyBaseURL = "https://api.tavily.com"

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
	Topic       string `json:"topic"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Tavily searches the web with the Tavily search API
type Tavily struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type TavilyOption func(*Tavily)

// WithTavilyBaseURL overrides the API endpoint
func WithTavilyBaseURL(url string) TavilyOption {
	return func(x *Tavily) {
		x.baseURL = url
	}
}

// WithTavilyAPIKey sets the API key without going through CLI flags
func WithTavilyAPIKey(key string) TavilyOption {
	return func(x *Tavily) {
		x.apiKey = key
	}
}

// NewTavily creates a new Tavily provider
func NewTavily(opts ...TavilyOption) *Tavily {
	x := &Tavily{
		baseURL: tavilyBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Tavily) Name() string { return "tavily" }

// Flags returns CLI flags for this provider
func (x *Tavily) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tavily-api-key",
			Sources:     cli.EnvVars("SAGA_TAVILY_API_KEY", "TAVILY_API_KEY"),
			Usage:       "Tavily API key for historical research",
			Destination: &x.apiKey,
		},
	}
}

// Init enables the provider only if API key is provided
func (x *Tavily) Init(ctx context.Context) (bool, error) {
	return x.apiKey != "", nil
}

func (x *Tavily) Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error) {
	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  limit,
		SearchDepth: "basic",
		Topic:       "general",
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal tavily request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.apiKey)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, goerr.Wrap(ctx.Err(), "tavily request interrupted")
		}
		return nil, model.Transient(err, "failed to send tavily request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		opts := []goerr.Option{goerr.V("status", resp.StatusCode), goerr.V("body", string(data))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, model.Transient(nil, "tavily API returned error", opts...)
		}
		return nil, model.Fatal(nil, "tavily API returned error", opts...)
	}

	var result tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, model.Transient(err, "failed to decode tavily response")
	}

	out := make([]*model.SearchResult, 0, len(result.Results))
	for _, r := range result.Results {
		out = append(out, &model.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
		})
	}
	return out, nil
}
