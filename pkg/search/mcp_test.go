package search_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/saga/pkg/search"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type searchInput struct {
	Query      string `json:"query" jsonschema:"search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of results"`
}

func newSearchServer(t *testing.T, toolName string) *httptest.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "test-search",
		Version: "1.0.0",
	}, nil)

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        toolName,
		Description: "Search the web",
	}, func(ctx context.Context, req *mcpsdk.CallToolRequest, input searchInput) (*mcpsdk.CallToolResult, any, error) {
		items := []map[string]string{
			{"title": "Result for " + input.Query, "url": "https://example.com/1", "snippet": "first"},
			{"title": "Second", "url": "https://example.com/2", "content": "second"},
			{"title": "Third", "url": "https://example.com/3", "snippet": "third"},
		}
		if input.MaxResults > 0 && input.MaxResults < len(items) {
			items = items[:input.MaxResults]
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return nil, nil, err
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
		}, nil, nil
	})

	handler := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestMCPSearch(t *testing.T) {
	ctx := context.Background()
	srv := newSearchServer(t, "search")

	p := search.NewMCP(search.WithMCPServers(search.MCPServerConfig{
		Name:      "test",
		Transport: "http",
		URL:       srv.URL,
	}))
	ok, err := p.Init(ctx)
	gt.NoError(t, err)
	gt.True(t, ok)
	defer p.Close()

	got, err := p.Search(ctx, "1966 Beijing", 2)
	gt.NoError(t, err)
	gt.A(t, got).Length(2)
	gt.Equal(t, got[0].Title, "Result for 1966 Beijing")
	gt.Equal(t, got[1].Snippet, "second")
}

func TestMCPServerWithoutSearchTool(t *testing.T) {
	ctx := context.Background()
	srv := newSearchServer(t, "lookup")

	p := search.NewMCP(search.WithMCPServers(search.MCPServerConfig{
		Name:      "test",
		Transport: "http",
		URL:       srv.URL,
	}))
	ok, err := p.Init(ctx)
	gt.NoError(t, err)
	gt.False(t, ok)
}

func TestLoadMCPConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`servers:
  - name: web
    transport: http
    url: http://localhost:8080/mcp
    tool: web_search
  - name: local
    transport: stdio
    command: ["search-server", "--stdio"]
`), 0644))

	cfg, err := search.LoadMCPConfig(path)
	gt.NoError(t, err)
	gt.A(t, cfg.Servers).Length(2)
	gt.Equal(t, cfg.Servers[0].Tool, "web_search")
	gt.Equal(t, cfg.Servers[1].Command[1], "--stdio")
}
