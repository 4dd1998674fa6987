package search

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// MCPServerConfig represents configuration for a single MCP server
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   []string          `yaml:"command"`
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
	// Tool is the search tool name on this server. Defaults to the
	// --mcp-search-tool flag.
	Tool string `yaml:"tool"`
}

// MCPConfig represents the MCP configuration file structure
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// LoadMCPConfig reads an MCP configuration file
func LoadMCPConfig(path string) (*MCPConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve config path", goerr.V("path", path))
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read MCP config file", goerr.V("path", absPath))
	}

	var cfg MCPConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse MCP config file", goerr.V("path", absPath))
	}
	return &cfg, nil
}

type mcpSearchTool struct {
	server   string
	tool     string
	session  *mcp.ClientSession
	queryArg string
	limitArg string
}

// MCP searches through a search tool exposed by MCP servers
type MCP struct {
	configPath string
	toolName   string
	servers    []MCPServerConfig
	tools      []*mcpSearchTool
}

type MCPOption func(*MCP)

// WithMCPServers configures servers directly instead of a config file
func WithMCPServers(servers ...MCPServerConfig) MCPOption {
	return func(x *MCP) {
		x.servers = append(x.servers, servers...)
	}
}

// NewMCP creates a new MCP search provider
func NewMCP(opts ...MCPOption) *MCP {
	x := &MCP{toolName: "search"}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *MCP) Name() string { return "mcp" }

func (x *MCP) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mcp-config",
			Sources:     cli.EnvVars("SAGA_MCP_CONFIG"),
			Usage:       "Path to MCP server configuration file (YAML)",
			Destination: &x.configPath,
		},
		&cli.StringFlag{
			Name:        "mcp-search-tool",
			Sources:     cli.EnvVars("SAGA_MCP_SEARCH_TOOL"),
			Usage:       "Name of the search tool exposed by MCP servers",
			Value:       "search",
			Destination: &x.toolName,
		},
	}
}

// Init connects to configured servers and keeps those exposing the search
// tool. Servers that fail to connect are skipped with a warning.
func (x *MCP) Init(ctx context.Context) (bool, error) {
	servers := x.servers
	if x.configPath != "" {
		cfg, err := LoadMCPConfig(x.configPath)
		if err != nil {
			return false, err
		}
		servers = append(servers, cfg.Servers...)
	}

	for _, cfg := range servers {
		t, err := x.connect(ctx, cfg)
		if err != nil {
			logging.From(ctx).Warn("failed to connect to MCP server", "server", cfg.Name, "error", err)
			continue
		}
		if t == nil {
			logging.From(ctx).Warn("MCP server has no search tool", "server", cfg.Name, "tool", x.toolFor(cfg))
			continue
		}
		x.tools = append(x.tools, t)
	}

	return len(x.tools) > 0, nil
}

func (x *MCP) toolFor(cfg MCPServerConfig) string {
	if cfg.Tool != "" {
		return cfg.Tool
	}
	return x.toolName
}

func (x *MCP) connect(ctx context.Context, cfg MCPServerConfig) (*mcpSearchTool, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "saga",
		Version: "0.1.0",
	}, nil)

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create transport", goerr.V("server", cfg.Name))
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to MCP server", goerr.V("server", cfg.Name))
	}

	toolsResult, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return nil, goerr.Wrap(err, "failed to list tools", goerr.V("server", cfg.Name))
	}

	name := x.toolFor(cfg)
	for _, t := range toolsResult.Tools {
		if t.Name != name {
			continue
		}
		queryArg, limitArg, err := inspectInputSchema(t.InputSchema)
		if err != nil {
			_ = session.Close()
			return nil, goerr.Wrap(err, "unsupported search tool schema", goerr.V("server", cfg.Name), goerr.V("tool", name))
		}
		return &mcpSearchTool{
			server:   cfg.Name,
			tool:     name,
			session:  session,
			queryArg: queryArg,
			limitArg: limitArg,
		}, nil
	}

	_ = session.Close()
	return nil, nil
}

func newTransport(cfg MCPServerConfig) (mcp.Transport, error) {
	switch cfg.Transport {
	case "stdio":
		if len(cfg.Command) == 0 {
			return nil, goerr.New("command is required for stdio transport")
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case "http":
		if cfg.URL == "" {
			return nil, goerr.New("url is required for http transport")
		}
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil

	default:
		return nil, goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"stdio", "http"}))
	}
}

// inspectInputSchema finds the argument names for the query string and
// the optional result limit.
func inspectInputSchema(input any) (queryArg, limitArg string, err error) {
	queryArg = "query"
	if input == nil {
		return queryArg, "", nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return "", "", goerr.Wrap(err, "failed to marshal input schema")
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return "", "", goerr.Wrap(err, "failed to unmarshal input schema")
	}
	if len(schema.Properties) == 0 {
		return queryArg, "", nil
	}

	queryArg = ""
	for _, name := range []string{"query", "q", "keyword", "text"} {
		if p, ok := schema.Properties[name]; ok && (p.Type == "" || p.Type == "string") {
			queryArg = name
			break
		}
	}
	if queryArg == "" {
		return "", "", goerr.New("no string query argument", goerr.V("properties", propertyNames(&schema)))
	}

	for _, name := range []string{"max_results", "limit", "count", "num_results"} {
		if p, ok := schema.Properties[name]; ok && (p.Type == "integer" || p.Type == "number") {
			limitArg = name
			break
		}
	}
	return queryArg, limitArg, nil
}

func propertyNames(schema *jsonschema.Schema) []string {
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	return names
}

func (x *MCP) Search(ctx context.Context, query string, limit int) ([]*model.SearchResult, error) {
	var results []*model.SearchResult
	var lastErr error

	for _, t := range x.tools {
		args := map[string]any{t.queryArg: query}
		if t.limitArg != "" {
			args[t.limitArg] = limit
		}

		resp, err := t.session.CallTool(ctx, &mcp.CallToolParams{
			Name:      t.tool,
			Arguments: args,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, goerr.Wrap(ctx.Err(), "MCP search interrupted")
			}
			lastErr = model.Transient(err, "failed to call MCP search tool", goerr.V("server", t.server), goerr.V("tool", t.tool))
			continue
		}
		if resp.IsError {
			lastErr = model.Transient(nil, "MCP search tool returned error", goerr.V("server", t.server), goerr.V("content", contentText(resp)))
			continue
		}

		results = append(results, parseToolResult(resp)...)
		if len(results) >= limit {
			return results[:limit], nil
		}
	}

	if len(results) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return results, nil
}

// Close closes all MCP server sessions
func (x *MCP) Close() error {
	for _, t := range x.tools {
		if err := t.session.Close(); err != nil {
			return goerr.Wrap(err, "failed to close session", goerr.V("server", t.server))
		}
	}
	x.tools = nil
	return nil
}

func contentText(resp *mcp.CallToolResult) string {
	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// parseToolResult accepts a JSON list of results, an object with a
// "results" list, or plain text which becomes a single snippet.
func parseToolResult(resp *mcp.CallToolResult) []*model.SearchResult {
	var out []*model.SearchResult
	for _, c := range resp.Content {
		tc, ok := c.(*mcp.TextContent)
		if !ok || strings.TrimSpace(tc.Text) == "" {
			continue
		}

		var list []*mcpResult
		if err := json.Unmarshal([]byte(tc.Text), &list); err == nil {
			out = append(out, toSearchResults(list)...)
			continue
		}
		var wrapped struct {
			Results []*mcpResult `json:"results"`
		}
		if err := json.Unmarshal([]byte(tc.Text), &wrapped); err == nil && len(wrapped.Results) > 0 {
			out = append(out, toSearchResults(wrapped.Results)...)
			continue
		}

		out = append(out, &model.SearchResult{Snippet: strings.TrimSpace(tc.Text)})
	}
	return out
}

type mcpResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content"`
}

func toSearchResults(list []*mcpResult) []*model.SearchResult {
	out := make([]*model.SearchResult, 0, len(list))
	for _, r := range list {
		if r == nil {
			continue
		}
		snippet := r.Snippet
		if snippet == "" {
			snippet = r.Content
		}
		out = append(out, &model.SearchResult{Title: r.Title, URL: r.URL, Snippet: snippet})
	}
	return out
}
