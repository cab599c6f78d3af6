// Package mcp bridges external Model Context Protocol servers into the
// tools option: it connects to configured servers, converts their tool
// definitions to the wire Tool shape, and executes tool calls the model
// makes.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/exllm/exllm/pkg/types"
)

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	Name    string
	URL     string            // streamable HTTP endpoint
	Command string            // stdio alternative: command to spawn
	Args    []string
	Envs    []string
	Headers map[string]string

	ConnectTimeout time.Duration // default 30s
	CallTimeout    time.Duration // default 60s
}

// ToolResult is the outcome of one tool execution, ready to fold back
// into the conversation as a tool message.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Content    string
	IsError    bool
}

// Bridge holds the live connections and the tools they export. Tool
// names are unique across servers; a later server wins a name clash.
type Bridge struct {
	mu      sync.RWMutex
	conns   map[string]*client.Client // server name -> connection
	tools   map[string]types.Tool     // tool name -> definition
	origins map[string]string         // tool name -> server name
	cfgs    map[string]ServerConfig
}

// NewBridge connects to every server and loads its tool list. Servers
// that fail to connect are reported; the bridge still serves the rest.
func NewBridge(ctx context.Context, servers []ServerConfig) (*Bridge, error) {
	b := &Bridge{
		conns:   make(map[string]*client.Client),
		tools:   make(map[string]types.Tool),
		origins: make(map[string]string),
		cfgs:    make(map[string]ServerConfig),
	}
	var errs []string
	for _, cfg := range servers {
		if err := b.connect(ctx, cfg); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", cfg.Name, err))
		}
	}
	if len(errs) > 0 && len(b.conns) == 0 {
		return nil, fmt.Errorf("no MCP server reachable: %s", strings.Join(errs, "; "))
	}
	if len(errs) > 0 {
		return b, fmt.Errorf("some MCP servers unreachable: %s", strings.Join(errs, "; "))
	}
	return b, nil
}

func (b *Bridge) connect(ctx context.Context, cfg ServerConfig) error {
	var conn *client.Client
	switch {
	case cfg.URL != "":
		httpTransport, err := transport.NewStreamableHTTP(cfg.URL,
			transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return fmt.Errorf("create transport: %w", err)
		}
		conn = client.NewClient(httpTransport)
	case cfg.Command != "":
		conn = client.NewClient(transport.NewStdio(cfg.Command, cfg.Envs, cfg.Args...))
	default:
		return fmt.Errorf("server %q has neither url nor command", cfg.Name)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := conn.Start(connectCtx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "exllm", Version: "1.0"},
		},
	}
	if _, err := conn.Initialize(connectCtx, initReq); err != nil {
		conn.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listReq := mcp.ListToolsRequest{
		PaginatedRequest: mcp.PaginatedRequest{
			Request: mcp.Request{Method: string(mcp.MethodToolsList)},
		},
	}
	resp, err := conn.ListTools(connectCtx, listReq)
	if err != nil {
		conn.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[cfg.Name] = conn
	b.cfgs[cfg.Name] = cfg
	for i := range resp.Tools {
		tool := convertTool(&resp.Tools[i])
		b.tools[resp.Tools[i].Name] = tool
		b.origins[resp.Tools[i].Name] = cfg.Name
	}
	return nil
}

// Tools returns the exported tool definitions, ready for the tools
// option.
func (b *Bridge) Tools() []types.Tool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Tool, 0, len(b.tools))
	for _, t := range b.tools {
		out = append(out, t)
	}
	return out
}

// Execute runs a model-issued tool call against the owning server.
func (b *Bridge) Execute(ctx context.Context, call types.ToolCall) (*ToolResult, error) {
	b.mu.RLock()
	origin, ok := b.origins[call.Function.Name]
	conn := b.conns[origin]
	cfg := b.cfgs[origin]
	b.mu.RUnlock()
	if !ok || conn == nil {
		return nil, fmt.Errorf("tool %q is not exported by any connected server", call.Function.Name)
	}

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("parse tool arguments: %w", err)
		}
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := conn.CallTool(callCtx, mcp.CallToolRequest{
		Request: mcp.Request{Method: string(mcp.MethodToolsCall)},
		Params:  mcp.CallToolParams{Name: call.Function.Name, Arguments: args},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call %q: %w", call.Function.Name, err)
	}

	return &ToolResult{
		ToolCallID: call.ID,
		ToolName:   call.Function.Name,
		Content:    extractText(resp),
		IsError:    resp != nil && resp.IsError,
	}, nil
}

// Close shuts down every server connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []string
	for name, conn := range b.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
		delete(b.conns, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close MCP connections: %s", strings.Join(errs, "; "))
	}
	return nil
}

func convertTool(t *mcp.Tool) types.Tool {
	params := map[string]any{"type": "object"}
	if len(t.InputSchema.Properties) > 0 {
		params["properties"] = t.InputSchema.Properties
	} else {
		params["properties"] = map[string]any{}
	}
	if len(t.InputSchema.Required) > 0 {
		params["required"] = t.InputSchema.Required
	}
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(`{"type":"object","properties":{}}`)
	}
	return types.Tool{
		Type: "function",
		Function: types.ToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  raw,
		},
	}
}

func extractText(resp *mcp.CallToolResult) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, content := range resp.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			sb.WriteString(c.Text)
		case mcp.ImageContent:
			sb.WriteString(fmt.Sprintf("[image: %s]", c.MIMEType))
		case mcp.EmbeddedResource:
			sb.WriteString(fmt.Sprintf("[resource: %s]", c.Type))
		default:
			if raw, err := json.Marshal(content); err == nil {
				sb.Write(raw)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
