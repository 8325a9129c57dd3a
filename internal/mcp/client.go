package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/minmaxflow/mini-kode/internal/logging"
)

// ErrServerNotFound is returned for names that were never added.
var ErrServerNotFound = errors.New("mcp server not found")

// Client manages MCP server connections using the official MCP SDK.
type Client struct {
	mu        sync.RWMutex
	servers   map[string]*server
	sdkClient *sdkmcp.Client
	log       zerolog.Logger
}

type server struct {
	name    string
	config  Config
	session *sdkmcp.ClientSession
	tools   []Tool
	status  Status
	err     string
}

// NewClient creates a new MCP client.
func NewClient() *Client {
	return &Client{
		servers: make(map[string]*server),
		sdkClient: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "mini-kode",
			Version: "0.1.0",
		}, nil),
		log: logging.Component("mcp"),
	}
}

// AddServer connects to a server and lists its tools. A disabled server is
// recorded without connecting. A failed connection is recorded and returned.
func (c *Client) AddServer(ctx context.Context, name string, cfg Config) error {
	c.mu.Lock()
	if _, ok := c.servers[name]; ok {
		c.mu.Unlock()
		return fmt.Errorf("server already exists: %s", name)
	}
	s := &server{name: name, config: cfg, status: StatusConnecting}
	if !cfg.Enabled {
		s.status = StatusDisabled
	}
	c.servers[name] = s
	c.mu.Unlock()

	if !cfg.Enabled {
		return nil
	}

	session, tools, err := c.connect(ctx, name, cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		s.status, s.err = StatusFailed, err.Error()
		c.log.Warn().Err(err).Str("server", name).Msg("mcp connect failed")
		return fmt.Errorf("connect %s: %w", name, err)
	}
	s.session, s.tools, s.status = session, tools, StatusConnected
	c.log.Info().Str("server", name).Int("tools", len(tools)).Msg("mcp server connected")
	return nil
}

func (c *Client) connect(ctx context.Context, name string, cfg Config) (*sdkmcp.ClientSession, []Tool, error) {
	candidates, err := transportsFor(cfg)
	if err != nil {
		return nil, nil, err
	}

	var errs []error
	for _, candidate := range candidates {
		// The session outlives ctx; only setup is bounded by it.
		session, err := c.sdkClient.Connect(context.WithoutCancel(ctx), candidate.transport, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s transport: %w", candidate.name, err))
			continue
		}

		listCtx, cancel := context.WithTimeout(ctx, cfg.timeout())
		tools, err := listTools(listCtx, name, session)
		cancel()
		if err != nil {
			_ = session.Close()
			errs = append(errs, fmt.Errorf("%s transport: list tools: %w", candidate.name, err))
			continue
		}
		return session, tools, nil
	}
	return nil, nil, errors.Join(errs...)
}

func listTools(ctx context.Context, serverName string, session *sdkmcp.ClientSession) ([]Tool, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil || string(schema) == "null" {
			schema = json.RawMessage(`{"type": "object", "properties": {}}`)
		}
		tools = append(tools, Tool{
			Server:      serverName,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// Tools returns the tools of every connected server, sorted by qualified name.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var all []Tool
	for _, s := range c.servers {
		if s.status == StatusConnected {
			all = append(all, s.tools...)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].QualifiedName() < all[j].QualifiedName() })
	return all
}

// CallTool invokes toolName on serverName with JSON object arguments.
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, args json.RawMessage) (*CallResult, error) {
	c.mu.RLock()
	s, ok := c.servers[serverName]
	var session *sdkmcp.ClientSession
	if ok {
		session = s.session
	}
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverName)
	}
	if session == nil {
		return nil, fmt.Errorf("server not connected: %s", serverName)
	}

	var argsMap map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: toolName, Arguments: argsMap})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			text.WriteString(tc.Text)
		}
	}
	return &CallResult{Text: text.String(), IsError: result.IsError}, nil
}

// Status returns the status of all servers, sorted by name.
func (c *Client) Status() []ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ServerStatus, 0, len(c.servers))
	for name, s := range c.servers {
		out = append(out, ServerStatus{Name: name, Status: s.status, ToolCount: len(s.tools), Error: s.err})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveServer disconnects and forgets a server.
func (c *Client) RemoveServer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.servers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	if s.session != nil {
		_ = s.session.Close()
	}
	delete(c.servers, name)
	return nil
}

// Close disconnects all servers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.servers {
		if s.session != nil {
			_ = s.session.Close()
		}
	}
	c.servers = make(map[string]*server)
	return nil
}
