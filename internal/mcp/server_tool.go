package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/minmaxflow/mini-kode/internal/tool"
)

// ServerTool exposes one remote MCP tool through the tool contract.
type ServerTool struct {
	remote Tool
	client *Client
}

// NewServerTool wraps a remote tool.
func NewServerTool(remote Tool, client *Client) *ServerTool {
	return &ServerTool{remote: remote, client: client}
}

func (w *ServerTool) Name() string { return w.remote.QualifiedName() }

func (w *ServerTool) Description() string { return w.remote.Description }

// Readonly is always false: the core cannot know what a remote tool does.
func (w *ServerTool) Readonly() bool { return false }

func (w *ServerTool) Parameters() json.RawMessage { return w.remote.InputSchema }

// Remote returns the unprefixed server and tool names.
func (w *ServerTool) Remote() (server, name string) {
	return w.remote.Server, w.remote.Name
}

func (w *ServerTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *tool.Context) (*tool.Result, error) {
	if err := toolCtx.RequireMCP(w.remote.Server, w.remote.Name, w.Name()); err != nil {
		return nil, err
	}

	res, err := w.client.CallTool(ctx, w.remote.Server, w.remote.Name, input)
	if err != nil {
		if ctx.Err() != nil {
			return tool.AbortedResult("MCP call cancelled"), nil
		}
		return nil, fmt.Errorf("mcp %s: %w", w.Name(), err)
	}

	toolCtx.SetMetadata(w.Name(), map[string]any{
		"server": w.remote.Server,
		"tool":   w.remote.Name,
	})

	result := &tool.Result{
		Title:  w.Name(),
		Output: res.Text,
		Metadata: map[string]any{
			"server": w.remote.Server,
			"tool":   w.remote.Name,
		},
	}
	if res.IsError {
		result.IsError = true
		result.Message = res.Text
	}
	return result, nil
}

// RegisterTools adds every tool of the connected servers to registry.
func RegisterTools(client *Client, registry *tool.Registry) error {
	for _, remote := range client.Tools() {
		if err := registry.Register(NewServerTool(remote, client)); err != nil {
			return err
		}
	}
	return nil
}
