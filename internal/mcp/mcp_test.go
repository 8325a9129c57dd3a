package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

// newCalculatorServer builds an in-process MCP server with a sum tool and a
// tool that always fails.
func newCalculatorServer() *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("calculator", "1.0.0", mcpserver.WithToolCapabilities(true))

	s.AddTool(mcpgo.NewTool("sum",
		mcpgo.WithDescription("Calculates the sum of an array of numbers"),
		mcpgo.WithArray("numbers",
			mcpgo.Required(),
			mcpgo.Items(map[string]any{"type": "number"}),
		),
	), func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		raw, ok := req.GetArguments()["numbers"].([]any)
		if !ok {
			return mcpgo.NewToolResultError("numbers argument is required"), nil
		}
		var sum float64
		for i, v := range raw {
			n, ok := v.(float64)
			if !ok {
				return mcpgo.NewToolResultError(fmt.Sprintf("element %d is not a number", i)), nil
			}
			sum += n
		}
		return mcpgo.NewToolResultText(strconv.FormatFloat(sum, 'f', -1, 64)), nil
	})

	s.AddTool(mcpgo.NewTool("explode", mcpgo.WithDescription("Always fails")),
		func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			return mcpgo.NewToolResultError("boom"), nil
		})
	return s
}

func connectCalculator(t *testing.T) *Client {
	t.Helper()
	ts := mcpserver.NewTestServer(newCalculatorServer())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := NewClient()
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.AddServer(ctx, "calc", Config{
		Enabled: true,
		Type:    TransportTypeRemote,
		URL:     ts.URL + "/sse",
		Timeout: 5000,
	}))
	return client
}

func toolContext(t *testing.T, mode permission.ApprovalMode) *tool.Context {
	t.Helper()
	return &tool.Context{
		Cwd:          t.TempDir(),
		ApprovalMode: mode,
		Permissions:  permission.NewResolver(permission.NewStore()),
	}
}

func TestClient_SSE(t *testing.T) {
	client := connectCalculator(t)

	status := client.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StatusConnected, status[0].Status)
	assert.Equal(t, 2, status[0].ToolCount)

	tools := client.Tools()
	require.Len(t, tools, 2)
	assert.Equal(t, "calc_explode", tools[0].QualifiedName())
	assert.Equal(t, "calc_sum", tools[1].QualifiedName())
	assert.Equal(t, "calc", tools[1].Server)
	assert.Equal(t, "sum", tools[1].Name)
	assert.Contains(t, string(tools[1].InputSchema), "numbers")

	tests := []struct {
		numbers []float64
		want    string
	}{
		{[]float64{1, 2, 3, 4, 5}, "15"},
		{[]float64{-1, -2, -3}, "-6"},
		{[]float64{1.5, 2.5}, "4"},
		{[]float64{}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			args, err := json.Marshal(map[string]any{"numbers": tt.numbers})
			require.NoError(t, err)

			res, err := client.CallTool(context.Background(), "calc", "sum", args)
			require.NoError(t, err)
			assert.False(t, res.IsError)
			assert.Equal(t, tt.want, res.Text)
		})
	}
}

func TestClient_Errors(t *testing.T) {
	client := NewClient()
	defer client.Close()

	_, err := client.CallTool(context.Background(), "nope", "sum", nil)
	assert.ErrorIs(t, err, ErrServerNotFound)
	assert.ErrorIs(t, client.RemoveServer("nope"), ErrServerNotFound)

	require.NoError(t, client.AddServer(context.Background(), "off", Config{Enabled: false}))
	assert.Equal(t, StatusDisabled, client.Status()[0].Status)
	assert.Error(t, client.AddServer(context.Background(), "off", Config{}))

	err = client.AddServer(context.Background(), "bad", Config{Enabled: true, Type: "carrier-pigeon"})
	assert.Error(t, err)
	for _, s := range client.Status() {
		if s.Name == "bad" {
			assert.Equal(t, StatusFailed, s.Status)
			assert.NotEmpty(t, s.Error)
		}
	}
}

func TestTransportsFor(t *testing.T) {
	remote, err := transportsFor(Config{Type: TransportTypeRemote, URL: "http://localhost/mcp"})
	require.NoError(t, err)
	require.Len(t, remote, 2)
	assert.Equal(t, "streamable", remote[0].name)
	assert.Equal(t, "sse", remote[1].name)

	local, err := transportsFor(Config{Type: TransportTypeStdio, Command: []string{"server", "--stdio"}})
	require.NoError(t, err)
	assert.Equal(t, "stdio", local[0].name)

	_, err = transportsFor(Config{Type: TransportTypeLocal})
	assert.ErrorIs(t, err, errEmptyCommand)
	_, err = transportsFor(Config{Type: TransportTypeRemote})
	assert.Error(t, err)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my_server_search_docs", Tool{Server: "my-server", Name: "search.docs"}.QualifiedName())
}

func TestServerTool_RequiresPermission(t *testing.T) {
	client := connectCalculator(t)
	reg := tool.NewRegistry()
	require.NoError(t, RegisterTools(client, reg))

	sum, ok := reg.Get("calc_sum")
	require.True(t, ok)
	assert.False(t, sum.Readonly())

	toolCtx := toolContext(t, permission.ModeDefault)
	_, err := sum.Execute(context.Background(), json.RawMessage(`{"numbers":[1,2]}`), toolCtx)
	perr, ok := permission.AsPermissionRequired(err)
	require.True(t, ok)
	assert.Equal(t, permission.KindMCP, perr.Hint.Kind)
	assert.Equal(t, "calc", perr.Hint.ServerName)
	assert.Equal(t, "sum", perr.Hint.ToolName)
	assert.Equal(t, "calc_sum", perr.Hint.DisplayName)

	toolCtx.Permissions.Grants().AddSessionGrant(permission.MCPGrant("calc", "sum", time.Now()))
	res, err := sum.Execute(context.Background(), json.RawMessage(`{"numbers":[1,2]}`), toolCtx)
	require.NoError(t, err)
	assert.Equal(t, "3", res.Output)

	// A tool-level grant does not cover other tools on the server.
	explode, _ := reg.Get("calc_explode")
	_, err = explode.Execute(context.Background(), json.RawMessage(`{}`), toolCtx)
	_, ok = permission.AsPermissionRequired(err)
	assert.True(t, ok)
}

func TestServerTool_ErrorResult(t *testing.T) {
	client := connectCalculator(t)
	reg := tool.NewRegistry()
	require.NoError(t, RegisterTools(client, reg))

	explode, ok := reg.Get("calc_explode")
	require.True(t, ok)

	res, err := explode.Execute(context.Background(), json.RawMessage(`{}`), toolContext(t, permission.ModeYolo))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "boom", res.Message)
}
