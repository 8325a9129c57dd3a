package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

func TestRunner_UnknownTool(t *testing.T) {
	h := newHarness(t, touchTool())

	_, err := h.exec.Runner().Execute(context.Background(), ToolCall{RequestID: "1", ToolName: "toush"}, h.ec())
	var unknown *UnknownToolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "toush", unknown.Name)
	assert.Equal(t, "touch", unknown.Suggestion)
	assert.Contains(t, err.Error(), `did you mean "touch"`)
}

func TestRunner_Statuses(t *testing.T) {
	tests := []struct {
		name    string
		res     *tool.Result
		err     error
		want    Status
		message string
	}{
		{"success", &tool.Result{Output: "ok"}, nil, StatusSuccess, ""},
		{"nil result", nil, nil, StatusSuccess, ""},
		{"reported error", tool.ErrorResult("bad input"), nil, StatusError, "bad input"},
		{"reported abort", tool.AbortedResult("stopped"), nil, StatusAbort, "stopped"},
		{"returned error", nil, errors.New("disk on fire"), StatusError, "Tool execution failed: disk on fire"},
		{"cancellation", nil, context.Canceled, StatusAbort, "Tool execution aborted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, fixedTool("fixed", true, tt.res, tt.err))

			out, err := h.exec.Runner().Execute(context.Background(), ToolCall{RequestID: "1", ToolName: "fixed"}, h.ec())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Status)
			require.NotNil(t, out.EndedAt)
			require.NotNil(t, out.Result)
			assert.Equal(t, tt.message, out.Result.Message)
		})
	}
}

func TestRunner_PermissionRequired(t *testing.T) {
	h := newHarness(t, touchTool())

	out, err := h.exec.Runner().Execute(context.Background(), ToolCall{
		RequestID: "1",
		ToolName:  "touch",
		Input:     json.RawMessage(`{"path":"a.txt"}`),
	}, h.ec())
	require.NoError(t, err)
	assert.Equal(t, StatusPermissionRequired, out.Status)
	require.NotNil(t, out.UIHint)
	assert.Equal(t, permission.KindFs, out.UIHint.Kind)
	assert.Nil(t, out.EndedAt, "permission_required is not terminal")
	assert.False(t, out.StartedAt.IsZero())
}

func TestRunner_WrappedPermissionRequired(t *testing.T) {
	wrapped := &permission.PermissionRequiredError{Hint: permission.UIHint{Kind: permission.KindBash, Command: "make"}}
	h := newHarness(t, fixedTool("wrap", false, nil, errors.Join(errors.New("context"), wrapped)))

	out, err := h.exec.Runner().Execute(context.Background(), ToolCall{RequestID: "1", ToolName: "wrap"}, h.ec())
	require.NoError(t, err)
	assert.Equal(t, StatusPermissionRequired, out.Status)
	assert.Equal(t, "make", out.UIHint.Command)
}

func TestRunner_Panic(t *testing.T) {
	panicky := tool.NewBaseTool("panicky", "panics", true, nil, func(ctx context.Context, input json.RawMessage, tc *tool.Context) (*tool.Result, error) {
		panic("nil map")
	})
	h := newHarness(t, panicky)

	out, err := h.exec.Runner().Execute(context.Background(), ToolCall{RequestID: "1", ToolName: "panicky"}, h.ec())
	require.NoError(t, err)
	assert.Equal(t, StatusError, out.Status)
	assert.Contains(t, out.Result.Message, "nil map")
}

func TestRunner_PassesContext(t *testing.T) {
	var got *tool.Context
	spy := tool.NewBaseTool("spy", "captures context", true, nil, func(ctx context.Context, input json.RawMessage, tc *tool.Context) (*tool.Result, error) {
		got = tc
		tc.SetMetadata("progress", map[string]any{"step": 1})
		return &tool.Result{}, nil
	})
	h := newHarness(t, spy)
	ec := h.ec()
	ec.ApprovalMode = permission.ModeAutoEdit

	_, err := h.exec.Runner().Execute(context.Background(), ToolCall{RequestID: "req-7", ToolName: "spy"}, ec)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, h.cwd, got.Cwd)
	assert.Equal(t, "req-7", got.RequestID)
	assert.Equal(t, "test-session", got.SessionID)
	assert.Equal(t, permission.ModeAutoEdit, got.ApprovalMode)
	assert.NotNil(t, got.Permissions)
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusError, StatusAbort, StatusPermissionDenied} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusPending, StatusExecuting, StatusPermissionRequired} {
		assert.False(t, s.Terminal(), s)
	}
}
