package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

// sleepTool sleeps for the duration given in its input ("ms"), honouring
// cancellation unless stubborn is set.
func sleepTool(name string, readonly, stubborn bool) tool.Tool {
	return tool.NewBaseTool(name, "sleeps", readonly, nil, func(ctx context.Context, input json.RawMessage, tc *tool.Context) (*tool.Result, error) {
		var in struct {
			Ms int `json:"ms"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		d := time.Duration(in.Ms) * time.Millisecond
		if stubborn {
			time.Sleep(d)
			return &tool.Result{Output: tc.RequestID}, nil
		}
		select {
		case <-time.After(d):
			return &tool.Result{Output: tc.RequestID}, nil
		case <-ctx.Done():
			return tool.AbortedResult("sleep cancelled"), nil
		}
	})
}

// touchTool asks for write permission on its "path" input and reports
// success once granted. It never touches the disk.
func touchTool() tool.Tool {
	return tool.NewBaseTool("touch", "records a path", false, nil, func(ctx context.Context, input json.RawMessage, tc *tool.Context) (*tool.Result, error) {
		var in struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		if err := tc.RequireFs(in.Path); err != nil {
			return nil, err
		}
		return &tool.Result{Output: "touched " + in.Path}, nil
	})
}

// fixedTool returns res and err on every call.
func fixedTool(name string, readonly bool, res *tool.Result, err error) tool.Tool {
	return tool.NewBaseTool(name, "fixed", readonly, nil, func(ctx context.Context, input json.RawMessage, tc *tool.Context) (*tool.Result, error) {
		return res, err
	})
}

type harness struct {
	exec  *Executor
	store *permission.Store
	cwd   string
}

func newHarness(t *testing.T, tools ...tool.Tool) *harness {
	t.Helper()
	reg := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	store := permission.NewStore()
	return &harness{
		exec:  New(reg, permission.NewResolver(store)),
		store: store,
		cwd:   t.TempDir(),
	}
}

func (h *harness) ec() ExecContext {
	return ExecContext{Cwd: h.cwd, ApprovalMode: permission.ModeDefault, SessionID: "test-session"}
}

func req(id, toolName, input string) Request {
	return Request{RequestID: id, ToolName: toolName, Input: json.RawMessage(input)}
}

// recorder captures callback invocations in order.
type recorder struct {
	mu        sync.Mutex
	events    []string
	completed []ToolCall
	onDone    func(ToolCall)
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) callbacks(decide PermissionFunc) Callbacks {
	return Callbacks{
		OnToolStart: func(c ToolCall) { r.add("start:" + c.RequestID) },
		OnToolUpdate: func(c ToolCall) {
			r.add(fmt.Sprintf("update:%s:%s", c.RequestID, c.Status))
		},
		OnToolComplete: func(c ToolCall) {
			r.add(fmt.Sprintf("complete:%s:%s", c.RequestID, c.Status))
			r.mu.Lock()
			r.completed = append(r.completed, c)
			r.mu.Unlock()
			if r.onDone != nil {
				r.onDone(c)
			}
		},
		OnPermissionRequired: decide,
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func approveWith(opt permission.Option) PermissionFunc {
	return func(ctx context.Context, hint permission.UIHint, requestID string) (permission.Decision, error) {
		return permission.Approve(opt), nil
	}
}

func deny(reason permission.RejectReason) PermissionFunc {
	return func(ctx context.Context, hint permission.UIHint, requestID string) (permission.Decision, error) {
		return permission.Deny(reason), nil
	}
}

func statuses(calls []ToolCall) []Status {
	out := make([]Status, len(calls))
	for i, c := range calls {
		out[i] = c.Status
	}
	return out
}

func ids(calls []ToolCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.RequestID
	}
	return out
}
