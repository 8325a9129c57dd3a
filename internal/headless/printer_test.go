package headless

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/executor"
	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

var printerStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestPrinter(t *testing.T, format OutputFormat, verbose bool) (*Printer, *event.Bus, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	p := NewPrinter(&buf, format, verbose)
	p.startTime = printerStart
	p.now = func() time.Time { return printerStart.Add(1500 * time.Millisecond) }

	bus := event.NewBus()
	p.Subscribe(bus)
	t.Cleanup(func() {
		p.Unsubscribe()
		bus.Close()
	})
	return p, bus, &buf
}

func call(id, name, input string, status executor.Status, res *tool.Result) executor.ToolCall {
	return executor.ToolCall{
		RequestID: id,
		ToolName:  name,
		Input:     json.RawMessage(input),
		Status:    status,
		Result:    res,
	}
}

func TestPrinter_Text(t *testing.T) {
	_, bus, buf := newTestPrinter(t, OutputText, false)

	hint := fsHint
	pending := call("w1", "write", `{"filePath":"out/a.txt"}`, executor.StatusPermissionRequired, nil)
	pending.UIHint = &hint

	bus.PublishSync(event.Event{Type: event.BatchStarted, Data: event.BatchData{Calls: 3, Strategy: "sequential"}})
	bus.PublishSync(event.Event{Type: event.ToolStarted, Data: call("w1", "write", `{"filePath":"out/a.txt"}`, executor.StatusExecuting, nil)})
	bus.PublishSync(event.Event{Type: event.ToolUpdated, Data: pending})
	bus.PublishSync(event.Event{Type: event.ToolCompleted, Data: call("w1", "write", `{}`, executor.StatusSuccess, &tool.Result{Title: "Wrote a.txt"})})
	bus.PublishSync(event.Event{Type: event.ToolStarted, Data: call("b1", "bash", `{"command":"make test\nmake lint"}`, executor.StatusExecuting, nil)})
	bus.PublishSync(event.Event{Type: event.ToolCompleted, Data: call("b1", "bash", `{}`, executor.StatusError, tool.ErrorResult("Command exited with code 2"))})
	bus.PublishSync(event.Event{Type: event.ToolCompleted, Data: call("b2", "bash", `{}`, executor.StatusPermissionDenied, tool.ErrorResult("Skipped: b1 was denied permission (user_rejected)"))})
	bus.PublishSync(event.Event{Type: event.BatchFinished, Data: event.BatchData{Calls: 3}})

	assert.Equal(t, `[tool:write] Writing out/a.txt
[permission] w1 needs approval: Permission required to write a.txt
[tool:bash] $ make test
[tool:bash] Error: Command exited with code 2
[tool:bash] Denied: Skipped: b1 was denied permission (user_rejected)
[done] 3 call(s) in 1.5s
`, buf.String())
}

func TestPrinter_TextVerbose(t *testing.T) {
	_, bus, buf := newTestPrinter(t, OutputText, true)

	bus.PublishSync(event.Event{Type: event.BatchStarted, Data: event.BatchData{Calls: 1, Strategy: "concurrent"}})
	bus.PublishSync(event.Event{Type: event.ToolCompleted, Data: call("r1", "read", `{}`, executor.StatusSuccess, &tool.Result{Title: "main.go", Output: "00001| package main\n"})})
	bus.PublishSync(event.Event{Type: event.PermissionResolved, Data: event.PermissionResolvedData{RequestID: "w1", Approved: true, Option: "fs:directory"}})
	bus.PublishSync(event.Event{Type: event.PermissionResolved, Data: event.PermissionResolvedData{RequestID: "w2", Reason: "timeout"}})
	bus.PublishSync(event.Event{Type: event.GrantsChanged, Data: event.GrantsChangedData{File: "/p/.mini-kode/permissions.json", Grants: []string{"bash npm:*"}}})

	out := buf.String()
	assert.Contains(t, out, "[batch] 1 call(s), concurrent\n")
	assert.Contains(t, out, "[tool:read] Done: main.go\n  00001| package main\n")
	assert.Contains(t, out, "[permission] w1 approved (fs:directory)\n")
	assert.Contains(t, out, "[permission] w2 denied (timeout)\n")
	assert.Contains(t, out, "[grants] 1 project grant(s) in /p/.mini-kode/permissions.json\n")
}

func TestPrinter_JSONL(t *testing.T) {
	p, bus, buf := newTestPrinter(t, OutputJSONL, false)

	bus.PublishSync(event.Event{Type: event.ToolStarted, Data: call("r1", "read", `{"filePath":"a"}`, executor.StatusExecuting, nil)})
	bus.PublishSync(event.Event{Type: event.ToolCompleted, Data: call("r1", "read", `{"filePath":"a"}`, executor.StatusSuccess, &tool.Result{Output: "x"})})
	p.Finish([]executor.ToolCall{call("r1", "read", `{}`, executor.StatusSuccess, nil)}, nil, nil)

	var types []string
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var e struct {
			Type string          `json:"type"`
			Ts   time.Time       `json:"ts"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		assert.False(t, e.Ts.IsZero())
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{"tool.started", "tool.completed", "result"}, types)
}

func TestPrinter_JSONResult(t *testing.T) {
	p, bus, buf := newTestPrinter(t, OutputJSON, false)
	p.SetSessionID("s1")

	bus.PublishSync(event.Event{Type: event.ToolStarted, Data: call("r1", "read", `{}`, executor.StatusExecuting, nil)})
	assert.Empty(t, buf.String(), "json format prints only the result")

	calls := []executor.ToolCall{
		call("w1", "write", `{}`, executor.StatusSuccess, nil),
		call("w2", "write", `{}`, executor.StatusPermissionDenied, nil),
	}
	res := p.Finish(calls, nil, nil)
	assert.Equal(t, ExitPermissionDenied, res.ExitCode)

	var decoded Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "s1", decoded.SessionID)
	assert.Equal(t, "denied", decoded.Status)
	assert.Equal(t, int64(1500), decoded.DurationMS)
	assert.Equal(t, map[string]int{"success": 1, "permission_denied": 1}, decoded.Counts)
	assert.Len(t, decoded.Calls, 2)
}

func TestPrinter_TextBatchError(t *testing.T) {
	p, _, buf := newTestPrinter(t, OutputText, false)

	err := &executor.UnknownToolError{Name: "reed", Suggestion: "read"}
	res := p.Finish(nil, err, nil)
	assert.Equal(t, ExitInvalidInput, res.ExitCode)
	assert.Equal(t, "[error] unknown tool \"reed\" (did you mean \"read\"?)\n", buf.String())
}

func TestOutcome(t *testing.T) {
	ok := call("a", "read", `{}`, executor.StatusSuccess, nil)
	failed := call("b", "bash", `{}`, executor.StatusError, nil)
	aborted := call("c", "bash", `{}`, executor.StatusAbort, nil)
	denied := call("d", "bash", `{}`, executor.StatusPermissionDenied, nil)

	tests := []struct {
		name     string
		calls    []executor.ToolCall
		batchErr error
		ctxErr   error
		status   string
		code     ExitCode
	}{
		{"all success", []executor.ToolCall{ok, ok}, nil, nil, "success", ExitSuccess},
		{"empty batch", nil, nil, nil, "success", ExitSuccess},
		{"tool error", []executor.ToolCall{ok, failed}, nil, nil, "error", ExitError},
		{"denied beats error", []executor.ToolCall{failed, denied}, nil, nil, "denied", ExitPermissionDenied},
		{"cancelled", []executor.ToolCall{ok, aborted}, nil, context.Canceled, "aborted", ExitError},
		{"deadline", []executor.ToolCall{aborted}, nil, context.DeadlineExceeded, "timeout", ExitTimeout},
		{"duplicate id", nil, executor.ErrDuplicateRequestID, nil, "error", ExitInvalidInput},
		{"readonly permission", nil, executor.ErrReadonlyPermission, nil, "error", ExitError},
		{"other", nil, errors.New("boom"), nil, "error", ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := Outcome(tt.calls, tt.batchErr, tt.ctxErr)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestParseOutputFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": OutputText, "text": OutputText, "json": OutputJSON, "jsonl": OutputJSONL} {
		got, err := ParseOutputFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseOutputFormat("yaml")
	assert.Error(t, err)
}

func TestDescribeHint(t *testing.T) {
	assert.Equal(t, "bash npm install", describeHint(bashHint))
	assert.Equal(t, "mcp calc/sum", describeHint(permission.UIHint{Kind: permission.KindMCP, ServerName: "calc", ToolName: "sum"}))
}
