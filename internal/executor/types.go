// Package executor runs batches of tool calls requested by one model turn.
// It chooses between concurrent and sequential execution, drives the
// permission handshake and reports progress through callbacks and the
// event bus.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

// Status is the state of a ToolCall.
type Status string

const (
	StatusPending            Status = "pending"
	StatusExecuting          Status = "executing"
	StatusSuccess            Status = "success"
	StatusError              Status = "error"
	StatusAbort              Status = "abort"
	StatusPermissionRequired Status = "permission_required"
	StatusPermissionDenied   Status = "permission_denied"
)

// Terminal reports whether no further transition can follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusAbort, StatusPermissionDenied:
		return true
	}
	return false
}

// Strategy is how a batch is scheduled.
type Strategy string

const (
	StrategyConcurrent Strategy = "concurrent"
	StrategySequential Strategy = "sequential"
)

// Request is one tool invocation in a batch.
type Request struct {
	RequestID string          `json:"requestId"`
	ToolName  string          `json:"toolName"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// ToolCall tracks one request through its lifecycle.
type ToolCall struct {
	RequestID       string                  `json:"requestId"`
	ToolName        string                  `json:"toolName"`
	Input           json.RawMessage         `json:"input,omitempty"`
	Status          Status                  `json:"status"`
	StartedAt       time.Time               `json:"startedAt"`
	EndedAt         *time.Time              `json:"endedAt,omitempty"`
	Result          *tool.Result            `json:"result,omitempty"`
	UIHint          *permission.UIHint      `json:"uiHint,omitempty"`
	RejectionReason permission.RejectReason `json:"rejectionReason,omitempty"`
}

func (c *ToolCall) finish(status Status, result *tool.Result, at time.Time) {
	c.Status = status
	c.Result = result
	c.EndedAt = &at
}

// ExecContext is the per-batch execution context handed to every tool.
type ExecContext struct {
	Cwd          string
	ApprovalMode permission.ApprovalMode
	SessionID    string
}

// PermissionFunc asks for a decision on a permission request. An error
// (typically ctx cancellation) aborts the call instead of denying it.
type PermissionFunc func(ctx context.Context, hint permission.UIHint, requestID string) (permission.Decision, error)

// Callbacks observe batch progress. All are optional and are invoked from
// the goroutine running ExecuteBatch.
type Callbacks struct {
	OnToolStart    func(ToolCall)
	OnToolUpdate   func(ToolCall)
	OnToolComplete func(ToolCall)

	// OnPermissionRequired decides permission requests. When nil every
	// request is rejected.
	OnPermissionRequired PermissionFunc
}

// ViaBroker returns a PermissionFunc that waits on broker for an external
// decision, using the broker's default timeout.
func ViaBroker(broker *permission.Broker) PermissionFunc {
	return func(ctx context.Context, hint permission.UIHint, requestID string) (permission.Decision, error) {
		return broker.Await(ctx, requestID, hint, 0)
	}
}

// ErrReadonlyPermission is returned when a readonly tool asks for
// permission. Readonly tools must never need approval.
var ErrReadonlyPermission = errors.New("readonly tool requested permission")

// ErrDuplicateRequestID is returned when two requests in a batch share an id.
var ErrDuplicateRequestID = errors.New("duplicate request id in batch")

// UnknownToolError is returned when a request names a tool that is not
// registered.
type UnknownToolError struct {
	Name       string
	Suggestion string
}

func (e *UnknownToolError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown tool %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("unknown tool %q", e.Name)
}
