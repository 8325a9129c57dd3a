// Package tool defines the contract every executable tool implements and
// the built-in file and shell tools.
package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"github.com/minmaxflow/mini-kode/internal/permission"
)

// Tool defines the interface for all tools.
type Tool interface {
	// Name returns the tool identifier used in requests.
	Name() string

	// Description returns the tool description.
	Description() string

	// Readonly reports whether the tool never mutates external state.
	// Readonly tools may run concurrently and never ask for permission.
	Readonly() bool

	// Parameters returns the JSON Schema for tool parameters.
	Parameters() json.RawMessage

	// Execute runs the tool. A tool that needs approval returns a
	// *permission.PermissionRequiredError.
	Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// Context provides execution context to tools.
type Context struct {
	Cwd          string
	SessionID    string
	RequestID    string
	ApprovalMode permission.ApprovalMode
	Permissions  *permission.Resolver

	// OnMetadata receives progress updates while the tool runs.
	OnMetadata func(title string, meta map[string]any)
}

var errNoResolver = errors.New("no permission resolver configured")

// SetMetadata updates tool execution metadata.
func (c *Context) SetMetadata(title string, meta map[string]any) {
	if c.OnMetadata != nil {
		c.OnMetadata(title, meta)
	}
}

// Abs resolves path against the working directory.
func (c *Context) Abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Cwd, path)
}

// RequireFs returns a PermissionRequiredError unless path may be written.
func (c *Context) RequireFs(path string) error {
	if c.Permissions == nil {
		return errNoResolver
	}
	abs := c.Abs(path)
	if v := c.Permissions.CheckFs(c.Cwd, abs, c.ApprovalMode); !v.Allowed {
		return &permission.PermissionRequiredError{Hint: permission.UIHint{
			Kind:    permission.KindFs,
			Path:    abs,
			Message: v.Message,
		}}
	}
	return nil
}

// RequireBash returns a PermissionRequiredError unless command may run.
func (c *Context) RequireBash(command string) error {
	if c.Permissions == nil {
		return errNoResolver
	}
	if v := c.Permissions.CheckBash(c.Cwd, command, c.ApprovalMode); !v.Allowed {
		return &permission.PermissionRequiredError{Hint: permission.UIHint{
			Kind:    permission.KindBash,
			Command: command,
			Message: v.Message,
		}}
	}
	return nil
}

// RequireMCP returns a PermissionRequiredError unless the MCP tool may be called.
func (c *Context) RequireMCP(serverName, toolName, displayName string) error {
	if c.Permissions == nil {
		return errNoResolver
	}
	if v := c.Permissions.CheckMCP(c.Cwd, serverName, toolName, c.ApprovalMode); !v.Allowed {
		return &permission.PermissionRequiredError{Hint: permission.UIHint{
			Kind:        permission.KindMCP,
			ServerName:  serverName,
			ToolName:    toolName,
			DisplayName: displayName,
			Message:     v.Message,
		}}
	}
	return nil
}

// Result represents the output of a tool execution. IsError marks a failure
// the tool reported itself; IsAborted additionally marks it as a cancellation.
type Result struct {
	Title     string         `json:"title,omitempty"`
	Output    string         `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsError   bool           `json:"isError,omitempty"`
	IsAborted bool           `json:"isAborted,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// ErrorResult reports a tool-level failure.
func ErrorResult(format string, args ...any) *Result {
	return &Result{IsError: true, Message: fmt.Sprintf(format, args...)}
}

// AbortedResult reports that the tool stopped because it was cancelled.
func AbortedResult(message string) *Result {
	return &Result{IsError: true, IsAborted: true, Message: message}
}

// Truncate returns the longest prefix of s that is at most n bytes and does
// not split a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// BaseTool adapts a function to the Tool interface.
type BaseTool struct {
	name        string
	description string
	readonly    bool
	parameters  json.RawMessage
	execute     func(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error)
}

// NewBaseTool creates a new base tool.
func NewBaseTool(name, description string, readonly bool, params json.RawMessage, execute func(context.Context, json.RawMessage, *Context) (*Result, error)) *BaseTool {
	if params == nil {
		params = json.RawMessage(`{"type": "object", "properties": {}}`)
	}
	return &BaseTool{
		name:        name,
		description: description,
		readonly:    readonly,
		parameters:  params,
		execute:     execute,
	}
}

func (t *BaseTool) Name() string                { return t.name }
func (t *BaseTool) Description() string         { return t.description }
func (t *BaseTool) Readonly() bool              { return t.readonly }
func (t *BaseTool) Parameters() json.RawMessage { return t.parameters }

func (t *BaseTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	return t.execute(ctx, input, toolCtx)
}
