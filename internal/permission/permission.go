package permission

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ProjectDirName is the project's private directory. Paths inside it
	// are always writable.
	ProjectDirName = ".mini-kode"
	// GrantsFileName is the project grant file inside ProjectDirName.
	GrantsFileName = "permissions.json"
	// DefaultApprovalTimeout is how long an approval request waits for a decision.
	DefaultApprovalTimeout = 5 * time.Minute
)

// GrantsFile returns the project grant file for a working directory.
func GrantsFile(cwd string) string {
	return filepath.Join(cwd, ProjectDirName, GrantsFileName)
}

// ApprovalMode controls how much interactive confirmation mutating actions need.
type ApprovalMode string

const (
	ModeDefault  ApprovalMode = "default"
	ModeAutoEdit ApprovalMode = "autoEdit"
	ModeYolo     ApprovalMode = "yolo"
)

// ParseApprovalMode parses a mode name. The empty string selects ModeDefault.
func ParseApprovalMode(s string) (ApprovalMode, error) {
	switch ApprovalMode(s) {
	case "", ModeDefault:
		return ModeDefault, nil
	case ModeAutoEdit, ModeYolo:
		return ApprovalMode(s), nil
	}
	return "", fmt.Errorf("unknown approval mode %q (want default, autoEdit or yolo)", s)
}

// Kind discriminates grants and UI hints.
type Kind string

const (
	KindFs   Kind = "fs"
	KindBash Kind = "bash"
	KindMCP  Kind = "mcp"
)

// Grant authorizes a class of file, command or MCP tool access.
// Path and Command of "*" are global.
type Grant struct {
	Type       Kind
	Path       string
	Command    string
	ServerName string
	ToolName   string
	GrantedAt  time.Time
}

// FsGrant authorizes writes to path and everything below it.
func FsGrant(path string, at time.Time) Grant {
	return Grant{Type: KindFs, Path: path, GrantedAt: at}
}

// BashGrant authorizes commands matching pattern.
func BashGrant(pattern string, at time.Time) Grant {
	return Grant{Type: KindBash, Command: pattern, GrantedAt: at}
}

// MCPGrant authorizes one tool, or every tool of the server when toolName is empty.
func MCPGrant(serverName, toolName string, at time.Time) Grant {
	return Grant{Type: KindMCP, ServerName: serverName, ToolName: toolName, GrantedAt: at}
}

// Covers reports whether g authorizes everything other does.
func (g Grant) Covers(other Grant) bool {
	if g.Type != other.Type {
		return false
	}
	switch g.Type {
	case KindFs:
		return g.Path == "*" || pathWithin(other.Path, filepath.Clean(g.Path))
	case KindBash:
		return MatchBashPattern(g.Command, other.Command)
	case KindMCP:
		return g.ServerName == other.ServerName && (g.ToolName == "" || g.ToolName == other.ToolName)
	}
	return false
}

func (g Grant) String() string {
	switch g.Type {
	case KindFs:
		return "fs " + g.Path
	case KindBash:
		return "bash " + g.Command
	case KindMCP:
		if g.ToolName == "" {
			return "mcp " + g.ServerName + " (all tools)"
		}
		return "mcp " + g.ServerName + "/" + g.ToolName
	}
	return string(g.Type)
}

// UIHint describes what a tool is asking permission for.
type UIHint struct {
	Kind        Kind   `json:"kind"`
	Path        string `json:"path,omitempty"`
	Command     string `json:"command,omitempty"`
	ServerName  string `json:"serverName,omitempty"`
	ToolName    string `json:"toolName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Target is a one-line description of the requested access.
func (h UIHint) Target() string {
	switch h.Kind {
	case KindFs:
		return h.Path
	case KindBash:
		return h.Command
	case KindMCP:
		if h.DisplayName != "" {
			return h.DisplayName
		}
		return h.ServerName + "/" + h.ToolName
	}
	return ""
}

// PermissionRequiredError is returned by a tool that needs user approval
// before it can proceed.
type PermissionRequiredError struct {
	Hint UIHint
}

func (e *PermissionRequiredError) Error() string {
	if e.Hint.Message != "" {
		return e.Hint.Message
	}
	return fmt.Sprintf("permission required for %s %s", e.Hint.Kind, e.Hint.Target())
}

// AsPermissionRequired unwraps a PermissionRequiredError from err.
func AsPermissionRequired(err error) (*PermissionRequiredError, bool) {
	var pr *PermissionRequiredError
	if errors.As(err, &pr) {
		return pr, true
	}
	return nil, false
}

// Verdict is the outcome of a policy check. Message explains a denial.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(format string, args ...any) Verdict {
	return Verdict{Message: fmt.Sprintf(format, args...)}
}

// pathWithin reports whether path equals dir or lies below it.
func pathWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	if strings.HasSuffix(dir, string(filepath.Separator)) {
		return strings.HasPrefix(path, dir)
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
