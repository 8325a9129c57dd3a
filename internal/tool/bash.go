package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/minmaxflow/mini-kode/internal/permission"
)

const (
	DefaultBashTimeout = 120 * time.Second
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
	SigkillTimeout     = 200 * time.Millisecond
)

const bashDescription = `Executes a shell command in the working directory.

Usage:
- Command is required
- Optional timeout in milliseconds (max 600000)
- Network clients and interactive browsers are not allowed
- Output is captured from stdout and stderr`

// BashTool implements shell command execution.
type BashTool struct {
	shell string
}

// BashInput represents the input for the bash tool.
type BashInput struct {
	Command     string `json:"command"`
	Timeout     int    `json:"timeout,omitempty"` // milliseconds
	Description string `json:"description,omitempty"`
}

// NewBashTool creates a new bash tool using the user's shell.
func NewBashTool() *BashTool {
	return &BashTool{shell: detectShell()}
}

func detectShell() string {
	if s := os.Getenv("SHELL"); s != "" {
		switch s {
		case "/bin/fish", "/usr/bin/fish", "/bin/nu", "/usr/bin/nu":
		default:
			return s
		}
	}
	if runtime.GOOS == "darwin" {
		return "/bin/zsh"
	}
	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

func (t *BashTool) Name() string        { return "bash" }
func (t *BashTool) Description() string { return bashDescription }
func (t *BashTool) Readonly() bool      { return false }

func (t *BashTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "The command to execute"
			},
			"timeout": {
				"type": "integer",
				"description": "Optional timeout in milliseconds (max 600000)"
			},
			"description": {
				"type": "string",
				"description": "Brief description of what this command does"
			}
		},
		"required": ["command"]
	}`)
}

func (t *BashTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params BashInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if v := permission.ValidateCommand(params.Command); !v.Allowed {
		return ErrorResult("%s", v.Message), nil
	}
	if err := toolCtx.RequireBash(params.Command); err != nil {
		return nil, err
	}

	timeout := DefaultBashTimeout
	if params.Timeout > 0 {
		timeout = min(time.Duration(params.Timeout)*time.Millisecond, MaxBashTimeout)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.shell, "-c", params.Command)
	cmd.Dir = toolCtx.Cwd
	cmd.Env = os.Environ()
	// Run in its own process group so cancellation reaches children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd)
	}
	cmd.WaitDelay = SigkillTimeout

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	title := params.Description
	if title == "" {
		title = permission.ExtractMainCommand(params.Command)
	}
	toolCtx.SetMetadata(title, map[string]any{"command": params.Command})

	runErr := cmd.Run()

	output := out.String()
	if len(output) > MaxOutputLength {
		output = Truncate(output, MaxOutputLength) + "\n\n(Output truncated)"
	}

	if ctx.Err() != nil {
		res := AbortedResult("Command cancelled")
		res.Output = output
		return res, nil
	}
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		res := ErrorResult("Command timed out after %v", timeout)
		res.Output = output
		return res, nil
	}

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return ErrorResult("Failed to run command: %v", runErr), nil
	}

	meta := map[string]any{
		"command": params.Command,
		"exit":    exitCode,
	}
	if exitCode != 0 {
		return &Result{
			Title:    title,
			Output:   output,
			Metadata: meta,
			IsError:  true,
			Message:  fmt.Sprintf("Command exited with code %d", exitCode),
		}, nil
	}
	return &Result{Title: title, Output: output, Metadata: meta}, nil
}

// killGroup terminates the whole process group, escalating to SIGKILL if the
// leader is still alive after SigkillTimeout.
func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return cmd.Process.Kill()
	}
	go func() {
		time.Sleep(SigkillTimeout)
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}()
	return nil
}
