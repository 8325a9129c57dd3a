// Package headless runs tool batches without an interactive UI. It renders
// executor progress as text or JSON and answers permission requests from a
// terminal.
package headless

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minmaxflow/mini-kode/internal/executor"
)

// OutputFormat defines the output format for headless mode.
type OutputFormat string

const (
	// OutputText is human-readable streaming text output.
	OutputText OutputFormat = "text"
	// OutputJSON is final JSON result summary.
	OutputJSON OutputFormat = "json"
	// OutputJSONL is streaming JSONL events.
	OutputJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates an output format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputText, OutputJSON, OutputJSONL:
		return f, nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or jsonl)", s)
}

// ExitCode defines exit codes for headless mode.
type ExitCode int

const (
	// ExitSuccess indicates every call succeeded.
	ExitSuccess ExitCode = 0
	// ExitError indicates a failed or aborted call, or a general error.
	ExitError ExitCode = 1
	// ExitTimeout indicates the batch deadline was exceeded.
	ExitTimeout ExitCode = 2
	// ExitPermissionDenied indicates tool execution was blocked.
	ExitPermissionDenied ExitCode = 3
	// ExitInvalidInput indicates a malformed batch or bad flags.
	ExitInvalidInput ExitCode = 5
)

// Result holds the final result of a headless batch.
type Result struct {
	SessionID  string              `json:"session_id"`
	Status     string              `json:"status"` // "success", "error", "denied", "aborted", "timeout"
	DurationMS int64               `json:"duration_ms"`
	Counts     map[string]int      `json:"counts,omitempty"`
	Calls      []executor.ToolCall `json:"calls,omitempty"`
	Error      string              `json:"error,omitempty"`
	ExitCode   ExitCode            `json:"exit_code"`
}

// Event represents a JSONL event for streaming output.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// Outcome classifies a finished batch. batchErr is the error returned by
// ExecuteBatch; ctxErr is the error of the context the batch ran under.
func Outcome(calls []executor.ToolCall, batchErr, ctxErr error) (string, ExitCode) {
	var unknown *executor.UnknownToolError
	switch {
	case errors.As(batchErr, &unknown), errors.Is(batchErr, executor.ErrDuplicateRequestID):
		return "error", ExitInvalidInput
	case batchErr != nil:
		return "error", ExitError
	}

	var denied, failed, aborted bool
	for _, c := range calls {
		switch c.Status {
		case executor.StatusPermissionDenied:
			denied = true
		case executor.StatusError:
			failed = true
		case executor.StatusAbort:
			aborted = true
		}
	}
	switch {
	case aborted && errors.Is(ctxErr, context.DeadlineExceeded):
		return "timeout", ExitTimeout
	case denied:
		return "denied", ExitPermissionDenied
	case failed:
		return "error", ExitError
	case aborted:
		return "aborted", ExitError
	}
	return "success", ExitSuccess
}

func countStatuses(calls []executor.ToolCall) map[string]int {
	counts := make(map[string]int)
	for _, c := range calls {
		counts[string(c.Status)]++
	}
	return counts
}
