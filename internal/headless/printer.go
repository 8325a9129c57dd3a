package headless

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/executor"
	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

// Printer handles event output in various formats for headless mode.
type Printer struct {
	mu          sync.Mutex
	writer      io.Writer
	format      OutputFormat
	verbose     bool
	unsubscribe func()
	sessionID   string
	startTime   time.Time
	now         func() time.Time
}

// NewPrinter creates a new event printer.
func NewPrinter(writer io.Writer, format OutputFormat, verbose bool) *Printer {
	return &Printer{
		writer:    writer,
		format:    format,
		verbose:   verbose,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Subscribe starts listening to events on bus.
func (p *Printer) Subscribe(bus *event.Bus) {
	p.unsubscribe = bus.SubscribeAll(p.handleEvent)
}

// Unsubscribe stops listening to events.
func (p *Printer) Unsubscribe() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// SetSessionID sets the session ID reported in the result.
func (p *Printer) SetSessionID(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = sessionID
}

// Finish builds the final result. In json format it is also printed.
func (p *Printer) Finish(calls []executor.ToolCall, batchErr, ctxErr error) *Result {
	status, code := Outcome(calls, batchErr, ctxErr)

	p.mu.Lock()
	defer p.mu.Unlock()

	result := &Result{
		SessionID:  p.sessionID,
		Status:     status,
		DurationMS: p.now().Sub(p.startTime).Milliseconds(),
		Counts:     countStatuses(calls),
		Calls:      calls,
		ExitCode:   code,
	}
	if batchErr != nil {
		result.Error = batchErr.Error()
	}

	switch p.format {
	case OutputJSON:
		data, err := json.MarshalIndent(result, "", "  ")
		if err == nil {
			fmt.Fprintln(p.writer, string(data))
		}
	case OutputJSONL:
		p.writeJSONL("result", result)
	case OutputText:
		if batchErr != nil {
			fmt.Fprintf(p.writer, "[error] %s\n", batchErr)
		}
	}
	return result
}

// handleEvent processes incoming events and outputs them according to format.
// Permission events may arrive from other goroutines.
func (p *Printer) handleEvent(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.format {
	case OutputText:
		p.handleTextEvent(e)
	case OutputJSONL:
		p.writeJSONL(string(e.Type), e.Data)
	}
}

// handleTextEvent outputs events in human-readable text format.
func (p *Printer) handleTextEvent(e event.Event) {
	switch data := e.Data.(type) {
	case event.BatchData:
		switch e.Type {
		case event.BatchStarted:
			if p.verbose {
				fmt.Fprintf(p.writer, "[batch] %d call(s), %s\n", data.Calls, data.Strategy)
			}
		case event.BatchFinished:
			if data.Error == "" {
				fmt.Fprintf(p.writer, "[done] %d call(s) in %s\n", data.Calls, formatDuration(p.now().Sub(p.startTime)))
			}
		}

	case executor.ToolCall:
		p.handleToolCallText(e.Type, data)

	case event.GrantsChangedData:
		if p.verbose {
			fmt.Fprintf(p.writer, "[grants] %d project grant(s) in %s\n", len(data.Grants), data.File)
		}

	case event.PermissionResolvedData:
		if !p.verbose {
			return
		}
		if data.Approved {
			fmt.Fprintf(p.writer, "[permission] %s approved (%s)\n", data.RequestID, data.Option)
		} else {
			fmt.Fprintf(p.writer, "[permission] %s denied (%s)\n", data.RequestID, data.Reason)
		}
	}
}

// handleToolCallText outputs tool progress in text format.
func (p *Printer) handleToolCallText(t event.EventType, call executor.ToolCall) {
	switch t {
	case event.ToolStarted:
		if info := formatToolInfo(call); info != "" {
			fmt.Fprintf(p.writer, "[tool:%s] %s\n", call.ToolName, info)
		} else if p.verbose {
			fmt.Fprintf(p.writer, "[tool:%s] Starting...\n", call.ToolName)
		}

	case event.ToolUpdated:
		if call.Status == executor.StatusPermissionRequired && call.UIHint != nil {
			fmt.Fprintf(p.writer, "[permission] %s needs approval: %s\n", call.RequestID, describeHint(*call.UIHint))
		}

	case event.ToolCompleted:
		res := call.Result
		switch call.Status {
		case executor.StatusSuccess:
			if p.verbose && res != nil {
				fmt.Fprintf(p.writer, "[tool:%s] Done: %s\n", call.ToolName, res.Title)
				if res.Output != "" {
					fmt.Fprintln(p.writer, indent(truncateOutput(res.Output, 500)))
				}
			}
		case executor.StatusError:
			fmt.Fprintf(p.writer, "[tool:%s] Error: %s\n", call.ToolName, resultMessage(res))
		case executor.StatusAbort:
			fmt.Fprintf(p.writer, "[tool:%s] Aborted\n", call.ToolName)
		case executor.StatusPermissionDenied:
			fmt.Fprintf(p.writer, "[tool:%s] Denied: %s\n", call.ToolName, resultMessage(res))
		}
	}
}

func (p *Printer) writeJSONL(eventType string, payload any) {
	data, err := json.Marshal(&Event{
		Type:      eventType,
		Timestamp: p.now(),
		Data:      payload,
	})
	if err != nil {
		return
	}
	fmt.Fprintln(p.writer, string(data))
}

// Helper functions

func resultMessage(res *tool.Result) string {
	switch {
	case res == nil:
		return "unknown error"
	case res.Message != "":
		return res.Message
	case res.Output != "":
		return strings.SplitN(res.Output, "\n", 2)[0]
	}
	return res.Title
}

func describeHint(h permission.UIHint) string {
	if h.Message != "" {
		return h.Message
	}
	return string(h.Kind) + " " + h.Target()
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return tool.Truncate(s, max) + "..."
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n  ")
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatToolInfo(call executor.ToolCall) string {
	var input map[string]any
	if err := json.Unmarshal(call.Input, &input); err != nil {
		return ""
	}

	switch call.ToolName {
	case "read":
		if path, ok := input["filePath"].(string); ok {
			return fmt.Sprintf("Reading %s", path)
		}
	case "write":
		if path, ok := input["filePath"].(string); ok {
			return fmt.Sprintf("Writing %s", path)
		}
	case "edit":
		if path, ok := input["filePath"].(string); ok {
			return fmt.Sprintf("Editing %s", path)
		}
	case "bash":
		if cmd, ok := input["command"].(string); ok {
			cmd = strings.Split(cmd, "\n")[0]
			if len(cmd) > 60 {
				cmd = tool.Truncate(cmd, 60) + "..."
			}
			return fmt.Sprintf("$ %s", cmd)
		}
	case "glob":
		if pattern, ok := input["pattern"].(string); ok {
			return fmt.Sprintf("Searching: %s", pattern)
		}
	default:
		if len(input) > 0 {
			keys := make([]string, 0, len(input))
			for k := range input {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return fmt.Sprintf("Calling with %s", strings.Join(keys, ", "))
		}
	}
	return ""
}
