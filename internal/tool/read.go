package tool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- filePath may be absolute or relative to the working directory
- By default, reads up to 2000 lines from the beginning
- offset and limit select a window of lines
- Returns file contents with line numbers`

// ReadTool implements file reading.
type ReadTool struct{}

// ReadInput represents the input for the read tool.
type ReadInput struct {
	FilePath string `json:"filePath"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NewReadTool creates a new read tool.
func NewReadTool() *ReadTool {
	return &ReadTool{}
}

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return readDescription }
func (t *ReadTool) Readonly() bool      { return true }

func (t *ReadTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to read"
			},
			"offset": {
				"type": "integer",
				"description": "Line number to start reading from (1-based)"
			},
			"limit": {
				"type": "integer",
				"description": "Number of lines to read (default: 2000)"
			}
		},
		"required": ["filePath"]
	}`)
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params ReadInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return ErrorResult("filePath is required"), nil
	}
	if params.Limit <= 0 {
		params.Limit = defaultReadLimit
	}
	if err := ctx.Err(); err != nil {
		return AbortedResult("Read cancelled"), nil
	}

	path := toolCtx.Abs(params.FilePath)
	info, err := os.Stat(path)
	if err != nil {
		return ErrorResult("File not found: %s", params.FilePath), nil
	}
	if info.IsDir() {
		return ErrorResult("Path is a directory, not a file: %s", params.FilePath), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data[:min(len(data), 8000)], 0) >= 0 {
		return ErrorResult("File appears to be binary: %s", params.FilePath), nil
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if params.Offset > 0 && lineNum < params.Offset {
			continue
		}
		if len(lines) >= params.Limit {
			continue
		}
		line := scanner.Text()
		if len(line) > maxLineLength {
			line = Truncate(line, maxLineLength) + "..."
		}
		lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
	}

	var sb strings.Builder
	sb.WriteString(strings.Join(lines, "\n"))
	lastRead := max(params.Offset-1, 0) + len(lines)
	if lineNum > lastRead {
		sb.WriteString(fmt.Sprintf("\n\n(File has more lines. Use 'offset' to read beyond line %d)", lastRead))
	}

	return &Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
		Output: sb.String(),
		Metadata: map[string]any{
			"file":  path,
			"lines": len(lines),
			"total": lineNum,
		},
	}, nil
}
