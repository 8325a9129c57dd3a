package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- filePath may be absolute or relative to the working directory
- This tool will overwrite existing files
- Parent directories will be created if they don't exist`

// WriteTool implements file writing.
type WriteTool struct{}

// WriteInput represents the input for the write tool.
type WriteInput struct {
	FilePath string `json:"filePath"`
	Content  string `json:"content"`
}

// NewWriteTool creates a new write tool.
func NewWriteTool() *WriteTool {
	return &WriteTool{}
}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return writeDescription }
func (t *WriteTool) Readonly() bool      { return false }

func (t *WriteTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to write"
			},
			"content": {
				"type": "string",
				"description": "The content to write to the file"
			}
		},
		"required": ["filePath", "content"]
	}`)
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params WriteInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return ErrorResult("filePath is required"), nil
	}

	path := toolCtx.Abs(params.FilePath)
	if err := toolCtx.RequireFs(path); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return AbortedResult("Write cancelled"), nil
	}

	before, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return ErrorResult("Cannot read %s: %v", params.FilePath, err), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ErrorResult("Failed to create directory: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return ErrorResult("Failed to write file: %v", err), nil
	}

	meta := diffFiles(path, toolCtx.Cwd, string(before), params.Content).metadata(path)
	meta["bytes"] = len(params.Content)
	meta["created"] = before == nil

	return &Result{
		Title:    fmt.Sprintf("Wrote %s", filepath.Base(path)),
		Output:   fmt.Sprintf("Successfully wrote %d bytes to %s", len(params.Content), path),
		Metadata: meta,
	}, nil
}
