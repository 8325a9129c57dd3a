package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const maxGlobResults = 100

const globDescription = `Fast file pattern matching.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Returns matching file paths sorted by modification time, newest first`

// GlobTool implements file pattern matching.
type GlobTool struct{}

// GlobInput represents the input for the glob tool.
type GlobInput struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path,omitempty"`
}

// NewGlobTool creates a new glob tool.
func NewGlobTool() *GlobTool {
	return &GlobTool{}
}

func (t *GlobTool) Name() string        { return "glob" }
func (t *GlobTool) Description() string { return globDescription }
func (t *GlobTool) Readonly() bool      { return true }

func (t *GlobTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern": {
				"type": "string",
				"description": "The glob pattern to match files against"
			},
			"path": {
				"type": "string",
				"description": "Directory to search in (default: working directory)"
			}
		},
		"required": ["pattern"]
	}`)
}

func (t *GlobTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params GlobInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !doublestar.ValidatePattern(params.Pattern) {
		return ErrorResult("Invalid glob pattern: %s", params.Pattern), nil
	}

	searchDir := toolCtx.Cwd
	if params.Path != "" {
		searchDir = toolCtx.Abs(params.Path)
	}

	type match struct {
		path    string
		modTime int64
	}
	var matches []match
	err := doublestar.GlobWalk(os.DirFS(searchDir), params.Pattern, func(p string, d os.DirEntry) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := match{path: p}
		if info, err := d.Info(); err == nil {
			m.modTime = info.ModTime().UnixNano()
		}
		matches = append(matches, m)
		return nil
	})
	if ctx.Err() != nil {
		return AbortedResult("Glob cancelled"), nil
	}
	if err != nil {
		return ErrorResult("Glob failed: %v", err), nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].modTime == matches[j].modTime {
			return matches[i].path < matches[j].path
		}
		return matches[i].modTime > matches[j].modTime
	})

	truncated := len(matches) > maxGlobResults
	if truncated {
		matches = matches[:maxGlobResults]
	}

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = filepath.FromSlash(m.path)
	}

	output := strings.Join(paths, "\n")
	if len(paths) == 0 {
		output = "No files matched the pattern"
	} else if truncated {
		output += fmt.Sprintf("\n\n(Showing first %d matches)", maxGlobResults)
	}

	return &Result{
		Title:  fmt.Sprintf("Found %d files", len(paths)),
		Output: output,
		Metadata: map[string]any{
			"pattern":   params.Pattern,
			"count":     len(paths),
			"truncated": truncated,
		},
	}, nil
}
