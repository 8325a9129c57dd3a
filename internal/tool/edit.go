package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
)

// minSimilarity is the lowest score a near match needs to be replaced.
const minSimilarity = 0.85

const editDescription = `Performs exact string replacements in files.

Usage:
- filePath may be absolute or relative to the working directory
- oldString must exist in the file and be unique unless replaceAll is set
- An empty oldString creates the file with newString as its content`

// EditTool implements in-place file editing.
type EditTool struct{}

// EditInput represents the input for the edit tool.
type EditInput struct {
	FilePath   string `json:"filePath"`
	OldString  string `json:"oldString"`
	NewString  string `json:"newString"`
	ReplaceAll bool   `json:"replaceAll,omitempty"`
}

// NewEditTool creates a new edit tool.
func NewEditTool() *EditTool {
	return &EditTool{}
}

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return editDescription }
func (t *EditTool) Readonly() bool      { return false }

func (t *EditTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filePath": {
				"type": "string",
				"description": "The path to the file to edit"
			},
			"oldString": {
				"type": "string",
				"description": "The exact text to replace"
			},
			"newString": {
				"type": "string",
				"description": "The text to replace it with"
			},
			"replaceAll": {
				"type": "boolean",
				"description": "Replace all occurrences (default: false)"
			}
		},
		"required": ["filePath", "oldString", "newString"]
	}`)
}

func (t *EditTool) Execute(ctx context.Context, input json.RawMessage, toolCtx *Context) (*Result, error) {
	var params EditInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if params.FilePath == "" {
		return ErrorResult("filePath is required"), nil
	}
	if params.OldString == params.NewString {
		return ErrorResult("oldString and newString must be different"), nil
	}

	path := toolCtx.Abs(params.FilePath)
	if err := toolCtx.RequireFs(path); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return AbortedResult("Edit cancelled"), nil
	}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && params.OldString == "":
		content = nil
	case err != nil:
		return ErrorResult("Cannot read %s: %v", params.FilePath, err), nil
	case params.OldString == "":
		return ErrorResult("File already exists: %s", params.FilePath), nil
	}

	before := string(content)
	after, count, res := replace(before, params)
	if res != nil {
		return res, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ErrorResult("Failed to create directory: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(after), 0644); err != nil {
		return ErrorResult("Failed to write file: %v", err), nil
	}

	meta := diffFiles(path, toolCtx.Cwd, before, after).metadata(path)
	meta["replacements"] = count

	return &Result{
		Title:    fmt.Sprintf("Edited %s", filepath.Base(path)),
		Output:   fmt.Sprintf("Replaced %d occurrence(s)", count),
		Metadata: meta,
	}, nil
}

// replace applies the edit to text. A non-nil result reports why it could not.
func replace(text string, params EditInput) (string, int, *Result) {
	if params.OldString == "" {
		return params.NewString, 1, nil
	}

	count := strings.Count(text, params.OldString)
	switch {
	case count > 1 && !params.ReplaceAll:
		return "", 0, ErrorResult("oldString appears %d times in file. Use replaceAll or provide more context", count)
	case count > 0 && params.ReplaceAll:
		return strings.ReplaceAll(text, params.OldString, params.NewString), count, nil
	case count == 1:
		return strings.Replace(text, params.OldString, params.NewString, 1), 1, nil
	}

	if normalized := strings.ReplaceAll(params.OldString, "\r\n", "\n"); normalized != params.OldString {
		if n := strings.Count(text, normalized); n == 1 {
			return strings.Replace(text, normalized, params.NewString, 1), 1, nil
		}
	}

	if match, score := closestBlock(text, params.OldString); match != "" && score >= minSimilarity {
		return strings.Replace(text, match, params.NewString, 1), 1, nil
	}
	return "", 0, ErrorResult("oldString not found in %s", filepath.Base(params.FilePath))
}

// closestBlock finds the run of lines most similar to target.
func closestBlock(text, target string) (string, float64) {
	lines := strings.Split(text, "\n")
	n := len(strings.Split(target, "\n"))

	best, bestScore := "", 0.0
	for i := 0; i+n <= len(lines); i++ {
		block := strings.Join(lines[i:i+n], "\n")
		if s := similarity(block, target); s > bestScore {
			best, bestScore = block, s
		}
	}
	return best, bestScore
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	// Skip the quadratic distance on large blocks.
	if longest > 10000 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
