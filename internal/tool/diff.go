package tool

import (
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// fileDiff summarizes a change to one file.
type fileDiff struct {
	Patch     string
	Additions int
	Deletions int
}

// diffFiles computes a line-level patch between two versions of a file.
// The patch is headed with the path relative to cwd.
func diffFiles(path, cwd, before, after string) fileDiff {
	if before == after {
		return fileDiff{}
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var d fileDiff
	for _, chunk := range diffs {
		switch chunk.Type {
		case diffmatchpatch.DiffInsert:
			d.Additions += countLines(chunk.Text)
		case diffmatchpatch.DiffDelete:
			d.Deletions += countLines(chunk.Text)
		}
	}

	patch := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patch == "" {
		return d
	}
	name := path
	if rel, err := filepath.Rel(cwd, path); err == nil && !strings.HasPrefix(rel, "..") {
		name = rel
	}
	d.Patch = "--- " + name + "\n+++ " + name + "\n" + patch
	return d
}

func (d fileDiff) metadata(path string) map[string]any {
	return map[string]any{
		"file":      path,
		"diff":      d.Patch,
		"additions": d.Additions,
		"deletions": d.Deletions,
	}
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
