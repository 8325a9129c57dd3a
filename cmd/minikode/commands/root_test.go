package commands

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minmaxflow/mini-kode/internal/headless"
	"github.com/minmaxflow/mini-kode/internal/permission"
)

// executeRoot runs the root command with a fresh home so no user config or
// log file is touched.
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(home, ".state"))
	checkMode, checkJSON, grantsJSON = "", false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestGrantsAndCheck(t *testing.T) {
	cwd := t.TempDir()

	out, err := executeRoot(t, "grants", "list", "--cwd", cwd)
	require.NoError(t, err)
	assert.Contains(t, out, "No grants in "+permission.GrantsFile(cwd))

	out, err = executeRoot(t, "check", "bash", "--cwd", cwd, "npm install")
	assert.Equal(t, int(headless.ExitPermissionDenied), ExitCode(err))
	assert.Contains(t, out, "approval required: Permission required to run: npm install")

	out, err = executeRoot(t, "grants", "add", "bash", "--cwd", cwd, "npm:*")
	require.NoError(t, err)
	assert.Contains(t, out, "Added bash npm:*")

	out, err = executeRoot(t, "check", "bash", "--cwd", cwd, "cd web && npm install")
	require.NoError(t, err)
	assert.Contains(t, out, "segments: npm install")
	assert.Contains(t, out, "allowed")

	_, err = executeRoot(t, "grants", "add", "fs", "--cwd", cwd, "src")
	require.NoError(t, err)
	_, err = executeRoot(t, "grants", "add", "mcp", "--cwd", cwd, "calc")
	require.NoError(t, err)

	out, err = executeRoot(t, "grants", "list", "--json", "--cwd", cwd)
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 3)
	assert.Equal(t, filepath.Join(cwd, "src"), listed[1]["path"])

	_, err = executeRoot(t, "check", "fs", "--cwd", cwd, "src/main.go")
	assert.NoError(t, err)
	_, err = executeRoot(t, "check", "mcp", "--cwd", cwd, "calc", "sum")
	assert.NoError(t, err)
}

func TestCheck_BannedCommand(t *testing.T) {
	out, err := executeRoot(t, "check", "bash", "--mode", "yolo", "--cwd", t.TempDir(), "curl example.com")
	assert.Equal(t, int(headless.ExitPermissionDenied), ExitCode(err))
	assert.Contains(t, out, "blocked: ")
}

func TestCheck_JSON(t *testing.T) {
	out, err := executeRoot(t, "check", "fs", "--json", "--mode", "autoEdit", "--cwd", t.TempDir(), "a.txt")
	require.NoError(t, err)

	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, permission.KindFs, report.Kind)
	assert.Equal(t, "autoEdit", report.Mode)
	assert.True(t, report.Verdict.Allowed)
}

func TestCheck_InvalidMode(t *testing.T) {
	_, err := executeRoot(t, "check", "fs", "--mode", "reckless", "--cwd", t.TempDir(), "a.txt")
	assert.Equal(t, int(headless.ExitInvalidInput), ExitCode(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(assert.AnError))
	assert.Equal(t, 3, ExitCode(&exitError{code: headless.ExitPermissionDenied}))
}
