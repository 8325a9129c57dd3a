// Package commands provides the CLI commands for mini-kode.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/minmaxflow/mini-kode/internal/config"
	"github.com/minmaxflow/mini-kode/internal/headless"
	"github.com/minmaxflow/mini-kode/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

// Loaded by the root PersistentPreRunE.
var (
	appConfig *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "minikode",
	Short: "mini-kode - permission-gated tool execution for coding agents",
	Long: `mini-kode runs batches of tool calls (read, glob, write, edit, bash and
MCP tools) under a permission policy, asking for approval before any
mutating action that no grant covers.

Run 'minikode run batch.yaml' to execute a batch, 'minikode check' to see
what the policy decides, and 'minikode grants' to manage project grants.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR|OFF), overrides config")
	rootCmd.PersistentFlags().StringVarP(&workDir, "cwd", "C", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("minikode %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(grantsCmd)
	rootCmd.AddCommand(toolsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads configuration for the working directory and initializes logging.
func setup(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	workDir = dir

	cfg, err := config.Load(dir)
	if err != nil {
		return &exitError{code: headless.ExitInvalidInput, err: err}
	}
	appConfig = cfg

	levelName := cfg.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return &exitError{code: headless.ExitInvalidInput, err: err}
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	if printLogs {
		logCfg.File = cfg.LogFile
	} else {
		logCfg.Output = io.Discard
		logCfg.Pretty = false
		logCfg.File = cfg.LogFile
		if logCfg.File == "" {
			logCfg.File = config.GetPaths().LogPath()
		}
	}
	logCloser, err = logging.Init(logCfg)
	return err
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	return os.Getwd()
}

// exitError carries a process exit code. An empty message means the command
// already reported the failure.
type exitError struct {
	code headless.ExitCode
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return int(ee.code)
	}
	if err != nil {
		return int(headless.ExitError)
	}
	return int(headless.ExitSuccess)
}
