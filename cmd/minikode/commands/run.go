package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/minmaxflow/mini-kode/internal/config"
	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/executor"
	"github.com/minmaxflow/mini-kode/internal/headless"
	"github.com/minmaxflow/mini-kode/internal/logging"
	"github.com/minmaxflow/mini-kode/internal/mcp"
	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/server"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

var (
	runMode            string
	runFormat          string
	runListen          string
	runApprovalTimeout time.Duration
	runTimeout         time.Duration
	runMaxConcurrency  int
	runVerbose         bool
	runSession         string
)

var runCmd = &cobra.Command{
	Use:   "run <batch.json|batch.yaml|->",
	Short: "Execute a batch of tool calls",
	Long: `Execute a batch of tool calls under the permission policy.

A batch is a list of calls, or an object with "calls" and an optional
"sessionId". Each call has "toolName", "input" and an optional "requestId".

Batches made only of readonly tools run concurrently; any mutating tool makes
the batch sequential, pausing for approval when no grant covers a call.

Examples:
  minikode run batch.yaml
  minikode run --mode autoEdit --output jsonl batch.json
  minikode run --listen 127.0.0.1:7878 batch.yaml   # approve over HTTP
  cat batch.json | minikode run -`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchCommand,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "Approval mode (default|autoEdit|yolo), overrides config")
	runCmd.Flags().StringVarP(&runFormat, "output", "o", "text", "Output format (text|json|jsonl)")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Serve approvals over HTTP on this address instead of prompting")
	runCmd.Flags().DurationVar(&runApprovalTimeout, "approval-timeout", 0, "How long an approval waits, overrides config")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Abort the batch after this long")
	runCmd.Flags().IntVar(&runMaxConcurrency, "max-concurrency", -1, "Bound concurrent readonly calls (0 = unbounded), overrides config")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show every event")
	runCmd.Flags().StringVar(&runSession, "session", "", "Session ID (generated when empty)")
}

// runOptions is everything runBatch needs beyond the batch itself.
type runOptions struct {
	Cwd             string
	Mode            permission.ApprovalMode
	Format          headless.OutputFormat
	Listen          string
	ApprovalTimeout time.Duration
	Timeout         time.Duration
	MaxConcurrency  int
	Verbose         bool
	SessionID       string
	MCP             map[string]mcp.Config

	// Registry overrides the built-in tools; the MCP servers are still added.
	Registry *tool.Registry
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	opts, err := runOptionsFromFlags(appConfig)
	if err != nil {
		return &exitError{code: headless.ExitInvalidInput, err: err}
	}

	in := cmd.InOrStdin()
	name := args[0]
	var batch io.Reader = in
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return &exitError{code: headless.ExitInvalidInput, err: err}
		}
		defer f.Close()
		batch = f
	} else if opts.Listen == "" {
		// stdin carries the batch, so approvals cannot be read from it.
		in = eofReader{}
	}

	sessionID, reqs, err := parseBatch(name, batch)
	if err != nil {
		return &exitError{code: headless.ExitInvalidInput, err: err}
	}
	if opts.SessionID == "" {
		opts.SessionID = sessionID
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runBatch(ctx, opts, reqs, in, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if result.ExitCode != headless.ExitSuccess {
		return &exitError{code: result.ExitCode}
	}
	return nil
}

func runOptionsFromFlags(cfg *config.Config) (runOptions, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := runOptions{
		Cwd:             workDir,
		Mode:            cfg.Mode(),
		Listen:          runListen,
		ApprovalTimeout: cfg.ApprovalTimeout.Std(),
		Timeout:         runTimeout,
		MaxConcurrency:  cfg.MaxConcurrency,
		Verbose:         runVerbose,
		SessionID:       runSession,
		MCP:             cfg.MCP,
	}
	if runMode != "" {
		mode, err := permission.ParseApprovalMode(runMode)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}
	format, err := headless.ParseOutputFormat(runFormat)
	if err != nil {
		return opts, err
	}
	opts.Format = format
	if runApprovalTimeout > 0 {
		opts.ApprovalTimeout = runApprovalTimeout
	}
	if runMaxConcurrency >= 0 {
		opts.MaxConcurrency = runMaxConcurrency
	}
	return opts, nil
}

// runBatch wires the execution core and runs one batch. Progress goes to
// out; approval prompts go to errOut and answers are read from in.
func runBatch(ctx context.Context, opts runOptions, reqs []executor.Request, in io.Reader, out, errOut io.Writer) (*headless.Result, error) {
	log := logging.Component("cli")

	if opts.SessionID == "" {
		opts.SessionID = newSessionID()
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	bus := event.NewBus()
	defer bus.Close()

	broker := permission.NewBroker(permission.WithTimeout(opts.ApprovalTimeout), permission.WithBus(bus))
	resolver := permission.NewResolver(permission.NewStore())

	registry := opts.Registry
	if registry == nil {
		registry = tool.DefaultRegistry()
	}
	client := connectMCP(ctx, opts.MCP, registry)
	defer client.Close()

	exec := executor.New(registry, resolver,
		executor.WithBus(bus),
		executor.WithMaxConcurrency(opts.MaxConcurrency),
	)

	printer := headless.NewPrinter(out, opts.Format, opts.Verbose)
	printer.SetSessionID(opts.SessionID)
	printer.Subscribe(bus)
	defer printer.Unsubscribe()

	var cb executor.Callbacks
	if opts.Listen != "" {
		srv := server.New(&server.Config{Addr: opts.Listen, EnableCORS: true, ReadTimeout: 30 * time.Second}, broker, bus)
		addr, err := srv.Start()
		if err != nil {
			return nil, &exitError{code: headless.ExitInvalidInput, err: fmt.Errorf("failed to listen on %s: %w", opts.Listen, err)}
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(errOut, "Approvals: http://%s/approvals\n", addr)

		if watcher, err := permission.NewGrantWatcher(opts.Cwd, resolver.Grants(), bus); err != nil {
			log.Warn().Err(err).Msg("grant file changes will not be streamed")
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
		cb.OnPermissionRequired = executor.ViaBroker(broker)
	} else {
		approver := headless.NewTerminalApprover(broker, in, errOut, opts.ApprovalTimeout)
		cb.OnPermissionRequired = approver.Decide
	}

	log.Info().Str("session", opts.SessionID).Str("mode", string(opts.Mode)).Int("calls", len(reqs)).Msg("running batch")
	calls, err := exec.ExecuteBatch(ctx, reqs, executor.ExecContext{
		Cwd:          opts.Cwd,
		ApprovalMode: opts.Mode,
		SessionID:    opts.SessionID,
	}, cb)

	return printer.Finish(calls, err, ctx.Err()), nil
}

// connectMCP connects the configured servers and registers their tools.
// A server that fails to connect is skipped; Status reports it.
func connectMCP(ctx context.Context, servers map[string]mcp.Config, registry *tool.Registry) *mcp.Client {
	client := mcp.NewClient()
	for name, cfg := range servers {
		_ = client.AddServer(ctx, name, cfg)
	}
	if err := mcp.RegisterTools(client, registry); err != nil {
		log := logging.Component("cli")
		log.Warn().Err(err).Msg("some mcp tools were not registered")
	}
	return client
}

// eofReader is an empty input.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
