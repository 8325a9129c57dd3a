package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/logging"
	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

// Executor runs batches of tool calls.
type Executor struct {
	registry       *tool.Registry
	runner         *Runner
	grants         permission.GrantStore
	bus            *event.Bus
	maxConcurrency int
	now            func() time.Time
	log            zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithBus publishes tool and batch events to bus.
func WithBus(bus *event.Bus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithMaxConcurrency bounds how many calls of a concurrent batch run at
// once. Zero or less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(e *Executor) { e.maxConcurrency = n }
}

// New creates an Executor. Approved grants are recorded in the resolver's
// grant store.
func New(registry *tool.Registry, resolver *permission.Resolver, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		runner:   NewRunner(registry, resolver),
		grants:   resolver.Grants(),
		now:      time.Now,
		log:      logging.Component("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Runner returns the runner used for single calls.
func (e *Executor) Runner() *Runner {
	return e.runner
}

// ExecuteBatch runs reqs and returns their terminal ToolCalls in request
// order. Per-call failures are reported in the calls; the returned error is
// reserved for invalid batches (*UnknownToolError, ErrDuplicateRequestID)
// and ErrReadonlyPermission.
func (e *Executor) ExecuteBatch(ctx context.Context, reqs []Request, ec ExecContext, cb Callbacks) ([]ToolCall, error) {
	strategy, err := e.plan(reqs)
	if err != nil {
		e.log.Error().Err(err).Msg("batch rejected")
		return nil, err
	}

	calls := make([]ToolCall, len(reqs))
	for i, req := range reqs {
		input := req.Input
		if len(input) == 0 {
			input = []byte("{}")
		}
		calls[i] = ToolCall{
			RequestID: req.RequestID,
			ToolName:  req.ToolName,
			Input:     input,
			Status:    StatusPending,
		}
	}

	e.log.Info().Str("session", ec.SessionID).Str("strategy", string(strategy)).Int("calls", len(calls)).Msg("batch started")
	e.bus.PublishSync(event.Event{Type: event.BatchStarted, Data: event.BatchData{
		SessionID: ec.SessionID, Strategy: string(strategy), Calls: len(calls),
	}})

	n := &notifier{cb: cb, bus: e.bus, log: e.log}
	if strategy == StrategyConcurrent {
		err = e.runConcurrent(ctx, calls, ec, n)
	} else {
		err = e.runSequential(ctx, calls, ec, cb, n)
	}

	finished := event.BatchData{SessionID: ec.SessionID, Strategy: string(strategy), Calls: len(calls)}
	if err != nil {
		finished.Error = err.Error()
		e.log.Error().Err(err).Str("session", ec.SessionID).Msg("batch failed")
	} else {
		e.log.Info().Str("session", ec.SessionID).Msg("batch finished")
	}
	e.bus.PublishSync(event.Event{Type: event.BatchFinished, Data: finished})

	if err != nil {
		return nil, err
	}
	return calls, nil
}

// plan validates the batch and picks its strategy.
func (e *Executor) plan(reqs []Request) (Strategy, error) {
	seen := make(map[string]bool, len(reqs))
	readonly := true
	for _, req := range reqs {
		t, ok := e.registry.Get(req.ToolName)
		if !ok {
			return "", &UnknownToolError{Name: req.ToolName, Suggestion: e.registry.Suggest(req.ToolName)}
		}
		if seen[req.RequestID] {
			return "", fmt.Errorf("%w: %q", ErrDuplicateRequestID, req.RequestID)
		}
		seen[req.RequestID] = true
		readonly = readonly && t.Readonly()
	}
	if readonly {
		return StrategyConcurrent, nil
	}
	return StrategySequential, nil
}

type completion struct {
	index int
	call  ToolCall
	err   error
}

// runConcurrent starts every call at once and collects completions as they
// arrive. On cancellation completions already delivered keep their result
// and the outstanding calls are aborted without waiting for them; their late
// results are dropped. Calls not yet launched under a concurrency limit are
// never started.
func (e *Executor) runConcurrent(ctx context.Context, calls []ToolCall, ec ExecContext, n *notifier) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := e.now()
	for i := range calls {
		calls[i].Status = StatusExecuting
		calls[i].StartedAt = start
		n.start(calls[i])
	}

	results := make(chan completion, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	go func() {
		for i := range calls {
			if gctx.Err() != nil {
				break
			}
			call := calls[i]
			idx := i
			g.Go(func() error {
				// A slot may free up only after the batch was cancelled.
				if gctx.Err() != nil {
					return nil
				}
				out, err := e.runner.Execute(gctx, call, ec)
				results <- completion{index: idx, call: out, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}()

	done := make([]bool, len(calls))
	accept := func(c completion) error {
		if c.err != nil {
			return c.err
		}
		if c.call.Status == StatusPermissionRequired {
			return fmt.Errorf("%w: %s", ErrReadonlyPermission, c.call.ToolName)
		}
		calls[c.index] = c.call
		done[c.index] = true
		n.complete(c.call)
		return nil
	}

	for remaining := len(calls); remaining > 0; {
		select {
		case <-ctx.Done():
			// Both cases may be ready; completions already queued still count.
			for drained := false; !drained; {
				select {
				case c := <-results:
					if err := accept(c); err != nil {
						return err
					}
				default:
					drained = true
				}
			}
			now := e.now()
			for i := range calls {
				if done[i] {
					continue
				}
				calls[i].finish(StatusAbort, tool.AbortedResult("Batch cancelled"), now)
				n.complete(calls[i])
			}
			return nil

		case c := <-results:
			if err := accept(c); err != nil {
				return err
			}
			remaining--
		}
	}
	return nil
}

// runSequential runs calls in request order, pausing on permission
// requests. A denial ends the batch: the denied call and every later call
// become permission_denied.
func (e *Executor) runSequential(ctx context.Context, calls []ToolCall, ec ExecContext, cb Callbacks, n *notifier) error {
	for i := range calls {
		if ctx.Err() != nil {
			e.abortFrom(calls, i, n)
			return nil
		}

		calls[i].Status = StatusExecuting
		calls[i].StartedAt = e.now()
		n.start(calls[i])

		out, err := e.runner.Execute(ctx, calls[i], ec)
		if err != nil {
			return err
		}
		calls[i] = out
		if out.Status.Terminal() {
			n.complete(out)
			continue
		}

		n.update(out)
		decision, err := e.decide(ctx, out, cb)
		if err != nil {
			e.log.Debug().Err(err).Str("requestId", out.RequestID).Msg("approval abandoned")
			e.abortFrom(calls, i, n)
			return nil
		}
		if !decision.Approved {
			e.denyFrom(calls, i, decision.Reason, n)
			return nil
		}

		if err := e.persist(ctx, ec, *out.UIHint, decision.Option); err != nil {
			e.log.Warn().Err(err).Str("requestId", out.RequestID).Msg("approval could not be applied")
			calls[i].finish(StatusError, tool.ErrorResult("Approval could not be applied: %v", err), e.now())
			n.complete(calls[i])
			continue
		}

		calls[i].Status = StatusExecuting
		n.update(calls[i])

		retry, err := e.runner.Execute(ctx, calls[i], ec)
		if err != nil {
			return err
		}
		if retry.Status == StatusPermissionRequired {
			retry.finish(StatusError, tool.ErrorResult("Permission still required after approval"), e.now())
		}
		calls[i] = retry
		n.complete(retry)
	}
	return nil
}

// decide asks the callback for a decision. A missing callback rejects.
func (e *Executor) decide(ctx context.Context, call ToolCall, cb Callbacks) (permission.Decision, error) {
	if cb.OnPermissionRequired == nil {
		return permission.Deny(permission.ReasonUserRejected), nil
	}
	d, err := cb.OnPermissionRequired(ctx, *call.UIHint, call.RequestID)
	if err != nil {
		return permission.Decision{}, err
	}
	if err := d.Validate(); err != nil {
		e.log.Warn().Err(err).Str("requestId", call.RequestID).Msg("invalid approval decision treated as rejection")
		return permission.Deny(permission.ReasonUserRejected), nil
	}
	return d, nil
}

// persist records the grants an approval creates. Every grant goes to the
// session; remembered scopes also go to the project file. A project write
// failure is logged and does not fail the call, since the session grant
// already lets the retry proceed.
func (e *Executor) persist(ctx context.Context, ec ExecContext, hint permission.UIHint, opt permission.Option) error {
	grants, err := permission.GrantsFor(hint, opt, ec.Cwd, e.now())
	if err != nil {
		return err
	}
	for _, g := range grants {
		e.grants.AddSessionGrant(g)
		if !opt.Remember() {
			continue
		}
		if err := e.grants.AddProjectGrant(ctx, ec.Cwd, g); err != nil {
			e.log.Warn().Err(err).Str("grant", g.String()).Msg("project grant not saved")
		}
	}
	e.log.Info().Str("option", opt.String()).Int("grants", len(grants)).Bool("project", opt.Remember()).Msg("grants added")
	return nil
}

func (e *Executor) abortFrom(calls []ToolCall, from int, n *notifier) {
	now := e.now()
	for i := from; i < len(calls); i++ {
		calls[i].finish(StatusAbort, tool.AbortedResult("Batch cancelled"), now)
		n.complete(calls[i])
	}
}

func (e *Executor) denyFrom(calls []ToolCall, from int, reason permission.RejectReason, n *notifier) {
	if reason == "" {
		reason = permission.ReasonUserRejected
	}
	now := e.now()
	for i := from; i < len(calls); i++ {
		msg := fmt.Sprintf("Permission denied (%s)", reason)
		if i > from {
			msg = fmt.Sprintf("Skipped: %s was denied permission (%s)", calls[from].RequestID, reason)
		}
		calls[i].RejectionReason = reason
		calls[i].finish(StatusPermissionDenied, tool.ErrorResult("%s", msg), now)
		n.complete(calls[i])
	}
	e.log.Warn().Str("requestId", calls[from].RequestID).Str("reason", string(reason)).Int("skipped", len(calls)-from-1).Msg("permission denied")
}

// notifier fans progress out to the callbacks and the bus.
type notifier struct {
	cb  Callbacks
	bus *event.Bus
	log zerolog.Logger
}

func (n *notifier) start(c ToolCall) {
	n.log.Debug().Str("requestId", c.RequestID).Str("tool", c.ToolName).Msg("tool started")
	n.bus.PublishSync(event.Event{Type: event.ToolStarted, Data: c})
	if n.cb.OnToolStart != nil {
		n.cb.OnToolStart(c)
	}
}

func (n *notifier) update(c ToolCall) {
	n.log.Debug().Str("requestId", c.RequestID).Str("status", string(c.Status)).Msg("tool updated")
	n.bus.PublishSync(event.Event{Type: event.ToolUpdated, Data: c})
	if n.cb.OnToolUpdate != nil {
		n.cb.OnToolUpdate(c)
	}
}

func (n *notifier) complete(c ToolCall) {
	n.log.Debug().Str("requestId", c.RequestID).Str("status", string(c.Status)).Msg("tool completed")
	n.bus.PublishSync(event.Event{Type: event.ToolCompleted, Data: c})
	if n.cb.OnToolComplete != nil {
		n.cb.OnToolComplete(c)
	}
}
