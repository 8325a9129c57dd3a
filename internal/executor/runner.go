package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/minmaxflow/mini-kode/internal/logging"
	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

// Runner executes single tool calls and maps their outcome onto a status.
type Runner struct {
	registry *tool.Registry
	resolver *permission.Resolver
	now      func() time.Time
	log      zerolog.Logger
}

// NewRunner creates a Runner that looks tools up in registry and gives them
// resolver for permission checks.
func NewRunner(registry *tool.Registry, resolver *permission.Resolver) *Runner {
	return &Runner{
		registry: registry,
		resolver: resolver,
		now:      time.Now,
		log:      logging.Component("runner"),
	}
}

// Execute runs call once. The returned call is terminal or
// permission_required. The only error is *UnknownToolError; every failure
// of the tool itself is reported through the call's status and result.
func (r *Runner) Execute(ctx context.Context, call ToolCall, ec ExecContext) (out ToolCall, err error) {
	t, ok := r.registry.Get(call.ToolName)
	if !ok {
		return call, &UnknownToolError{Name: call.ToolName, Suggestion: r.registry.Suggest(call.ToolName)}
	}

	call.Status = StatusExecuting
	if call.StartedAt.IsZero() {
		call.StartedAt = r.now()
	}
	call.Result = nil
	call.EndedAt = nil

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("tool", call.ToolName).Str("requestId", call.RequestID).Interface("panic", p).Msg("tool panicked")
			call.finish(StatusError, tool.ErrorResult("Tool execution failed: panic: %v", p), r.now())
			out, err = call, nil
		}
	}()

	toolCtx := &tool.Context{
		Cwd:          ec.Cwd,
		SessionID:    ec.SessionID,
		RequestID:    call.RequestID,
		ApprovalMode: ec.ApprovalMode,
		Permissions:  r.resolver,
		OnMetadata: func(title string, meta map[string]any) {
			r.log.Debug().Str("tool", call.ToolName).Str("requestId", call.RequestID).Str("title", title).Msg("tool progress")
		},
	}

	res, execErr := t.Execute(ctx, call.Input, toolCtx)
	return r.classify(ctx, call, res, execErr), nil
}

func (r *Runner) classify(ctx context.Context, call ToolCall, res *tool.Result, err error) ToolCall {
	if perr, ok := permission.AsPermissionRequired(err); ok {
		hint := perr.Hint
		call.Status = StatusPermissionRequired
		call.UIHint = &hint
		return call
	}

	now := r.now()
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil):
		call.finish(StatusAbort, tool.AbortedResult("Tool execution aborted"), now)
	case err != nil:
		r.log.Debug().Err(err).Str("tool", call.ToolName).Str("requestId", call.RequestID).Msg("tool failed")
		call.finish(StatusError, tool.ErrorResult("Tool execution failed: %v", err), now)
	case res == nil:
		call.finish(StatusSuccess, &tool.Result{}, now)
	case res.IsError && res.IsAborted:
		call.finish(StatusAbort, res, now)
	case res.IsError:
		call.finish(StatusError, res, now)
	default:
		call.finish(StatusSuccess, res, now)
	}
	return call
}
