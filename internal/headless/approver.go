package headless

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/minmaxflow/mini-kode/internal/logging"
	"github.com/minmaxflow/mini-kode/internal/permission"
)

// TerminalApprover answers permission requests by prompting on a terminal.
// Requests are registered with a broker so another client (the approval
// HTTP endpoint) can resolve them too; the first answer wins. Decide is
// called for one request at a time.
type TerminalApprover struct {
	broker  *permission.Broker
	out     io.Writer
	timeout time.Duration
	log     zerolog.Logger
	now     func() time.Time

	once  sync.Once
	in    io.Reader
	lines chan inputLine

	// settledElsewhere is set when the last request was answered without a
	// line from this terminal, so a late answer typed for it may be queued.
	settledElsewhere bool
}

type inputLine struct {
	text string
	at   time.Time
}

// NewTerminalApprover creates an approver reading answers from in and
// writing prompts to out. A zero timeout uses the broker default.
func NewTerminalApprover(broker *permission.Broker, in io.Reader, out io.Writer, timeout time.Duration) *TerminalApprover {
	return &TerminalApprover{
		broker:  broker,
		in:      in,
		out:     out,
		timeout: timeout,
		log:     logging.Component("approver"),
		now:     time.Now,
	}
}

// Decide prompts for hint and waits for an answer. It matches
// executor.PermissionFunc. End of input rejects the request.
func (a *TerminalApprover) Decide(ctx context.Context, hint permission.UIHint, requestID string) (permission.Decision, error) {
	a.once.Do(a.startReader)

	ch, err := a.broker.Request(requestID, hint, a.timeout)
	if err != nil {
		return permission.Decision{}, err
	}
	opts := permission.OptionsFor(hint)
	a.prompt(hint, requestID, opts)
	promptedAt := a.now()
	dropStale := a.settledElsewhere

	resolvedHere := false
	lines := a.lines
	for {
		select {
		case d := <-ch:
			if d.Reason == permission.ReasonTimeout {
				fmt.Fprintln(a.out, "No answer before the approval timeout, rejecting.")
			} else if !resolvedHere {
				fmt.Fprintf(a.out, "\nRequest %s was answered elsewhere.\n", requestID)
			}
			a.settledElsewhere = !resolvedHere
			return d, nil

		case line, ok := <-lines:
			if !ok {
				lines = nil
				resolvedHere = a.broker.Resolve(requestID, permission.Deny(permission.ReasonUserRejected))
				continue
			}
			if dropStale && line.at.Before(promptedAt) {
				a.log.Debug().Str("requestId", requestID).Str("answer", line.text).Msg("dropped answer typed before prompt")
				fmt.Fprintf(a.out, "Ignored %q, typed for an earlier request. Choice [n]: ", line.text)
				continue
			}
			d, err := parseChoice(line.text, opts)
			if err != nil {
				fmt.Fprintf(a.out, "%v. Choose 1-%d, y or n: ", err, len(opts))
				continue
			}
			if a.broker.Resolve(requestID, d) {
				resolvedHere = true
			} else {
				a.log.Debug().Str("requestId", requestID).Msg("request already resolved elsewhere")
			}

		case <-ctx.Done():
			a.broker.Withdraw(requestID)
			a.settledElsewhere = true
			return permission.Decision{}, ctx.Err()
		}
	}
}

// startReader feeds input lines, stamped with when they were read, to the
// lines channel until EOF.
func (a *TerminalApprover) startReader() {
	a.lines = make(chan inputLine)
	go func() {
		defer close(a.lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			a.lines <- inputLine{text: scanner.Text(), at: a.now()}
		}
	}()
}

func (a *TerminalApprover) prompt(hint permission.UIHint, requestID string, opts []permission.Option) {
	fmt.Fprintf(a.out, "\nPermission required [%s]: %s\n", requestID, describeHint(hint))
	if hint.Message != "" && hint.Target() != "" {
		fmt.Fprintf(a.out, "  %s\n", hint.Target())
	}
	for i, o := range opts {
		fmt.Fprintf(a.out, "  %d) %s\n", i+1, optionLabel(hint, o))
	}
	fmt.Fprint(a.out, "Choice [n]: ")
}

// parseChoice maps an answer to a decision. It accepts an option number,
// y or n, or an option in its string form such as "bash:prefix".
func parseChoice(line string, opts []permission.Option) (permission.Decision, error) {
	answer := strings.ToLower(strings.TrimSpace(line))
	switch answer {
	case "", "n", "no":
		return permission.Deny(permission.ReasonUserRejected), nil
	case "y", "yes":
		return permission.Approve(permission.Once), nil
	}

	if n, err := strconv.Atoi(answer); err == nil {
		if n < 1 || n > len(opts) {
			return permission.Decision{}, fmt.Errorf("no option %d", n)
		}
		return decisionFor(opts[n-1]), nil
	}

	opt, err := permission.ParseOption(answer)
	if err != nil {
		return permission.Decision{}, fmt.Errorf("unrecognized answer %q", answer)
	}
	for _, o := range opts {
		if o == opt {
			return decisionFor(opt), nil
		}
	}
	return permission.Decision{}, fmt.Errorf("option %s does not apply here", opt)
}

func decisionFor(opt permission.Option) permission.Decision {
	if opt == permission.Reject {
		return permission.Deny(permission.ReasonUserRejected)
	}
	return permission.Approve(opt)
}

func optionLabel(hint permission.UIHint, o permission.Option) string {
	switch o {
	case permission.Once:
		return "Allow once"
	case permission.Reject:
		return "Reject"
	}
	switch o.Scope {
	case permission.ScopeDirectory:
		return "Allow all edits in this directory"
	case permission.ScopeCommand:
		return fmt.Sprintf("Always allow %q", hint.Command)
	case permission.ScopePrefix:
		return fmt.Sprintf("Always allow %s", permission.PrefixPattern(permission.ExtractMainCommand(hint.Command)))
	case permission.ScopeTool:
		return fmt.Sprintf("Always allow %s", hint.Target())
	case permission.ScopeServer:
		return fmt.Sprintf("Always allow every tool from %s", hint.ServerName)
	case permission.ScopeGlobal:
		if o.Kind == permission.OptionFs {
			return "Allow all file edits"
		}
		return "Allow all commands"
	}
	return o.String()
}
