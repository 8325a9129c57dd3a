package permission

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/logging"
	"github.com/rs/zerolog"
)

// ErrDuplicateRequest is returned when a request id is already pending.
var ErrDuplicateRequest = errors.New("approval already pending for request")

// Broker holds pending approval requests keyed by request id. Each request
// is resolved exactly once: by Resolve, by its timeout, or by its caller
// giving up.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	timeout time.Duration
	bus     *event.Bus
	log     zerolog.Logger
}

type pendingApproval struct {
	ch          chan Decision
	timer       *time.Timer
	hint        UIHint
	requestedAt time.Time
	deadline    time.Time
}

// PendingInfo describes a request waiting for a decision.
type PendingInfo struct {
	RequestID   string    `json:"requestId"`
	Hint        UIHint    `json:"hint"`
	Options     []string  `json:"options"`
	RequestedAt time.Time `json:"requestedAt"`
	Deadline    time.Time `json:"deadline"`
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithTimeout sets the default approval timeout.
func WithTimeout(d time.Duration) BrokerOption {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithBus publishes permission.requested and permission.resolved events.
func WithBus(bus *event.Bus) BrokerOption {
	return func(b *Broker) { b.bus = bus }
}

// NewBroker creates a Broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		pending: make(map[string]*pendingApproval),
		timeout: DefaultApprovalTimeout,
		log:     logging.Component("approval"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Timeout returns the default approval timeout.
func (b *Broker) Timeout() time.Duration {
	return b.timeout
}

// Request registers a pending approval. The returned channel receives
// exactly one decision; if none arrives within timeout (the broker default
// when zero) it receives a timeout rejection.
func (b *Broker) Request(requestID string, hint UIHint, timeout time.Duration) (<-chan Decision, error) {
	if timeout <= 0 {
		timeout = b.timeout
	}

	b.mu.Lock()
	if _, ok := b.pending[requestID]; ok {
		b.mu.Unlock()
		return nil, ErrDuplicateRequest
	}
	now := time.Now()
	p := &pendingApproval{
		ch:          make(chan Decision, 1),
		hint:        hint,
		requestedAt: now,
		deadline:    now.Add(timeout),
	}
	p.timer = time.AfterFunc(timeout, func() {
		if b.finish(requestID, p, Deny(ReasonTimeout)) {
			b.log.Warn().Str("requestId", requestID).Dur("timeout", timeout).Msg("approval timed out")
		}
	})
	b.pending[requestID] = p
	b.mu.Unlock()

	b.log.Debug().Str("requestId", requestID).Str("kind", string(hint.Kind)).Msg("approval requested")
	b.bus.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{RequestID: requestID, Hint: hint},
	})
	return p.ch, nil
}

// Resolve delivers decision to a pending request. It reports whether a
// pending request was found; resolving twice returns false the second time.
func (b *Broker) Resolve(requestID string, decision Decision) bool {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	return b.finish(requestID, p, decision)
}

// Await requests an approval and waits for the decision. If ctx is done
// first the request is withdrawn and ctx.Err() is returned.
func (b *Broker) Await(ctx context.Context, requestID string, hint UIHint, timeout time.Duration) (Decision, error) {
	ch, err := b.Request(requestID, hint, timeout)
	if err != nil {
		return Decision{}, err
	}
	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		b.Withdraw(requestID)
		return Decision{}, ctx.Err()
	}
}

// Pending lists requests waiting for a decision, oldest first.
func (b *Broker) Pending() []PendingInfo {
	b.mu.Lock()
	out := make([]PendingInfo, 0, len(b.pending))
	for id, p := range b.pending {
		var opts []string
		for _, o := range OptionsFor(p.hint) {
			opts = append(opts, o.String())
		}
		out = append(out, PendingInfo{
			RequestID:   id,
			Hint:        p.hint,
			Options:     opts,
			RequestedAt: p.requestedAt,
			Deadline:    p.deadline,
		})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// finish removes p and delivers d, unless p was already removed.
func (b *Broker) finish(requestID string, p *pendingApproval, d Decision) bool {
	b.mu.Lock()
	if b.pending[requestID] != p {
		b.mu.Unlock()
		return false
	}
	delete(b.pending, requestID)
	b.mu.Unlock()

	p.timer.Stop()
	p.ch <- d

	b.bus.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			RequestID: requestID,
			Approved:  d.Approved,
			Option:    optionString(d),
			Reason:    string(d.Reason),
		},
	})
	return true
}

// Withdraw drops a pending request without delivering a decision. It
// reports whether the request was still pending.
func (b *Broker) Withdraw(requestID string) bool {
	b.mu.Lock()
	p, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()
	if ok {
		p.timer.Stop()
		b.log.Debug().Str("requestId", requestID).Msg("approval withdrawn")
	}
	return ok
}

func optionString(d Decision) string {
	if !d.Approved {
		return ""
	}
	return d.Option.String()
}
