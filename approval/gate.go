package approval

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/warden/audit"
	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/observability"
	"github.com/tailored-agentic-units/warden/tools"
	"github.com/tailored-agentic-units/warden/trust"
)

const resolvedHistory = 1024

// Notifier delivers a new approval request to the decision surface. It must
// not block on the decision itself.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, req Request) error

func (f NotifierFunc) Notify(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Clock abstracts time for the approval timeout.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Option configures a Gate.
type Option func(*Gate)

// WithNotifier sets the decision surface notifier.
func WithNotifier(n Notifier) Option {
	return func(g *Gate) { g.notifier = n }
}

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithObserver sets the observer for gate events.
func WithObserver(o observability.Observer) Option {
	return func(g *Gate) { g.observer = o }
}

// WithRedactor scrubs argument previews before they leave the process.
func WithRedactor(r observability.Redactor) Option {
	return func(g *Gate) { g.redactor = r }
}

// Gate suspends gated tool calls pending an external decision. Each request
// has one decision slot that is assigned exactly once, by Decide, by the
// timeout, or by cancellation.
type Gate struct {
	timeout  time.Duration
	bindArgs bool
	preview  int

	trust    trust.Store
	sink     audit.Sink
	notifier Notifier
	clock    Clock
	observer observability.Observer
	redactor observability.Redactor

	pending  map[string]*slot
	resolved map[string]Decision
	order    []string
	mu       sync.Mutex
}

// New creates a Gate over the trust store and audit sink.
func New(cfg Config, trustStore trust.Store, sink audit.Sink, opts ...Option) (*Gate, error) {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	timeout, err := merged.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	g := &Gate{
		timeout:  timeout,
		bindArgs: merged.BindArguments,
		preview:  merged.PreviewLimit,
		trust:    trustStore,
		sink:     sink,
		clock:    systemClock{},
		observer: observability.NoOpObserver{},
		pending:  make(map[string]*slot),
		resolved: make(map[string]Decision),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Timeout returns the configured approval timeout.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Covered reports whether a trust record exempts call from gating.
func (g *Gate) Covered(ctx context.Context, call tools.Call) (trust.Record, bool) {
	rec, found, err := g.trust.Lookup(ctx, call.Requester, call.Name)
	if err != nil {
		observability.Emit(ctx, g.observer, EventTrustFailed, observability.LevelError, "approval.Gate",
			map[string]any{"tool": call.Name, "requester": call.Requester, "error": err.Error()})
		return trust.Record{}, false
	}
	if !found {
		return trust.Record{}, false
	}
	if g.bindArgs && rec.Shape != trust.Shape(call.Args) {
		return rec, false
	}
	return rec, true
}

// RequestApproval resolves a gated call. Trust-covered calls return Trusted
// immediately. Otherwise a request is registered, the decision surface is
// notified, and the call suspends until Decide, the timeout, ExpireSession,
// or ctx cancellation. The returned error is reserved for failures of the
// gate itself; refusals are reported through the Resolution.
func (g *Gate) RequestApproval(ctx context.Context, call tools.Call) (Resolution, error) {
	if rec, ok := g.Covered(ctx, call); ok {
		observability.Emit(ctx, g.observer, EventTrustHit, observability.LevelVerbose, "approval.Gate",
			map[string]any{"tool": call.Name, "requester": call.Requester, "granted_by": rec.GrantedBy})
		res := Resolution{ID: rec.GrantedBy, Decision: Trusted, Detail: "covered by trust record"}
		g.record(ctx, call, res, 0)
		return res, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Resolution{}, fmt.Errorf("approval id: %w", err)
	}

	now := g.clock.Now()
	s := &slot{
		req: Request{
			ID:        id.String(),
			Call:      call,
			SessionID: call.SessionID,
			Requester: call.Requester,
			Tool:      call.Name,
			Preview:   g.previewArgs(call),
			CreatedAt: now,
			ExpiresAt: now.Add(g.timeout),
		},
		done:     make(chan struct{}),
		decision: Pending,
	}

	g.mu.Lock()
	g.pending[s.req.ID] = s
	g.mu.Unlock()

	observability.Emit(ctx, g.observer, EventPending, observability.LevelInfo, "approval.Gate",
		map[string]any{"id": s.req.ID, "tool": call.Name, "requester": call.Requester, "session": call.SessionID})

	timer := g.clock.After(g.timeout)

	if g.notifier != nil {
		if err := g.notifier.Notify(ctx, s.req); err != nil {
			g.resolve(s, Expired, fmt.Sprintf("%v: %v", ErrNotifyFailed, err))
		}
	}

	select {
	case <-s.done:
	case <-timer:
		g.resolve(s, Expired, fmt.Sprintf("no decision within %s", g.timeout))
	case <-ctx.Done():
		g.resolve(s, Expired, fmt.Sprintf("request cancelled: %v", ctx.Err()))
	}
	<-s.done

	res := Resolution{ID: s.req.ID, Decision: s.decision, Detail: s.detail, Suspended: true}

	if res.Decision == Trusted {
		rec := trust.Record{
			Requester: call.Requester,
			Tool:      call.Name,
			GrantedAt: g.clock.Now().UTC(),
			GrantedBy: res.ID,
		}
		if g.bindArgs {
			rec.Shape = trust.Shape(call.Args)
		}
		if err := g.trust.Grant(context.WithoutCancel(ctx), rec); err != nil {
			observability.Emit(ctx, g.observer, EventTrustFailed, observability.LevelError, "approval.Gate",
				map[string]any{"id": res.ID, "tool": call.Name, "error": err.Error()})
			res.Decision = Approved
			res.Detail = "trust record not written: " + err.Error()
		} else {
			g.appendAudit(ctx, audit.Event{
				Kind:          audit.KindTrust,
				SessionID:     call.SessionID,
				Requester:     call.Requester,
				Tool:          call.Name,
				CorrelationID: res.ID,
				Outcome:       "granted",
			})
		}
	}

	g.record(ctx, call, res, g.clock.Now().Sub(now))
	return res, nil
}

// Decide applies an external decision to the pending request id. Decisions
// for unknown or already-resolved requests are logged and have no effect.
func (g *Gate) Decide(ctx context.Context, id string, decision Decision) error {
	switch decision {
	case Approved, Denied, Trusted:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}

	g.mu.Lock()
	s, exists := g.pending[id]
	prior, wasResolved := g.resolved[id]
	g.mu.Unlock()

	if !exists {
		err := fmt.Errorf("%w: %s", ErrUnknownRequest, id)
		if wasResolved {
			err = fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, id, prior)
		}
		observability.Emit(ctx, g.observer, EventLateDecision, observability.LevelWarning, "approval.Gate",
			map[string]any{"id": id, "decision": string(decision), "error": err.Error()})
		return err
	}

	if !g.resolve(s, decision, "decided") {
		err := fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
		observability.Emit(ctx, g.observer, EventLateDecision, observability.LevelWarning, "approval.Gate",
			map[string]any{"id": id, "decision": string(decision), "error": err.Error()})
		return err
	}
	return nil
}

// ExpireSession force-expires every pending request of a session and returns
// how many were expired.
func (g *Gate) ExpireSession(sessionID string) int {
	g.mu.Lock()
	var slots []*slot
	for _, s := range g.pending {
		if s.req.SessionID == sessionID {
			slots = append(slots, s)
		}
	}
	g.mu.Unlock()

	n := 0
	for _, s := range slots {
		if g.resolve(s, Expired, "session aborted") {
			n++
		}
	}
	return n
}

// Pending returns the unresolved requests, oldest first.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	reqs := make([]Request, 0, len(g.pending))
	for _, s := range g.pending {
		reqs = append(reqs, s.req)
	}
	g.mu.Unlock()

	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	return reqs
}

// resolve assigns the slot once. It reports false when the slot was already
// terminal.
func (g *Gate) resolve(s *slot, decision Decision, detail string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s.decision != Pending {
		return false
	}
	s.decision = decision
	s.detail = detail
	close(s.done)

	delete(g.pending, s.req.ID)
	g.resolved[s.req.ID] = decision
	g.order = append(g.order, s.req.ID)
	if len(g.order) > resolvedHistory {
		delete(g.resolved, g.order[0])
		g.order = g.order[1:]
	}
	return true
}

func (g *Gate) previewArgs(call tools.Call) string {
	text := string(call.Args)
	if g.redactor != nil {
		text = g.redactor.Redact(text)
	}
	text, _ = protocol.Clip(text, g.preview)
	return text
}

func (g *Gate) record(ctx context.Context, call tools.Call, res Resolution, elapsed time.Duration) {
	observability.Emit(ctx, g.observer, EventResolved, observability.LevelInfo, "approval.Gate",
		map[string]any{
			"id":        res.ID,
			"tool":      call.Name,
			"requester": call.Requester,
			"decision":  string(res.Decision),
			"suspended": res.Suspended,
			"elapsed":   elapsed.String(),
		})

	g.appendAudit(ctx, audit.Event{
		Kind:          audit.KindApproval,
		SessionID:     call.SessionID,
		Requester:     call.Requester,
		Tool:          call.Name,
		CorrelationID: res.ID,
		Outcome:       string(res.Decision),
		Detail:        res.Detail,
		Elapsed:       elapsed,
	})
}

func (g *Gate) appendAudit(ctx context.Context, e audit.Event) {
	if g.sink == nil {
		return
	}
	if err := g.sink.Append(context.WithoutCancel(ctx), e); err != nil {
		observability.Emit(ctx, g.observer, EventAuditFailed, observability.LevelError, "approval.Gate",
			map[string]any{"kind": string(e.Kind), "error": err.Error()})
	}
}
