// Package kernel implements the orchestration loop that mediates between the
// model and every tool call it requests: bounded rounds of inference, gated
// and sandboxed dispatch, and boundary sanitization of everything that
// crosses in or out.
//
// The kernel initializes from configuration via New, creating all subsystems
// internally. Functional options allow test overrides of any subsystem.
//
//	k, err := kernel.New(&cfg)
//	sess, _, err := k.Sessions().Open("", "alice")
//	result, err := k.Run(ctx, sess, "What did I ask you to remember?")
package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tailored-agentic-units/warden/approval"
	"github.com/tailored-agentic-units/warden/audit"
	"github.com/tailored-agentic-units/warden/boundary"
	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/memory"
	"github.com/tailored-agentic-units/warden/model"
	"github.com/tailored-agentic-units/warden/observability"
	"github.com/tailored-agentic-units/warden/sandbox"
	"github.com/tailored-agentic-units/warden/session"
	"github.com/tailored-agentic-units/warden/tools"
	"github.com/tailored-agentic-units/warden/trust"
)

// Result holds the outcome of a kernel Run invocation.
type Result struct {
	SessionID   string
	Response    string           // Final (or capped partial) text returned to the requester.
	Rounds      int              // Number of tool rounds completed.
	Capped      bool             // Whether a round or output ceiling ended the run.
	Suspensions int              // Number of approval requests the run waited on.
	ToolCalls   []ToolCallRecord // Log of all tool invocations.
}

type ToolCallRecord struct {
	protocol.ToolCall
	Round    int                      // Round in which the call occurred.
	Result   protocol.ExecutionResult // Outcome of dispatch or refusal.
	Content  string                   // Sanitized, clipped text fed back to the model.
	Approval approval.Decision        // Empty for calls that were not gated.
}

// Sandbox resolves and runs isolated tools. *sandbox.Executor is the
// production implementation.
type Sandbox interface {
	Resolve(spec sandbox.Spec) (sandbox.Policy, error)
	Execute(ctx context.Context, tool string, args json.RawMessage, policy sandbox.Policy) protocol.ExecutionResult
}

// Option configures a Kernel before config-driven initialization fills in
// whatever the options left unset.
type Option func(*Kernel)

// WithModel overrides the config-created model client.
func WithModel(c model.Client) Option {
	return func(k *Kernel) { k.model = c }
}

// WithRegistry overrides the config-created tool registry.
func WithRegistry(r *tools.Registry) Option {
	return func(k *Kernel) { k.registry = r }
}

// WithMemoryStore overrides the config-created memory store.
func WithMemoryStore(s memory.Store) Option {
	return func(k *Kernel) { k.store = s }
}

// WithTrustStore overrides the trust store built over the memory store.
func WithTrustStore(s trust.Store) Option {
	return func(k *Kernel) { k.trust = s }
}

// WithAuditSink overrides the config-created audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(k *Kernel) { k.sink = s }
}

// WithSandbox overrides the docker-backed executor.
func WithSandbox(s Sandbox) Option {
	return func(k *Kernel) { k.sandbox = s }
}

// WithSecrets overrides the secret set resolved from configuration.
func WithSecrets(secrets map[string]string) Option {
	return func(k *Kernel) { k.secrets = secrets }
}

// WithGateOptions passes options (notifier, clock) to the approval gate.
func WithGateOptions(opts ...approval.Option) Option {
	return func(k *Kernel) { k.gateOpts = append(k.gateOpts, opts...) }
}

// WithObserver overrides the configured observer. The kernel always wraps
// it with the boundary redactor.
func WithObserver(o observability.Observer) Option {
	return func(k *Kernel) { k.observer = o }
}

// Kernel is the mediation runtime. Independent sessions run concurrently;
// each session has at most one active Run.
type Kernel struct {
	model    model.Client
	registry *tools.Registry
	store    memory.Store
	trust    trust.Store
	sink     audit.Sink
	gate     *approval.Gate
	gateOpts []approval.Option
	sandbox  Sandbox
	egress   *sandbox.EgressProxy
	boundary *boundary.Pipeline
	sessions *session.Registry
	observer observability.Observer
	secrets  map[string]string
	closers  []io.Closer

	defaultModel string
	maxRounds    int
	resultLimit  int
	outputBudget int
	systemPrompt string

	active map[string]context.CancelCauseFunc
	mu     sync.Mutex
}

// New creates a Kernel from configuration. Options are applied first;
// subsystems they did not provide are initialized from their config
// sections. The docker runtime is only created when an isolated tool is
// registered.
func New(cfg *Config, opts ...Option) (*Kernel, error) {
	merged := DefaultConfig()
	merged.Merge(cfg)

	k := &Kernel{
		defaultModel: merged.Model.Model,
		maxRounds:    merged.MaxRounds,
		resultLimit:  merged.ResultLimit,
		outputBudget: merged.OutputBudget,
		systemPrompt: merged.SystemPrompt,
		active:       make(map[string]context.CancelCauseFunc),
	}

	for _, opt := range opts {
		opt(k)
	}

	if err := k.init(&merged); err != nil {
		k.Close()
		return nil, err
	}
	return k, nil
}

func (k *Kernel) init(cfg *Config) error {
	ctx := context.Background()

	if k.secrets == nil {
		k.secrets = cfg.ResolveSecrets(os.Getenv)
	}

	if k.observer == nil {
		observer, err := observability.GetObserver(cfg.Observer)
		if err != nil {
			return fmt.Errorf("failed to create observer: %w", err)
		}
		k.observer = observer
	}

	k.boundary = boundary.New(ctx, &cfg.Boundary, k.secrets, k.observer)
	k.observer = observability.NewRedactingObserver(k.observer, k.boundary.Redactor())

	if k.store == nil {
		k.store = memory.NewStore(&cfg.Memory)
	}
	if k.trust == nil {
		k.trust = trust.NewStore(k.store)
	}

	if k.sink == nil {
		sink, err := audit.NewSink(ctx, &cfg.Audit)
		if err != nil {
			return fmt.Errorf("failed to create audit sink: %w", err)
		}
		k.sink = sink
	}

	if k.registry == nil {
		reg, err := newRegistry(k.store, cfg.Tools)
		if err != nil {
			return fmt.Errorf("failed to create tool registry: %w", err)
		}
		k.registry = reg
	}

	gateOpts := append([]approval.Option{
		approval.WithObserver(k.observer),
		approval.WithRedactor(k.boundary.Redactor()),
	}, k.gateOpts...)
	gate, err := approval.New(cfg.Approval, k.trust, k.sink, gateOpts...)
	if err != nil {
		return fmt.Errorf("failed to create approval gate: %w", err)
	}
	k.gate = gate

	if k.model == nil {
		client, err := model.NewHTTPClient(cfg.Model, os.Getenv(cfg.Model.APIKeyEnv))
		if err != nil {
			return fmt.Errorf("failed to create model client: %w", err)
		}
		k.model, err = model.WithRetry(client, cfg.Model, k.observer)
		if err != nil {
			return fmt.Errorf("failed to create model client: %w", err)
		}
	}

	isolated := k.isolatedTools()
	if k.sandbox == nil && len(isolated) > 0 {
		if cfg.Sandbox.EgressListen != "" {
			k.egress = sandbox.NewEgressProxy(k.observer)
		}
		runtime, err := sandbox.NewDockerRuntime()
		if err != nil {
			return fmt.Errorf("failed to create sandbox runtime: %w", err)
		}
		k.closers = append(k.closers, runtime)
		k.sandbox = sandbox.NewExecutor(cfg.Sandbox, runtime, k.secrets, k.egress, k.observer,
			sandbox.WithRedactor(k.boundary.Redactor()))
	}

	for _, def := range isolated {
		if _, err := k.sandbox.Resolve(*def.Sandbox); err != nil {
			return fmt.Errorf("tool %s: %w", def.Name, err)
		}
	}

	if k.sessions == nil {
		k.sessions = session.NewRegistry(cfg.Session)
	}
	return nil
}

func newRegistry(store memory.Store, cfg tools.Config) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	if err := reg.RegisterAll(tools.Builtins(store, cfg)); err != nil {
		return nil, err
	}
	if cfg.Manifest != "" {
		defs, err := tools.LoadManifest(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		if err := reg.RegisterAll(defs); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (k *Kernel) isolatedTools() []tools.Definition {
	var defs []tools.Definition
	for _, t := range k.registry.List() {
		if def, ok := k.registry.Lookup(t.Name); ok && def.Isolated() {
			defs = append(defs, def)
		}
	}
	return defs
}

// Registry returns the kernel's tool registry.
func (k *Kernel) Registry() *tools.Registry {
	return k.registry
}

// Gate returns the approval gate, the inbound side of the decision surface.
func (k *Kernel) Gate() *approval.Gate {
	return k.gate
}

// Trust returns the trust store for management operations.
func (k *Kernel) Trust() trust.Store {
	return k.trust
}

// Sessions returns the live session registry.
func (k *Kernel) Sessions() *session.Registry {
	return k.sessions
}

// Egress returns the egress proxy, or nil when none is configured.
func (k *Kernel) Egress() *sandbox.EgressProxy {
	return k.egress
}

// Close releases the audit sink and the sandbox runtime.
func (k *Kernel) Close() error {
	var errs []error
	if k.sink != nil {
		errs = append(errs, k.sink.Close())
	}
	for _, c := range k.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Abort cancels the active Run of sessionID, force-expires its pending
// approvals, and tears down its running execution unit. Returns false when
// the session had nothing to abort.
func (k *Kernel) Abort(ctx context.Context, sessionID string) bool {
	k.mu.Lock()
	cancel, running := k.active[sessionID]
	k.mu.Unlock()

	if running {
		cancel(ErrAborted)
	}
	expired := k.gate.ExpireSession(sessionID)

	if !running && expired == 0 {
		return false
	}

	k.appendAudit(ctx, audit.Event{
		Kind:      audit.KindAbort,
		SessionID: sessionID,
		Outcome:   "aborted",
		Detail:    fmt.Sprintf("%d pending approvals expired", expired),
	})
	observability.Emit(ctx, k.observer, EventAbort, observability.LevelWarning, "kernel.Abort",
		map[string]any{"session": sessionID, "running": running, "expired": expired})
	return true
}

func (k *Kernel) begin(sessionID string, cancel context.CancelCauseFunc) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.active[sessionID]; busy {
		return false
	}
	k.active[sessionID] = cancel
	return true
}

func (k *Kernel) end(sessionID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.active, sessionID)
}

func (k *Kernel) appendAudit(ctx context.Context, e audit.Event) {
	if err := k.sink.Append(context.WithoutCancel(ctx), e); err != nil {
		observability.Emit(ctx, k.observer, EventError, observability.LevelError, "kernel.audit",
			map[string]any{"kind": string(e.Kind), "error": err.Error()})
	}
}

func (k *Kernel) buildMessages(systemContent string, sess session.Session) []protocol.Message {
	sessionMsgs := sess.Messages()

	if systemContent == "" {
		return sessionMsgs
	}

	messages := make([]protocol.Message, 0, len(sessionMsgs)+1)
	messages = append(messages, protocol.NewMessage(protocol.RoleSystem, systemContent))
	messages = append(messages, sessionMsgs...)
	return messages
}

// buildSystemContent appends the requester's stored notes to the system
// prompt. Notes are user-supplied, so they go through the inbound pass.
func (k *Kernel) buildSystemContent(ctx context.Context, requester string) (string, error) {
	content := k.systemPrompt

	keys, err := k.store.List(ctx, tools.NotesPrefix(requester))
	if err != nil {
		return content, fmt.Errorf("failed to list notes: %w", err)
	}
	if len(keys) == 0 {
		return content, nil
	}

	entries, err := k.store.Load(ctx, keys...)
	if err != nil {
		return content, fmt.Errorf("failed to load notes: %w", err)
	}

	var notes strings.Builder
	notes.WriteString("Notes the user asked you to remember:")
	for _, entry := range entries {
		notes.WriteString("\n- ")
		notes.WriteString(string(entry.Value))
	}
	text := k.boundary.Sanitize(ctx, notes.String(), boundary.PassInbound)

	if content == "" {
		return text, nil
	}
	return content + "\n\n" + text, nil
}
