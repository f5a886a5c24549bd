package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tailored-agentic-units/warden/core/protocol"
	"github.com/tailored-agentic-units/warden/observability"
)

const teardownTimeout = 10 * time.Second

// Executor runs tool code in ephemeral execution units. Each Execute call
// creates exactly one unit and destroys it before returning, whatever the
// outcome. Concurrent calls beyond the configured concurrency queue.
type Executor struct {
	cfg      Config
	runtime  Runtime
	secrets  map[string]string
	egress   *EgressProxy
	slots    *semaphore.Weighted
	observer observability.Observer
	redactor observability.Redactor
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRedactor scrubs unit output before it is clipped to the output limit,
// so a cut never lands inside a secret.
func WithRedactor(r observability.Redactor) ExecutorOption {
	return func(e *Executor) { e.redactor = r }
}

// NewExecutor creates an executor over runtime. egress may be nil, in which
// case any tool declaring an egress allowlist fails to dispatch.
func NewExecutor(cfg Config, runtime Runtime, secrets map[string]string, egress *EgressProxy, observer observability.Observer, opts ...ExecutorOption) *Executor {
	defaults := DefaultConfig()
	defaults.Merge(&cfg)

	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	e := &Executor{
		cfg:      defaults,
		runtime:  runtime,
		secrets:  secrets,
		egress:   egress,
		slots:    semaphore.NewWeighted(int64(defaults.Concurrency)),
		observer: observer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve merges a tool's sandbox declaration over the executor defaults.
func (e *Executor) Resolve(spec Spec) (Policy, error) {
	return e.cfg.Resolve(spec)
}

// Execute runs one tool call in a fresh unit under policy.
func (e *Executor) Execute(ctx context.Context, tool string, args json.RawMessage, policy Policy) protocol.ExecutionResult {
	start := time.Now()
	result := e.execute(ctx, tool, args, policy)
	result.Elapsed = time.Since(start)
	return result
}

func (e *Executor) execute(ctx context.Context, tool string, args json.RawMessage, policy Policy) protocol.ExecutionResult {
	if !e.slots.TryAcquire(1) {
		observability.Emit(ctx, e.observer, EventQueued, observability.LevelVerbose, "sandbox.Executor",
			map[string]any{"tool": tool})
		if err := e.slots.Acquire(ctx, 1); err != nil {
			return protocol.Failure(protocol.KindDispatchFailed, "cancelled while queued: "+err.Error())
		}
	}
	defer e.slots.Release(1)

	creds := make(map[string]string, len(policy.Credentials))
	for _, name := range policy.Credentials {
		value, ok := e.secrets[name]
		if !ok || value == "" {
			return protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("%v: %s", ErrCredentialMissing, name))
		}
		creds[name] = value
	}

	input, err := EncodeInput(Input{Tool: tool, Args: args, Credentials: creds})
	if err != nil {
		return protocol.Failure(protocol.KindDispatchFailed, err.Error())
	}

	unit := UnitSpec{
		Name:      "warden-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Tool:      tool,
		Image:     policy.Image,
		Env:       []string{InputEnv + "=" + input},
		User:      e.cfg.User,
		Network:   NetworkNone,
		TmpfsSize: e.cfg.TmpfsSize,
		Policy:    policy,
	}

	if len(policy.Egress) > 0 {
		if e.egress == nil || e.cfg.EgressAdvertise == "" {
			return protocol.Failure(protocol.KindDispatchFailed, ErrEgressUnavailable.Error())
		}
		token, revoke := e.egress.Grant(policy.Egress)
		defer revoke()

		proxy := (&url.URL{Scheme: "http", User: url.UserPassword(token, "x"), Host: e.cfg.EgressAdvertise}).String()
		unit.Env = append(unit.Env,
			"HTTPS_PROXY="+proxy, "HTTP_PROXY="+proxy,
			"https_proxy="+proxy, "http_proxy="+proxy,
		)
		unit.Network = e.cfg.EgressNetwork
	}

	return e.run(ctx, unit, policy)
}

func (e *Executor) run(ctx context.Context, unit UnitSpec, policy Policy) protocol.ExecutionResult {
	runCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	id, err := e.runtime.Create(runCtx, unit)
	if err != nil {
		return e.failure(ctx, runCtx, unit, policy, "create", err)
	}
	defer e.teardown(ctx, unit, id)

	observability.Emit(ctx, e.observer, EventUnitStart, observability.LevelVerbose, "sandbox.Executor",
		map[string]any{"tool": unit.Tool, "unit": unit.Name, "image": unit.Image, "network": unit.Network})

	if err := e.runtime.Start(runCtx, id); err != nil {
		return e.failure(ctx, runCtx, unit, policy, "start", err)
	}

	code, err := e.runtime.Wait(runCtx, id)
	if err != nil {
		return e.failure(ctx, runCtx, unit, policy, "wait", err)
	}

	readLimit := int64(policy.OutputLimit)*8 + 1024
	stdout, stderr, truncated, err := e.runtime.Output(context.WithoutCancel(runCtx), id, readLimit)
	if err != nil {
		return protocol.Failure(protocol.KindCrashed, fmt.Sprintf("%v: read output: %v", ErrSandboxCrashed, err))
	}

	if code != 0 {
		detail, _ := e.clip(strings.TrimSpace(string(stderr)), policy.OutputLimit)
		return protocol.Failure(protocol.KindCrashed, fmt.Sprintf("%v: exit code %d: %s", ErrSandboxCrashed, code, detail))
	}

	out, err := DecodeOutput(stdout)
	if err != nil {
		if truncated {
			text, _ := e.clip(string(stdout), policy.OutputLimit)
			result := protocol.OK(text)
			result.Truncated = true
			return result
		}
		return protocol.Failure(protocol.KindCrashed, fmt.Sprintf("%v: %v", ErrSandboxCrashed, err))
	}

	var result protocol.ExecutionResult
	if out.Status == protocol.StatusError {
		result = protocol.Failure(protocol.KindDispatchFailed, e.redact(out.Error))
	} else {
		result = protocol.OK("")
	}

	payload, clipped := e.clip(out.PayloadText(), policy.OutputLimit)
	result.Payload = payload
	result.Truncated = clipped || truncated
	return result
}

func (e *Executor) redact(text string) string {
	if e.redactor == nil {
		return text
	}
	return e.redactor.Redact(text)
}

// clip redacts before clipping so a cut never splits a secret.
func (e *Executor) clip(text string, limit int) (string, bool) {
	return protocol.Clip(e.redact(text), limit)
}

func (e *Executor) failure(parent, runCtx context.Context, unit UnitSpec, policy Policy, stage string, err error) protocol.ExecutionResult {
	switch {
	case parent.Err() != nil:
		return protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("cancelled during %s: %v", stage, parent.Err()))
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		observability.Emit(parent, e.observer, EventUnitTimeout, observability.LevelWarning, "sandbox.Executor",
			map[string]any{"tool": unit.Tool, "unit": unit.Name, "timeout": policy.Timeout.String()})
		return protocol.Failure(protocol.KindTimeout, fmt.Sprintf("%v after %s", ErrSandboxTimeout, policy.Timeout))
	case stage == "wait":
		return protocol.Failure(protocol.KindCrashed, fmt.Sprintf("%v: %v", ErrSandboxCrashed, err))
	default:
		return protocol.Failure(protocol.KindDispatchFailed, fmt.Sprintf("%s unit: %v", stage, err))
	}
}

func (e *Executor) teardown(ctx context.Context, unit UnitSpec, id string) {
	removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	err := e.runtime.Remove(removeCtx, id)
	data := map[string]any{"tool": unit.Tool, "unit": unit.Name}
	level := observability.LevelVerbose
	if err != nil {
		data["error"] = err.Error()
		level = observability.LevelError
	}
	observability.Emit(ctx, e.observer, EventUnitTeardown, level, "sandbox.Executor", data)
}
